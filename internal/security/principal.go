// Package security implements request authentication and the staged
// authorization checks applied to every operation: the auth gate, the role
// gate, row filtering, and field masking decisions.
package security

// Principal is the authenticated caller. The zero value is not meaningful;
// use Anonymous() for unauthenticated requests.
type Principal struct {
	Subject   string
	Roles     []string
	TenantID  string
	Anonymous bool
}

// Anonymous returns the principal for a request carrying no credentials.
func Anonymous() *Principal {
	return &Principal{Anonymous: true}
}

// HasRole reports whether the principal carries the named role.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the principal carries at least one of roles.
// An empty roles list means no restriction.
func (p *Principal) HasAnyRole(roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if p.HasRole(r) {
			return true
		}
	}
	return false
}
