package security

import (
	"strings"

	"github.com/quarryql/quarry/internal/compiled"
	"github.com/quarryql/quarry/internal/qerr"
)

// Authorize applies the auth gate and the role gate, in that order. It is
// fail-fast: an anonymous caller against a protected operation is an
// authentication failure before any role is considered.
func Authorize(p *Principal, sec *compiled.Security) error {
	if sec == nil {
		return nil
	}
	if sec.RequiresAuth && p.Anonymous {
		return qerr.New(qerr.KindAuthentication, "operation requires authentication")
	}
	if !p.HasAnyRole(sec.RequiredRoles) {
		return qerr.New(qerr.KindAuthorization, "operation requires one of roles [%s]",
			strings.Join(sec.RequiredRoles, ", "))
	}
	return nil
}

// FieldAllowed reports whether the principal may read a field guarded by the
// given role scopes. No scopes means the field is open.
func FieldAllowed(p *Principal, scopes []string) bool {
	if len(scopes) == 0 {
		return true
	}
	if p.Anonymous {
		return false
	}
	return p.HasAnyRole(scopes)
}

// BindRowFilter resolves the bound value of a row filter from the principal's
// claims. The predicate column is fixed at compile time; only the value comes
// from the request, so a caller can never widen the filter.
func BindRowFilter(p *Principal, rf *compiled.RowFilter) (any, error) {
	if rf == nil {
		return nil, nil
	}
	switch rf.Bind {
	case "tenant":
		if p.TenantID == "" {
			return nil, qerr.New(qerr.KindAuthorization, "operation is tenant-scoped but the token carries no tenant claim")
		}
		return p.TenantID, nil
	case "subject":
		if p.Subject == "" {
			return nil, qerr.New(qerr.KindAuthorization, "operation is subject-scoped but the caller is anonymous")
		}
		return p.Subject, nil
	default:
		return nil, qerr.New(qerr.KindInternal, "unknown row filter binding %q", rf.Bind)
	}
}
