package security

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quarryql/quarry/internal/qerr"
)

// Verifier validates HS256 bearer tokens against a shared secret and maps
// their claims onto a Principal. With no secret configured every request is
// treated as anonymous and bearer tokens are rejected.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a Verifier. An empty secret disables authentication.
func NewVerifier(secret string) *Verifier {
	if secret == "" {
		return &Verifier{}
	}
	return &Verifier{secret: []byte(secret)}
}

// Enabled reports whether a signing secret is configured.
func (v *Verifier) Enabled() bool { return len(v.secret) > 0 }

// FromAuthorization resolves the principal for an Authorization header
// value. An empty header yields the anonymous principal; a malformed or
// invalid token is an authentication error, never silently anonymous.
func (v *Verifier) FromAuthorization(header string) (*Principal, error) {
	if header == "" {
		return Anonymous(), nil
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return nil, qerr.New(qerr.KindAuthentication, "malformed Authorization header")
	}
	if !v.Enabled() {
		return nil, qerr.New(qerr.KindAuthentication, "bearer tokens are not accepted: no signing secret configured")
	}
	return v.verify(strings.TrimSpace(token))
}

func (v *Verifier) verify(token string) (*Principal, error) {
	tok, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, qerr.Wrap(qerr.KindAuthentication, err, "token verification failed")
	}

	raw, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, qerr.New(qerr.KindAuthentication, "unsupported claim type %T", tok.Claims)
	}

	p := &Principal{}
	if sub, ok := raw["sub"].(string); ok {
		p.Subject = sub
	}
	if p.Subject == "" {
		return nil, qerr.New(qerr.KindAuthentication, "token carries no subject")
	}
	switch roles := raw["roles"].(type) {
	case []any:
		for _, r := range roles {
			if s, ok := r.(string); ok {
				p.Roles = append(p.Roles, s)
			}
		}
	case string:
		// Space-separated fallback, mirroring the OAuth scope convention.
		for _, s := range strings.Fields(roles) {
			p.Roles = append(p.Roles, s)
		}
	}
	if tenant, ok := raw["tenant"].(string); ok {
		p.TenantID = tenant
	} else if tenant, ok := raw["tenant_id"].(string); ok {
		p.TenantID = tenant
	}
	return p, nil
}
