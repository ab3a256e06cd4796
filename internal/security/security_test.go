package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/quarryql/quarry/internal/compiled"
	"github.com/quarryql/quarry/internal/qerr"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func TestFromAuthorizationAnonymous(t *testing.T) {
	v := NewVerifier(testSecret)
	p, err := v.FromAuthorization("")
	require.NoError(t, err)
	require.True(t, p.Anonymous)
}

func TestFromAuthorizationValidToken(t *testing.T) {
	v := NewVerifier(testSecret)
	token := signToken(t, jwt.MapClaims{
		"sub":    "user-17",
		"roles":  []any{"admin", "viewer"},
		"tenant": "acme",
		"exp":    time.Now().Add(time.Hour).Unix(),
	})
	p, err := v.FromAuthorization("Bearer " + token)
	require.NoError(t, err)
	require.False(t, p.Anonymous)
	require.Equal(t, "user-17", p.Subject)
	require.Equal(t, []string{"admin", "viewer"}, p.Roles)
	require.Equal(t, "acme", p.TenantID)
}

func TestFromAuthorizationRejectsBadSignature(t *testing.T) {
	other := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"})
	s, err := other.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	v := NewVerifier(testSecret)
	_, err = v.FromAuthorization("Bearer " + s)
	require.Equal(t, qerr.KindAuthentication, qerr.KindOf(err))
}

func TestFromAuthorizationRejectsExpired(t *testing.T) {
	v := NewVerifier(testSecret)
	token := signToken(t, jwt.MapClaims{
		"sub": "user-17",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	_, err := v.FromAuthorization("Bearer " + token)
	require.Equal(t, qerr.KindAuthentication, qerr.KindOf(err))
}

func TestFromAuthorizationMalformedHeader(t *testing.T) {
	v := NewVerifier(testSecret)
	for _, header := range []string{"Bearer", "Basic dXNlcjpwYXNz", "Bearer "} {
		_, err := v.FromAuthorization(header)
		require.Equal(t, qerr.KindAuthentication, qerr.KindOf(err), "header %q", header)
	}
}

func TestFromAuthorizationDisabledVerifier(t *testing.T) {
	v := NewVerifier("")
	p, err := v.FromAuthorization("")
	require.NoError(t, err)
	require.True(t, p.Anonymous)

	_, err = v.FromAuthorization("Bearer whatever")
	require.Equal(t, qerr.KindAuthentication, qerr.KindOf(err))
}

func TestAuthorizeStages(t *testing.T) {
	sec := &compiled.Security{RequiresAuth: true, RequiredRoles: []string{"admin"}}

	// Stage one: anonymous fails authentication, not authorization.
	err := Authorize(Anonymous(), sec)
	require.Equal(t, qerr.KindAuthentication, qerr.KindOf(err))

	// Stage two: authenticated without the role fails authorization.
	err = Authorize(&Principal{Subject: "u", Roles: []string{"viewer"}}, sec)
	require.Equal(t, qerr.KindAuthorization, qerr.KindOf(err))

	require.NoError(t, Authorize(&Principal{Subject: "u", Roles: []string{"admin"}}, sec))
	require.NoError(t, Authorize(Anonymous(), &compiled.Security{}))
}

func TestFieldAllowed(t *testing.T) {
	require.True(t, FieldAllowed(Anonymous(), nil))
	require.False(t, FieldAllowed(Anonymous(), []string{"hr"}))
	require.False(t, FieldAllowed(&Principal{Subject: "u", Roles: []string{"viewer"}}, []string{"hr"}))
	require.True(t, FieldAllowed(&Principal{Subject: "u", Roles: []string{"hr"}}, []string{"hr", "admin"}))
}

func TestBindRowFilter(t *testing.T) {
	p := &Principal{Subject: "user-17", TenantID: "acme"}

	v, err := BindRowFilter(p, &compiled.RowFilter{Column: "tenant_id", Bind: "tenant"})
	require.NoError(t, err)
	require.Equal(t, "acme", v)

	v, err = BindRowFilter(p, &compiled.RowFilter{Column: "owner_id", Bind: "subject"})
	require.NoError(t, err)
	require.Equal(t, "user-17", v)

	_, err = BindRowFilter(&Principal{Subject: "u"}, &compiled.RowFilter{Column: "tenant_id", Bind: "tenant"})
	require.Equal(t, qerr.KindAuthorization, qerr.KindOf(err))

	v, err = BindRowFilter(p, nil)
	require.NoError(t, err)
	require.Nil(t, v)
}
