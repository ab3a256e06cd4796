package security

import "context"

type ctxKey struct{}

// WithPrincipal returns a copy of parent carrying p.
func WithPrincipal(parent context.Context, p *Principal) context.Context {
	return context.WithValue(parent, ctxKey{}, p)
}

// FromContext returns the principal stored in ctx, or the anonymous
// principal when none was attached.
func FromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(ctxKey{}).(*Principal); ok && p != nil {
		return p
	}
	return Anonymous()
}
