// Package audit emits a structured log line per security-relevant event:
// every executed operation, every denied request, every mutation outcome,
// and every webhook delivery. It subscribes to the event bus so enforcement
// code never needs a logger in hand.
package audit

import (
	"context"
	"log/slog"

	"github.com/quarryql/quarry/internal/eventbus"
	"github.com/quarryql/quarry/internal/events"
	"github.com/quarryql/quarry/internal/qerr"
	"github.com/quarryql/quarry/internal/reqid"
	"github.com/quarryql/quarry/internal/security"
)

// Attach registers the audit subscribers on bus, logging through logger.
// The returned function detaches them.
func Attach(bus *eventbus.Bus, logger *slog.Logger) func() {
	if logger == nil {
		logger = slog.Default()
	}
	a := &auditor{log: logger}

	cancels := []func(){
		eventbus.Subscribe(bus, a.graphqlFinish),
		eventbus.Subscribe(bus, a.mutationCommitted),
		eventbus.Subscribe(bus, a.mutationFailed),
		eventbus.Subscribe(bus, a.observerFinish),
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}

type auditor struct {
	log *slog.Logger
}

// errorKind classifies err whether it arrives as a wrapped taxonomy error or
// as a finished GraphQL error entry carrying its code in extensions.
func errorKind(err error) qerr.Kind {
	if k, ok := err.(interface{ Kind() qerr.Kind }); ok {
		return k.Kind()
	}
	return qerr.KindOf(err)
}

// common returns the per-request attributes present on every audit line.
func (a *auditor) common(ctx context.Context) []any {
	p := security.FromContext(ctx)
	attrs := []any{
		slog.Bool("anonymous", p.Anonymous),
	}
	if p.Subject != "" {
		attrs = append(attrs, slog.String("subject", p.Subject))
	}
	if p.TenantID != "" {
		attrs = append(attrs, slog.String("tenant", p.TenantID))
	}
	if rid, ok := reqid.FromContext(ctx); ok {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	return attrs
}

func (a *auditor) graphqlFinish(ctx context.Context, e events.GraphQLFinish) {
	attrs := append(a.common(ctx),
		slog.String("operation", e.OperationName),
		slog.String("type", e.OperationType),
		slog.Bool("cached", e.Cached),
		slog.Duration("duration", e.Duration),
	)

	denied := false
	for _, err := range e.Errors {
		switch errorKind(err) {
		case qerr.KindAuthentication, qerr.KindAuthorization:
			denied = true
		}
	}
	switch {
	case denied:
		a.log.WarnContext(ctx, "request denied", append(attrs, slog.Int("errors", len(e.Errors)))...)
	case len(e.Errors) > 0:
		a.log.InfoContext(ctx, "request completed with errors", append(attrs, slog.Int("errors", len(e.Errors)))...)
	default:
		a.log.InfoContext(ctx, "request completed", attrs...)
	}
}

func (a *auditor) mutationCommitted(ctx context.Context, e events.MutationCommitted) {
	a.log.InfoContext(ctx, "mutation committed", append(a.common(ctx),
		slog.String("operation", e.Operation),
		slog.String("kind", e.Kind),
	)...)
}

func (a *auditor) mutationFailed(ctx context.Context, e events.MutationFailed) {
	a.log.WarnContext(ctx, "mutation rolled back", append(a.common(ctx),
		slog.String("operation", e.Operation),
		slog.String("kind", e.Kind),
		slog.String("error", e.Err.Error()),
	)...)
}

func (a *auditor) observerFinish(ctx context.Context, e events.ObserverDeliveryFinish) {
	attrs := []any{
		slog.String("observer", e.Observer),
		slog.String("operation", e.Operation),
		slog.Int("attempt", e.Attempt),
		slog.Int("status", e.Status),
	}
	if e.Err == nil {
		a.log.InfoContext(ctx, "webhook delivered", attrs...)
		return
	}
	attrs = append(attrs, slog.String("error", e.Err.Error()), slog.Bool("exhausted", e.Exhausted))
	a.log.WarnContext(ctx, "webhook delivery failed", attrs...)
}
