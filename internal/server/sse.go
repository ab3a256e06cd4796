package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/quarryql/quarry/internal/compiled"
	"github.com/quarryql/quarry/internal/eventbus"
	"github.com/quarryql/quarry/internal/events"
	"github.com/quarryql/quarry/internal/qerr"
	"github.com/quarryql/quarry/internal/security"
)

// StreamHandler serves subscriptions as server-sent events. Each committed
// mutation fans out to the subscriptions declared on it; a connected client
// receives one SSE message per matching commit.
type StreamHandler struct {
	cs       *compiled.Schema
	verifier *security.Verifier
	bus      *eventbus.Bus
}

func NewStreamHandler(cs *compiled.Schema, verifier *security.Verifier, bus *eventbus.Bus) *StreamHandler {
	return &StreamHandler{cs: cs, verifier: verifier, bus: bus}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, kindResponse(qerr.KindValidation, "method not allowed"), false)
		return
	}

	name := r.URL.Query().Get("subscription")
	sub := h.subscription(name)
	if sub == nil {
		writeJSON(w, http.StatusNotFound, kindResponse(qerr.KindNotFound, fmt.Sprintf("unknown subscription %q", name)), false)
		return
	}

	principal, err := h.verifier.FromAuthorization(r.Header.Get("Authorization"))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse(err), false)
		return
	}
	if err := security.Authorize(principal, &sub.Security); err != nil {
		status := http.StatusForbidden
		if qerr.IsKind(err, qerr.KindAuthentication) {
			status = http.StatusUnauthorized
		}
		writeJSON(w, status, errorResponse(err), false)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, kindResponse(qerr.KindInternal, "streaming unsupported"), false)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	watched := make(map[string]bool, len(sub.OnOperations))
	for _, op := range sub.OnOperations {
		watched[op] = true
	}

	// Handler subscriptions run on the publisher's goroutine; the channel
	// decouples delivery from the committing request.
	ch := make(chan events.MutationCommitted, 16)
	unsubscribe := eventbus.Subscribe(h.bus, func(_ context.Context, e events.MutationCommitted) {
		if !watched[e.Operation] {
			return
		}
		select {
		case ch <- e:
		default:
		}
	})
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-ch:
			data, err := json.Marshal(map[string]any{
				"operation": e.Operation,
				"kind":      e.Kind,
				"data":      e.Payload,
			})
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", sub.Name, data)
			flusher.Flush()
		}
	}
}

func (h *StreamHandler) subscription(name string) *compiled.Subscription {
	for _, sub := range h.cs.Subscriptions {
		if sub.Name == name {
			return sub
		}
	}
	return nil
}
