// Package eventbus is a small in-process dispatcher keyed by event type.
// Producers publish concrete event structs; subscribers register typed
// handlers against an explicit Bus handle, so tests can run isolated buses.
package eventbus

import (
	"context"
	"reflect"
	"sync"
)

// Bus routes events to the handlers subscribed to their dynamic type.
// A nil *Bus is valid and drops every event.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[reflect.Type]map[int]func(context.Context, any)
}

func New() *Bus {
	return &Bus{subs: make(map[reflect.Type]map[int]func(context.Context, any))}
}

// Subscribe registers h for events of type T and returns its unsubscribe
// function. Handlers run synchronously on the publisher's goroutine; a
// handler that must not block publication should hand off internally.
func Subscribe[T any](b *Bus, h func(context.Context, T)) (unsubscribe func()) {
	if b == nil {
		return func() {}
	}
	t := reflect.TypeOf((*T)(nil)).Elem()

	b.mu.Lock()
	id := b.next
	b.next++
	if b.subs[t] == nil {
		b.subs[t] = make(map[int]func(context.Context, any))
	}
	b.subs[t][id] = func(ctx context.Context, v any) { h(ctx, v.(T)) }
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if hs := b.subs[t]; hs != nil {
			delete(hs, id)
			if len(hs) == 0 {
				delete(b.subs, t)
			}
		}
	}
}

// Publish dispatches e to every handler subscribed to T.
func Publish[T any](ctx context.Context, b *Bus, e T) {
	if b == nil {
		return
	}
	t := reflect.TypeOf((*T)(nil)).Elem()

	b.mu.RLock()
	hs := b.subs[t]
	copied := make([]func(context.Context, any), 0, len(hs))
	for _, h := range hs {
		copied = append(copied, h)
	}
	b.mu.RUnlock()

	for _, h := range copied {
		h(ctx, e)
	}
}
