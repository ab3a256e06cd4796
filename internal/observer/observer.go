// Package observer delivers post-commit webhooks. Deliveries are queued off
// the request path onto a worker pool and retried with exponential backoff,
// so a slow or dead endpoint never blocks or fails the mutation that
// triggered it.
package observer

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/quarryql/quarry/internal/compiled"
	"github.com/quarryql/quarry/internal/eventbus"
	"github.com/quarryql/quarry/internal/events"
	"github.com/quarryql/quarry/internal/qerr"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body when a
// webhook secret is configured.
const SignatureHeader = "X-Quarry-Signature"

const defaultQueueDepth = 256

// Dispatcher fans mutation outcomes out to the observers declared on each
// operation.
type Dispatcher struct {
	cs     *compiled.Schema
	client *http.Client
	secret []byte
	bus    *eventbus.Bus

	jobs   chan delivery
	wg     sync.WaitGroup
	cancel []func()

	mu     sync.Mutex
	closed bool
}

type delivery struct {
	id        string
	observer  *compiled.Observer
	operation string
	kind      string
	status    string
	payload   map[string]any
	failure   string
}

// Options tunes the dispatcher; zero values pick sane defaults.
type Options struct {
	Workers    int
	QueueDepth int
	Client     *http.Client
}

// New starts the worker pool and subscribes to the mutation events on bus.
func New(cs *compiled.Schema, secret string, bus *eventbus.Bus, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = defaultQueueDepth
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}

	d := &Dispatcher{
		cs:     cs,
		client: opts.Client,
		bus:    bus,
		jobs:   make(chan delivery, opts.QueueDepth),
	}
	if secret != "" {
		d.secret = []byte(secret)
	}

	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	d.cancel = append(d.cancel,
		eventbus.Subscribe(bus, func(_ context.Context, e events.MutationCommitted) {
			d.dispatch(e.Operation, e.Kind, "SUCCESS", e.Payload, "")
		}),
		eventbus.Subscribe(bus, func(_ context.Context, e events.MutationFailed) {
			msg := ""
			if e.Err != nil {
				msg = e.Err.Error()
			}
			d.dispatch(e.Operation, e.Kind, "FAILURE", nil, msg)
		}),
	)
	return d
}

// Close stops accepting new deliveries and waits for in-flight ones.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, c := range d.cancel {
		c()
	}
	close(d.jobs)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(operation, kind, status string, payload map[string]any, failure string) {
	op := d.cs.Operation(operation)
	if op == nil {
		return
	}
	for _, obs := range op.Observers {
		if !triggered(obs.Trigger, status) {
			continue
		}
		d.enqueue(delivery{
			id:        uuid.NewString(),
			observer:  obs,
			operation: operation,
			kind:      kind,
			status:    status,
			payload:   payload,
			failure:   failure,
		})
	}
}

func (d *Dispatcher) enqueue(j delivery) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.jobs <- j:
	default:
		// Queue saturated. Dropping beats stalling commits behind a dead
		// endpoint; the finish event records the loss.
		eventbus.Publish(context.Background(), d.bus, events.ObserverDeliveryFinish{
			Observer:  j.observer.Name,
			Operation: j.operation,
			Err:       qerr.New(qerr.KindObserverDelivery, "delivery queue full, dropping %s", j.id),
			Exhausted: true,
		})
	}
}

func triggered(trigger, status string) bool {
	switch trigger {
	case "ALWAYS":
		return true
	case "FAILURE":
		return status == "FAILURE"
	default:
		return status == "SUCCESS"
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.deliver(context.Background(), j)
	}
}

// deliver posts one webhook, retrying per the observer's compiled policy.
func (d *Dispatcher) deliver(ctx context.Context, j delivery) {
	body, err := json.Marshal(map[string]any{
		"deliveryId": j.id,
		"observer":   j.observer.Name,
		"operation":  j.operation,
		"kind":       j.kind,
		"status":     j.status,
		"occurredAt": time.Now().UTC().Format(time.RFC3339),
		"data":       j.payload,
		"error":      j.failure,
	})
	if err != nil {
		return
	}

	maxAttempts := j.observer.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	policy := backoff.NewExponentialBackOff()
	if j.observer.BackoffSecs > 0 {
		policy.InitialInterval = time.Duration(j.observer.BackoffSecs * float64(time.Second))
	}

	attempt := 0
	backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		started := time.Now()
		status, err := d.post(ctx, j, body, attempt)
		eventbus.Publish(ctx, d.bus, events.ObserverDeliveryFinish{
			Observer:  j.observer.Name,
			Operation: j.operation,
			Attempt:   attempt,
			Status:    status,
			Err:       err,
			Exhausted: err != nil && attempt >= maxAttempts,
			Duration:  time.Since(started),
		})
		return struct{}{}, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(maxAttempts)))
}

func (d *Dispatcher) post(ctx context.Context, j delivery, body []byte, attempt int) (int, error) {
	eventbus.Publish(ctx, d.bus, events.ObserverDeliveryStart{
		Observer:  j.observer.Name,
		Operation: j.operation,
		Attempt:   attempt,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.observer.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Quarry-Delivery", j.id)
	if d.secret != nil {
		req.Header.Set(SignatureHeader, "sha256="+Sign(d.secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, qerr.New(qerr.KindObserverDelivery,
			"%s: endpoint returned %d", j.observer.Name, resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// Sign computes the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig matches body under secret, in constant time.
func Verify(secret, body []byte, sig string) bool {
	expected := Sign(secret, body)
	return hmac.Equal([]byte(fmt.Sprintf("sha256=%s", expected)), []byte(sig))
}
