// Package server exposes the engine over HTTP: a GraphQL endpoint with
// authentication, rate limiting, CORS, and batching, plus a server-sent
// events endpoint for subscriptions.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/quarryql/quarry/internal/engine"
	"github.com/quarryql/quarry/internal/eventbus"
	"github.com/quarryql/quarry/internal/events"
	"github.com/quarryql/quarry/internal/qerr"
	"github.com/quarryql/quarry/internal/reqid"
	"github.com/quarryql/quarry/internal/security"
)

// Handler serves the GraphQL endpoint.
type Handler struct {
	engine   *engine.Engine
	verifier *security.Verifier
	limiter  *rate.Limiter
	bus      *eventbus.Bus
	opt      Options
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New builds the GraphQL handler. A nil limiter disables rate limiting; a
// disabled verifier treats every request as anonymous.
func New(e *engine.Engine, verifier *security.Verifier, limiter *rate.Limiter, bus *eventbus.Bus, opts ...Option) *Handler {
	op := Options{Timeout: 10 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	return &Handler{engine: e, verifier: verifier, limiter: limiter, bus: bus, opt: op}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		ctx = reqid.WithID(ctx, rid)
	} else {
		ctx, _ = reqid.NewContext(ctx)
	}

	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, h.bus, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, h.bus, events.HTTPFinish{Request: r, Status: status, Duration: time.Since(start)})
	}()

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}
	if r.Method == http.MethodOptions {
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, kindResponse(qerr.KindValidation, "method not allowed"), h.opt.Pretty)
		return
	}

	if h.limiter != nil && !h.limiter.Allow() {
		status = http.StatusTooManyRequests
		writeJSON(w, status, kindResponse(qerr.KindRateLimit, "rate limit exceeded"), h.opt.Pretty)
		return
	}

	principal, err := h.verifier.FromAuthorization(r.Header.Get("Authorization"))
	if err != nil {
		status = http.StatusUnauthorized
		writeJSON(w, status, errorResponse(err), h.opt.Pretty)
		return
	}
	ctx = security.WithPrincipal(ctx, principal)

	req, batch, perr := parseRequest(r, h.opt.MaxBodyBytes)
	if perr != nil {
		status = http.StatusBadRequest
		if perr.Message == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, specResult{Data: nil, Errors: []engine.GraphQLError{*perr}}, h.opt.Pretty)
		return
	}

	if batch != nil {
		out := make([]any, len(batch))
		for i := range batch {
			out[i] = h.executeOne(ctx, batch[i])
		}
		writeJSON(w, status, out, h.opt.Pretty)
		return
	}

	writeJSON(w, status, h.executeOne(ctx, req), h.opt.Pretty)
}

func (h *Handler) executeOne(ctx context.Context, req GraphQLRequest) any {
	start := time.Now()
	opType := operationType(req.Query)
	eventbus.Publish(ctx, h.bus, events.GraphQLStart{
		Query:         req.Query,
		OperationName: req.OperationName,
		OperationType: opType,
	})

	result := h.engine.Execute(ctx, req.Query, req.OperationName, req.Variables)

	errs := make([]error, len(result.Errors))
	for i := range result.Errors {
		errs[i] = result.Errors[i]
	}
	eventbus.Publish(ctx, h.bus, events.GraphQLFinish{
		Query:         req.Query,
		OperationName: req.OperationName,
		OperationType: opType,
		Errors:        errs,
		Cached:        result.Cached,
		Duration:      time.Since(start),
	})
	return result
}

// operationType peeks at the request text for event labelling only; the
// engine does the authoritative parse.
func operationType(query string) string {
	trimmed := strings.TrimSpace(query)
	switch {
	case strings.HasPrefix(trimmed, "mutation"):
		return "mutation"
	case strings.HasPrefix(trimmed, "subscription"):
		return "subscription"
	default:
		return "query"
	}
}

// ------------------ Request parsing ------------------

type GraphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

func parseRequest(r *http.Request, maxBody int64) (GraphQLRequest, []GraphQLRequest, *engine.GraphQLError) {
	if r.Method == http.MethodGet {
		q := r.URL.Query().Get("query")
		if q == "" {
			return GraphQLRequest{}, nil, requestError("missing 'query'")
		}
		vars := map[string]any{}
		if v := r.URL.Query().Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &vars); err != nil {
				return GraphQLRequest{}, nil, requestError("invalid 'variables' JSON")
			}
		}
		op := r.URL.Query().Get("operationName")
		return GraphQLRequest{Query: q, Variables: vars, OperationName: op}, nil, nil
	}

	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return GraphQLRequest{}, nil, requestError("unsupported Content-Type")
	}

	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return GraphQLRequest{}, nil, requestError("failed to read body")
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return GraphQLRequest{}, nil, requestError(errBodyTooLargeMessage)
	}

	if len(body) > 0 && body[0] == '[' {
		var arr []GraphQLRequest
		if err := json.Unmarshal(body, &arr); err != nil {
			return GraphQLRequest{}, nil, requestError("invalid JSON")
		}
		if len(arr) == 0 {
			return GraphQLRequest{}, nil, requestError("empty batch")
		}
		return GraphQLRequest{}, arr, nil
	}

	var req GraphQLRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return GraphQLRequest{}, nil, requestError("invalid JSON")
	}
	if req.Query == "" {
		return GraphQLRequest{}, nil, requestError("missing 'query'")
	}
	if req.Variables == nil {
		req.Variables = map[string]any{}
	}
	return req, nil, nil
}

// ------------------ Response formatting ------------------

type specResult struct {
	Data   any                   `json:"data"`
	Errors []engine.GraphQLError `json:"errors,omitempty"`
}

func requestError(message string) *engine.GraphQLError {
	return &engine.GraphQLError{
		Message:    message,
		Extensions: map[string]any{"code": string(qerr.KindValidation)},
	}
}

func kindResponse(kind qerr.Kind, message string) specResult {
	return specResult{Data: nil, Errors: []engine.GraphQLError{{
		Message:    message,
		Extensions: map[string]any{"code": string(kind)},
	}}}
}

func errorResponse(err error) specResult {
	return kindResponse(qerr.KindOf(err), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

const errBodyTooLargeMessage = "body too large"

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
