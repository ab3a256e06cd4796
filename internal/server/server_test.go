package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/quarryql/quarry/internal/compiled"
	"github.com/quarryql/quarry/internal/engine"
	"github.com/quarryql/quarry/internal/eventbus"
	"github.com/quarryql/quarry/internal/events"
	"github.com/quarryql/quarry/internal/schema"
	"github.com/quarryql/quarry/internal/security"
)

const testSecret = "server-test-secret"

// stubRuntime answers every root resolution from a fixed map.
type stubRuntime struct {
	rows map[string]any
}

func (s *stubRuntime) ResolveRoot(_ context.Context, op *compiled.Operation, _ map[string]any) (any, error) {
	return s.rows[op.Name], nil
}

func (s *stubRuntime) ResolveField(_ context.Context, _, field string, source any, _ map[string]any) (any, error) {
	if m, ok := source.(map[string]any); ok {
		return m[field], nil
	}
	return nil, nil
}

func (s *stubRuntime) SerializeLeaf(_ context.Context, _ string, value any) (any, error) {
	return value, nil
}

func serverSchema() *compiled.Schema {
	cs := &compiled.Schema{
		SchemaVersion: "1.0",
		Dialect:       "sqlite3",
		Types: []*compiled.Type{{
			Name: "Greeting", Kind: "OBJECT", SQLSource: "v_greeting",
			Fields: []*compiled.Field{
				{Name: "id", Type: "ID"},
				{Name: "message", Type: "String", Nullable: true},
			},
		}},
		Operations: []*compiled.Operation{
			{
				Name: "greeting", OpType: compiled.OpTypeQuery, Kind: "QUERY",
				ReturnType: "Greeting", Nullable: true,
			},
			{
				Name: "secretGreeting", OpType: compiled.OpTypeQuery, Kind: "QUERY",
				ReturnType: "Greeting", Nullable: true,
				Security: compiled.Security{RequiresAuth: true, RequiredRoles: []string{"admin"}},
			},
		},
		Subscriptions: []*compiled.Subscription{{
			Name:         "greetingChanged",
			ReturnType:   "Greeting",
			OnOperations: []string{"updateGreeting"},
		}},
	}
	cs.BuildIndex()
	return cs
}

type fixture struct {
	handler *Handler
	stream  *StreamHandler
	bus     *eventbus.Bus
}

func newFixture(t *testing.T, limiter *rate.Limiter, opts ...Option) *fixture {
	t.Helper()
	cs := serverSchema()
	sch, err := schema.BuildFromCompiled(cs)
	require.NoError(t, err)

	bus := eventbus.New()
	rt := &stubRuntime{rows: map[string]any{
		"greeting":       map[string]any{"id": "g1", "message": "hello"},
		"secretGreeting": map[string]any{"id": "g2", "message": "classified"},
	}}
	e := engine.New(rt, sch, cs, engine.Options{Bus: bus})
	verifier := security.NewVerifier(testSecret)
	return &fixture{
		handler: New(e, verifier, limiter, bus, opts...),
		stream:  NewStreamHandler(cs, verifier, bus),
		bus:     bus,
	}
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func post(h http.Handler, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func errorCode(t *testing.T, out map[string]any) string {
	t.Helper()
	errs, ok := out["errors"].([]any)
	require.True(t, ok, "expected an errors array, got %v", out)
	require.NotEmpty(t, errs)
	ext := errs[0].(map[string]any)["extensions"].(map[string]any)
	return ext["code"].(string)
}

func TestPostQuery(t *testing.T) {
	f := newFixture(t, nil)

	w := post(f.handler, `{"query":"{ greeting { id message } }"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	out := decode(t, w)
	require.Nil(t, out["errors"])
	g := out["data"].(map[string]any)["greeting"].(map[string]any)
	require.Equal(t, "hello", g["message"])
}

func TestGetQuery(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/graphql?query={greeting{id}}", nil)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	out := decode(t, w)
	require.Equal(t, "g1", out["data"].(map[string]any)["greeting"].(map[string]any)["id"])
}

func TestBatchRequest(t *testing.T) {
	f := newFixture(t, nil)

	w := post(f.handler, `[{"query":"{ greeting { id } }"},{"query":"{ greeting { message } }"}]`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var out []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 2)
	require.Equal(t, "g1", out[0]["data"].(map[string]any)["greeting"].(map[string]any)["id"])
	require.Equal(t, "hello", out[1]["data"].(map[string]any)["greeting"].(map[string]any)["message"])
}

func TestMissingQueryRejected(t *testing.T) {
	f := newFixture(t, nil)

	w := post(f.handler, `{}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "VALIDATION_ERROR", errorCode(t, decode(t, w)))
}

func TestEmptyBatchRejected(t *testing.T) {
	f := newFixture(t, nil)

	w := post(f.handler, `[]`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBodyTooLarge(t *testing.T) {
	f := newFixture(t, nil, WithMaxBodyBytes(16))

	w := post(f.handler, `{"query":"{ greeting { id message } }"}`, nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodDelete, "/graphql", nil)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRateLimitExceeded(t *testing.T) {
	f := newFixture(t, rate.NewLimiter(rate.Limit(0.001), 1))

	w := post(f.handler, `{"query":"{ greeting { id } }"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = post(f.handler, `{"query":"{ greeting { id } }"}`, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "RATE_LIMITED", errorCode(t, decode(t, w)))
}

func TestMalformedTokenRejected(t *testing.T) {
	f := newFixture(t, nil)

	w := post(f.handler, `{"query":"{ greeting { id } }"}`,
		map[string]string{"Authorization": "Bearer not-a-token"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "AUTHENTICATION_ERROR", errorCode(t, decode(t, w)))
}

func TestRoleGatedOperation(t *testing.T) {
	f := newFixture(t, nil)

	// anonymous callers are refused before the role check
	w := post(f.handler, `{"query":"{ secretGreeting { id } }"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "AUTHENTICATION_ERROR", errorCode(t, decode(t, w)))

	token := signToken(t, jwt.MapClaims{
		"sub":   "u1",
		"roles": []any{"admin"},
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	w = post(f.handler, `{"query":"{ secretGreeting { message } }"}`,
		map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	require.Nil(t, out["errors"])
	g := out["data"].(map[string]any)["secretGreeting"].(map[string]any)
	require.Equal(t, "classified", g["message"])
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, nil, WithCORS("https://app.example.com"))

	req := httptest.NewRequest(http.MethodOptions, "/graphql", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "Authorization", w.Header().Get("Access-Control-Allow-Headers"))
}

func TestCORSDisallowedOrigin(t *testing.T) {
	f := newFixture(t, nil, WithCORS("https://app.example.com"))

	req := httptest.NewRequest(http.MethodOptions, "/graphql", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHTTPEventsPublished(t *testing.T) {
	f := newFixture(t, nil)

	var finishes []events.GraphQLFinish
	eventbus.Subscribe(f.bus, func(_ context.Context, e events.GraphQLFinish) {
		finishes = append(finishes, e)
	})

	w := post(f.handler, `{"query":"{ greeting { id } }"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, finishes, 1)
	require.Equal(t, "query", finishes[0].OperationType)
	require.Empty(t, finishes[0].Errors)
}

func TestStreamUnknownSubscription(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/subscriptions?subscription=nope", nil)
	w := httptest.NewRecorder()
	f.stream.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestStreamRejectsMalformedToken(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/subscriptions?subscription=greetingChanged", nil)
	req.Header.Set("Authorization", "Bearer junk")
	w := httptest.NewRecorder()
	f.stream.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStreamDeliversCommittedMutations(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.stream)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/subscriptions?subscription=greetingChanged")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// let the handler attach its bus subscription before publishing
	time.Sleep(50 * time.Millisecond)
	eventbus.Publish(context.Background(), f.bus, events.MutationCommitted{
		Operation: "unrelatedMutation",
		Kind:      "UPDATE",
	})
	eventbus.Publish(context.Background(), f.bus, events.MutationCommitted{
		Operation: "updateGreeting",
		Kind:      "UPDATE",
		Payload:   map[string]any{"id": "g1", "message": "updated"},
	})

	reader := bufio.NewReader(resp.Body)
	eventLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "event: greetingChanged", strings.TrimSpace(eventLine))

	dataLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(dataLine, "data: "))

	var payload map[string]any
	raw := strings.TrimPrefix(strings.TrimSpace(dataLine), "data: ")
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	require.Equal(t, "updateGreeting", payload["operation"])
	require.Equal(t, "updated", payload["data"].(map[string]any)["message"])
}
