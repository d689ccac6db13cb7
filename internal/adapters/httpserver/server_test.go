package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"switchboard/go-daemon/internal/platform/ratelimiter"
	"switchboard/go-daemon/pkg/dispatch"
)

type countingService struct {
	mu     sync.Mutex
	calls  int
	resets int
}

func (c *countingService) Bump() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.calls
}

func (c *countingService) Reset() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = 0
	c.resets++
	return "done"
}

func (c *countingService) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *countingService) resetCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resets
}

func newTestServer(t *testing.T, opts Options) (*Server, *countingService) {
	t.Helper()
	counter := &countingService{}
	methods := []dispatch.Method{
		{
			Name:      "calc.add",
			Func:      func(a, b int) int { return a + b },
			Params:    []string{"a", "b"},
			Signature: []string{"int", "int", "int"},
		},
		{
			Name:      "job.bump",
			Func:      counter.Bump,
			Signature: []string{"int"},
		},
		{
			Name:       "admin.reset",
			Func:       counter.Reset,
			Signature:  []string{"string"},
			Permission: "operator",
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	coord, err := dispatch.NewCoordinator(methods, dispatch.WithLogger(logger))
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	if opts.Logger == nil {
		opts.Logger = logger
	}
	return New("", coord, opts), counter
}

func rpcPost(t *testing.T, s *Server, body, contentType string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var resp map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode envelope %q: %v", rec.Body.String(), err)
	}
	return resp
}

func metricsBody(t *testing.T, s *Server) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	return rec.Body.String()
}

func TestHealthzContract(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health payload: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status=ok, got %q", body["status"])
	}
}

func TestJSONDispatchOverHTTP(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	rec := rpcPost(t, s, `{"method":"calc.add","params":[2,3],"id":7}`, "application/json", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	resp := decodeEnvelope(t, rec)
	if string(resp["result"]) != "5" {
		t.Fatalf("result = %s", resp["result"])
	}
	if string(resp["id"]) != "7" {
		t.Fatalf("id = %s", resp["id"])
	}
}

func TestXMLDispatchOverHTTP(t *testing.T) {
	s, counter := newTestServer(t, Options{})

	body := `<?xml version="1.0"?><methodCall><methodName>job.bump</methodName><params></params></methodCall>`
	rec := rpcPost(t, s, body, "text/xml", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/xml" {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "<methodResponse>") {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "<int>1</int>") {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if counter.total() != 1 {
		t.Fatalf("calls = %d", counter.total())
	}
}

func TestContentTypeParametersStillPickXML(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	body := `<?xml version="1.0"?><methodCall><methodName>calc.add</methodName><params><param><value><int>2</int></value></param><param><value><int>3</int></value></param></params></methodCall>`
	rec := rpcPost(t, s, body, "application/xml; charset=utf-8", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<int>5</int>") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestNotificationAnswersNoContent(t *testing.T) {
	s, counter := newTestServer(t, Options{})

	rec := rpcPost(t, s, `{"method":"job.bump","params":[]}`, "application/json", nil)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if counter.total() != 1 {
		t.Fatalf("calls = %d", counter.total())
	}
}

func TestNotificationBatchAnswersEmptyArray(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	rec := rpcPost(t, s, `[{"method":"job.bump","params":[]},{"method":"job.bump","params":[]}]`, "application/json", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("body = %q", got)
	}
}

func TestParseErrorStillAnswersEnvelope(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	rec := rpcPost(t, s, `{nope`, "application/json", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	var fault struct {
		Code int `json:"code"`
	}
	if err := json.Unmarshal(resp["error"], &fault); err != nil {
		t.Fatalf("decode error member: %v", err)
	}
	if fault.Code != -32700 {
		t.Fatalf("code = %d", fault.Code)
	}
}

func TestRPCMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	req := httptest.NewRequest(http.MethodGet, "/rpc", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}

func TestPreflightFromLocalhost(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	req := httptest.NewRequest(http.MethodOptions, "/rpc", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("allow origin = %q", got)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "X-Switchboard-RPC-Token") {
		t.Fatalf("allow headers = %q", rec.Header().Get("Access-Control-Allow-Headers"))
	}
}

func TestForeignOriginRejected(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	rec := rpcPost(t, s, `{"method":"calc.add","params":[2,3],"id":1}`, "application/json", map[string]string{
		"Origin": "https://evil.example",
	})

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d", http.StatusForbidden, rec.Code)
	}
}

func TestNullOriginPolicy(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	rec := rpcPost(t, s, `{"method":"calc.add","params":[2,3],"id":1}`, "application/json", map[string]string{
		"Origin": "null",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d", http.StatusForbidden, rec.Code)
	}

	s, _ = newTestServer(t, Options{AllowNullOrigin: true})
	rec = rpcPost(t, s, `{"method":"calc.add","params":[2,3],"id":1}`, "application/json", map[string]string{
		"Origin": "null",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestTokenAuthRejectsMissingAndWrongTokens(t *testing.T) {
	s, _ := newTestServer(t, Options{Token: "rpc_secret", RequireAuth: true})

	body := `{"method":"calc.add","params":[2,3],"id":1}`

	rec := rpcPost(t, s, body, "application/json", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}

	rec = rpcPost(t, s, body, "application/json", map[string]string{rpcTokenHeader: "rpc_wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}

	rec = rpcPost(t, s, body, "application/json", map[string]string{rpcTokenHeader: "rpc_secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: expected status %d, got %d", http.StatusOK, rec.Code)
	}

	if !strings.Contains(metricsBody(t, s), `switchboard_rpc_denials_total{reason="unauthorized"} 2`) {
		t.Fatal("unauthorized denials not recorded")
	}
}

func TestBearerTokenAccepted(t *testing.T) {
	s, _ := newTestServer(t, Options{Token: "rpc_secret", RequireAuth: true})

	rec := rpcPost(t, s, `{"method":"calc.add","params":[2,3],"id":1}`, "application/json", map[string]string{
		"Authorization": "Bearer rpc_secret",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestConfiguredTokenGatesEvenWithoutRequireAuth(t *testing.T) {
	s, _ := newTestServer(t, Options{Token: "rpc_secret"})

	rec := rpcPost(t, s, `{"method":"calc.add","params":[2,3],"id":1}`, "application/json", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestPermissionMethodNeedsTokenEvenOnOpenServer(t *testing.T) {
	s, counter := newTestServer(t, Options{})

	rec := rpcPost(t, s, `{"method":"calc.add","params":[2,3],"id":1}`, "application/json", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("open method: expected status %d, got %d", http.StatusOK, rec.Code)
	}

	rec = rpcPost(t, s, `{"method":"admin.reset","params":[],"id":2}`, "application/json", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("gated method: expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
	if counter.resetCount() != 0 {
		t.Fatalf("rejected reset still ran %d times", counter.resetCount())
	}
}

func TestPermissionMethodAcceptsConfiguredToken(t *testing.T) {
	s, counter := newTestServer(t, Options{Token: "rpc_secret"})

	rec := rpcPost(t, s, `{"method":"admin.reset","params":[],"id":2}`, "application/json", map[string]string{
		rpcTokenHeader: "rpc_secret",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if string(resp["result"]) != `"done"` {
		t.Fatalf("result = %s", resp["result"])
	}
	if counter.resetCount() != 1 {
		t.Fatalf("resets = %d", counter.resetCount())
	}
}

func TestBodyOverLimitRejected(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	big := strings.Repeat("a", int(maxRPCBodyBytes)+1)
	rec := rpcPost(t, s, big, "application/json", nil)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, rec.Code)
	}
}

func TestRateLimitExhaustionAnswers429(t *testing.T) {
	s, _ := newTestServer(t, Options{
		Token:     "rpc_secret",
		RateLimit: ratelimiter.New(1, 2, 0),
	})

	body := `{"method":"calc.add","params":[2,3],"id":1}`
	auth := map[string]string{rpcTokenHeader: "rpc_secret"}

	for i := 0; i < 2; i++ {
		rec := rpcPost(t, s, body, "application/json", auth)
		if rec.Code != http.StatusOK {
			t.Fatalf("call %d: expected status %d, got %d", i, http.StatusOK, rec.Code)
		}
	}

	rec := rpcPost(t, s, body, "application/json", auth)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status %d, got %d", http.StatusTooManyRequests, rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("Retry-After = %q", got)
	}
	if !strings.Contains(metricsBody(t, s), `switchboard_rpc_denials_total{reason="rate_limited"} 1`) {
		t.Fatal("rate limited denial not recorded")
	}
}

func TestRateLimitKeysAnonymousCallersByAddress(t *testing.T) {
	s, _ := newTestServer(t, Options{RateLimit: ratelimiter.New(1, 1, 0)})

	post := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{"method":"calc.add","params":[2,3],"id":1}`))
		req.RemoteAddr = remoteAddr
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec
	}

	if rec := post("10.0.0.1:5000"); rec.Code != http.StatusOK {
		t.Fatalf("first caller: expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if rec := post("10.0.0.1:5001"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("same host again: expected status %d, got %d", http.StatusTooManyRequests, rec.Code)
	}
	if rec := post("10.0.0.2:5000"); rec.Code != http.StatusOK {
		t.Fatalf("other host: expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestIdempotentReplayReturnsStoredResponse(t *testing.T) {
	s, counter := newTestServer(t, Options{})

	body := `{"method":"job.bump","params":[],"id":1}`
	header := map[string]string{idempotencyHeader: "retry-42"}

	first := rpcPost(t, s, body, "application/json", header)
	if first.Code != http.StatusOK {
		t.Fatalf("first call: expected status %d, got %d", http.StatusOK, first.Code)
	}

	second := rpcPost(t, s, body, "application/json", header)
	if second.Code != http.StatusOK {
		t.Fatalf("second call: expected status %d, got %d", http.StatusOK, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replay differs: %q vs %q", first.Body.String(), second.Body.String())
	}
	if counter.total() != 1 {
		t.Fatalf("calls = %d", counter.total())
	}
}

func TestIdempotencyKeyConflictAnswers409(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	header := map[string]string{idempotencyHeader: "retry-42"}

	rec := rpcPost(t, s, `{"method":"job.bump","params":[],"id":1}`, "application/json", header)
	if rec.Code != http.StatusOK {
		t.Fatalf("first call: expected status %d, got %d", http.StatusOK, rec.Code)
	}

	rec = rpcPost(t, s, `{"method":"calc.add","params":[2,3],"id":2}`, "application/json", header)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, rec.Code)
	}
	if !strings.Contains(metricsBody(t, s), `switchboard_rpc_denials_total{reason="idempotency_conflict"} 1`) {
		t.Fatal("conflict denial not recorded")
	}
}

func TestIdempotencyHeaderIgnoredForXML(t *testing.T) {
	s, counter := newTestServer(t, Options{})

	body := `<?xml version="1.0"?><methodCall><methodName>job.bump</methodName><params></params></methodCall>`
	header := map[string]string{idempotencyHeader: "retry-42"}

	rpcPost(t, s, body, "text/xml", header)
	rpcPost(t, s, body, "text/xml", header)

	if counter.total() != 2 {
		t.Fatalf("calls = %d", counter.total())
	}
}

func TestMetricsCountDispatchedRequests(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	rpcPost(t, s, `{"method":"calc.add","params":[2,3],"id":1}`, "application/json", nil)
	rpcPost(t, s, `<?xml version="1.0"?><methodCall><methodName>job.bump</methodName><params></params></methodCall>`, "text/xml", nil)

	body := metricsBody(t, s)
	if !strings.Contains(body, `switchboard_rpc_requests_total{protocol="json"} 1`) {
		t.Fatalf("json counter missing:\n%s", body)
	}
	if !strings.Contains(body, `switchboard_rpc_requests_total{protocol="xml"} 1`) {
		t.Fatalf("xml counter missing:\n%s", body)
	}
}
