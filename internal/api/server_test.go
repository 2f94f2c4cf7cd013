package api

import (
	"encoding/json"
	"html/template"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mini-profiler/internal/config"
	"mini-profiler/internal/storage"
)

func testConfig() config.Config {
	return config.Config{
		BasePath:            "/gae_mini_profile/",
		Storage:             config.StorageMemory,
		StorageMaxRows:      100,
		DataExpiry:          30 * time.Second,
		CORSAllowOrigin:     "*",
		RequestBodyMaxBytes: 1 << 20,
		StreamBuffer:        8,
		HTMLIDPrefix:        "mp",
	}
}

func newTestServer(t *testing.T, cfg config.Config) (*Server, storage.Store, *Hub) {
	t.Helper()
	store := storage.NewMemoryStore(cfg.StorageMaxRows)
	hub := NewHub(cfg.StreamBuffer, nil)
	t.Cleanup(hub.Shutdown)
	return NewServer(store, cfg, hub, nil, nil), store, hub
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func putPayload(t *testing.T, store storage.Store, id string, at time.Time, ttl time.Duration) {
	t.Helper()
	obj := map[string]json.RawMessage{
		"id":      json.RawMessage(`"` + id + `"`),
		"profile": json.RawMessage(`{"duration":2500000}`),
	}
	e, err := storage.NewEntry(obj, at, ttl)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put(e); err != nil {
		t.Fatal(err)
	}
}

func TestResults_BlankIDs(t *testing.T) {
	srv, _, _ := newTestServer(t, testConfig())

	for _, target := range []string{"/gae_mini_profile/results", "/gae_mini_profile/results?ids=", "/gae_mini_profile/results?ids=%20"} {
		rr := do(t, srv, http.MethodGet, target, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", target, rr.Code)
		}
		var resp ResultsResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if resp.OK {
			t.Errorf("%s: ok should be false", target)
		}
	}
}

func TestResults_FoundSubsetInRequestOrder(t *testing.T) {
	srv, store, _ := newTestServer(t, testConfig())
	now := time.Now()
	putPayload(t, store, "a", now, time.Minute)
	putPayload(t, store, "b", now, time.Minute)
	putPayload(t, store, "stale", now.Add(-time.Hour), time.Minute)

	rr := do(t, srv, http.MethodGet, "/gae_mini_profile/results?ids=b,%20missing,stale,a%20", "")
	if got := rr.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", got)
	}
	var resp struct {
		OK       bool `json:"ok"`
		Requests []struct {
			ID      string `json:"id"`
			Profile struct {
				Duration int64 `json:"duration"`
			} `json:"profile"`
		} `json:"requests"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.OK {
		t.Fatal("ok should be true")
	}
	if len(resp.Requests) != 2 || resp.Requests[0].ID != "b" || resp.Requests[1].ID != "a" {
		t.Fatalf("requests = %+v, want b then a", resp.Requests)
	}
	if resp.Requests[0].Profile.Duration != 2500000 {
		t.Errorf("profile not relayed verbatim: %+v", resp.Requests[0])
	}
}

func TestIngest(t *testing.T) {
	srv, store, _ := newTestServer(t, testConfig())

	rr := do(t, srv, http.MethodPost, "/gae_mini_profile/results",
		`[{"id":"x1","redirect":true,"profile":{"duration":1}},{"profile":{"duration":2}}]`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	var resp IngestResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.IDs) != 2 || resp.IDs[0] != "x1" || len(resp.IDs[1]) != 36 {
		t.Fatalf("ids = %v", resp.IDs)
	}
	if n, _ := store.Len(); n != 2 {
		t.Errorf("stored = %d, want 2", n)
	}

	rr = do(t, srv, http.MethodPost, "/gae_mini_profile/results", `{"id":"single","profile":{"duration":3}}`)
	if rr.Code != http.StatusCreated {
		t.Errorf("single object status = %d", rr.Code)
	}
}

func TestIngest_Rejects(t *testing.T) {
	cfg := testConfig()
	cfg.RequestBodyMaxBytes = 64
	srv, store, _ := newTestServer(t, cfg)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"empty", "", http.StatusBadRequest},
		{"scalar", `"x"`, http.StatusBadRequest},
		{"empty array", `[]`, http.StatusBadRequest},
		{"no profile", `{"id":"a"}`, http.StatusBadRequest},
		{"numeric id", `{"id":1,"profile":{}}`, http.StatusBadRequest},
		{"too large", `{"id":"a","profile":{"name":"` + strings.Repeat("x", 100) + `"}}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/gae_mini_profile/results", tt.body)
			if rr.Code != tt.code {
				t.Errorf("status = %d, want %d (%s)", rr.Code, tt.code, rr.Body.String())
			}
		})
	}
	if n, _ := store.Len(); n != 0 {
		t.Errorf("rejected payloads were stored: %d", n)
	}
}

func TestResults_TrimsStackFrames(t *testing.T) {
	cfg := testConfig()
	cfg.MaxStackFrames = 2
	srv, _, _ := newTestServer(t, cfg)

	body := `{"id":"s","profile":{"duration":1},"appstats":{"totalTime":1,"extra":"kept",
		"rpcCalls":[{"serviceCallName":"memcache.Get","callStack":["a","b","c","d"]},{"callStack":["only"]}]}}`
	if rr := do(t, srv, http.MethodPost, "/gae_mini_profile/results", body); rr.Code != http.StatusCreated {
		t.Fatalf("ingest status = %d", rr.Code)
	}

	rr := do(t, srv, http.MethodGet, "/gae_mini_profile/results?ids=s", "")
	var resp struct {
		Requests []struct {
			Appstats struct {
				Extra    string `json:"extra"`
				RPCCalls []struct {
					CallStack []string `json:"callStack"`
				} `json:"rpcCalls"`
			} `json:"appstats"`
		} `json:"requests"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	calls := resp.Requests[0].Appstats.RPCCalls
	if len(calls[0].CallStack) != 2 || calls[0].CallStack[1] != "b" {
		t.Errorf("first stack = %v, want [a b]", calls[0].CallStack)
	}
	if len(calls[1].CallStack) != 1 {
		t.Errorf("short stack changed: %v", calls[1].CallStack)
	}
	if resp.Requests[0].Appstats.Extra != "kept" {
		t.Error("unknown appstats fields should survive trimming")
	}
}

func TestRecent(t *testing.T) {
	srv, store, _ := newTestServer(t, testConfig())
	now := time.Now()
	putPayload(t, store, "first", now.Add(-2*time.Second), time.Minute)
	putPayload(t, store, "second", now.Add(-time.Second), time.Minute)

	rr := do(t, srv, http.MethodGet, "/gae_mini_profile/recent?limit=1", "")
	var resp RecentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Requests) != 1 || resp.Requests[0].ID != "second" {
		t.Errorf("recent = %+v, want [second]", resp.Requests)
	}
	if resp.Limit != 1 {
		t.Errorf("limit = %d, want 1", resp.Limit)
	}
}

func TestServer_RoutingAndCORS(t *testing.T) {
	srv, _, _ := newTestServer(t, testConfig())

	rr := do(t, srv, http.MethodOptions, "/gae_mini_profile/results", "")
	if rr.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}

	if rr := do(t, srv, http.MethodGet, "/gae_mini_profile/nope", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown op status = %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/elsewhere/results", ""); rr.Code != http.StatusNotFound {
		t.Errorf("outside base path status = %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodDelete, "/gae_mini_profile/results", ""); rr.Code != http.StatusNotFound {
		t.Errorf("DELETE status = %d", rr.Code)
	}
	if !srv.Handles("/gae_mini_profile/results") || srv.Handles("/metrics") {
		t.Error("Handles mismatch")
	}
}

func TestServer_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 1
	cfg.RateLimitBurst = 2
	srv, _, _ := newTestServer(t, cfg)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(t, srv, http.MethodGet, "/gae_mini_profile/results?ids=a", "").Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}

	// A forged forwarding header does not buy a fresh bucket.
	req := httptest.NewRequest(http.MethodGet, "/gae_mini_profile/results?ids=a", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("spoofed client status = %d, want 429", rr.Code)
	}

	// Another peer has its own bucket.
	req = httptest.NewRequest(http.MethodGet, "/gae_mini_profile/results?ids=a", nil)
	req.RemoteAddr = "198.51.100.20:5555"
	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("second client status = %d", rr.Code)
	}
}

func TestServer_RateLimitBehindProxy(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 1
	cfg.RateLimitBurst = 1
	cfg.TrustProxyHeaders = true
	srv, _, _ := newTestServer(t, cfg)

	get := func(fwd string) int {
		req := httptest.NewRequest(http.MethodGet, "/gae_mini_profile/results?ids=a", nil)
		req.Header.Set("X-Forwarded-For", fwd)
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, req)
		return rr.Code
	}
	if code := get("203.0.113.9, 10.0.0.1"); code != http.StatusOK {
		t.Fatalf("first status = %d", code)
	}
	if code := get("203.0.113.9, 10.0.0.1"); code != http.StatusTooManyRequests {
		t.Errorf("same forwarded client status = %d, want 429", code)
	}
	if code := get("203.0.113.10"); code != http.StatusOK {
		t.Errorf("other forwarded client status = %d, want 200", code)
	}
}

func TestStream_PushesIngestedIDs(t *testing.T) {
	srv, _, hub := newTestServer(t, testConfig())
	ts := httptest.NewServer(srv)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/gae_mini_profile/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Post(ts.URL+"/gae_mini_profile/results", "application/json",
		strings.NewReader(`{"id":"w1","profile":{"duration":1}}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var a Announcement
	if err := conn.ReadJSON(&a); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(a.IDs) != 1 || a.IDs[0] != "w1" {
		t.Errorf("announcement ids = %v, want [w1]", a.IDs)
	}
}

func TestResource(t *testing.T) {
	cfg := testConfig()
	cfg.HTMLIDPrefix = "prof"
	cfg.ResourceCacheHours = 2
	srv, _, _ := newTestServer(t, cfg)
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	srv.now = func() time.Time { return fixed }

	rr := do(t, srv, http.MethodGet, "/gae_mini_profile/resource?id=request.tmpl", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	if strings.Contains(body, "{{prefix}}") || !strings.Contains(body, "prof-request") {
		t.Errorf("prefix not substituted: %s", body)
	}
	if got := rr.Header().Get("Content-Type"); got != "text/plain; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rr.Header().Get("Cache-Control"); got != "public, max-age=7200" {
		t.Errorf("Cache-Control = %q", got)
	}
	if got := rr.Header().Get("Expires"); got != "Tue, 02 Jan 2024 05:04:05 GMT" {
		t.Errorf("Expires = %q", got)
	}

	// The body stays a parseable template that no longer needs a prefix func.
	tmpl, err := template.New("served").Parse(body)
	if err != nil {
		t.Fatalf("served template does not parse: %v", err)
	}
	var out strings.Builder
	row := map[string]string{"Type": "ajax", "RowID": "prof-row-1", "RequestID": "1", "TotalTime": "1.00"}
	if err := tmpl.ExecuteTemplate(&out, "request", row); err != nil {
		t.Fatalf("execute served template: %v", err)
	}
	if !strings.Contains(out.String(), `class="prof-request prof-ajax"`) {
		t.Errorf("rendered = %s", out.String())
	}

	rr = do(t, srv, http.MethodGet, "/gae_mini_profile/resource?id=result.tmpl", "")
	funcs := template.FuncMap{"ms": func(int64) string { return "" }, "tree": func(any) any { return nil }}
	if _, err := template.New("served").Funcs(funcs).Parse(rr.Body.String()); err != nil {
		t.Errorf("result template does not parse without prefix: %v", err)
	}

	for _, id := range []string{"", "missing.js", "../go.mod", "sub/x.tmpl"} {
		if rr := do(t, srv, http.MethodGet, "/gae_mini_profile/resource?id="+id, ""); rr.Code != http.StatusNotFound {
			t.Errorf("id %q status = %d, want 404", id, rr.Code)
		}
	}
}
