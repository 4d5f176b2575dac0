package httpx

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"order-outbox/shared/logx"
)

func TestWithTimeoutReturnsGatewayTimeout(t *testing.T) {
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	rec := httptest.NewRecorder()
	WithTimeout(20*time.Millisecond, slow).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d", rec.Code)
	}
	var env ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error.Code != "TIMEOUT" {
		t.Fatalf("code = %s", env.Error.Code)
	}
}

func TestPanicInsideTimeoutIsRecovered(t *testing.T) {
	boom := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	h := WithRecover(logx.Nop(), WithTimeout(time.Second, boom))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "req-1" || rec.Header().Get("X-Request-ID") != "req-1" {
		t.Fatalf("request id = %q / %q", seen, rec.Header().Get("X-Request-ID"))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(seen) != 32 {
		t.Fatalf("generated id = %q", seen)
	}
}

func TestReadJSON(t *testing.T) {
	type body struct {
		Name string `json:"name"`
	}
	cases := []struct {
		raw string
		ok  bool
	}{
		{`{"name":"a"}`, true},
		{`{"name":"a","x":1}`, false},
		{`{"name":"a"} {"name":"b"}`, false},
		{`not json`, false},
		{`{"name":"` + strings.Repeat("a", maxBodyBytes) + `"}`, false},
	}
	for _, tc := range cases {
		var dst body
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.raw))
		err := ReadJSON(req, &dst)
		if (err == nil) != tc.ok {
			t.Fatalf("ReadJSON(%.20q) err = %v", tc.raw, err)
		}
	}
}

func TestWrapServeMuxFallsThrough(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /known", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	fallback := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := WrapServeMux(mux, fallback)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/known", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("known status = %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/unknown", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("unknown status = %d", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:5555"
	if got := ClientIP(req); got != "10.0.0.9" {
		t.Fatalf("peer = %q", got)
	}
	req.Header.Set("X-Real-IP", "10.0.0.2")
	if got := ClientIP(req); got != "10.0.0.2" {
		t.Fatalf("real ip = %q", got)
	}
	req.Header.Set("X-Forwarded-For", " 10.0.0.1 , 10.0.0.3")
	if got := ClientIP(req); got != "10.0.0.1" {
		t.Fatalf("forwarded = %q", got)
	}
}

func TestRequestLogCarriesRequestIDAndSkips(t *testing.T) {
	var buf bytes.Buffer
	logger := logx.NewWithWriter(&buf, "orders-api", "test", "", "info")
	h := WithRequestID(WithRequestLog(logger, RequestLogOptions{
		Skip: func(r *http.Request) bool { return r.URL.Path == "/healthz" },
	}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "down", nil)
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/o-1", nil)
	req.Header.Set("X-Request-ID", "req-7")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["request_id"] != "req-7" || line["level"] != "WARN" || line["status_code"] != float64(503) {
		t.Fatalf("log line = %v", line)
	}

	buf.Reset()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if buf.Len() != 0 {
		t.Fatalf("skipped path was logged: %s", buf.String())
	}
}

func TestFirstStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec, status: http.StatusOK}
	sw.WriteHeader(http.StatusCreated)
	sw.WriteHeader(http.StatusInternalServerError)
	if sw.status != http.StatusCreated {
		t.Fatalf("status = %d", sw.status)
	}
}
