package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/color-api/internal/apperr"
	"github.com/Brownie44l1/color-api/internal/config"
	"github.com/Brownie44l1/color-api/internal/metrics"
)

func testConfig() config.ServerConfig {
	cfg := config.Default().Server
	cfg.Address = "127.0.0.1"
	cfg.Port = 0
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{"prediction": "1"})
}

func newTestServer(opts ...Option) *Server {
	opts = append([]Option{WithRoute("/predict", okHandler)}, opts...)
	return New(testConfig(), config.AdminConfig{}, opts...)
}

func TestRequestIDMiddleware_GeneratesNewID(t *testing.T) {
	s := newTestServer()

	var captured string
	handler := s.requestIDMiddleware(func(w http.ResponseWriter, r *http.Request) {
		captured = RequestID(r.Context())
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/predict", nil))

	_, err := uuid.Parse(captured)
	require.NoError(t, err)
	assert.Equal(t, captured, rec.Header().Get("X-Request-Id"))
}

func TestRequestIDMiddleware_UsesProvidedID(t *testing.T) {
	s := newTestServer()
	provided := uuid.New().String()

	var captured string
	handler := s.requestIDMiddleware(func(w http.ResponseWriter, r *http.Request) {
		captured = RequestID(r.Context())
	})

	req := httptest.NewRequest(http.MethodPost, "/predict", nil)
	req.Header.Set("X-Request-Id", provided)
	handler(httptest.NewRecorder(), req)

	assert.Equal(t, provided, captured)
}

func TestRequestIDMiddleware_ReplacesInvalidID(t *testing.T) {
	s := newTestServer()

	var captured string
	handler := s.requestIDMiddleware(func(w http.ResponseWriter, r *http.Request) {
		captured = RequestID(r.Context())
	})

	req := httptest.NewRequest(http.MethodPost, "/predict", nil)
	req.Header.Set("X-Request-Id", "invalid-not-a-uuid")
	handler(httptest.NewRecorder(), req)

	assert.NotEqual(t, "invalid-not-a-uuid", captured)
	_, err := uuid.Parse(captured)
	assert.NoError(t, err)
}

func TestPanicRecovery(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s := New(testConfig(), config.AdminConfig{},
		WithMetrics(m, reg),
		WithRoute("/predict", func(w http.ResponseWriter, r *http.Request) {
			panic("model exploded")
		}),
	)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader("{}")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"InternalError","message":"internal server error"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "exploded")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PanicRecoveries))
}

func TestCORS(t *testing.T) {
	s := newTestServer()
	h := s.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestCORS_RestrictedOrigins(t *testing.T) {
	cfg := testConfig()
	cfg.CORSOrigins = []string{"https://app.example.com"}
	s := New(cfg, config.AdminConfig{}, WithRoute("/predict", okHandler))

	tests := map[string]string{
		"https://app.example.com":  "https://app.example.com",
		"https://evil.example.com": "",
	}
	for origin, want := range tests {
		req := httptest.NewRequest(http.MethodPost, "/predict", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		assert.Equal(t, want, rec.Header().Get("Access-Control-Allow-Origin"), origin)
	}
}

func TestNotFound(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v2/other", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"NotFound"`)
}

func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s := newTestServer(WithMetrics(m, reg))
	h := s.Handler()

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/predict", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/random/path", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/predict", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "other", "404")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.HTTPRequestsInFlight))
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, apperr.Wrap(apperr.KindDecode, "image payload is not valid base64", io.ErrUnexpectedEOF))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"DecodeError","message":"image payload is not valid base64"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	WriteError(rec, apperr.New(apperr.KindMethodNotAllowed, "only POST is supported"))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "POST, OPTIONS", rec.Header().Get("Allow"))
}

func TestRespondJSON_EncodeFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondJSON(rec, http.StatusOK, map[string]any{"bad": make(chan int)})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "InternalError")
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer()
	admin := s.AdminHandler()

	rec := httptest.NewRecorder()
	admin.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	admin.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s.SetReady(true)
	rec = httptest.NewRecorder()
	admin.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ready"`)

}

func TestAdminEndpoints_RejectNonGetAsJSON(t *testing.T) {
	admin := newTestServer().AdminHandler()

	for _, path := range []string{"/healthz", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			admin.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))

			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
			assert.Equal(t, "GET", rec.Header().Get("Allow"))
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.JSONEq(t, `{"error":"MethodNotAllowed","message":"method POST is not allowed, use GET"}`, rec.Body.String())
		})
	}
}

func TestRun_ServesAndShutsDown(t *testing.T) {
	// Bind every listener to an ephemeral loopback port.
	listen := func(network, _ string) (net.Listener, error) {
		return net.Listen(network, "127.0.0.1:0")
	}
	s := New(testConfig(), config.AdminConfig{Port: 9090},
		WithRoute("/predict", okHandler),
		WithListenFunc(listen),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-s.Started():
	case err := <-done:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Post("http://"+s.APIAddr().String()+"/predict", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"prediction":"1"}`, string(body))

	resp, err = http.Get("http://" + s.AdminAddr().String() + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + s.AdminAddr().String() + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "color_api_http_requests_total")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.False(t, s.isReady())
}

func TestRun_BindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig()
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	s := New(cfg, config.AdminConfig{}, WithRoute("/predict", okHandler))

	err = s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to bind API listener")
}
