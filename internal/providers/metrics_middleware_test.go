package providers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsMiddleware_CapturesStatusAndEndpoint(t *testing.T) {
	metrics := newTestMetrics()
	logger := &testLogger{}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	mw := MetricsMiddleware(metrics, logger, "/read", handler)

	req := httptest.NewRequest(http.MethodPost, "/read", nil)
	rr := httptest.NewRecorder()
	mw.ServeHTTP(rr, req)

	assert.Equal(t, 1, metrics.requests["/read 4xx"])
	assert.Equal(t, 1, metrics.durations["/read"])
	assert.Equal(t, []TypeEnum{TypePost}, logger.types)
}

func TestMetricsMiddleware_DefaultStatus200(t *testing.T) {
	metrics := newTestMetrics()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	mw := MetricsMiddleware(metrics, nil, "/feed", handler)
	mw.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/feed?x=1", nil))

	assert.Equal(t, 1, metrics.requests["/feed 2xx"])
}

func TestMetricsMiddleware_RequestID(t *testing.T) {
	mw := MetricsMiddleware(newTestMetrics(), nil, "/feed", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rr := httptest.NewRecorder()
	mw.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/feed", nil))
	assert.Len(t, rr.Header().Get(RequestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/feed", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rr = httptest.NewRecorder()
	mw.ServeHTTP(rr, req)
	assert.Equal(t, "req-42", rr.Header().Get(RequestIDHeader))
}

func TestMetricsMiddleware_PanicAnswers500(t *testing.T) {
	metrics := newTestMetrics()
	logger := &testLogger{}
	mw := MetricsMiddleware(metrics, logger, "/open", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	mw.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/open", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, 1, metrics.requests["/open 5xx"])
	assert.Equal(t, []TypeEnum{TypeApp, TypePost}, logger.types)
}

func TestAccessWriter_CountsBytes(t *testing.T) {
	rr := httptest.NewRecorder()
	aw := &accessWriter{ResponseWriter: rr, status: http.StatusOK}

	_, _ = aw.Write([]byte("hello"))
	_, _ = aw.Write([]byte(" inbox"))

	assert.Equal(t, uint64(11), aw.bytes)
	assert.Equal(t, rr, aw.Unwrap())
}
