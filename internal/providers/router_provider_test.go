package providers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dummyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestRouterProvider_RecordsRoutes(t *testing.T) {
	rp := NewRouterProvider()
	rp.Get("/feed", dummyHandler())
	rp.Post("/read", dummyHandler())

	routes := rp.GetRoutes()
	require.Len(t, routes, 2)
	assert.Equal(t, "/feed", routes[0].Url)
	assert.Equal(t, http.MethodGet, routes[0].Method)
	assert.Equal(t, "/read", routes[1].Url)
	assert.Equal(t, http.MethodPost, routes[1].Method)
}

func TestMethodHandler_CorrectMethod(t *testing.T) {
	handler := methodHandler(http.MethodGet, dummyHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/feed", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}

func TestMethodHandler_WrongMethod(t *testing.T) {
	handler := methodHandler(http.MethodPost, dummyHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/read", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, http.MethodPost, rr.Header().Get("Allow"))
}

func TestRouterProvider_MountInstrumentsByPattern(t *testing.T) {
	rp := NewRouterProvider()
	rp.Get("/feed", dummyHandler())
	rp.Post("/read", dummyHandler())
	metrics := newTestMetrics()
	mux := http.NewServeMux()

	rp.Mount(mux, metrics, &testLogger{})

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/feed", nil),
		httptest.NewRequest(http.MethodGet, "/read", nil),
		httptest.NewRequest(http.MethodPost, "/read", nil),
	} {
		mux.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, 1, metrics.requests["/feed 2xx"])
	assert.Equal(t, 1, metrics.requests["/read 4xx"])
	assert.Equal(t, 1, metrics.requests["/read 2xx"])
}
