package providers

import (
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-Id"

// accessWriter records the status and body size of a response.
type accessWriter struct {
	http.ResponseWriter
	status int
	bytes  uint64
}

func (w *accessWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *accessWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += uint64(n)
	return n, err
}

func (w *accessWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// MetricsMiddleware counts and times requests under endpoint, tags each
// response with a request id and writes one access line to the log of the
// request's method type. A panicking handler is answered with 500.
func MetricsMiddleware(metrics MetricsProviderInterface, logger Logger, endpoint string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		start := time.Now()
		aw := &accessWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if rec := recover(); rec != nil {
				if logger != nil {
					logger.Errorf(TypeApp, "%s %s [%s] panicked: %v", r.Method, endpoint, id, rec)
				}
				aw.status = http.StatusInternalServerError
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}

			duration := time.Since(start)
			metrics.IncRequestsTotal(endpoint, aw.status)
			metrics.ObserveRequestDuration(endpoint, duration)
			if logger != nil {
				logger.Debugf(GetLogTypeByRequestType(r.Method), "%s %s %d %s %s [%s]",
					r.Method, r.URL.Path, aw.status, humanize.Bytes(aw.bytes), duration, id)
			}
		}()

		next.ServeHTTP(aw, r)
	})
}
