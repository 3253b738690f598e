package logging

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Middleware logs every request once on completion and stores a request
// scoped logger (tagged with the chi request ID) in the request context.
// Mount it after middleware.RequestID.
func Middleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			requestLogger := logger.WithFields(map[string]interface{}{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"remote":     r.RemoteAddr,
			})
			ctx := (&CtxLogger{requestLogger}).WithContext(r.Context())

			next.ServeHTTP(ww, r.WithContext(ctx))

			latency := time.Since(start)
			fields := map[string]interface{}{
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"latency_ms": float64(latency.Microseconds()) / 1000.0,
				"user_agent": r.UserAgent(),
			}

			switch {
			case ww.Status() >= http.StatusInternalServerError:
				fields["error"] = http.StatusText(ww.Status())
				requestLogger.Error("Request completed", fields)
			case ww.Status() >= http.StatusBadRequest:
				fields["error"] = http.StatusText(ww.Status())
				requestLogger.Warn("Request completed", fields)
			default:
				requestLogger.Debug("Request completed", fields)
			}
		})
	}
}
