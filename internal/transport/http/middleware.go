package httptransport

import (
	"net/http"
	"time"

	"sgpa-enrollment/internal/common/logger"

	"github.com/go-chi/chi/v5/middleware"
)

// requestLogger logs one line per request after it completes.
func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			fields := map[string]interface{}{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"durationMs": time.Since(start).Milliseconds(),
				"requestId":  middleware.GetReqID(r.Context()),
				"remoteAddr": r.RemoteAddr,
			}
			if ww.Status() >= http.StatusInternalServerError {
				log.Warn("HTTP request completed", fields)
				return
			}
			log.Info("HTTP request completed", fields)
		})
	}
}
