package api

import (
	"net/http"
	"strconv"
	"time"

	xlog "github.com/ManuGH/loopsync/internal/log"
	"github.com/ManuGH/loopsync/internal/metrics"
)

// statusRecorder captures the response code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The websocket endpoint hijacks the connection; wrapping its
		// ResponseWriter would break the upgrade.
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		class := strconv.Itoa(rec.code/100) + "xx"
		metrics.HTTPRequests.WithLabelValues(r.URL.Path, class).Inc()
		s.logger.Info().
			Str(xlog.FieldEvent, "http.request").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.code).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}
