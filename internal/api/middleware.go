package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ms-orders/internal/auth"
	"ms-orders/internal/logger"
)

// RequestLogger logs one line per request with the caller's subject claim.
// The claim is read unverified straight from the bearer token; it only
// enriches the log line, the OIDC middleware downstream makes the actual
// authentication decision.
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			caller := "anonymous"
			if token, err := auth.ExtractTokenFromRequest(r); err == nil {
				if sub, err := auth.ExtractUserIDFromJWT(token); err == nil {
					caller = sub
				}
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			log.LogAPI(r.Method, fmt.Sprintf("%s [%s]", r.URL.Path, caller), strconv.Itoa(rec.status), time.Since(start).String())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
