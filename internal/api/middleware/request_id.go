package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/forensiq/wacapture/internal/log"
)

// HeaderRequestID carries the request correlation id end to end.
const HeaderRequestID = "X-Request-Id"

// RequestID adds a unique correlation id to every request, honoring a
// caller-supplied one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(HeaderRequestID)
		if reqID == "" {
			reqID = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, reqID)
		ctx := log.ContextWithRequestID(r.Context(), reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
