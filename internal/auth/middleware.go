package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/alecgard/rolewarden/internal/metrics"
)

// AdminKeyMiddleware returns middleware that authenticates requests
// against the configured admin key hash using a bearer token. An empty
// hash disables the protected routes outright.
func AdminKeyMiddleware(adminKeyHash string, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminKeyHash == "" {
				writeUnauthorized(w, "admin api is disabled")
				return
			}

			token := extractBearerToken(r)
			if token == "" {
				m.AuthFailuresTotal.Inc()
				writeUnauthorized(w, "missing or malformed authorization header")
				return
			}

			if !VerifyKey(adminKeyHash, token) {
				m.AuthFailuresTotal.Inc()
				writeUnauthorized(w, "invalid admin key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error: errorBody{
			Code:    "unauthorized",
			Message: message,
		},
	})
}
