package auth

import (
	"context"
	"net/http"
	"strings"
)

// contextKey is package-private so no other package can read or shadow the value.
type contextKey string

const clientKey contextKey = "client"

// RequireBearer rejects requests without a valid bearer token with 401 and
// stores the token's client name in the request context otherwise.
func RequireBearer(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client, err := extractClient(r, tokens)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="laph"`)
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized","message":"valid bearer token required"}` + "\n"))
				return
			}

			ctx := context.WithValue(r.Context(), clientKey, client)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientFromContext returns the authenticated client, or ("", false) when
// the API runs without auth.
func ClientFromContext(ctx context.Context) (string, bool) {
	client, ok := ctx.Value(clientKey).(string)
	return client, ok && client != ""
}

func extractClient(r *http.Request, tokens *TokenService) (string, error) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errMissingBearer
	}
	return tokens.Validate(strings.TrimSpace(token))
}
