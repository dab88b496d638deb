package auth

import (
	"context"
	"net/http"

	"github.com/threatscope/console/internal/mlclient"
)

type ctxKey string

const userCtxKey ctxKey = "user"

// RequireLogin is chi middleware that rejects requests while no session is
// stored.
func RequireLogin(s *Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := s.User(r.Context())
			if err != nil || user == nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"authentication required"}`))
				return
			}
			ctx := context.WithValue(r.Context(), userCtxKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserFromCtx extracts the user set by RequireLogin.
func GetUserFromCtx(ctx context.Context) *mlclient.User {
	u, _ := ctx.Value(userCtxKey).(*mlclient.User)
	return u
}
