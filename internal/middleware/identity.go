package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/buildhive/buildhive/internal/domain"
	"github.com/buildhive/buildhive/internal/domain/user"
	"github.com/buildhive/buildhive/internal/port/database"
)

const headerUserID = "X-User-ID"

type userKey struct{}

// Identity resolves the calling user from the X-User-ID header and stores
// the loaded user in the request context. Requests without a valid user are
// rejected; authentication itself happens upstream at the API gateway.
func Identity(store database.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(headerUserID)
			if id == "" {
				http.Error(w, `{"error":"missing X-User-ID header"}`, http.StatusUnauthorized)
				return
			}

			u, err := store.GetUser(r.Context(), id)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					http.Error(w, `{"error":"unknown user"}`, http.StatusUnauthorized)
					return
				}
				http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), userKey{}, u)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext returns the user loaded by Identity, or nil.
func UserFromContext(ctx context.Context) *user.User {
	u, _ := ctx.Value(userKey{}).(*user.User)
	return u
}
