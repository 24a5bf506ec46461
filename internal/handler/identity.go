package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// UserHeader optionally names the caller. Without it every request acts
// as the default user.
const UserHeader = "X-User-ID"

type userKey struct{}

// withUser resolves the caller and stores it in the request context.
func withUser(defaultUser uuid.UUID) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := defaultUser
			if h := r.Header.Get(UserHeader); h != "" {
				id, err := uuid.Parse(h)
				if err != nil {
					WriteError(w, http.StatusBadRequest, "invalid_request", UserHeader+" must be a valid UUID")
					return
				}
				user = id
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
		})
	}
}

func userFrom(ctx context.Context) uuid.UUID {
	user, _ := ctx.Value(userKey{}).(uuid.UUID)
	return user
}
