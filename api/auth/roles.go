package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/careconnect/backend/api/apierror"
	"github.com/careconnect/backend/api/postgrest"
)

// RoleAdmin is the application role allowed to manage rules and run raw SQL.
const RoleAdmin = "admin"

// RoleChecker answers whether a user holds an application role.
type RoleChecker interface {
	HasRole(ctx context.Context, userID, role string) (bool, error)
}

// UserRoles checks roles in the user_roles table.
type UserRoles struct {
	Client *postgrest.Client
}

func (u *UserRoles) HasRole(ctx context.Context, userID, role string) (bool, error) {
	rows, err := u.Client.From("user_roles").
		Select("role").
		Eq("user_id", userID).
		Eq("role", role).
		Limit(1).
		Rows(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to look up roles: %w", err)
	}
	return len(rows) > 0, nil
}

// RequireRole allows the request only when the authenticated caller has role.
func RequireRole(checker RoleChecker, role string, writeErr ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := UserIDFromContext(r.Context())
			if userID == "" {
				writeErr(w, r, apierror.Authentication("Missing bearer token"))
				return
			}
			ok, err := checker.HasRole(r.Context(), userID, role)
			if err != nil {
				writeErr(w, r, err)
				return
			}
			if !ok {
				writeErr(w, r, apierror.Forbidden("Requires the "+role+" role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
