package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/npezzotti/go-relay/internal/auth"
	"github.com/npezzotti/go-relay/internal/database"
	"github.com/npezzotti/go-relay/internal/types"
)

type contextKey string

const (
	userIdKey contextKey = "user-id"
	roleKey   contextKey = "role"
)

func WithUserId(ctx context.Context, userId int) context.Context {
	return context.WithValue(ctx, userIdKey, userId)
}

func UserId(ctx context.Context) (int, bool) {
	userId, ok := ctx.Value(userIdKey).(int)
	return userId, ok
}

func withRole(ctx context.Context, role types.Role) context.Context {
	return context.WithValue(ctx, roleKey, role)
}

func roleFrom(ctx context.Context) types.Role {
	role, _ := ctx.Value(roleKey).(types.Role)
	return role
}

func (s *RelayApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Errorf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// authMiddleware admits requests carrying a valid token for an active
// account. Tokens issued before the account's last password change are
// refused.
func (s *RelayApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := auth.TokenFromRequest(r)
		if !ok {
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		claims, err := s.tokens.Verify(tokenString)
		if err != nil {
			s.log.WithError(err).Info("failed to extract user id from token")
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		account, err := s.db.GetAccountById(claims.UserId)
		if err != nil {
			var errResp *ApiError
			if database.IsNotFound(err) {
				errResp = NewUnauthorizedError()
			} else {
				errResp = NewInternalServerError(err)
			}
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		if claims.IssuedBefore(account.PasswordChangedAt) {
			s.log.WithField("user_id", account.Id).Info("rejecting token issued before password change")
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		if types.AccountStatus(account.Status) == types.AccountInactive {
			errResp := NewForbiddenError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		ctx := WithUserId(r.Context(), account.Id)
		ctx = withRole(ctx, types.Role(account.Role))
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(ctx))
	}
}

// adminMiddleware must run inside authMiddleware. The role comes from the
// account record, not the token.
func (s *RelayApp) adminMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if roleFrom(r.Context()) != types.RoleAdmin {
			errResp := NewForbiddenError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		next(w, r)
	}
}
