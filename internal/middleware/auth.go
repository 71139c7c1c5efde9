package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/auth"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// UserIDKey is the context key for storing the authenticated user ID.
	UserIDKey contextKey = "user_id"
	// EmailKey is the context key for storing the authenticated user's email.
	EmailKey contextKey = "email"
)

// ErrActingAsOther rejects a request on behalf of someone other than the
// authenticated user.
var ErrActingAsOther = errors.New("cannot act on behalf of another user")

// GetUserID extracts the user ID from the context.
// Returns empty string if not found.
func GetUserID(ctx context.Context) string {
	userID, _ := ctx.Value(UserIDKey).(string)
	return userID
}

// GetEmail extracts the user email from the context.
// Returns empty string if not found.
func GetEmail(ctx context.Context) string {
	email, _ := ctx.Value(EmailKey).(string)
	return email
}

// WithUser returns ctx carrying an authenticated identity.
func WithUser(ctx context.Context, userID, email string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, EmailKey, email)
}

// Actor resolves who a request acts as. Without an authenticated user,
// which is the case when authentication is disabled, the claimed ID is
// trusted. Otherwise the claim must match the token, and an empty claim
// means the token's user.
func Actor(ctx context.Context, claimed string) (string, error) {
	authed := GetUserID(ctx)
	switch {
	case authed == "":
		if claimed == "" {
			return "", connect.NewError(connect.CodeInvalidArgument, errors.New("user id is required"))
		}
		return claimed, nil
	case claimed == "" || claimed == authed:
		return authed, nil
	default:
		return "", connect.NewError(connect.CodePermissionDenied, fmt.Errorf("%w: %s", ErrActingAsOther, claimed))
	}
}

// RequireAuth returns an interceptor that validates bearer tokens and adds
// the user ID and email to the request context.
func RequireAuth(jwtManager *auth.JWTManager) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			authHeader := req.Header().Get("Authorization")
			if authHeader == "" {
				return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrMissingToken)
			}

			tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || tokenString == "" {
				return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrInvalidToken)
			}

			claims, err := jwtManager.Validate(tokenString)
			if err != nil {
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}

			return next(WithUser(ctx, claims.UserID(), claims.Email), req)
		}
	}
}
