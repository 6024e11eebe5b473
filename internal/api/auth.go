package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt"

	"github.com/npezzotti/gochat-realtime/internal/types"
)

const (
	tokenCookieKey = "token"
	tokenQueryKey  = "token"
	bearerPrefix   = "Bearer "
)

var errNoToken = errors.New("no token presented")

// Claims are issued by the account service; the gateway only verifies them.
type Claims struct {
	Id       string `json:"id"`
	Username string `json:"username"`
	jwt.StandardClaims
}

type contextKey string

const userKey contextKey = "user"

func WithUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func UserFromContext(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(userKey).(types.User)
	return user, ok
}

// tokenFromRequest looks for a token in the Authorization header, then the
// token query parameter, then the token cookie.
func tokenFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		if !strings.HasPrefix(h, bearerPrefix) {
			return "", fmt.Errorf("malformed authorization header")
		}
		return strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix)), nil
	}

	if t := r.URL.Query().Get(tokenQueryKey); t != "" {
		return t, nil
	}

	if c, err := r.Cookie(tokenCookieKey); err == nil && c.Value != "" {
		return c.Value, nil
	}

	return "", errNoToken
}

func (s *GoChatApp) verifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	if claims.Id == "" {
		return nil, fmt.Errorf("token has no user id")
	}

	return claims, nil
}
