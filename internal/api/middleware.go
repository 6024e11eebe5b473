package api

import (
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/npezzotti/gochat-realtime/internal/database"
	"github.com/npezzotti/gochat-realtime/internal/telemetry"
)

func (s *GoChatApp) errorHandler(next http.Handler) http.Handler {
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
				s.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// authMiddleware authenticates the handshake once. The verified user is
// loaded from the store and placed on the request context.
func (s *GoChatApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := telemetry.Tracer().Start(r.Context(), "ws.handshake")
		defer span.End()

		reject := func(err error) {
			s.log.Printf("handshake rejected: %v", err)
			span.SetStatus(codes.Error, "unauthenticated")
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
		}

		tokenString, err := tokenFromRequest(r)
		if err != nil {
			reject(err)
			return
		}

		claims, err := s.verifyToken(tokenString)
		if err != nil {
			reject(err)
			return
		}

		user, err := s.db.GetUser(ctx, claims.Id)
		if errors.Is(err, database.ErrNotFound) {
			reject(fmt.Errorf("unknown user %s", claims.Id))
			return
		}
		if err != nil {
			s.log.Printf("GetUser(%s): %v", claims.Id, err)
			span.RecordError(err)
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		span.SetAttributes(attribute.String("user.id", user.Id))
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(WithUser(ctx, user)))
	}
}
