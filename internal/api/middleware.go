package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/D0NMEGA/MoltGrid/internal/db"
	"github.com/D0NMEGA/MoltGrid/internal/identity"
)

// apiKeyHeader carries the agent's API key on every authenticated call.
const apiKeyHeader = "X-API-Key"

// contextKey is an unexported type for context keys defined in this package.
// Using a custom type prevents collisions with keys defined in other packages.
type contextKey int

const (
	// contextKeyAgent is the context key under which the authenticated
	// *db.Agent is stored after key resolution.
	contextKeyAgent contextKey = iota
)

// Authenticate validates the X-API-Key header and stores the resolved agent
// in the request context for downstream handlers. The status code separates
// the transport mistake from the auth failure: a missing header is 422, an
// unknown key 401, an exhausted rate window 429.
func Authenticate(ident *identity.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(apiKeyHeader)
			if key == "" {
				ErrUnprocessable(w, "missing X-API-Key header")
				return
			}

			agent, err := ident.Authenticate(r.Context(), key)
			if err != nil {
				switch {
				case errors.Is(err, identity.ErrInvalidKey):
					ErrUnauthorized(w)
				case errors.Is(err, identity.ErrRateLimited):
					ErrRateLimited(w)
				default:
					ErrInternal(w)
				}
				return
			}

			ctx := context.WithValue(r.Context(), contextKeyAgent, agent)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger returns a Chi-compatible middleware that logs each request
// using the provided zap logger. Chi's middleware.RequestID is expected to
// run before this middleware so the request ID is available in the context.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// agentFromCtx retrieves the agent stored by the Authenticate middleware.
// Returns nil on unauthenticated routes.
func agentFromCtx(ctx context.Context) *db.Agent {
	agent, _ := ctx.Value(contextKeyAgent).(*db.Agent)
	return agent
}
