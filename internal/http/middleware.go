package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/activities-management/internal/application"
)

// RequestIDHeader carries the caller supplied or generated request id.
const RequestIDHeader = "X-Request-ID"

// KeyAuthenticator resolves an API key to the client that owns it.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, key string) (application.Principal, error)
}

// RequireAPIKey rejects requests without a valid bearer API key and stores the
// resolved principal in the request context.
func RequireAPIKey(authenticator KeyAuthenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := bearerToken(r)
			if key == "" {
				responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingAPIKey)
				return
			}

			principal, err := authenticator.Authenticate(r.Context(), key)
			if err != nil {
				if errors.Is(err, application.ErrUnauthorized) {
					responder.writeJSON(r.Context(), w, http.StatusUnauthorized, errorResponse{Message: statusMessage(http.StatusUnauthorized)})
					return
				}
				responder.handleServiceError(r.Context(), w, err)
				return
			}

			logger := LoggerFromContext(r.Context())
			ctx := ContextWithPrincipal(r.Context(), principal)
			if logger != nil {
				ctx = ContextWithLogger(ctx, logger.With("client", principal.ClientName))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequestLogger attaches a request scoped logger tagged with a request id and
// logs the start and completion of each request.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	base = defaultLogger(base)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			logger := base.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)

			ctx := ContextWithLogger(r.Context(), logger)
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			logger.InfoContext(ctx, "request started")
			next.ServeHTTP(recorder, r.WithContext(ctx))
			logger.InfoContext(ctx, "request completed", "status", recorder.status, "duration", time.Since(start))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
