package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	apperrors "github.com/SaleDjerfi/shopit/pkg/errors"
	"github.com/SaleDjerfi/shopit/pkg/httputil"
	"github.com/SaleDjerfi/shopit/pkg/logger"
)

// Recovery turns a handler panic into a 500 INTERNAL_ERROR envelope.
func Recovery(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					l.ErrorContext(r.Context(), "panic recovered",
						slog.Any("panic", rec),
						slog.String("stack", string(debug.Stack())),
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
					)
					httputil.Fail(w, http.StatusInternalServerError, &httputil.ErrorResponse{
						Code:      apperrors.CodeInternal,
						Message:   "an internal error occurred",
						RequestID: logger.CorrelationIDFromContext(r.Context()),
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
