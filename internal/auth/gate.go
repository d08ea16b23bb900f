package auth

import (
	"log/slog"
	"net/http"
	"strings"

	apperrors "github.com/SaleDjerfi/shopit/pkg/errors"
	"github.com/SaleDjerfi/shopit/pkg/logger"
	"github.com/SaleDjerfi/shopit/pkg/middleware"
)

// TokenCookie is the cookie the storefront stores its session token in.
const TokenCookie = "token"

// Gate authenticates requests and builds the guards routes are composed from.
type Gate struct {
	verifier *Verifier
}

// NewGate creates a gate backed by v.
func NewGate(v *Verifier) *Gate {
	return &Gate{verifier: v}
}

// Authenticate reads the bearer token, else the token cookie, and verifies it.
func (g *Gate) Authenticate(r *http.Request) (*Identity, error) {
	token := bearerToken(r)
	if token == "" {
		if c, err := r.Cookie(TokenCookie); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		return nil, apperrors.Unauthenticated("login first to access this resource")
	}

	id, err := g.verifier.Verify(token)
	if err != nil {
		logger.FromContext(r.Context()).WarnContext(r.Context(), "rejected identity token",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		return nil, apperrors.Unauthenticated("invalid or expired token")
	}
	return id, nil
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireIdentity authenticates the request and stores the identity on its
// context, tagging the request logger with the caller.
func (g *Gate) RequireIdentity() middleware.Guard {
	return func(r *http.Request) (*http.Request, error) {
		id, err := g.Authenticate(r)
		if err != nil {
			return nil, err
		}
		ctx := NewContext(r.Context(), id)
		ctx = logger.WithIdentity(ctx, id.ID, string(id.Role))
		return r.WithContext(ctx), nil
	}
}

// RequireRole admits only identities holding one of roles. It must follow
// RequireIdentity in a guard chain.
func RequireRole(roles ...Role) middleware.Guard {
	return func(r *http.Request) (*http.Request, error) {
		id, _ := IdentityFromContext(r.Context())
		if err := Authorize(id, roles...); err != nil {
			return nil, err
		}
		return r, nil
	}
}

// IdentityKey keys per-caller limits by identity id.
func IdentityKey(r *http.Request) string {
	if id, ok := IdentityFromContext(r.Context()); ok {
		return id.ID
	}
	return ""
}
