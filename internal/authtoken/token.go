// Package authtoken validates bearer tokens on the HTTP transport's ingress
// handler before a message is normalized and handed to the dispatcher.
// Adapted from the teacher's internal/auth: the JWT issuing/validation core
// is unchanged, the gRPC interceptor wrapper is replaced with a net/http
// middleware since nexus-core's HTTP ingress is the only transport with a
// bearer-token boundary (chat transports authenticate at the SDK layer).
package authtoken

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nexuscore/runtime/pkg/models"
)

var (
	ErrDisabled      = errors.New("authtoken: disabled")
	ErrInvalidToken  = errors.New("authtoken: invalid token")
	ErrMissingBearer = errors.New("authtoken: missing bearer token")
)

// Claims is the JWT payload embedded in issued tokens.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Service issues and validates bearer tokens for the HTTP ingress.
type Service struct {
	secret []byte
	expiry time.Duration
}

// NewService builds a Service. An empty secret disables auth entirely:
// Validate always returns ErrDisabled and the middleware passes every
// request through unauthenticated, matching the teacher's "auth optional
// in dev" default.
func NewService(secret string, expiry time.Duration) *Service {
	return &Service{secret: []byte(secret), expiry: expiry}
}

// Enabled reports whether a secret is configured.
func (s *Service) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

// Issue signs a token for the given user.
func (s *Service) Issue(user *models.User) (string, error) {
	if !s.Enabled() {
		return "", ErrDisabled
	}
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return "", errors.New("authtoken: user id required")
	}

	claims := Claims{
		Email: strings.TrimSpace(user.Email),
		Name:  strings.TrimSpace(user.Name),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  user.ID,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if s.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(s.expiry))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and verifies a bearer token, returning the user it names.
func (s *Service) Validate(token string) (*models.User, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return &models.User{ID: claims.Subject, Email: claims.Email, Name: claims.Name}, nil
}

type userContextKey struct{}

// WithUser attaches a user to the context.
func WithUser(ctx context.Context, user *models.User) context.Context {
	if user == nil {
		return ctx
	}
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext retrieves a user attached by Middleware.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userContextKey{}).(*models.User)
	return user, ok
}

// Middleware enforces a valid bearer token on every request before it
// reaches the HTTP ingress handler that normalizes messages for the
// dispatcher. A disabled Service is a no-op pass-through.
func Middleware(service *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !service.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			token, err := bearerToken(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			user, err := service.Validate(token)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", ErrMissingBearer
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", ErrMissingBearer
	}
	return token, nil
}
