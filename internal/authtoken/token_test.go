package authtoken

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nexuscore/runtime/pkg/models"
)

func TestServiceIssueValidate(t *testing.T) {
	s := NewService("secret", time.Hour)
	token, err := s.Issue(&models.User{ID: "user-1", Email: "user@example.com", Name: "User"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	user, err := s.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if user.ID != "user-1" || user.Email != "user@example.com" {
		t.Fatalf("unexpected user = %+v", user)
	}
}

func TestServiceValidateRejectsBadToken(t *testing.T) {
	s := NewService("secret", time.Hour)
	if _, err := s.Validate("garbage"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestServiceDisabledWithoutSecret(t *testing.T) {
	s := NewService("", 0)
	if s.Enabled() {
		t.Fatal("expected disabled service")
	}
	if _, err := s.Validate("anything"); err != ErrDisabled {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestMiddlewarePassesThroughWhenDisabled(t *testing.T) {
	mw := Middleware(NewService("", 0))
	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if !called {
		t.Fatal("expected handler to run when auth is disabled")
	}
}

func TestMiddlewareRejectsMissingBearer(t *testing.T) {
	mw := Middleware(NewService("secret", time.Hour))
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run without a token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestMiddlewareAcceptsValidBearer(t *testing.T) {
	svc := NewService("secret", time.Hour)
	token, err := svc.Issue(&models.User{ID: "user-1"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	mw := Middleware(svc)
	var gotUser *models.User
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = UserFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if gotUser == nil || gotUser.ID != "user-1" {
		t.Fatalf("expected user-1 in context, got %+v", gotUser)
	}
}
