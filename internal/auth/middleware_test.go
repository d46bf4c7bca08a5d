package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/odvcencio/taskhub/internal/auth"
	"github.com/odvcencio/taskhub/internal/models"
)

func TestMiddleware(t *testing.T) {
	svc := auth.NewService("test-secret", time.Hour)
	var captured *auth.Claims
	handler := auth.Middleware(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = auth.GetClaims(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	// No Authorization header passes through unauthenticated.
	captured = nil
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if captured != nil {
		t.Fatal("expected nil claims without a token")
	}

	// Valid token attaches claims.
	token, err := svc.GenerateToken(7, models.RoleDeveloper)
	if err != nil {
		t.Fatal(err)
	}
	captured = nil
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if captured == nil || captured.UserID != 7 {
		t.Fatalf("expected claims for user 7, got %+v", captured)
	}

	// Garbage token is rejected outright.
	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
