// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers token extraction, validation, and subject propagation

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var httpTestSecret = []byte("http-middleware-test-secret-32b!")

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	verifier := NewJWTVerifier(httpTestSecret)

	subject := "operator-123"
	token, err := verifier.Generate(subject, time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	middleware := HTTPAuthMiddleware(verifier)

	// Create test handler that checks context
	var gotAuthCtx *AuthContext
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuthCtx = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	middleware(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if gotAuthCtx == nil {
		t.Fatal("expected AuthContext in context")
	}
	if gotAuthCtx.Subject != subject {
		t.Errorf("expected subject %q, got %q", subject, gotAuthCtx.Subject)
	}
}

func TestHTTPAuthMiddleware_MissingAuthHeader(t *testing.T) {
	verifier := NewJWTVerifier(httpTestSecret)
	middleware := HTTPAuthMiddleware(verifier)

	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	rec := httptest.NewRecorder()

	middleware(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}
	if called {
		t.Error("handler should not be called without auth header")
	}
}

func TestHTTPAuthMiddleware_MalformedHeader(t *testing.T) {
	verifier := NewJWTVerifier(httpTestSecret)
	middleware := HTTPAuthMiddleware(verifier)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	})

	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"empty token", "Bearer "},
		{"lowercase bearer", "bearer abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
			req.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()

			middleware(handler).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", rec.Code)
			}
		})
	}
}

func TestHTTPAuthMiddleware_InvalidToken(t *testing.T) {
	verifier := NewJWTVerifier(httpTestSecret)
	middleware := HTTPAuthMiddleware(verifier)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called with invalid token")
	})

	// Token signed with a different secret
	otherVerifier := NewJWTVerifier([]byte("some-other-secret"))
	token, _ := otherVerifier.Generate("operator-123", time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	middleware(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		wantToken string
		wantErr   bool
	}{
		{"valid", "Bearer abc123", "abc123", false},
		{"missing", "", "", true},
		{"wrong scheme", "Basic abc123", "", true},
		{"empty token", "Bearer ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, errMsg := extractBearerToken(tt.header)
			if tt.wantErr && errMsg == "" {
				t.Error("expected error message, got none")
			}
			if !tt.wantErr && errMsg != "" {
				t.Errorf("unexpected error message: %s", errMsg)
			}
			if token != tt.wantToken {
				t.Errorf("token = %q, want %q", token, tt.wantToken)
			}
		})
	}
}
