package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func mintToken(t *testing.T, secret, role string) string {
	t.Helper()
	claims := moderatorClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "moderator-1",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func protectedEndpoint(t *testing.T) http.Handler {
	return AdminJWT(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, ok := ModeratorRoleFromContext(r.Context())
		if !ok {
			t.Error("expected moderator role in context")
		}
		if role == "" {
			t.Error("expected non-empty role")
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestAdminJWT(t *testing.T) {
	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{
			name:       "admin role passes",
			authHeader: "Bearer " + mintToken(t, testSecret, "admin"),
			wantStatus: http.StatusOK,
		},
		{
			name:       "moderator role passes",
			authHeader: "Bearer " + mintToken(t, testSecret, "moderator"),
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing header rejected",
			authHeader: "",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong secret rejected",
			authHeader: "Bearer " + mintToken(t, "other-secret", "admin"),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "valid signature without role forbidden",
			authHeader: "Bearer " + mintToken(t, testSecret, ""),
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "homeowner role forbidden",
			authHeader: "Bearer " + mintToken(t, testSecret, "homeowner"),
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "garbage token rejected",
			authHeader: "Bearer not.a.jwt",
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/conversations/x/decisions", nil)
			if tc.authHeader != "" {
				req.Header.Set("Authorization", tc.authHeader)
			}
			rec := httptest.NewRecorder()
			handler := AdminJWT(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			if tc.wantStatus == http.StatusOK {
				handler = protectedEndpoint(t)
			}
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestAdminJWT_DisabledWithoutSecret(t *testing.T) {
	handler := AdminJWT("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, testSecret, "admin"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
