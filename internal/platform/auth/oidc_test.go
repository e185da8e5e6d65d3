package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

func TestRequireOIDC_Success(t *testing.T) {
	validator, token := setupOIDCTest(t, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/payments/pi_1:reconcile", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	validator.RequireOIDC("https://checkout.example.com", []string{"https://accounts.google.com"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := ServiceIdentityFromContext(r.Context())
			if !ok {
				t.Fatalf("expected service identity in context")
			}
			if identity.Email != "tasks@example.iam.gserviceaccount.com" {
				t.Fatalf("unexpected email %s", identity.Email)
			}
			w.WriteHeader(http.StatusNoContent)
		}),
	).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
}

func TestRequireOIDC_Rejections(t *testing.T) {
	validator, token := setupOIDCTest(t, nil)

	tests := []struct {
		name     string
		audience string
		issuers  []string
		header   string
		want     int
	}{
		{name: "audience mismatch", audience: "https://other.example.com", issuers: []string{"https://accounts.google.com"}, header: "Bearer " + token, want: http.StatusUnauthorized},
		{name: "issuer mismatch", audience: "https://checkout.example.com", issuers: []string{"https://cloud.google.com/iap"}, header: "Bearer " + token, want: http.StatusUnauthorized},
		{name: "missing token", audience: "https://checkout.example.com", want: http.StatusUnauthorized},
		{name: "audience not configured", audience: "", header: "Bearer " + token, want: http.StatusServiceUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/internal/test", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			validator.RequireOIDC(tc.audience, tc.issuers)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler should not be called")
			})).ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

func TestRequireOIDC_JWKSUnavailable(t *testing.T) {
	validator, token := setupOIDCTest(t, nil)
	validator.cache.url = "http://127.0.0.1:1/invalid"

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	validator.RequireOIDC("https://checkout.example.com", nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestParseMaxAge(t *testing.T) {
	if got := parseMaxAge("public, max-age=600, must-revalidate"); got != 10*time.Minute {
		t.Fatalf("expected 10m, got %s", got)
	}
	if got := parseMaxAge("no-cache"); got != 0 {
		t.Fatalf("expected 0, got %s", got)
	}
}

func setupOIDCTest(t *testing.T, mutateClaims func(jwt.MapClaims)) (*OIDCValidator, string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: "svc-key", Algorithm: jwt.SigningMethodRS256.Alg(), Use: "sig"}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "max-age=600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(server.Close)

	now := time.Now()
	validator := NewOIDCValidator(NewJWKSCache(server.URL, WithJWKSLogger(noopLogger{})), noopLogger{})

	claims := jwt.MapClaims{
		"aud":   []string{"https://checkout.example.com"},
		"iss":   "https://accounts.google.com",
		"sub":   "1234567890",
		"email": "tasks@example.iam.gserviceaccount.com",
		"exp":   float64(now.Add(time.Hour).Unix()),
		"iat":   float64(now.Unix()),
	}
	if mutateClaims != nil {
		mutateClaims(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "svc-key"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return validator, signed
}
