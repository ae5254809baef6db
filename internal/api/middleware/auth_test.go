package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const (
	testKeyID  = "test-key-pw"
	testIssuer = "https://idp.test/realms/paywall"
)

// generateTestKey генерирует RSA ключ для тестов.
func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	data, _ := json.Marshal(jwks)
	return data
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestJWTAuth(t *testing.T, key *rsa.PrivateKey) *JWTAuth {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}
	return NewJWTAuthWithKeyfunc(kf, testIssuer, []string{"paywall-admins"}, testLogger())
}

type tokenOpts struct {
	sub     string
	issuer  string
	roles   []string
	groups  []string
	expired bool
	method  jwt.SigningMethod
}

func signToken(t *testing.T, key *rsa.PrivateKey, o tokenOpts) string {
	t.Helper()

	exp := time.Now().Add(time.Hour)
	if o.expired {
		exp = time.Now().Add(-time.Hour)
	}
	iss := o.issuer
	if iss == "" {
		iss = testIssuer
	}

	claims := jwt.MapClaims{
		"sub":                o.sub,
		"preferred_username": "alice",
		"email":              "alice@test.com",
		"iss":                iss,
		"exp":                jwt.NewNumericDate(exp),
		"iat":                jwt.NewNumericDate(time.Now()),
	}
	if len(o.roles) > 0 {
		claims["realm_access"] = map[string]any{"roles": o.roles}
	}
	if len(o.groups) > 0 {
		claims["groups"] = o.groups
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestJWTAuth_Roles(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	tests := []struct {
		name     string
		opts     tokenOpts
		wantRole string
	}{
		{"обычный пользователь", tokenOpts{sub: "u1"}, RoleUser},
		{"realm-роль admin", tokenOpts{sub: "u2", roles: []string{"admin"}}, RoleAdmin},
		{"группа администраторов", tokenOpts{sub: "u3", groups: []string{"/paywall-admins"}}, RoleAdmin},
		{"чужая группа", tokenOpts{sub: "u4", groups: []string{"viewers"}}, RoleUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *AuthClaims
			h := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = ClaimsFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/media", nil)
			req.Header.Set("Authorization", "Bearer "+signToken(t, key, tt.opts))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("ожидался 200, получен %d: %s", rec.Code, rec.Body.String())
			}
			if got == nil {
				t.Fatal("claims не найдены в контексте")
			}
			if got.Subject != tt.opts.sub {
				t.Errorf("sub = %q, ожидался %q", got.Subject, tt.opts.sub)
			}
			if got.Role != tt.wantRole {
				t.Errorf("role = %q, ожидалась %q", got.Role, tt.wantRole)
			}
		})
	}
}

func TestJWTAuth_Rejected(t *testing.T) {
	key := generateTestKey(t)
	other := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	tests := []struct {
		name   string
		header string
	}{
		{"без заголовка", ""},
		{"не Bearer", "Basic abc"},
		{"пустой токен", "Bearer "},
		{"мусор", "Bearer not.a.jwt"},
		{"просроченный", "Bearer " + signToken(t, key, tokenOpts{sub: "u1", expired: true})},
		{"чужой issuer", "Bearer " + signToken(t, key, tokenOpts{sub: "u1", issuer: "https://evil"})},
		{"чужой ключ", "Bearer " + signToken(t, other, tokenOpts{sub: "u1"})},
		{"без sub", "Bearer " + signToken(t, key, tokenOpts{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := auth.Middleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/media", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("ожидался 401, получен %d", rec.Code)
			}
			if called {
				t.Error("обработчик не должен вызываться")
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name   string
		claims *AuthClaims
		roles  []string
		want   int
	}{
		{"нет claims", nil, []string{RoleUser}, http.StatusUnauthorized},
		{"user на user-маршруте", &AuthClaims{Subject: "u", Role: RoleUser}, []string{RoleUser}, http.StatusOK},
		{"admin на user-маршруте", &AuthClaims{Subject: "a", Role: RoleAdmin}, []string{RoleUser}, http.StatusOK},
		{"user на admin-маршруте", &AuthClaims{Subject: "u", Role: RoleUser}, []string{RoleAdmin}, http.StatusForbidden},
		{"admin на admin-маршруте", &AuthClaims{Subject: "a", Role: RoleAdmin}, []string{RoleAdmin}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RequireRole(tt.roles...)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.claims != nil {
				req = req.WithContext(WithClaims(req.Context(), tt.claims))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("ожидался %d, получен %d", tt.want, rec.Code)
			}
		})
	}
}

func TestIdPReadinessChecker(t *testing.T) {
	key := generateTestKey(t)
	jwks := buildJWKSetJSON(&key.PublicKey, testKeyID)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write(jwks)
		case "/empty":
			_, _ = w.Write([]byte(`{"keys":[]}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	tests := []struct {
		path string
		want string
	}{
		{"/ok", "ok"},
		{"/empty", "degraded"},
		{"/down", "fail"},
	}
	for _, tt := range tests {
		c, err := NewIdPReadinessChecker(srv.URL+tt.path, "", time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if status, msg := c.CheckReady(); status != tt.want {
			t.Errorf("%s: status = %q (%s), ожидался %q", tt.path, status, msg, tt.want)
		}
	}
}
