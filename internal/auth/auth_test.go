package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSupMCU/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"
)

func fastHash(t *testing.T, password string) string {
	t.Helper()
	h, err := NewPasswordHasherWithParams(64, 1).HashPassword(password)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestPasswordRoundTrip(t *testing.T) {
	ph := NewPasswordHasherWithParams(64, 1)
	hash, err := ph.HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := ph.VerifyPassword("s3cret", hash); err != nil || !ok {
		t.Errorf("verify correct password: ok=%v err=%v", ok, err)
	}
	if ok, _ := ph.VerifyPassword("wrong", hash); ok {
		t.Error("wrong password verified")
	}
	if _, err := ph.VerifyPassword("x", "$bcrypt$whatever"); err == nil {
		t.Error("foreign hash format accepted")
	}
}

func TestJWTRoundTrip(t *testing.T) {
	j := NewJWTHandler("test-secret", time.Minute)
	id := uuid.New()
	token, expires, err := j.GenerateAccessToken(id, "ops", RoleCommander)
	if err != nil {
		t.Fatal(err)
	}
	if time.Until(expires) > time.Minute {
		t.Errorf("expires = %v", expires)
	}
	claims, err := j.ValidateAccessToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != id || claims.Role != RoleCommander || claims.Issuer != issuer {
		t.Errorf("claims = %+v", claims)
	}

	other := NewJWTHandler("other-secret", time.Minute)
	if _, err := other.ValidateAccessToken(token); err == nil {
		t.Error("token accepted with wrong secret")
	}
}

func TestServiceTokenFormat(t *testing.T) {
	token, hash, err := GenerateServiceToken()
	if err != nil {
		t.Fatal(err)
	}
	if !IsServiceToken(token) {
		t.Errorf("generated token %q not recognised", token)
	}
	if HashServiceToken(token) != hash {
		t.Error("hash mismatch")
	}
	if IsServiceToken("smcu_short") || IsServiceToken("eyJhbGciOi") {
		t.Error("bad token accepted")
	}
}

func TestPasswordHasherFromConfig(t *testing.T) {
	tests := []struct {
		name       string
		cfg        config.AuthConfig
		wantMemory uint32
		wantIter   uint32
	}{
		{"configured", config.AuthConfig{PasswordMemoryKiB: 256, PasswordIterations: 2}, 256, 2},
		{"zero falls back", config.AuthConfig{}, 128 * 1024, 4},
		{"memory only", config.AuthConfig{PasswordMemoryKiB: 512}, 512, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPasswordHasherFromConfig(tt.cfg).Params()
			if p.Memory != tt.wantMemory || p.Iterations != tt.wantIter {
				t.Errorf("params = m=%d t=%d, want m=%d t=%d", p.Memory, p.Iterations, tt.wantMemory, tt.wantIter)
			}
		})
	}

	ph := NewPasswordHasherFromConfig(config.AuthConfig{PasswordMemoryKiB: 256, PasswordIterations: 2})
	hash, err := ph.HashPassword("pw")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(hash, "$m=256,t=2,") {
		t.Errorf("hash %q does not carry configured params", hash)
	}
}

func TestNeedsRehash(t *testing.T) {
	weak := fastHash(t, "pw")
	strong, err := NewPasswordHasherWithParams(256, 2).HashPassword("pw")
	if err != nil {
		t.Fatal(err)
	}
	ph := NewPasswordHasherWithParams(256, 2)
	tests := []struct {
		name string
		hash string
		want bool
	}{
		{"weaker params", weak, true},
		{"same params", strong, false},
		{"garbage", "$argon2id$v=19$broken", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ph.NeedsRehash(tt.hash); got != tt.want {
				t.Errorf("NeedsRehash = %v, want %v", got, tt.want)
			}
		})
	}

	// old hashes still verify with a stronger hasher
	if ok, err := ph.VerifyPassword("pw", weak); err != nil || !ok {
		t.Errorf("verify weak hash: ok=%v err=%v", ok, err)
	}
	if _, err := ph.VerifyPassword("pw", "$argon2id$v=19$broken"); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("err = %v, want ErrInvalidHash", err)
	}
}

func newTestService(t *testing.T) (*AuthService, string) {
	t.Helper()
	token, hash, err := GenerateServiceToken()
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.AuthConfig{
		AccessTokenTTL:         time.Minute,
		MaxFailedLoginAttempts: 3,
		AccountLockDuration:    time.Hour,
		Users: []config.UserConfig{
			{Username: "ops", PasswordHash: fastHash(t, "pw"), Role: "operator"},
			{Username: "root", PasswordHash: fastHash(t, "pw"), Role: "admin"},
		},
		ServiceTokens: []config.ServiceTokenConfig{
			{Name: "ground", TokenHash: hash, Role: "commander"},
		},
	}
	store, err := NewStaticStore(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return NewAuthService(store, cfg, zaptest.NewLogger(t)), token
}

func TestLoginAndValidate(t *testing.T) {
	svc, serviceToken := newTestService(t)
	ctx := context.Background()

	token, _, err := svc.Login(ctx, "ROOT", "pw")
	if err != nil {
		t.Fatal(err)
	}
	p, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatal(err)
	}
	if p.Subject != "root" || !p.Has(PermAdmin) || !p.Has(PermOperator) {
		t.Errorf("principal = %+v", p)
	}

	p, err = svc.ValidateToken(ctx, serviceToken)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Service || !p.Has(PermCommander) || p.Has(PermAdmin) {
		t.Errorf("service principal = %+v", p)
	}

	if _, err := svc.ValidateToken(ctx, "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
	if _, _, err := svc.Login(ctx, "nobody", "pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: err = %v", err)
	}
}

func TestLoginLockout(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, err := svc.Login(ctx, "ops", "bad"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: err = %v", i, err)
		}
	}
	if _, _, err := svc.Login(ctx, "ops", "pw"); !errors.Is(err, ErrAccountLocked) {
		t.Errorf("err = %v, want ErrAccountLocked", err)
	}
	if _, _, err := svc.Login(ctx, "root", "pw"); err != nil {
		t.Errorf("other account affected: %v", err)
	}
}

func TestStaticStoreRejectsBadRole(t *testing.T) {
	_, err := NewStaticStore(config.AuthConfig{Users: []config.UserConfig{{Username: "x", Role: "god"}}})
	if err == nil {
		t.Error("unknown role accepted")
	}
}

func TestRequirePermission(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, _ := newTestService(t)
	opToken, _, err := svc.Login(context.Background(), "ops", "pw")
	if err != nil {
		t.Fatal(err)
	}

	r := gin.New()
	r.GET("/read", svc.AuthMiddleware(), RequirePermission(PermOperator), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/write", svc.AuthMiddleware(), RequirePermission(PermCommander), func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		path   string
		header string
		want   int
	}{
		{"/read", "", http.StatusUnauthorized},
		{"/read", "Token abc", http.StatusUnauthorized},
		{"/read", "Bearer " + opToken, http.StatusOK},
		{"/write", "Bearer " + opToken, http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tt.want {
			t.Errorf("%s with %q: status %d, want %d", tt.path, tt.header, w.Code, tt.want)
		}
	}
}
