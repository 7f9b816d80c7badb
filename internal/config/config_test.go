package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
buses:
  - name: flatsat
    kind: sim
    modules:
      - address: 0x2A
        cmd_name: BM2
        poll: true
`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.HTTPPort != 8080 || cfg.Server.GRPCPort != 50051 {
		t.Errorf("ports = %d/%d", cfg.Server.HTTPPort, cfg.Server.GRPCPort)
	}
	if cfg.SupMCU.ResponseDelay != 100*time.Millisecond {
		t.Errorf("response delay = %s", cfg.SupMCU.ResponseDelay)
	}
	if cfg.SupMCU.StringReplyLength != 128 {
		t.Errorf("string reply length = %d", cfg.SupMCU.StringReplyLength)
	}
	if len(cfg.Buses) != 1 || cfg.Buses[0].Modules[0].Address != 0x2A || !cfg.Buses[0].Modules[0].Poll {
		t.Errorf("buses = %+v", cfg.Buses)
	}
	if got := cfg.ResponseDelayFor(cfg.Buses[0]); got != 100*time.Millisecond {
		t.Errorf("ResponseDelayFor = %s", got)
	}
	if cfg.Auth.PasswordMemoryKiB != 128*1024 || cfg.Auth.PasswordIterations != 4 {
		t.Errorf("argon2 params = %d KiB / %d", cfg.Auth.PasswordMemoryKiB, cfg.Auth.PasswordIterations)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SUPMCU_SERVER_HTTP_PORT", "9090")
	cfg, err := Load(writeConfig(t, "server:\n  http_port: 8081\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("http port = %d, want 9090 from env", cfg.Server.HTTPPort)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown kind", "buses:\n  - name: a\n    kind: can\n"},
		{"missing device", "buses:\n  - name: a\n    kind: serial\n"},
		{"duplicate bus", "buses:\n  - name: a\n    kind: sim\n  - name: a\n    kind: sim\n"},
		{"address range", "buses:\n  - name: a\n    kind: sim\n    modules:\n      - address: 200\n"},
		{"duplicate address", "buses:\n  - name: a\n    kind: sim\n    modules:\n      - address: 5\n      - address: 5\n"},
		{"definition format", "supmcu:\n  definition_format: xml\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.yaml)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestJWTSecretFallback(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "")
	a := AuthConfig{JWTSecretEnv: "TEST_JWT_SECRET"}
	if a.IsProductionReady() {
		t.Error("dev secret must not be production ready")
	}
	t.Setenv("TEST_JWT_SECRET", "0123456789abcdef0123456789abcdef")
	if !a.IsProductionReady() {
		t.Error("32 char secret should be production ready")
	}
}
