package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
port: "8080"
databaseURL: "postgres://localhost/worklink"
redisAddr: "localhost:6379"
tokenSecret: "secret"
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxUploadBytes != 10<<20 {
		t.Fatalf("unexpected upload default: %d", cfg.MaxUploadBytes)
	}
	if cfg.SendRateLimitPerMinute != 60 {
		t.Fatalf("unexpected rate limit default: %d", cfg.SendRateLimitPerMinute)
	}
	if cfg.ShutdownTimeoutSeconds != 10 {
		t.Fatalf("unexpected shutdown default: %d", cfg.ShutdownTimeoutSeconds)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://override/worklink")
	t.Setenv("TOKEN_SECRET", "env-secret")

	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://override/worklink" {
		t.Fatalf("DATABASE_URL override not applied: %q", cfg.DatabaseURL)
	}
	if cfg.TokenSecret != "env-secret" {
		t.Fatalf("TOKEN_SECRET override not applied: %q", cfg.TokenSecret)
	}
}

func TestLoadRejectsMissingRequired(t *testing.T) {
	cases := []struct {
		name string
		drop string
	}{
		{"port", "port:"},
		{"database", "databaseURL:"},
		{"redis", "redisAddr:"},
		{"secret", "tokenSecret:"},
	}
	for _, tc := range cases {
		var lines []string
		for _, line := range strings.Split(minimalConfig, "\n") {
			if strings.HasPrefix(line, tc.drop) {
				continue
			}
			lines = append(lines, line)
		}
		_, err := Load(writeConfig(t, strings.Join(lines, "\n")))
		if err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestParseJWTLeeway(t *testing.T) {
	if d, err := ParseJWTLeeway(""); err != nil || d != 0 {
		t.Fatalf("empty leeway: d=%v err=%v", d, err)
	}
	if d, err := ParseJWTLeeway("45"); err != nil || d != 45*time.Second {
		t.Fatalf("integer leeway: d=%v err=%v", d, err)
	}
	if d, err := ParseJWTLeeway("2m"); err != nil || d != 2*time.Minute {
		t.Fatalf("duration leeway: d=%v err=%v", d, err)
	}
	if _, err := ParseJWTLeeway("soon"); err == nil {
		t.Fatalf("expected error for malformed leeway")
	}
}
