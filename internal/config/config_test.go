package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Port != "8080" {
		t.Errorf("port = %q, want 8080", cfg.Port)
	}
	if cfg.Session.Cookie != "fufnotes_sess" {
		t.Errorf("cookie = %q, want fufnotes_sess", cfg.Session.Cookie)
	}
	if cfg.Session.TTL != 14*24*time.Hour {
		t.Errorf("ttl = %v, want 336h", cfg.Session.TTL)
	}
	if cfg.Session.CookieSecure != nil {
		t.Errorf("cookie secure = %v, want nil", *cfg.Session.CookieSecure)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := applyEnv(cfg, envMap(map[string]string{
		"PORT":                     "9000",
		"SESSION_TTL_SECONDS":      "3600",
		"COOKIE_SECURE":            "0",
		"DEV_USER_ID":              " dev ",
		"TRUST_PROXY":              "0",
		"PASSHROOM_CALLBACK_URL":   "https://notes.example.com/",
		"FUFNOTES_BACKUP_BUCKET":   "b",
		"FUFNOTES_BACKUP_INTERVAL": "6h",
		"FUFNOTES_ALLOWED_ORIGINS": "notes.example.com, *.example.org",
	}))
	if err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Port != "9000" {
		t.Errorf("port = %q, want 9000", cfg.Port)
	}
	if cfg.Session.TTL != time.Hour {
		t.Errorf("ttl = %v, want 1h", cfg.Session.TTL)
	}
	if cfg.Session.CookieSecure == nil || *cfg.Session.CookieSecure {
		t.Errorf("cookie secure = %v, want false", cfg.Session.CookieSecure)
	}
	if cfg.DevUserID != "dev" {
		t.Errorf("dev user = %q, want dev", cfg.DevUserID)
	}
	if cfg.TrustProxy {
		t.Error("trust proxy should be off")
	}
	if cfg.Backup.Interval != 6*time.Hour {
		t.Errorf("backup interval = %v, want 6h", cfg.Backup.Interval)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "*.example.org" {
		t.Errorf("allowed origins = %v", cfg.AllowedOrigins)
	}
}

func TestApplyEnvRejectsBadNumber(t *testing.T) {
	err := applyEnv(Default(), envMap(map[string]string{"SESSION_TTL_SECONDS": "two weeks"}))
	if err == nil || !strings.Contains(err.Error(), "SESSION_TTL_SECONDS") {
		t.Errorf("err = %v, want SESSION_TTL_SECONDS error", err)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fufnotes.toml")
	data := `
port = "7000"
db-path = "/var/lib/fufnotes/notes.db"

[passhroom]
base-url = "https://auth.example.com"
client-id = "fufnotes"
timeout = "5s"

[session]
cookie-secure = true
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PORT", "7100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "7100" {
		t.Errorf("port = %q, want env override 7100", cfg.Port)
	}
	if cfg.DBPath != "/var/lib/fufnotes/notes.db" {
		t.Errorf("db path = %q", cfg.DBPath)
	}
	if cfg.Passhroom.ClientID != "fufnotes" {
		t.Errorf("client id = %q, want fufnotes", cfg.Passhroom.ClientID)
	}
	if cfg.Passhroom.Timeout != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", cfg.Passhroom.Timeout)
	}
	if cfg.Session.CookieSecure == nil || !*cfg.Session.CookieSecure {
		t.Error("cookie secure should be forced on")
	}
	if cfg.Session.StateCookie != "fufnotes_ph_state" {
		t.Errorf("state cookie = %q, want default", cfg.Session.StateCookie)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Session.TTL = 0
	cfg.Passhroom.CallbackURL = "/relative"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"session ttl", "callback url"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}
