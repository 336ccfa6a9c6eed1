// Package config loads fufnotes settings from defaults, an optional TOML
// file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Port   string `toml:"port"`
	DBPath string `toml:"db-path"`

	// DevUserID, when set, authenticates every request as this user.
	DevUserID  string `toml:"dev-user-id"`
	TrustProxy bool   `toml:"trust-proxy"`

	// AllowedOrigins are host patterns accepted on WebSocket upgrades in
	// addition to the request host.
	AllowedOrigins []string `toml:"allowed-origins"`

	Log       Log       `toml:"log"`
	Passhroom Passhroom `toml:"passhroom"`
	Session   Session   `toml:"session"`
	RateLimit RateLimit `toml:"rate-limit"`
	Backup    Backup    `toml:"backup"`
}

type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type Passhroom struct {
	BaseURL      string        `toml:"base-url"`
	ClientID     string        `toml:"client-id"`
	ClientSecret string        `toml:"client-secret"`
	CallbackURL  string        `toml:"callback-url"`
	Timeout      time.Duration `toml:"timeout"`
}

type Session struct {
	Cookie      string        `toml:"cookie"`
	StateCookie string        `toml:"state-cookie"`
	TTL         time.Duration `toml:"ttl"`
	StateTTL    time.Duration `toml:"state-ttl"`
	// CookieSecure forces the Secure attribute on or off. Nil follows the
	// request scheme.
	CookieSecure *bool `toml:"cookie-secure"`
}

type RateLimit struct {
	// AuthPerMinute bounds sign-in requests per client IP.
	AuthPerMinute int `toml:"auth-per-minute"`
}

type Backup struct {
	Endpoint   string        `toml:"endpoint"`
	Bucket     string        `toml:"bucket"`
	Region     string        `toml:"region"`
	AccessKey  string        `toml:"access-key"`
	SecretKey  string        `toml:"secret-key"`
	Prefix     string        `toml:"prefix"`
	Passphrase string        `toml:"passphrase"`
	Interval   time.Duration `toml:"interval"`
	Retention  time.Duration `toml:"retention"`
}

// Enabled reports whether enough is configured to upload encrypted backups.
func (b Backup) Enabled() bool {
	return b.Bucket != "" && b.AccessKey != "" && b.SecretKey != "" && b.Passphrase != ""
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:       "8080",
		DBPath:     "fufnotes.db",
		TrustProxy: true,
		Log:        Log{Level: "info", Format: "text"},
		Passhroom:  Passhroom{Timeout: 15 * time.Second},
		Session: Session{
			Cookie:      "fufnotes_sess",
			StateCookie: "fufnotes_ph_state",
			TTL:         14 * 24 * time.Hour,
			StateTTL:    10 * time.Minute,
		},
		RateLimit: RateLimit{AuthPerMinute: 10},
		Backup: Backup{
			Region:    "auto",
			Prefix:    "fufnotes",
			Interval:  24 * time.Hour,
			Retention: 30 * 24 * time.Hour,
		},
	}
}

// Load builds the configuration. path may be empty, in which case
// FUFNOTES_CONFIG is consulted; a missing file named by either is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("FUFNOTES_CONFIG")
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	seconds := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = time.Duration(n) * time.Second
		return nil
	}
	duration := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("PORT", &cfg.Port)
	str("FUFNOTES_DB_PATH", &cfg.DBPath)
	str("FUFNOTES_LOG_LEVEL", &cfg.Log.Level)
	str("FUFNOTES_LOG_FORMAT", &cfg.Log.Format)
	str("DEV_USER_ID", &cfg.DevUserID)
	if v, ok := lookup("TRUST_PROXY"); ok {
		cfg.TrustProxy = strings.TrimSpace(v) == "1"
	}
	if v, ok := lookup("FUFNOTES_ALLOWED_ORIGINS"); ok {
		cfg.AllowedOrigins = splitList(v)
	}

	str("PASSHROOM_BASE_URL", &cfg.Passhroom.BaseURL)
	str("PASSHROOM_CLIENT_ID", &cfg.Passhroom.ClientID)
	str("PASSHROOM_CLIENT_SECRET", &cfg.Passhroom.ClientSecret)
	str("PASSHROOM_CALLBACK_URL", &cfg.Passhroom.CallbackURL)
	if err := duration("PASSHROOM_TIMEOUT", &cfg.Passhroom.Timeout); err != nil {
		return err
	}

	str("SESSION_COOKIE", &cfg.Session.Cookie)
	str("PASSHROOM_STATE_COOKIE", &cfg.Session.StateCookie)
	if err := seconds("SESSION_TTL_SECONDS", &cfg.Session.TTL); err != nil {
		return err
	}
	if v, ok := lookup("COOKIE_SECURE"); ok {
		switch strings.TrimSpace(v) {
		case "1":
			t := true
			cfg.Session.CookieSecure = &t
		case "0":
			f := false
			cfg.Session.CookieSecure = &f
		}
	}

	if v, ok := lookup("FUFNOTES_AUTH_RATE_PER_MINUTE"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("FUFNOTES_AUTH_RATE_PER_MINUTE: %w", err)
		}
		cfg.RateLimit.AuthPerMinute = n
	}

	str("FUFNOTES_BACKUP_ENDPOINT", &cfg.Backup.Endpoint)
	str("FUFNOTES_BACKUP_BUCKET", &cfg.Backup.Bucket)
	str("FUFNOTES_BACKUP_REGION", &cfg.Backup.Region)
	str("FUFNOTES_BACKUP_ACCESS_KEY", &cfg.Backup.AccessKey)
	str("FUFNOTES_BACKUP_SECRET_KEY", &cfg.Backup.SecretKey)
	str("FUFNOTES_BACKUP_PREFIX", &cfg.Backup.Prefix)
	str("FUFNOTES_BACKUP_PASSPHRASE", &cfg.Backup.Passphrase)
	if err := duration("FUFNOTES_BACKUP_INTERVAL", &cfg.Backup.Interval); err != nil {
		return err
	}
	return duration("FUFNOTES_BACKUP_RETENTION", &cfg.Backup.Retention)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is empty"))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session ttl must be positive"))
	}
	if c.Session.StateTTL <= 0 {
		errs = append(errs, errors.New("state cookie ttl must be positive"))
	}
	if c.Session.Cookie == "" || c.Session.StateCookie == "" {
		errs = append(errs, errors.New("cookie names must not be empty"))
	}
	if c.Passhroom.CallbackURL != "" {
		u, err := url.Parse(c.Passhroom.CallbackURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("passhroom callback url %q is not absolute", c.Passhroom.CallbackURL))
		}
	}
	if c.Passhroom.BaseURL != "" {
		u, err := url.Parse(c.Passhroom.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("passhroom base url %q is not absolute", c.Passhroom.BaseURL))
		}
	}
	if c.Backup.Enabled() && c.Backup.Interval <= 0 {
		errs = append(errs, errors.New("backup interval must be positive"))
	}
	return errors.Join(errs...)
}
