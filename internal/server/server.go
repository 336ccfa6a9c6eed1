package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/fufnotes/internal/auth"
	"github.com/dukerupert/fufnotes/internal/backup"
	"github.com/dukerupert/fufnotes/internal/config"
	"github.com/dukerupert/fufnotes/internal/handler"
	"github.com/dukerupert/fufnotes/internal/metrics"
	"github.com/dukerupert/fufnotes/internal/middleware"
	"github.com/dukerupert/fufnotes/internal/notes"
	"github.com/dukerupert/fufnotes/internal/passhroom"
	"github.com/dukerupert/fufnotes/internal/store"
	ws "github.com/dukerupert/fufnotes/internal/websocket"
)

// rateLimitIdle is how long an idle client IP keeps its bucket.
const rateLimitIdle = 10 * time.Minute

type Server struct {
	cfg         *config.Config
	hub         *ws.Hub
	authH       *handler.AuthHandler
	apiH        *handler.APIHandler
	sessionAuth *middleware.SessionAuth
	sessions    *store.SessionStore
	rateLimiter *middleware.RateLimiter
	backupMgr   *backup.Manager
	logger      *slog.Logger
}

func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	users := store.NewUserStore(db)
	sessions := store.NewSessionStore(db)
	svc := notes.NewService(db, hub, logger.With("component", "notes"))

	provider := passhroom.NewClient(passhroom.Config{
		BaseURL:      cfg.Passhroom.BaseURL,
		ClientID:     cfg.Passhroom.ClientID,
		ClientSecret: cfg.Passhroom.ClientSecret,
		CallbackURL:  cfg.Passhroom.CallbackURL,
		Timeout:      cfg.Passhroom.Timeout,
	}, passhroom.WithLogger(logger.With("component", "passhroom")))

	cookies := auth.Cookies{
		ForceSecure: cfg.Session.CookieSecure,
		TrustProxy:  cfg.TrustProxy,
	}
	sa := middleware.NewSessionAuth(sessions, cfg.Session.Cookie, cfg.DevUserID, logger.With("component", "session"))
	if cfg.DevUserID != "" {
		logger.Warn("development user override is on; every request is authenticated", "user_id", cfg.DevUserID)
	}

	return &Server{
		cfg: cfg,
		hub: hub,
		authH: handler.NewAuthHandler(provider, users, sessions, cookies, handler.AuthConfig{
			SessionCookie: cfg.Session.Cookie,
			StateCookie:   cfg.Session.StateCookie,
			SessionTTL:    cfg.Session.TTL,
			StateTTL:      cfg.Session.StateTTL,
		}, logger.With("component", "auth")),
		apiH:        handler.NewAPIHandler(svc, sessions, sa, cookies, logger.With("component", "api")),
		sessionAuth: sa,
		sessions:    sessions,
		rateLimiter: middleware.NewRateLimiter(cfg.RateLimit.AuthPerMinute),
		backupMgr:   NewBackupManager(db, cfg.Backup, logger),
		logger:      logger,
	}
}

// NewBackupManager builds the backup manager from configuration. Status
// changes are logged.
func NewBackupManager(db *sql.DB, cfg config.Backup, logger *slog.Logger) *backup.Manager {
	logger = logger.With("component", "backup")
	return backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:  cfg.Endpoint,
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		},
		Prefix:     cfg.Prefix,
		Passphrase: cfg.Passphrase,
		Interval:   cfg.Interval,
		Retention:  cfg.Retention,
	}, db, store.NewBackupStore(db), func(s backup.Status) {
		logger.Debug("backup status", "state", s.State, "error", s.Error)
	}, logger)
}

func (s *Server) BackupManager() *backup.Manager {
	return s.backupMgr
}

func (s *Server) clientIP(r *http.Request) string {
	if s.cfg.TrustProxy {
		return middleware.RealIP(r)
	}
	return middleware.RemoteIP(r)
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", healthHandler)
	mux.Handle("GET /metrics", metrics.Handler())

	limited := middleware.RateLimit(s.rateLimiter, s.clientIP)
	mux.Handle("POST /auth/passhroom/start", limited(http.HandlerFunc(s.authH.Start)))
	mux.Handle("POST /auth/passhroom/code", limited(http.HandlerFunc(s.authH.Code)))
	mux.Handle("GET /auth/passhroom/callback", limited(http.HandlerFunc(s.authH.Callback)))
	mux.HandleFunc("GET /{$}", s.authH.Root)

	mux.Handle("/api", s.apiH)
	mux.Handle("/api/api.php", s.apiH)

	mux.Handle("GET /ws", s.sessionAuth.Require(
		ws.HandleWebSocket(s.hub, s.cfg.AllowedOrigins, s.logger.With("component", "websocket")),
	))

	var h http.Handler = mux
	h = middleware.RequestLogger(s.logger.With("component", "http"))(h)
	h = middleware.SecurityHeaders(h)
	return middleware.Recover(s.logger)(h)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

// Janitor deletes expired sessions and forgets idle rate-limit buckets every
// interval until ctx is done.
func (s *Server) Janitor(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Server) sweep(ctx context.Context) {
	n, err := s.sessions.DeleteExpired(ctx)
	if err != nil {
		s.logger.Error("delete expired sessions", "error", err)
	} else if n > 0 {
		s.logger.Info("deleted expired sessions", "count", n)
	}
	s.rateLimiter.Cleanup(rateLimitIdle)
}
