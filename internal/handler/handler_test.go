package handler

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/fufnotes/internal/auth"
	"github.com/dukerupert/fufnotes/internal/database"
	"github.com/dukerupert/fufnotes/internal/middleware"
	"github.com/dukerupert/fufnotes/internal/notes"
	"github.com/dukerupert/fufnotes/internal/passhroom"
	"github.com/dukerupert/fufnotes/internal/store"
)

const (
	testSessionCookie = "fufnotes_sess"
	testStateCookie   = "fufnotes_ph_state"
	testCallbackURL   = "https://notes.example.com/auth/passhroom/callback"
)

type testEnv struct {
	db       *sql.DB
	users    *store.UserStore
	sessions *store.SessionStore
	svc      *notes.Service
	server   *httptest.Server
	client   *http.Client
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEnv wires the auth and API handlers against an in-memory database
// and a fake provider. devUserID bypasses sessions when set.
func newTestEnv(t *testing.T, provider http.HandlerFunc, secret, devUserID string) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if provider == nil {
		provider = func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) }
	}
	providerSrv := httptest.NewServer(provider)
	t.Cleanup(providerSrv.Close)

	logger := quietLogger()
	env := &testEnv{
		db:       db,
		users:    store.NewUserStore(db),
		sessions: store.NewSessionStore(db),
		svc:      notes.NewService(db, nil, logger),
	}
	pc := passhroom.NewClient(passhroom.Config{
		BaseURL:      providerSrv.URL,
		ClientID:     "fufnotes",
		ClientSecret: secret,
		CallbackURL:  testCallbackURL,
		Timeout:      2 * time.Second,
	}, passhroom.WithLogger(logger))

	cookies := auth.Cookies{}
	ah := NewAuthHandler(pc, env.users, env.sessions, cookies, AuthConfig{
		SessionCookie: testSessionCookie,
		StateCookie:   testStateCookie,
		SessionTTL:    14 * 24 * time.Hour,
		StateTTL:      10 * time.Minute,
	}, logger)
	sa := middleware.NewSessionAuth(env.sessions, testSessionCookie, devUserID, logger)
	api := NewAPIHandler(env.svc, env.sessions, sa, cookies, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/passhroom/start", ah.Start)
	mux.HandleFunc("POST /auth/passhroom/code", ah.Code)
	mux.HandleFunc("GET /auth/passhroom/callback", ah.Callback)
	mux.HandleFunc("GET /{$}", ah.Root)
	mux.Handle("/api", api)
	mux.Handle("/api/api.php", api)

	env.server = httptest.NewServer(mux)
	t.Cleanup(env.server.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	env.client = &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return env
}

// call sends a request through the env's cookie-carrying client and decodes
// a JSON response body into out when out is non-nil.
func (e *testEnv) call(t *testing.T, method, target string, body any, out any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.server.URL+target, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, target, raw, err)
		}
	}
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	return resp
}

func responseCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

type errorBody struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Message string `json:"message"`
}
