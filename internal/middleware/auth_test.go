package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/fufnotes/internal/auth"
	"github.com/dukerupert/fufnotes/internal/database"
	"github.com/dukerupert/fufnotes/internal/store"
)

const testCookie = "fufnotes_sess"

func setupAuthMiddlewareDB(t *testing.T) (*store.SessionStore, *store.UserStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewSessionStore(db), store.NewUserStore(db)
}

func mustNotReach(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	})
}

func TestRequireSessionNoCookie(t *testing.T) {
	ss, _ := setupAuthMiddlewareDB(t)
	sa := NewSessionAuth(ss, testCookie, "", slog.Default())

	rec := httptest.NewRecorder()
	sa.Require(mustNotReach(t)).ServeHTTP(rec, httptest.NewRequest("GET", "/ws", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if body := rec.Body.String(); !strings.Contains(body, `"error":"unauthorized"`) {
		t.Errorf("body = %s", body)
	}
}

func TestRequireSessionUnknownCookie(t *testing.T) {
	ss, _ := setupAuthMiddlewareDB(t)
	sa := NewSessionAuth(ss, testCookie, "", slog.Default())

	req := httptest.NewRequest("GET", "/ws", nil)
	req.AddCookie(&http.Cookie{Name: testCookie, Value: "invalid"})
	rec := httptest.NewRecorder()
	sa.Require(mustNotReach(t)).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireSessionValid(t *testing.T) {
	ss, us := setupAuthMiddlewareDB(t)
	ctx := context.Background()
	us.Upsert(ctx, "ph_1", "alice@example.com")
	sess, _ := ss.Create(ctx, "ph_1", "alice@example.com", time.Hour)

	var got auth.AuthContext
	handler := NewSessionAuth(ss, testCookie, "", slog.Default()).Require(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := auth.FromContext(r.Context())
			if !ok {
				t.Fatal("expected AuthContext in request context")
			}
			got = ac
		}))

	req := httptest.NewRequest("GET", "/ws", nil)
	req.AddCookie(&http.Cookie{Name: testCookie, Value: sess.ID})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got.UserID != "ph_1" || got.SessionID != sess.ID || got.Email != "alice@example.com" {
		t.Errorf("auth context = %+v", got)
	}
}

func TestAuthenticateDevUser(t *testing.T) {
	ss, _ := setupAuthMiddlewareDB(t)
	sa := NewSessionAuth(ss, testCookie, "dev-user", slog.Default())

	ac, err := sa.Authenticate(httptest.NewRequest("GET", "/api?action=list", nil))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if ac.UserID != "dev-user" {
		t.Errorf("user = %q, want dev-user", ac.UserID)
	}
}
