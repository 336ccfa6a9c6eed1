package passhroom

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, callback string) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:      srv.URL + "/",
		ClientID:     "fufnotes",
		ClientSecret: "s3cret",
		CallbackURL:  callback,
		Timeout:      2 * time.Second,
	}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestRedirectURIVariants(t *testing.T) {
	got := RedirectURIVariants("https://notes.example.com")
	assert.Equal(t, []string{
		"https://notes.example.com/",
		"https://notes.example.com",
		"https://notes.example.com/auth/passhroom/callback",
		"https://notes.example.com/auth/passhroom/callback/",
	}, got)

	got = RedirectURIVariants("https://notes.example.com/auth/passhroom/callback")
	assert.Equal(t, []string{
		"https://notes.example.com/auth/passhroom/callback",
		"https://notes.example.com/auth/passhroom/callback/",
		"https://notes.example.com/",
		"https://notes.example.com",
	}, got)
}

func TestRedirectURIVariantsUnparseable(t *testing.T) {
	assert.Equal(t, []string{"not-a-url/"}, RedirectURIVariants("not-a-url"))
	assert.Empty(t, RedirectURIVariants("   "))
}

func TestNormalizeCallbackURL(t *testing.T) {
	tests := map[string]string{
		"https://notes.example.com":       "https://notes.example.com/",
		"https://notes.example.com/":      "https://notes.example.com/",
		"https://notes.example.com/cb":    "https://notes.example.com/cb",
		"https://notes.example.com/cb/":   "https://notes.example.com/cb/",
		"https://notes.example.com/cb?x=1": "https://notes.example.com/cb?x=1",
		"relative/path":                   "relative/path/",
		"":                                "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeCallbackURL(in), "input %q", in)
	}
}

func TestExchangeTokenTriesVariantsInOrder(t *testing.T) {
	var mu sync.Mutex
	var tried []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/auth/token", r.URL.Path)
		var req tokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "fufnotes", req.ClientID)
		assert.Equal(t, "s3cret", req.ClientSecret)
		assert.Equal(t, "authcode", req.Code)

		mu.Lock()
		tried = append(tried, req.RedirectURI)
		mu.Unlock()

		if req.RedirectURI != "https://notes.example.com/auth/passhroom/callback" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"redirect_uri_mismatch"}`))
			return
		}
		w.Write([]byte(`{"user_id":"u-1","email":"Alice@Example.com"}`))
	}, "https://notes.example.com")

	tok, err := c.ExchangeToken(context.Background(), "authcode", nil)
	require.NoError(t, err)
	assert.Equal(t, Token{UserID: "u-1", Email: "alice@example.com"}, tok)
	assert.Equal(t, []string{
		"https://notes.example.com/",
		"https://notes.example.com",
		"https://notes.example.com/auth/passhroom/callback",
	}, tried)
}

func TestExchangeTokenUnauthorizedIsFatal(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_client"}`))
	}, "https://notes.example.com")

	_, err := c.ExchangeToken(context.Background(), "authcode", nil)
	pe, ok := AsError(err)
	require.True(t, ok, "err = %v", err)
	assert.Equal(t, CodeClientSecretInvalid, pe.Code)
	assert.Equal(t, http.StatusInternalServerError, pe.Status)
	assert.True(t, pe.Fatal())
	assert.Equal(t, 1, calls)
}

func TestExchangeTokenSurfacesProviderError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"code_expired"}`))
	}, "https://notes.example.com/cb")

	_, err := c.ExchangeToken(context.Background(), "authcode", []string{"https://notes.example.com/cb"})
	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, "code_expired", pe.Code)
	assert.Equal(t, http.StatusBadRequest, pe.Status)
}

func TestExchangeTokenWithoutErrorBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`upstream down`))
	}, "https://notes.example.com/cb")

	_, err := c.ExchangeToken(context.Background(), "authcode", []string{"https://notes.example.com/cb"})
	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeTokenExchangeFailed, pe.Code)
	assert.Equal(t, http.StatusBadGateway, pe.Status)
}

func TestExchangeTokenOKWithoutUserIDFails(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"email":"a@example.com"}`))
	}, "https://notes.example.com/cb")

	_, err := c.ExchangeToken(context.Background(), "authcode", []string{"https://notes.example.com/cb"})
	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeTokenExchangeFailed, pe.Code)
	assert.Equal(t, http.StatusOK, pe.Status)
}

func TestStart(t *testing.T) {
	var got startRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/auth/start", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true}`))
	}, "https://notes.example.com")

	res, err := c.Start(context.Background(), "alice@example.com", "abc123")
	require.NoError(t, err)
	assert.False(t, res.Cooldown)
	assert.Equal(t, startRequest{
		ClientID:    "fufnotes",
		Email:       "alice@example.com",
		RedirectURI: "https://notes.example.com/",
		State:       "abc123",
	}, got)
}

func TestStartCooldown(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"status":"cooldown","message":"Check your inbox."}`))
	}, "https://notes.example.com")

	res, err := c.Start(context.Background(), "alice@example.com", "abc123")
	require.NoError(t, err)
	assert.True(t, res.Cooldown)
	assert.Equal(t, "Check your inbox.", res.Message)
}

func TestStartFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"status":"slow_down"}`))
	}, "https://notes.example.com")

	_, err := c.Start(context.Background(), "alice@example.com", "abc123")
	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeStartFailed, pe.Code)
	assert.Equal(t, http.StatusBadGateway, pe.Status)
}

func TestStartUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := NewClient(Config{BaseURL: base, CallbackURL: "https://notes.example.com"},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	_, err := c.Start(context.Background(), "alice@example.com", "abc123")
	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeUnreachable, pe.Code)
	assert.Equal(t, http.StatusBadGateway, pe.Status)
}

func TestTimeoutIsUnreachable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := NewClient(Config{BaseURL: srv.URL, CallbackURL: "https://notes.example.com", Timeout: 50 * time.Millisecond},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	_, err := c.Start(context.Background(), "alice@example.com", "abc123")
	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeUnreachable, pe.Code)
	assert.True(t, pe.Timeout)
}

func TestExchangeLoginCodeRedirect(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/code", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "alice@example.com", r.PostForm.Get("email"))
		assert.Equal(t, "123456", r.PostForm.Get("code"))
		w.Header().Set("Location", "https://notes.example.com/auth/passhroom/callback?code=ac-1&state=st-1")
		w.WriteHeader(http.StatusFound)
	}, "https://notes.example.com")

	m, err := c.ExchangeLoginCode(context.Background(), " Alice@Example.com ", "123456")
	require.NoError(t, err)
	assert.Equal(t, Minted{
		AuthCode:    "ac-1",
		State:       "st-1",
		RedirectURI: "https://notes.example.com/auth/passhroom/callback",
	}, m)
}

func TestExchangeLoginCodeFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		location string
		body     string
		code     string
		want     int
	}{
		{"no location", http.StatusSeeOther, "", "", CodeCodeNoLocation, http.StatusBadGateway},
		{"relative location", http.StatusFound, "/callback?code=a&state=b", "", CodeCodeBadLocation, http.StatusBadGateway},
		{"missing state", http.StatusFound, "https://notes.example.com/?code=a", "", CodeCodeMissingParams, http.StatusBadGateway},
		{"rate limited", http.StatusTooManyRequests, "", "slow down", CodeRateLimited, http.StatusTooManyRequests},
		{"used", http.StatusBadRequest, "", "This code was Already Used.", CodeCodeUsed, http.StatusBadRequest},
		{"expired", http.StatusBadRequest, "", "code EXPIRED", CodeCodeExpired, http.StatusBadRequest},
		{"invalid", http.StatusBadRequest, "", "Invalid code", CodeInvalidCode, http.StatusBadRequest},
		{"other", http.StatusInternalServerError, "", "boom", CodeCodeFailed, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.location != "" {
					w.Header().Set("Location", tt.location)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}, "https://notes.example.com")

			_, err := c.ExchangeLoginCode(context.Background(), "alice@example.com", "123456")
			pe, ok := AsError(err)
			require.True(t, ok, "err = %v", err)
			assert.Equal(t, tt.code, pe.Code)
			assert.Equal(t, tt.want, pe.Status)
		})
	}
}

func TestMessagesAreDistinct(t *testing.T) {
	seen := map[string]string{}
	for code, msg := range messages {
		if other, dup := seen[msg]; dup {
			t.Errorf("codes %q and %q share message %q", code, other, msg)
		}
		seen[msg] = code
	}
	assert.Equal(t, "Sign-in failed (weird_code).", Message("weird_code"))
}

func TestErrorTerminal(t *testing.T) {
	for code, want := range map[string]bool{
		CodeCodeUsed:            true,
		CodeCodeExpired:         true,
		CodeInvalidCode:         true,
		CodeRateLimited:         false,
		CodeUnreachable:         false,
		CodeClientSecretInvalid: false,
	} {
		assert.Equal(t, want, (&Error{Code: code}).Terminal(), code)
	}
}
