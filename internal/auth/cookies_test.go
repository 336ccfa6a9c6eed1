package auth

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCookiesSecure(t *testing.T) {
	on, off := true, false
	tests := []struct {
		name    string
		cookies Cookies
		tls     bool
		proto   string
		want    bool
	}{
		{"plain http", Cookies{}, false, "", false},
		{"tls", Cookies{}, true, "", true},
		{"forwarded https trusted", Cookies{TrustProxy: true}, false, "https, http", true},
		{"forwarded https untrusted", Cookies{}, false, "https", false},
		{"forced on", Cookies{ForceSecure: &on}, false, "", true},
		{"forced off over tls", Cookies{ForceSecure: &off}, true, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.tls {
				r.TLS = &tls.ConnectionState{}
			}
			if tt.proto != "" {
				r.Header.Set("X-Forwarded-Proto", tt.proto)
			}
			if got := tt.cookies.Secure(r); got != tt.want {
				t.Errorf("Secure() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCookiesSetAndClear(t *testing.T) {
	c := Cookies{}
	r := httptest.NewRequest("GET", "/", nil)

	rec := httptest.NewRecorder()
	c.Set(rec, r, "fufnotes_ph_state", "abc", 10*time.Minute)
	cookie := rec.Result().Cookies()[0]
	if cookie.Value != "abc" || cookie.MaxAge != 600 {
		t.Errorf("cookie = %q max-age %d, want abc/600", cookie.Value, cookie.MaxAge)
	}
	if !cookie.HttpOnly || cookie.SameSite != http.SameSiteLaxMode || cookie.Path != "/" {
		t.Errorf("cookie attributes = %+v", cookie)
	}

	rec = httptest.NewRecorder()
	c.Clear(rec, r, "fufnotes_ph_state")
	cookie = rec.Result().Cookies()[0]
	if cookie.Value != "" || cookie.MaxAge >= 0 {
		t.Errorf("cleared cookie = %q max-age %d", cookie.Value, cookie.MaxAge)
	}
}
