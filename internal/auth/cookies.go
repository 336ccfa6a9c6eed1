package auth

import (
	"net/http"
	"strings"
	"time"
)

// Cookies writes the session and sign-in state cookies. All cookies are
// HttpOnly, SameSite=Lax and scoped to "/".
type Cookies struct {
	// ForceSecure pins the Secure attribute. Nil derives it from the request.
	ForceSecure *bool
	// TrustProxy lets X-Forwarded-Proto decide whether a request is HTTPS.
	TrustProxy bool
}

// Secure reports whether cookies set on a response to r should be Secure.
func (c Cookies) Secure(r *http.Request) bool {
	if c.ForceSecure != nil {
		return *c.ForceSecure
	}
	if r.TLS != nil {
		return true
	}
	if c.TrustProxy {
		proto := r.Header.Get("X-Forwarded-Proto")
		if i := strings.IndexByte(proto, ','); i >= 0 {
			proto = proto[:i]
		}
		return strings.EqualFold(strings.TrimSpace(proto), "https")
	}
	return false
}

// Set writes name=value with the given lifetime.
func (c Cookies) Set(w http.ResponseWriter, r *http.Request, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		Expires:  time.Now().Add(maxAge),
		HttpOnly: true,
		Secure:   c.Secure(r),
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear expires the cookie immediately.
func (c Cookies) Clear(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure(r),
		SameSite: http.SameSiteLaxMode,
	})
}
