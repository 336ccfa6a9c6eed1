package passhroom

import (
	"net/url"
	"strings"
)

// CallbackPath is where the provider sends the browser back with code and state.
const CallbackPath = "/auth/passhroom/callback"

// NormalizeCallbackURL gives a bare origin a trailing slash and otherwise
// returns the URL in canonical form. Values that do not parse as absolute
// URLs only get a trailing slash appended.
func NormalizeCallbackURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		if strings.HasSuffix(raw, "/") {
			return raw
		}
		return raw + "/"
	}
	if u.Path == "" || u.Path == "/" {
		return origin(u) + "/"
	}
	return u.String()
}

// RedirectURIVariants lists the redirect URIs to try at the token endpoint,
// in order: the normalized callback, it without and with a trailing slash,
// the origin with and without a slash, then the conventional callback path
// with and without a slash. Duplicates are dropped, first occurrence wins.
func RedirectURIVariants(callbackURL string) []string {
	norm := NormalizeCallbackURL(callbackURL)
	base := norm
	if base == "" {
		base = strings.TrimSpace(callbackURL)
	}

	var candidates []string
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		candidates = []string{base}
	} else {
		o := origin(u)
		candidates = []string{
			base,
			strings.TrimSuffix(base, "/"),
			strings.TrimSuffix(base, "/") + "/",
			o + "/",
			o,
			o + CallbackPath,
			o + CallbackPath + "/",
		}
	}

	seen := make(map[string]bool, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func origin(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}
