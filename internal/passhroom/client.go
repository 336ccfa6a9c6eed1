// Package passhroom talks to the Passhroom identity gateway: it starts an
// email sign-in, trades a typed login code for an authorization code, and
// exchanges authorization codes for the signed-in user's identity.
package passhroom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	// CallbackURL is the redirect URI registered with the provider.
	CallbackURL string
	Timeout     time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	c := &Client{
		cfg:        cfg,
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HasSecret reports whether a client secret is configured. Without one the
// token exchange cannot succeed.
func (c *Client) HasSecret() bool {
	return c.cfg.ClientSecret != ""
}

// RedirectURIs returns the candidate redirect URIs for the configured callback.
func (c *Client) RedirectURIs() []string {
	return RedirectURIVariants(c.cfg.CallbackURL)
}

type startRequest struct {
	ClientID    string `json:"client_id"`
	Email       string `json:"email"`
	RedirectURI string `json:"redirect_uri"`
	State       string `json:"state"`
}

type startResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// StartResult reports how the provider took a start request. Cooldown means
// an email was sent recently and no new one went out.
type StartResult struct {
	Cooldown bool
	Message  string
}

// Start asks the provider to email a sign-in code and magic link to email.
func (c *Client) Start(ctx context.Context, email, state string) (StartResult, error) {
	redirectURI := NormalizeCallbackURL(c.cfg.CallbackURL)
	if redirectURI == "" {
		redirectURI = c.cfg.CallbackURL
	}
	body, err := json.Marshal(startRequest{
		ClientID:    c.cfg.ClientID,
		Email:       email,
		RedirectURI: redirectURI,
		State:       state,
	})
	if err != nil {
		return StartResult{}, fmt.Errorf("marshal start request: %w", err)
	}

	status, raw, err := c.postJSON(ctx, c.cfg.BaseURL+"/v1/auth/start", body)
	if err != nil {
		return StartResult{}, unreachable(err)
	}
	if status >= 200 && status < 300 {
		return StartResult{}, nil
	}

	var parsed startResponse
	_ = json.Unmarshal(raw, &parsed)
	if status == http.StatusTooManyRequests && parsed.Status == "cooldown" {
		return StartResult{Cooldown: true, Message: parsed.Message}, nil
	}
	c.logger.Error("passhroom start failed", "status", status, "body", preview(raw, 300))
	return StartResult{}, &Error{Code: CodeStartFailed, Status: http.StatusBadGateway, Detail: fmt.Sprintf("HTTP %d", status)}
}

// Minted is the result of trading a login code at the provider: an
// authorization code, the state the sign-in was started with, and the
// redirect URI the provider bound the code to.
type Minted struct {
	AuthCode    string
	State       string
	RedirectURI string
}

var (
	reAlreadyUsed = regexp.MustCompile(`(?i)already used`)
	reExpired     = regexp.MustCompile(`(?i)expired`)
)

// ExchangeLoginCode posts the emailed login code to the provider's code form
// and reads the authorization code out of the redirect it answers with.
func (c *Client) ExchangeLoginCode(ctx context.Context, email, code string) (Minted, error) {
	form := url.Values{
		"email": {strings.ToLower(strings.TrimSpace(email))},
		"code":  {code},
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/code", strings.NewReader(form.Encode()))
	if err != nil {
		return Minted{}, fmt.Errorf("create code request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	noRedirect := *c.httpClient
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	resp, err := noRedirect.Do(req)
	if err != nil {
		return Minted{}, unreachable(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusFound, http.StatusSeeOther:
		return mintedFromLocation(resp.Header.Get("Location"))
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return Minted{}, &Error{Code: CodeRateLimited, Status: http.StatusTooManyRequests}
	case http.StatusBadRequest:
		return Minted{}, &Error{Code: classifyCodeFailure(preview(raw, 400)), Status: http.StatusBadRequest}
	}
	c.logger.Error("passhroom code failed", "status", resp.StatusCode, "body", preview(raw, 300))
	return Minted{}, &Error{Code: CodeCodeFailed, Status: http.StatusBadGateway, Detail: fmt.Sprintf("HTTP %d", resp.StatusCode)}
}

func mintedFromLocation(loc string) (Minted, error) {
	if loc == "" {
		return Minted{}, &Error{Code: CodeCodeNoLocation, Status: http.StatusBadGateway}
	}
	u, err := url.Parse(loc)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Minted{}, &Error{Code: CodeCodeBadLocation, Status: http.StatusBadGateway, Detail: loc}
	}
	q := u.Query()
	m := Minted{
		AuthCode:    q.Get("code"),
		State:       q.Get("state"),
		RedirectURI: origin(u) + u.Path,
	}
	if u.Path == "" {
		m.RedirectURI = origin(u) + "/"
	}
	if m.AuthCode == "" || m.State == "" {
		return Minted{}, &Error{Code: CodeCodeMissingParams, Status: http.StatusBadGateway}
	}
	return m, nil
}

func classifyCodeFailure(text string) string {
	switch {
	case reAlreadyUsed.MatchString(text):
		return CodeCodeUsed
	case reExpired.MatchString(text):
		return CodeCodeExpired
	default:
		return CodeInvalidCode
	}
}

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
}

type tokenResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Error  string `json:"error"`
}

// Token is the identity the provider vouches for. Email is lowercased.
type Token struct {
	UserID string
	Email  string
}

// ExchangeToken trades an authorization code for the user's identity. Each
// redirect URI is tried in order until the provider accepts one. A 401 or 403
// means the client credentials are wrong and stops the loop.
func (c *Client) ExchangeToken(ctx context.Context, code string, redirectURIs []string) (Token, error) {
	if len(redirectURIs) == 0 {
		redirectURIs = c.RedirectURIs()
	}

	var last *Error
	var lastBody []byte
	for _, redirectURI := range redirectURIs {
		body, err := json.Marshal(tokenRequest{
			ClientID:     c.cfg.ClientID,
			ClientSecret: c.cfg.ClientSecret,
			Code:         code,
			RedirectURI:  redirectURI,
		})
		if err != nil {
			return Token{}, fmt.Errorf("marshal token request: %w", err)
		}

		status, raw, err := c.postJSON(ctx, c.cfg.BaseURL+"/v1/auth/token", body)
		if err != nil {
			return Token{}, unreachable(err)
		}
		lastBody = raw

		var parsed tokenResponse
		parseErr := json.Unmarshal(raw, &parsed)
		if status >= 200 && status < 300 && parseErr == nil && parsed.UserID != "" {
			if redirectURI != c.cfg.CallbackURL {
				c.logger.Info("passhroom token accepted redirect uri variant", "redirect_uri", redirectURI)
			}
			return Token{UserID: parsed.UserID, Email: strings.ToLower(parsed.Email)}, nil
		}

		last = tokenError(status, parsed.Error)
		if last.Fatal() {
			c.logger.Error("passhroom token unauthorized", "status", status, "body", preview(raw, 300))
			return Token{}, last
		}
	}

	if last == nil {
		last = &Error{Code: CodeTokenExchangeFailed, Status: http.StatusBadRequest}
	}
	c.logger.Error("passhroom token failed",
		"status", last.Status,
		"code", last.Code,
		"tried_redirect_uris", redirectURIs,
		"body", preview(lastBody, 300),
	)
	return Token{}, last
}

// tokenError classifies one rejected token attempt. 401 and 403 mean the
// client credentials are wrong.
func tokenError(status int, providerCode string) *Error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return &Error{Code: CodeClientSecretInvalid, Status: http.StatusInternalServerError}
	}
	if status == 0 || status < 400 {
		status = http.StatusBadRequest
	}
	if providerCode != "" {
		return &Error{Code: providerCode, Status: status}
	}
	return &Error{Code: CodeTokenExchangeFailed, Status: status}
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func preview(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
