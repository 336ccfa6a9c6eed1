// Package notesapi is an HTTP client for the fufnotes JSON API.
package notesapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/dukerupert/fufnotes/internal/model"
)

const (
	DefaultReadTimeout = 15 * time.Second
	DefaultSaveTimeout = 25 * time.Second
	DefaultCookieName  = "fufnotes_sess"
)

// ErrTimeout marks a request that ran out of its own time budget, as opposed
// to one cancelled by the caller.
var ErrTimeout = errors.New("notesapi: request timed out")

// APIError is a non-2xx answer other than a save conflict.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Code, e.Status)
}

// ConflictError is a 409 from save. It carries the server's current note.
type ConflictError struct {
	Meta    model.NoteMeta
	Content string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: note %s is at revision %d", e.Meta.ID, e.Meta.Revision)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Client keeps its cookies in a jar so the sign-in state cookie set by
// Start reaches Code, and the session cookie reaches every later call.
type Client struct {
	base        *url.URL
	httpClient  *http.Client
	jar         *cookiejar.Jar
	cookieName  string
	readTimeout time.Duration
	saveTimeout time.Duration
	seed        string
}

type Option func(*Client)

// WithHTTPClient supplies the transport settings. The client works on a copy
// with its own cookie jar.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cp := *c
		cl.httpClient = &cp
	}
}

func WithTimeouts(read, save time.Duration) Option {
	return func(cl *Client) {
		cl.readTimeout = read
		cl.saveTimeout = save
	}
}

func WithCookieName(name string) Option {
	return func(cl *Client) {
		cl.cookieName = name
	}
}

// WithSession starts the client with a previously stored session id.
func WithSession(id string) Option {
	return func(cl *Client) {
		cl.seed = id
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("notesapi: base url %q is not absolute", baseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	c := &Client{
		base:        base,
		httpClient:  &http.Client{},
		jar:         jar,
		cookieName:  DefaultCookieName,
		readTimeout: DefaultReadTimeout,
		saveTimeout: DefaultSaveTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Jar = jar
	c.httpClient.CheckRedirect = noRedirect
	if c.seed != "" {
		c.setSession(c.seed)
	}
	return c, nil
}

func noRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

// Session returns the current session id, empty when signed out.
func (c *Client) Session() string {
	for _, ck := range c.jar.Cookies(c.base) {
		if ck.Name == c.cookieName {
			return ck.Value
		}
	}
	return ""
}

func (c *Client) setSession(id string) {
	ck := &http.Cookie{Name: c.cookieName, Value: id, Path: "/"}
	if id == "" {
		ck.MaxAge = -1
	}
	c.jar.SetCookies(c.base, []*http.Cookie{ck})
}

type envelope struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

type conflictBody struct {
	Meta    model.NoteMeta `json:"meta"`
	Content string         `json:"content"`
}

// do sends one request bounded by timeout and decodes a successful body
// into out.
func (c *Client) do(ctx context.Context, timeout time.Duration, method, path string, query url.Values, body, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	target := c.base.String() + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(reqCtx, method, target, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(ctx, reqCtx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return c.transportError(ctx, reqCtx, err)
	}

	var env envelope
	jsonErr := json.Unmarshal(raw, &env)

	if resp.StatusCode == http.StatusConflict && env.Error == "conflict" {
		var cb conflictBody
		if err := json.Unmarshal(raw, &cb); err != nil {
			return fmt.Errorf("decode conflict: %w", err)
		}
		return &ConflictError{Meta: cb.Meta, Content: cb.Content}
	}
	if resp.StatusCode >= 400 {
		code := env.Error
		if code == "" {
			code = "http_error"
		}
		return &APIError{Status: resp.StatusCode, Code: code, Message: env.Message}
	}
	if jsonErr != nil {
		return &APIError{Status: resp.StatusCode, Code: "bad_response", Message: jsonErr.Error()}
	}
	if !env.OK {
		return &APIError{Status: resp.StatusCode, Code: env.Error, Message: env.Message}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) transportError(parent, reqCtx context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return fmt.Errorf("request: %w", err)
}

func actionQuery(action, id string) url.Values {
	q := url.Values{"action": {action}}
	if id != "" {
		q.Set("id", id)
	}
	return q
}
