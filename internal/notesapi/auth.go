package notesapi

import (
	"context"
	"net/http"
)

// StartResult mirrors the server's answer to a sign-in start.
type StartResult struct {
	Cooldown bool   `json:"cooldown"`
	Message  string `json:"message"`
}

// Start asks the server to email a sign-in code.
func (c *Client) Start(ctx context.Context, email string) (StartResult, error) {
	var out StartResult
	body := map[string]string{"email": email}
	err := c.do(ctx, c.readTimeout, http.MethodPost, "/auth/passhroom/start", nil, body, &out)
	return out, err
}

// Code completes sign-in with the emailed code. On success the client holds
// the new session.
func (c *Client) Code(ctx context.Context, email, code string) error {
	body := map[string]string{"email": email, "code": code}
	return c.do(ctx, c.readTimeout, http.MethodPost, "/auth/passhroom/code", nil, body, nil)
}

// Login returns the signed-in user's email.
func (c *Client) Login(ctx context.Context) (string, error) {
	var out struct {
		Email string `json:"email"`
	}
	if err := c.do(ctx, c.readTimeout, http.MethodGet, "/api", actionQuery("login", ""), nil, &out); err != nil {
		return "", err
	}
	return out.Email, nil
}

// Logout ends the session on the server and forgets it locally.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, c.readTimeout, http.MethodPost, "/api", actionQuery("logout", ""), nil, nil)
	c.setSession("")
	return err
}
