package notesapi

import (
	"context"
	"net/http"

	"github.com/dukerupert/fufnotes/internal/model"
)

func (c *Client) List(ctx context.Context) ([]model.NoteMeta, error) {
	var out struct {
		Notes []model.NoteMeta `json:"notes"`
	}
	if err := c.do(ctx, c.readTimeout, http.MethodGet, "/api", actionQuery("list", ""), nil, &out); err != nil {
		return nil, err
	}
	return out.Notes, nil
}

func (c *Client) Get(ctx context.Context, id string) (*model.Note, error) {
	var out struct {
		Meta    model.NoteMeta `json:"meta"`
		Content string         `json:"content"`
	}
	if err := c.do(ctx, c.readTimeout, http.MethodGet, "/api", actionQuery("get", id), nil, &out); err != nil {
		return nil, err
	}
	return &model.Note{NoteMeta: out.Meta, Content: out.Content}, nil
}

// Create makes an empty note at revision 1. An empty title becomes
// "Untitled" on the server.
func (c *Client) Create(ctx context.Context, title string) (model.NoteMeta, error) {
	var out struct {
		Meta model.NoteMeta `json:"meta"`
	}
	body := map[string]string{"title": title}
	if err := c.do(ctx, c.saveTimeout, http.MethodPost, "/api", actionQuery("create", ""), body, &out); err != nil {
		return model.NoteMeta{}, err
	}
	return out.Meta, nil
}

type SaveRequest struct {
	Title        string `json:"title"`
	Content      string `json:"content"`
	BaseRevision int64  `json:"baseRevision"`
	Force        bool   `json:"force"`
}

// Save writes a note. A stale BaseRevision without Force yields a
// *ConflictError.
func (c *Client) Save(ctx context.Context, id string, req SaveRequest) (model.NoteMeta, error) {
	var out struct {
		Meta model.NoteMeta `json:"meta"`
	}
	if err := c.do(ctx, c.saveTimeout, http.MethodPost, "/api", actionQuery("save", id), req, &out); err != nil {
		return model.NoteMeta{}, err
	}
	return out.Meta, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, c.saveTimeout, http.MethodPost, "/api", actionQuery("delete", id), nil, nil)
}
