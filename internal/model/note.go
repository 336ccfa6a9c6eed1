package model

import "time"

// NoteMeta is the list/response shape of a note without its body.
type NoteMeta struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Revision  int64     `json:"revision"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Note struct {
	NoteMeta
	OwnerUserID string    `json:"-"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Meta returns the note's metadata.
func (n *Note) Meta() NoteMeta {
	return n.NoteMeta
}
