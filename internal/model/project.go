package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type Project struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	DueAt       *time.Time `json:"dueAt"`
	Description string     `json:"description"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Todo is an item on a project's single todo list. A todo owns at most one
// linked note; when NoteManagedTitle is set the note title mirrors
// "<project title> — <todo title>".
type Todo struct {
	ID               string     `json:"id"`
	ProjectID        string     `json:"projectId"`
	Title            string     `json:"title"`
	DueAt            *time.Time `json:"dueAt"`
	Done             bool       `json:"done"`
	LinkedNoteID     string     `json:"linkedNoteId"`
	LinkedNoteTitle  string     `json:"linkedNoteTitle,omitempty"`
	NoteManagedTitle bool       `json:"noteManagedTitle"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// ManagedNoteTitle returns the title a managed linked note must carry.
func ManagedNoteTitle(projectTitle, todoTitle string) string {
	if projectTitle == "" {
		projectTitle = "Project"
	}
	if todoTitle == "" {
		todoTitle = "Todo"
	}
	return Truncate(projectTitle+" — "+todoTitle, MaxTitleLen)
}

const (
	MaxTitleLen       = 200
	MaxDescriptionLen = 200000
)

// LegacyList is a todo list from the multi-list project model, returned
// read-only for older clients.
type LegacyList struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	CreatedAt time.Time    `json:"createdAt"`
	Todos     []LegacyTodo `json:"todos"`
}

type LegacyTodo struct {
	ID        string     `json:"id"`
	ListID    string     `json:"listId"`
	DueAt     *time.Time `json:"dueAt"`
	Recurring string     `json:"recurring"`
	Notes     string     `json:"notes"`
	CreatedAt time.Time  `json:"createdAt"`
}

// ParseDueDate parses an optional YYYY-MM-DD date as UTC midnight. An empty
// string yields nil; anything else that is not a valid calendar date is an error.
func ParseDueDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if !dueDateRe.MatchString(s) {
		return nil, fmt.Errorf("bad due date %q", s)
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("bad due date %q: %w", s, err)
	}
	return &t, nil
}

var dueDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// FirstLine returns the first non-blank line of s, trimmed.
func FirstLine(s string) string {
	for _, line := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return ""
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
