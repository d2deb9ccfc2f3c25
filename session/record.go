// Package session captures and restores browser sessions: cookies, web
// storage, form state, scroll position and the focused element, saved as
// JSON records and replayed step by step against a live page.
package session

import (
	"time"

	"github.com/google/uuid"
	"gopkg.in/guregu/null.v3"
)

// Cookie is one captured cookie. Captures taken through document.cookie
// only see name and value; path, domain and the secure flag survive only
// when the record was written by a richer source.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Path   string `json:"path,omitempty"`
	Domain string `json:"domain,omitempty"`
	Secure bool   `json:"secure,omitempty"`
}

// Record is one saved session.
type Record struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	URL   string      `json:"url"`
	Title null.String `json:"title"`

	Cookies        []Cookie          `json:"cookies,omitempty"`
	LocalStorage   map[string]string `json:"local_storage,omitempty"`
	SessionStorage map[string]string `json:"session_storage,omitempty"`
	FormFields     map[string]string `json:"form_fields,omitempty"`

	ScrollX       int         `json:"scroll_x"`
	ScrollY       int         `json:"scroll_y"`
	ActiveElement null.String `json:"active_element"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord returns an empty named record with a fresh id.
func NewRecord(name string) *Record {
	now := time.Now()
	return &Record{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ComponentCount returns how many restore steps the record will drive:
// navigation plus each non-empty component.
func (r *Record) ComponentCount() int {
	n := 0
	if r.URL != "" {
		n++
	}
	if len(r.Cookies) > 0 {
		n++
	}
	if len(r.LocalStorage) > 0 {
		n++
	}
	if len(r.SessionStorage) > 0 {
		n++
	}
	if len(r.FormFields) > 0 {
		n++
	}
	if r.ScrollX != 0 || r.ScrollY != 0 {
		n++
	}
	if r.ActiveElement.Valid && r.ActiveElement.String != "" {
		n++
	}
	return n
}
