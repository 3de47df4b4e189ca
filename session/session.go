// Package session persists browser login state between plume runs.
//
// Acquiring a session is out of scope: an operator logs in once by hand (or
// through whatever flow the platform requires) and plume captures the
// result. From then on every run restores cookies and web storage before
// touching the platform, and writes the possibly-refreshed state back when
// it finishes, whatever the outcome of the run was.
package session

import (
	"context"
	"time"
)

// Cookie is the persisted form of a browser cookie. Fields mirror what the
// DevTools protocol needs to restore one.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"same_site,omitempty"`
	Priority string  `json:"priority,omitempty"`
}

// State is a full session snapshot.
type State struct {
	Cookies        []Cookie          `json:"cookies"`
	LocalStorage   map[string]string `json:"local_storage,omitempty"`
	SessionStorage map[string]string `json:"session_storage,omitempty"`
	SavedAt        time.Time         `json:"saved_at"`
}

// CookieCount is len(Cookies) on a possibly-nil state.
func (s *State) CookieCount() int {
	if s == nil {
		return 0
	}
	return len(s.Cookies)
}

// Store loads and saves session state. Implementations must tolerate
// Load before any Save has happened (ErrNoSession).
type Store interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state *State) error
}
