// Package journal is plume's posting ledger. Every chain run that
// produced a result lands here: the chain row, one row per published
// post, every submission attempt, and the engagement attribution the
// operator feeds back later. Posts can carry a markdown archive of the
// permalink page captured right after publication.
//
// The journal records outcomes; it never drives the browser. Runs that
// failed before anything reached the platform stay in the queue table
// with their error.
package journal

import (
	"database/sql"
	"errors"
)

// ErrNotFound is returned when a chain or post id does not exist.
var ErrNotFound = errors.New("journal: not found")

// Store wraps the shared plume database for journal operations.
type Store struct {
	DB *sql.DB
}

// NewStore creates a Store from an already-opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}
