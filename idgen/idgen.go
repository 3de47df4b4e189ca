// Package idgen provides pluggable ID generation.
//
// Every store and service in plume takes a Generator field, so the ID
// strategy is a startup-time decision and tests can substitute
// deterministic sequences.
package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator producing RFC 9562 UUID v7 strings:
// time-sortable and globally unique, which keeps journal rows in rough
// insertion order when sorted by primary key.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends a fixed type prefix to every ID from gen
// (e.g. "chain_", "post_", "att_", "q_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence returns a Generator producing prefix0, prefix1, prefix2, …
// Deterministic, for tests.
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s%d", prefix, n.Add(1)-1)
	}
}

// Default is the plume-wide default generator: UUIDv7.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}
