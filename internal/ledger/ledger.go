// Package ledger records issued identifiers and detects digest collisions.
//
// Identifiers are short truncated digests, so two different records can map
// to the same identifier. The ledger binds each identifier to the fingerprint
// (full SHA-256) of the canonical payload it was derived from; registering a
// known identifier with a different fingerprint is a collision.
package ledger

import (
	"context"
	"time"
)

// Entry is one issued identifier.
type Entry struct {
	ID          string    `json:"id"`
	InternalID  string    `json:"internal_id"`
	Fingerprint string    `json:"fingerprint"`
	IssuedAt    time.Time `json:"issued_at"`
}

// Ledger stores issued identifiers.
type Ledger interface {
	// Register records e. Re-registering the same fingerprint is a no-op;
	// a different fingerprint under an existing ID returns a COLLISION error.
	Register(ctx context.Context, e Entry) error

	// Lookup returns the entry for id or a NOT_FOUND error.
	Lookup(ctx context.Context, id string) (Entry, error)

	// Count returns the number of issued identifiers.
	Count(ctx context.Context) (int, error)

	// Close releases resources.
	Close() error
}
