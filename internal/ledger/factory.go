package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/gradia/stoneid/internal/config"
	"github.com/gradia/stoneid/internal/pkg/errors"
)

// NewLedger creates a Ledger based on the configuration. Type "none"
// returns a Nop ledger.
func NewLedger(cfg config.LedgerConfig) (Ledger, error) {
	switch strings.ToLower(cfg.Type) {
	case "none":
		return Nop{}, nil

	case "memory", "":
		return NewMemoryLedger(), nil

	case "redis":
		if cfg.RedisURL == "" {
			return nil, errors.New(errors.CodeConfig, "redis URL not configured")
		}
		return NewRedisLedger(cfg.RedisURL, cfg.Prefix)

	default:
		return nil, errors.New(errors.CodeConfig, fmt.Sprintf("unknown ledger type: %s", cfg.Type))
	}
}

// Nop discards registrations.
type Nop struct{}

// Register does nothing.
func (Nop) Register(context.Context, Entry) error { return nil }

// Lookup always reports NOT_FOUND.
func (Nop) Lookup(_ context.Context, id string) (Entry, error) {
	return Entry{}, errors.NotFoundError("identifier " + id)
}

// Count always returns zero.
func (Nop) Count(context.Context) (int, error) { return 0, nil }

// Close does nothing.
func (Nop) Close() error { return nil }
