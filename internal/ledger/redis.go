package ledger

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gradia/stoneid/internal/pkg/errors"
)

// DefaultRedisPrefix namespaces ledger keys.
const DefaultRedisPrefix = "stoneid:ledger:"

// RedisLedger stores entries as JSON strings under <prefix><id>.
type RedisLedger struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisLedger connects to Redis at url.
// Returns error if connection fails.
func NewRedisLedger(url, prefix string) (*RedisLedger, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.ConfigError("parsing redis URL", err)
	}

	client := redis.NewClient(opts)

	// Test connection with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(errors.CodeUnavailable, "connecting to redis", err)
	}

	return NewRedisLedgerFromClient(client, prefix), nil
}

// NewRedisLedgerFromClient wraps an existing client.
func NewRedisLedgerFromClient(client *redis.Client, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisLedger{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

func (l *RedisLedger) key(id string) string {
	return l.prefix + id
}

// Register records e with SETNX and compares fingerprints when the key
// already exists.
func (l *RedisLedger) Register(ctx context.Context, e Entry) error {
	if e.IssuedAt.IsZero() {
		e.IssuedAt = l.now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return errors.InternalError("marshaling ledger entry", err)
	}

	created, err := l.client.SetNX(ctx, l.key(e.ID), data, 0).Result()
	if err != nil {
		return errors.Wrap(errors.CodeUnavailable, "registering identifier", err)
	}
	if created {
		return nil
	}

	existing, err := l.Lookup(ctx, e.ID)
	if err != nil {
		return err
	}
	if existing.Fingerprint != e.Fingerprint {
		return errors.CollisionError(e.ID).
			WithDetail("existing_internal_id", existing.InternalID).
			WithDetail("internal_id", e.InternalID)
	}
	return nil
}

// Lookup returns the entry for id.
func (l *RedisLedger) Lookup(ctx context.Context, id string) (Entry, error) {
	data, err := l.client.Get(ctx, l.key(id)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return Entry{}, errors.NotFoundError("identifier " + id)
	}
	if err != nil {
		return Entry{}, errors.Wrap(errors.CodeUnavailable, "looking up identifier", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, errors.InternalError("decoding ledger entry", err)
	}
	return e, nil
}

// Count scans the ledger prefix and counts keys.
func (l *RedisLedger) Count(ctx context.Context) (int, error) {
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := l.client.Scan(ctx, cursor, l.prefix+"*", 500).Result()
		if err != nil {
			return 0, errors.Wrap(errors.CodeUnavailable, "counting identifiers", err)
		}
		total += len(keys)
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}

// Close closes the Redis connection.
func (l *RedisLedger) Close() error {
	return l.client.Close()
}
