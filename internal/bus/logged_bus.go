package bus

import (
	"context"

	"github.com/gradia/stoneid/internal/pkg/logger"
)

// LoggedBus wraps another Bus and journals every published event.
type LoggedBus struct {
	inner   Bus
	journal *Journal
	log     *logger.Logger
}

// NewLoggedBus creates a bus that appends events to journal before
// publishing them to inner.
func NewLoggedBus(inner Bus, journal *Journal, log *logger.Logger) *LoggedBus {
	if log == nil {
		log = logger.Discard()
	}
	return &LoggedBus{
		inner:   inner,
		journal: journal,
		log:     log,
	}
}

// Publish journals the event and then delegates to the inner bus.
func (b *LoggedBus) Publish(ctx context.Context, topic string, event Event) error {
	// Journal writes are best-effort
	if err := b.journal.Append(topic, event); err != nil {
		b.log.Warn("Failed to journal event",
			"topic", topic,
			"error", err.Error(),
		)
	}

	return b.inner.Publish(ctx, topic, event)
}

// Subscribe delegates to the inner bus.
func (b *LoggedBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	return b.inner.Subscribe(ctx, topic, handler)
}

// Close closes both the journal and the inner bus.
func (b *LoggedBus) Close() error {
	if err := b.journal.Close(); err != nil {
		b.log.Warn("Failed to close journal",
			"error", err.Error(),
		)
	}

	return b.inner.Close()
}
