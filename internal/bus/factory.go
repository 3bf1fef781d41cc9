package bus

import (
	"context"
	"fmt"
	"strings"

	"github.com/gradia/stoneid/internal/config"
	"github.com/gradia/stoneid/internal/pkg/errors"
	"github.com/gradia/stoneid/internal/pkg/logger"
)

// NewBus creates a new Bus instance based on the configuration. When a
// journal path is configured the bus is wrapped in a LoggedBus.
func NewBus(cfg config.BusConfig, log *logger.Logger) (Bus, error) {
	b, err := newInnerBus(cfg, log)
	if err != nil {
		return nil, err
	}

	if cfg.JournalPath == "" {
		return b, nil
	}

	journal, err := OpenJournal(cfg.JournalPath)
	if err != nil {
		b.Close()
		return nil, errors.ConfigError("opening event journal", err)
	}
	return NewLoggedBus(b, journal, log), nil
}

func newInnerBus(cfg config.BusConfig, log *logger.Logger) (Bus, error) {
	switch strings.ToLower(cfg.Type) {
	case "none":
		return Nop{}, nil

	case "memory", "":
		return NewMemoryBus(log), nil

	case "kafka":
		brokers := ParseKafkaBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, errors.New(errors.CodeConfig, "kafka brokers not configured")
		}

		consumerGroup := cfg.KafkaGroup
		if consumerGroup == "" {
			consumerGroup = "stoneid"
		}

		return NewKafkaBus(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: consumerGroup,
			ClientID:      "stoneid-bus",
		}, log)

	default:
		return nil, errors.New(errors.CodeConfig, fmt.Sprintf("unknown bus type: %s", cfg.Type))
	}
}

// Nop drops every event.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, string, Event) error { return nil }

// Subscribe does nothing; handlers never fire.
func (Nop) Subscribe(context.Context, string, Handler) error { return nil }

// Close does nothing.
func (Nop) Close() error { return nil }
