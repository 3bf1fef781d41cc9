// Package identify issues stone identifiers: it derives them, records them in
// the ledger and announces them on the event bus.
package identify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/gradia/stoneid/internal/bus"
	"github.com/gradia/stoneid/internal/ledger"
	"github.com/gradia/stoneid/internal/metrics"
	"github.com/gradia/stoneid/internal/pkg/errors"
	"github.com/gradia/stoneid/internal/pkg/hash"
	"github.com/gradia/stoneid/internal/pkg/logger"
	"github.com/gradia/stoneid/internal/stone"
)

const eventSource = "identify"

// Result is the outcome of identifying one record.
type Result struct {
	InternalID  string `json:"internal_id" yaml:"internal_id"`
	BasicID     string `json:"basic_id" yaml:"basic_id"`
	TripleID    string `json:"triple_id" yaml:"triple_id"`
	Fingerprint string `json:"fingerprint" yaml:"fingerprint"`
}

// BatchConfig configures IdentifyBatch.
type BatchConfig struct {
	// Workers is the number of records processed concurrently.
	Workers int

	// RatePerSecond throttles record processing; 0 disables throttling.
	RatePerSecond float64
}

// DefaultBatchConfig returns sensible defaults.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		Workers: 4,
	}
}

// Service issues identifiers.
type Service struct {
	gen     *stone.Generator
	ledger  ledger.Ledger
	bus     bus.Bus
	log     *logger.Logger
	batch   BatchConfig
	metrics *metrics.Metrics
}

// NewService creates a Service. A nil ledger or bus disables that stage.
func NewService(gen *stone.Generator, l ledger.Ledger, b bus.Bus, log *logger.Logger, batch BatchConfig) *Service {
	if l == nil {
		l = ledger.Nop{}
	}
	if b == nil {
		b = bus.Nop{}
	}
	if log == nil {
		log = logger.Discard()
	}
	if batch.Workers < 1 {
		batch.Workers = DefaultBatchConfig().Workers
	}
	return &Service{
		gen:    gen,
		ledger: l,
		bus:    b,
		log:    log.WithComponent("identify"),
		batch:  batch,
	}
}

// WithMetrics records identification outcomes in m.
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// Metrics returns the metrics set, or nil.
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// Generator returns the underlying generator.
func (s *Service) Generator() *stone.Generator {
	return s.gen
}

// Identify derives both identifier forms for rec, registers the triple
// identifier and publishes a stone.identified event.
func (s *Service) Identify(ctx context.Context, rec stone.Record) (Result, error) {
	start := time.Now()
	res, err := s.identify(ctx, rec)
	if s.metrics != nil {
		s.metrics.RecordIdentify(time.Since(start), err)
	}
	return res, err
}

func (s *Service) identify(ctx context.Context, rec stone.Record) (Result, error) {
	log := s.log.WithRecord(rec.InternalID)

	ids, payload, err := s.gen.Derive(rec)
	if err != nil {
		log.Debug("record rejected", "error", err.Error())
		return Result{}, err
	}

	res := Result{
		InternalID:  rec.InternalID,
		BasicID:     ids.Basic,
		TripleID:    ids.Triple,
		Fingerprint: hash.SHA256(payload),
	}

	err = s.ledger.Register(ctx, ledger.Entry{
		ID:          res.TripleID,
		InternalID:  res.InternalID,
		Fingerprint: res.Fingerprint,
	})
	if errors.IsCollision(err) {
		log.Warn("identifier collision", "triple_id", res.TripleID)
		if pubErr := s.bus.Publish(ctx, bus.TopicStoneCollision, s.event(bus.TopicStoneCollision, res)); pubErr != nil {
			log.WithError(pubErr).Warn("failed to publish collision event")
		}
		return Result{}, err
	}
	if err != nil {
		return Result{}, err
	}

	if err := s.bus.Publish(ctx, bus.TopicStoneIdentified, s.event(bus.TopicStoneIdentified, res)); err != nil {
		return Result{}, err
	}

	log.Debug("stone identified", "basic_id", res.BasicID, "triple_id", res.TripleID)
	return res, nil
}

func (s *Service) event(topic string, res Result) bus.Event {
	return bus.NewEvent(topic, eventSource, bus.IdentifiedPayload{
		InternalID:  res.InternalID,
		BasicID:     res.BasicID,
		TripleID:    res.TripleID,
		Fingerprint: res.Fingerprint,
	})
}

// IdentifyBatch identifies recs concurrently. Results keep input order. The
// first failure cancels outstanding work and is returned with the index of
// the failing record.
func (s *Service) IdentifyBatch(ctx context.Context, recs []stone.Record) ([]Result, error) {
	if len(recs) == 0 {
		return nil, nil
	}

	var limiter *rate.Limiter
	if s.batch.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.batch.RatePerSecond), 1)
	}

	start := time.Now()
	results := make([]Result, len(recs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batch.Workers)

	for i, rec := range recs {
		i, rec := i, rec
		g.Go(func() error {
			if limiter != nil {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
			} else if err := gctx.Err(); err != nil {
				return err
			}

			res, err := s.Identify(gctx, rec)
			if err != nil {
				return fmt.Errorf("record %d (%s): %w", i, rec.InternalID, err)
			}
			results[i] = res
			return nil
		})
	}

	err := g.Wait()
	if s.metrics != nil {
		s.metrics.RecordBatch(len(recs), time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("batch identified", "records", len(recs), "duration", time.Since(start))
	return results, nil
}

// Verify reports whether id (basic or triple form) belongs to rec.
func (s *Service) Verify(rec stone.Record, id string) (bool, error) {
	return s.gen.Verify(rec, id)
}

// Lookup returns the ledger entry for a basic or triple identifier.
func (s *Service) Lookup(ctx context.Context, id string) (ledger.Entry, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return ledger.Entry{}, errors.InvalidInputError("identifier must not be empty")
	}
	return s.ledger.Lookup(ctx, strings.TrimSuffix(id, strings.ToLower(stone.BasicSuffix)))
}
