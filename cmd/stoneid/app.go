package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/gradia/stoneid/internal/bus"
	"github.com/gradia/stoneid/internal/config"
	"github.com/gradia/stoneid/internal/identify"
	"github.com/gradia/stoneid/internal/ledger"
	"github.com/gradia/stoneid/internal/pkg/errors"
	"github.com/gradia/stoneid/internal/pkg/logger"
	"github.com/gradia/stoneid/internal/stone"
)

// app holds the wiring shared by commands.
type app struct {
	cfg    *config.Config
	log    *logger.Logger
	gen    *stone.Generator
	ledger ledger.Ledger
	bus    bus.Bus
	svc    *identify.Service
	format string
}

// loadConfig reads the --config file and environment, then applies the
// identifier flags of cmd when they were set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if f := cmd.Flags().Lookup("digest-size"); f != nil && f.Changed {
		cfg.Identifier.DigestSize, _ = cmd.Flags().GetInt("digest-size")
	}
	if f := cmd.Flags().Lookup("encoding"); f != nil && f.Changed {
		cfg.Identifier.Encoding, _ = cmd.Flags().GetString("encoding")
	}
	if f := cmd.Flags().Lookup("workers"); f != nil && f.Changed {
		cfg.Batch.Workers, _ = cmd.Flags().GetInt("workers")
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigError("invalid flags", err)
	}
	return cfg, nil
}

func outputFormat(cmd *cobra.Command) (string, error) {
	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "text", "json":
		return format, nil
	default:
		return "", errors.InvalidInputError(fmt.Sprintf("invalid format: %s (must be text or json)", format))
	}
}

// newGeneratorApp wires only the generator; used by commands that never
// touch the ledger or bus.
func newGeneratorApp(cmd *cobra.Command) (*app, error) {
	format, err := outputFormat(cmd)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	gen, err := stone.NewGenerator(cfg.GeneratorConfig())
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:    cfg,
		log:    logger.NewWithWriter(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format),
		gen:    gen,
		format: format,
	}, nil
}

// newApp wires the generator, ledger, bus and identify service.
func newApp(cmd *cobra.Command) (*app, error) {
	a, err := newGeneratorApp(cmd)
	if err != nil {
		return nil, err
	}

	a.ledger, err = ledger.NewLedger(a.cfg.Ledger)
	if err != nil {
		return nil, err
	}

	a.bus, err = bus.NewBus(a.cfg.Bus, a.log)
	if err != nil {
		a.ledger.Close()
		return nil, err
	}

	a.svc = identify.NewService(a.gen, a.ledger, a.bus, a.log, identify.BatchConfig{
		Workers:       a.cfg.Batch.Workers,
		RatePerSecond: a.cfg.Batch.RatePerSecond,
	})

	a.log.Debug("stoneid ready",
		"digest_size", a.cfg.Identifier.DigestSize,
		"encoding", a.cfg.Identifier.Encoding,
		"ledger", a.cfg.Ledger.Type,
		"bus", a.cfg.Bus.Type,
	)
	return a, nil
}

func (a *app) close() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.log.WithError(err).Warn("failed to close bus")
		}
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.log.WithError(err).Warn("failed to close ledger")
		}
	}
}

// writeMetrics flushes batch metrics to the configured textfile. Failures
// are logged; metrics never fail a batch.
func (a *app) writeMetrics(ctx context.Context) {
	m := a.svc.Metrics()
	if m == nil || a.cfg.Batch.MetricsFile == "" {
		return
	}

	if n, err := a.ledger.Count(ctx); err == nil {
		m.LedgerEntries.Set(float64(n))
	}
	if err := m.WriteTextfile(a.cfg.Batch.MetricsFile); err != nil {
		a.log.WithError(err).Warn("failed to write metrics", "path", a.cfg.Batch.MetricsFile)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
