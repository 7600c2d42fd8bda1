package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contract-compliance/internal/actuals"
	"github.com/sells-group/contract-compliance/internal/config"
	"github.com/sells-group/contract-compliance/internal/engine"
	"github.com/sells-group/contract-compliance/internal/monitoring"
	"github.com/sells-group/contract-compliance/internal/resilience"
	"github.com/sells-group/contract-compliance/internal/store"
	"github.com/sells-group/contract-compliance/internal/tables"
)

// appEnv holds the wired dependencies of a command.
type appEnv struct {
	Store   store.Store
	Engine  *engine.Engine
	Alerter *monitoring.Alerter
}

// Close releases the store.
func (e *appEnv) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "compliance.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.Pool.MaxConns,
			MinConns: c.Store.Pool.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// newGatherer reads through the store, throttled and cached as configured.
// The cache sits outside the throttle so hits never wait for a token.
func newGatherer(r actuals.Reader, ec config.EngineConfig) actuals.Gatherer {
	var g actuals.Gatherer = actuals.NewStoreGatherer(r)
	if ec.ReadRatePerSec > 0 {
		g = actuals.NewThrottledGatherer(g, ec.ReadRatePerSec, ec.ReadBurst)
	}
	if ec.ActualsCacheTTLSecs > 0 {
		g = actuals.NewCachedGatherer(g, time.Duration(ec.ActualsCacheTTLSecs)*time.Second)
	}
	return g
}

func loadTables(ec config.EngineConfig) (*tables.Tables, error) {
	if ec.TablesPath == "" {
		return tables.Default(), nil
	}
	return tables.Load(ec.TablesPath)
}

func initEngine(st store.Store, ec config.EngineConfig) (*engine.Engine, error) {
	tbl, err := loadTables(ec)
	if err != nil {
		return nil, err
	}
	return engine.New(st, newGatherer(st, ec), engine.Config{
		MaxConcurrency:  ec.MaxConcurrency,
		ConfidenceFloor: ec.ConfidenceFloor,
		InferEdges:      ec.InferEdges,
		Retry:           resilience.FromConfig(ec.Retry.MaxAttempts, ec.Retry.InitialBackoffMs, ec.Retry.MaxBackoffMs),
		Tables:          tbl,
	})
}

// initEnv validates the config for mode and wires the store and engine.
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	st, err := initStore(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	eng, err := initEngine(st, cfg.Engine)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init engine")
	}
	return &appEnv{Store: st, Engine: eng, Alerter: monitoring.NewAlerter(cfg.Monitoring)}, nil
}
