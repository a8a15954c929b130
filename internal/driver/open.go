package driver

import (
	"fmt"

	"github.com/dusk-indust/cpgraph/internal/config"
	"go.uber.org/zap"
)

// Open builds the driver selected by cfg. The returned driver is not yet
// connected.
func Open(cfg config.BackendConfig, log *zap.Logger) (*Core, error) {
	opts := []Option{WithLogger(log), WithChunkSize(cfg.ChunkSize)}
	switch cfg.Kind {
	case config.BackendMemory, "":
		return NewMemDriver(opts...), nil

	case config.BackendBadger:
		b := NewBadgerBackend(BadgerOptions{Path: cfg.Path, SyncWrites: cfg.Path != "", Logger: log})
		return NewCore(config.BackendBadger, b, opts...), nil

	case config.BackendKuzu:
		b, err := newKuzuBackend(cfg.Path)
		if err != nil {
			return nil, err
		}
		return NewCore(config.BackendKuzu, b, opts...), nil

	case config.BackendNeo4j:
		b := NewNeo4jBackend(Neo4jOptions{
			URI:      cfg.URI,
			Username: cfg.Username,
			Password: cfg.Password,
			Database: cfg.Database,
			Logger:   log,
		})
		return NewCore(config.BackendNeo4j, b, opts...), nil

	case config.BackendREST:
		delay, err := cfg.REST.RetryDelayDuration()
		if err != nil {
			return nil, err
		}
		timeout, err := cfg.REST.TimeoutDuration()
		if err != nil {
			return nil, err
		}
		return NewRESTDriver(RESTOptions{
			BaseURL:           cfg.URI,
			Graph:             cfg.Graph,
			Username:          cfg.Username,
			Password:          cfg.Password,
			MaxAttempts:       cfg.REST.MaxAttempts,
			RetryDelay:        delay,
			Timeout:           timeout,
			RequestsPerSecond: cfg.REST.RequestsPerSecond,
			Logger:            log,
		}, opts...)

	case config.BackendGremlin:
		return NewGremlinDriver(GremlinOptions{
			URL:      cfg.URI,
			Username: cfg.Username,
			Password: cfg.Password,
			Logger:   log,
		}, opts...), nil

	default:
		return nil, fmt.Errorf("driver: unknown backend %q", cfg.Kind)
	}
}
