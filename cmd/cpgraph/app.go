package main

import (
	"fmt"

	"github.com/dusk-indust/cpgraph/internal/config"
	"github.com/dusk-indust/cpgraph/internal/driver"
	"github.com/dusk-indust/cpgraph/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app is the configuration, logger and connected driver behind a command.
type app struct {
	cfg *config.ProjectConfig
	log *zap.Logger
	drv *driver.Core
}

// loadConfig reads cpgraph.yml and applies the global flag overrides.
func loadConfig() (*config.ProjectConfig, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, err
	}
	if backendKind != "" {
		cfg.Backend.Kind = backendKind
	}
	if backendPath != "" {
		cfg.Backend.Path = backendPath
	}
	if backendURI != "" {
		cfg.Backend.URI = backendURI
	}
	if verbose {
		cfg.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openApp loads configuration and connects the configured backend. Callers
// must call close.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Verbose)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	drv, err := driver.Open(cfg.Backend, log)
	if err != nil {
		_ = log.Sync()
		return nil, err
	}
	if err := drv.Connect(cmd.Context()); err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("connect %s: %w", cfg.Backend.Kind, err)
	}
	log.Debug("connected", zap.String("backend", cfg.Backend.Kind))
	return &app{cfg: cfg, log: log, drv: drv}, nil
}

// requireEmbedded rejects file export and import against remote backends.
func (a *app) requireEmbedded() error {
	switch a.cfg.Backend.Kind {
	case config.BackendMemory, config.BackendBadger, config.BackendKuzu:
		return nil
	}
	return fmt.Errorf("export and import need an embedded backend, not %s", a.cfg.Backend.Kind)
}

func (a *app) close() {
	if err := a.drv.Close(); err != nil {
		a.log.Warn("close driver", zap.Error(err))
	}
	_ = a.log.Sync()
}
