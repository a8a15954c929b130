package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Backend kinds accepted by BackendConfig.Kind.
const (
	BackendMemory  = "memory"
	BackendBadger  = "badger"
	BackendKuzu    = "kuzu"
	BackendNeo4j   = "neo4j"
	BackendREST    = "rest"
	BackendGremlin = "gremlin"
)

// ProjectConfig holds project-level settings loaded from cpgraph.yml.
type ProjectConfig struct {
	Language    string         `yaml:"language,omitempty"`
	Languages   []string       `yaml:"languages,omitempty"`
	ExcludeDirs []string       `yaml:"excludeDirs,omitempty"` // doublestar globs, relative to the root
	Verbose     bool           `yaml:"verbose,omitempty"`
	Backend     BackendConfig  `yaml:"backend"`
	Pipeline    PipelineConfig `yaml:"pipeline"`
	Cache       CacheConfig    `yaml:"cache"`
}

// BackendConfig selects and configures the storage driver.
type BackendConfig struct {
	Kind      string     `yaml:"kind" validate:"required,oneof=memory badger kuzu neo4j rest gremlin"`
	Path      string     `yaml:"path,omitempty"` // badger/kuzu directory; empty means in-memory
	URI       string     `yaml:"uri,omitempty" validate:"required_if=Kind neo4j,required_if=Kind rest,required_if=Kind gremlin"`
	Username  string     `yaml:"username,omitempty"`
	Password  string     `yaml:"password,omitempty"`
	Database  string     `yaml:"database,omitempty"`
	Graph     string     `yaml:"graph,omitempty"` // REST graph name
	ChunkSize int        `yaml:"chunkSize,omitempty" validate:"gte=1"`
	REST      RESTConfig `yaml:"rest"`
}

// RESTConfig tunes the retrying REST transport.
type RESTConfig struct {
	MaxAttempts       int     `yaml:"maxAttempts,omitempty" validate:"gte=1"`
	RetryDelay        string  `yaml:"retryDelay,omitempty"`
	Timeout           string  `yaml:"timeout,omitempty"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond,omitempty" validate:"gte=0"`
}

// PipelineConfig sizes the build pipeline.
type PipelineConfig struct {
	ChunkSize       int `yaml:"chunkSize,omitempty" validate:"gte=1"`
	MaxWorkers      int `yaml:"maxWorkers,omitempty" validate:"gte=0"` // 0 means GOMAXPROCS
	ChannelCapacity int `yaml:"channelCapacity,omitempty" validate:"gte=1"`
}

// CacheConfig bounds the read-through driver cache.
type CacheConfig struct {
	Size int64 `yaml:"size,omitempty" validate:"gte=1"`
}

// Default returns the configuration used when no file is present.
func Default() *ProjectConfig {
	return &ProjectConfig{
		Backend: BackendConfig{
			Kind:      BackendMemory,
			Graph:     "cpg",
			ChunkSize: 50,
			REST: RESTConfig{
				MaxAttempts: 5,
				RetryDelay:  "500ms",
				Timeout:     "30s",
			},
		},
		Pipeline: PipelineConfig{
			ChunkSize:       200,
			ChannelCapacity: 64,
		},
		Cache: CacheConfig{Size: 10_000},
	}
}

// Load attempts to read cpgraph.yml or cpgraph.yaml from the given
// directory. Values in the file override Default(). Returns the defaults
// (not an error) if no config file exists.
func Load(dir string) (*ProjectConfig, error) {
	cfg := Default()
	for _, name := range []string{"cpgraph.yml", "cpgraph.yaml"} {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", name, err)
		}
		break
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and duration syntax.
func (c *ProjectConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := c.Backend.REST.RetryDelayDuration(); err != nil {
		return err
	}
	if _, err := c.Backend.REST.TimeoutDuration(); err != nil {
		return err
	}
	return nil
}

// RetryDelayDuration parses RetryDelay, defaulting to 500ms.
func (r RESTConfig) RetryDelayDuration() (time.Duration, error) {
	return parseDuration("retryDelay", r.RetryDelay, 500*time.Millisecond)
}

// TimeoutDuration parses Timeout, defaulting to 30s.
func (r RESTConfig) TimeoutDuration() (time.Duration, error) {
	return parseDuration("timeout", r.Timeout, 30*time.Second)
}

func parseDuration(field, s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", field, err)
	}
	return d, nil
}
