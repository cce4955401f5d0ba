package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"reactive_kv_store/internal/keys"
	database "reactive_kv_store/internal/kvstore"
	"reactive_kv_store/internal/partition"
)

// Config holds the application configuration
type Config struct {
	Storage     Storage     `yaml:"storage"`
	Persistence Persistence `yaml:"persistence"`
	MemoryOnly  MemoryOnly  `yaml:"memory_only"`
	Server      Server      `yaml:"server"`
	Logging     Logging     `yaml:"logging"`
	Events      Events      `yaml:"events"`
}

type Storage struct {
	// memory, leveldb, pebble, bolt or snapshot
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type Persistence struct {
	Lanes       int    `yaml:"lanes"`
	Partitioner string `yaml:"partitioner"`

	// per-lane backlog that triggers a warning, lanes themselves are unbounded
	BacklogWarning int `yaml:"backlog_warning"`
}

type MemoryOnly struct {
	EnableOnStart bool     `yaml:"enable_on_start"`
	Patterns      []string `yaml:"patterns"`
}

type Server struct {
	GRPCAddr        string        `yaml:"grpc_addr"`
	HTTPAddr        string        `yaml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Logging struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type Events struct {
	// NATSURL enables the change event bridge when set
	NATSURL       string   `yaml:"nats_url"`
	SubjectPrefix string   `yaml:"subject_prefix"`
	Patterns      []string `yaml:"patterns"`
}

func DefaultConfig() *Config {
	return &Config{
		Storage: Storage{
			Backend: database.BackendLevelDB,
			Path:    "./data",
		},
		Persistence: Persistence{
			Lanes:          4,
			Partitioner:    partition.KindRing,
			BacklogWarning: 1024,
		},
		MemoryOnly: MemoryOnly{
			Patterns: []string{
				keys.CollectionReport.String(),
				keys.CollectionPolicy.String(),
				keys.PersonalDetailsList.String(),
			},
		},
		Server: Server{
			GRPCAddr:        ":50051",
			HTTPAddr:        ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		Logging: Logging{
			Level: "info",
		},
		Events: Events{
			SubjectPrefix: "kvstore",
			Patterns:      []string{keys.All.String()},
		},
	}
}

// Load builds the configuration.
// Order: defaults -> YAML file at path (skipped when path is empty) -> ApplyEnvOverrides -> Validate
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides reads KVSTORE_* variables.
func (c *Config) ApplyEnvOverrides() error {
	if v := os.Getenv("KVSTORE_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("KVSTORE_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("KVSTORE_GRPC_ADDR"); v != "" {
		c.Server.GRPCAddr = v
	}
	if v := os.Getenv("KVSTORE_HTTP_ADDR"); v != "" {
		c.Server.HTTPAddr = v
	}
	if v := os.Getenv("KVSTORE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("KVSTORE_NATS_URL"); v != "" {
		c.Events.NATSURL = v
	}
	if v := os.Getenv("KVSTORE_MEMORY_ONLY"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid KVSTORE_MEMORY_ONLY %q: %w", v, err)
		}
		c.MemoryOnly.EnableOnStart = enabled
	}
	return nil
}

func (c *Config) Validate() error {
	if !isValidBackend(c.Storage.Backend) {
		return fmt.Errorf("storage.backend %q must be one of %v", c.Storage.Backend, database.Backends)
	}
	if c.Storage.Backend != database.BackendMemory && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for backend %q", c.Storage.Backend)
	}
	if _, err := partition.New(c.Persistence.Partitioner, c.Persistence.Lanes); err != nil {
		return fmt.Errorf("persistence: %w", err)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}
	if c.Persistence.BacklogWarning < 1 {
		return fmt.Errorf("persistence.backlog_warning must be positive")
	}
	if _, err := c.MemoryOnly.KeyPatterns(); err != nil {
		return fmt.Errorf("memory_only: %w", err)
	}
	if c.Events.NATSURL != "" {
		if c.Events.SubjectPrefix == "" || strings.ContainsAny(c.Events.SubjectPrefix, " *>") {
			return fmt.Errorf("events.subject_prefix %q is not a valid subject", c.Events.SubjectPrefix)
		}
		if _, err := keys.ParsePatterns(c.Events.Patterns); err != nil {
			return fmt.Errorf("events: %w", err)
		}
	}
	return nil
}

// KeyPatterns returns the memory-only patterns.
func (m MemoryOnly) KeyPatterns() ([]keys.Pattern, error) {
	patterns, err := keys.ParsePatterns(m.Patterns)
	if err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		return nil, fmt.Errorf("at least one pattern is required")
	}
	return patterns, nil
}

func isValidBackend(backend string) bool {
	for _, b := range database.Backends {
		if b == backend {
			return true
		}
	}
	return false
}
