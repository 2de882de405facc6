// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < --config file < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	pgerrors "github.com/paygraph/paygraph/pkg/errors"
)

// Config holds all paygraph configuration.
type Config struct {
	Load       LoadConfig       `yaml:"load"`
	Sink       SinkConfig       `yaml:"sink"`
	Neo4j      Neo4jConfig      `yaml:"neo4j"`
	DuckDB     DuckDBConfig     `yaml:"duckdb"`
	Source     SourceConfig     `yaml:"source"`
	Simulation SimulationConfig `yaml:"simulation"`
	S3         S3Config         `yaml:"s3"`
	Status     StatusConfig     `yaml:"status"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Enrich     EnrichConfig     `yaml:"enrich"`
}

// LoadConfig controls batching and write concurrency.
type LoadConfig struct {
	BatchSize   int `yaml:"batch_size"`
	Parallelism int `yaml:"parallelism"`
	QueueDepth  int `yaml:"queue_depth"`
}

// SinkConfig selects the graph store.
type SinkConfig struct {
	Backend string `yaml:"backend"` // neo4j | duckdb
	Workers int    `yaml:"workers"` // 0 = parallelism
}

// Neo4jConfig for the Bolt connection.
type Neo4jConfig struct {
	URI         string `yaml:"uri"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	Database    string `yaml:"database"`
	TLS         bool   `yaml:"tls"`
	MaxPoolSize int    `yaml:"max_pool_size"`
}

// DuckDBConfig for the embedded store.
type DuckDBConfig struct {
	Path    string `yaml:"path"` // empty = in-memory
	Threads int    `yaml:"threads"`
}

// SourceConfig selects the producer.
type SourceConfig struct {
	Kind string `yaml:"kind"` // sim | csv
	Path string `yaml:"path"` // local path or s3://bucket/key
}

// SimulationConfig shapes the simulated network.
type SimulationConfig struct {
	Seed                int64   `yaml:"seed"`
	Steps               int     `yaml:"steps"`
	TransactionsPerStep int     `yaml:"transactions_per_step"`
	Clients             int     `yaml:"clients"`
	Merchants           int     `yaml:"merchants"`
	Banks               int     `yaml:"banks"`
	Mules               int     `yaml:"mules"`
	FraudRate           float64 `yaml:"fraud_rate"`
	MerchantSkew        float64 `yaml:"merchant_skew"`
}

// S3Config for CSV replay from object storage.
type S3Config struct {
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// StatusConfig for run status publication. Empty address disables it.
type StatusConfig struct {
	RedisAddress string        `yaml:"redis_address"`
	Prefix       string        `yaml:"prefix"`
	TTL          time.Duration `yaml:"ttl"`
	Interval     time.Duration `yaml:"interval"`
}

// TelemetryConfig for OTLP trace export.
type TelemetryConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Endpoint      string  `yaml:"endpoint"`
	SamplingRatio float64 `yaml:"sampling_ratio"`
}

// EnrichConfig for the post-load passes.
type EnrichConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Load: LoadConfig{
			BatchSize:   500,
			Parallelism: 8,
			QueueDepth:  5000,
		},
		Sink: SinkConfig{
			Backend: "neo4j",
		},
		Neo4j: Neo4jConfig{
			URI:         "bolt://localhost:7687",
			Username:    "neo4j",
			Password:    "password",
			MaxPoolSize: 100,
		},
		Source: SourceConfig{
			Kind: "sim",
		},
		Simulation: SimulationConfig{
			Seed:                1,
			Steps:               720,
			TransactionsPerStep: 100,
			Clients:             5000,
			Merchants:           500,
			Banks:               10,
			Mules:               50,
			FraudRate:           0.002,
			MerchantSkew:        1.1,
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Status: StatusConfig{
			Prefix:   "paygraph:runs:",
			TTL:      7 * 24 * time.Hour,
			Interval: 2 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Endpoint:      "localhost:4317",
			SamplingRatio: 1.0,
		},
	}
}

// Validate rejects configurations a load cannot run with.
func (c *Config) Validate() error {
	invalid := func(msg string, key string, value interface{}) error {
		return pgerrors.New(pgerrors.CodeInvalidConfig, msg).WithContext(key, value)
	}

	if c.Load.BatchSize < 1 {
		return invalid("batch size must be at least 1", "batch_size", c.Load.BatchSize)
	}
	if c.Load.Parallelism < 1 {
		return invalid("parallelism must be at least 1", "parallelism", c.Load.Parallelism)
	}
	switch c.Sink.Backend {
	case "neo4j", "duckdb":
	default:
		return invalid("unknown sink backend", "backend", c.Sink.Backend)
	}
	switch c.Source.Kind {
	case "sim":
	case "csv":
		if c.Source.Path == "" {
			return invalid("csv source needs a path", "kind", c.Source.Kind)
		}
	default:
		return invalid("unknown source kind", "kind", c.Source.Kind)
	}
	if c.Sink.Workers < 0 {
		return invalid("workers must not be negative", "workers", c.Sink.Workers)
	}
	return nil
}

// Workers returns the sink worker count, defaulting to the parallelism.
func (c *Config) Workers() int {
	if c.Sink.Workers > 0 {
		return c.Sink.Workers
	}
	return c.Load.Parallelism
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded

	search []string
	getenv func(string) string
}

// NewManager creates a new configuration manager reading the standard
// locations and the process environment.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
		search: searchPaths(),
		getenv: os.Getenv,
	}
}

// searchPaths returns config file paths in priority order.
func searchPaths() []string {
	var paths []string

	// System config
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/paygraph/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".paygraph", "config.yaml"))
	}

	// Project config (current directory)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".paygraph.yaml"))
	}

	return paths
}

// Load loads configuration from all sources in priority order. explicit,
// when set, must exist and overrides the search paths.
func (m *Manager) Load(explicit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	for _, path := range m.search {
		if err := m.loadFile(path); err != nil {
			// Ignore missing files, but fail on broken ones
			if !os.IsNotExist(err) {
				return err
			}
			continue
		}
		m.paths = append(m.paths, path)
	}

	if explicit != "" {
		if err := m.loadFile(explicit); err != nil {
			if os.IsNotExist(err) {
				return pgerrors.FileNotFound(explicit)
			}
			return err
		}
		m.paths = append(m.paths, explicit)
	}

	return m.loadEnv()
}

// loadFile overlays one YAML file onto the current config. Keys absent from
// the file keep their value.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, m.config); err != nil {
		return pgerrors.Wrapf(err, pgerrors.CodeInvalidConfig, "failed to parse %s", path)
	}
	return nil
}

// loadEnv applies PAYGRAPH_* environment variables.
func (m *Manager) loadEnv() error {
	c := m.config

	str := map[string]*string{
		"PAYGRAPH_SINK":           &c.Sink.Backend,
		"PAYGRAPH_NEO4J_URI":      &c.Neo4j.URI,
		"PAYGRAPH_NEO4J_USERNAME": &c.Neo4j.Username,
		"PAYGRAPH_NEO4J_PASSWORD": &c.Neo4j.Password,
		"PAYGRAPH_NEO4J_DATABASE": &c.Neo4j.Database,
		"PAYGRAPH_DUCKDB_PATH":    &c.DuckDB.Path,
		"PAYGRAPH_SOURCE":         &c.Source.Kind,
		"PAYGRAPH_INPUT":          &c.Source.Path,
		"PAYGRAPH_S3_REGION":      &c.S3.Region,
		"PAYGRAPH_S3_ENDPOINT":    &c.S3.Endpoint,
		"PAYGRAPH_REDIS":          &c.Status.RedisAddress,
		"PAYGRAPH_OTLP_ENDPOINT":  &c.Telemetry.Endpoint,
	}
	for key, dst := range str {
		if v := m.getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PAYGRAPH_BATCH_SIZE":  &c.Load.BatchSize,
		"PAYGRAPH_PARALLELISM": &c.Load.Parallelism,
		"PAYGRAPH_QUEUE_DEPTH": &c.Load.QueueDepth,
		"PAYGRAPH_WORKERS":     &c.Sink.Workers,
	}
	for key, dst := range ints {
		v := m.getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return pgerrors.Wrapf(err, pgerrors.CodeInvalidConfig, "invalid %s", key)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"PAYGRAPH_NEO4J_TLS": &c.Neo4j.TLS,
		"PAYGRAPH_ENRICH":    &c.Enrich.Enabled,
		"PAYGRAPH_TELEMETRY": &c.Telemetry.Enabled,
	}
	for key, dst := range bools {
		v := m.getenv(key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return pgerrors.Wrapf(err, pgerrors.CodeInvalidConfig, "invalid %s", key)
		}
		*dst = b
	}

	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// String renders the effective configuration as YAML with the password
// masked.
func (c *Config) String() string {
	masked := *c
	if masked.Neo4j.Password != "" {
		masked.Neo4j.Password = "****"
	}
	data, err := yaml.Marshal(&masked)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}
