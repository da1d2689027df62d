// Package config loads docsync configuration from YAML, validated against
// an embedded CUE schema.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Config is the full docsync configuration.
type Config struct {
	DataDir     string            `yaml:"data_dir"`
	Log         LogConfig         `yaml:"log"`
	Replication ReplicationConfig `yaml:"replication"`
	Serve       ServeConfig       `yaml:"serve"`
	Databases   []DatabaseConfig  `yaml:"databases"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ReplicationConfig tunes replication.
type ReplicationConfig struct {
	// BatchSize is the number of change entries per batch.
	BatchSize int `yaml:"batch_size"`

	// RateLimit caps requests per second to a remote peer. 0 disables it.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`

	// Retries is how many times the CLI retries a failed replication with
	// exponential backoff. The replication engine itself never retries.
	Retries int `yaml:"retries"`
}

// ServeConfig configures the replication HTTP server.
type ServeConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig declares a database to initialize.
type DatabaseConfig struct {
	Name    string              `yaml:"name"`
	Remote  string              `yaml:"remote"`
	Indexes map[string][]string `yaml:"indexes"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DataDir: ".docsync",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Replication: ReplicationConfig{
			BatchSize: 100,
			RateBurst: 1,
			Retries:   3,
		},
		Serve: ServeConfig{
			Addr: "127.0.0.1:5984",
		},
	}
}

// Load reads and validates a YAML configuration file. Fields absent from
// the file keep their defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates YAML configuration bytes and decodes them over the
// defaults.
func Parse(data []byte) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := validate(raw); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// validate checks raw against the #Config definition.
func validate(raw map[string]any) error {
	// CUE compiles JSON directly; YAML maps decoded by yaml.v3 always have
	// string keys, so this conversion is lossless.
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("convert config: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	value := ctx.CompileBytes(data, cue.Filename("config.json"))
	if err := value.Err(); err != nil {
		return fmt.Errorf("compile config: %w", err)
	}
	if err := def.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Database returns the configuration of a named database.
func (c Config) Database(name string) (DatabaseConfig, bool) {
	for _, db := range c.Databases {
		if db.Name == name {
			return db, true
		}
	}
	return DatabaseConfig{}, false
}

// IndexNames returns the database's index names in sorted order.
func (d DatabaseConfig) IndexNames() []string {
	names := make([]string, 0, len(d.Indexes))
	for name := range d.Indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
