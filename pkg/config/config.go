// Package config loads daemon configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Sync tunes the background status synchronizer.
type Sync struct {
	Interval       Duration `yaml:"interval"`
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	QueryTimeout   Duration `yaml:"query_timeout"`
}

// Batch identifies the external compute queue runs are submitted to.
type Batch struct {
	JobQueue      string `yaml:"job_queue"`
	JobDefinition string `yaml:"job_definition"`
}

// Config is the full daemon configuration.
type Config struct {
	ListenAddr    string   `yaml:"listen_addr"`
	DatabaseURL   string   `yaml:"database_url"`
	NATSURL       string   `yaml:"nats_url"`
	ResultsBucket string   `yaml:"results_bucket"`
	DownloadTTL   Duration `yaml:"download_ttl"`
	Sync          Sync     `yaml:"sync"`
	Batch         Batch    `yaml:"batch"`
}

// Load reads the file at path when non-empty, applies environment overrides
// and fills defaults. Environment variables always win over the file.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ListenAddr:  ":8080",
		DownloadTTL: Duration(15 * time.Minute),
		Sync: Sync{
			Interval:       Duration(30 * time.Second),
			MaxAttempts:    3,
			InitialBackoff: Duration(500 * time.Millisecond),
			QueryTimeout:   Duration(15 * time.Second),
		},
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	overrideString(&cfg.ListenAddr, "LISTEN_ADDR")
	overrideString(&cfg.DatabaseURL, "DATABASE_URL")
	overrideString(&cfg.NATSURL, "NATS_URL")
	overrideString(&cfg.ResultsBucket, "S3_BUCKET")
	overrideString(&cfg.Batch.JobQueue, "BATCH_JOB_QUEUE")
	overrideString(&cfg.Batch.JobDefinition, "BATCH_JOB_DEFINITION")

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database_url is required (or set DATABASE_URL)")
	}
	if c.ResultsBucket == "" {
		return errors.New("results_bucket is required (or set S3_BUCKET)")
	}
	return nil
}

func overrideString(dest *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dest = v
	}
}
