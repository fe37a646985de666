// Package config defines the dynamic configuration object for an nvdb
// instance: one explicit record per component with documented defaults,
// loaded from YAML and validated before pkg/query.Open builds anything
// from it. Unknown fields are rejected at parse time rather than
// silently ignored.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/nounverb/nvdb/pkg/distance"
)

// Config is the root configuration object. Zero-valued optional fields
// are filled in by applyDefaults before Validate runs.
type Config struct {
	Dimensions uint32          `yaml:"dimensions"`
	Distance   distance.Kind   `yaml:"distance,omitzero"`
	HNSW       HNSWConfig      `yaml:"hnsw,omitzero"`
	Cache      CacheConfig     `yaml:"cache,omitzero"`
	Storage    StorageConfig   `yaml:"storage"`
	Statistics StatisticsConfig `yaml:"statistics,omitzero"`
	ReadOnly   bool            `yaml:"readOnly,omitzero"`
}

// HNSWConfig controls index geometry. Zero values are filled in with
// the teacher's tuned defaults by applyDefaults.
type HNSWConfig struct {
	M              int    `yaml:"M,omitzero"`
	MMax0          int    `yaml:"M_max0,omitzero"`
	EfConstruction int    `yaml:"efConstruction,omitzero"`
	EfSearch       int    `yaml:"efSearch,omitzero"`
	Seed           uint64 `yaml:"seed,omitzero"`
}

// CacheConfig controls the multi-level cache's fixed knobs and whether
// the self-tuning controller is allowed to adjust them at runtime.
type CacheConfig struct {
	HotMaxSize        int     `yaml:"hotMaxSize,omitzero"`
	EvictionThreshold float64 `yaml:"evictionThreshold,omitzero"`
	WarmTTLMillis     int64   `yaml:"warmTtlMillis,omitzero"`
	BatchSize         int     `yaml:"batchSize,omitzero"`
	AutoTune          bool    `yaml:"autoTune,omitzero"`
}

// StorageKind names a supported storage backend.
type StorageKind string

const (
	StorageMemory      StorageKind = "memory"
	StorageLocalFS     StorageKind = "local-fs"
	StorageBrowserOPFS StorageKind = "browser-opfs"
	StorageS3          StorageKind = "s3"
)

// S3Style selects the request-signing/addressing dialect for an
// S3-compatible endpoint.
type S3Style string

const (
	S3StyleAWS    S3Style = "s3"
	S3StyleR2     S3Style = "r2"
	S3StyleGCS    S3Style = "gcs"
	S3StyleCustom S3Style = "custom"
)

// StorageConfig selects and configures one storage backend.
type StorageConfig struct {
	Kind StorageKind `yaml:"kind"`

	// local-fs
	Root string `yaml:"root,omitzero"`

	// browser-opfs
	OPFSOrigin     string `yaml:"opfsOrigin,omitzero"`
	OPFSQuotaBytes int64  `yaml:"opfsQuotaBytes,omitzero"`

	// s3 (and s3-compatible: r2, gcs, custom)
	Bucket      string          `yaml:"bucket,omitzero"`
	Region      string          `yaml:"region,omitzero"`
	Endpoint    string          `yaml:"endpoint,omitzero"`
	Prefix      string          `yaml:"prefix,omitzero"`
	Style       S3Style         `yaml:"style,omitzero"`
	Credentials *S3Credentials  `yaml:"credentials,omitzero"`
}

// S3Credentials holds static credentials for an S3-compatible endpoint.
// nvdb never reads these from the ambient environment on its own; the
// caller supplies them explicitly or leaves Credentials nil to fall
// back to the AWS SDK's default provider chain.
type S3Credentials struct {
	AccessKeyID     string `yaml:"accessKeyId,omitzero"`
	SecretAccessKey string `yaml:"secretAccessKey,omitzero"`
	SessionToken    string `yaml:"sessionToken,omitzero"`
}

// StatisticsConfig holds bounds for the asynchronous statistics flush
// timer. They are defaulted and validated here, but the storage
// adapter's flush timer does not read them: it always uses a 5s minimum
// flush interval and a 30s maximum hold-back.
type StatisticsConfig struct {
	MinFlushMs    int64 `yaml:"minFlushMs,omitzero"`
	MaxHoldbackMs int64 `yaml:"maxHoldbackMs,omitzero"`
}

// MinFlushInterval and MaxHoldback convert the millisecond fields to
// time.Duration.
func (s StatisticsConfig) MinFlushInterval() time.Duration {
	return time.Duration(s.MinFlushMs) * time.Millisecond
}

func (s StatisticsConfig) MaxHoldback() time.Duration {
	return time.Duration(s.MaxHoldbackMs) * time.Millisecond
}

// WarmTTL converts CacheConfig's millisecond field to a time.Duration.
func (c CacheConfig) WarmTTL() time.Duration {
	return time.Duration(c.WarmTTLMillis) * time.Millisecond
}

// Load reads and parses a Config from a YAML file on disk.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return FromYAML(data)
}

// FromYAML parses a Config from a YAML document, applies defaults, and
// validates it. Unknown top-level or nested fields are rejected rather
// than silently ignored, per the dynamic-configuration-object design.
func FromYAML(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.UnmarshalWithOptions(data, &cfg, yaml.Strict()); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills in the documented defaults for every optional
// knob that was left at its zero value.
func (c *Config) applyDefaults() {
	if c.Distance == "" {
		c.Distance = distance.Cosine
	}
	if c.HNSW.M == 0 {
		c.HNSW.M = 16
	}
	if c.HNSW.MMax0 == 0 {
		c.HNSW.MMax0 = 2 * c.HNSW.M
	}
	if c.HNSW.EfConstruction == 0 {
		c.HNSW.EfConstruction = 200
	}
	if c.HNSW.EfSearch == 0 {
		c.HNSW.EfSearch = 64
	}
	if c.Cache.HotMaxSize == 0 {
		c.Cache.HotMaxSize = 1000
	}
	if c.Cache.EvictionThreshold == 0 {
		c.Cache.EvictionThreshold = 0.8
	}
	if c.Cache.WarmTTLMillis == 0 {
		c.Cache.WarmTTLMillis = int64((12 * time.Hour) / time.Millisecond)
	}
	if c.Cache.BatchSize == 0 {
		c.Cache.BatchSize = 20
	}
	if c.Storage.Style == "" && c.Storage.Kind == StorageS3 {
		c.Storage.Style = S3StyleAWS
	}
	if c.Statistics.MinFlushMs == 0 {
		c.Statistics.MinFlushMs = 5000
	}
	if c.Statistics.MaxHoldbackMs == 0 {
		c.Statistics.MaxHoldbackMs = 30000
	}
}

// Validate checks Config for internal consistency, reporting the first
// violation found. It assumes applyDefaults has already run.
func (c Config) Validate() error {
	if c.Dimensions == 0 {
		return fmt.Errorf("config: dimensions must be positive")
	}
	switch c.Distance {
	case distance.Cosine, distance.L2, distance.Dot:
	default:
		return fmt.Errorf("config: unknown distance %q", c.Distance)
	}
	if c.HNSW.M <= 0 {
		return fmt.Errorf("config: hnsw.M must be positive")
	}
	if c.HNSW.MMax0 <= 0 {
		return fmt.Errorf("config: hnsw.M_max0 must be positive")
	}
	if c.HNSW.EfConstruction <= 0 {
		return fmt.Errorf("config: hnsw.efConstruction must be positive")
	}
	if c.HNSW.EfSearch <= 0 {
		return fmt.Errorf("config: hnsw.efSearch must be positive")
	}
	if c.Cache.EvictionThreshold < 0.6 || c.Cache.EvictionThreshold > 0.9 {
		return fmt.Errorf("config: cache.evictionThreshold must be in [0.6, 0.9]")
	}
	if c.Cache.BatchSize < 5 || c.Cache.BatchSize > 50 {
		return fmt.Errorf("config: cache.batchSize must be in [5, 50]")
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	if c.Statistics.MinFlushMs <= 0 {
		return fmt.Errorf("config: statistics.minFlushMs must be positive")
	}
	if c.Statistics.MaxHoldbackMs < c.Statistics.MinFlushMs {
		return fmt.Errorf("config: statistics.maxHoldbackMs must be >= minFlushMs")
	}
	return nil
}

func (s StorageConfig) validate() error {
	switch s.Kind {
	case StorageMemory:
		return nil
	case StorageLocalFS:
		if s.Root == "" {
			return fmt.Errorf("config: storage.root is required for kind local-fs")
		}
		return nil
	case StorageBrowserOPFS:
		return nil
	case StorageS3:
		if s.Bucket == "" {
			return fmt.Errorf("config: storage.bucket is required for kind s3")
		}
		switch s.Style {
		case S3StyleAWS, S3StyleR2, S3StyleGCS, S3StyleCustom:
		default:
			return fmt.Errorf("config: unknown storage.style %q", s.Style)
		}
		if s.Style != S3StyleAWS && s.Endpoint == "" {
			return fmt.Errorf("config: storage.endpoint is required for style %q", s.Style)
		}
		return nil
	default:
		return fmt.Errorf("config: unknown storage.kind %q", s.Kind)
	}
}
