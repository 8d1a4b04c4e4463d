package types

import (
	"errors"
	"time"
)

// Config holds the engine parameters loaded from config.yaml and flags.
type Config struct {
	DataDir      string        `json:"data_dir" yaml:"data_dir"`
	RemoteURL    string        `json:"remote_url" yaml:"remote_url"`
	InferenceURL string        `json:"inference_url" yaml:"inference_url"`
	CaptureDir   string        `json:"capture_dir" yaml:"capture_dir"`
	LogFile      string        `json:"log_file" yaml:"log_file"`
	UserID       int64         `json:"user_id" yaml:"user_id"`
	SyncInterval time.Duration `json:"sync_interval" yaml:"sync_interval"`
	BackoffMin   time.Duration `json:"backoff_min" yaml:"backoff_min"`
	BackoffMax   time.Duration `json:"backoff_max" yaml:"backoff_max"`
	HTTPTimeout  time.Duration `json:"http_timeout" yaml:"http_timeout"`
}

// Config validation errors.
var (
	ErrRemoteURLEmpty  = errors.New("remote_url must not be empty")
	ErrBackoffInvalid  = errors.New("backoff_min must be positive and not exceed backoff_max")
	ErrIntervalInvalid = errors.New("sync_interval must be positive")
)

// Defaults applied by Validate when a field is zero.
const (
	DefaultSyncInterval = 30 * time.Second
	DefaultBackoffMin   = 1 * time.Second
	DefaultBackoffMax   = 60 * time.Second
	DefaultHTTPTimeout  = 30 * time.Second
)

// Validate checks that the Config is well-formed and fills zero-valued
// tuning fields with defaults. Returns a sentinel error on failure.
func (c *Config) Validate() error {
	if c.RemoteURL == "" {
		return ErrRemoteURLEmpty
	}
	if c.SyncInterval == 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.BackoffMin == 0 {
		c.BackoffMin = DefaultBackoffMin
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.SyncInterval < 0 {
		return ErrIntervalInvalid
	}
	if c.BackoffMin <= 0 || c.BackoffMin > c.BackoffMax {
		return ErrBackoffInvalid
	}
	return nil
}
