// Config loading for the leafvault CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/arborsense/leafvault/internal/paths"
	"github.com/arborsense/leafvault/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"

	// Config keys.
	cfgKeyDataDir      = "data_dir"
	cfgKeyRemoteURL    = "remote_url"
	cfgKeyInferenceURL = "inference_url"
	cfgKeyCaptureDir   = "capture_dir"
	cfgKeyLogFile      = "log_file"
	cfgKeyUserID       = "user_id"
	cfgKeySyncInterval = "sync_interval"
	cfgKeyBackoffMin   = "backoff_min"
	cfgKeyBackoffMax   = "backoff_max"
	cfgKeyHTTPTimeout  = "http_timeout"
)

// defaultConfigYAML is the content written to config.yaml on first run.
const defaultConfigYAML = `# Leafvault configuration

# Synchronization service URL (required for sync, scan, and daemon commands)
# remote_url: https://sync.example.com

# Disease-inference service URL (defaults to remote_url when unset)
# inference_url:

# User identifier reported with every write
user_id: 1

# Data directory (optional; overridable by --data-dir flag)
# data_dir:

# Capture spool directory (optional; defaults to <data_dir>/captures)
# capture_dir:

# Daemon log file (optional; defaults to <data_dir>/leafvault.log)
# log_file:

# Sync tuning
sync_interval: 30s
backoff_min: 1s
backoff_max: 60s
http_timeout: 30s
`

// cliConfig is the viper instance loaded by PersistentPreRunE.
var cliConfig *viper.Viper

// loadConfig reads config.yaml from the resolved config directory using Viper.
// It creates the config directory and a default config.yaml on first run.
// A missing config.yaml is not an error.
func loadConfig(configDir string) (*viper.Viper, error) {
	if err := ensureConfigDir(configDir); err != nil {
		return nil, fmt.Errorf("ensure config dir: %w", err)
	}

	if err := ensureDefaultConfigFile(configDir); err != nil {
		return nil, fmt.Errorf("ensure default config: %w", err)
	}

	v := viper.New()
	v.SetDefault(cfgKeyUserID, 1)
	v.SetDefault(cfgKeySyncInterval, types.DefaultSyncInterval)
	v.SetDefault(cfgKeyBackoffMin, types.DefaultBackoffMin)
	v.SetDefault(cfgKeyBackoffMax, types.DefaultBackoffMax)
	v.SetDefault(cfgKeyHTTPTimeout, types.DefaultHTTPTimeout)
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Missing config.yaml is not an error.
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	return v, nil
}

// buildConfig assembles the engine Config from config.yaml and flags.
func buildConfig() (types.Config, error) {
	dataDir, err := resolveDataDir()
	if err != nil {
		return types.Config{}, fmt.Errorf("resolve data dir: %w", err)
	}
	captureDir, err := paths.ResolveCaptureDir(cliConfig.GetString(cfgKeyCaptureDir), dataDir)
	if err != nil {
		return types.Config{}, fmt.Errorf("resolve capture dir: %w", err)
	}

	cfg := types.Config{
		DataDir:      dataDir,
		RemoteURL:    cliConfig.GetString(cfgKeyRemoteURL),
		InferenceURL: cliConfig.GetString(cfgKeyInferenceURL),
		CaptureDir:   captureDir,
		LogFile:      cliConfig.GetString(cfgKeyLogFile),
		UserID:       cliConfig.GetInt64(cfgKeyUserID),
		SyncInterval: cliConfig.GetDuration(cfgKeySyncInterval),
		BackoffMin:   cliConfig.GetDuration(cfgKeyBackoffMin),
		BackoffMax:   cliConfig.GetDuration(cfgKeyBackoffMax),
		HTTPTimeout:  cliConfig.GetDuration(cfgKeyHTTPTimeout),
	}
	if cfg.InferenceURL == "" {
		cfg.InferenceURL = cfg.RemoteURL
	}
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(dataDir, "leafvault.log")
	}
	if err := cfg.Validate(); err != nil {
		return types.Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// ensureConfigDir creates the config directory if it does not exist.
func ensureConfigDir(configDir string) error {
	return os.MkdirAll(configDir, 0o755)
}

// ensureDefaultConfigFile creates a default config.yaml if the file does not
// exist in the config directory.
func ensureDefaultConfigFile(configDir string) error {
	path := filepath.Join(configDir, configFileExt)

	_, err := os.Stat(path)
	if err == nil {
		// File already exists.
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}

	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}
