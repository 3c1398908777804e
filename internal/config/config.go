package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Backend kinds accepted by backend.kind.
const (
	BackendFake = "fake"
	BackendAPI  = "api"
)

// Config holds daemon configuration paths and listener settings.
type Config struct {
	ConfigPath            string
	DataDir               string
	RunDir                string
	SocketPath            string
	DBPath                string
	CatalogDir            string
	MetricsListen         string
	Backend               BackendConfig
	SecretsPassphraseFile string
	LogTimestamps         bool
}

// BackendConfig selects and tunes the VM manager the daemon submits to.
type BackendConfig struct {
	Kind           string
	URL            string
	TokenFile      string
	TimeoutSeconds int
}

// FileConfig represents supported YAML config overrides.
type FileConfig struct {
	DataDir               string            `yaml:"data_dir"`
	RunDir                string            `yaml:"run_dir"`
	SocketPath            string            `yaml:"socket_path"`
	DBPath                string            `yaml:"db_path"`
	CatalogDir            string            `yaml:"catalog_dir"`
	MetricsListen         string            `yaml:"metrics_listen"`
	Backend               FileBackendConfig `yaml:"backend"`
	SecretsPassphraseFile string            `yaml:"secrets_passphrase_file"`
	LogTimestamps         *bool             `yaml:"log_timestamps"`
}

// FileBackendConfig represents the backend section of the YAML config.
type FileBackendConfig struct {
	Kind           string `yaml:"kind"`
	URL            string `yaml:"url"`
	TokenFile      string `yaml:"token_file"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func DefaultConfig() Config {
	dataDir := "/var/lib/vmdesk"
	runDir := "/run/vmdesk"
	return Config{
		ConfigPath:    "/etc/vmdesk/config.yaml",
		DataDir:       dataDir,
		RunDir:        runDir,
		SocketPath:    filepath.Join(runDir, "vmdeskd.sock"),
		DBPath:        filepath.Join(dataDir, "vmdesk.db"),
		CatalogDir:    "/etc/vmdesk/catalog",
		MetricsListen: "",
		Backend: BackendConfig{
			Kind:           BackendFake,
			TimeoutSeconds: 60,
		},
		LogTimestamps: true,
	}
}

// Load reads the YAML config file and applies overrides to defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		cfg.ConfigPath = path
	}
	data, err := os.ReadFile(cfg.ConfigPath)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", cfg.ConfigPath, err)
	}
	var fileCfg FileConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", cfg.ConfigPath, err)
	}
	applyFileConfig(&cfg, fileCfg)
	if fileCfg.DataDir != "" && fileCfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "vmdesk.db")
	}
	if fileCfg.RunDir != "" && fileCfg.SocketPath == "" {
		cfg.SocketPath = filepath.Join(cfg.RunDir, "vmdeskd.sock")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFileConfig(cfg *Config, fileCfg FileConfig) {
	if fileCfg.DataDir != "" {
		cfg.DataDir = fileCfg.DataDir
	}
	if fileCfg.RunDir != "" {
		cfg.RunDir = fileCfg.RunDir
	}
	if fileCfg.SocketPath != "" {
		cfg.SocketPath = fileCfg.SocketPath
	}
	if fileCfg.DBPath != "" {
		cfg.DBPath = fileCfg.DBPath
	}
	if fileCfg.CatalogDir != "" {
		cfg.CatalogDir = fileCfg.CatalogDir
	}
	if fileCfg.MetricsListen != "" {
		cfg.MetricsListen = fileCfg.MetricsListen
	}
	if fileCfg.Backend.Kind != "" {
		cfg.Backend.Kind = fileCfg.Backend.Kind
	}
	if fileCfg.Backend.URL != "" {
		cfg.Backend.URL = fileCfg.Backend.URL
	}
	if fileCfg.Backend.TokenFile != "" {
		cfg.Backend.TokenFile = fileCfg.Backend.TokenFile
	}
	if fileCfg.Backend.TimeoutSeconds > 0 {
		cfg.Backend.TimeoutSeconds = fileCfg.Backend.TimeoutSeconds
	}
	if fileCfg.SecretsPassphraseFile != "" {
		cfg.SecretsPassphraseFile = fileCfg.SecretsPassphraseFile
	}
	if fileCfg.LogTimestamps != nil {
		cfg.LogTimestamps = *fileCfg.LogTimestamps
	}
}

// Validate performs basic validation without exposing secrets.
func (c Config) Validate() error {
	if c.ConfigPath == "" {
		return fmt.Errorf("config_path is required")
	}
	if c.RunDir == "" {
		return fmt.Errorf("run_dir is required")
	}
	if c.SocketPath == "" {
		return fmt.Errorf("socket_path is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.CatalogDir == "" {
		return fmt.Errorf("catalog_dir is required")
	}
	if strings.TrimSpace(c.MetricsListen) != "" {
		host, _, err := net.SplitHostPort(c.MetricsListen)
		if err != nil {
			return fmt.Errorf("metrics_listen must be host:port: %w", err)
		}
		if !isLoopbackHost(host) {
			return fmt.Errorf("metrics_listen must be localhost-only (got %q)", host)
		}
	}
	switch c.Backend.Kind {
	case BackendFake:
	case BackendAPI:
		if strings.TrimSpace(c.Backend.URL) == "" {
			return fmt.Errorf("backend.url is required for backend.kind %q", BackendAPI)
		}
	default:
		return fmt.Errorf("backend.kind must be %q or %q (got %q)", BackendFake, BackendAPI, c.Backend.Kind)
	}
	if c.Backend.TimeoutSeconds <= 0 {
		return fmt.Errorf("backend.timeout_seconds must be positive")
	}
	return nil
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
