package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/hla-match-prediction/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. HLA_MATCH_SERVER_PORT.
const EnvPrefix = "HLA_MATCH"

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v          *viper.Viper
	configFile string
	config     *domain.Config
}

// NewManager creates a new configuration manager that searches the default config paths.
func NewManager() (*Manager, error) {
	return NewManagerWithFile("")
}

// NewManagerWithFile creates a configuration manager reading the given file. An empty path
// searches ./config.yaml, ./config/config.yaml and /etc/hla-match-prediction/config.yaml.
func NewManagerWithFile(path string) (*Manager, error) {
	m := &Manager{configFile: path}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := viper.New()

	if m.configFile != "" {
		v.SetConfigFile(m.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/hla-match-prediction/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// The config file is optional; defaults and environment variables suffice.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || m.configFile != "" {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	if config.LikelihoodStore.DSN == "" && config.LikelihoodStore.Driver == "sqlite" {
		config.LikelihoodStore.DSN = filepath.Join(config.DataDir, "likelihoods.db")
	}

	m.v = v
	m.config = config
	return nil
}

// DefaultDataDir is where local state such as the SQLite likelihood store lives.
func DefaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".hla-match"
	}
	return filepath.Join(homeDir, ".hla-match")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("data_dir", DefaultDataDir())

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")

	// Matching defaults
	v.SetDefault("matching.allowed_loci", []string{"A", "B", "C", "DQB1", "DRB1"})
	v.SetDefault("matching.untyped_locus_policy", string(domain.UntypedMatchesFully))
	v.SetDefault("matching.hla_nomenclature_version", "3.44.0")
	v.SetDefault("matching.frequency_set", "global")
	v.SetDefault("matching.max_pair_details", 1000)

	// Collaborator defaults
	v.SetDefault("collaborators.base_url", "http://localhost:9000/")
	v.SetDefault("collaborators.api_key", "")
	v.SetDefault("collaborators.timeout", "30s")
	v.SetDefault("collaborators.rate_limit", 50)
	v.SetDefault("collaborators.breaker_timeout", "30s")
	v.SetDefault("collaborators.breaker_min_requests", 5)
	v.SetDefault("collaborators.likelihood_source", "remote")

	// Likelihood store defaults
	v.SetDefault("likelihood_store.driver", "sqlite")
	v.SetDefault("likelihood_store.dsn", "")

	// Cache defaults
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.redis_url", "redis://localhost:6379")
	v.SetDefault("cache.default_ttl", "24h")
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")
	v.SetDefault("cache.memory_max_items", 10000)
	v.SetDefault("cache.memory_ttl", "1h")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// MCP defaults
	v.SetDefault("mcp.server_name", "hla-match-prediction")
	v.SetDefault("mcp.server_version", "1.0.0")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetMatchingConfig returns matching configuration
func (m *Manager) GetMatchingConfig() *domain.MatchingConfig {
	return &m.config.Matching
}

// AllowedLoci parses the configured matching loci.
func (m *Manager) AllowedLoci() (domain.LocusSet, error) {
	return domain.ParseLocusSet(m.config.Matching.AllowedLoci)
}

// UntypedLocusPolicy parses the configured untyped locus policy.
func (m *Manager) UntypedLocusPolicy() (domain.UntypedLocusPolicy, error) {
	return domain.ParseUntypedLocusPolicy(m.config.Matching.UntypedLocusPolicy)
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	loci, err := m.AllowedLoci()
	if err != nil {
		return fmt.Errorf("invalid matching loci: %w", err)
	}
	if loci.Len() == 0 {
		return fmt.Errorf("at least one matching locus is required")
	}
	if _, err := m.UntypedLocusPolicy(); err != nil {
		return err
	}
	if config.Matching.HLANomenclatureVersion == "" {
		return fmt.Errorf("HLA nomenclature version is required")
	}
	if config.Matching.MaxPairDetails < 0 {
		return fmt.Errorf("max pair details must not be negative: %d", config.Matching.MaxPairDetails)
	}

	if config.Collaborators.BaseURL == "" {
		return fmt.Errorf("collaborator base URL is required")
	}
	switch config.Collaborators.LikelihoodSource {
	case "remote", "store":
	default:
		return fmt.Errorf("invalid likelihood source: %s", config.Collaborators.LikelihoodSource)
	}

	switch config.LikelihoodStore.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid likelihood store driver: %s", config.LikelihoodStore.Driver)
	}
	if config.Collaborators.LikelihoodSource == "store" && config.LikelihoodStore.DSN == "" {
		return fmt.Errorf("likelihood store DSN is required")
	}

	if config.Cache.Enabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("Redis URL is required when the cache is enabled")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (m *Manager) EnsureDataDir() error {
	return os.MkdirAll(m.config.DataDir, 0755)
}
