package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment     string                `mapstructure:"environment"`
	DataDir         string                `mapstructure:"data_dir"`
	Server          ServerConfig          `mapstructure:"server"`
	Matching        MatchingConfig        `mapstructure:"matching"`
	Collaborators   CollaboratorsConfig   `mapstructure:"collaborators"`
	LikelihoodStore LikelihoodStoreConfig `mapstructure:"likelihood_store"`
	Cache           CacheConfig           `mapstructure:"cache"`
	Logging         LoggingConfig         `mapstructure:"logging"`
	MCP             MCPConfig             `mapstructure:"mcp"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// MatchingConfig controls which loci participate and how untyped loci score.
type MatchingConfig struct {
	AllowedLoci            []string `mapstructure:"allowed_loci"`
	UntypedLocusPolicy     string   `mapstructure:"untyped_locus_policy"`
	HLANomenclatureVersion string   `mapstructure:"hla_nomenclature_version"`
	FrequencySet           string   `mapstructure:"frequency_set"`
	// MaxPairDetails caps genotype match details returned by one request; 0 means no cap.
	MaxPairDetails int `mapstructure:"max_pair_details"`
}

// CollaboratorsConfig configures the remote HLA services deployment.
type CollaboratorsConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RateLimit      int           `mapstructure:"rate_limit"`
	BreakerTimeout time.Duration `mapstructure:"breaker_timeout"`
	BreakerMinReqs uint32        `mapstructure:"breaker_min_requests"`
	// LikelihoodSource selects "remote" (HLA services) or "store" (local likelihood store).
	LikelihoodSource string `mapstructure:"likelihood_source"`
}

// LikelihoodStoreConfig configures the local genotype likelihood store.
type LikelihoodStoreConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite" or "postgres"
	DSN    string `mapstructure:"dsn"`
}

// CacheConfig represents cache configuration
type CacheConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	RedisURL       string        `mapstructure:"redis_url"`
	DefaultTTL     time.Duration `mapstructure:"default_ttl"`
	MaxRetries     int           `mapstructure:"max_retries"`
	PoolSize       int           `mapstructure:"pool_size"`
	PoolTimeout    time.Duration `mapstructure:"pool_timeout"`
	MemoryMaxItems int           `mapstructure:"memory_max_items"`
	MemoryTTL      time.Duration `mapstructure:"memory_ttl"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MCPConfig represents MCP server configuration
type MCPConfig struct {
	ServerName    string `mapstructure:"server_name"`
	ServerVersion string `mapstructure:"server_version"`
}
