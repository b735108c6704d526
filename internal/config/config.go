package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mygrocart/price-indexer/internal/domain"
)

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`     // Maximum number of open connections to the database
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`     // Maximum number of idle connections in the pool
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`  // Maximum amount of time a connection may be reused (e.g., "5m", "1h")
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"` // Maximum amount of time a connection may be idle (e.g., "10m", "30m")
}

// DSN returns the GORM postgres connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig holds NATS JetStream configuration
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectionName string        `mapstructure:"connection_name"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // in seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"`  // in seconds
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	APIKeys []string `mapstructure:"api_keys"`
}

// ChainConfig holds one retailer chain's endpoints and fetch policy
type ChainConfig struct {
	LocatorURL string `mapstructure:"locator_url"`
	ZipParam   string `mapstructure:"zip_param"`
	SearchURL  string `mapstructure:"search_url"`
	QueryParam string `mapstructure:"query_param"`
	StoreParam string `mapstructure:"store_param"`

	MinInterval      time.Duration `mapstructure:"min_interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RotateUserAgent  bool          `mapstructure:"rotate_user_agent"`
	MinResponseBytes int           `mapstructure:"min_response_bytes"`
}

// MatcherConfig holds product matcher configuration
type MatcherConfig struct {
	Threshold float64 `mapstructure:"threshold"`
}

// FreshnessConfig holds price freshness windows
type FreshnessConfig struct {
	FreshWindow    time.Duration `mapstructure:"fresh_window"`
	CooldownWindow time.Duration `mapstructure:"cooldown_window"`
}

// DiscoveryConfig holds store discovery configuration
type DiscoveryConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// QueueConfig holds scrape job queue configuration
type QueueConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	FetchWait      time.Duration `mapstructure:"fetch_wait"`
	AckWait        time.Duration `mapstructure:"ack_wait"`
	HistoryLimit   int           `mapstructure:"history_limit"`
}

// OrchestratorConfig holds search orchestration configuration
type OrchestratorConfig struct {
	WaitTimeout  time.Duration `mapstructure:"wait_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// RefreshConfig holds the weekly refresh sweep configuration
type RefreshConfig struct {
	Schedule         string        `mapstructure:"schedule"`           // cron expression
	ActiveZipHorizon time.Duration `mapstructure:"active_zip_horizon"` // how far back a ZIP's last search may be to still count as active
}

// APIConfig holds configuration for the api program
type APIConfig struct {
	BaseConfig   `mapstructure:",squash"`
	Server       ServerConfig           `mapstructure:"server"`
	Auth         AuthConfig             `mapstructure:"auth"`
	Database     DatabaseConfig         `mapstructure:"database"`
	Redis        RedisConfig            `mapstructure:"redis"`
	NATS         NATSConfig             `mapstructure:"nats"`
	Chains       map[string]ChainConfig `mapstructure:"chains"`
	Matcher      MatcherConfig          `mapstructure:"matcher"`
	Freshness    FreshnessConfig        `mapstructure:"freshness"`
	Discovery    DiscoveryConfig        `mapstructure:"discovery"`
	Queue        QueueConfig            `mapstructure:"queue"`
	Orchestrator OrchestratorConfig     `mapstructure:"orchestrator"`
}

// WorkerConfig holds configuration for the worker program
type WorkerConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig         `mapstructure:"database"`
	Redis      RedisConfig            `mapstructure:"redis"`
	NATS       NATSConfig             `mapstructure:"nats"`
	Chains     map[string]ChainConfig `mapstructure:"chains"`
	Matcher    MatcherConfig          `mapstructure:"matcher"`
	Freshness  FreshnessConfig        `mapstructure:"freshness"`
	Discovery  DiscoveryConfig        `mapstructure:"discovery"`
	Queue      QueueConfig            `mapstructure:"queue"`
}

// SweeperConfig holds configuration for the sweeper program
type SweeperConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig `mapstructure:"database"`
	NATS       NATSConfig     `mapstructure:"nats"`
	Refresh    RefreshConfig  `mapstructure:"refresh"`
	Queue      QueueConfig    `mapstructure:"queue"`
}

// LoadAPIConfig loads configuration for the api program
func LoadAPIConfig(configFile string, envPath string) (*APIConfig, error) {
	v := configureViper("api", configFile, envPath)

	// Set defaults
	v.SetDefault("debug", false)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.idle_timeout", 120)
	setDatabaseDefaults(v)
	setPipelineDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Config file not found, use environment variables
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config APIConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateDatabase(config.Database); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadWorkerConfig loads configuration for the worker program
func LoadWorkerConfig(configFile string, envPath string) (*WorkerConfig, error) {
	v := configureViper("worker", configFile, envPath)

	// Set defaults
	v.SetDefault("debug", false)
	setDatabaseDefaults(v)
	setPipelineDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Config file not found, use environment variables
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config WorkerConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateDatabase(config.Database); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadSweeperConfig loads configuration for the sweeper program
func LoadSweeperConfig(configFile string, envPath string) (*SweeperConfig, error) {
	v := configureViper("sweeper", configFile, envPath)

	// Set defaults
	v.SetDefault("debug", false)
	setDatabaseDefaults(v)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_initial", "5s")
	v.SetDefault("queue.history_limit", 100)
	v.SetDefault("refresh.schedule", "0 3 * * 0") // Sundays 03:00
	v.SetDefault("refresh.active_zip_horizon", "720h")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Config file not found, use environment variables
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config SweeperConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateDatabase(config.Database); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDatabaseDefaults(v *viper.Viper) {
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "10m")
}

// setPipelineDefaults covers every section the scrape pipeline shares between
// the api and worker programs
func setPipelineDefaults(v *viper.Viper) {
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("matcher.threshold", 70)
	v.SetDefault("freshness.fresh_window", "24h")
	v.SetDefault("freshness.cooldown_window", "30m")
	v.SetDefault("discovery.cache_ttl", "720h") // 30 days
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_initial", "5s")
	v.SetDefault("queue.fetch_wait", "2s")
	v.SetDefault("queue.ack_wait", "15m")
	v.SetDefault("queue.history_limit", 100)
	v.SetDefault("orchestrator.wait_timeout", "20s")
	v.SetDefault("orchestrator.poll_interval", "500ms")

	for _, chain := range domain.SupportedChains {
		v.SetDefault(fmt.Sprintf("chains.%s.min_interval", chain), "2s")
		v.SetDefault(fmt.Sprintf("chains.%s.timeout", chain), "10s")
		v.SetDefault(fmt.Sprintf("chains.%s.rotate_user_agent", chain), true)
		v.SetDefault(fmt.Sprintf("chains.%s.min_response_bytes", chain), 256)
	}
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Host == "" {
		return errors.New("database.host is required")
	}
	if cfg.DBName == "" {
		return errors.New("database.dbname is required")
	}
	return nil
}

// configureViper returns a viper instance with the config file and environment variables set
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	// Load environment variables
	loadEnv(envPath, service)

	// Set config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		// Search for config.yaml in multiple locations:
		// 1. Current directory
		v.AddConfigPath(".")
		// 2. Service-specific directory (e.g., cmd/api/, cmd/worker/)
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		// 3. Config directory
		v.AddConfigPath("config/")
	}

	// Set environment variables
	v.SetEnvPrefix("MYGROCART")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind all environment variables
	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds every known config key so AutomaticEnv sees
// keys that never appear in a config file
func bindAllEnvVars(v *viper.Viper) {
	commonKeys := []string{
		// Base
		"debug",
		"sentry_dsn",
		// Database
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		"database.conn_max_idle_time",
		// Redis
		"redis.addr",
		"redis.password",
		"redis.db",
		// NATS
		"nats.url",
		"nats.max_reconnects",
		"nats.reconnect_wait",
		"nats.connection_name",
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.idle_timeout",
		// Auth
		"auth.api_keys",
		// Matcher
		"matcher.threshold",
		// Freshness
		"freshness.fresh_window",
		"freshness.cooldown_window",
		// Discovery
		"discovery.cache_ttl",
		// Queue
		"queue.max_attempts",
		"queue.backoff_initial",
		"queue.fetch_wait",
		"queue.ack_wait",
		"queue.history_limit",
		// Orchestrator
		"orchestrator.wait_timeout",
		"orchestrator.poll_interval",
		// Refresh sweep
		"refresh.schedule",
		"refresh.active_zip_horizon",
	}

	for _, chain := range domain.SupportedChains {
		for _, field := range []string{
			"locator_url", "zip_param", "search_url", "query_param", "store_param",
			"min_interval", "timeout", "rotate_user_agent", "min_response_bytes",
		} {
			commonKeys = append(commonKeys, fmt.Sprintf("chains.%s.%s", chain, field))
		}
	}

	for _, key := range commonKeys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from the config directory
func loadEnv(envPath string, service string) {
	// Always try shared base first, then local, then optional per-service local.
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	// Default to config directory
	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // Overload lets later files override earlier ones
	}
}

// ChdirRepoRoot changes the current working directory to the repository root
func ChdirRepoRoot() {
	cwd, _ := os.Getwd()
	for range 5 {
		if _, err := os.Stat(filepath.Join(cwd, "config")); err == nil {
			_ = os.Chdir(cwd)
			return
		}
		cwd = filepath.Dir(cwd)
	}
}
