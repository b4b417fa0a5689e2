package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds all daemon configuration
type Config struct {
	// Admin server configuration
	Server ServerConfig

	// Plugin discovery configuration
	Plugins PluginsConfig

	// Project model storage
	Storage StorageConfig

	// Stamp notification configuration
	Notify NotifyConfig

	// Migration configuration
	Migration MigrationConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds admin HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// PluginsConfig lists the watched plugin directories per channel
type PluginsConfig struct {
	BuildDirs         []string
	CompileServerDirs []string

	// Serializer snapshot cache
	CacheSize int
	CacheTTL  time.Duration
}

// StorageConfig holds the SQLite model store settings
type StorageConfig struct {
	DatabasePath string
}

// NotifyConfig holds the Redis stamp publisher settings. An empty RedisURL
// disables publishing.
type NotifyConfig struct {
	RedisURL      string
	RedisPassword string
	RedisDB       int
	Key           string
	Channel       string
	Timeout       time.Duration
}

// MigrationConfig holds migration engine settings
type MigrationConfig struct {
	Parallelism int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       logrus.Level
	LogFormat      string // text or json
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Plugins:       loadPluginsConfig(),
		Storage:       loadStorageConfig(),
		Notify:        loadNotifyConfig(),
		Migration:     loadMigrationConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("SOURCEROOTS_HOST", "127.0.0.1"),
		Port:            getEnv("SOURCEROOTS_PORT", "9095"),
		ReadTimeout:     getEnvDuration("SOURCEROOTS_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("SOURCEROOTS_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("SOURCEROOTS_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SOURCEROOTS_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// loadPluginsConfig loads plugin directories from environment
func loadPluginsConfig() PluginsConfig {
	return PluginsConfig{
		BuildDirs:         getEnvList("SOURCEROOTS_PLUGIN_DIRS", defaultPluginDirs("plugins")),
		CompileServerDirs: getEnvList("SOURCEROOTS_COMPILE_SERVER_PLUGIN_DIRS", defaultPluginDirs("compile-server-plugins")),
		CacheSize:         getEnvInt("SOURCEROOTS_SNAPSHOT_CACHE_SIZE", 8),
		CacheTTL:          getEnvDuration("SOURCEROOTS_SNAPSHOT_CACHE_TTL", 10*time.Minute),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() StorageConfig {
	return StorageConfig{
		DatabasePath: getEnv("SOURCEROOTS_DB_PATH", "sourceroots.db"),
	}
}

// loadNotifyConfig loads Redis notification configuration from environment
func loadNotifyConfig() NotifyConfig {
	return NotifyConfig{
		RedisURL:      getEnv("SOURCEROOTS_REDIS_URL", ""),
		RedisPassword: getEnv("SOURCEROOTS_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("SOURCEROOTS_REDIS_DB", 0),
		Key:           getEnv("SOURCEROOTS_STAMP_KEY", "sourceroots:stamp"),
		Channel:       getEnv("SOURCEROOTS_STAMP_CHANNEL", "sourceroots:stamp"),
		Timeout:       getEnvDuration("SOURCEROOTS_REDIS_TIMEOUT", 3*time.Second),
	}
}

// loadMigrationConfig loads migration configuration from environment
func loadMigrationConfig() MigrationConfig {
	return MigrationConfig{
		Parallelism: getEnvInt("SOURCEROOTS_MIGRATION_PARALLELISM", 4),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("SOURCEROOTS_LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("SOURCEROOTS_LOG_FORMAT", "text")),
		MetricsEnabled: getEnvBool("SOURCEROOTS_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if len(c.Plugins.BuildDirs) == 0 && len(c.Plugins.CompileServerDirs) == 0 {
		return fmt.Errorf("at least one plugin directory is required")
	}
	for _, dir := range c.Plugins.BuildDirs {
		for _, other := range c.Plugins.CompileServerDirs {
			if dir == other {
				return fmt.Errorf("plugin directory %s is configured for both channels", dir)
			}
		}
	}
	if c.Plugins.CacheSize <= 0 {
		return fmt.Errorf("snapshot cache size must be positive")
	}

	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Migration.Parallelism <= 0 {
		return fmt.Errorf("migration parallelism must be positive")
	}

	if c.Notify.RedisURL != "" && c.Notify.Key == "" {
		return fmt.Errorf("stamp key is required when redis is configured")
	}

	switch c.Observability.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Observability.LogFormat)
	}

	return nil
}

// NewLogger builds the daemon logger from the observability settings
func (c *Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(c.Observability.LogLevel)
	if c.Observability.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func defaultPluginDirs(name string) []string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.TempDir()
	}
	return []string{filepath.Join(homeDir, ".sourceroots", name)}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var result []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
