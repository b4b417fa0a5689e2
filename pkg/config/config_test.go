package config

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "custom")

	if got := getEnv("TEST_VAR", "default"); got != "custom" {
		t.Errorf("getEnv() = %v, want custom", got)
	}
	if got := getEnv("TEST_VAR_NOT_SET", "default"); got != "default" {
		t.Errorf("getEnv() = %v, want default", got)
	}
}

// TestGetEnvList tests the getEnvList helper function
func TestGetEnvList(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     []string
	}{
		{"unset returns default", "", []string{"default"}},
		{"single value", "/a", []string{"/a"}},
		{"trims and skips empty items", " /a , ,/b,", []string{"/a", "/b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_LIST", tt.envValue)

			got := getEnvList("TEST_LIST", []string{"default"})
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("getEnvList() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		envValue     string
		defaultValue bool
		want         bool
	}{
		{"true", false, true},
		{"TRUE", false, true},
		{"1", false, true},
		{"false", true, false},
		{"yes", true, false},
		{"", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.envValue, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.envValue)

			if got := getEnvBool("TEST_BOOL", tt.defaultValue); got != tt.want {
				t.Errorf("getEnvBool(%q) = %v, want %v", tt.envValue, got, tt.want)
			}
		})
	}
}

// TestGetEnvInt tests the getEnvInt helper function
func TestGetEnvInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if got := getEnvInt("TEST_INT", 1); got != 42 {
		t.Errorf("getEnvInt() = %v, want 42", got)
	}

	t.Setenv("TEST_INT", "forty-two")
	if got := getEnvInt("TEST_INT", 1); got != 1 {
		t.Errorf("getEnvInt() with invalid value = %v, want 1", got)
	}
}

// TestGetEnvDuration tests the getEnvDuration helper function
func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "90s")
	if got := getEnvDuration("TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v, want 90s", got)
	}

	t.Setenv("TEST_DURATION", "soon")
	if got := getEnvDuration("TEST_DURATION", time.Second); got != time.Second {
		t.Errorf("getEnvDuration() with invalid value = %v, want 1s", got)
	}
}

// TestParseLogLevel tests log level parsing
func TestParseLogLevel(t *testing.T) {
	tests := map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		"INFO":    logrus.InfoLevel,
		"warn":    logrus.WarnLevel,
		"warning": logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"verbose": logrus.InfoLevel,
	}

	for input, want := range tests {
		if got := parseLogLevel(input); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

// TestLoadConfig tests loading the full configuration
func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}

		if cfg.Server.Port != "9095" {
			t.Errorf("Server.Port = %v, want 9095", cfg.Server.Port)
		}
		if len(cfg.Plugins.BuildDirs) != 1 || !strings.HasSuffix(cfg.Plugins.BuildDirs[0], "plugins") {
			t.Errorf("Plugins.BuildDirs = %v", cfg.Plugins.BuildDirs)
		}
		if cfg.Notify.RedisURL != "" {
			t.Errorf("Notify.RedisURL = %v, want empty", cfg.Notify.RedisURL)
		}
		if cfg.Migration.Parallelism != 4 {
			t.Errorf("Migration.Parallelism = %v, want 4", cfg.Migration.Parallelism)
		}
		if cfg.Observability.LogLevel != logrus.InfoLevel {
			t.Errorf("Observability.LogLevel = %v, want info", cfg.Observability.LogLevel)
		}
	})

	t.Run("from environment", func(t *testing.T) {
		t.Setenv("SOURCEROOTS_PORT", "9999")
		t.Setenv("SOURCEROOTS_PLUGIN_DIRS", "/a,/b")
		t.Setenv("SOURCEROOTS_COMPILE_SERVER_PLUGIN_DIRS", "/c")
		t.Setenv("SOURCEROOTS_DB_PATH", "/tmp/model.db")
		t.Setenv("SOURCEROOTS_REDIS_URL", "redis://localhost:6379")
		t.Setenv("SOURCEROOTS_MIGRATION_PARALLELISM", "8")
		t.Setenv("SOURCEROOTS_LOG_LEVEL", "debug")
		t.Setenv("SOURCEROOTS_LOG_FORMAT", "JSON")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}

		if cfg.Server.Port != "9999" {
			t.Errorf("Server.Port = %v, want 9999", cfg.Server.Port)
		}
		if !reflect.DeepEqual(cfg.Plugins.BuildDirs, []string{"/a", "/b"}) {
			t.Errorf("Plugins.BuildDirs = %v", cfg.Plugins.BuildDirs)
		}
		if !reflect.DeepEqual(cfg.Plugins.CompileServerDirs, []string{"/c"}) {
			t.Errorf("Plugins.CompileServerDirs = %v", cfg.Plugins.CompileServerDirs)
		}
		if cfg.Storage.DatabasePath != "/tmp/model.db" {
			t.Errorf("Storage.DatabasePath = %v", cfg.Storage.DatabasePath)
		}
		if cfg.Notify.RedisURL != "redis://localhost:6379" {
			t.Errorf("Notify.RedisURL = %v", cfg.Notify.RedisURL)
		}
		if cfg.Migration.Parallelism != 8 {
			t.Errorf("Migration.Parallelism = %v, want 8", cfg.Migration.Parallelism)
		}

		log := cfg.NewLogger()
		if log.GetLevel() != logrus.DebugLevel {
			t.Errorf("logger level = %v, want debug", log.GetLevel())
		}
		if _, ok := log.Formatter.(*logrus.JSONFormatter); !ok {
			t.Errorf("logger formatter = %T, want JSON", log.Formatter)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		t.Setenv("SOURCEROOTS_MIGRATION_PARALLELISM", "0")

		if _, err := LoadConfig(); err == nil || !strings.Contains(err.Error(), "configuration validation failed") {
			t.Errorf("LoadConfig() error = %v, want validation failure", err)
		}
	})
}

// TestConfigValidate tests configuration validation
func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:        ServerConfig{Port: "9095"},
			Plugins:       PluginsConfig{BuildDirs: []string{"/a"}, CompileServerDirs: []string{"/b"}, CacheSize: 8},
			Storage:       StorageConfig{DatabasePath: "model.db"},
			Migration:     MigrationConfig{Parallelism: 4},
			Observability: ObservabilityConfig{LogFormat: "text"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server port is required"},
		{"no plugin dirs", func(c *Config) { c.Plugins.BuildDirs, c.Plugins.CompileServerDirs = nil, nil }, "at least one plugin directory is required"},
		{"shared plugin dir", func(c *Config) { c.Plugins.CompileServerDirs = []string{"/a"} }, "plugin directory /a is configured for both channels"},
		{"zero cache", func(c *Config) { c.Plugins.CacheSize = 0 }, "snapshot cache size must be positive"},
		{"missing database", func(c *Config) { c.Storage.DatabasePath = "" }, "database path is required"},
		{"zero parallelism", func(c *Config) { c.Migration.Parallelism = 0 }, "migration parallelism must be positive"},
		{"redis without key", func(c *Config) { c.Notify.RedisURL = "redis://x" }, "stamp key is required when redis is configured"},
		{"bad log format", func(c *Config) { c.Observability.LogFormat = "xml" }, "invalid log format: xml (must be text or json)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
