// Package config provides daemon configuration management from environment variables.
//
// # Configuration Structure
//
// Admin server settings:
//
//	SOURCEROOTS_HOST="127.0.0.1"
//	SOURCEROOTS_PORT="9095"
//	SOURCEROOTS_SHUTDOWN_TIMEOUT="30s"
//
// Plugin settings:
//
//	SOURCEROOTS_PLUGIN_DIRS="/opt/plugins,/usr/share/sourceroots/plugins"
//	SOURCEROOTS_COMPILE_SERVER_PLUGIN_DIRS="/opt/compile-server-plugins"
//	SOURCEROOTS_SNAPSHOT_CACHE_SIZE="8"
//	SOURCEROOTS_SNAPSHOT_CACHE_TTL="10m"
//
// Storage and notification settings:
//
//	SOURCEROOTS_DB_PATH="/var/lib/sourceroots/model.db"
//	SOURCEROOTS_REDIS_URL="redis://localhost:6379"  # empty disables publishing
//	SOURCEROOTS_STAMP_KEY="sourceroots:stamp"
//
// Migration and observability settings:
//
//	SOURCEROOTS_MIGRATION_PARALLELISM="4"
//	SOURCEROOTS_LOG_LEVEL="info"  # debug, info, warn, error
//	SOURCEROOTS_LOG_FORMAT="text" # text, json
//	SOURCEROOTS_METRICS_ENABLED="true"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	logger := cfg.NewLogger()
package config
