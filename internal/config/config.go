// Package config loads bdimport settings from bdimport.yaml, BDIMPORT_*
// environment variables and an optional .env file.
//
// Precedence, highest first: explicit Set calls (command-line flags),
// environment, config file, defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/steveyegge/bdimport/internal/storage/sqlstore"
	"github.com/steveyegge/bdimport/internal/telemetry"
	"github.com/steveyegge/bdimport/internal/tracker"
)

const (
	// ConfigName is the config file name without extension.
	ConfigName = "bdimport"
	// EnvPrefix prefixes every environment override (BDIMPORT_DB_PATH).
	EnvPrefix = "BDIMPORT"
)

var (
	mu sync.RWMutex
	v  *viper.Viper
)

// Initialize loads configuration. When path is empty the file is searched in
// the working directory, then $XDG_CONFIG_HOME/bdimport, then
// ~/.config/bdimport. A missing file is not an error.
func Initialize(path string) error {
	mu.Lock()
	defer mu.Unlock()

	// Existing environment wins over .env entries.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	nv := viper.New()
	nv.SetConfigType("yaml")
	if path != "" {
		nv.SetConfigFile(path)
	} else {
		nv.SetConfigName(ConfigName)
		nv.AddConfigPath(".")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			nv.AddConfigPath(filepath.Join(xdg, "bdimport"))
		}
		if home, err := os.UserHomeDir(); err == nil {
			nv.AddConfigPath(filepath.Join(home, ".config", "bdimport"))
		}
	}
	nv.SetEnvPrefix(EnvPrefix)
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	nv.AutomaticEnv()
	setDefaults(nv)

	if err := nv.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	v = nv
	return nil
}

func setDefaults(nv *viper.Viper) {
	nv.SetDefault("json", false)
	nv.SetDefault("verbose", false)

	nv.SetDefault("db.driver", "sqlite")
	nv.SetDefault("db.path", "bdimport.db")
	nv.SetDefault("db.host", "127.0.0.1")
	nv.SetDefault("db.port", 3306)
	nv.SetDefault("db.user", "root")
	nv.SetDefault("db.password", "")
	nv.SetDefault("db.name", "bdimport")
	nv.SetDefault("db.tls", false)

	nv.SetDefault("import.max_retries", 3)
	nv.SetDefault("import.retry_interval", 500*time.Millisecond)
	nv.SetDefault("import.concurrency", 4)
	nv.SetDefault("import.page_size", tracker.DefaultPageSize)
	nv.SetDefault("import.fallback_author", 0)
	nv.SetDefault("import.overrides", "")

	nv.SetDefault("http.timeout", tracker.DefaultTimeout)
	nv.SetDefault("http.user_agent", tracker.DefaultUserAgent)
	nv.SetDefault("http.max_response_bytes", tracker.DefaultMaxResponseBytes)
	nv.SetDefault("http.max_nodes", tracker.DefaultMaxNodes)

	nv.SetDefault("telemetry.enabled", false)
	nv.SetDefault("telemetry.stdout", false)
	nv.SetDefault("telemetry.endpoint", "")
}

// get returns the loaded config, initializing defaults on first use.
func get() *viper.Viper {
	mu.RLock()
	cur := v
	mu.RUnlock()
	if cur != nil {
		return cur
	}
	mu.Lock()
	defer mu.Unlock()
	if v == nil {
		v = viper.New()
		v.SetEnvPrefix(EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		v.AutomaticEnv()
		setDefaults(v)
	}
	return v
}

func GetString(key string) string          { return get().GetString(key) }
func GetBool(key string) bool              { return get().GetBool(key) }
func GetInt(key string) int                { return get().GetInt(key) }
func GetInt64(key string) int64            { return get().GetInt64(key) }
func GetDuration(key string) time.Duration { return get().GetDuration(key) }

// Set overrides a key for the rest of the process.
func Set(key string, value any) { get().Set(key, value) }

// ConfigFileUsed returns the path of the loaded file, "" when none.
func ConfigFileUsed() string { return get().ConfigFileUsed() }

// AllSettings returns the merged settings as a nested map.
func AllSettings() map[string]any { return get().AllSettings() }

// ResetForTesting drops the loaded configuration.
func ResetForTesting() {
	mu.Lock()
	defer mu.Unlock()
	v = nil
}

// store adapts the loaded config to tracker.ConfigStore.
type store struct{}

func (store) GetString(key string) string { return GetString(key) }

// Tracker returns the credential lookup for one tracker: "<name>.api_token"
// in the file, BDIMPORT_<NAME>_API_TOKEN, then <NAME>_API_TOKEN.
func Tracker(name string) *tracker.Config {
	return tracker.NewConfig(name, store{})
}

// Store returns the storage backend settings.
func Store() sqlstore.Config {
	return sqlstore.Config{
		Driver:   GetString("db.driver"),
		Path:     GetString("db.path"),
		Host:     GetString("db.host"),
		Port:     GetInt("db.port"),
		User:     GetString("db.user"),
		Password: GetString("db.password"),
		Database: GetString("db.name"),
		TLS:      GetBool("db.tls"),
	}
}

// TransportOptions returns the HTTP settings injected into every tracker.
func TransportOptions() tracker.Options {
	return tracker.Options{
		Timeout:          GetDuration("http.timeout"),
		UserAgent:        GetString("http.user_agent"),
		MaxResponseBytes: GetInt64("http.max_response_bytes"),
		MaxNodes:         GetInt("http.max_nodes"),
		PageSize:         GetInt("import.page_size"),
	}.WithDefaults()
}

// Import holds the orchestrator settings.
type Import struct {
	MaxRetries     int
	RetryInterval  time.Duration
	Concurrency    int
	FallbackAuthor *int64 // nil when unset
	OverridesFile  string
}

// ImportSettings returns the orchestrator settings.
func ImportSettings() Import {
	s := Import{
		MaxRetries:    GetInt("import.max_retries"),
		RetryInterval: GetDuration("import.retry_interval"),
		Concurrency:   GetInt("import.concurrency"),
		OverridesFile: GetString("import.overrides"),
	}
	if id := GetInt64("import.fallback_author"); id > 0 {
		s.FallbackAuthor = &id
	}
	return s
}

// Telemetry returns the OpenTelemetry settings. Without telemetry.endpoint,
// the standard OTEL_EXPORTER_OTLP_* variables name the collector.
func Telemetry(service, version string) telemetry.Settings {
	endpoint := GetString("telemetry.endpoint")
	for _, key := range []string{"OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"} {
		if endpoint != "" {
			break
		}
		endpoint = os.Getenv(key)
	}
	return telemetry.Settings{
		ServiceName: service,
		Version:     version,
		Enabled:     GetBool("telemetry.enabled"),
		Stdout:      GetBool("telemetry.stdout"),
		Endpoint:    endpoint,
	}
}
