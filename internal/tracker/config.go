package tracker

import (
	"fmt"
	"os"
	"strings"
)

// Config resolves tracker-specific settings such as URLs and tokens.
// Keys are looked up under the tracker prefix in the config store and fall
// back to environment variables.
type Config struct {
	// Prefix is the config key prefix for this tracker (e.g., "jira", "zentao")
	Prefix string

	// Store provides access to the config storage
	Store ConfigStore
}

// ConfigStore provides read access to the configuration system.
type ConfigStore interface {
	GetString(key string) string
}

// NewConfig creates a new tracker config with the given prefix and store.
func NewConfig(prefix string, store ConfigStore) *Config {
	return &Config{
		Prefix: prefix,
		Store:  store,
	}
}

// Get retrieves a config value by key, checking the config store first and
// then the environment. The key should not include the tracker prefix.
// Example: cfg.Get("api_token") for "jira" looks up "jira.api_token" and
// falls back to the "JIRA_API_TOKEN" env var.
func (c *Config) Get(key string) string {
	fullKey := c.Prefix + "." + key

	if c.Store != nil {
		if value := c.Store.GetString(fullKey); value != "" {
			return value
		}
	}

	if value := os.Getenv(c.envVarName(key)); value != "" {
		return value
	}
	return ""
}

// GetRequired is like Get but returns an error if the value is empty.
func (c *Config) GetRequired(key string) (string, error) {
	value := c.Get(key)
	if value == "" {
		fullKey := c.Prefix + "." + key
		return "", fmt.Errorf("%s not configured\nSet %s in bdimport.yaml\nOr: export %s=VALUE",
			fullKey, fullKey, c.envVarName(key))
	}
	return value, nil
}

// envVarName converts a config key to its environment variable name.
// Example: for prefix "jira" and key "api_token", returns "JIRA_API_TOKEN"
func (c *Config) envVarName(key string) string {
	envKey := strings.ToUpper(c.Prefix + "_" + key)
	return strings.ReplaceAll(envKey, ".", "_")
}

// CommonConfig defines configuration keys shared by all trackers.
var CommonConfig = struct {
	URL      string
	Username string
	Password string
	Token    string
	Project  string
}{
	URL:      "url",
	Username: "username",
	Password: "password",
	Token:    "api_token",
	Project:  "project",
}

// LoadCredentials assembles Credentials from the config. Explicit values in
// override win over configured ones.
func (c *Config) LoadCredentials(override Credentials) Credentials {
	pick := func(explicit, key string) string {
		if explicit != "" {
			return explicit
		}
		return c.Get(key)
	}
	return Credentials{
		URL:      pick(override.URL, CommonConfig.URL),
		Username: pick(override.Username, CommonConfig.Username),
		Password: pick(override.Password, CommonConfig.Password),
		Token:    pick(override.Token, CommonConfig.Token),
		Project:  pick(override.Project, CommonConfig.Project),
	}
}
