// Package config loads the minds.json5 app config, the .minds/*.yaml
// team/llm/mcp files, and dotenv overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Config is the process-wide application configuration.
type Config struct {
	Gateway  GatewayConfig  `json:"gateway"`
	Store    StoreConfig    `json:"store"`
	Provider ProviderConfig `json:"provider"`
	Logging  LoggingConfig  `json:"logging"`

	// MindsDir holds team.yaml / llm.yaml / mcp.yaml.
	MindsDir string `json:"mindsDir"`

	// DiligencePushMax is the default auto-continuation budget for
	// members that don't set their own.
	DiligencePushMax int `json:"diligencePushMax"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// Token enables static-token auth when non-empty.
	Token string `json:"token"`
}

type StoreConfig struct {
	// Root is the dialog state directory.
	Root string `json:"root"`
}

type ProviderConfig struct {
	Name    string `json:"name"`
	APIBase string `json:"apiBase"`
	APIKey  string `json:"apiKey"`
	Model   string `json:"model"`
}

type LoggingConfig struct {
	Level string `json:"level"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18990,
		},
		Store: StoreConfig{
			Root: ".dialogs",
		},
		Provider: ProviderConfig{
			Name:  "openai",
			Model: "gpt-4.1",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		MindsDir:         ".minds",
		DiligencePushMax: 3,
	}
}

// Load reads config from a json5 file, then overlays env vars. A
// missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("MINDS_HOST", &c.Gateway.Host)
	envStr("MINDS_TOKEN", &c.Gateway.Token)
	envStr("MINDS_STORE_ROOT", &c.Store.Root)
	envStr("MINDS_LOG_LEVEL", &c.Logging.Level)
	envStr("MINDS_PROVIDER", &c.Provider.Name)
	envStr("MINDS_API_BASE", &c.Provider.APIBase)
	envStr("MINDS_API_KEY", &c.Provider.APIKey)
	envStr("MINDS_MODEL", &c.Provider.Model)
	envStr("MINDS_DIR", &c.MindsDir)

	if v := os.Getenv("MINDS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Gateway.Port = port
		}
	}
	if v := os.Getenv("MINDS_DILIGENCE_PUSH_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.DiligencePushMax = n
		}
	}
}
