// Package config loads the server configuration from a YAML file with
// environment-variable overrides for secrets and deployment knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Backend  BackendConfig  `yaml:"backend"`
	Gate     GateConfig     `yaml:"gate"`
	Accounts []AccountSeed  `yaml:"accounts"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig contains the sqlite path.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// BackendConfig pins the editor client identity presented to the backend.
type BackendConfig struct {
	ClientVersion string `yaml:"client_version"`
}

// GateConfig configures per-account pacing and manual approval.
type GateConfig struct {
	RateLimitSeconds int  `yaml:"rate_limit_seconds"`
	ManualApproval   bool `yaml:"manual_approval"`
}

// AccountSeed declares an account to register at startup. The token field
// supports ${VAR} indirection so secrets stay out of the file.
type AccountSeed struct {
	GithubToken string `yaml:"github_token"`
	AccountType string `yaml:"account_type"`
}

// defaultClientVersion matches a current VS Code Copilot Chat release.
const defaultClientVersion = "0.26.7"

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 4141},
		Database: DatabaseConfig{Path: "nexus.db"},
		Backend:  BackendConfig{ClientVersion: defaultClientVersion},
	}
}

// Load reads the YAML file at configPath, falling back to defaults when the
// path is empty or the file does not exist, then applies environment
// overrides. A present but unparsable file is an error.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.normalize()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("NEXUS_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("NEXUS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("NEXUS_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("NEXUS_CLIENT_VERSION"); v != "" {
		c.Backend.ClientVersion = v
	}
	if v := os.Getenv("NEXUS_RATE_LIMIT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.Gate.RateLimitSeconds = secs
		}
	}
	if v := os.Getenv("NEXUS_MANUAL_APPROVAL"); v != "" {
		c.Gate.ManualApproval = v == "1" || v == "true" || v == "yes"
	}
	// A bare GH_TOKEN seeds a single individual account.
	if v := os.Getenv("GH_TOKEN"); v != "" {
		c.Accounts = append(c.Accounts, AccountSeed{GithubToken: v, AccountType: "individual"})
	}
}

func (c *Config) normalize() {
	if c.Backend.ClientVersion == "" {
		c.Backend.ClientVersion = defaultClientVersion
	}
	for i := range c.Accounts {
		c.Accounts[i].GithubToken = os.ExpandEnv(c.Accounts[i].GithubToken)
		if c.Accounts[i].AccountType == "" {
			c.Accounts[i].AccountType = "individual"
		}
	}
}

// Address returns the listen address string.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RateInterval converts the configured pacing into a duration. Zero means
// no pacing.
func (g *GateConfig) RateInterval() time.Duration {
	if g.RateLimitSeconds <= 0 {
		return 0
	}
	return time.Duration(g.RateLimitSeconds) * time.Second
}
