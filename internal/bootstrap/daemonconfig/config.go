package daemonconfig

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultListenAddr keeps the RPC endpoint loopback-only unless an operator
// opts out.
const DefaultListenAddr = "127.0.0.1:8686"

// Config is the daemon's resolved runtime configuration: defaults, merged
// with an optional YAML file, then overridden by environment variables.
type Config struct {
	ListenAddr           string
	ServiceURL           string
	Environment          string
	DisableIntrospection bool
	Log                  LogConfig
	Auth                 AuthConfig
	RateLimit            RateLimitConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type AuthConfig struct {
	// Token is the shared bearer secret. The literal "auto" asks the daemon
	// to mint one at startup.
	Token string
	// Require is tri-state: unset defers to the environment policy.
	Require *bool
}

type RateLimitConfig struct {
	// Enabled is tri-state: unset means on, except in test environments.
	Enabled *bool
	RPS     float64
	Burst   int
}

type fileConfig struct {
	ListenAddr           *string             `yaml:"listen_addr"`
	ServiceURL           *string             `yaml:"service_url"`
	Environment          *string             `yaml:"environment"`
	DisableIntrospection *bool               `yaml:"disable_introspection"`
	Log                  fileLogConfig       `yaml:"log"`
	Auth                 fileAuthConfig      `yaml:"auth"`
	RateLimit            fileRateLimitConfig `yaml:"rate_limit"`
}

type fileLogConfig struct {
	Level  *string `yaml:"level"`
	Format *string `yaml:"format"`
}

type fileAuthConfig struct {
	Token   *string `yaml:"token"`
	Require *bool   `yaml:"require"`
}

type fileRateLimitConfig struct {
	Enabled *bool    `yaml:"enabled"`
	RPS     *float64 `yaml:"rps"`
	Burst   *int     `yaml:"burst"`
}

// Default returns the baseline configuration before any file or env input.
func Default() Config {
	return Config{
		ListenAddr: DefaultListenAddr,
		ServiceURL: "/rpc",
		Log:        LogConfig{Level: "info", Format: "json"},
		RateLimit:  RateLimitConfig{RPS: 30, Burst: 60},
	}
}

// LoadFromPath resolves the effective config. An explicit path is used as
// is; otherwise the conventional candidates are probed. Unreadable or
// unparsable files fall through to the next candidate rather than aborting
// startup.
func LoadFromPath(configPath string) Config {
	cfg := Default()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"configs/config.yaml",
			"config.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var parsed fileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}

		merged := cfg
		Merge(&merged, parsed)
		ApplyEnvOverrides(&merged)
		return merged
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

// Merge copies every field the file actually set onto dst.
func Merge(dst *Config, src fileConfig) {
	if src.ListenAddr != nil {
		dst.ListenAddr = *src.ListenAddr
	}
	if src.ServiceURL != nil {
		dst.ServiceURL = *src.ServiceURL
	}
	if src.Environment != nil {
		dst.Environment = *src.Environment
	}
	if src.DisableIntrospection != nil {
		dst.DisableIntrospection = *src.DisableIntrospection
	}
	if src.Log.Level != nil {
		dst.Log.Level = *src.Log.Level
	}
	if src.Log.Format != nil {
		dst.Log.Format = *src.Log.Format
	}
	if src.Auth.Token != nil {
		dst.Auth.Token = *src.Auth.Token
	}
	if src.Auth.Require != nil {
		v := *src.Auth.Require
		dst.Auth.Require = &v
	}
	if src.RateLimit.Enabled != nil {
		v := *src.RateLimit.Enabled
		dst.RateLimit.Enabled = &v
	}
	if src.RateLimit.RPS != nil && *src.RateLimit.RPS > 0 {
		dst.RateLimit.RPS = *src.RateLimit.RPS
	}
	if src.RateLimit.Burst != nil && *src.RateLimit.Burst > 0 {
		dst.RateLimit.Burst = *src.RateLimit.Burst
	}
}

// ApplyEnvOverrides lets SWB_* variables win over file values.
func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("SWB_LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("SWB_SERVICE_URL")); v != "" {
		cfg.ServiceURL = v
	}
	if v := strings.TrimSpace(os.Getenv("SWB_ENV")); v != "" {
		cfg.Environment = v
	}
	if v := strings.TrimSpace(os.Getenv("SWB_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("SWB_LOG_FORMAT")); v != "" {
		cfg.Log.Format = v
	}
	if v := strings.TrimSpace(os.Getenv("SWB_RPC_TOKEN")); v != "" {
		cfg.Auth.Token = v
	}
	if v, ok := parseBoolEnv("SWB_REQUIRE_RPC_TOKEN"); ok {
		cfg.Auth.Require = &v
	}
	if v, ok := parseBoolEnv("SWB_DISABLE_INTROSPECTION"); ok {
		cfg.DisableIntrospection = v
	}
	if v, ok := parseBoolEnv("SWB_RPC_RATE_LIMIT_ENABLED"); ok {
		cfg.RateLimit.Enabled = &v
	}
	if raw := strings.TrimSpace(os.Getenv("SWB_RPC_RATE_LIMIT_RPS")); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil && parsed > 0 {
			cfg.RateLimit.RPS = parsed
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SWB_RPC_RATE_LIMIT_BURST")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			cfg.RateLimit.Burst = parsed
		}
	}
}

// RequireToken resolves the tri-state auth flag. An explicit opt-out is
// honored only in non-production environments; everything else fails
// closed.
func (c Config) RequireToken() bool {
	if c.Auth.Require != nil {
		if !*c.Auth.Require && !c.NonProdEnvironment() {
			return true
		}
		return *c.Auth.Require
	}
	return !c.NonProdEnvironment()
}

// NonProdEnvironment reports whether the configured environment is one of
// the development flavors.
func (c Config) NonProdEnvironment() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "test", "testing", "dev", "development", "local":
		return true
	default:
		return false
	}
}

// RateLimitEnabled resolves the tri-state limiter flag; tests run unlimited
// by default.
func (c Config) RateLimitEnabled() bool {
	if c.RateLimit.Enabled != nil {
		return *c.RateLimit.Enabled
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "test", "testing":
		return false
	default:
		return true
	}
}

func parseBoolEnv(name string) (bool, bool) {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch v {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}
