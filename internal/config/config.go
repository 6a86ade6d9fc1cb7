// Package config loads daemon and CLI settings from an optional .env file,
// an optional YAML file and the environment.
package config

import (
	"time"

	"github.com/celerix-dev/celerix-dca/internal/engine"
)

// Config is the root application configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Engine EngineConfig `yaml:"engine"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig holds the TCP and HTTP listener settings.
type ServerConfig struct {
	Host            string        `yaml:"host"             env:"CELERIX_HOST"`
	TCPPort         int           `yaml:"tcp_port"         env:"CELERIX_PORT"             env-default:"7001"`
	HTTPPort        int           `yaml:"http_port"        env:"CELERIX_HTTP_PORT"        env-default:"7002"`
	DisableTLS      bool          `yaml:"disable_tls"      env:"CELERIX_DISABLE_TLS"      env-default:"false"`
	MaxConns        int           `yaml:"max_conns"        env:"CELERIX_MAX_CONNS"        env-default:"100"`
	CORSOrigins     string        `yaml:"cors_origins"     env:"CELERIX_CORS_ORIGINS"     env-default:"*"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"CELERIX_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// StoreConfig controls the portfolio snapshot on disk.
type StoreConfig struct {
	DataDir       string `yaml:"data_dir"       env:"CELERIX_DATA_DIR"       env-default:"./data"`
	Persist       bool   `yaml:"persist"        env:"CELERIX_PERSIST"        env-default:"true"`
	EncryptionKey string `yaml:"encryption_key" env:"CELERIX_ENCRYPTION_KEY"` // hex, 32 bytes

	// Key is the decoded EncryptionKey, populated by Validate.
	Key []byte `yaml:"-"`
}

// EngineConfig holds the allocation and governance policy.
type EngineConfig struct {
	SystemIdentity string `yaml:"system_identity" env:"CELERIX_SYSTEM_IDENTITY" env-default:"System Manager"`
	ApexAbove      int    `yaml:"apex_above"      env:"CELERIX_APEX_ABOVE"      env-default:"75"`
	GlobalAbove    int    `yaml:"global_above"    env:"CELERIX_GLOBAL_ABOVE"    env-default:"45"`
	// Transitions restricts status moves, e.g. {"Allocated": ["Contacted"]}.
	// Empty means any move between valid statuses is allowed.
	Transitions map[string][]string `yaml:"transitions"`

	rules  *engine.RulesEngine
	policy engine.TransitionPolicy
}

// Rules returns the allocation policy built by Validate.
func (e *EngineConfig) Rules() *engine.RulesEngine { return e.rules }

// Policy returns the transition policy built by Validate.
func (e *EngineConfig) Policy() engine.TransitionPolicy { return e.policy }

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
}

// EngineOptions translates the validated configuration into engine options.
func (c *Config) EngineOptions() []engine.Option {
	return []engine.Option{
		engine.WithSystemIdentity(c.Engine.SystemIdentity),
		engine.WithRules(c.Engine.rules),
		engine.WithTransitionPolicy(c.Engine.policy),
	}
}
