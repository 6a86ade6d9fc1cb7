package config

import (
	"fmt"
	"strings"

	"github.com/celerix-dev/celerix-dca/internal/engine"
	"github.com/celerix-dev/celerix-dca/internal/vault"
)

// Validate performs business-rule validation on the loaded configuration and
// fills in the derived fields. Load calls it automatically.
func (c *Config) Validate() error {
	if err := c.Server.validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Store.validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Engine.validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := c.Log.validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

func (s *ServerConfig) validate() error {
	for name, port := range map[string]int{"tcp_port": s.TCPPort, "http_port": s.HTTPPort} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%s must be in 1..65535 (got %d)", name, port)
		}
	}
	if s.TCPPort == s.HTTPPort {
		return fmt.Errorf("tcp_port and http_port must differ (both %d)", s.TCPPort)
	}
	if s.MaxConns <= 0 {
		return fmt.Errorf("max_conns must be > 0 (got %d)", s.MaxConns)
	}
	return nil
}

func (s *StoreConfig) validate() error {
	if s.Persist && strings.TrimSpace(s.DataDir) == "" {
		return fmt.Errorf("data_dir is required when persist is enabled")
	}
	s.Key = nil
	if s.EncryptionKey == "" {
		return nil
	}
	key, err := vault.ParseKey(s.EncryptionKey)
	if err != nil {
		return fmt.Errorf("encryption_key: %w", err)
	}
	s.Key = key
	return nil
}

func (e *EngineConfig) validate() error {
	if strings.TrimSpace(e.SystemIdentity) == "" {
		return fmt.Errorf("system_identity must not be empty")
	}
	rules, err := engine.NewThresholdRulesEngine(e.ApexAbove, e.GlobalAbove)
	if err != nil {
		return err
	}
	e.rules = rules

	e.policy = engine.AnyTransition{}
	if len(e.Transitions) > 0 {
		table, err := engine.NewTransitionTable(e.Transitions)
		if err != nil {
			return err
		}
		e.policy = table
	}
	return nil
}

func (l LogConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(l.Format)) {
	case "json", "text":
		return nil
	}
	return fmt.Errorf("format must be json or text (got %q)", l.Format)
}
