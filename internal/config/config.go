package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Server holds all configuration for the match server.
type Server struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// Logging
	LogLevel string `yaml:"log_level"` // debug, info, warn, error

	// Auth
	TokenSecret string `yaml:"token_secret"` // HMAC secret for bearer tokens

	// Database
	Database DatabaseConfig `yaml:"database"`

	// Game rules
	Game GameConfig `yaml:"game"`

	// Write queue / timeouts
	WriteTimeout  time.Duration `yaml:"write_timeout"`   // per-write deadline (default: 5s)
	ReadTimeout   time.Duration `yaml:"read_timeout"`    // idle client disconnect (default: 120s)
	SendQueueSize int           `yaml:"send_queue_size"` // per-session outbox capacity (default: 256)
}

// GameConfig holds match rule parameters.
type GameConfig struct {
	MatchDuration   time.Duration `yaml:"match_duration"`    // match length (default: 60s)
	Tick            time.Duration `yaml:"tick"`              // timer cadence (default: 100ms)
	RematchTimeout  time.Duration `yaml:"rematch_timeout"`   // finished-room idle budget (default: 3m)
	DisposeGrace    time.Duration `yaml:"dispose_grace"`     // delay before deleting a declined room (default: 2s)
	MaxPositionStep float64       `yaml:"max_position_step"` // anti-cheat cap per message, L-inf units (default: 50)
	CodeLength      int           `yaml:"code_length"`       // join code length (default: 6)
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Disabled bool   `yaml:"disabled"` // run without persistence (matches are not recorded)
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// yaml.v3 has no native time.Duration support, so duration keys are decoded
// through strings ("60s", "3m"). Absent keys keep the seeded defaults.

func (s *Server) UnmarshalYAML(node *yaml.Node) error {
	raw := struct {
		BindAddress   string         `yaml:"bind_address"`
		Port          int            `yaml:"port"`
		LogLevel      string         `yaml:"log_level"`
		TokenSecret   string         `yaml:"token_secret"`
		Database      DatabaseConfig `yaml:"database"`
		Game          GameConfig     `yaml:"game"`
		WriteTimeout  string         `yaml:"write_timeout"`
		ReadTimeout   string         `yaml:"read_timeout"`
		SendQueueSize int            `yaml:"send_queue_size"`
	}{
		BindAddress:   s.BindAddress,
		Port:          s.Port,
		LogLevel:      s.LogLevel,
		TokenSecret:   s.TokenSecret,
		Database:      s.Database,
		Game:          s.Game,
		SendQueueSize: s.SendQueueSize,
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	s.BindAddress = raw.BindAddress
	s.Port = raw.Port
	s.LogLevel = raw.LogLevel
	s.TokenSecret = raw.TokenSecret
	s.Database = raw.Database
	s.Game = raw.Game
	s.SendQueueSize = raw.SendQueueSize

	if err := setDuration(&s.WriteTimeout, raw.WriteTimeout); err != nil {
		return fmt.Errorf("write_timeout: %w", err)
	}
	if err := setDuration(&s.ReadTimeout, raw.ReadTimeout); err != nil {
		return fmt.Errorf("read_timeout: %w", err)
	}
	return nil
}

func (g *GameConfig) UnmarshalYAML(node *yaml.Node) error {
	raw := struct {
		MatchDuration   string  `yaml:"match_duration"`
		Tick            string  `yaml:"tick"`
		RematchTimeout  string  `yaml:"rematch_timeout"`
		DisposeGrace    string  `yaml:"dispose_grace"`
		MaxPositionStep float64 `yaml:"max_position_step"`
		CodeLength      int     `yaml:"code_length"`
	}{
		MaxPositionStep: g.MaxPositionStep,
		CodeLength:      g.CodeLength,
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	g.MaxPositionStep = raw.MaxPositionStep
	g.CodeLength = raw.CodeLength

	if err := setDuration(&g.MatchDuration, raw.MatchDuration); err != nil {
		return fmt.Errorf("match_duration: %w", err)
	}
	if err := setDuration(&g.Tick, raw.Tick); err != nil {
		return fmt.Errorf("tick: %w", err)
	}
	if err := setDuration(&g.RematchTimeout, raw.RematchTimeout); err != nil {
		return fmt.Errorf("rematch_timeout: %w", err)
	}
	if err := setDuration(&g.DisposeGrace, raw.DisposeGrace); err != nil {
		return fmt.Errorf("dispose_grace: %w", err)
	}
	return nil
}

// setDuration overwrites dst with the parsed value when s is non-empty.
func setDuration(dst *time.Duration, s string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// DefaultServer returns Server config with sensible defaults.
func DefaultServer() Server {
	return Server{
		BindAddress:   "0.0.0.0",
		Port:          8080,
		LogLevel:      "info",
		TokenSecret:   "dev-secret-change-me",
		WriteTimeout:  5 * time.Second,
		ReadTimeout:   120 * time.Second,
		SendQueueSize: 256,
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "goalduel",
			Password: "goalduel",
			DBName:   "goalduel",
			SSLMode:  "disable",
		},
		Game: DefaultGame(),
	}
}

// DefaultGame returns GameConfig with the standard arcade ruleset.
func DefaultGame() GameConfig {
	return GameConfig{
		MatchDuration:   60 * time.Second,
		Tick:            100 * time.Millisecond,
		RematchTimeout:  3 * time.Minute,
		DisposeGrace:    2 * time.Second,
		MaxPositionStep: 50,
		CodeLength:      6,
	}
}

// LoadServer loads server config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
