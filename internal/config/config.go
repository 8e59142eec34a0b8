// Package config loads intercom's YAML configuration file and layers
// environment-variable overrides on top, grounded on the teacher's
// getEnv fallback helper (internal/config/config.go) and on
// bureau/lib/config's Default-then-LoadFile shape.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode selects which role this process runs as.
type Mode string

const (
	ModeHub        Mode = "hub"
	ModeDaemon     Mode = "daemon"
	ModeStandalone Mode = "standalone"
)

// Config is the root of intercom.yaml.
type Config struct {
	Mode      Mode            `yaml:"mode"`
	StateDir  string          `yaml:"state_dir"`
	Machine   MachineConfig   `yaml:"machine"`
	Hub       HubConfig       `yaml:"hub"`
	Auth      AuthConfig      `yaml:"auth"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Launcher  LauncherConfig  `yaml:"agent_launcher"`
	Telegram  TelegramConfig  `yaml:"telegram"`
}

// MachineConfig identifies this machine on the intercom overlay.
type MachineConfig struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
	OverlayIP   string `yaml:"overlay_ip"`
	DaemonURL   string `yaml:"daemon_url"`
	DaemonAddr  string `yaml:"daemon_addr"`
}

// HubConfig configures the Hub client (for daemon/standalone) and the
// Hub server's own bind address (for hub mode).
type HubConfig struct {
	URL        string `yaml:"url"`
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`
	PolicyPath string `yaml:"policy_path"`
}

// AuthConfig holds the shared secret used before a join token is
// issued, and the token once approved.
type AuthConfig struct {
	SharedToken string `yaml:"shared_token"`
	Token       string `yaml:"token"`
}

// DiscoveryConfig controls project auto-discovery roots.
type DiscoveryConfig struct {
	Roots   []string `yaml:"roots"`
	Exclude []string `yaml:"exclude"`
}

// LauncherConfig bounds how the supervisor spawns agent subprocesses.
type LauncherConfig struct {
	Command          string        `yaml:"default_command"`
	DefaultArgs      []string      `yaml:"default_args"`
	AllowedPaths     []string      `yaml:"allowed_paths"`
	SpawnInterval    time.Duration `yaml:"spawn_interval"`
	MissionTimeout   time.Duration `yaml:"max_mission_duration"`
	FeedbackCapacity int           `yaml:"feedback_capacity"`
}

// TelegramConfig configures the operator-console notification channel.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	GroupID  string `yaml:"group_id"`
	OwnerID  string `yaml:"owner_id"`
}

// Default returns the zero-value baseline before a file or environment
// is applied, ensuring every field has a sane value even for a minimal
// config file.
func Default() *Config {
	return &Config{
		Mode: ModeStandalone,
		Hub: HubConfig{
			ListenAddr: ":7788",
			DBPath:     "intercom.db",
		},
		Machine: MachineConfig{
			DaemonAddr: ":7700",
		},
		Discovery: DiscoveryConfig{
			Roots:   []string{"~"},
			Exclude: []string{"node_modules", ".git", "vendor"},
		},
		Launcher: LauncherConfig{
			Command:          "claude",
			SpawnInterval:    500 * time.Millisecond,
			MissionTimeout:   30 * time.Minute,
			FeedbackCapacity: 256,
		},
	}
}

// Load reads path (YAML) and layers INTERCOM_-prefixed environment
// variables on top, mirroring the teacher's getEnv fallback pattern
// but with the file, not the environment, as the primary source.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Telegram.BotToken = getEnv("INTERCOM_TELEGRAM_BOT_TOKEN", c.Telegram.BotToken)
	c.Telegram.GroupID = getEnv("INTERCOM_TELEGRAM_GROUP_ID", c.Telegram.GroupID)
	c.Telegram.OwnerID = getEnv("INTERCOM_TELEGRAM_OWNER_ID", c.Telegram.OwnerID)
	c.Hub.URL = getEnv("INTERCOM_HUB_URL", c.Hub.URL)
	c.Auth.SharedToken = getEnv("INTERCOM_SHARED_TOKEN", c.Auth.SharedToken)
	c.Auth.Token = getEnv("INTERCOM_TOKEN", c.Auth.Token)
	c.Machine.ID = getEnv("INTERCOM_MACHINE_ID", c.Machine.ID)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// Validate checks fields required for the configured mode.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeHub:
		if c.Hub.ListenAddr == "" {
			return fmt.Errorf("hub.listen_addr is required in hub mode")
		}
	case ModeDaemon:
		if c.Hub.URL == "" {
			return fmt.Errorf("hub.url is required in daemon mode")
		}
		if c.Machine.ID == "" {
			return fmt.Errorf("machine.id is required in daemon mode")
		}
	case ModeStandalone:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	return nil
}
