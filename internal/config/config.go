package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/alerts"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/evidence"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/keyvault"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/service"
)

// Config holds the application's configuration.
type Config struct {
	Logging struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"logging"`
	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
	} `yaml:"database"`
	Server struct {
		Address string `yaml:"address"`
		GinMode string `yaml:"gin_mode"`
	} `yaml:"server"`
	Window struct {
		MaxInteractions int           `yaml:"max_interactions"`
		MaxAge          time.Duration `yaml:"max_age"`
		CleanupInterval time.Duration `yaml:"cleanup_interval"`
	} `yaml:"window"`
	Rules WatchedFile `yaml:"rules"`

	Classifier struct {
		WatchedFile `yaml:",inline"`
		Enabled     bool     `yaml:"enabled"`
		Keywords    []string `yaml:"keywords"`
	} `yaml:"classifier"`
	Cooldown struct {
		Window time.Duration `yaml:"window"`
	} `yaml:"cooldown"`
	Evidence evidence.Config `yaml:"evidence"`
	KeyVault keyvault.Config `yaml:"keyvault"`
	Lockdown struct {
		Duration time.Duration `yaml:"duration"`
	} `yaml:"lockdown"`
	Alerts struct {
		Telegram struct {
			Enabled  bool               `yaml:"enabled"`
			BotToken string             `yaml:"bot_token"`
			ChatIDs  []int64            `yaml:"chat_ids"`
			Retry    alerts.RetryConfig `yaml:"retry"`
		} `yaml:"telegram"`
	} `yaml:"alerts"`
	Auth service.AuthConfig `yaml:"auth"`
}

// WatchedFile is a file reloaded when it changes on disk.
type WatchedFile struct {
	Path     string        `yaml:"path"`
	Watch    bool          `yaml:"watch"`
	Debounce time.Duration `yaml:"debounce"`
}

// Default returns the configuration used for any key the file leaves out.
func Default() *Config {
	c := &Config{}
	c.Logging.Level = "info"
	c.Database.Driver = "sqlite"
	c.Database.URL = "guardian.db"
	c.Server.Address = "127.0.0.1:8420"
	c.Server.GinMode = "release"
	c.Window.MaxInteractions = 50
	c.Window.MaxAge = 10 * time.Minute
	c.Window.CleanupInterval = 30 * time.Second
	c.Rules = WatchedFile{Path: "configs/rules.yml", Watch: true, Debounce: 250 * time.Millisecond}
	c.Classifier.WatchedFile = WatchedFile{Path: "configs/model.json", Watch: true, Debounce: 250 * time.Millisecond}
	c.Classifier.Enabled = true
	c.Cooldown.Window = 20 * time.Second
	c.KeyVault = keyvault.DefaultConfig()
	c.Lockdown.Duration = 60 * time.Second
	c.Alerts.Telegram.Retry = alerts.DefaultRetry()
	c.Auth.TokenTTL = 15 * time.Minute
	return c
}

// LoadConfig reads configuration from the specified YAML file on top of
// Default. Secrets may reference the environment as ${NAME}.
func LoadConfig(configPath string) (*Config, error) {
	config := Default()

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.Database.URL = os.ExpandEnv(config.Database.URL)
	config.Alerts.Telegram.BotToken = os.ExpandEnv(config.Alerts.Telegram.BotToken)
	config.Auth.JWTSecret = os.ExpandEnv(config.Auth.JWTSecret)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{models.ErrValidation}, args...)...))
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		add("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		add("database.url is required")
	}
	if c.Server.Address == "" {
		add("server.address is required")
	}
	if c.Window.MaxInteractions <= 0 {
		add("window.max_interactions must be positive")
	}
	if c.Window.MaxAge <= 0 || c.Window.CleanupInterval <= 0 {
		add("window.max_age and window.cleanup_interval must be positive")
	}
	if c.Rules.Path == "" {
		add("rules.path is required")
	}
	if c.Classifier.Enabled && c.Classifier.Path == "" {
		add("classifier.path is required when the classifier is enabled")
	}
	if c.Cooldown.Window < 0 {
		add("cooldown.window must not be negative")
	}
	if c.Lockdown.Duration <= 0 {
		add("lockdown.duration must be positive")
	}
	if c.KeyVault.Iterations < 100_000 {
		add("keyvault.iterations must be at least 100000")
	}
	if t := c.Alerts.Telegram; t.Enabled && (t.BotToken == "" || len(t.ChatIDs) == 0) {
		add("alerts.telegram needs bot_token and chat_ids when enabled")
	}
	if len(c.Auth.JWTSecret) < 16 {
		add("auth.jwt_secret must be at least 16 bytes")
	}
	return errors.Join(errs...)
}
