package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Log      LogConfig         `yaml:"log"`
	Event    EventConfig       `yaml:"event"`
	Files    FilesConfig       `yaml:"files"`
	Schedule ScheduleConfig    `yaml:"schedule"`
	Auth     AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	if err := c.Files.Validate(); err != nil {
		return err
	}
	if err := c.Schedule.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// LogConfig configures the optional rotating log file. Logs always go to
// stdout; File adds a second, rotated copy.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Validate validates the log configuration.
func (c *LogConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxSizeMB, validation.Min(0)),
		validation.Field(&c.MaxBackups, validation.Min(0)),
		validation.Field(&c.MaxAgeDays, validation.Min(0)),
	)
}

// EventConfig describes the event the talks belong to.
type EventConfig struct {
	Name string `yaml:"name"`
}

// FilesConfig locates the talk directories.
type FilesConfig struct {
	Root string `yaml:"root"`
	// UploadDir stages multipart uploads. Defaults to <root>/.temp, which
	// the watcher ignores.
	UploadDir   string `yaml:"upload_dir"`
	HashWorkers int    `yaml:"hash_workers"`
}

// Validate validates the files configuration.
func (c *FilesConfig) Validate() error {
	if c.UploadDir == "" && c.Root != "" {
		c.UploadDir = filepath.Join(c.Root, ".temp")
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.HashWorkers, validation.Required, validation.Min(1)),
	)
}

// ScheduleConfig lists the schedule sources and how they are refreshed.
type ScheduleConfig struct {
	// URLs are local paths or http(s) URLs. An entry may hold several
	// comma-separated locations.
	URLs                 []string      `yaml:"urls"`
	RemoteUpdateInterval time.Duration `yaml:"remote_update_interval"`
	UserAgent            string        `yaml:"user_agent"`
	CacheDir             string        `yaml:"cache_dir"`
	LocalDebounce        time.Duration `yaml:"local_debounce"`
}

// Validate validates the schedule configuration.
func (c *ScheduleConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.RemoteUpdateInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.LocalDebounce, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	for _, u := range c.URLs {
		if strings.Trim(u, ", ") != "" {
			return nil
		}
	}
	return errors.New("schedule: urls: at least one schedule location is required")
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): every caller sees comments and file names.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Log: LogConfig{
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Files: FilesConfig{
			Root:        "./files",
			HashWorkers: 4,
		},
		Schedule: ScheduleConfig{
			RemoteUpdateInterval: 5 * time.Minute,
			UserAgent:            "talkdrop (+https://github.com/starford/talkdrop)",
			LocalDebounce:        200 * time.Millisecond,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
