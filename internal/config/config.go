package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/john/chatguard/internal/surface"
)

// Config holds the application configuration
type Config struct {
	Classifier ClassifierConfig `yaml:"classifier"`
	Bootstrap  BootstrapConfig  `yaml:"bootstrap"`
	Badge      BadgeConfig      `yaml:"badge"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Log        LogConfig        `yaml:"log"`
	Relay      RelayConfig      `yaml:"relay"`
	Browser    BrowserConfig    `yaml:"browser"`
	Twitch     TwitchConfig     `yaml:"twitch"`
	Kick       KickConfig       `yaml:"kick"`
	Journal    JournalConfig    `yaml:"journal"`
	S3         S3Config         `yaml:"s3"`
	Uploader   UploaderConfig   `yaml:"uploader"`
	Health     HealthConfig     `yaml:"health"`
}

// ClassifierConfig points at the remote classification endpoint
type ClassifierConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// BootstrapConfig controls container polling
type BootstrapConfig struct {
	IntervalMillis int `yaml:"interval_millis"`
	MaxAttempts    int `yaml:"max_attempts"`
}

// BadgeConfig controls badge display
type BadgeConfig struct {
	DisplaySeconds int `yaml:"display_seconds"`
}

// DispatcherConfig bounds the classification task queue
type DispatcherConfig struct {
	BufferSize  int `yaml:"buffer_size"`
	MaxInFlight int `yaml:"max_in_flight"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`  // Optional rotating log file
}

// RelayConfig connects to a hangman relay as a player
type RelayConfig struct {
	URL  string `yaml:"url"` // ws://host:3000/ws
	Name string `yaml:"name"`
	Room string `yaml:"room"`
}

// BrowserConfig mirrors the chat of a live page opened in Chrome
type BrowserConfig struct {
	URL        string `yaml:"url"`
	Surface    string `yaml:"surface"`
	Headless   bool   `yaml:"headless"`
	PollMillis int    `yaml:"poll_millis"`
	ExecPath   string `yaml:"exec_path"` // Optional Chrome binary
}

// TwitchConfig holds Twitch-specific configuration
type TwitchConfig struct {
	Username string   `yaml:"username"`
	OAuth    string   `yaml:"oauth"`
	Channels []string `yaml:"channels"`
	Surface  string   `yaml:"surface"`
}

// KickConfig holds Kick-specific configuration
type KickConfig struct {
	Enabled  bool                `yaml:"enabled"`
	Channels []KickChannelConfig `yaml:"channels"`
	Surface  string              `yaml:"surface,omitempty"`
}

// KickChannelConfig is a Kick channel with an optional pre-resolved chatroom ID
type KickChannelConfig struct {
	Slug       string `yaml:"slug"`
	ChatroomID int    `yaml:"chatroom_id"`
}

// JournalConfig holds verdict journal configuration
type JournalConfig struct {
	OutputDir       string `yaml:"output_dir"`
	RotateMinutes   int    `yaml:"rotate_minutes"`
	RotateMegabytes int    `yaml:"rotate_megabytes"`
	BufferSize      int    `yaml:"buffer_size"`
}

// S3Config holds S3 upload configuration
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	RoleARN         string `yaml:"role_arn"`          // IAM role ARN for OIDC authentication
	AccessKeyID     string `yaml:"access_key_id"`     // Legacy: static credentials
	SecretAccessKey string `yaml:"secret_access_key"` // Legacy: static credentials
}

// UploaderConfig holds uploader configuration
type UploaderConfig struct {
	DeleteAfterUpload bool `yaml:"delete_after_upload"`
	MaxRetries        int  `yaml:"max_retries"`
}

// HealthConfig holds the status server address
type HealthConfig struct {
	Addr string `yaml:"addr"`
}

// Classifier timeout
func (c ClassifierConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Interval between container polls
func (c BootstrapConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMillis) * time.Millisecond
}

// Display is how long a badge stays up
func (c BadgeConfig) Display() time.Duration {
	return time.Duration(c.DisplaySeconds) * time.Second
}

// PollInterval between browser chat reads
func (c BrowserConfig) PollInterval() time.Duration {
	return time.Duration(c.PollMillis) * time.Millisecond
}

// Enabled reports whether journal files are archived to S3
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// Load loads configuration from a file. A .env file next to the working
// directory is read first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	// Read YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if url := os.Getenv("CLASSIFIER_URL"); url != "" {
		c.Classifier.URL = url
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if oauth := os.Getenv("TWITCH_OAUTH"); oauth != "" {
		c.Twitch.OAuth = oauth
	}
	if roleARN := os.Getenv("AWS_ROLE_ARN"); roleARN != "" {
		c.S3.RoleARN = roleARN
	}
	if keyID := os.Getenv("S3_ACCESS_KEY_ID"); keyID != "" {
		c.S3.AccessKeyID = keyID
	}
	if secretKey := os.Getenv("S3_SECRET_ACCESS_KEY"); secretKey != "" {
		c.S3.SecretAccessKey = secretKey
	}
}

func (c *Config) applyDefaults() {
	if c.Classifier.URL == "" {
		c.Classifier.URL = "http://127.0.0.1:5000/detect"
	}
	if c.Classifier.TimeoutSeconds == 0 {
		c.Classifier.TimeoutSeconds = 10
	}
	if c.Bootstrap.IntervalMillis == 0 {
		c.Bootstrap.IntervalMillis = 500
	}
	if c.Bootstrap.MaxAttempts == 0 {
		c.Bootstrap.MaxAttempts = 20
	}
	if c.Badge.DisplaySeconds == 0 {
		c.Badge.DisplaySeconds = 12
	}
	if c.Dispatcher.BufferSize == 0 {
		c.Dispatcher.BufferSize = 100
	}
	if c.Dispatcher.MaxInFlight == 0 {
		c.Dispatcher.MaxInFlight = 8
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Relay.Name == "" {
		c.Relay.Name = "chatguard"
	}
	if c.Relay.Room == "" {
		c.Relay.Room = "lobby"
	}
	if c.Browser.PollMillis == 0 {
		c.Browser.PollMillis = 500
	}
	if c.Twitch.Surface == "" {
		c.Twitch.Surface = surface.SkribblName
	}
	if c.Kick.Surface == "" {
		c.Kick.Surface = surface.SkribblName
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = 100
	}
	if c.Journal.RotateMinutes == 0 {
		c.Journal.RotateMinutes = 60
	}
	if c.Journal.RotateMegabytes == 0 {
		c.Journal.RotateMegabytes = 100
	}
	if c.Journal.OutputDir == "" {
		c.Journal.OutputDir = "./data"
	}
	if c.Uploader.MaxRetries == 0 {
		c.Uploader.MaxRetries = 3
	}
	if c.Health.Addr == "" {
		c.Health.Addr = ":8080"
	}
}

// FeedCount returns the number of configured feeds
func (c *Config) FeedCount() int {
	n := 0
	if c.Relay.URL != "" {
		n++
	}
	if c.Browser.URL != "" {
		n++
	}
	if len(c.Twitch.Channels) > 0 {
		n++
	}
	if c.Kick.Enabled && len(c.Kick.Channels) > 0 {
		n++
	}
	return n
}

// Validate checks required fields and cross-field rules
func (c *Config) Validate() error {
	if c.FeedCount() == 0 {
		return fmt.Errorf("at least one feed (relay, browser, twitch or kick) is required")
	}
	if c.Dispatcher.MaxInFlight < 0 || c.Dispatcher.BufferSize < 0 {
		return fmt.Errorf("dispatcher sizes must be positive")
	}

	if c.Browser.URL != "" {
		if _, ok := surface.Lookup(c.Browser.Surface); !ok {
			return fmt.Errorf("browser.surface %q is not one of %v", c.Browser.Surface, surface.Names())
		}
	}
	if len(c.Twitch.Channels) > 0 {
		if _, ok := surface.Lookup(c.Twitch.Surface); !ok {
			return fmt.Errorf("twitch.surface %q is not one of %v", c.Twitch.Surface, surface.Names())
		}
		if c.Twitch.Username == "" {
			return fmt.Errorf("twitch.username is required")
		}
		if c.Twitch.OAuth == "" {
			return fmt.Errorf("twitch.oauth is required (or set TWITCH_OAUTH env var)")
		}
	}
	if c.Kick.Enabled {
		if _, ok := surface.Lookup(c.Kick.Surface); !ok {
			return fmt.Errorf("kick.surface %q is not one of %v", c.Kick.Surface, surface.Names())
		}
	}

	if !c.S3.Enabled() {
		return nil
	}
	if c.S3.Region == "" {
		return fmt.Errorf("s3.region is required")
	}
	// Either OIDC role or static credentials required
	if c.S3.RoleARN == "" && c.S3.AccessKeyID == "" {
		return fmt.Errorf("either s3.role_arn (OIDC) or s3.access_key_id (legacy) is required")
	}
	// If using static credentials, both key and secret are required
	if c.S3.AccessKeyID != "" && c.S3.SecretAccessKey == "" {
		return fmt.Errorf("s3.secret_access_key is required when using access_key_id")
	}
	return nil
}
