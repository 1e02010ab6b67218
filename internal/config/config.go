package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/loykin/voicekey/internal/env"
	"github.com/loykin/voicekey/internal/logger"
	"github.com/loykin/voicekey/internal/process"
	tlsx "github.com/loykin/voicekey/internal/tls"
)

const (
	appDir         = "voice-keyboard"
	configFileName = "config.json"
	envPrefix      = "VOICEKEY"

	DefaultHotkey = "F13"
	DefaultListen = "127.0.0.1:7311"
)

// Config is the persisted control panel configuration.
type Config struct {
	APIKey     string `json:"api_key" mapstructure:"api_key"`
	HotkeyCode string `json:"hotkey_code" mapstructure:"hotkey_code"`
	ProjectID  string `json:"project_id" mapstructure:"project_id"`

	Helper     string        `json:"helper" mapstructure:"helper"`
	WorkerName string        `json:"worker_name" mapstructure:"worker_name"`
	StartCheck time.Duration `json:"start_check" mapstructure:"start_check"`
	EnvFile    string        `json:"env_file" mapstructure:"env_file"`
	PIDFile    string        `json:"pid_file" mapstructure:"pid_file"`

	StopGrace     time.Duration `json:"stop_grace" mapstructure:"stop_grace"`
	StopPoll      time.Duration `json:"stop_poll" mapstructure:"stop_poll"`
	ShutdownGrace time.Duration `json:"shutdown_grace" mapstructure:"shutdown_grace"`
	ShutdownPoll  time.Duration `json:"shutdown_poll" mapstructure:"shutdown_poll"`

	Listen       string        `json:"listen" mapstructure:"listen"`
	APITokenHash string        `json:"api_token_hash,omitempty" mapstructure:"api_token_hash"`
	TLS          tlsx.Config   `json:"tls" mapstructure:"tls"`
	Audio        bool          `json:"audio" mapstructure:"audio"`

	HistoryDSN string `json:"history_dsn" mapstructure:"history_dsn"`

	// HistoryRetention expires stored events older than this; zero keeps them.
	HistoryRetention time.Duration `json:"history_retention" mapstructure:"history_retention"`

	Log logger.Config `json:"log" mapstructure:"log"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HotkeyCode:    DefaultHotkey,
		Helper:        process.DefaultHelper,
		WorkerName:    process.WorkerName,
		StopGrace:     process.StopPolicy.Grace,
		StopPoll:      process.StopPolicy.Poll,
		ShutdownGrace: process.ShutdownPolicy.Grace,
		ShutdownPoll:  process.ShutdownPolicy.Poll,
		PIDFile:       DefaultPIDFile(),
		Listen:        DefaultListen,
		Audio:         true,
		Log:           logger.Config{Level: "info", Format: "text", Color: true},
	}
}

// DefaultPath returns <user config dir>/voice-keyboard/config.json.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get config dir: %w", err)
	}
	return filepath.Join(base, appDir, configFileName), nil
}

// DefaultPIDFile is where the live worker's PID is recorded: the user's
// runtime directory when available, the temp directory otherwise.
func DefaultPIDFile() string {
	dir := os.Getenv(env.XDGRuntimeDir)
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, appDir, "worker.pid")
}

func newViper() *viper.Viper {
	v := viper.New()
	d := Default()
	v.SetDefault("api_key", d.APIKey)
	v.SetDefault("hotkey_code", d.HotkeyCode)
	v.SetDefault("project_id", d.ProjectID)
	v.SetDefault("helper", d.Helper)
	v.SetDefault("worker_name", d.WorkerName)
	v.SetDefault("start_check", d.StartCheck)
	v.SetDefault("env_file", d.EnvFile)
	v.SetDefault("pid_file", d.PIDFile)
	v.SetDefault("api_token_hash", d.APITokenHash)
	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("tls.dir", "")
	v.SetDefault("tls.auto_generate", false)
	v.SetDefault("tls.min_version", "")
	v.SetDefault("stop_grace", d.StopGrace)
	v.SetDefault("stop_poll", d.StopPoll)
	v.SetDefault("shutdown_grace", d.ShutdownGrace)
	v.SetDefault("shutdown_poll", d.ShutdownPoll)
	v.SetDefault("listen", d.Listen)
	v.SetDefault("audio", d.Audio)
	v.SetDefault("history_dsn", d.HistoryDSN)
	v.SetDefault("history_retention", d.HistoryRetention)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.color", d.Log.Color)
	v.SetDefault("log.file.dir", "")
	v.SetDefault("log.file.stdout_path", "")
	v.SetDefault("log.file.stderr_path", "")
	v.SetDefault("log.file.app_log", "")
	v.SetDefault("log.file.max_size_mb", 0)
	v.SetDefault("log.file.max_backups", 0)
	v.SetDefault("log.file.max_age_days", 0)
	v.SetDefault("log.file.compress", false)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the JSON config at path, applying defaults and VOICEKEY_*
// environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigType("json")
	if path != "" {
		v.SetConfigFile(filepath.Clean(path))
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				var nf viper.ConfigFileNotFoundError
				if !errors.As(err, &nf) {
					return nil, fmt.Errorf("read config: %w", err)
				}
			}
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Save persists the configuration as JSON at path, creating the directory.
func (c *Config) Save(path string) error {
	if path == "" {
		return errors.New("config path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	v := viper.New()
	v.SetConfigType("json")
	v.Set("api_key", c.APIKey)
	v.Set("hotkey_code", c.HotkeyCode)
	v.Set("project_id", c.ProjectID)
	v.Set("helper", c.Helper)
	v.Set("worker_name", c.WorkerName)
	v.Set("start_check", c.StartCheck.String())
	v.Set("env_file", c.EnvFile)
	v.Set("pid_file", c.PIDFile)
	v.Set("stop_grace", c.StopGrace.String())
	v.Set("stop_poll", c.StopPoll.String())
	v.Set("shutdown_grace", c.ShutdownGrace.String())
	v.Set("shutdown_poll", c.ShutdownPoll.String())
	v.Set("listen", c.Listen)
	v.Set("api_token_hash", c.APITokenHash)
	tlsMap := map[string]any{
		"enabled":       c.TLS.Enabled,
		"cert_file":     c.TLS.CertFile,
		"key_file":      c.TLS.KeyFile,
		"dir":           c.TLS.Dir,
		"auto_generate": c.TLS.AutoGenerate,
		"min_version":   c.TLS.MinVersion,
	}
	if len(c.TLS.DNSNames) > 0 {
		tlsMap["dns_names"] = c.TLS.DNSNames
	}
	v.Set("tls", tlsMap)
	v.Set("audio", c.Audio)
	v.Set("history_dsn", c.HistoryDSN)
	v.Set("history_retention", c.HistoryRetention.String())
	v.Set("log", map[string]any{
		"level":  c.Log.Level,
		"format": c.Log.Format,
		"color":  c.Log.Color,
		"file": map[string]any{
			"dir":          c.Log.File.Dir,
			"stdout_path":  c.Log.File.StdoutPath,
			"stderr_path":  c.Log.File.StderrPath,
			"app_log":      c.Log.File.AppLog,
			"max_size_mb":  c.Log.File.MaxSizeMB,
			"max_backups":  c.Log.File.MaxBackups,
			"max_age_days": c.Log.File.MaxAgeDays,
			"compress":     c.Log.File.Compress,
		},
	})
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Chmod(path, 0o600)
}

// Validate checks the termination budgets and required names.
func (c *Config) Validate() error {
	if err := c.StopPolicy().Validate(); err != nil {
		return fmt.Errorf("stop policy: %w", err)
	}
	if err := c.ShutdownPolicy().Validate(); err != nil {
		return fmt.Errorf("shutdown policy: %w", err)
	}
	if strings.ContainsAny(c.WorkerName, `/\`) {
		return fmt.Errorf("worker_name %q must be a bare file name", c.WorkerName)
	}
	if c.StartCheck < 0 {
		return fmt.Errorf("start_check cannot be negative")
	}
	if c.HistoryRetention < 0 {
		return fmt.Errorf("history_retention cannot be negative")
	}
	return c.TLS.Validate()
}

func (c *Config) StopPolicy() process.Policy {
	return process.Policy{Grace: c.StopGrace, Poll: c.StopPoll}
}

func (c *Config) ShutdownPolicy() process.Policy {
	return process.Policy{Grace: c.ShutdownGrace, Poll: c.ShutdownPoll}
}

// HotkeyName is the lower-case key name used by the hotkey listener.
func (c *Config) HotkeyName() string {
	k := strings.ToLower(strings.TrimSpace(c.HotkeyCode))
	if k == "" {
		return strings.ToLower(DefaultHotkey)
	}
	return k
}

// Environment snapshots the allow-listed process environment and overlays
// allow-listed values from EnvFile, if configured. Variables present in the
// process environment win over the file.
func (c *Config) Environment(lookup env.LookupFunc) (env.Var, error) {
	snap := env.SnapshotFrom(lookup)
	if c.EnvFile == "" {
		return snap, nil
	}
	fileVars, err := godotenv.Read(filepath.Clean(c.EnvFile))
	if err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	for k, v := range fileVars {
		if _, ok := snap[k]; ok {
			continue
		}
		snap.Set(k, v)
	}
	return snap, nil
}
