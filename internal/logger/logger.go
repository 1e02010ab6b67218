package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config is the unified logging configuration: the controller's own slog
// output plus the files capturing the worker's stdout/stderr.
type Config struct {
	Level  string     `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string     `json:"format" mapstructure:"format"` // text or json
	Color  bool       `json:"color" mapstructure:"color"`
	File   FileConfig `json:"file" mapstructure:"file"`
}

// FileConfig describes rotated log files.
// If StdoutPath/StderrPath are empty and Dir is set, worker output goes to
// Dir/<name>.stdout.log and Dir/<name>.stderr.log. AppLog, when set, also
// receives the controller's own records.
type FileConfig struct {
	Dir        string `json:"dir" mapstructure:"dir"`
	StdoutPath string `json:"stdout_path" mapstructure:"stdout_path"`
	StderrPath string `json:"stderr_path" mapstructure:"stderr_path"`
	AppLog     string `json:"app_log" mapstructure:"app_log"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// New builds a *slog.Logger writing to stderr and, if configured, to the
// rotated application log. The returned closer releases the file.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	return newLogger(cfg, os.Stderr)
}

// Setup is New followed by slog.SetDefault.
func Setup(cfg Config) (io.Closer, error) {
	l, c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(l)
	return c, nil
}

func newLogger(cfg Config, console io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var w io.Writer = console
	var closer io.Closer = nopCloser{}
	if cfg.File.AppLog != "" {
		if dir := filepath.Dir(cfg.File.AppLog); dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, nil, fmt.Errorf("create log dir: %w", err)
			}
		}
		fw := cfg.File.rotator(cfg.File.AppLog)
		w = io.MultiWriter(console, fw)
		closer = fw
	}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		if cfg.Color && cfg.File.AppLog == "" {
			h = NewColorTextHandler(w, opts, true)
		} else {
			h = slog.NewTextHandler(w, opts)
		}
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(h), closer, nil
}

// ParseLevel maps a level name to slog.Level; empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// DefaultWorkerLogName names the log files of a worker launched without a name.
const DefaultWorkerLogName = "worker"

// WorkerLogName reduces a worker name or path to the base name used for
// its log files under Dir.
func WorkerLogName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultWorkerLogName
	}
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) {
		return DefaultWorkerLogName
	}
	return base
}

// WorkerWriters returns io.WriteClosers for the worker's stdout and stderr.
// Either may be nil when neither a Dir nor an explicit path is configured.
// Files under Dir are named <name>.stdout.log and <name>.stderr.log.
func (c Config) WorkerWriters(name string) (io.WriteCloser, io.WriteCloser, error) {
	name = WorkerLogName(name)
	stdout := c.File.StdoutPath
	stderr := c.File.StderrPath
	if stdout == "" && c.File.Dir != "" {
		stdout = filepath.Join(c.File.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	if stderr == "" && c.File.Dir != "" {
		stderr = filepath.Join(c.File.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	var outW io.WriteCloser
	var errW io.WriteCloser
	if stdout != "" {
		outW = c.File.rotator(stdout)
	}
	if stderr != "" {
		errW = c.File.rotator(stderr)
	}
	return outW, errW, nil
}

func (f FileConfig) rotator(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(f.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(f.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(f.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   f.Compress,
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
