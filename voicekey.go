// Package voicekey wires the dictation controller to its triggers: a
// global hotkey and a local HTTP control surface.
package voicekey

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/voicekey/internal/audio"
	"github.com/loykin/voicekey/internal/auth"
	cfg "github.com/loykin/voicekey/internal/config"
	"github.com/loykin/voicekey/internal/controller"
	"github.com/loykin/voicekey/internal/cron"
	"github.com/loykin/voicekey/internal/env"
	"github.com/loykin/voicekey/internal/history"
	"github.com/loykin/voicekey/internal/history/factory"
	"github.com/loykin/voicekey/internal/hotkey"
	"github.com/loykin/voicekey/internal/metrics"
	"github.com/loykin/voicekey/internal/process"
	iapi "github.com/loykin/voicekey/internal/server"
	tlsx "github.com/loykin/voicekey/internal/tls"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type Snapshot = controller.Snapshot

type HistoryEvent = history.Event

// APIBasePath is where the HTTP control surface is mounted.
const APIBasePath = "/api"

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }
func DefaultConfigPath() (string, error)      { return cfg.DefaultPath() }
func DefaultConfig() Config                   { return cfg.Default() }

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// Options adjusts how an App is assembled. The zero value is production.
type Options struct {
	// ConfigPath, when set, is re-read at every start so a key saved by
	// "voicekey config set" applies without a restart.
	ConfigPath string
	// Lookup reads the process environment; defaults to os.LookupEnv.
	Lookup env.LookupFunc
	// Executable locates the running binary; defaults to os.Executable.
	Executable func() (string, error)
	// Hotkey overrides the global keyboard hook.
	Hotkey hotkey.Source
	// DisableHotkey runs with the HTTP surface only.
	DisableHotkey bool
	Logger        *slog.Logger
}

// App is a running dictation controller with its triggers.
type App struct {
	cfg  *Config
	opts Options
	log  *slog.Logger

	ctl    *controller.Controller
	cues   *audio.Emitter
	ring   *history.Ring
	store  history.Store
	sched  *cron.Scheduler
	hotkey hotkey.Source
	srv    *http.Server

	closeOnce sync.Once
	closeErr  error
}

// NewApp builds the controller and its collaborators from c. Nothing is
// listening until Run.
func NewApp(c *Config, o Options) (*App, error) {
	if c == nil {
		d := cfg.Default()
		c = &d
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	log := o.Logger
	if log == nil {
		log = slog.Default()
	}
	lookup := o.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	vars, err := c.Environment(lookup)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: c, opts: o, log: log, ring: history.NewRing(history.DefaultRingSize)}
	sinks := []history.Sink{a.ring}
	if c.HistoryDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		store, err := factory.NewFromDSN(ctx, c.HistoryDSN)
		cancel()
		if err != nil {
			return nil, err
		}
		a.store = store
		sinks = append(sinks, store)
		if c.HistoryRetention > 0 {
			a.sched = cron.NewScheduler(log)
			job := &cron.Job{Name: "history-retention", Schedule: cron.Every(purgeInterval(c.HistoryRetention)), Run: a.purgeHistory}
			if err := a.sched.Add(job); err != nil {
				_ = store.Close()
				return nil, err
			}
		}
	}

	a.cues = audio.Silent(log)
	if c.Audio {
		e, err := audio.Open(audio.DefaultSampleRate, log)
		if err != nil {
			log.Warn("audio cues disabled", "error", err)
		}
		a.cues = e
	}

	launcher := &process.Launcher{
		Helper:     c.Helper,
		Name:       c.WorkerName,
		Log:        c.Log,
		StartCheck: c.StartCheck,
		Logger:     log,
	}
	a.ctl = controller.New(controller.Options{
		APIKey:         a.apiKey,
		Env:            vars,
		Launcher:       launcher,
		Cues:           a.cues,
		Executable:     o.Executable,
		WorkerName:     c.WorkerName,
		StopPolicy:     c.StopPolicy(),
		ShutdownPolicy: c.ShutdownPolicy(),
		PIDFile:        c.PIDFile,
		History:        sinks,
		Logger:         log,
	})

	switch {
	case o.Hotkey != nil:
		a.hotkey = o.Hotkey
	case !o.DisableHotkey:
		a.hotkey = &hotkey.GlobalSource{Key: c.HotkeyName(), Logger: log}
	}
	return a, nil
}

func (a *App) apiKey() string {
	if a.opts.ConfigPath == "" {
		return a.cfg.APIKey
	}
	fresh, err := cfg.Load(a.opts.ConfigPath)
	if err != nil {
		a.log.Warn("re-reading config failed; using loaded key", "error", err)
		return a.cfg.APIKey
	}
	return fresh.APIKey
}

// Controller exposes the dictation controller.
func (a *App) Controller() *controller.Controller { return a.ctl }

// History returns recent transitions, newest first.
func (a *App) History(n int) []HistoryEvent { return a.ring.Recent(n) }

// Addr is the bound HTTP address once Run has started the server.
func (a *App) Addr() string {
	if a.srv == nil {
		return ""
	}
	return a.srv.Addr
}

func (a *App) middleware() []gin.HandlerFunc {
	var mw []gin.HandlerFunc
	if a.cfg.APITokenHash != "" {
		mw = append(mw, auth.NewVerifier(a.cfg.APITokenHash).GinAuth())
	}
	return mw
}

// Handler returns the control surface under APIBasePath for mounting in
// another HTTP server. Token auth applies when configured.
func (a *App) Handler() http.Handler {
	return iapi.NewRouter(a.ctl, a.ring, APIBasePath).Use(a.middleware()...).Handler()
}

// Start terminates any worker left by a previous run, then brings up the
// HTTP surface and the hotkey listener. The listener stops when ctx is done.
func (a *App) Start(ctx context.Context) error {
	if found, err := a.ctl.Recover(ctx); err != nil {
		a.log.Error("could not terminate worker from previous run", "error", err)
	} else if found {
		a.log.Info("terminated worker from previous run")
	}
	if a.cfg.Listen != "" {
		mw := a.middleware()
		tlsConf, err := tlsx.Setup(a.cfg.TLS)
		if err != nil {
			return err
		}
		srv, err := iapi.NewServer(a.cfg.Listen, APIBasePath, a.ctl, a.ring, tlsConf, mw...)
		if err != nil {
			return err
		}
		a.srv = srv
		a.log.Info("control surface listening", "addr", srv.Addr, "base", APIBasePath, "auth", len(mw) > 0, "tls", tlsConf != nil)
	}
	if a.sched != nil {
		if err := a.sched.Start(ctx); err != nil {
			return err
		}
	}
	if a.hotkey != nil {
		go func() {
			if err := hotkey.Listen(ctx, a.hotkey, a.ctl, a.log); err != nil {
				a.log.Error("hotkey listener stopped", "error", err)
			}
		}()
	}
	a.log.Info("voicekey ready", "hotkey", a.cfg.HotkeyName(), "api_key_set", a.ctl.Snapshot().APIKeySet)
	return nil
}

// Run starts the App and blocks until ctx is done, then closes it.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		_ = a.Close()
		return err
	}
	<-ctx.Done()
	return a.Close()
}

// Close stops accepting requests, then tears down the controller so no
// worker outlives the application. It is idempotent.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		var errs []error
		if a.srv != nil {
			// An in-flight stop may hold the session for its grace period.
			ctx, cancel := context.WithTimeout(context.Background(), a.cfg.StopGrace+time.Second)
			if err := a.srv.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
			cancel()
		}
		if err := a.ctl.Close(); err != nil {
			errs = append(errs, err)
		}
		a.cues.Close()
		if a.sched != nil {
			a.sched.Stop()
		}
		if a.store != nil {
			if err := a.store.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

// purgeInterval checks a few times per retention window, at most hourly.
func purgeInterval(retention time.Duration) time.Duration {
	d := retention / 4
	switch {
	case d < time.Second:
		return time.Second
	case d > time.Hour:
		return time.Hour
	}
	return d
}

func (a *App) purgeHistory(ctx context.Context) error {
	n, err := a.store.PurgeOlderThan(ctx, time.Now().Add(-a.cfg.HistoryRetention))
	if err != nil {
		return err
	}
	if n > 0 {
		a.log.Info("expired history events", "count", n, "retention", a.cfg.HistoryRetention)
	}
	return nil
}
