// Package controller implements the dictation session controller: the
// single serialized entry point that starts and stops the privileged
// speech-capture worker.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/voicekey/internal/env"
	"github.com/loykin/voicekey/internal/history"
	"github.com/loykin/voicekey/internal/metrics"
	"github.com/loykin/voicekey/internal/process"
	"github.com/loykin/voicekey/internal/session"
)

// Status strings shown to the user.
const (
	StatusReady      = "Ready"
	StatusRecording  = "Recording..."
	StatusStopped    = "Stopped"
	StatusConfigHint = "DEEPGRAM_API_KEY not set - configure an API key first"

	// StatusWorkerExited prefixes the status of a worker that died while Recording.
	StatusWorkerExited = "Worker exited"
)

var (
	ErrConfigMissing = errors.New("DEEPGRAM_API_KEY not set")
	ErrClosed        = errors.New("controller closed")
)

// Launcher starts a worker and hands over ownership of its handle.
type Launcher interface {
	Launch(spec process.LaunchSpec) (*process.Handle, error)
}

// Cues gives audible feedback. Implementations must not block beyond
// queuing samples.
type Cues interface {
	Start()
	Stop()
}

type noCues struct{}

func (noCues) Start() {}
func (noCues) Stop()  {}

// Options configures a Controller.
type Options struct {
	// APIKey returns the configured key; empty falls back to the
	// DEEPGRAM_API_KEY captured in Env.
	APIKey func() string

	// Env is the allow-listed environment captured at application start.
	Env env.Var

	Launcher   Launcher
	Cues       Cues
	Executable func() (string, error) // defaults to os.Executable
	WorkerName string

	StopPolicy     process.Policy
	ShutdownPolicy process.Policy

	// PIDFile, when set, records the live worker so a later run can
	// terminate it if this one dies without tearing down.
	PIDFile string

	History []history.Sink
	Logger  *slog.Logger
}

// Controller owns the dictation session. All transitions run under the
// session lock, one at a time, in lock arrival order.
type Controller struct {
	session *session.Session
	opts    Options
	log     *slog.Logger

	statusMu sync.RWMutex
	status   string

	closed atomic.Bool
}

// New returns a Controller in the Idle state.
func New(o Options) *Controller {
	if o.Launcher == nil {
		o.Launcher = process.NewLauncher()
	}
	if o.Cues == nil {
		o.Cues = noCues{}
	}
	if o.Executable == nil {
		o.Executable = os.Executable
	}
	if o.WorkerName == "" {
		o.WorkerName = process.WorkerName
	}
	if o.StopPolicy == (process.Policy{}) {
		o.StopPolicy = process.StopPolicy
	}
	if o.ShutdownPolicy == (process.Policy{}) {
		o.ShutdownPolicy = process.ShutdownPolicy
	}
	if o.Env == nil {
		o.Env = env.Var{}
	}
	log := o.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		session: session.New(),
		opts:    o,
		log:     log.With("component", "controller"),
		status:  StatusReady,
	}
}

// Toggle flips the session: Idle starts a worker, Recording stops it.
// It is safe to call from any goroutine. The returned error has already
// been reflected in Status and is meant for logging only.
func (c *Controller) Toggle(ctx context.Context) error {
	src := SourceFrom(ctx)
	metrics.IncToggle(src)
	return c.session.With(func(g *session.Guard) error {
		if g.State() == session.Recording {
			return c.stop(ctx, g, src)
		}
		return c.start(ctx, g, src)
	})
}

// Start starts a worker if Idle; it is a no-op while Recording.
func (c *Controller) Start(ctx context.Context) error {
	return c.session.With(func(g *session.Guard) error {
		if g.State() == session.Recording {
			return nil
		}
		return c.start(ctx, g, SourceFrom(ctx))
	})
}

// Stop stops the worker if Recording; it is a no-op while Idle.
func (c *Controller) Stop(ctx context.Context) error {
	return c.session.With(func(g *session.Guard) error {
		if g.State() != session.Recording {
			return nil
		}
		return c.stop(ctx, g, SourceFrom(ctx))
	})
}

// Close tears the controller down: it waits for any in-flight transition,
// then terminates a live worker with the shutdown policy. A worker that
// cannot be killed is logged and does not block. Close is idempotent and
// later starts fail with ErrClosed.
func (c *Controller) Close() error {
	c.closed.Store(true)
	return c.session.With(func(g *session.Guard) error {
		if g.State() != session.Recording {
			return nil
		}
		h := g.Handle()
		begin := time.Now()
		outcome, err := process.Terminate(h, c.opts.ShutdownPolicy, c.log)
		_, _ = g.End()
		elapsed := time.Since(begin)
		c.removePIDFile()
		c.setStatus(StatusStopped)
		c.recordStop(context.Background(), history.EventShutdown, SourceShutdown, "shutdown", h, outcome, elapsed, err)
		if err != nil {
			c.log.Error("worker could not be killed during shutdown", "pid", h.Pid(), "error", err)
		}
		return nil
	})
}

// Recover terminates a worker recorded in the PID file by a previous run
// that exited without tearing down, using the shutdown policy. It reports
// whether such a worker was still running.
func (c *Controller) Recover(ctx context.Context) (bool, error) {
	if c.opts.PIDFile == "" {
		return false, nil
	}
	var found bool
	err := c.session.With(func(g *session.Guard) error {
		if g.State() != session.Idle {
			return nil
		}
		rec, err := process.ReadPIDFile(c.opts.PIDFile)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		defer c.removePIDFile()
		if err != nil {
			return fmt.Errorf("read pid file: %w", err)
		}
		h, err := process.Attach(rec)
		if errors.Is(err, os.ErrProcessDone) {
			c.log.Debug("stale pid file; worker already gone", "pid", rec.PID)
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		c.log.Warn("terminating worker left by a previous run", "pid", rec.PID, "worker", rec.Worker,
			"age", time.Since(h.StartedAt()).Round(time.Second))
		begin := time.Now()
		outcome, terr := process.Terminate(h, c.opts.ShutdownPolicy, c.log)
		elapsed := time.Since(begin)
		metrics.IncStop(outcome.String())
		metrics.ObserveTermination("recover", elapsed.Seconds())
		ev := history.NewEvent(history.EventRecover, SourceShutdown)
		ev.PID = rec.PID
		ev.Outcome = outcome.String()
		ev.Duration = elapsed.Round(time.Millisecond).String()
		if terr != nil {
			ev.Error = terr.Error()
		}
		c.sendHistory(ctx, ev)
		return terr
	})
	return found, err
}

// Status returns the human-readable status.
func (c *Controller) Status() string {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

// State returns the current session state. It waits for an in-flight transition.
func (c *Controller) State() session.State { return c.session.Snapshot().State }

// Snapshot describes the controller for status displays.
type Snapshot struct {
	session.Snapshot
	Status    string `json:"status"`
	APIKeySet bool   `json:"api_key_set"`
}

func (c *Controller) Snapshot() Snapshot {
	return Snapshot{
		Snapshot:  c.session.Snapshot(),
		Status:    c.Status(),
		APIKeySet: c.apiKey() != "",
	}
}

func (c *Controller) setStatus(s string) {
	c.statusMu.Lock()
	c.status = s
	c.statusMu.Unlock()
}

func (c *Controller) apiKey() string {
	if c.opts.APIKey != nil {
		if k := c.opts.APIKey(); k != "" {
			return k
		}
	}
	k, _ := c.opts.Env.Get(env.APIKey)
	return k
}

// start runs Idle -> Recording. Caller holds the session guard.
func (c *Controller) start(ctx context.Context, g *session.Guard, src string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	key := c.apiKey()
	if key == "" {
		c.setStatus(StatusConfigHint)
		c.recordStartFailure(ctx, src, "config_missing", ErrConfigMissing)
		return ErrConfigMissing
	}

	c.opts.Cues.Start()

	path, err := process.ResolveWorkerPath(c.opts.Executable, c.opts.WorkerName)
	if err != nil {
		c.setStatus(failedStatus(err))
		c.recordStartFailure(ctx, src, "path_error", err)
		return err
	}
	vars := c.opts.Env.Merge(env.Var{env.APIKey: key})
	h, err := c.opts.Launcher.Launch(process.NewLaunchSpec(path, vars))
	if err != nil {
		if !errors.Is(err, process.ErrSpawn) && !errors.Is(err, process.ErrPathResolution) {
			err = fmt.Errorf("%w: %w", process.ErrSpawn, err)
		}
		c.setStatus(failedStatus(err))
		c.recordStartFailure(ctx, src, "spawn_error", err)
		return err
	}
	if err := g.Begin(h); err != nil {
		// Unreachable while start is only entered from Idle; never leak the child.
		_, _ = process.Terminate(h, c.opts.ShutdownPolicy, c.log)
		return err
	}
	c.setStatus(StatusRecording)
	go c.watch(h)
	c.writePIDFile(h, path)

	c.log.Info("dictation started", "pid", h.Pid(), "source", src)
	metrics.IncStart("ok")
	metrics.SetRecording(true)
	metrics.RecordStateTransition(session.Idle.String(), session.Recording.String())
	ev := history.NewEvent(history.EventStart, src)
	ev.PID = h.Pid()
	c.sendHistory(ctx, ev)
	return nil
}

// stop runs Recording -> Idle. Caller holds the session guard.
func (c *Controller) stop(ctx context.Context, g *session.Guard, src string) error {
	c.opts.Cues.Stop()

	h := g.Handle()
	begin := time.Now()
	outcome, err := process.Terminate(h, c.opts.StopPolicy, c.log)
	// Idle regardless of how the worker left.
	_, _ = g.End()
	elapsed := time.Since(begin)
	c.removePIDFile()

	c.setStatus(StatusStopped)
	c.recordStop(ctx, history.EventStop, src, "stop", h, outcome, elapsed, err)
	if err != nil {
		c.log.Error("worker did not respond to kill", "pid", h.Pid(), "error", err)
		return err
	}
	c.log.Info("dictation stopped", "pid", h.Pid(), "outcome", outcome.String(), "elapsed", elapsed,
		"recorded", begin.Sub(h.StartedAt()).Round(time.Millisecond), "source", src)
	return nil
}

// watch logs a worker that exits while the session still owns it.
// watch reports a worker that exits while its session is still Recording,
// e.g. a dismissed elevation prompt. The session stays Recording until the
// next toggle reaps it.
func (c *Controller) watch(h *process.Handle) {
	<-h.Done()
	_ = c.session.With(func(g *session.Guard) error {
		if g.State() != session.Recording || g.Handle() != h {
			return nil
		}
		code := h.ExitCode()
		c.log.Warn("worker exited on its own; next toggle will stop the session",
			"pid", h.Pid(), "exit_code", code, "recorded", time.Since(h.StartedAt()).Round(time.Millisecond))
		c.setStatus(workerExitedStatus(code))
		return nil
	})
}

func (c *Controller) recordStartFailure(ctx context.Context, src, result string, err error) {
	c.log.Warn("dictation start refused", "source", src, "reason", result, "error", err)
	metrics.IncStart(result)
	ev := history.NewEvent(history.EventStartFailed, src)
	ev.Error = err.Error()
	c.sendHistory(ctx, ev)
}

func (c *Controller) recordStop(ctx context.Context, typ history.EventType, src, policy string, h *process.Handle, o process.Outcome, elapsed time.Duration, err error) {
	metrics.IncStop(o.String())
	metrics.ObserveTermination(policy, elapsed.Seconds())
	metrics.SetRecording(false)
	metrics.RecordStateTransition(session.Recording.String(), session.Idle.String())
	ev := history.NewEvent(typ, src)
	ev.PID = h.Pid()
	ev.Outcome = o.String()
	ev.Duration = elapsed.Round(time.Millisecond).String()
	if err != nil {
		ev.Error = err.Error()
	}
	c.sendHistory(ctx, ev)
}

func (c *Controller) sendHistory(ctx context.Context, ev history.Event) {
	if len(c.opts.History) == 0 {
		return
	}
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	for _, s := range c.opts.History {
		if err := s.Send(hctx, ev); err != nil {
			c.log.Warn("history sink failed", "type", ev.Type, "error", err)
		}
	}
}

func (c *Controller) writePIDFile(h *process.Handle, worker string) {
	if c.opts.PIDFile == "" {
		return
	}
	if err := process.WritePIDFile(c.opts.PIDFile, process.RecordFor(h, worker)); err != nil {
		c.log.Warn("cannot record worker pid", "path", c.opts.PIDFile, "error", err)
	}
}

func (c *Controller) removePIDFile() {
	if c.opts.PIDFile == "" {
		return
	}
	if err := process.RemovePIDFile(c.opts.PIDFile); err != nil {
		c.log.Warn("cannot remove worker pid file", "path", c.opts.PIDFile, "error", err)
	}
}

func failedStatus(err error) string { return "Failed to start: " + err.Error() }

func workerExitedStatus(code int) string {
	return fmt.Sprintf("%s (exit code %d) - toggle to reset", StatusWorkerExited, code)
}
