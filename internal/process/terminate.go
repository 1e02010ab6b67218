package process

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"
)

// Outcome reports how a child left during Terminate.
type Outcome int

const (
	// Exited means the child exited within the grace window (or was already gone).
	Exited Outcome = iota
	// TimedOutThenKilled means the grace window elapsed and SIGKILL was sent.
	TimedOutThenKilled
)

func (o Outcome) String() string {
	switch o {
	case Exited:
		return "exited"
	case TimedOutThenKilled:
		return "timed_out_then_killed"
	default:
		return "unknown"
	}
}

// MaxPoll bounds the polling interval of the termination loop.
const MaxPoll = 150 * time.Millisecond

// Policy is a grace window polled at a fixed interval.
type Policy struct {
	Grace time.Duration
	Poll  time.Duration
}

var (
	// StopPolicy applies to a user-initiated stop.
	StopPolicy = Policy{Grace: 2 * time.Second, Poll: 100 * time.Millisecond}
	// ShutdownPolicy applies at application exit where responsiveness wins.
	ShutdownPolicy = Policy{Grace: 1 * time.Second, Poll: 50 * time.Millisecond}
)

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.Grace <= 0 {
		return fmt.Errorf("grace window must be positive, got %s", p.Grace)
	}
	if p.Poll <= 0 || p.Poll > MaxPoll {
		return fmt.Errorf("poll interval must be in (0, %s], got %s", MaxPoll, p.Poll)
	}
	return nil
}

func (p Policy) normalized() Policy {
	if p.Grace <= 0 {
		p.Grace = StopPolicy.Grace
	}
	if p.Poll <= 0 || p.Poll > MaxPoll {
		p.Poll = StopPolicy.Poll
	}
	return p
}

// Terminate stops h: SIGTERM now, poll for exit until the grace window
// elapses, then SIGKILL and a final blocking wait. The returned error is
// non-nil only when the forced kill could not be delivered; in that case
// the final wait is skipped so callers are never blocked on an unkillable
// child.
func Terminate(h *Handle, p Policy, log *slog.Logger) (Outcome, error) {
	if log == nil {
		log = slog.Default()
	}
	p = p.normalized()
	pid := h.Pid()

	if err := h.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			log.Info("worker already exited before termination request", "pid", pid, "exit", exitText(h))
			return Exited, nil
		}
		// Escalation below still applies.
		log.Warn("graceful termination request failed", "pid", pid, "error", err)
	}

	if pollUntil(h, p) {
		log.Debug("worker exited within grace window", "pid", pid, "grace", p.Grace)
		return Exited, nil
	}

	log.Warn("grace window elapsed; killing worker", "pid", pid, "grace", p.Grace)
	if err := h.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		h.abandon()
		return TimedOutThenKilled, fmt.Errorf("kill pid %d: %w", pid, err)
	}
	_ = h.Wait()
	return TimedOutThenKilled, nil
}

// pollUntil checks for exit every p.Poll until p.Grace has elapsed.
func pollUntil(h *Handle, p Policy) bool {
	deadline := time.Now().Add(p.Grace)
	for {
		if h.TryWait() {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		step := p.Poll
		if remaining < step {
			step = remaining
		}
		time.Sleep(step)
	}
}

func exitText(h *Handle) string {
	if err := h.ExitErr(); err != nil {
		return err.Error()
	}
	return "exit status 0"
}
