package process

import (
	"bytes"
	"errors"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// ErrNotStarted is returned by Start for a command without a process.
var ErrNotStarted = errors.New("process not started")

// Handle owns one live child process. Exactly one goroutine reaps the
// child; every other waiter observes the done channel.
type Handle struct {
	cmd       *exec.Cmd // nil for an attached process
	pid       int
	startUnix int64
	startedAt time.Time
	done      chan struct{}

	// attached handles only: closing release ends the exit poll.
	release     chan struct{}
	releaseOnce sync.Once
	watchDone   chan struct{}

	mu      sync.Mutex
	exitErr error
	exited  time.Time
	closers []io.Closer
}

// Start starts cmd and returns a handle owning it. closers are released
// once the child has been reaped.
func Start(cmd *exec.Cmd, closers ...io.Closer) (*Handle, error) {
	if err := cmd.Start(); err != nil {
		closeAll(closers)
		return nil, err
	}
	if cmd.Process == nil {
		closeAll(closers)
		return nil, ErrNotStarted
	}
	h := &Handle{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		closers:   closers,
	}
	go h.reap()
	return h, nil
}

// attachPoll is how often an attached process is checked for exit.
const attachPoll = 50 * time.Millisecond

// Attach adopts a running process this program did not start, such as a
// worker left behind by a previous run. Exit is detected by polling since
// a non-child cannot be waited on. os.ErrProcessDone is returned if rec
// no longer names a live process.
func Attach(rec PIDRecord) (*Handle, error) {
	if !rec.Alive() {
		return nil, os.ErrProcessDone
	}
	h := &Handle{
		pid:       rec.PID,
		startUnix: rec.StartUnix,
		startedAt: time.Unix(rec.StartUnix, 0),
		done:      make(chan struct{}),
		release:   make(chan struct{}),
		watchDone: make(chan struct{}),
	}
	go h.watch()
	return h, nil
}

func (h *Handle) watch() {
	defer close(h.watchDone)
	t := time.NewTicker(attachPoll)
	defer t.Stop()
	for {
		select {
		case <-h.release:
			return
		case <-t.C:
			if !sameProcess(h.pid, h.startUnix) {
				h.mu.Lock()
				h.exited = time.Now()
				h.mu.Unlock()
				close(h.done)
				return
			}
		}
	}
}

// abandon stops observing an attached process that could not be killed.
// Done is never closed afterwards. It is a no-op for owned children,
// which are always reaped.
func (h *Handle) abandon() {
	if h.release == nil {
		return
	}
	h.releaseOnce.Do(func() { close(h.release) })
}

func (h *Handle) reap() {
	err := h.cmd.Wait()
	h.mu.Lock()
	h.exitErr = err
	h.exited = time.Now()
	cs := h.closers
	h.closers = nil
	h.mu.Unlock()
	closeAll(cs)
	close(h.done)
}

func (h *Handle) Pid() int { return h.pid }

// StartedAt is when the child was spawned, or for an attached process the
// start time read from the process table (second resolution).
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Done is closed once the child has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// TryWait reports whether the child has exited, without blocking.
func (h *Handle) TryWait() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the child has exited and returns its exit error.
func (h *Handle) Wait() error {
	<-h.done
	return h.ExitErr()
}

// WaitTimeout waits up to d and reports whether the child exited.
func (h *Handle) WaitTimeout(d time.Duration) bool {
	if d <= 0 {
		return h.TryWait()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-h.done:
		return true
	case <-t.C:
		return false
	}
}

// ExitErr is the error from cmd.Wait, nil while running or on a clean exit.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// ExitCode returns the exit code once exited, or -1.
func (h *Handle) ExitCode() int {
	if !h.TryWait() || h.cmd == nil || h.cmd.ProcessState == nil {
		return -1
	}
	return h.cmd.ProcessState.ExitCode()
}

// Signal delivers sig to the child's process group, falling back to the
// child alone. os.ErrProcessDone is returned if the child already exited.
func (h *Handle) Signal(sig syscall.Signal) error {
	if h.TryWait() {
		return os.ErrProcessDone
	}
	err := signalGroup(h.pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}

// Kill sends SIGKILL.
func (h *Handle) Kill() error { return h.Signal(syscall.SIGKILL) }

// Alive probes liveness without touching os/exec internals. A zombie
// awaiting reaping counts as not alive.
func (h *Handle) Alive() bool {
	if h.TryWait() {
		return false
	}
	if runtime.GOOS == "linux" && isZombieLinux(h.pid) {
		return false
	}
	ok, err := gopsproc.PidExists(int32(h.pid))
	return err == nil && ok
}

// isZombieLinux returns true if /proc/<pid>/status reports a zombie state (Z).
func isZombieLinux(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}

func closeAll(cs []io.Closer) {
	for _, c := range cs {
		if c != nil {
			_ = c.Close()
		}
	}
}
