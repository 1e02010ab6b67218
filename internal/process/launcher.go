package process

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/voicekey/internal/logger"
)

// Launcher starts the worker under the privilege-elevation helper.
type Launcher struct {
	Helper string        // elevation helper; empty runs without elevation
	Name   string        // worker name used for log file names
	Log    logger.Config // where worker stdout/stderr go

	// StartCheck, when positive, is how long the helper must stay up
	// before the launch counts as successful. It catches a dismissed
	// elevation prompt that exits right away.
	StartCheck time.Duration
	Logger     *slog.Logger
}

// NewLauncher returns a Launcher using pkexec.
func NewLauncher() *Launcher {
	return &Launcher{Helper: DefaultHelper, Name: WorkerName}
}

func (l *Launcher) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// Command builds the configured *exec.Cmd for spec without starting it.
// Ownership of the returned closers passes to the caller.
func (l *Launcher) Command(spec LaunchSpec) (*exec.Cmd, []io.Closer, error) {
	cmd := spec.BuildCommand(l.Helper)
	configureSysProcAttr(cmd)

	name := l.Name
	if name == "" {
		name = WorkerName
	}
	if l.Log.File.Dir != "" {
		if err := os.MkdirAll(l.Log.File.Dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("create worker log dir: %w", err)
		}
	}
	outW, errW, err := l.Log.WorkerWriters(name)
	if err != nil {
		return nil, nil, err
	}
	var closers []io.Closer
	if outW != nil {
		cmd.Stdout = outW
		closers = append(closers, outW)
	}
	if errW != nil {
		cmd.Stderr = errW
		closers = append(closers, errW)
	}
	// nil Stdout/Stderr already map to the null device in os/exec.
	return cmd, closers, nil
}

// Launch starts the worker described by spec. Ownership of the returned
// handle transfers to the caller. Failures wrap ErrSpawn.
func (l *Launcher) Launch(spec LaunchSpec) (*Handle, error) {
	if strings.TrimSpace(spec.ExecutablePath) == "" {
		return nil, fmt.Errorf("%w: empty worker path", ErrPathResolution)
	}
	cmd, closers, err := l.Command(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	l.logger().Info("launching worker",
		"helper", l.Helper,
		"worker", spec.ExecutablePath,
		"arg", spec.Argument,
		"env", spec.Env.Redacted(),
	)
	h, err := Start(cmd, closers...)
	if err != nil {
		helper := l.Helper
		if helper == "" {
			helper = "env"
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrSpawn, helper, err)
	}
	if l.StartCheck > 0 && h.WaitTimeout(l.StartCheck) {
		return nil, fmt.Errorf("%w: %s", ErrSpawn, describeEarlyExit(h))
	}
	l.logger().Info("worker started", "pid", h.Pid())
	return h, nil
}

// describeEarlyExit explains a helper that exited during the start check.
// pkexec uses 126 when the authorization dialog is dismissed and 127 when
// authorization fails.
func describeEarlyExit(h *Handle) string {
	switch code := h.ExitCode(); code {
	case 126:
		return "elevation request was dismissed"
	case 127:
		return "not authorized to run the worker"
	default:
		return fmt.Sprintf("worker exited during startup (exit code %d)", code)
	}
}
