package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/loykin/voicekey/internal/env"
)

const (
	// WorkerName is the worker binary expected next to the controller binary.
	WorkerName = "voice-keyboard"
	// WorkerArgument is the single argument passed to the worker.
	WorkerArgument = "--test-stt"
	// DefaultHelper is the privilege-elevation helper.
	DefaultHelper = "pkexec"
)

var (
	ErrPathResolution = errors.New("cannot resolve worker path")
	ErrSpawn          = errors.New("failed to launch worker")
)

// LaunchSpec describes one worker launch. It is built fresh for every start.
type LaunchSpec struct {
	ExecutablePath string  `json:"executable_path"`
	Argument       string  `json:"argument"`
	Env            env.Var `json:"-"`
}

// NewLaunchSpec returns a spec for the worker at path with the fixed argument.
func NewLaunchSpec(path string, vars env.Var) LaunchSpec {
	return LaunchSpec{ExecutablePath: path, Argument: WorkerArgument, Env: vars}
}

// ResolveWorkerPath joins the directory of the running binary with name.
// executable is normally os.Executable.
func ResolveWorkerPath(executable func() (string, error), name string) (string, error) {
	if executable == nil {
		executable = os.Executable
	}
	if name == "" {
		name = WorkerName
	}
	exe, err := executable()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPathResolution, err)
	}
	if exe == "" {
		return "", fmt.Errorf("%w: empty executable path", ErrPathResolution)
	}
	if !filepath.IsAbs(exe) {
		abs, err := filepath.Abs(exe)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrPathResolution, err)
		}
		exe = abs
	}
	return filepath.Join(filepath.Dir(exe), name), nil
}

// BuildCommand constructs the helper invocation:
//
//	<helper> env K=V... <worker> --test-stt
//
// The allow-listed environment travels as env(1) assignments because
// elevation helpers scrub the caller's environment. An empty helper runs
// "env -i" directly so the worker still sees only the allow-listed set.
func (s LaunchSpec) BuildCommand(helper string) *exec.Cmd {
	args := make([]string, 0, len(s.Env)+4)
	name := helper
	if helper == "" {
		name = "env"
		args = append(args, "-i")
	} else {
		args = append(args, "env")
	}
	args = append(args, s.Env.Pairs()...)
	args = append(args, s.ExecutablePath)
	if s.Argument != "" {
		args = append(args, s.Argument)
	}
	// #nosec G204 -- helper and worker path come from local configuration
	return exec.Command(name, args...)
}
