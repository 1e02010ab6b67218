package process

import (
	"bufio"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/loykin/voicekey/internal/env"
	"github.com/loykin/voicekey/internal/logger"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

// writeWorker writes an executable shell script named voice-keyboard into dir.
func writeWorker(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, WorkerName)
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write worker: %v", err)
	}
	return p
}

func TestBuildCommandWithHelper(t *testing.T) {
	spec := NewLaunchSpec("/opt/vk/voice-keyboard", env.Var{env.Home: "/home/u", env.APIKey: "k"})
	cmd := spec.BuildCommand("pkexec")
	want := []string{"pkexec", "env", "DEEPGRAM_API_KEY=k", "HOME=/home/u", "/opt/vk/voice-keyboard", "--test-stt"}
	if strings.Join(cmd.Args, " ") != strings.Join(want, " ") {
		t.Fatalf("args mismatch:\n got %q\nwant %q", cmd.Args, want)
	}
}

func TestBuildCommandWithoutHelper(t *testing.T) {
	spec := NewLaunchSpec("/w", env.Var{env.User: "u"})
	cmd := spec.BuildCommand("")
	want := []string{"env", "-i", "USER=u", "/w", "--test-stt"}
	if strings.Join(cmd.Args, " ") != strings.Join(want, " ") {
		t.Fatalf("args mismatch: got %q want %q", cmd.Args, want)
	}
}

func TestResolveWorkerPath(t *testing.T) {
	got, err := ResolveWorkerPath(func() (string, error) { return "/usr/local/bin/voicekey", nil }, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "/usr/local/bin/voice-keyboard" {
		t.Fatalf("unexpected path %q", got)
	}
}

func TestResolveWorkerPathFailure(t *testing.T) {
	_, err := ResolveWorkerPath(func() (string, error) { return "", errors.New("no /proc") }, WorkerName)
	if !errors.Is(err, ErrPathResolution) {
		t.Fatalf("expected ErrPathResolution, got %v", err)
	}
	_, err = ResolveWorkerPath(func() (string, error) { return "", nil }, WorkerName)
	if !errors.Is(err, ErrPathResolution) {
		t.Fatalf("expected ErrPathResolution for empty path, got %v", err)
	}
}

func TestLaunchForwardsOnlyAllowlistedEnv(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "seen.txt")
	worker := writeWorker(t, dir, `/usr/bin/env > "`+out+`"; echo "ARG=$1" >> "`+out+`"`)

	t.Setenv("VOICEKEY_TEST_SECRET", "leak")
	vars := env.SnapshotFrom(func(k string) (string, bool) {
		switch k {
		case env.APIKey:
			return "dg-key", true
		case env.Display:
			return ":0", true
		}
		return "", false
	})

	l := &Launcher{Helper: "", Name: WorkerName}
	h, err := l.Launch(NewLaunchSpec(worker, vars))
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if !h.WaitTimeout(3 * time.Second) {
		t.Fatalf("worker did not exit")
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	seen := string(b)
	for _, want := range []string{"DEEPGRAM_API_KEY=dg-key", "DISPLAY=:0", "ARG=--test-stt"} {
		if !strings.Contains(seen, want) {
			t.Fatalf("missing %q in worker env:\n%s", want, seen)
		}
	}
	for _, absent := range []string{"VOICEKEY_TEST_SECRET", "WAYLAND_DISPLAY", "PULSE_RUNTIME_PATH"} {
		if strings.Contains(seen, absent) {
			t.Fatalf("%s must not be forwarded:\n%s", absent, seen)
		}
	}
}

func TestLaunchWritesWorkerLogs(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	worker := writeWorker(t, dir, `echo transcript; echo oops 1>&2`)
	logs := filepath.Join(dir, "logs")
	l := &Launcher{Name: "vk", Log: logger.Config{File: logger.FileConfig{Dir: logs}}}
	h, err := l.Launch(NewLaunchSpec(worker, env.Var{}))
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if !h.WaitTimeout(3 * time.Second) {
		t.Fatalf("worker did not exit")
	}
	ob, err := os.ReadFile(filepath.Join(logs, "vk.stdout.log"))
	if err != nil || !strings.Contains(string(ob), "transcript") {
		t.Fatalf("stdout log: %v %q", err, string(ob))
	}
	eb, err := os.ReadFile(filepath.Join(logs, "vk.stderr.log"))
	if err != nil || !strings.Contains(string(eb), "oops") {
		t.Fatalf("stderr log: %v %q", err, string(eb))
	}
}

func TestLaunchMissingHelperIsSpawnError(t *testing.T) {
	l := &Launcher{Helper: filepath.Join(t.TempDir(), "no-such-helper")}
	_, err := l.Launch(NewLaunchSpec("/bin/true", env.Var{}))
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}
}

func TestLaunchEmptyPathIsPathResolutionError(t *testing.T) {
	_, err := NewLauncher().Launch(LaunchSpec{})
	if !errors.Is(err, ErrPathResolution) {
		t.Fatalf("expected ErrPathResolution, got %v", err)
	}
}

func TestLaunchStartCheckDetectsDismissedElevation(t *testing.T) {
	requireUnix(t)
	worker := writeWorker(t, t.TempDir(), "exit 126")
	l := &Launcher{StartCheck: 500 * time.Millisecond}
	_, err := l.Launch(NewLaunchSpec(worker, env.Var{}))
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}
	if !strings.Contains(err.Error(), "dismissed") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func startGroup(t *testing.T, name string, args ...string) *Handle {
	t.Helper()
	cmd := exec.Command(name, args...)
	configureSysProcAttr(cmd)
	h, err := Start(cmd)
	if err != nil {
		t.Fatalf("start %s: %v", name, err)
	}
	t.Cleanup(func() {
		_ = h.Kill()
		_ = h.WaitTimeout(2 * time.Second)
	})
	return h
}

// startIgnoringTERM starts a shell that ignores SIGTERM and waits until the
// trap is installed.
func startIgnoringTERM(t *testing.T) *Handle {
	t.Helper()
	cmd := exec.Command("sh", "-c", `trap "" TERM; echo ready; while :; do sleep 0.05; done`)
	configureSysProcAttr(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	h, err := Start(cmd)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		_ = h.Kill()
		_ = h.WaitTimeout(2 * time.Second)
	})
	line, err := bufio.NewReader(stdout).ReadString('\n')
	if err != nil || strings.TrimSpace(line) != "ready" {
		t.Fatalf("child not ready: %q %v", line, err)
	}
	return h
}

func TestTerminateGracefulExit(t *testing.T) {
	requireUnix(t)
	h := startGroup(t, "sleep", "30")
	begin := time.Now()
	out, err := Terminate(h, Policy{Grace: 2 * time.Second, Poll: 20 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if out != Exited {
		t.Fatalf("expected Exited, got %s", out)
	}
	if el := time.Since(begin); el > time.Second {
		t.Fatalf("graceful exit took too long: %s", el)
	}
	if h.Alive() {
		t.Fatalf("child still alive")
	}
}

func TestTerminateEscalatesAfterGrace(t *testing.T) {
	requireUnix(t)
	h := startIgnoringTERM(t)
	p := Policy{Grace: 300 * time.Millisecond, Poll: 25 * time.Millisecond}
	begin := time.Now()
	out, err := Terminate(h, p, nil)
	elapsed := time.Since(begin)
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if out != TimedOutThenKilled {
		t.Fatalf("expected TimedOutThenKilled, got %s", out)
	}
	if elapsed < p.Grace {
		t.Fatalf("killed before grace window: %s", elapsed)
	}
	if elapsed > p.Grace+p.Poll+time.Second {
		t.Fatalf("escalation too late: %s", elapsed)
	}
	if !h.TryWait() || h.Alive() {
		t.Fatalf("child still running after terminate")
	}
}

func TestTerminateAlreadyExited(t *testing.T) {
	requireUnix(t)
	h := startGroup(t, "true")
	if !h.WaitTimeout(2 * time.Second) {
		t.Fatalf("true did not exit")
	}
	out, err := Terminate(h, ShutdownPolicy, nil)
	if err != nil || out != Exited {
		t.Fatalf("expected Exited/nil, got %s/%v", out, err)
	}
}

func TestSignalAfterExitReportsProcessDone(t *testing.T) {
	requireUnix(t)
	h := startGroup(t, "true")
	_ = h.Wait()
	if err := h.Kill(); !errors.Is(err, os.ErrProcessDone) {
		t.Fatalf("expected os.ErrProcessDone, got %v", err)
	}
	if h.ExitCode() != 0 {
		t.Fatalf("unexpected exit code %d", h.ExitCode())
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := StopPolicy.Validate(); err != nil {
		t.Fatalf("stop policy: %v", err)
	}
	if err := ShutdownPolicy.Validate(); err != nil {
		t.Fatalf("shutdown policy: %v", err)
	}
	if err := (Policy{Grace: time.Second, Poll: 200 * time.Millisecond}).Validate(); err == nil {
		t.Fatalf("expected error for poll above %s", MaxPoll)
	}
	if err := (Policy{Poll: 10 * time.Millisecond}).Validate(); err == nil {
		t.Fatalf("expected error for zero grace")
	}
}

func TestOutcomeString(t *testing.T) {
	if Exited.String() != "exited" || TimedOutThenKilled.String() != "timed_out_then_killed" {
		t.Fatalf("unexpected outcome names")
	}
}

func TestOwnedHandleStartedAtAndRelease(t *testing.T) {
	requireUnix(t)
	before := time.Now()
	h := startGroup(t, "sleep", "30")
	if h.StartedAt().Before(before) || time.Since(h.StartedAt()) > 5*time.Second {
		t.Fatalf("unexpected start time %v (launched after %v)", h.StartedAt(), before)
	}
	h.abandon()
	if h.TryWait() {
		t.Fatalf("owned child must keep running")
	}
	if _, err := Terminate(h, ShutdownPolicy, nil); err != nil {
		t.Fatalf("terminate: %v", err)
	}
}
