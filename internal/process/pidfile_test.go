package process

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestPIDFileRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "run", "worker.pid")
	rec := PIDRecord{PID: 4242, StartUnix: 1700000000, Worker: "/opt/voice-keyboard"}
	if err := WritePIDFile(p, rec); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadPIDFile(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != rec {
		t.Fatalf("got %+v want %+v", got, rec)
	}
	if fi, err := os.Stat(p); err != nil || fi.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected mode: %v %v", fi, err)
	}
	if err := RemovePIDFile(p); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := RemovePIDFile(p); err != nil {
		t.Fatalf("second remove must be a no-op: %v", err)
	}
}

func TestReadPIDFileVariants(t *testing.T) {
	dir := t.TempDir()
	bare := filepath.Join(dir, "bare.pid")
	_ = os.WriteFile(bare, []byte("123\n"), 0o600)
	rec, err := ReadPIDFile(bare)
	if err != nil || rec.PID != 123 || rec.StartUnix != 0 {
		t.Fatalf("bare: %+v %v", rec, err)
	}

	badMeta := filepath.Join(dir, "meta.pid")
	_ = os.WriteFile(badMeta, []byte("77\n{not json"), 0o600)
	rec, err = ReadPIDFile(badMeta)
	if err != nil || rec.PID != 77 {
		t.Fatalf("bad meta: %+v %v", rec, err)
	}

	garbage := filepath.Join(dir, "garbage.pid")
	_ = os.WriteFile(garbage, []byte("abc"), 0o600)
	if _, err := ReadPIDFile(garbage); err == nil {
		t.Fatalf("expected error for garbage")
	}

	if _, err := ReadPIDFile(filepath.Join(dir, "missing.pid")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist, got %v", err)
	}
}

func TestWritePIDFileRejectsInvalidPID(t *testing.T) {
	if err := WritePIDFile(filepath.Join(t.TempDir(), "x.pid"), PIDRecord{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRecordDetectsPIDReuse(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("relies on /proc")
	}
	rec := PIDRecord{PID: os.Getpid(), StartUnix: procStartUnix(os.Getpid())}
	if rec.StartUnix == 0 {
		t.Fatalf("start time unavailable for self")
	}
	if !rec.Alive() {
		t.Fatalf("own process must be alive")
	}
	rec.StartUnix -= 3600
	if rec.Alive() {
		t.Fatalf("mismatched start time must not match")
	}
}

func TestAttachAndTerminateStrayWorker(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("relies on /proc")
	}
	cmd := exec.Command("sleep", "30")
	configureSysProcAttr(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	reaped := make(chan struct{})
	go func() { _ = cmd.Wait(); close(reaped) }()
	t.Cleanup(func() { _ = cmd.Process.Kill(); <-reaped })

	rec := PIDRecord{PID: cmd.Process.Pid, StartUnix: procStartUnix(cmd.Process.Pid)}
	h, err := Attach(rec)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if h.ExitCode() != -1 {
		t.Fatalf("attached handle has no exit code while running")
	}
	out, err := Terminate(h, Policy{Grace: time.Second, Poll: 20 * time.Millisecond}, nil)
	if err != nil || out != Exited {
		t.Fatalf("terminate: %v %v", out, err)
	}
	select {
	case <-reaped:
	case <-time.After(2 * time.Second):
		t.Fatalf("stray worker still running")
	}
}

func TestAttachGoneProcess(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	_, err := Attach(PIDRecord{PID: cmd.Process.Pid, StartUnix: 1})
	if !errors.Is(err, os.ErrProcessDone) {
		t.Fatalf("expected ErrProcessDone, got %v", err)
	}
}

func TestAttachedHandleReleasesWatcher(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("relies on /proc")
	}
	cmd := exec.Command("sleep", "30")
	configureSysProcAttr(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	reaped := make(chan struct{})
	go func() { _ = cmd.Wait(); close(reaped) }()
	t.Cleanup(func() { _ = cmd.Process.Kill(); <-reaped })

	rec := PIDRecord{PID: cmd.Process.Pid, StartUnix: procStartUnix(cmd.Process.Pid)}
	h, err := Attach(rec)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if !h.StartedAt().Equal(time.Unix(rec.StartUnix, 0)) {
		t.Fatalf("started at %v, want %v", h.StartedAt(), time.Unix(rec.StartUnix, 0))
	}
	h.abandon()
	h.abandon()
	select {
	case <-h.watchDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher still polling after release")
	}
	if h.TryWait() {
		t.Fatalf("released handle must not report an exit")
	}
}
