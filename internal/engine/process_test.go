package engine

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/refinelabs/refine/internal/logging"
)

// syncBuffer is a goroutine-safe bytes.Buffer for capturing log output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitExit(t *testing.T, proc *Process) {
	t.Helper()
	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process never exited")
	}
}

func TestSupervisor_Spawn(t *testing.T) {
	s := NewSupervisor(nil)

	proc, err := s.Spawn("echo", []string{"hello"}, t.TempDir())
	if err != nil {
		t.Fatalf("Spawn() failed: %v", err)
	}

	if proc.ID == "" {
		t.Error("expected a process ID")
	}
	if proc.PID() <= 0 {
		t.Errorf("PID() = %d, want positive", proc.PID())
	}

	waitExit(t, proc)

	if proc.ExitCode() != 0 {
		t.Errorf("exit code = %d, want 0", proc.ExitCode())
	}
	if proc.ExitError() != nil {
		t.Errorf("unexpected exit error: %v", proc.ExitError())
	}
}

func TestSupervisor_SpawnErrors(t *testing.T) {
	s := NewSupervisor(nil)

	if _, err := s.Spawn("", []string{}, t.TempDir()); err == nil {
		t.Error("expected error for empty path")
	}
	if _, err := s.Spawn("echo", nil, ""); err == nil {
		t.Error("expected error for empty working directory")
	}
	if _, err := s.Spawn("/nonexistent/engine-binary", nil, t.TempDir()); err == nil {
		t.Error("expected error for missing executable")
	}
}

func TestSupervisor_NonZeroExit(t *testing.T) {
	s := NewSupervisor(nil)

	proc, err := s.Spawn("sh", []string{"-c", "exit 3"}, t.TempDir())
	if err != nil {
		t.Fatalf("Spawn() failed: %v", err)
	}

	if code := proc.ExitCode(); code != -1 {
		// The process may already have exited; only -1 or 3 are valid here.
		if code != 3 {
			t.Errorf("exit code before Done = %d", code)
		}
	}

	waitExit(t, proc)

	if proc.ExitCode() != 3 {
		t.Errorf("exit code = %d, want 3", proc.ExitCode())
	}
	if proc.ExitError() == nil {
		t.Error("expected an exit error for non-zero exit")
	}
}

func TestSupervisor_OutputRelayed(t *testing.T) {
	out := &syncBuffer{}
	log := logging.New(logging.Config{Level: logging.LevelDebug, Output: out})
	s := NewSupervisor(log)

	proc, err := s.Spawn("sh", []string{"-c", "echo starting up; echo trouble >&2"}, t.TempDir())
	if err != nil {
		t.Fatalf("Spawn() failed: %v", err)
	}
	waitExit(t, proc)

	logged := out.String()
	if !strings.Contains(logged, "starting up") {
		t.Errorf("stdout line not relayed: %q", logged)
	}
	if !strings.Contains(logged, "trouble") {
		t.Errorf("stderr line not relayed: %q", logged)
	}
	if !strings.Contains(logged, "engine:") {
		t.Errorf("relayed lines not tagged with engine origin: %q", logged)
	}
	// The start and exit lines carry the process identity.
	if !strings.Contains(logged, proc.ID) {
		t.Errorf("process ID missing from lifecycle log lines: %q", logged)
	}
	if !strings.Contains(logged, "exited with code 0") {
		t.Errorf("exit code missing from log: %q", logged)
	}
}

func TestSupervisor_Terminate(t *testing.T) {
	s := NewSupervisor(nil)

	proc, err := s.Spawn("sleep", []string{"30"}, t.TempDir())
	if err != nil {
		t.Fatalf("Spawn() failed: %v", err)
	}

	s.Terminate(proc)
	waitExit(t, proc)

	if proc.ExitCode() == 0 {
		t.Error("expected non-zero exit code after termination")
	}
}

func TestSupervisor_TerminateNilSafe(t *testing.T) {
	s := NewSupervisor(nil)

	// None of these may panic.
	s.Terminate(nil)
	s.Kill(nil)

	proc, err := s.Spawn("echo", []string{"done"}, t.TempDir())
	if err != nil {
		t.Fatalf("Spawn() failed: %v", err)
	}
	waitExit(t, proc)

	// Terminating an already-exited process is a no-op.
	s.Terminate(proc)
	s.Kill(proc)
}

func TestProcess_Runtime(t *testing.T) {
	var zero Process
	if zero.Runtime() != 0 {
		t.Error("expected zero runtime for unstarted process")
	}

	s := NewSupervisor(nil)
	proc, err := s.Spawn("echo", nil, t.TempDir())
	if err != nil {
		t.Fatalf("Spawn() failed: %v", err)
	}
	waitExit(t, proc)

	if proc.Runtime() <= 0 {
		t.Error("expected positive runtime for started process")
	}
}
