// Package engine spawns, monitors, and terminates the external analysis
// engine process.
package engine

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/refinelabs/refine/internal/logging"
)

// Process represents a spawned engine process.
//
// A Process is created exclusively by Supervisor.Spawn and is destroyed on
// confirmed exit or forced kill. The exit observer (Done plus ExitCode)
// fires exactly once, whichever of natural exit or kill happens first.
type Process struct {
	// ID is a unique identifier for this process instance.
	ID string

	// Path is the executable that was launched.
	Path string

	// Args are the arguments it was launched with.
	Args []string

	// Started is the time the process was started.
	Started time.Time

	cmd *exec.Cmd

	// exitCode stores the exit code after the process exits (-1 before).
	exitCode atomic.Int32

	// done is closed exactly once when the process exits.
	done chan struct{}

	exitErr error
	mu      sync.RWMutex
}

// Done returns a channel closed exactly once when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitCode returns the exit code, or -1 if the process has not exited.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// ExitError returns the error from waiting on the process, if any.
func (p *Process) ExitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// PID returns the OS process ID, or -1 if not started.
func (p *Process) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

// Runtime returns how long the process has been running.
func (p *Process) Runtime() time.Duration {
	if p.Started.IsZero() {
		return 0
	}
	return time.Since(p.Started)
}

// Supervisor spawns and terminates engine processes and relays their
// output to the logger.
type Supervisor struct {
	log *logging.Logger
}

// NewSupervisor creates a process supervisor. Engine output lines are
// logged through log with the engine origin.
func NewSupervisor(log *logging.Logger) *Supervisor {
	if log == nil {
		log = logging.Null
	}
	return &Supervisor{log: log}
}

// Spawn starts the engine executable with the given arguments and working
// directory. The caller is responsible for having validated that the
// executable resolves and the working directory exists; a failure here
// (missing binary, permissions) yields an immediate error and no Process.
//
// The child's stdout and stderr are streamed line by line to the logger as
// they arrive. The streams are a live side channel with no ordering
// guarantee between them and they never block spawn or teardown.
func (s *Supervisor) Spawn(path string, args []string, workDir string) (*Process, error) {
	if path == "" {
		return nil, fmt.Errorf("spawn: empty executable path")
	}
	if workDir == "" {
		return nil, fmt.Errorf("spawn: empty working directory")
	}

	cmd := exec.Command(path, args...)
	cmd.Dir = workDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("start process: %w", err)
	}

	proc := &Process{
		ID:      uuid.New().String(),
		Path:    path,
		Args:    args,
		Started: time.Now(),
		cmd:     cmd,
		done:    make(chan struct{}),
	}
	proc.exitCode.Store(-1)

	s.log.Debug("engine process %s started, pid %d", proc.ID, proc.PID())

	engineLog := s.log.WithOrigin(logging.OriginEngine)

	// Drain both pipes before Wait; Wait closes them.
	var pumps errgroup.Group
	pumps.Go(func() error {
		pumpLines(stdout, engineLog.Info)
		return nil
	})
	pumps.Go(func() error {
		pumpLines(stderr, engineLog.Error)
		return nil
	})

	go s.waitLoop(proc, &pumps)

	return proc, nil
}

// waitLoop waits for the process to exit and fires the exit observer.
func (s *Supervisor) waitLoop(proc *Process, pumps *errgroup.Group) {
	_ = pumps.Wait()
	err := proc.cmd.Wait()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	proc.mu.Lock()
	proc.exitErr = err
	proc.mu.Unlock()

	proc.exitCode.Store(int32(exitCode))
	s.log.Debug("engine process %s exited with code %d", proc.ID, exitCode)
	close(proc.done)
}

// pumpLines forwards each line from r to emit as it arrives.
func pumpLines(r io.Reader, emit func(msg string, args ...any)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		emit("%s", scanner.Text())
	}
}

// Terminate sends a termination signal to the process. It does not wait
// for exit confirmation; the exit observer reports that. Safe to call with
// a nil process or one that has already exited.
func (s *Supervisor) Terminate(proc *Process) {
	if proc == nil || proc.cmd == nil || proc.cmd.Process == nil {
		return
	}

	select {
	case <-proc.done:
		return // Already exited
	default:
	}

	if err := proc.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.log.Debug("terminate pid %d: %v", proc.PID(), err)
	}
}

// Kill forcibly kills the process. Same calling rules as Terminate.
func (s *Supervisor) Kill(proc *Process) {
	if proc == nil || proc.cmd == nil || proc.cmd.Process == nil {
		return
	}

	select {
	case <-proc.done:
		return
	default:
	}

	if err := proc.cmd.Process.Kill(); err != nil {
		s.log.Debug("kill pid %d: %v", proc.PID(), err)
	}
}
