// Package client is the top-level lifecycle supervisor. It sequences
// prerequisite checks, port allocation, engine spawn, channel connection,
// and the protocol handshake, and it guarantees idempotent teardown no
// matter how many failure signals arrive or in what order.
package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/refinelabs/refine/internal/channel"
	"github.com/refinelabs/refine/internal/config"
	"github.com/refinelabs/refine/internal/diagnostics"
	"github.com/refinelabs/refine/internal/engine"
	"github.com/refinelabs/refine/internal/logging"
	"github.com/refinelabs/refine/internal/netport"
	"github.com/refinelabs/refine/internal/prereq"
	"github.com/refinelabs/refine/internal/protocol"
	"github.com/refinelabs/refine/internal/ui"
)

// State is the canonical lifecycle state. There is exactly one instance,
// owned by the Client and mutated only by it.
type State int

const (
	// StateIdle means Activate has not been called.
	StateIdle State = iota
	// StateCheckingPrereqs means the artifact and runtime are being verified.
	StateCheckingPrereqs
	// StateStarting means a port is being reserved and the engine spawned.
	StateStarting
	// StateConnecting means the channel to the engine is being opened.
	StateConnecting
	// StateSessionStarting means the protocol handshake is in flight.
	StateSessionStarting
	// StateRunning is steady state.
	StateRunning
	// StateStopping means teardown is in progress.
	StateStopping
	// StateStopped is terminal.
	StateStopped
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCheckingPrereqs:
		return "checking prerequisites"
	case StateStarting:
		return "starting"
	case StateConnecting:
		return "connecting"
	case StateSessionStarting:
		return "session starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Client supervises one activation cycle of the engine. No automatic
// restart is performed; after a stop, recovery requires a fresh Client.
//
// Thread safety: the state and the three owned-resource references are
// protected by mu. Stop is guarded by a monotonic flag and may be called
// concurrently or repeatedly from any trigger.
type Client struct {
	cfg     *config.Config
	log     *logging.Logger
	checker prereq.Checker
	status  ui.StatusSink
	router  *diagnostics.Router
	procs   *engine.Supervisor

	mu      sync.Mutex
	state   State
	proc    *engine.Process
	ch      *channel.Channel
	session *protocol.Session

	// stopping is the monotonic teardown guard: the first test-and-set
	// wins, every later Stop is a no-op.
	stopping atomic.Bool

	// done is closed once teardown has completed.
	done chan struct{}
}

// New creates a client. The status sink is wrapped so repeated identical
// values reach the underlying sink only once.
func New(cfg *config.Config, log *logging.Logger, checker prereq.Checker, status ui.StatusSink, detail diagnostics.DetailSink) *Client {
	if log == nil {
		log = logging.Null
	}

	deduped := ui.NewDedup(status)

	return &Client{
		cfg:     cfg,
		log:     log,
		checker: checker,
		status:  deduped,
		router:  diagnostics.NewRouter(cfg.DiagnosticSource, deduped, detail),
		procs:   engine.NewSupervisor(log),
		done:    make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done returns a channel closed when teardown has completed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// ActiveDiagnostic returns the currently-displayed engine error, if any.
func (c *Client) ActiveDiagnostic() *diagnostics.ActiveDiagnostic {
	return c.router.Active()
}

// Activate drives the lifecycle through its happy path:
// prerequisites, port, spawn, connect, handshake, running.
//
// Each step is an async boundary at which a competing failure signal may
// arrive; after every step the client re-checks whether a stop has begun
// before proceeding. On any failure the client stops itself fully and
// returns the taxonomy error for the failing stage.
func (c *Client) Activate(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrNotIdle
	}
	c.state = StateCheckingPrereqs
	c.mu.Unlock()

	c.status.SetStatus(ui.StatusLoading)

	// The debug override attaches to an engine someone else started, so
	// the artifact and runtime prerequisites do not apply.
	var runtimePath string
	if c.cfg.DebugPort == 0 {
		var err error
		runtimePath, err = c.checkPrereqs()
		if err != nil {
			return err
		}
	}
	if err := c.advance(StateStarting); err != nil {
		return err
	}

	port, err := c.startEngine(runtimePath)
	if err != nil {
		return err
	}

	if err := c.advance(StateConnecting); err != nil {
		return err
	}

	ch, err := c.connect(port)
	if err != nil {
		return err
	}

	if err := c.advance(StateSessionStarting); err != nil {
		return err
	}

	if err := c.startSession(ctx, ch); err != nil {
		return err
	}

	if err := c.advance(StateRunning); err != nil {
		return err
	}

	c.log.Info("engine attached on port %d", port)
	return nil
}

// checkPrereqs verifies the artifact and runtime. Absence of either aborts
// startup with a user-visible warning before any resource is acquired.
func (c *Client) checkPrereqs() (string, error) {
	if !c.checker.ArtifactPresent() {
		c.log.Warn("engine artifact not found at %s", c.cfg.ArtifactPath)
		c.Stop("artifact missing")
		return "", fmt.Errorf("%w: artifact not found at %s", ErrPrerequisiteMissing, c.cfg.ArtifactPath)
	}

	runtimePath, ok := c.checker.ResolveRuntime(c.cfg.Runtime)
	if !ok {
		c.log.Warn("runtime %q not found on PATH", c.cfg.Runtime)
		c.Stop("runtime missing")
		return "", fmt.Errorf("%w: runtime %q not resolvable", ErrPrerequisiteMissing, c.cfg.Runtime)
	}

	return runtimePath, nil
}

// advance moves to the next lifecycle state unless a stop has begun since
// the previous suspension point.
func (c *Client) advance(next State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopping.Load() {
		return ErrStopping
	}
	c.state = next
	return nil
}

// startEngine reserves a port and spawns the engine with it. When the
// debug override is set, both steps are bypassed and the fixed pre-known
// port is returned: the engine is expected to be running already.
func (c *Client) startEngine(runtimePath string) (int, error) {
	if c.cfg.DebugPort != 0 {
		c.log.Info("debug port %d set, skipping spawn", c.cfg.DebugPort)
		return c.cfg.DebugPort, nil
	}

	port, err := netport.Reserve()
	if err != nil {
		c.Stop("port allocation failed")
		return 0, fmt.Errorf("%w: %v", ErrPortAllocationFailed, err)
	}

	proc, err := c.procs.Spawn(runtimePath, c.cfg.EngineArgs(port), c.cfg.Workspace)
	if err != nil {
		c.Stop("spawn failed")
		return 0, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	c.log.Debug("engine %s spawned, pid %d, port %d", proc.ID, proc.PID(), port)

	// Register the process unless a stop won the race, in which case this
	// activation is abandoned and the fresh process must not outlive it.
	c.mu.Lock()
	if c.stopping.Load() {
		c.mu.Unlock()
		c.procs.Terminate(proc)
		return 0, ErrStopping
	}
	c.proc = proc
	c.mu.Unlock()

	go c.watchProcessExit(proc)

	return port, nil
}

// connect opens the channel to the engine, retrying on a fixed interval
// while the engine starts listening. The retry loop aborts early if a stop
// begins or the engine process dies during the window.
func (c *Client) connect(port int) (*channel.Channel, error) {
	attempt := func() (*channel.Channel, error) {
		if c.stopping.Load() {
			return nil, backoff.Permanent(ErrStopping)
		}
		if proc := c.currentProcess(); proc != nil {
			select {
			case <-proc.Done():
				return nil, backoff.Permanent(fmt.Errorf("engine exited with code %d before listening", proc.ExitCode()))
			default:
			}
		}
		return channel.Connect(port, c.cfg.ConnectTimeout())
	}

	policy := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(c.cfg.ConnectRetryInterval()),
		uint64(c.cfg.ConnectAttempts-1),
	)

	ch, err := backoff.RetryWithData(attempt, policy)
	if err != nil {
		c.Stop("connect failed")
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	// Same registration race as spawn: a stop that began during the dial
	// owns teardown of everything it saw, and this channel is not in that
	// set, so close it here.
	c.mu.Lock()
	if c.stopping.Load() {
		c.mu.Unlock()
		_ = ch.Close()
		return nil, ErrStopping
	}
	c.ch = ch
	c.mu.Unlock()

	return ch, nil
}

// startSession layers the protocol session over the channel and runs the
// handshake. Channel ownership passes to the session.
func (c *Client) startSession(ctx context.Context, ch *channel.Channel) error {
	session := protocol.NewSession(ch,
		protocol.WithHandshakeTimeout(c.cfg.HandshakeTimeout()),
		protocol.WithDiagnosticsHandler(c.handleDiagnostics),
	)

	c.mu.Lock()
	if c.stopping.Load() {
		c.mu.Unlock()
		_ = session.Stop(context.Background())
		return ErrStopping
	}
	c.session = session
	c.ch = nil // owned by the session now
	c.mu.Unlock()

	go c.watchSessionEnd(session)

	if err := session.Start(ctx, protocol.FilePathToURI(c.cfg.Workspace)); err != nil {
		c.Stop("handshake failed")
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	return nil
}

// handleDiagnostics routes an inbound diagnostic set. Sets arriving
// outside Running (late messages during teardown) are dropped, keeping the
// active diagnostic tied to a live session.
func (c *Client) handleDiagnostics(p protocol.PublishDiagnosticsParams) {
	if c.State() != StateRunning {
		return
	}
	c.router.Route(p.URI, p.Diagnostics)
}

// DocumentSaved optimistically sets the status to Loading pending the next
// diagnostics round. Purely cosmetic; ignored unless Running.
func (c *Client) DocumentSaved() {
	if c.State() != StateRunning {
		return
	}
	c.status.SetStatus(ui.StatusLoading)
}

// watchProcessExit is the one-time exit observer. It fires exactly once
// per process, logs the exit code, and triggers teardown. The session-ended
// signal may fire for the same failure; Stop absorbs the duplicate.
func (c *Client) watchProcessExit(proc *engine.Process) {
	<-proc.Done()
	c.log.Info("engine process exited with code %d", proc.ExitCode())
	c.Stop(fmt.Sprintf("process exited with code %d", proc.ExitCode()))
}

// watchSessionEnd mirrors watchProcessExit for protocol-level termination.
func (c *Client) watchSessionEnd(session *protocol.Session) {
	<-session.Done()
	if err := session.Err(); err != nil {
		c.log.Debug("session ended: %v", err)
	}
	c.Stop("session ended")
}

// Stop tears down every component still alive. It is safe to invoke
// concurrently or repeatedly from any trigger: only the first call does
// anything, and each resource reference is cleared as its teardown action
// is issued. Teardown step errors are logged and never abort the remaining
// steps.
func (c *Client) Stop(reason string) {
	if c.stopping.Swap(true) {
		return // A stop already ran or is in progress
	}

	c.mu.Lock()
	c.state = StateStopping
	session := c.session
	ch := c.ch
	proc := c.proc
	c.session = nil
	c.ch = nil
	c.proc = nil
	c.mu.Unlock()

	c.status.SetStatus(ui.StatusStopped)
	c.log.Info("stopping: %s", reason)

	if session != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := session.Stop(ctx); err != nil {
			c.log.Error("teardown: stop session: %v", err)
		}
		cancel()
	}

	if ch != nil {
		if err := ch.Close(); err != nil {
			c.log.Error("teardown: close channel: %v", err)
		}
	}

	if proc != nil {
		c.procs.Terminate(proc)
	}

	c.router.Reset()

	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()

	close(c.done)
}

// currentProcess returns the registered engine process, if any.
func (c *Client) currentProcess() *engine.Process {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proc
}
