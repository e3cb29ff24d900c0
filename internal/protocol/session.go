// Package protocol layers a JSON-RPC request/response/notification session
// over the byte channel to the analysis engine.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// SessionState represents the lifecycle of a protocol session.
type SessionState int

const (
	// SessionStarting means the handshake is in flight (initial state).
	SessionStarting SessionState = iota
	// SessionRunning means the handshake succeeded and steady-state message
	// exchange is in progress.
	SessionRunning
	// SessionStopped is terminal. It is reached from either prior state on
	// handshake failure, channel closure, or explicit stop.
	SessionStopped
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case SessionStarting:
		return "starting"
	case SessionRunning:
		return "running"
	case SessionStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DiagnosticsHandler receives inbound diagnostic sets.
type DiagnosticsHandler func(params PublishDiagnosticsParams)

// Session is a protocol session over a single channel. It owns the channel
// for its lifetime: stopping the session closes the channel.
//
// The session fires a one-time ended signal (Done) when it reaches
// SessionStopped, however it got there. Consumers must treat the signal as
// an idempotent teardown trigger, since a single failure may also surface
// through other paths (for example a process exit).
type Session struct {
	mu        sync.Mutex
	transport *Transport

	state atomic.Int32

	handshakeTimeout time.Duration
	diagHandler      DiagnosticsHandler

	// started flips when Start begins the handshake; a session stopped
	// before that has no read loop, so no farewell can be answered.
	started atomic.Bool

	endErr   error
	done     chan struct{}
	doneOnce sync.Once
	stopOnce sync.Once

	serverInfo *ServerInfo
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithHandshakeTimeout bounds the initialize exchange.
func WithHandshakeTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		s.handshakeTimeout = d
	}
}

// WithDiagnosticsHandler sets the handler for inbound diagnostic sets.
func WithDiagnosticsHandler(h DiagnosticsHandler) SessionOption {
	return func(s *Session) {
		s.diagHandler = h
	}
}

// NewSession creates a session over the given channel. The session takes
// ownership of the channel and closes it when the session stops.
func NewSession(ch io.ReadWriteCloser, opts ...SessionOption) *Session {
	s := &Session{
		transport:        NewTransport(ch, ch),
		handshakeTimeout: 10 * time.Second,
		done:             make(chan struct{}),
	}
	s.state.Store(int32(SessionStarting))

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start runs the handshake. On success the session is Running; on failure
// it is Stopped and the channel is closed.
func (s *Session) Start(ctx context.Context, rootURI DocumentURI) error {
	s.mu.Lock()
	if SessionState(s.state.Load()) != SessionStarting {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	transport := s.transport
	s.mu.Unlock()

	s.registerHandlers()
	transport.Start(ctx)
	s.started.Store(true)

	// Channel closure at any point, including mid-handshake, ends the
	// session.
	go func() {
		<-transport.Done()
		s.end(ErrShutdown)
	}()

	hctx, cancel := context.WithTimeout(ctx, s.handshakeTimeout)
	defer cancel()

	params := InitializeParams{
		ProcessID: os.Getpid(),
		RootURI:   rootURI,
	}

	var result InitializeResult
	if err := transport.Call(hctx, "initialize", params, &result); err != nil {
		err = fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
		s.end(err)
		_ = transport.Close()
		return err
	}

	if err := transport.Notify(hctx, "initialized", InitializedParams{}); err != nil {
		err = fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
		s.end(err)
		_ = transport.Close()
		return err
	}

	s.mu.Lock()
	s.serverInfo = result.ServerInfo
	s.mu.Unlock()

	// The channel may have closed while the handshake was in flight.
	if SessionState(s.state.Load()) == SessionStopped {
		return fmt.Errorf("%w: channel closed during handshake", ErrHandshakeFailed)
	}

	s.state.CompareAndSwap(int32(SessionStarting), int32(SessionRunning))
	return nil
}

// registerHandlers wires inbound notifications to their consumers.
func (s *Session) registerHandlers() {
	s.transport.OnNotification(MethodPublishDiagnostics, func(method string, params json.RawMessage) {
		var p PublishDiagnosticsParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}

		s.mu.Lock()
		handler := s.diagHandler
		s.mu.Unlock()

		if handler != nil {
			handler(p)
		}
	})
}

// Call sends a request to the engine and waits for the response.
func (s *Session) Call(ctx context.Context, method string, params any, result any) error {
	if SessionState(s.state.Load()) == SessionStopped {
		return ErrShutdown
	}
	return s.transport.Call(ctx, method, params, result)
}

// Notify sends a notification to the engine.
func (s *Session) Notify(ctx context.Context, method string, params any) error {
	if SessionState(s.state.Load()) == SessionStopped {
		return ErrShutdown
	}
	return s.transport.Notify(ctx, method, params)
}

// Stop ends the session and closes the channel. Safe to call multiple
// times or concurrently; the farewell and the close run exactly once, and
// every other caller returns nil once they are done.
func (s *Session) Stop(ctx context.Context) error {
	var closeErr error
	s.stopOnce.Do(func() {
		// Best-effort farewell; the engine may already be gone, and a
		// session that never started has nobody reading responses.
		if s.started.Load() && !s.transport.IsClosed() {
			fctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			_ = s.transport.Call(fctx, "shutdown", nil, nil)
			_ = s.transport.Notify(fctx, "exit", nil)
			cancel()
		}

		s.end(nil)
		closeErr = s.transport.Close()
	})
	return closeErr
}

// end moves the session to Stopped and fires the ended signal exactly once.
func (s *Session) end(reason error) {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		s.endErr = reason
		s.mu.Unlock()
		s.state.Store(int32(SessionStopped))
		close(s.done)
	})
}

// Done returns a channel closed exactly once when the session reaches
// SessionStopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the session ended, or nil for an explicit stop.
// Only meaningful after Done is closed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endErr
}

// State returns the current session state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// ServerInfo returns the engine identity from the handshake, if any.
func (s *Session) ServerInfo() *ServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInfo
}
