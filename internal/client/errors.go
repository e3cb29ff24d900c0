package client

import "errors"

// Errors surfaced to the user by the activation path. Each one is
// actionable and immediately drives a full stop; teardown-step failures
// are never surfaced, only logged.
var (
	// ErrPrerequisiteMissing indicates the engine artifact or runtime is
	// absent. Fatal to startup, no retry.
	ErrPrerequisiteMissing = errors.New("prerequisite missing")

	// ErrPortAllocationFailed indicates no local port could be reserved.
	ErrPortAllocationFailed = errors.New("port allocation failed")

	// ErrSpawnFailed indicates the engine process could not be started.
	ErrSpawnFailed = errors.New("engine spawn failed")

	// ErrConnectFailed indicates the engine never started listening within
	// the attempt window.
	ErrConnectFailed = errors.New("engine connect failed")

	// ErrHandshakeFailed indicates the protocol negotiation was rejected
	// or the channel closed mid-handshake.
	ErrHandshakeFailed = errors.New("engine handshake failed")

	// ErrNotIdle indicates Activate was called on a client that has
	// already been activated. Recovery requires a fresh client.
	ErrNotIdle = errors.New("client already activated")

	// ErrStopping indicates a stop began while activation was in flight.
	ErrStopping = errors.New("stop requested during activation")
)
