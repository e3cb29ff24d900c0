package protocol

import (
	"errors"
	"fmt"
)

// Standard errors returned by the protocol layer.
var (
	// ErrShutdown indicates the session or transport has been shut down.
	ErrShutdown = errors.New("protocol session shut down")

	// ErrAlreadyStarted indicates the session was started twice.
	ErrAlreadyStarted = errors.New("protocol session already started")

	// ErrHandshakeFailed indicates the initialize exchange was rejected or
	// the channel closed mid-handshake.
	ErrHandshakeFailed = errors.New("handshake failed")
)

// RPCError represents a JSON-RPC error from the engine.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)
