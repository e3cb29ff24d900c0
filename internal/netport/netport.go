// Package netport reserves local TCP ports for the engine channel.
package netport

import (
	"fmt"
	"net"
)

// Reserve obtains an unused local TCP port by binding an ephemeral port and
// immediately releasing it.
//
// The release-then-reuse window is inherently racy: another process may
// claim the port before the engine binds it. That risk is accepted; it
// surfaces later as a connect failure, and retry policy belongs to the
// caller, not here.
func Reserve() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("resolve ephemeral addr: %w", err)
	}

	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("bind ephemeral port: %w", err)
	}

	port := ln.Addr().(*net.TCPAddr).Port
	if err := ln.Close(); err != nil {
		return 0, fmt.Errorf("release ephemeral port: %w", err)
	}

	return port, nil
}
