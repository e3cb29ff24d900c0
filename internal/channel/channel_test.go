package channel

import (
	"net"
	"testing"
	"time"
)

func TestConnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	ch, err := Connect(port, time.Second)
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	defer ch.Close()

	select {
	case conn := <-accepted:
		conn.Close()
	case <-time.After(time.Second):
		t.Fatal("server never saw the connection")
	}

	if ch.IsClosed() {
		t.Error("fresh channel reports closed")
	}
	if ch.RemoteAddr() == nil || ch.LocalAddr() == nil {
		t.Error("expected endpoint addresses on open channel")
	}
}

func TestConnect_Refused(t *testing.T) {
	// Reserve a port and leave it unbound so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, err = Connect(port, 200*time.Millisecond)
	if err == nil {
		t.Fatal("expected error connecting to unbound port")
	}
}

func TestChannel_CloseIdempotent(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
		}
	}()

	ch, err := Connect(ln.Addr().(*net.TCPAddr).Port, time.Second)
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}

	if err := ch.Close(); err != nil {
		t.Errorf("first Close() failed: %v", err)
	}
	if !ch.IsClosed() {
		t.Error("IsClosed() false after Close")
	}

	// Second and later closes are no-ops.
	for i := 0; i < 3; i++ {
		if err := ch.Close(); err != nil {
			t.Errorf("repeated Close() returned error: %v", err)
		}
	}
}

func TestChannel_ReadWrite(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		if _, err := conn.Read(buf); err != nil {
			return
		}
		conn.Write(buf) // echo
	}()

	ch, err := Connect(ln.Addr().(*net.TCPAddr).Port, time.Second)
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	defer ch.Close()

	if _, err := ch.Write([]byte("hello")); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	buf := make([]byte, 5)
	if _, err := ch.Read(buf); err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("echo mismatch: got %q", buf)
	}
}
