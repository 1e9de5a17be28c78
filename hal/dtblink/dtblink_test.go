package dtblink_test

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/psi46/pxarcore/hal/dtblink"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := dtblink.Retry(time.Second, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryGivesUpAfterTimeout(t *testing.T) {
	attempts := 0
	err := dtblink.Retry(50*time.Millisecond, func() error {
		attempts++
		return errors.New("permanent")
	})
	if err == nil {
		t.Fatalf("expected Retry to give up and return an error")
	}
	if attempts < 1 {
		t.Errorf("expected at least one attempt, got %d", attempts)
	}
}

func TestLinkOpenRequiresSerialConf(t *testing.T) {
	l := dtblink.New("", true, nil)
	if err := l.Open(); err != dtblink.ErrNoSerialConf {
		t.Errorf("Open() = %v, want ErrNoSerialConf", err)
	}
}

func TestLinkReadWriteNotConnected(t *testing.T) {
	l := dtblink.New("127.0.0.1:0", false, nil)
	if l.IsOpen() {
		t.Fatalf("expected fresh Link to report not open")
	}
	if _, err := l.Write([]byte("x")); err != dtblink.ErrNotConnected {
		t.Errorf("Write() = %v, want ErrNotConnected", err)
	}
	if _, err := l.Read(make([]byte, 1)); err != dtblink.ErrNotConnected {
		t.Errorf("Read() = %v, want ErrNotConnected", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close() on never-opened Link = %v, want nil", err)
	}
}

func TestLinkTCPOpenCloseRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4)
		n, _ := conn.Read(buf)
		conn.Write(buf[:n])
	}()

	l := dtblink.New(ln.Addr().String(), false, nil)
	l.Timeout = time.Second
	if err := l.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !l.IsOpen() {
		t.Fatalf("expected Link to report open after Open()")
	}

	if _, err := l.Write([]byte("ping")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := l.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != "ping" {
		t.Errorf("echoed payload = %q, want %q", buf, "ping")
	}

	if err := l.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if l.IsOpen() {
		t.Errorf("expected Link to report not open after Close()")
	}
	<-done
}

func TestLinkOpenIsIdempotentWhileConnected(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}()

	l := dtblink.New(ln.Addr().String(), false, nil)
	l.Timeout = time.Second
	if err := l.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.Open(); err != nil {
		t.Errorf("second Open() on already-open Link = %v, want nil", err)
	}
}
