/*Package dtblink provides the legacy RS-232 / TCP debug link to a Digital
Test Board, used for firmware console access and re-enumeration retries
when the primary USB link (package hal/dtbusb) is unavailable.

This is adapted from golaborate's comm.RemoteDevice: the same
open-with-exponential-backoff discipline (without its mutex; Link is not
safe for concurrent use), retargeted from generic lab-instrument SendRecv framing to a DTB link that
only needs Open/Close/retry semantics -- actual command traffic goes over
dtbusb's bulk pipes, not this link.
*/
package dtblink

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

// ErrNotConnected is returned by Read and Write when no link has been
// established.
var ErrNotConnected = errors.New("dtblink: not connected")

// ErrNoSerialConf is returned when Serial is true but SerialConf is nil.
var ErrNoSerialConf = errors.New("dtblink: serial selected but no serial.Config provided")

// Link is a debug/recovery connection to a DTB: either a TCP console
// (typical over the same USB-Ethernet gadget some DTB revisions expose)
// or a legacy RS-232 link, selected by Serial exactly like
// comm.NewRemoteDevice's serial bool parameter.
type Link struct {
	// Addr is the TCP address (host:port) of the DTB console, used when
	// Serial is false.
	Addr string

	// Serial selects RS-232 instead of TCP.
	Serial bool

	// SerialConf must be non-nil when Serial is true.
	SerialConf *serial.Config

	// Timeout bounds both connection and recovery backoff.
	Timeout time.Duration

	conn io.ReadWriteCloser
}

// New returns a Link with a 3 second default timeout, matching
// comm.NewRemoteDevice's default.
func New(addr string, isSerial bool, cfg *serial.Config) *Link {
	return &Link{Addr: addr, Serial: isSerial, SerialConf: cfg, Timeout: 3 * time.Second}
}

// Retry runs op with exponential backoff up to timeout, the same policy
// comm.RemoteDevice.Open uses against sources that "do not like being
// connection thrashed". It is exported so hal/dtbusb's device enumeration
// and program.ProgramDUT's HAL command issue can retry transient failures
// against the same policy, not just Link.Open.
func Retry(timeout time.Duration, op func() error) error {
	return backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      timeout,
		Clock:               backoff.SystemClock,
	})
}

// Open establishes the connection, retrying with exponential backoff up to
// Timeout via Retry.
func (l *Link) Open() error {
	if l.conn != nil {
		return nil
	}
	return Retry(l.Timeout, l.open)
}

func (l *Link) open() error {
	if l.Serial {
		if l.SerialConf == nil {
			return ErrNoSerialConf
		}
		conn, err := serial.OpenPort(l.SerialConf)
		if err != nil {
			return err
		}
		l.conn = conn
		return nil
	}
	conn, err := dialTCP(l.Addr, l.Timeout)
	if err != nil {
		return err
	}
	l.conn = conn
	return nil
}

// Close tears down the connection. Errors containing "closed" are
// swallowed as benign, matching comm.RemoteDevice.Close.
func (l *Link) Close() error {
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "closed") {
		return nil
	}
	return err
}

// IsOpen reports whether a connection is currently established.
func (l *Link) IsOpen() bool {
	return l.conn != nil
}

// Write sends raw bytes over the link; used only for firmware console
// interaction, never for the pxar command/event protocol (that is
// dtbusb's job).
func (l *Link) Write(b []byte) (int, error) {
	if l.conn == nil {
		return 0, ErrNotConnected
	}
	return l.conn.Write(b)
}

// Read reads raw bytes from the link.
func (l *Link) Read(b []byte) (int, error) {
	if l.conn == nil {
		return 0, ErrNotConnected
	}
	return l.conn.Read(b)
}
