/*Package dtbusb implements the bulk-transfer USB transport to a Digital
Test Board, the primary link spec.md §1 calls "USB-attached".

It is adapted from golaborate's usbtmc package: the same atomic sequence
tag generator and header/payload bulk-transfer shape, but framing pxar's
own command/reply protocol instead of USBTMC's. Where usbtmc assumes a
single request fits in the remote's buffer, this package makes the same
simplifying assumption for DTB commands, which are short fixed-size
structures (register writes, PG programs, trigger requests) rather than
bulk waveform payloads.
*/
package dtbusb

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"

	"github.com/psi46/pxarcore/hal/dtblink"
)

// Command op-codes. The real DTB firmware's protocol is out of scope
// (spec.md §1); these are the handful of operations the core actually
// invokes on the HAL (spec.md §1: "only the operations the core invokes
// on it are enumerated").
const (
	opSetHubID byte = iota + 1
	opPowerOn
	opPowerOff
	opInitTBM
	opInitRoc
	opMaskAllPixels
	opSetPixelMaskTrim
	opPushTrims
	opDaqStart
	opDaqStatus
	opDaqTrigger
	opDaqTriggerLoopStart
	opDaqTriggerLoopStop
	opDaqGetBuffer
	opDaqGetRawEventBuffer
	opDaqGetEvent
	opDaqStop
	opEnableColumns
	opDisableColumns
	opSetCalibrateBits
	opSetRocDAC
)

// seqGen is a concurrency-safe sequence tag generator, the same role
// usbtmc.bTagGen plays for bTag/bTagInverse framing.
type seqGen struct {
	mu    sync.Mutex
	value byte
}

func (s *seqGen) next() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value++
	if s.value == 0 {
		s.value = 1
	}
	return s.value
}

// Link is a USB bulk-transfer connection to a DTB.
type Link struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	intf   *gousb.Interface
	inEp   *gousb.InEndpoint
	outEp  *gousb.OutEndpoint
	done   func()
	seq    seqGen
}

// Open enumerates and claims the first DTB found on the given
// vendor/product ID (the Open() pattern mirrors mccdaq.Open: "this always
// opens a connection to the first DAC and would need to be refactored to
// work with others"). Enumeration is retried with dtblink.Retry's
// exponential backoff up to retryTimeout, to ride out the brief window
// where the DTB has not finished re-enumerating right after a power
// cycle.
func Open(vendorID, productID gousb.ID, epIn, epOut int, retryTimeout time.Duration) (*Link, error) {
	ctx := gousb.NewContext()
	var dev *gousb.Device
	err := dtblink.Retry(retryTimeout, func() error {
		d, err := ctx.OpenDeviceWithVIDPID(vendorID, productID)
		if err != nil {
			return err
		}
		if d == nil {
			return fmt.Errorf("dtbusb: no device found for vid=%v pid=%v", vendorID, productID)
		}
		dev = d
		return nil
	})
	if err != nil {
		ctx.Close()
		return nil, err
	}
	intf, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, err
	}
	in, err := intf.InEndpoint(epIn)
	if err != nil {
		done()
		dev.Close()
		ctx.Close()
		return nil, err
	}
	out, err := intf.OutEndpoint(epOut)
	if err != nil {
		done()
		dev.Close()
		ctx.Close()
		return nil, err
	}
	return &Link{ctx: ctx, dev: dev, intf: intf, inEp: in, outEp: out, done: done}, nil
}

// Close releases the USB interface and device handle.
func (l *Link) Close() error {
	if l.done != nil {
		l.done()
	}
	if l.dev != nil {
		l.dev.Close()
	}
	if l.ctx != nil {
		l.ctx.Close()
	}
	return nil
}

// frame builds a DTB command frame: 1 byte op, 1 byte sequence tag, 2
// bytes big-endian payload length, then payload.
func (l *Link) frame(op byte, payload []byte) []byte {
	buf := make([]byte, 4+len(payload))
	buf[0] = op
	buf[1] = l.seq.next()
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(payload)))
	copy(buf[4:], payload)
	return buf
}

// Send issues a command with no reply expected.
func (l *Link) Send(op byte, payload []byte) error {
	_, err := l.outEp.Write(l.frame(op, payload))
	return err
}

// SendRecv issues a command and reads back the reply payload (the frame
// header is stripped).
func (l *Link) SendRecv(op byte, payload []byte, maxReply int) ([]byte, error) {
	if err := l.Send(op, payload); err != nil {
		return nil, err
	}
	buf := make([]byte, maxReply+4)
	n, err := l.inEp.Read(buf)
	if err != nil {
		return nil, err
	}
	if n < 4 {
		return nil, fmt.Errorf("dtbusb: short reply (%d bytes)", n)
	}
	plen := int(binary.BigEndian.Uint16(buf[2:4]))
	if 4+plen > n {
		plen = n - 4
	}
	return buf[4 : 4+plen], nil
}
