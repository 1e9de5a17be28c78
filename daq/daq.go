/*Package daq implements the DAQ Controller (spec.md §4.6): a small
Idle→Running→Idle state machine wrapping a hal.DaqSession, with the
status/trigger/drain operations and back-pressure contract spec.md §5 and
§6 describe.

The state machine itself is deliberately a plain struct with explicit
state checks, not a generic dispatch table, the way fsm.ControlLoop guards
its Update call with a single mutex rather than a state-transition engine
-- the DAQ Controller has exactly two states and the guard logic reads
better inline than routed through a lookup.
*/
package daq

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/psi46/pxarcore/dut"
	"github.com/psi46/pxarcore/hal"
	"github.com/psi46/pxarcore/program"
)

// State is the DAQ Controller's FSM state (spec.md §4.6: "Idle → Running →
// Idle").
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// ErrAlreadyRunning is returned by Start when the controller is already Running.
var ErrAlreadyRunning = fmt.Errorf("daq: already running")

// ErrNotRunning is returned by Trigger, TriggerLoopStart and Stop while
// Idle. The drain operations do not check the state.
var ErrNotRunning = fmt.Errorf("daq: not running")

// overflowRatio is the imminent-overflow threshold of spec.md §4.6: status
// reports false once filled/buffer exceeds this.
const overflowRatio = 0.9

// Controller is the DAQ Controller. It owns no HAL state itself; d and
// sess are borrowed references bounded by the API instance that
// constructs it (Design Notes §9: "the API is sole owner of DUT and HAL").
type Controller struct {
	d    *dut.Dut
	prog hal.Programmer
	sess hal.DaqSession

	deserPhase int
	bufferSize int

	state State

	decoderErrors uint32

	haltRequested int32 // atomic bool, set by RequestHalt
}

// New returns an Idle Controller. deserPhase and bufferSize are passed
// straight through to hal.DaqSession.DaqStart on every Start call.
func New(d *dut.Dut, prog hal.Programmer, sess hal.DaqSession, deserPhase, bufferSize int) *Controller {
	return &Controller{d: d, prog: prog, sess: sess, deserPhase: deserPhase, bufferSize: bufferSize}
}

// State reports the controller's current FSM state.
func (c *Controller) State() State { return c.state }

// DecoderErrors reports the running count of trailer-CRC failures seen by
// the drain operations since the controller was constructed.
func (c *Controller) DecoderErrors() uint32 { return c.decoderErrors }

// Start clears HAL DAQ state, applies the mask+trim bracket, enables
// calibrate bits and column readout on every enabled ROC, and arms the
// HAL (spec.md §4.6).
func (c *Controller) Start() error {
	if c.state == Running {
		return ErrAlreadyRunning
	}
	if err := program.PushTrimsToNIOS(c.d, c.prog); err != nil {
		return fmt.Errorf("daq: start: %w", err)
	}
	if err := program.MaskAll(c.d, c.prog, true); err != nil {
		return fmt.Errorf("daq: start: %w", err)
	}
	if err := c.sess.SetCalibrateBits(true); err != nil {
		return fmt.Errorf("daq: start: %w", err)
	}
	c.d.SetAllCalibrate(true)
	if err := c.sess.EnableAllColumns(); err != nil {
		return fmt.Errorf("daq: start: %w", err)
	}
	if err := c.sess.DaqStart(c.deserPhase, len(c.d.EnabledTbms()), c.bufferSize); err != nil {
		return fmt.Errorf("daq: start: %w", err)
	}
	c.state = Running
	atomic.StoreInt32(&c.haltRequested, 0)
	return nil
}

// Status reports whether the session is still safely Running (false if
// Idle or if the source buffer is within overflowRatio of full) and the
// current fill percentage.
func (c *Controller) Status() (running bool, perFull int, err error) {
	filled, buffer, err := c.sess.DaqStatus()
	if err != nil {
		return false, 0, err
	}
	if buffer > 0 {
		perFull = int(math.Floor(100 * float64(filled) / float64(buffer)))
	}
	if c.state != Running {
		return false, perFull, nil
	}
	if buffer > 0 && float64(filled)/float64(buffer) > overflowRatio {
		log.Printf("warning: daq buffer %d%% full, imminent overflow", perFull)
		return false, perFull, nil
	}
	return true, perFull, nil
}

// clampPeriod raises period to the pattern generator's cycle length when
// it is too short to complete one PG cycle (spec.md §4.6), logging a
// warning, and returns the effective period actually used.
func (c *Controller) clampPeriod(period uint16) uint16 {
	if uint32(period) < c.d.PgSum {
		log.Printf("warning: trigger period %d below pg_sum %d, raising", period, c.d.PgSum)
		return uint16(c.d.PgSum)
	}
	return period
}

// Trigger fires n triggers spaced period (or pg_sum, if larger) clock
// cycles apart, returning the effective period used.
func (c *Controller) Trigger(n int, period uint16) (uint16, error) {
	if c.state != Running {
		return 0, ErrNotRunning
	}
	running, _, err := c.Status()
	if err != nil {
		return 0, err
	}
	if !running {
		return 0, ErrNotRunning
	}
	eff := c.clampPeriod(period)
	return eff, c.sess.DaqTrigger(n, eff)
}

// TriggerLoopStart arms the free-running trigger generator, returning the
// effective period used.
func (c *Controller) TriggerLoopStart(period uint16) (uint16, error) {
	if c.state != Running {
		return 0, ErrNotRunning
	}
	running, _, err := c.Status()
	if err != nil {
		return 0, err
	}
	if !running {
		return 0, ErrNotRunning
	}
	eff := c.clampPeriod(period)
	return eff, c.sess.DaqTriggerLoopStart(eff)
}

// TriggerLoopHalt stops the free-running trigger generator without
// leaving the Running state.
func (c *Controller) TriggerLoopHalt() error {
	return c.sess.DaqTriggerLoopStop()
}

// GetBuffer drains the raw byte buffer accumulated since the last drain.
func (c *Controller) GetBuffer() ([]byte, error) {
	return c.sess.DaqGetBuffer()
}

// GetRawEventBuffer drains undecoded per-trigger frames.
func (c *Controller) GetRawEventBuffer() ([][]byte, error) {
	return c.sess.DaqGetRawEventBuffer()
}

// GetEventBuffer drains and decodes every pending event, updating the
// decoder-error counter for any event whose trailer CRC fails to verify.
func (c *Controller) GetEventBuffer() ([]dut.Event, error) {
	events, err := c.sess.DaqGetEventBuffer()
	if err != nil {
		return nil, err
	}
	for i := range events {
		if !events[i].VerifyTrailer() {
			c.decoderErrors++
		}
	}
	return events, nil
}

// GetEvent drains and decodes a single pending event.
func (c *Controller) GetEvent() (dut.Event, error) {
	ev, err := c.sess.DaqGetEvent()
	if err != nil {
		return dut.Event{}, err
	}
	if !ev.VerifyTrailer() {
		c.decoderErrors++
	}
	return ev, nil
}

// GetRawEvent drains a single undecoded per-trigger frame.
func (c *Controller) GetRawEvent() ([]byte, error) {
	return c.sess.DaqGetRawEvent()
}

// Stop halts triggering, re-masks the DUT, clears calibrate bits, disables
// columns, and returns the controller to Idle (spec.md §4.6, and the §8
// invariant "after daqStop, all columns are disabled, all pixels masked,
// calibrate bits cleared").
func (c *Controller) Stop() error {
	if c.state != Running {
		return ErrNotRunning
	}
	if err := c.sess.DaqStop(); err != nil {
		return fmt.Errorf("daq: stop: %w", err)
	}
	if err := program.MaskAll(c.d, c.prog, false); err != nil {
		return fmt.Errorf("daq: stop: %w", err)
	}
	if err := c.sess.SetCalibrateBits(false); err != nil {
		return fmt.Errorf("daq: stop: %w", err)
	}
	c.d.SetAllCalibrate(false)
	if err := c.sess.DisableAllColumns(); err != nil {
		return fmt.Errorf("daq: stop: %w", err)
	}
	c.state = Idle
	return nil
}

// RequestHalt cooperatively asks a RunBackpressured loop in progress to
// stop at its next status poll (spec.md §5: "cancellation is cooperative
// ... the next status poll exits the loop and drains").
func (c *Controller) RequestHalt() {
	atomic.StoreInt32(&c.haltRequested, 1)
}

func (c *Controller) haltWasRequested() bool {
	return atomic.LoadInt32(&c.haltRequested) != 0
}

// RunBackpressured drives the caller-side back-pressure protocol spec.md
// §4.6 documents: run a free-running trigger loop, poll status at
// pollInterval (paced by a golang.org/x/time/rate limiter so polling never
// outruns the DTB), and whenever the buffer crosses 80% full, halt the
// trigger loop, drain via GetEventBuffer, hand the drained events to
// handle, and resume. It returns when the session reports not-running
// (idle, or within overflowRatio of overflow) or RequestHalt is called,
// draining one final time before returning.
func RunBackpressured(c *Controller, period uint16, pollInterval time.Duration, handle func([]dut.Event) error) error {
	const pauseThreshold = 80

	if _, err := c.TriggerLoopStart(period); err != nil {
		return err
	}
	limiter := rate.NewLimiter(rate.Every(pollInterval), 1)
	ctx := context.Background()

	for {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if c.haltWasRequested() {
			break
		}
		running, perFull, err := c.Status()
		if err != nil {
			return err
		}
		if !running {
			break
		}
		if perFull > pauseThreshold {
			if err := c.TriggerLoopHalt(); err != nil {
				return err
			}
			events, err := c.GetEventBuffer()
			if err != nil {
				return err
			}
			if err := handle(events); err != nil {
				return err
			}
			if c.haltWasRequested() {
				break
			}
			if _, err := c.TriggerLoopStart(period); err != nil {
				return err
			}
		}
	}

	if err := c.TriggerLoopHalt(); err != nil {
		return err
	}
	events, err := c.GetEventBuffer()
	if err != nil {
		return err
	}
	return handle(events)
}
