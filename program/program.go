/*Package program implements the Programmer (spec.md §4.4): it flushes a
validated DUT model to the HAL. ProgramDUT powers the board on, sets the
hub id, initializes every enabled TBM and ROC, then masks all pixels as a
baseline safe state.
*/
package program

import (
	"fmt"
	"time"

	"github.com/psi46/pxarcore/dut"
	"github.com/psi46/pxarcore/hal"
	"github.com/psi46/pxarcore/hal/dtblink"
)

// ErrNotInitialized is returned when ProgramDUT is called on a Dut that
// has not passed config.InitDUT (spec.md §3: "programmed => initialized").
var ErrNotInitialized = fmt.Errorf("program: dut is not initialized")

// commandRetryTimeout bounds dtblink.Retry's exponential backoff around
// each HAL command issued by ProgramDUT, the same policy hal/dtbusb.Open
// applies to device enumeration.
const commandRetryTimeout = 500 * time.Millisecond

// retryCommand reissues a single HAL command on transient failure, via
// the same backoff policy hal/dtblink.Link.Open uses against a link that
// does not like being "thrashed" right after a power-on.
func retryCommand(op func() error) error {
	return dtblink.Retry(commandRetryTimeout, op)
}

// ProgramDUT runs the full programming sequence of spec.md §4.4 and marks
// d.Programmed true on success. On power cycle the model survives
// (PowerOff does not touch d); the next ProgramDUT call re-runs the same
// sequence from the preserved model.
func ProgramDUT(d *dut.Dut, p hal.Programmer) error {
	if !d.Initialized {
		return ErrNotInitialized
	}

	if err := retryCommand(p.PowerOn); err != nil {
		return fmt.Errorf("program: power on: %w", err)
	}
	if err := retryCommand(func() error { return p.SetHubID(d.HubID) }); err != nil {
		return fmt.Errorf("program: set hub id: %w", err)
	}

	for _, t := range d.EnabledTbms() {
		t := t
		if err := retryCommand(func() error { return p.InitTBM(t.Dacs) }); err != nil {
			return fmt.Errorf("program: init tbm: %w", err)
		}
	}

	for _, rocIdx := range d.EnabledRocIndices() {
		roc := d.Rocs[rocIdx]
		if err := retryCommand(func() error { return p.InitRoc(roc.I2CAddress, roc.Type, roc.Dacs) }); err != nil {
			return fmt.Errorf("program: init roc %d: %w", roc.I2CAddress, err)
		}
	}

	if err := MaskAll(d, p, false); err != nil {
		return fmt.Errorf("program: mask all: %w", err)
	}

	d.Programmed = true
	return nil
}

// MaskAll drops (or, if trim is true, loads) the mask and trim state of
// every pixel on every enabled ROC to the HAL, then mirrors that state
// into d (spec.md §4.4).
func MaskAll(d *dut.Dut, p hal.Programmer, trim bool) error {
	for _, rocIdx := range d.EnabledRocIndices() {
		roc := d.Rocs[rocIdx]
		for pi, pix := range roc.Pixels {
			t := 0
			if trim {
				t = pix.Trim
			}
			if err := p.SetPixelMaskTrim(roc.I2CAddress, pix.Column, pix.Row, true, t); err != nil {
				return err
			}
			d.Rocs[rocIdx].Pixels[pi].Mask = true
		}
	}
	return nil
}

// PushTrimsToNIOS uploads the full trim table of every enabled ROC to the
// DTB's soft core, so firmware-side parallel routines (the multi-ROC/
// multi-pixel HAL entries in package sweep) can execute without per-pixel
// round trips (spec.md §4.4).
func PushTrimsToNIOS(d *dut.Dut, p hal.Programmer) error {
	for _, rocIdx := range d.EnabledRocIndices() {
		roc := d.Rocs[rocIdx]
		trims := make([]hal.NIOSTrim, len(roc.Pixels))
		for i, pix := range roc.Pixels {
			trims[i] = hal.NIOSTrim{Column: pix.Column, Row: pix.Row, Trim: pix.Trim, Mask: pix.Mask}
		}
		if err := p.PushTrimsToNIOS(roc.I2CAddress, trims); err != nil {
			return err
		}
	}
	return nil
}

// PowerOff clears d.Programmed but preserves the model, per spec.md §3
// Lifecycle: "Power-off clears programmed but preserves the model."
func PowerOff(d *dut.Dut, p hal.Programmer) error {
	if err := p.PowerOff(); err != nil {
		return err
	}
	d.Programmed = false
	return nil
}
