/*Package sweep implements the Loop Expander (spec.md §4.5), the heart of
the core: given the four HAL entry points of a hal.SweepOps capability
object, a DUT model, and a flags word, it picks the cheapest execution
strategy the hardware supports and assembles the resulting per-trigger
event stream.

Dispatch is adapted from golaborate's fsm.Machine: a small, explicit state
check driving a handful of named transitions, rather than a dynamic
dispatch table, because the branching here is the four-path decision tree
of spec.md §4.5 itself, not an open-ended set of states.
*/
package sweep

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/psi46/pxarcore/config"
	"github.com/psi46/pxarcore/dut"
	"github.com/psi46/pxarcore/hal"
	"github.com/psi46/pxarcore/program"
)

// Flags is the bit-flag word threaded through the Loop Expander, the
// Repacker, and the HAL dispatch of spec.md §4.5 and §4.7.
type Flags uint8

const (
	// ForceSerial disables the multi-ROC/multi-pixel parallel fast path
	// even when more than one ROC is enabled.
	ForceSerial Flags = 1 << iota

	// ForceUnmasked skips the push-trims-then-mask-whole-DUT bracket
	// Run otherwise wraps around every sweep.
	ForceUnmasked

	// CheckOrder asks the Repacker to validate that events arrived in
	// raster (column-major) order; consumed by package repack, not here.
	CheckOrder

	// NoSort asks the Repacker to skip its sort-by-DAC-then-(roc,col,row)
	// pass; consumed by package repack, not here.
	NoSort

	// RisingEdge selects the rising-edge search direction for a
	// threshold map; consumed by package repack, not here.
	RisingEdge
)

// Has reports whether bit is set in f.
func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// ErrNoEntryPoint is returned when neither the parallel nor the serial
// path has a usable HAL entry point for the requested flags (spec.md
// §4.5's "neither applicable" path: a critical error, empty output).
var ErrNoEntryPoint = errors.New("sweep: no usable hal entry point for this flag combination")

// expandOnce runs the four-path selection algorithm of spec.md §4.5 once,
// for the DAC value(s) already baked into p. beforeRoc, if non-nil, is
// invoked immediately before every serial per-ROC HAL call (used by Run to
// implement the FORCE_SERIAL+FORCE_UNMASKED "trim, then test" per-ROC
// bracket).
func expandOnce(d *dut.Dut, ops hal.SweepOps, flags Flags, p hal.Params, beforeRoc func(i2c int) error) ([]dut.Event, error) {
	enabledRocs := d.EnabledRocIndices()
	parallelEligible := len(enabledRocs) > 1 && !flags.Has(ForceSerial)

	if parallelEligible {
		if d.AllPixelsEnabled() && ops.MultiRoc != nil {
			return ops.MultiRoc(d.EnabledRocI2CAddresses(), p)
		}
		if ops.MultiPixel != nil {
			return runMultiPixel(d, ops, enabledRocs, p)
		}
	} else {
		if d.AllPixelsEnabled() && ops.Roc != nil {
			return runSerialRoc(d, ops, enabledRocs, p, beforeRoc)
		}
		if ops.Pixel != nil {
			return runSerialPixel(d, ops, enabledRocs, p, beforeRoc)
		}
	}

	return nil, ErrNoEntryPoint
}

// runMultiPixel assumes, per spec.md §4.5, that every enabled ROC shares
// the same enabled pixel set: it iterates the pixel list of the first
// enabled ROC, driving every ROC's same (column,row) pixel with one call.
func runMultiPixel(d *dut.Dut, ops hal.SweepOps, enabledRocs []int, p hal.Params) ([]dut.Event, error) {
	i2cs := d.EnabledRocI2CAddresses()
	var out []dut.Event
	for _, pix := range d.EnabledPixels(enabledRocs[0]) {
		events, err := ops.MultiPixel(i2cs, pix.Column, pix.Row, p)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
	}
	return out, nil
}

func runSerialRoc(d *dut.Dut, ops hal.SweepOps, enabledRocs []int, p hal.Params, beforeRoc func(i2c int) error) ([]dut.Event, error) {
	var out []dut.Event
	for _, rocIdx := range enabledRocs {
		i2c := d.Rocs[rocIdx].I2CAddress
		if beforeRoc != nil {
			if err := beforeRoc(i2c); err != nil {
				return nil, err
			}
		}
		events, err := ops.Roc(i2c, p)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
	}
	return out, nil
}

func runSerialPixel(d *dut.Dut, ops hal.SweepOps, enabledRocs []int, p hal.Params, beforeRoc func(i2c int) error) ([]dut.Event, error) {
	var out []dut.Event
	for _, rocIdx := range enabledRocs {
		i2c := d.Rocs[rocIdx].I2CAddress
		if beforeRoc != nil {
			if err := beforeRoc(i2c); err != nil {
				return nil, err
			}
		}
		for _, pix := range d.EnabledPixels(rocIdx) {
			events, err := ops.Pixel(i2c, pix.Column, pix.Row, p)
			if err != nil {
				return nil, err
			}
			out = append(out, events...)
		}
	}
	return out, nil
}

// Axis is one swept DAC: its name and the ordered list of values to drive
// it through. A 1-D DAC scan passes one Axis; a 2-D DAC×DAC scan passes
// two, outer-slowest.
type Axis struct {
	Dac    string
	Values []int
}

// AxisRange builds an Axis stepping dacName from min to max (inclusive)
// in step-sized increments, the same range package repack expects to
// zip its DacScan/DacDacScan output against (spec.md §4.8's expected
// count ⌊(max−min)/step⌋+1).
func AxisRange(dacName string, min, max, step int) Axis {
	if step <= 0 {
		return Axis{Dac: dacName}
	}
	n := (max-min)/step + 1
	if n <= 0 {
		return Axis{Dac: dacName}
	}
	values := make([]int, n)
	for i := range values {
		values[i] = min + i*step
	}
	return Axis{Dac: dacName, Values: values}
}

// Run is the full sweep orchestrator: it brackets the requested axes with
// the mask discipline of spec.md §4.5, steps every (nested) combination of
// axis values through expandOnce, and restores every swept DAC to its
// pre-sweep value on every enabled ROC before returning (spec.md §8:
// "after any sweep, the swept DAC is restored to its pre-sweep value on
// every enabled ROC").
//
// Zero axes runs expandOnce exactly once against the DUT's current DAC
// values (a plain efficiency/pulse-height loop with no DAC swept).
func Run(d *dut.Dut, prog hal.Programmer, ops hal.SweepOps, flags Flags, axes []Axis, nTrig int) ([]dut.Event, error) {
	if len(axes) > 2 {
		return nil, fmt.Errorf("sweep: at most two DAC axes supported, got %d", len(axes))
	}

	originals, err := captureOriginals(d, axes)
	if err != nil {
		return nil, err
	}

	beforeRoc, err := bracketBefore(d, prog, flags)
	if err != nil {
		return nil, err
	}

	events, err := runAxes(d, prog, ops, flags, axes, nTrig, beforeRoc)

	restoreErr := restoreOriginals(d, prog, originals)

	if err := bracketAfter(d, prog, flags); err != nil && restoreErr == nil {
		restoreErr = err
	}

	if err != nil {
		return nil, err
	}
	return events, restoreErr
}

// captureOriginals records, for every axis and every enabled ROC, the DAC
// value in place before the sweep begins.
func captureOriginals(d *dut.Dut, axes []Axis) (map[string]map[int]int, error) {
	originals := make(map[string]map[int]int, len(axes))
	for _, ax := range axes {
		perRoc := make(map[int]int, len(d.Rocs))
		for _, rocIdx := range d.EnabledRocIndices() {
			v, ok := d.DacValue(rocIdx, ax.Dac)
			if !ok {
				return nil, fmt.Errorf("sweep: roc %d has no dac %q", rocIdx, ax.Dac)
			}
			perRoc[rocIdx] = v
		}
		originals[ax.Dac] = perRoc
	}
	return originals, nil
}

func restoreOriginals(d *dut.Dut, prog hal.Programmer, originals map[string]map[int]int) error {
	for name, perRoc := range originals {
		for rocIdx, v := range perRoc {
			if err := config.SetDAC(d, prog, rocIdx, name, v); err != nil {
				return errors.Wrapf(err, "sweep: restoring %s on roc %d", name, rocIdx)
			}
		}
	}
	return nil
}

// bracketBefore applies the "mask discipline around a sweep" of spec.md
// §4.5 and returns the beforeRoc hook expandOnce should run per serial ROC
// call, if any.
func bracketBefore(d *dut.Dut, prog hal.Programmer, flags Flags) (func(i2c int) error, error) {
	switch {
	case !flags.Has(ForceUnmasked):
		if err := program.PushTrimsToNIOS(d, prog); err != nil {
			return nil, err
		}
		if err := program.MaskAll(d, prog, false); err != nil {
			return nil, err
		}
		return nil, nil

	case flags.Has(ForceSerial):
		// FORCE_UNMASKED && FORCE_SERIAL: per-ROC trim, then per-ROC test.
		return func(i2c int) error {
			return pushTrimsFor(d, prog, i2c)
		}, nil

	default:
		// FORCE_UNMASKED && !FORCE_SERIAL: trim the whole DUT once.
		return nil, program.PushTrimsToNIOS(d, prog)
	}
}

// bracketAfter re-masks the whole DUT once the sweep is done, unless
// FORCE_UNMASKED was requested.
func bracketAfter(d *dut.Dut, prog hal.Programmer, flags Flags) error {
	if flags.Has(ForceUnmasked) {
		return nil
	}
	return program.MaskAll(d, prog, false)
}

// pushTrimsFor uploads the trim table of a single ROC (identified by i2c
// address) to the HAL, the per-ROC variant program.PushTrimsToNIOS does
// not need since it always targets every enabled ROC at once.
func pushTrimsFor(d *dut.Dut, prog hal.Programmer, i2c int) error {
	for _, roc := range d.Rocs {
		if roc.I2CAddress != i2c {
			continue
		}
		trims := make([]hal.NIOSTrim, len(roc.Pixels))
		for i, pix := range roc.Pixels {
			trims[i] = hal.NIOSTrim{Column: pix.Column, Row: pix.Row, Trim: pix.Trim, Mask: pix.Mask}
		}
		return prog.PushTrimsToNIOS(i2c, trims)
	}
	return nil
}

// runAxes steps every combination of axis values (outer axis slowest),
// calling expandOnce at the innermost level and concatenating its output.
func runAxes(d *dut.Dut, prog hal.Programmer, ops hal.SweepOps, flags Flags, axes []Axis, nTrig int, beforeRoc func(i2c int) error) ([]dut.Event, error) {
	var p hal.Params
	p.NTrig = nTrig

	var recurse func(idx int) ([]dut.Event, error)
	recurse = func(idx int) ([]dut.Event, error) {
		if idx == len(axes) {
			return expandOnce(d, ops, flags, p, beforeRoc)
		}
		ax := axes[idx]
		var out []dut.Event
		for _, v := range ax.Values {
			for _, rocIdx := range d.EnabledRocIndices() {
				if err := config.SetDAC(d, prog, rocIdx, ax.Dac, v); err != nil {
					return nil, errors.Wrapf(err, "sweep: setting %s=%d on roc %d", ax.Dac, v, rocIdx)
				}
			}
			switch idx {
			case 0:
				p.Dac1, p.Dac1Value = ax.Dac, v
			case 1:
				p.Dac2, p.Dac2Value = ax.Dac, v
			}
			events, err := recurse(idx + 1)
			if err != nil {
				return nil, err
			}
			out = append(out, events...)
		}
		return out, nil
	}

	return recurse(0)
}
