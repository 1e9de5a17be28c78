/*Package hal defines the capability boundary between the pxarcore test
orchestration layer and the hardware abstraction layer (HAL) underneath it
-- the USB firmware, FPGA deserializer, and NIOS soft core spec.md §1
explicitly puts out of scope.

Design Notes §9 calls for re-expressing the source's member-function-
pointer dispatch as "a capability object exposing four operations, with
any of them optionally absent". SweepOps is that object: its four fields
are nil-able function values, and package sweep's Run (through its
expandOnce helper) selects among them exactly as spec.md §4.5 describes.

Two implementations live under this package: hal/mock (an in-memory
simulator the tests of HAL-driving packages run against) and hal/dtbusb (a
gousb-based real transport to a USB-attached Digital Test Board).
*/
package hal

import "github.com/psi46/pxarcore/dut"

// Params is the parameter bundle passed down to a sweep's HAL entry point:
// the DAC(s) being swept and their current value(s), and the number of
// triggers to fire per sweep point. Zero, one, or two DACs may be active
// (plain loop vs. 1-D vs. 2-D DAC scan).
type Params struct {
	Dac1      string
	Dac1Value int
	Dac2      string
	Dac2Value int
	NTrig     int
}

// PixelFn drives a single pixel on a single ROC.
type PixelFn func(i2c int, column, row int, p Params) ([]dut.Event, error)

// MultiPixelFn drives the same (column, row) pixel across several ROCs at
// once (spec.md §4.5: "assumes all enabled ROCs share the same enabled
// pixel set").
type MultiPixelFn func(i2cs []int, column, row int, p Params) ([]dut.Event, error)

// RocFn drives every enabled pixel of a single ROC.
type RocFn func(i2c int, p Params) ([]dut.Event, error)

// MultiRocFn drives every enabled pixel of several ROCs at once.
type MultiRocFn func(i2cs []int, p Params) ([]dut.Event, error)

// SweepOps is the capability object the Loop Expander (package sweep)
// selects among. Any field may be nil, meaning that execution strategy is
// unavailable for the test being run (spec.md's Open Question: the
// DAC-by-DAC "all pixels" entry is deliberately left nil in threshold
// mode, "would take years").
type SweepOps struct {
	Pixel      PixelFn
	MultiPixel MultiPixelFn
	Roc        RocFn
	MultiRoc   MultiRocFn
}

// Programmer is the HAL surface the Programmer component (package program)
// drives: powering the board, hub id, and per-chip init.
type Programmer interface {
	PowerOn() error
	PowerOff() error
	SetHubID(id uint8) error
	InitTBM(dacs map[int]int) error
	InitRoc(i2c int, deviceType string, dacs map[string]int) error
	MaskAllPixels(i2c int) error
	SetPixelMaskTrim(i2c int, column, row int, mask bool, trim int) error
	PushTrimsToNIOS(i2c int, trims []NIOSTrim) error

	// SetRocDAC writes a single already-clamped register value to one
	// ROC, the operation package config's SetDAC drives mid-sweep (spec.md
	// §8 round-trip: "setDAC(name,v); getDAC(name) == min(v, size(name))").
	SetRocDAC(i2c int, regID int, value int) error
}

// NIOSTrim is one pixel's trim/mask upload entry for the soft-core bulk
// trim table (spec.md §4.4).
type NIOSTrim struct {
	Column, Row int
	Trim        int
	Mask        bool
}

// DaqSession is the HAL surface the DAQ Controller (package daq) drives.
type DaqSession interface {
	// DaqStart clears DAQ state and arms the deserializer/buffer.
	DaqStart(deserPhase int, nEnabledTbms int, bufferSize int) error

	// DaqStatus reports current fill level (filled/buffer) of the DTB's
	// bounded source buffer.
	DaqStatus() (filled, buffer int, err error)

	// DaqTrigger fires n triggers spaced period clock cycles apart.
	DaqTrigger(n int, period uint16) error

	// DaqTriggerLoopStart/Stop run/halt the free-running trigger
	// generator at the given period.
	DaqTriggerLoopStart(period uint16) error
	DaqTriggerLoopStop() error

	// DaqGetBuffer drains the raw byte buffer accumulated since the last
	// drain call.
	DaqGetBuffer() ([]byte, error)

	// DaqGetRawEventBuffer drains undecoded per-trigger frames.
	DaqGetRawEventBuffer() ([][]byte, error)

	// DaqGetEventBuffer drains and decodes every pending event.
	DaqGetEventBuffer() ([]dut.Event, error)

	// DaqGetEvent drains and decodes a single pending event.
	DaqGetEvent() (dut.Event, error)

	// DaqGetRawEvent drains a single undecoded per-trigger frame.
	DaqGetRawEvent() ([]byte, error)

	// DaqStop halts triggering and returns the session to idle.
	DaqStop() error

	// EnableAllColumns/DisableAllColumns toggle column readout on every ROC,
	// part of the start/stop bracket (spec.md §4.6).
	EnableAllColumns() error
	DisableAllColumns() error

	// SetCalibrateBits toggles the calibrate bit of every enabled pixel.
	SetCalibrateBits(on bool) error
}

// ReadbackValue is a stub matching spec.md §9's open question ("getReadbackValue
// is a stub returning -1; intended semantics unknown"). It is kept as a
// named function, not inlined at call sites, so the one place that cares
// is easy to find.
func ReadbackValue(_ Programmer, _ string) int {
	return -1
}
