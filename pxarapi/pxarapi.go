/*Package pxarapi is the sole owner of a dut.Dut and its HAL connections
(Design Notes §9: "a rewrite should make the API the sole owner of DUT and
HAL; all cross-references from components back to the DUT become borrowed
references with lifetimes bounded by an API call"). It wires C1–C8 into
the full data-flow pipeline of spec.md §2: caller → validate → update
model → program HAL → expand sweep → condense → repack → caller, plus the
DAQ Controller as the alternate raw/decoded-stream path.

This is the layer cmd/pxarctl and statushttp both sit on top of.
*/
package pxarapi

import (
	"log"

	"github.com/psi46/pxarcore/condense"
	"github.com/psi46/pxarcore/config"
	"github.com/psi46/pxarcore/daq"
	"github.com/psi46/pxarcore/dut"
	"github.com/psi46/pxarcore/hal"
	"github.com/psi46/pxarcore/program"
	"github.com/psi46/pxarcore/repack"
	"github.com/psi46/pxarcore/sweep"
)

// API is the top-level handle a test driver holds: one DUT model, one
// HAL connection, and the DAQ Controller built on top of it.
type API struct {
	D    *dut.Dut
	prog hal.Programmer
	ops  hal.SweepOps
	Daq  *daq.Controller
}

// New constructs an API around an already-open HAL connection. d is the
// (typically freshly dut.New()'d) model every HAL implementation passed
// in must already be wired against, e.g. hal/mock.New(d, ...); prog
// drives programming and per-ROC DAC writes; sess drives the DAQ
// Controller; ops is the sweep capability object the Loop Expander
// dispatches through. deserPhase and bufferSize are passed through to
// every daq.Controller.Start call.
func New(d *dut.Dut, prog hal.Programmer, sess hal.DaqSession, ops hal.SweepOps, deserPhase, bufferSize int) *API {
	return &API{
		D:    d,
		prog: prog,
		ops:  ops,
		Daq:  daq.New(d, prog, sess, deserPhase, bufferSize),
	}
}

// InitDUT validates spec and installs it as the API's device model
// (package config's C3, spec.md §4.3).
func (a *API) InitDUT(spec config.DutSpec) error {
	return config.InitDUT(a.D, spec)
}

// Program flushes the current model to the HAL (package program's C4,
// spec.md §4.4).
func (a *API) Program() error {
	return program.ProgramDUT(a.D, a.prog)
}

// PowerOff powers the HAL down while preserving the model (spec.md §3
// Lifecycle).
func (a *API) PowerOff() error {
	return program.PowerOff(a.D, a.prog)
}

// SetDAC is the validated post-init mutation path for a single ROC's DAC
// register (spec.md §8 round-trip).
func (a *API) SetDAC(rocIndex int, name string, value int) error {
	return config.SetDAC(a.D, a.prog, rocIndex, name, value)
}

// Sweep runs the Loop Expander directly, for callers that want the raw
// per-trigger event stream without condensing or repacking.
func (a *API) Sweep(flags sweep.Flags, axes []sweep.Axis, nTrig int) ([]dut.Event, error) {
	return sweep.Run(a.D, a.prog, a.ops, flags, axes, nTrig)
}

// GetEfficiencyMap runs the no-DAC-sweep "Map" pipeline: sweep, condense
// in efficiency mode, repack as a flat pixel list (spec.md §4.8's "Map").
func (a *API) GetEfficiencyMap(nTrig int, flags sweep.Flags) ([]dut.Pixel, error) {
	events, err := a.Sweep(flags, nil, nTrig)
	if err != nil {
		return nil, err
	}
	groups, err := condense.CondenseTriggers(events, nTrig, condense.Efficiency)
	if err != nil {
		return nil, err
	}
	return repack.Map(groups, flags), nil
}

// GetPulseheightVsDAC runs a 1-D DAC scan in pulse-height mode: sweep
// dacName from dacMin to dacMax, condense each point's bursts into
// mean/variance, and repack into an ordered (dac, pixels) sequence
// (spec.md §8 boundary scenario 5).
func (a *API) GetPulseheightVsDAC(dacName string, dacMin, dacMax, dacStep, nTrig int, flags sweep.Flags) ([]repack.DacPoint, error) {
	dacMin, dacMax = swapIfNeeded(dacMin, dacMax)
	axis := sweep.AxisRange(dacName, dacMin, dacMax, dacStep)
	events, err := a.Sweep(flags, []sweep.Axis{axis}, nTrig)
	if err != nil {
		return nil, err
	}
	groups, err := condense.CondenseTriggers(events, nTrig, condense.PulseHeight)
	if err != nil {
		return nil, err
	}
	return repack.DacScan(groups, dacMin, dacMax, dacStep, flags)
}

// GetEfficiencyVsDAC is GetPulseheightVsDAC's efficiency-mode counterpart.
func (a *API) GetEfficiencyVsDAC(dacName string, dacMin, dacMax, dacStep, nTrig int, flags sweep.Flags) ([]repack.DacPoint, error) {
	dacMin, dacMax = swapIfNeeded(dacMin, dacMax)
	axis := sweep.AxisRange(dacName, dacMin, dacMax, dacStep)
	events, err := a.Sweep(flags, []sweep.Axis{axis}, nTrig)
	if err != nil {
		return nil, err
	}
	groups, err := condense.CondenseTriggers(events, nTrig, condense.Efficiency)
	if err != nil {
		return nil, err
	}
	return repack.DacScan(groups, dacMin, dacMax, dacStep, flags)
}

// GetEfficiencyVsDacDac is the 2-D DAC×DAC counterpart of
// GetEfficiencyVsDAC.
func (a *API) GetEfficiencyVsDacDac(dac1, dac2 string, dac1Min, dac1Max, dac1Step, dac2Min, dac2Max, dac2Step, nTrig int, flags sweep.Flags) ([]repack.Dac1Point, error) {
	dac1Min, dac1Max = swapIfNeeded(dac1Min, dac1Max)
	dac2Min, dac2Max = swapIfNeeded(dac2Min, dac2Max)
	axes := []sweep.Axis{
		sweep.AxisRange(dac1, dac1Min, dac1Max, dac1Step),
		sweep.AxisRange(dac2, dac2Min, dac2Max, dac2Step),
	}
	events, err := a.Sweep(flags, axes, nTrig)
	if err != nil {
		return nil, err
	}
	groups, err := condense.CondenseTriggers(events, nTrig, condense.Efficiency)
	if err != nil {
		return nil, err
	}
	return repack.DacDacScan(groups, dac1Min, dac1Max, dac1Step, dac2Min, dac2Max, dac2Step, flags)
}

// GetThresholdMap runs a 1-D efficiency DAC scan and extracts, per pixel,
// the DAC value whose measured efficiency is closest to
// threshold = ceil(nTriggers * levelPercent / 100), searching in the
// direction flags.RisingEdge selects (spec.md §8 boundary scenario 6).
func (a *API) GetThresholdMap(dacName string, dacMin, dacMax, dacStep, nTrig, levelPercent int, flags sweep.Flags) ([]repack.ThresholdEntry, error) {
	dacMin, dacMax = swapIfNeeded(dacMin, dacMax)
	axis := sweep.AxisRange(dacName, dacMin, dacMax, dacStep)
	events, err := a.Sweep(flags, []sweep.Axis{axis}, nTrig)
	if err != nil {
		return nil, err
	}
	groups, err := condense.CondenseTriggers(events, nTrig, condense.Efficiency)
	if err != nil {
		return nil, err
	}
	return repack.ThresholdMap(groups, dacMin, dacMax, dacStep, nTrig, levelPercent, flags)
}

// GetThresholdVsDac is GetThresholdMap's 2-D counterpart, bucketed by
// dac2 (spec.md §4.8's "Threshold DAC scan").
func (a *API) GetThresholdVsDac(dac1, dac2 string, dac1Min, dac1Max, dac1Step, dac2Min, dac2Max, dac2Step, nTrig, levelPercent int, flags sweep.Flags) ([]repack.ThresholdBucket, error) {
	dac1Min, dac1Max = swapIfNeeded(dac1Min, dac1Max)
	dac2Min, dac2Max = swapIfNeeded(dac2Min, dac2Max)
	axes := []sweep.Axis{
		sweep.AxisRange(dac1, dac1Min, dac1Max, dac1Step),
		sweep.AxisRange(dac2, dac2Min, dac2Max, dac2Step),
	}
	events, err := a.Sweep(flags, axes, nTrig)
	if err != nil {
		return nil, err
	}
	groups, err := condense.CondenseTriggers(events, nTrig, condense.Efficiency)
	if err != nil {
		return nil, err
	}
	return repack.ThresholdDacScan(groups, dac1Min, dac1Max, dac1Step, dac2Min, dac2Max, dac2Step, nTrig, levelPercent, flags)
}

// swapIfNeeded auto-swaps an inverted (min,max) DAC range with a warning,
// per spec.md §8 boundary scenario 5 ("bounds auto-swap if min>max with a
// warning").
func swapIfNeeded(min, max int) (int, int) {
	if min > max {
		log.Printf("warning: dac range min %d > max %d, swapping", min, max)
		return max, min
	}
	return min, max
}
