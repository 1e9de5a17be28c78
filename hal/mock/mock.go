/*Package mock implements an in-memory HAL simulator used by the tests of
the packages that drive a HAL (and by every cmd/pxarctl subcommand) so the
Loop Expander, DAQ Controller, Event Condenser, and Repacker are all
exercisable without real
hardware -- the USB firmware, FPGA deserializer, and NIOS soft core spec.md
§1 puts out of scope.

The simulator generates a synthetic S-curve: each pixel has a hidden
threshold DAC value, and a trigger is a "hit" (value=1) once the swept DAC
reaches that threshold, and a miss (value=0, and so pruned from the event's
pixel list, matching a real ROC that only reports pixels with charge above
comparator threshold) otherwise. With no DAC swept (an empty Params.Dac1),
every pixel registers a hit. This is deliberately the simplest model
that makes spec.md §8's literal boundary scenarios (monotonic ADC curves,
threshold maps) reproducible in a test.
*/
package mock

import (
	"errors"
	"math/rand"
	"sync"

	"github.com/psi46/pxarcore/dut"
	"github.com/psi46/pxarcore/hal"
)

// Device is an in-memory stand-in for a DTB + module.
type Device struct {
	mu sync.Mutex

	D *dut.Dut

	// Threshold[i2c][column][row] is the hidden per-pixel threshold on
	// the "active" swept DAC. Pixels absent from the map default to
	// DefaultThreshold.
	Threshold map[int]map[[2]int]int

	// DefaultThreshold is used for any pixel not present in Threshold.
	DefaultThreshold int

	// Noise, if >0, randomly flips a hit to a miss (or vice versa) with
	// probability Noise/1000, to exercise variance computation in
	// pulse-height mode.
	Noise int

	// DAQ session state. The SweepOps functions keep none of their own:
	// they read the swept DAC value from the caller-supplied hal.Params.
	bufferUsed int
	bufferSize int
	running    bool
	triggerLoop bool
	pending    []dut.Event
	rng        *rand.Rand
}

// New returns a Device wired to d, with the given DTB buffer capacity
// (spec.md §6: "a compile-time constant... ~the DTB source-buffer
// capacity").
func New(d *dut.Dut, bufferSize int) *Device {
	return &Device{
		D:                d,
		Threshold:        make(map[int]map[[2]int]int),
		DefaultThreshold: 50,
		bufferSize:       bufferSize,
		rng:              rand.New(rand.NewSource(1)),
	}
}

// SetThreshold fixes the hidden threshold of one pixel.
func (dev *Device) SetThreshold(i2c, column, row, threshold int) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	m, ok := dev.Threshold[i2c]
	if !ok {
		m = make(map[[2]int]int)
		dev.Threshold[i2c] = m
	}
	m[[2]int{column, row}] = threshold
}

func (dev *Device) thresholdFor(i2c, column, row int) int {
	if m, ok := dev.Threshold[i2c]; ok {
		if t, ok := m[[2]int{column, row}]; ok {
			return t
		}
	}
	return dev.DefaultThreshold
}

func (dev *Device) hit(i2c, column, row int, p hal.Params) bool {
	h := p.Dac1 == "" || p.Dac1Value >= dev.thresholdFor(i2c, column, row)
	if dev.Noise > 0 {
		if dev.rng.Intn(1000) < dev.Noise {
			h = !h
		}
	}
	return h
}

// stamp finalizes an event's trailer from its pixel payload so
// Event.VerifyTrailer() passes by construction; a real DTB link can
// instead hand back a corrupted trailer to exercise the decoder-error
// counter (see daq.Controller.GetEventBuffer).
func stamp(ev dut.Event) dut.Event {
	ev.Trailer = dut.ComputeTrailerCRC(ev.Pixels)
	return ev
}

func (dev *Device) fireOne(i2c, column, row int, p hal.Params) dut.Event {
	ev := dut.Event{Header: 0xffb0}
	if dev.hit(i2c, column, row, p) {
		ev.Pixels = append(ev.Pixels, dut.Pixel{RocID: i2c, Column: column, Row: row, Value: 1})
	}
	return stamp(ev)
}

// Ops returns the SweepOps capability object backed by this device. All
// four entries are populated; callers wanting to exercise FORCE_SERIAL or
// a missing-entry path can null out fields of the returned struct.
func (dev *Device) Ops() hal.SweepOps {
	return hal.SweepOps{
		Pixel: func(i2c int, column, row int, p hal.Params) ([]dut.Event, error) {
			out := make([]dut.Event, 0, p.NTrig)
			for i := 0; i < p.NTrig; i++ {
				out = append(out, dev.fireOne(i2c, column, row, p))
			}
			return out, nil
		},
		MultiPixel: func(i2cs []int, column, row int, p hal.Params) ([]dut.Event, error) {
			out := make([]dut.Event, 0, p.NTrig)
			for i := 0; i < p.NTrig; i++ {
				ev := dut.Event{Header: 0xffb0}
				for _, i2c := range i2cs {
					if dev.hit(i2c, column, row, p) {
						ev.Pixels = append(ev.Pixels, dut.Pixel{RocID: i2c, Column: column, Row: row, Value: 1})
					}
				}
				out = append(out, stamp(ev))
			}
			return out, nil
		},
		Roc: func(i2c int, p hal.Params) ([]dut.Event, error) {
			pixels := dev.enabledPixelsFor(i2c)
			out := make([]dut.Event, 0, p.NTrig)
			for i := 0; i < p.NTrig; i++ {
				ev := dut.Event{Header: 0xffb0}
				for _, pc := range pixels {
					if dev.hit(i2c, pc.Column, pc.Row, p) {
						ev.Pixels = append(ev.Pixels, dut.Pixel{RocID: i2c, Column: pc.Column, Row: pc.Row, Value: 1})
					}
				}
				out = append(out, stamp(ev))
			}
			return out, nil
		},
		MultiRoc: func(i2cs []int, p hal.Params) ([]dut.Event, error) {
			out := make([]dut.Event, 0, p.NTrig)
			for i := 0; i < p.NTrig; i++ {
				ev := dut.Event{Header: 0xffb0}
				for _, i2c := range i2cs {
					for _, pc := range dev.enabledPixelsFor(i2c) {
						if dev.hit(i2c, pc.Column, pc.Row, p) {
							ev.Pixels = append(ev.Pixels, dut.Pixel{RocID: i2c, Column: pc.Column, Row: pc.Row, Value: 1})
						}
					}
				}
				out = append(out, stamp(ev))
			}
			return out, nil
		},
	}
}

func (dev *Device) enabledPixelsFor(i2c int) []dut.PixelConfig {
	for i, r := range dev.D.Rocs {
		if r.I2CAddress == i2c && r.Enable {
			return dev.D.EnabledPixels(i)
		}
	}
	return nil
}

// --- hal.Programmer ---

func (dev *Device) PowerOn() error  { return nil }
func (dev *Device) PowerOff() error { return nil }
func (dev *Device) SetHubID(id uint8) error {
	dev.D.HubID = id
	return nil
}
func (dev *Device) InitTBM(dacs map[int]int) error { return nil }
func (dev *Device) InitRoc(i2c int, deviceType string, dacs map[string]int) error {
	return nil
}
func (dev *Device) MaskAllPixels(i2c int) error { return nil }
func (dev *Device) SetPixelMaskTrim(i2c int, column, row int, mask bool, trim int) error {
	return nil
}
func (dev *Device) PushTrimsToNIOS(i2c int, trims []hal.NIOSTrim) error { return nil }

// SetRocDAC is a no-op here: the mock's SweepOps closures read the swept
// DAC value straight out of hal.Params on every call, rather than from any
// register state this device would otherwise hold.
func (dev *Device) SetRocDAC(i2c int, regID int, value int) error { return nil }

// --- hal.DaqSession ---

var errNotRunning = errors.New("mock: daq session not running")

func (dev *Device) DaqStart(deserPhase, nTbms, bufferSize int) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.running = true
	dev.bufferUsed = 0
	if bufferSize > 0 {
		dev.bufferSize = bufferSize
	}
	dev.pending = nil
	return nil
}

func (dev *Device) DaqStatus() (filled, buffer int, err error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if !dev.running {
		return 0, dev.bufferSize, errNotRunning
	}
	return dev.bufferUsed, dev.bufferSize, nil
}

func (dev *Device) DaqTrigger(n int, period uint16) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if !dev.running {
		return errNotRunning
	}
	for i := 0; i < n; i++ {
		dev.pending = append(dev.pending, stamp(dut.Event{Header: 0xffb0}))
		dev.bufferUsed++
		if dev.bufferUsed > dev.bufferSize {
			dev.bufferUsed = dev.bufferSize
		}
	}
	return nil
}

func (dev *Device) DaqTriggerLoopStart(period uint16) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if !dev.running {
		return errNotRunning
	}
	dev.triggerLoop = true
	return nil
}

func (dev *Device) DaqTriggerLoopStop() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.triggerLoop = false
	return nil
}

func (dev *Device) DaqGetBuffer() ([]byte, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	n := len(dev.pending)
	dev.bufferUsed = 0
	return make([]byte, n), nil
}

func (dev *Device) DaqGetRawEventBuffer() ([][]byte, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	out := make([][]byte, len(dev.pending))
	dev.bufferUsed = 0
	return out, nil
}

func (dev *Device) DaqGetEventBuffer() ([]dut.Event, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	out := dev.pending
	dev.pending = nil
	dev.bufferUsed = 0
	return out, nil
}

func (dev *Device) DaqGetEvent() (dut.Event, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if len(dev.pending) == 0 {
		return dut.Event{}, errors.New("mock: no pending events")
	}
	ev := dev.pending[0]
	dev.pending = dev.pending[1:]
	if dev.bufferUsed > 0 {
		dev.bufferUsed--
	}
	return ev, nil
}

func (dev *Device) DaqGetRawEvent() ([]byte, error) {
	_, err := dev.DaqGetEvent()
	if err != nil {
		return nil, err
	}
	return []byte{0}, nil
}

func (dev *Device) DaqStop() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.running = false
	dev.triggerLoop = false
	return nil
}

func (dev *Device) EnableAllColumns() error  { return nil }
func (dev *Device) DisableAllColumns() error { return nil }
func (dev *Device) SetCalibrateBits(on bool) error {
	dev.D.SetAllCalibrate(on)
	return nil
}
