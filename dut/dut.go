/*Package dut holds the in-memory model of the device under test: a hybrid
pixel module made of one or more Readout Chips (ROCs) and zero, one, or two
Token Bit Managers (TBMs), plus the linear event stream the HAL produces
when that module is read out.

Mutation is restricted to the methods in this file and the validated paths
in package config; external callers only ever see the model through the
read-only query operations specified in spec.md §4.2.
*/
package dut

import "fmt"

// MaxColumn and MaxRow bound the pixel address space of a single ROC
// (spec.md §6): 52 columns by 80 rows, 4160 pixels.
const (
	MaxColumn = 51
	MaxRow    = 79

	// MaxTrim is the largest representable per-pixel trim value (4 bits).
	MaxTrim = 15

	// MaxPixelsPerRoc bounds the pixel list of a single ROC.
	MaxPixelsPerRoc = (MaxColumn + 1) * (MaxRow + 1)

	// MaxPgEntries bounds the pattern-generator program length.
	MaxPgEntries = 256
)

// PixelConfig is the static per-pixel configuration: address, trim, and
// the enable/mask bits.
type PixelConfig struct {
	Column int
	Row    int
	Trim   int
	Enable bool
	Mask   bool
}

// RocConfig is a single Readout Chip: its device type, I2C bus address,
// enable bit, DAC register map, and pixel list.
type RocConfig struct {
	Type       string
	I2CAddress int
	Enable     bool
	Dacs       map[string]int
	Pixels     []PixelConfig
}

// TbmConfig is a single TBM core (alpha or beta); a physical TBM chip is
// always represented by two consecutive TbmConfig entries, synthesising
// the second from the first if the caller only supplied one (spec.md §3).
type TbmConfig struct {
	Type   string
	Enable bool
	Dacs   map[int]int // keyed by encoded register byte, see dict.EncodeTBMRegister
}

// PgEntry is one pattern-generator program step: an OR-combined signal
// word and the delay (in clock cycles) before the next entry. The final
// entry's Delay must be 0 (the PG stop marker).
type PgEntry struct {
	Pattern uint16
	Delay   uint8
}

// Dut is the full device-under-test model (spec.md §3).
type Dut struct {
	HubID     uint8
	SigDelays map[string]uint8
	PgSetup   []PgEntry
	PgSum     uint32

	Va, Vd, Ia, Id float64

	Tbms []TbmConfig
	Rocs []RocConfig

	Initialized bool
	Programmed  bool

	// calibrateOn tracks whether calibrate bits are currently asserted
	// module-wide; the core does not model per-pixel calibrate state
	// beyond this flag, which is set around DAQ start/stop (spec.md §4.6).
	calibrateOn bool
}

// New returns an empty, uninitialized Dut with defaults matching spec.md
// §4.3 ("checkPower... defaults {2.5, 3.0, 3.0, 3.0}").
func New() *Dut {
	return &Dut{
		SigDelays: make(map[string]uint8),
		Va:        2.5,
		Vd:        3.0,
		Ia:        3.0,
		Id:        3.0,
	}
}

// ErrDuplicatePixel is returned when two pixels in one ROC share (column,row).
type ErrDuplicatePixel struct {
	RocIndex     int
	Column, Row  int
}

func (e ErrDuplicatePixel) Error() string {
	return fmt.Sprintf("roc %d: duplicate pixel at (%d,%d)", e.RocIndex, e.Column, e.Row)
}

// ErrPixelOutOfRange is returned when a pixel address falls outside
// [0,MaxColumn]x[0,MaxRow].
type ErrPixelOutOfRange struct {
	RocIndex    int
	Column, Row int
}

func (e ErrPixelOutOfRange) Error() string {
	return fmt.Sprintf("roc %d: pixel (%d,%d) out of range [0,%d]x[0,%d]", e.RocIndex, e.Column, e.Row, MaxColumn, MaxRow)
}

// ErrDuplicateI2C is returned when two ROCs claim the same i2c_address.
type ErrDuplicateI2C struct {
	Address int
}

func (e ErrDuplicateI2C) Error() string {
	return fmt.Sprintf("duplicate roc i2c address %d", e.Address)
}

// ValidatePixels checks the invariants of spec.md §3 for one ROC's pixel
// list: in-range addresses and no duplicate (column,row) pairs. It does
// not mutate anything; it is called by package config during initDUT.
func ValidatePixels(rocIndex int, pixels []PixelConfig) error {
	seen := make(map[[2]int]struct{}, len(pixels))
	for _, p := range pixels {
		if p.Column < 0 || p.Column > MaxColumn || p.Row < 0 || p.Row > MaxRow {
			return ErrPixelOutOfRange{RocIndex: rocIndex, Column: p.Column, Row: p.Row}
		}
		key := [2]int{p.Column, p.Row}
		if _, dup := seen[key]; dup {
			return ErrDuplicatePixel{RocIndex: rocIndex, Column: p.Column, Row: p.Row}
		}
		seen[key] = struct{}{}
	}
	return nil
}

// AssignI2CAddresses sets every ROC's I2CAddress to its zero-based position
// in d.Rocs, the "implicit i2c_address" rule of spec.md §3. It is invoked
// once at init time; any addresses a caller supplied are overwritten.
func (d *Dut) AssignI2CAddresses() error {
	seen := make(map[int]struct{}, len(d.Rocs))
	for i := range d.Rocs {
		d.Rocs[i].I2CAddress = i
		if _, dup := seen[i]; dup {
			return ErrDuplicateI2C{Address: i}
		}
		seen[i] = struct{}{}
	}
	return nil
}

// --- C2 query operations (spec.md §4.2); all read-only. ---

// EnabledRocIndices returns the positions in d.Rocs of every enabled ROC.
func (d *Dut) EnabledRocIndices() []int {
	var out []int
	for i, r := range d.Rocs {
		if r.Enable {
			out = append(out, i)
		}
	}
	return out
}

// EnabledRocI2CAddresses returns the i2c_address of every enabled ROC, in
// ROC-list order.
func (d *Dut) EnabledRocI2CAddresses() []int {
	idx := d.EnabledRocIndices()
	out := make([]int, len(idx))
	for i, rocIdx := range idx {
		out[i] = d.Rocs[rocIdx].I2CAddress
	}
	return out
}

// EnabledTbms returns every enabled TBM core config.
func (d *Dut) EnabledTbms() []TbmConfig {
	var out []TbmConfig
	for _, t := range d.Tbms {
		if t.Enable {
			out = append(out, t)
		}
	}
	return out
}

// EnabledPixels returns the enabled (not necessarily unmasked) pixels of
// the ROC at rocIndex.
func (d *Dut) EnabledPixels(rocIndex int) []PixelConfig {
	if rocIndex < 0 || rocIndex >= len(d.Rocs) {
		return nil
	}
	var out []PixelConfig
	for _, p := range d.Rocs[rocIndex].Pixels {
		if p.Enable {
			out = append(out, p)
		}
	}
	return out
}

// DacValue returns the current value of a named DAC register on the ROC at
// rocIndex, and whether that register is present in its DAC map.
func (d *Dut) DacValue(rocIndex int, name string) (int, bool) {
	if rocIndex < 0 || rocIndex >= len(d.Rocs) {
		return 0, false
	}
	v, ok := d.Rocs[rocIndex].Dacs[name]
	return v, ok
}

// SetDacValue assigns v to the named DAC register on the ROC at rocIndex.
func (d *Dut) SetDacValue(rocIndex int, name string, v int) {
	if rocIndex < 0 || rocIndex >= len(d.Rocs) {
		return
	}
	if d.Rocs[rocIndex].Dacs == nil {
		d.Rocs[rocIndex].Dacs = make(map[string]int)
	}
	d.Rocs[rocIndex].Dacs[name] = v
}

// MaskedPixelCount returns the number of masked pixels across every ROC
// (enabled or not).
func (d *Dut) MaskedPixelCount() int {
	n := 0
	for _, r := range d.Rocs {
		for _, p := range r.Pixels {
			if p.Mask {
				n++
			}
		}
	}
	return n
}

// AllPixelsEnabled reports whether every pixel of every enabled ROC is
// enabled. This backs the Loop Expander's "all pixels enabled?" fast path
// (spec.md §4.5).
func (d *Dut) AllPixelsEnabled() bool {
	for _, r := range d.Rocs {
		if !r.Enable {
			continue
		}
		for _, p := range r.Pixels {
			if !p.Enable {
				return false
			}
		}
	}
	return true
}

// SetAllMasks sets the Mask bit of every pixel on every enabled ROC to v.
func (d *Dut) SetAllMasks(v bool) {
	for i := range d.Rocs {
		if !d.Rocs[i].Enable {
			continue
		}
		for j := range d.Rocs[i].Pixels {
			d.Rocs[i].Pixels[j].Mask = v
		}
	}
}

// SetAllCalibrate records whether calibrate bits are currently asserted
// module-wide; the DAQ Controller flips this around start/stop, and
// hal/mock's SetCalibrateBits mirrors its HAL call into it.
func (d *Dut) SetAllCalibrate(v bool) {
	d.calibrateOn = v
}

// CalibrateOn reports the last value passed to SetAllCalibrate.
func (d *Dut) CalibrateOn() bool {
	return d.calibrateOn
}
