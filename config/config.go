/*Package config implements the Configuration Validator (spec.md §4.3): it
verifies caller-supplied registers, power limits, DTB delays, and
pattern-generator programs, clamping and warning where the spec calls for
soft correction and returning InvalidConfig where it does not.

Every exported function that takes a *dut.Dut mutates it on success, the way the teacher's generichttp handlers decode a request body
and then call straight through to the device; there is no separate "apply"
step.
*/
package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/pkg/errors"

	"github.com/psi46/pxarcore/dict"
	"github.com/psi46/pxarcore/dut"
	"github.com/psi46/pxarcore/hal"
)

// InvalidConfig is the fatal, init-time error taxonomy of spec.md §7.
// Validators return it (optionally wrapped via github.com/pkg/errors for
// call-site context) for unrecoverable input; everything else degrades
// gracefully per the taxonomy.
type InvalidConfig struct {
	Reason string
}

func (e *InvalidConfig) Error() string {
	return "invalid config: " + e.Reason
}

func invalid(format string, args ...interface{}) error {
	return &InvalidConfig{Reason: fmt.Sprintf(format, args...)}
}

// RegisterKind selects which dictionary VerifyRegister resolves a name
// against.
type RegisterKind int

const (
	RocDACKind RegisterKind = iota
	TbmRegisterKind
	DtbDelayKind
)

func (k RegisterKind) dictionary() interface {
	Lookup(string) (dict.Register, bool)
} {
	switch k {
	case RocDACKind:
		return dict.RocDAC
	case TbmRegisterKind:
		return dict.TbmRegister
	case DtbDelayKind:
		return dict.DtbDelay
	default:
		return dict.RocDAC
	}
}

// VerifyRegister resolves name (case-insensitively) in the dictionary
// selected by kind, clamping value to the register's size (a soft warning)
// or returning InvalidConfig if name is unknown.
func VerifyRegister(kind RegisterKind, name string, value int) (id int, clamped int, err error) {
	reg, ok := kind.dictionary().Lookup(name)
	if !ok {
		return dict.NotFound, 0, invalid("unknown register name %q", name)
	}
	clamped = value
	if clamped > reg.Size {
		log.Printf("warning: register %q value %d exceeds size %d, clamping", name, value, reg.Size)
		clamped = reg.Size
	}
	if clamped < 0 {
		log.Printf("warning: register %q value %d below 0, clamping", name, value)
		clamped = 0
	}
	return reg.ID, clamped, nil
}

// SetDAC is the validated mutation path for changing one ROC's DAC value
// after initialization, the entry point package sweep drives while
// stepping a DAC scan (spec.md §8 round-trip: "setDAC(name,v); getDAC(name)
// == min(v, size(name))"). It clamps via VerifyRegister, writes d, and pushes
// the clamped value to the HAL.
func SetDAC(d *dut.Dut, p hal.Programmer, rocIndex int, name string, value int) error {
	if rocIndex < 0 || rocIndex >= len(d.Rocs) {
		return invalid("setDAC: roc index %d out of range", rocIndex)
	}
	id, clamped, err := VerifyRegister(RocDACKind, name, value)
	if err != nil {
		return errors.Wrapf(err, "setDAC: %s", name)
	}
	if err := p.SetRocDAC(d.Rocs[rocIndex].I2CAddress, id, clamped); err != nil {
		return err
	}
	d.SetDacValue(rocIndex, strings.ToLower(name), clamped)
	return nil
}

// defaultPower mirrors spec.md §4.3's documented defaults.
var defaultPower = map[string]float64{
	"va": 2.5,
	"vd": 3.0,
	"ia": 3.0,
	"id": 3.0,
}

// minPower is the floor below which a power setting is considered fatal
// (spec.md §4.3: "any key <0.01 after processing is fatal").
const minPower = 0.01

// CheckPower validates and clamps a set of power-supply limits onto d. Only
// the keys {va, vd, ia, id} are recognised; unrecognised keys are ignored.
// Negative values are rejected outright; values at or above the default are
// clamped down to the default with a warning; anything left under 0.01 is
// fatal.
func CheckPower(d *dut.Dut, settings map[string]float64) error {
	values := map[string]float64{
		"va": d.Va,
		"vd": d.Vd,
		"ia": d.Ia,
		"id": d.Id,
	}
	for k, v := range settings {
		key := strings.ToLower(k)
		def, known := defaultPower[key]
		if !known {
			continue
		}
		if v < 0 {
			return invalid("power setting %q may not be negative (got %v)", key, v)
		}
		if v >= def {
			log.Printf("warning: power setting %q (%v) clamped to default %v", key, v, def)
			v = def
		}
		if v < minPower {
			return invalid("power setting %q (%v) below minimum %v", key, v, minPower)
		}
		values[key] = v
	}
	d.Va, d.Vd, d.Ia, d.Id = values["va"], values["vd"], values["ia"], values["id"]
	return nil
}

// CheckDelays validates a set of (name, value) DTB delay settings,
// verifying each against the DTB-delay dictionary and applying it to d.
// A name already present in d.SigDelays (from an earlier call, or a
// case variant earlier in settings) is overwritten with a warning.
func CheckDelays(d *dut.Dut, settings map[string]int) error {
	for name, value := range settings {
		_, clamped, err := VerifyRegister(DtbDelayKind, name, value)
		if err != nil {
			return errors.Wrapf(err, "checkDelays: %s", name)
		}
		key := strings.ToLower(name)
		if _, dup := d.SigDelays[key]; dup {
			log.Printf("warning: delay %q set more than once, overwriting", name)
		}
		d.SigDelays[key] = uint8(clamped)
	}
	return nil
}

// PgProgramEntry is a caller-supplied pattern-generator step before signal
// resolution: a ";"-separated signal mnemonic string and a delay.
type PgProgramEntry struct {
	Signal string
	Delay  uint8
}

// VerifyPatternGenerator validates and installs a full pattern-generator
// program on d (spec.md §4.3). Interior zero delays are fatal (they would
// stop the PG early); a non-zero final delay is corrected to zero with a
// warning; the cycle length pg_sum = sum(delay+1) is cached on d - the
// terminator entry's own forced-zero delay already contributes its "+1",
// so spec.md §8 boundary scenario 1 ([("resetroc;trg", 10), ("tok", 0)] ⇒
// pg_sum = 12 = (10+1)+(0+1)) needs no further addition on top of the sum.
func VerifyPatternGenerator(d *dut.Dut, entries []PgProgramEntry) error {
	if len(entries) == 0 {
		return invalid("pattern generator program must not be empty")
	}
	if len(entries) > dut.MaxPgEntries {
		return invalid("pattern generator program has %d entries, max is %d", len(entries), dut.MaxPgEntries)
	}

	out := make([]dut.PgEntry, len(entries))
	var sum uint32
	for i, e := range entries {
		word, ok := dict.CombinePgSignals(e.Signal)
		if !ok {
			return invalid("pattern generator entry %d: unknown signal in %q", i, e.Signal)
		}
		delay := e.Delay
		last := i == len(entries)-1
		if !last && delay == 0 {
			return invalid("pattern generator entry %d has interior zero delay", i)
		}
		if last && delay != 0 {
			log.Printf("warning: pattern generator final delay %d forced to 0", delay)
			delay = 0
		}
		out[i] = dut.PgEntry{Pattern: word, Delay: delay}
		sum += uint32(delay) + 1
	}

	d.PgSetup = out
	d.PgSum = sum
	return nil
}

// DutSpec is the plain-data shape a caller assembles (by hand or from a
// config file, see LoadFile) to describe a full DUT before InitDUT runs.
type DutSpec struct {
	HubID     uint8
	SigDelays map[string]int
	Power     map[string]float64
	PgProgram []PgProgramEntry

	Tbms []TbmSpec
	Rocs []RocSpec
}

// TbmSpec is one caller-supplied TBM core config, pre-doubling.
type TbmSpec struct {
	Type string
	Dacs map[string]int
}

// RocSpec is one caller-supplied ROC config.
type RocSpec struct {
	Type   string
	Dacs   map[string]int
	Pixels []dut.PixelConfig
}

// InitDUT validates a full DutSpec and installs it into d, making d
// Initialized on success (spec.md §3 Lifecycle). d must be empty (as
// returned by dut.New) or already Initialized; re-initialization replaces
// the hub id, pattern generator program, ROCs and TBMs, while power limits
// and signal delays not named in spec keep their previous values.
func InitDUT(d *dut.Dut, spec DutSpec) error {
	d.HubID = spec.HubID

	if err := CheckPower(d, spec.Power); err != nil {
		return errors.Wrap(err, "initDUT: power")
	}
	if err := CheckDelays(d, spec.SigDelays); err != nil {
		return errors.Wrap(err, "initDUT: delays")
	}
	if err := VerifyPatternGenerator(d, spec.PgProgram); err != nil {
		return errors.Wrap(err, "initDUT: pattern generator")
	}

	rocs := make([]dut.RocConfig, len(spec.Rocs))
	for i, rs := range spec.Rocs {
		if _, ok := dict.DeviceType.Lookup(rs.Type); !ok {
			return invalid("roc %d: unknown device type %q", i, rs.Type)
		}
		dacs, err := verifyDacMap(RocDACKind, rs.Dacs)
		if err != nil {
			return errors.Wrapf(err, "initDUT: roc %d dacs", i)
		}
		pixels, err := clampTrims(rs.Pixels)
		if err != nil {
			return errors.Wrapf(err, "initDUT: roc %d pixels", i)
		}
		if err := dut.ValidatePixels(i, pixels); err != nil {
			return errors.Wrap(err, "initDUT")
		}
		if len(pixels) > dut.MaxPixelsPerRoc {
			return invalid("roc %d: %d pixels exceeds max %d", i, len(pixels), dut.MaxPixelsPerRoc)
		}
		rocs[i] = dut.RocConfig{Type: rs.Type, Enable: true, Dacs: dacs, Pixels: pixels}
	}
	d.Rocs = rocs
	if err := d.AssignI2CAddresses(); err != nil {
		return errors.Wrap(err, "initDUT")
	}

	tbms, err := expandTbms(spec.Tbms)
	if err != nil {
		return errors.Wrap(err, "initDUT: tbms")
	}
	d.Tbms = tbms

	d.Initialized = true
	return nil
}

func verifyDacMap(kind RegisterKind, in map[string]int) (map[string]int, error) {
	out := make(map[string]int, len(in))
	for name, v := range in {
		_, clamped, err := VerifyRegister(kind, name, v)
		if err != nil {
			return nil, err
		}
		out[strings.ToLower(name)] = clamped
	}
	return out, nil
}

func clampTrims(in []dut.PixelConfig) ([]dut.PixelConfig, error) {
	out := make([]dut.PixelConfig, len(in))
	for i, p := range in {
		if p.Trim > dut.MaxTrim {
			log.Printf("warning: pixel (%d,%d) trim %d clamped to %d", p.Column, p.Row, p.Trim, dut.MaxTrim)
			p.Trim = dut.MaxTrim
		}
		if p.Trim < 0 {
			p.Trim = 0
		}
		out[i] = p
	}
	return out, nil
}

// expandTbms doubles any single-core TBM submission into its alpha/beta
// pair (spec.md §3): even index = alpha, odd = beta; a lone core gets its
// second core synthesised by flipping bit 4 of every register id.
func expandTbms(in []TbmSpec) ([]dut.TbmConfig, error) {
	var out []dut.TbmConfig
	for i := 0; i < len(in); i += 2 {
		alphaSpec := in[i]
		alphaDacs, err := verifyTbmDacs(alphaSpec.Dacs, false)
		if err != nil {
			return nil, errors.Wrapf(err, "tbm %d alpha", i)
		}
		alpha := dut.TbmConfig{Type: alphaSpec.Type, Enable: true, Dacs: alphaDacs}

		var beta dut.TbmConfig
		if i+1 < len(in) {
			betaSpec := in[i+1]
			betaDacs, err := verifyTbmDacs(betaSpec.Dacs, true)
			if err != nil {
				return nil, errors.Wrapf(err, "tbm %d beta", i)
			}
			beta = dut.TbmConfig{Type: betaSpec.Type, Enable: true, Dacs: betaDacs}
		} else {
			beta = dut.TbmConfig{Type: alphaSpec.Type, Enable: true, Dacs: make(map[int]int, len(alphaDacs))}
			for reg, v := range alphaDacs {
				beta.Dacs[dict.FlipTBMCore(reg)] = v
			}
		}
		out = append(out, alpha, beta)
	}
	return out, nil
}

func verifyTbmDacs(in map[string]int, beta bool) (map[int]int, error) {
	out := make(map[int]int, len(in))
	for name, v := range in {
		reg, clamped, err := VerifyRegister(TbmRegisterKind, name, v)
		if err != nil {
			return nil, err
		}
		out[dict.EncodeTBMRegister(reg, beta)] = clamped
	}
	return out, nil
}
