/*Package dict provides process-wide name-to-code registries for ROC DACs,
TBM registers, DTB delay signals, pattern-generator signals, probe signals,
and device types.

All of these tables are immutable value tables populated at package init
time (an import-time singleton, the way golaborate's generichttp keeps a
single package-level route table). Lookups are case-insensitive: names are
folded to lower case before indexing, matching the SCPI-ish "keys are not
case-sensitive" convention used throughout the retrieved golaborate config
loaders.
*/
package dict

import "strings"

// NotFound is the sentinel code returned for a name with no dictionary entry.
//
// Callers must distinguish "unknown name" (NotFound) from "known name,
// value overflow" (a Register with a Size smaller than the requested
// value); only the former is represented by this sentinel.
const NotFound = -1

// Register describes a single addressable register: its wire-level id and
// the maximum value it may hold.
type Register struct {
	// ID is the register's wire byte/code.
	ID int

	// Size is the maximum permitted value (inclusive).
	Size int
}

// table is a case-insensitive name -> Register map.
type table map[string]Register

func newTable(entries map[string]Register) table {
	t := make(table, len(entries))
	for name, reg := range entries {
		t[strings.ToLower(name)] = reg
	}
	return t
}

// Lookup resolves name to its Register, folding case. ok is false if the
// name is not present in the dictionary.
func (t table) Lookup(name string) (Register, bool) {
	reg, ok := t[strings.ToLower(name)]
	return reg, ok
}

// Names returns the dictionary's known names in no particular order.
func (t table) Names() []string {
	out := make([]string, 0, len(t))
	for name := range t {
		out = append(out, name)
	}
	return out
}

// RocDAC is the dictionary of ROC (Readout Chip) DAC register names.
//
// Sizes mirror PSI46-family 8-bit DACs (0-255) except where the chip
// exposes a narrower field.
var RocDAC = newTable(map[string]Register{
	"vdig":     {ID: 1, Size: 255},
	"vana":     {ID: 2, Size: 255},
	"vsh":      {ID: 3, Size: 255},
	"vcomp":    {ID: 4, Size: 255},
	"vwllpr":   {ID: 5, Size: 255},
	"vwllsh":   {ID: 6, Size: 255},
	"vhlddel":  {ID: 7, Size: 255},
	"vtrim":    {ID: 8, Size: 255},
	"vthrcomp": {ID: 9, Size: 255},
	"vibias_bus": {ID: 10, Size: 255},
	"phoffset": {ID: 11, Size: 255},
	"vcomp_adc": {ID: 12, Size: 255},
	"vcal":     {ID: 13, Size: 255},
	"caldel":   {ID: 14, Size: 255},
	"ctrlreg":  {ID: 15, Size: 255},
	"wbc":      {ID: 16, Size: 255},
	"vioin":    {ID: 17, Size: 255},
	"voffsetop": {ID: 18, Size: 255},
	"voffsetro": {ID: 19, Size: 255},
	"vion":     {ID: 20, Size: 255},
	"vcomp_prep": {ID: 21, Size: 255},
	"vleak_comp": {ID: 22, Size: 255},
	"rangetemp": {ID: 23, Size: 15},
})

// TbmRegister is the dictionary of TBM (Token Bit Manager) register base
// names. The actual wire byte additionally encodes the alpha/beta core
// selector in its high nibble; see EncodeTBMRegister.
var TbmRegister = newTable(map[string]Register{
	"base0": {ID: 0x0, Size: 255},
	"base1": {ID: 0x1, Size: 255},
	"base2": {ID: 0x2, Size: 255},
	"base4": {ID: 0x4, Size: 255},
	"base8": {ID: 0x8, Size: 255},
	"basea": {ID: 0xa, Size: 255},
	"basec": {ID: 0xc, Size: 255},
	"basee": {ID: 0xe, Size: 255},
})

const (
	// tbmCoreAlpha and tbmCoreBeta are the high-nibble core selectors.
	tbmCoreAlpha = 0xE0
	tbmCoreBeta  = 0xF0

	// tbmCoreBit is the bit within the high nibble (bit 4) that
	// distinguishes alpha (0) from beta (1) cores.
	tbmCoreBit = 0x10
)

// EncodeTBMRegister folds a base register id into its alpha or beta wire
// byte. beta=true selects the beta core (bit 4 set).
func EncodeTBMRegister(base int, beta bool) int {
	b := base & 0x0f
	if beta {
		return tbmCoreBeta | b
	}
	return tbmCoreAlpha | b
}

// FlipTBMCore toggles the alpha/beta bit of an already-encoded register
// byte, used to synthesise a TBM's second core from its first (spec.md
// §3, TBM Config).
func FlipTBMCore(reg int) int {
	return reg ^ tbmCoreBit
}

// DtbDelay is the dictionary of DTB timing-delay signal names.
var DtbDelay = newTable(map[string]Register{
	"tindelay":       {ID: 1, Size: 255},
	"toutdelay":      {ID: 2, Size: 255},
	"deser160phase":  {ID: 3, Size: 7},
	"deser400phase":  {ID: 4, Size: 3},
	"level":          {ID: 5, Size: 255},
	"clockdelay":     {ID: 6, Size: 255},
	"triggerdelay":   {ID: 7, Size: 255},
	"tbmdelay":       {ID: 8, Size: 255},
	"rocresetwidth":  {ID: 9, Size: 255},
	"tbmresetwidth":  {ID: 10, Size: 255},
})

// pgSignal is a single bit of the pattern-generator signal word; multiple
// signals are OR-combined when a PG entry lists several ";"-separated
// mnemonics (spec.md §4.1/§4.3).
var pgSignal = newTable(map[string]Register{
	"resetroc": {ID: 1 << 0, Size: 1},
	"resettbm": {ID: 1 << 1, Size: 1},
	"cal":      {ID: 1 << 2, Size: 1},
	"trg":      {ID: 1 << 3, Size: 1},
	"tok":      {ID: 1 << 4, Size: 1},
	"sync":     {ID: 1 << 5, Size: 1},
	"ctr":      {ID: 1 << 6, Size: 1},
	"res":      {ID: 1 << 7, Size: 1},
})

// PgSignal looks up a single pattern-generator mnemonic, returning its bit
// value.
func PgSignal(name string) (Register, bool) {
	return pgSignal.Lookup(name)
}

// PgSignalNames returns all known pattern-generator mnemonics.
func PgSignalNames() []string {
	return pgSignal.Names()
}

// CombinePgSignals splits a ";"-separated mnemonic string, ORs together
// every token's bit value, and reports whether every token was known.
//
// The caller is expected to treat a false ok as InvalidConfig (spec.md
// §4.3, "any entry's signal string... each token looked up and OR-combined").
func CombinePgSignals(mnemonic string) (word uint16, ok bool) {
	ok = true
	for _, tok := range strings.Split(mnemonic, ";") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		reg, found := pgSignal.Lookup(tok)
		if !found {
			ok = false
			continue
		}
		word |= uint16(reg.ID)
	}
	return word, ok
}

// DigitalProbe is the dictionary of digital probe signal mnemonics (the
// "d1"/"d2" probe connectors).
var DigitalProbe = newTable(map[string]Register{
	"off":        {ID: 0, Size: 0},
	"clk":        {ID: 1, Size: 0},
	"ctr":        {ID: 2, Size: 0},
	"tin":        {ID: 3, Size: 0},
	"tout":       {ID: 4, Size: 0},
	"sdata1":     {ID: 5, Size: 0},
	"sdata2":     {ID: 6, Size: 0},
	"rda":        {ID: 7, Size: 0},
	"pgtok":      {ID: 8, Size: 0},
})

// AnalogProbe is the dictionary of analog probe signal mnemonics (the
// "a1"/"a2" probe connectors).
var AnalogProbe = newTable(map[string]Register{
	"off":      {ID: 0, Size: 0},
	"vd":       {ID: 1, Size: 0},
	"va":       {ID: 2, Size: 0},
	"vbg":      {ID: 3, Size: 0},
	"rocvcal":  {ID: 4, Size: 0},
	"tout":     {ID: 5, Size: 0},
	"ctr":      {ID: 6, Size: 0},
})

// Probe resolves a probe channel name ("d1", "d2", "a1", "a2") to the
// dictionary (digital or analog) it draws its mnemonics from.
func Probe(channel string) (table, bool) {
	switch strings.ToLower(channel) {
	case "d1", "d2":
		return DigitalProbe, true
	case "a1", "a2":
		return AnalogProbe, true
	default:
		return nil, false
	}
}

// DeviceType is the dictionary of recognised ROC/TBM device-type strings,
// mapped to their internal device codes.
var DeviceType = newTable(map[string]Register{
	"psi46v2":       {ID: 1, Size: 0},
	"psi46xdb":      {ID: 2, Size: 0},
	"psi46dig":      {ID: 3, Size: 0},
	"psi46digv2":    {ID: 4, Size: 0},
	"psi46digv2.1":  {ID: 5, Size: 0},
	"psi46dig_trig": {ID: 6, Size: 0},
	"tbm08":         {ID: 101, Size: 0},
	"tbm08a":        {ID: 102, Size: 0},
	"tbm09":         {ID: 103, Size: 0},
	"tbm10":         {ID: 104, Size: 0},
})
