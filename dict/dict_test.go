package dict_test

import (
	"fmt"
	"testing"

	"github.com/psi46/pxarcore/dict"
)

func ExampleCombinePgSignals() {
	word, ok := dict.CombinePgSignals("trg;cal")
	fmt.Println(word, ok)
	// Output: 12 true
}

func ExampleEncodeTBMRegister() {
	fmt.Printf("%#x %#x\n", dict.EncodeTBMRegister(0x2, false), dict.EncodeTBMRegister(0x2, true))
	// Output: 0xe2 0xf2
}

func TestRocDACLookupCaseInsensitive(t *testing.T) {
	lower, ok := dict.RocDAC.Lookup("vana")
	if !ok {
		t.Fatalf("expected vana to be found")
	}
	upper, ok := dict.RocDAC.Lookup("VANA")
	if !ok {
		t.Fatalf("expected VANA to be found")
	}
	if lower != upper {
		t.Errorf("case-insensitive lookup mismatch: %+v != %+v", lower, upper)
	}
}

func TestRocDACNotFound(t *testing.T) {
	if _, ok := dict.RocDAC.Lookup("nonexistent"); ok {
		t.Errorf("expected nonexistent register to be absent")
	}
}

func TestEncodeTBMRegisterAlphaBeta(t *testing.T) {
	alpha := dict.EncodeTBMRegister(0x2, false)
	beta := dict.EncodeTBMRegister(0x2, true)
	if alpha != 0xE2 {
		t.Errorf("alpha encoding: got %#x, want 0xe2", alpha)
	}
	if beta != 0xF2 {
		t.Errorf("beta encoding: got %#x, want 0xf2", beta)
	}
}

func TestFlipTBMCore(t *testing.T) {
	alpha := dict.EncodeTBMRegister(0x4, false)
	flipped := dict.FlipTBMCore(alpha)
	beta := dict.EncodeTBMRegister(0x4, true)
	if flipped != beta {
		t.Errorf("FlipTBMCore(%#x) = %#x, want %#x", alpha, flipped, beta)
	}
	if dict.FlipTBMCore(flipped) != alpha {
		t.Errorf("FlipTBMCore should be its own inverse")
	}
}

func TestCombinePgSignalsOrsBits(t *testing.T) {
	word, ok := dict.CombinePgSignals("trg;cal")
	if !ok {
		t.Fatalf("expected known signals to resolve")
	}
	trg, _ := dict.PgSignal("trg")
	cal, _ := dict.PgSignal("cal")
	want := uint16(trg.ID | cal.ID)
	if word != want {
		t.Errorf("CombinePgSignals(trg;cal) = %#x, want %#x", word, want)
	}
}

func TestCombinePgSignalsUnknown(t *testing.T) {
	if _, ok := dict.CombinePgSignals("trg;bogus"); ok {
		t.Errorf("expected unknown token to make ok false")
	}
}

func TestProbeChannelRouting(t *testing.T) {
	if tbl, ok := dict.Probe("d1"); !ok || tbl == nil {
		t.Errorf("expected d1 to route to a table")
	}
	if tbl, ok := dict.Probe("a2"); !ok || tbl == nil {
		t.Errorf("expected a2 to route to a table")
	}
	if _, ok := dict.Probe("x9"); ok {
		t.Errorf("expected unknown probe channel to fail")
	}
}

func TestDeviceTypeLookup(t *testing.T) {
	if _, ok := dict.DeviceType.Lookup("psi46digv2.1"); !ok {
		t.Errorf("expected known device type to resolve")
	}
}
