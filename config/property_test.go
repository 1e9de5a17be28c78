package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/psi46/pxarcore/config"
	"github.com/psi46/pxarcore/dict"
	"github.com/psi46/pxarcore/dut"
	"github.com/psi46/pxarcore/hal/mock"
)

// TestSetDACRoundTripProperty checks spec.md §8's testable property:
// setDAC(name,v); getDAC(name) == min(v, size(name)).
func TestSetDACRoundTripProperty(t *testing.T) {
	d := dut.New()
	if err := config.InitDUT(d, baseSpec()); err != nil {
		t.Fatalf("InitDUT: %v", err)
	}
	device := mock.New(d, 1000)
	reg, _ := dict.RocDAC.Lookup("vana")

	rapid.Check(t, func(t *rapid.T) {
		v := rapid.IntRange(0, 1000).Draw(t, "v")
		require.NoError(t, config.SetDAC(d, device, 0, "vana", v))
		got, ok := d.DacValue(0, "vana")
		require.True(t, ok)
		want := v
		if want > reg.Size {
			want = reg.Size
		}
		require.Equal(t, want, got)
	})
}

// TestAssignI2CAddressesProperty checks spec.md §8's testable property:
// after initDUT, every enabled ROC's i2c_address equals its index.
func TestAssignI2CAddressesProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 8).Draw(t, "n")
		spec := baseSpec()
		spec.Rocs = make([]config.RocSpec, n)
		for i := range spec.Rocs {
			spec.Rocs[i] = config.RocSpec{Type: "psi46digv2.1", Dacs: map[string]int{"vana": 10}}
		}
		d := dut.New()
		require.NoError(t, config.InitDUT(d, spec))
		for i, roc := range d.Rocs {
			require.Equal(t, i, roc.I2CAddress)
		}
	})
}

// TestTbmsExpandToEvenCountProperty checks spec.md §8's testable property:
// tbms.size() is even after initDUT, regardless of how many cores were
// supplied.
func TestTbmsExpandToEvenCountProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 6).Draw(t, "n")
		spec := baseSpec()
		spec.Tbms = make([]config.TbmSpec, n)
		for i := range spec.Tbms {
			spec.Tbms[i] = config.TbmSpec{Type: "tbm09"}
		}
		d := dut.New()
		require.NoError(t, config.InitDUT(d, spec))
		require.Equal(t, 0, len(d.Tbms)%2)
	})
}

// TestPgSumProperty checks spec.md §8's testable property: after
// verifyPatternGenerator, pg_setup.back().delay == 0 and
// pg_sum == sum(delay+1) (spec.md §8 boundary scenario 1 pins this at 12
// for [("resetroc;trg", 10), ("tok", 0)], not 13).
func TestPgSumProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 10).Draw(t, "n")
		entries := make([]config.PgProgramEntry, n)
		var want uint32
		for i := range entries {
			delay := uint8(0)
			if i != n-1 {
				delay = uint8(rapid.IntRange(1, 200).Draw(t, "delay"))
			}
			entries[i] = config.PgProgramEntry{Signal: "trg", Delay: delay}
			want += uint32(delay) + 1
		}

		d := dut.New()
		require.NoError(t, config.VerifyPatternGenerator(d, entries))
		require.Equal(t, uint8(0), d.PgSetup[len(d.PgSetup)-1].Delay)
		require.Equal(t, want, d.PgSum)
	})
}
