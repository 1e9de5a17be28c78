package program_test

import (
	"errors"
	"testing"

	"github.com/psi46/pxarcore/config"
	"github.com/psi46/pxarcore/dut"
	"github.com/psi46/pxarcore/hal/mock"
	"github.com/psi46/pxarcore/program"
)

// flakyPowerOn wraps a *mock.Device and fails PowerOn a fixed number of
// times before succeeding, exercising ProgramDUT's retried HAL command
// issue (DESIGN.md's hal/dtblink.Retry wiring).
type flakyPowerOn struct {
	*mock.Device
	failures int
}

func (f *flakyPowerOn) PowerOn() error {
	if f.failures > 0 {
		f.failures--
		return errors.New("transient power-on failure")
	}
	return nil
}

func initializedDut(t *testing.T) *dut.Dut {
	t.Helper()
	spec := config.DutSpec{
		PgProgram: []config.PgProgramEntry{{Signal: "trg", Delay: 1}},
		Rocs: []config.RocSpec{
			{Type: "psi46digv2.1", Dacs: map[string]int{"vana": 100}, Pixels: []dut.PixelConfig{
				{Column: 0, Row: 0, Enable: true, Trim: 5},
			}},
		},
	}
	d := dut.New()
	if err := config.InitDUT(d, spec); err != nil {
		t.Fatalf("InitDUT: %v", err)
	}
	return d
}

func TestProgramDUTRequiresInitialized(t *testing.T) {
	d := dut.New()
	device := mock.New(d, 100)
	if err := program.ProgramDUT(d, device); err != program.ErrNotInitialized {
		t.Errorf("got %v, want ErrNotInitialized", err)
	}
}

func TestProgramDUTSetsProgrammed(t *testing.T) {
	d := initializedDut(t)
	device := mock.New(d, 100)
	if err := program.ProgramDUT(d, device); err != nil {
		t.Fatalf("ProgramDUT: %v", err)
	}
	if !d.Programmed {
		t.Errorf("expected Programmed after ProgramDUT")
	}
	if d.MaskedPixelCount() != 1 {
		t.Errorf("expected baseline mask-all after programming, got %d masked", d.MaskedPixelCount())
	}
}

func TestPowerOffPreservesModel(t *testing.T) {
	d := initializedDut(t)
	device := mock.New(d, 100)
	if err := program.ProgramDUT(d, device); err != nil {
		t.Fatalf("ProgramDUT: %v", err)
	}
	if err := program.PowerOff(d, device); err != nil {
		t.Fatalf("PowerOff: %v", err)
	}
	if d.Programmed {
		t.Errorf("expected Programmed cleared after PowerOff")
	}
	if !d.Initialized {
		t.Errorf("expected Initialized preserved across PowerOff")
	}
	if len(d.Rocs) != 1 {
		t.Errorf("expected roc model preserved across PowerOff")
	}
}

func TestProgramDUTRetriesTransientCommandFailure(t *testing.T) {
	d := initializedDut(t)
	device := &flakyPowerOn{Device: mock.New(d, 100), failures: 2}
	if err := program.ProgramDUT(d, device); err != nil {
		t.Fatalf("ProgramDUT: %v", err)
	}
	if !d.Programmed {
		t.Errorf("expected Programmed after a transient PowerOn failure was retried away")
	}
	if device.failures != 0 {
		t.Errorf("expected all injected failures to be consumed, %d left", device.failures)
	}
}

func TestProgramDUTGivesUpOnPersistentCommandFailure(t *testing.T) {
	d := initializedDut(t)
	device := &flakyPowerOn{Device: mock.New(d, 100), failures: 1000}
	if err := program.ProgramDUT(d, device); err == nil {
		t.Errorf("expected ProgramDUT to give up and return an error for a persistently failing PowerOn")
	}
}

func TestMaskAllAppliesTrimWhenRequested(t *testing.T) {
	d := initializedDut(t)
	device := mock.New(d, 100)
	if err := program.MaskAll(d, device, true); err != nil {
		t.Fatalf("MaskAll: %v", err)
	}
	if !d.Rocs[0].Pixels[0].Mask {
		t.Errorf("expected pixel masked")
	}
}
