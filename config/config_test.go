package config_test

import (
	"testing"

	"github.com/psi46/pxarcore/config"
	"github.com/psi46/pxarcore/dut"
	"github.com/psi46/pxarcore/hal/mock"
)

func baseSpec() config.DutSpec {
	return config.DutSpec{
		HubID: 1,
		PgProgram: []config.PgProgramEntry{
			{Signal: "trg", Delay: 5},
			{Signal: "tok", Delay: 0},
		},
		Rocs: []config.RocSpec{
			{Type: "psi46digv2.1", Dacs: map[string]int{"vana": 120}},
		},
	}
}

func TestInitDUTAssignsI2CAddresses(t *testing.T) {
	d := dut.New()
	if err := config.InitDUT(d, baseSpec()); err != nil {
		t.Fatalf("InitDUT: %v", err)
	}
	if !d.Initialized {
		t.Errorf("expected Initialized after InitDUT")
	}
	if d.Rocs[0].I2CAddress != 0 {
		t.Errorf("roc 0 i2c_address = %d, want 0", d.Rocs[0].I2CAddress)
	}
}

func TestInitDUTUnknownDeviceType(t *testing.T) {
	d := dut.New()
	spec := baseSpec()
	spec.Rocs[0].Type = "not-a-real-chip"
	if err := config.InitDUT(d, spec); err == nil {
		t.Errorf("expected error for unknown device type")
	}
}

func TestVerifyPatternGeneratorSum(t *testing.T) {
	d := dut.New()
	entries := []config.PgProgramEntry{
		{Signal: "trg", Delay: 2},
		{Signal: "tok", Delay: 3},
		{Signal: "sync", Delay: 0},
	}
	if err := config.VerifyPatternGenerator(d, entries); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// pg_sum = sum(delay+1) = 3 + 4 + 1 = 8
	if d.PgSum != 8 {
		t.Errorf("PgSum = %d, want 8", d.PgSum)
	}
	if d.PgSetup[len(d.PgSetup)-1].Delay != 0 {
		t.Errorf("final pg entry delay = %d, want 0", d.PgSetup[len(d.PgSetup)-1].Delay)
	}
}

// TestVerifyPatternGeneratorBoundaryScenario1 pins spec.md §8 boundary
// scenario 1: a two-entry program with a combined ";"-signal succeeds with
// pg_sum = 12.
func TestVerifyPatternGeneratorBoundaryScenario1(t *testing.T) {
	d := dut.New()
	entries := []config.PgProgramEntry{
		{Signal: "resetroc;trg", Delay: 10},
		{Signal: "tok", Delay: 0},
	}
	if err := config.VerifyPatternGenerator(d, entries); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.PgSum != 12 {
		t.Errorf("PgSum = %d, want 12", d.PgSum)
	}
}

func TestVerifyPatternGeneratorInteriorZeroDelayFatal(t *testing.T) {
	d := dut.New()
	entries := []config.PgProgramEntry{
		{Signal: "trg", Delay: 0},
		{Signal: "tok", Delay: 1},
	}
	if err := config.VerifyPatternGenerator(d, entries); err == nil {
		t.Errorf("expected interior zero delay to be fatal")
	}
}

func TestVerifyPatternGeneratorFinalDelayCorrected(t *testing.T) {
	d := dut.New()
	entries := []config.PgProgramEntry{
		{Signal: "trg", Delay: 1},
		{Signal: "tok", Delay: 7},
	}
	if err := config.VerifyPatternGenerator(d, entries); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.PgSetup[len(d.PgSetup)-1].Delay != 0 {
		t.Errorf("expected final delay forced to 0, got %d", d.PgSetup[len(d.PgSetup)-1].Delay)
	}
}

func TestCheckPowerClampsToDefault(t *testing.T) {
	d := dut.New()
	if err := config.CheckPower(d, map[string]float64{"va": 9.0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Va != 2.5 {
		t.Errorf("Va = %v, want clamped default 2.5", d.Va)
	}
}

func TestCheckPowerNegativeFatal(t *testing.T) {
	d := dut.New()
	if err := config.CheckPower(d, map[string]float64{"va": -1}); err == nil {
		t.Errorf("expected negative power setting to be fatal")
	}
}

func TestSetDACRoundTrip(t *testing.T) {
	d := dut.New()
	if err := config.InitDUT(d, baseSpec()); err != nil {
		t.Fatalf("InitDUT: %v", err)
	}
	device := mock.New(d, 1000)
	if err := config.SetDAC(d, device, 0, "vana", 300); err != nil {
		t.Fatalf("SetDAC: %v", err)
	}
	got, ok := d.DacValue(0, "vana")
	if !ok {
		t.Fatalf("expected vana to be present")
	}
	if got != 255 {
		t.Errorf("SetDAC clamped value = %d, want min(300,255)=255", got)
	}
}

func TestSetDACUnknownRegister(t *testing.T) {
	d := dut.New()
	if err := config.InitDUT(d, baseSpec()); err != nil {
		t.Fatalf("InitDUT: %v", err)
	}
	device := mock.New(d, 1000)
	if err := config.SetDAC(d, device, 0, "not-a-dac", 1); err == nil {
		t.Errorf("expected unknown register to error")
	}
}

func TestVerifyRegisterClampsAndWarns(t *testing.T) {
	id, clamped, err := config.VerifyRegister(config.RocDACKind, "vana", 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clamped != 255 {
		t.Errorf("clamped = %d, want 255", clamped)
	}
	if id <= 0 {
		t.Errorf("expected positive register id, got %d", id)
	}
}
