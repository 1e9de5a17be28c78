package condense_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/psi46/pxarcore/condense"
	"github.com/psi46/pxarcore/dut"
)

func hitEvent(value int16) dut.Event {
	return dut.Event{Pixels: []dut.Pixel{{RocID: 1, Column: 2, Row: 3, Value: value}}}
}

func TestCondenseTriggersGroupMismatch(t *testing.T) {
	events := make([]dut.Event, 5)
	_, err := condense.CondenseTriggers(events, 2, condense.Efficiency)
	if err == nil {
		t.Fatal("expected ErrGroupMismatch")
	}
	mismatch, ok := err.(condense.ErrGroupMismatch)
	if !ok {
		t.Fatalf("got %T, want ErrGroupMismatch", err)
	}
	if mismatch.Len != 5 || mismatch.NTriggers != 2 {
		t.Errorf("got %+v, want {Len:5 NTriggers:2}", mismatch)
	}
}

func TestCondenseTriggersGroupCount(t *testing.T) {
	events := make([]dut.Event, 10)
	groups, err := condense.CondenseTriggers(events, 5, condense.Efficiency)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 2 {
		t.Errorf("len(groups) = %d, want 2", len(groups))
	}
}

func TestCondenseEfficiencyCountsHits(t *testing.T) {
	events := []dut.Event{hitEvent(1), hitEvent(1), hitEvent(1), hitEvent(1)}
	groups, err := condense.CondenseTriggers(events, 4, condense.Efficiency)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 1 || len(groups[0].Pixels) != 1 {
		t.Fatalf("unexpected shape: %+v", groups)
	}
	if groups[0].Pixels[0].Value != 4 {
		t.Errorf("efficiency value = %d, want 4 (N identical hits -> value=N)", groups[0].Pixels[0].Value)
	}
}

func TestCondensePulseHeightConstantValueZeroVariance(t *testing.T) {
	events := []dut.Event{hitEvent(50), hitEvent(50), hitEvent(50)}
	groups, err := condense.CondenseTriggers(events, 3, condense.PulseHeight)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	px := groups[0].Pixels[0]
	if px.Value != 50 {
		t.Errorf("mean = %d, want 50", px.Value)
	}
	if px.Variance != 0 {
		t.Errorf("variance on constant samples = %v, want 0", px.Variance)
	}
}

func TestCondensePulseHeightMeanVariance(t *testing.T) {
	events := []dut.Event{hitEvent(10), hitEvent(20), hitEvent(30)}
	groups, err := condense.CondenseTriggers(events, 3, condense.PulseHeight)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	px := groups[0].Pixels[0]
	if px.Value != 20 {
		t.Errorf("mean = %d, want 20", px.Value)
	}
	// sample variance of {10,20,30} = 100
	if px.Variance != 100 {
		t.Errorf("variance = %v, want 100", px.Variance)
	}
}

func TestCondenseMissingPixelNotReported(t *testing.T) {
	events := []dut.Event{hitEvent(1), {}}
	groups, err := condense.CondenseTriggers(events, 2, condense.Efficiency)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups[0].Pixels) != 1 {
		t.Fatalf("expected only the one pixel that registered, got %+v", groups[0].Pixels)
	}
	if groups[0].Pixels[0].Value != 1 {
		t.Errorf("value = %d, want 1 (one of two triggers registered)", groups[0].Pixels[0].Value)
	}
}

func multiPixelEvent(hits ...dut.Pixel) dut.Event {
	return dut.Event{Pixels: hits}
}

// TestCondenseEfficiencyMultiplePixelsShape pins the whole condensed
// pixel slice for a burst covering several addresses at once, rather than
// field-by-field, since a per-pixel hit-count mismatch anywhere in the
// group is the failure this test exists to catch.
func TestCondenseEfficiencyMultiplePixelsShape(t *testing.T) {
	events := []dut.Event{
		multiPixelEvent(dut.Pixel{RocID: 0, Column: 1, Row: 1, Value: 1}, dut.Pixel{RocID: 0, Column: 2, Row: 2, Value: 1}),
		multiPixelEvent(dut.Pixel{RocID: 0, Column: 1, Row: 1, Value: 1}),
		multiPixelEvent(dut.Pixel{RocID: 0, Column: 1, Row: 1, Value: 1}, dut.Pixel{RocID: 0, Column: 2, Row: 2, Value: 1}),
	}
	groups, err := condense.CondenseTriggers(events, 3, condense.Efficiency)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []dut.Pixel{
		{RocID: 0, Column: 1, Row: 1, Value: 3},
		{RocID: 0, Column: 2, Row: 2, Value: 2},
	}
	if diff := cmp.Diff(want, groups[0].Pixels); diff != "" {
		t.Errorf("condensed pixels mismatch (-want +got):\n%s", diff)
	}
}

func TestCondenseTriggersRejectsNonPositiveN(t *testing.T) {
	if _, err := condense.CondenseTriggers(nil, 0, condense.Efficiency); err == nil {
		t.Errorf("expected error for nTriggers=0")
	}
}
