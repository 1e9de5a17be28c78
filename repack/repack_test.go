package repack_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/psi46/pxarcore/dut"
	"github.com/psi46/pxarcore/repack"
	"github.com/psi46/pxarcore/sweep"
)

func group(pixels ...dut.Pixel) dut.Event {
	return dut.Event{Pixels: pixels}
}

func TestMapConcatenatesAndSorts(t *testing.T) {
	groups := []dut.Event{
		group(dut.Pixel{RocID: 0, Column: 1, Row: 0, Value: 1}),
		group(dut.Pixel{RocID: 0, Column: 0, Row: 0, Value: 2}),
	}
	out := repack.Map(groups, 0)
	if len(out) != 2 {
		t.Fatalf("got %d pixels, want 2", len(out))
	}
	if out[0].Column != 0 || out[1].Column != 1 {
		t.Errorf("expected sorted by (roc,col,row): got %+v", out)
	}
}

// TestMapFullShape pins the complete sorted pixel slice with cmp.Diff
// rather than spot-checking individual fields, since a sort that gets the
// (roc,col,row) tiebreak order wrong anywhere in the list is the failure
// this test exists to catch.
func TestMapFullShape(t *testing.T) {
	groups := []dut.Event{
		group(dut.Pixel{RocID: 1, Column: 0, Row: 0, Value: 3}),
		group(dut.Pixel{RocID: 0, Column: 1, Row: 0, Value: 1}),
		group(dut.Pixel{RocID: 0, Column: 0, Row: 5, Value: 2}),
	}
	out := repack.Map(groups, 0)
	want := []dut.Pixel{
		{RocID: 0, Column: 0, Row: 5, Value: 2},
		{RocID: 0, Column: 1, Row: 0, Value: 1},
		{RocID: 1, Column: 0, Row: 0, Value: 3},
	}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("sorted map mismatch (-want +got):\n%s", diff)
	}
}

func TestMapNoSortPreservesOrder(t *testing.T) {
	groups := []dut.Event{
		group(dut.Pixel{RocID: 0, Column: 1, Row: 0, Value: 1}),
		group(dut.Pixel{RocID: 0, Column: 0, Row: 0, Value: 2}),
	}
	out := repack.Map(groups, sweep.NoSort)
	if out[0].Column != 1 || out[1].Column != 0 {
		t.Errorf("expected original order preserved with NOSORT: got %+v", out)
	}
}

func TestMapCheckOrderFlagsMismatch(t *testing.T) {
	// rowsPerColumn = dut.MaxRow+1 = 80; index 0 expects (col=0,row=0).
	groups := []dut.Event{
		group(dut.Pixel{RocID: 0, Column: 5, Row: 5, Value: 9}),
	}
	out := repack.Map(groups, sweep.CheckOrder|sweep.NoSort)
	if out[0].Value != -1 {
		t.Errorf("expected misordered pixel flagged with Value=-1, got %d", out[0].Value)
	}
}

func TestDacScanExpectedCount(t *testing.T) {
	// range [0,10] step 2 -> floor((10-0)/2)+1 = 6 points
	groups := make([]dut.Event, 6)
	out, err := repack.DacScan(groups, 0, 10, 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 6 {
		t.Errorf("len(out) = %d, want 6", len(out))
	}
	if out[0].Dac != 0 || out[5].Dac != 10 {
		t.Errorf("expected dac range [0..10] step 2, got %+v", out)
	}
}

func TestDacScanWrongGroupCountErrors(t *testing.T) {
	groups := make([]dut.Event, 3)
	if _, err := repack.DacScan(groups, 0, 10, 2, 0); err == nil {
		t.Errorf("expected error for mismatched group count")
	}
}

func TestDacDacScanShape(t *testing.T) {
	// dac1: [0,4] step 2 -> 3 values; dac2: [0,2] step 1 -> 3 values
	groups := make([]dut.Event, 9)
	out, err := repack.DacDacScan(groups, 0, 4, 2, 0, 2, 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	for _, outer := range out {
		if len(outer.Inner) != 3 {
			t.Errorf("len(inner) = %d, want 3", len(outer.Inner))
		}
	}
}

// TestThresholdMapClosestApproachRising builds a simple rising-edge efficiency
// curve for one pixel across dac in [0,30] step 10 and checks the reported
// dac is the one whose efficiency is closest to a 50% threshold.
func TestThresholdMapClosestApproachRising(t *testing.T) {
	px := func(v int16) dut.Pixel { return dut.Pixel{RocID: 0, Column: 0, Row: 0, Value: v} }
	groups := []dut.Event{
		group(px(0)),  // dac=0,  eff=0
		group(px(5)),  // dac=10, eff=5
		group(px(10)), // dac=20, eff=10 (threshold = ceil(10*50/100) = 5)
		group(px(10)), // dac=30, eff=10
	}
	entries, err := repack.ThresholdMap(groups, 0, 30, 10, 10, 50, sweep.RisingEdge)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if entries[0].Dac != 10 {
		t.Errorf("closest-approach dac = %d, want 10 (eff=5 matches threshold exactly)", entries[0].Dac)
	}
}

func TestThresholdDacScanBucketsByDac2(t *testing.T) {
	px := func(v int16) dut.Pixel { return dut.Pixel{RocID: 0, Column: 0, Row: 0, Value: v} }
	// dac1 in [0,10] step 10 (2 values), dac2 in [0,10] step 10 (2 values)
	groups := []dut.Event{
		group(px(0)), group(px(0)),
		group(px(10)), group(px(10)),
	}
	buckets, err := repack.ThresholdDacScan(groups, 0, 10, 10, 0, 10, 10, 10, 50, sweep.RisingEdge)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("len(buckets) = %d, want 2", len(buckets))
	}
	for _, b := range buckets {
		if len(b.Entries) != 1 {
			t.Errorf("bucket dac2=%d: len(entries) = %d, want 1", b.Dac2, len(b.Entries))
		}
	}
}
