/*Package repack implements the Repacker (spec.md §4.8): it reshapes the
condensed-group Event stream package condense produces into the caller-facing
shapes a map, a 1-D or 2-D DAC scan, or a threshold map/scan calls for,
applying the raster-order check, DAC-then-address sort, and
closest-approach threshold search spec.md §4.8 and §8 describe.

It imports package sweep only for the shared Flags bitmask (CHECK_ORDER,
NOSORT, RISING_EDGE govern repacking, not HAL dispatch); it has no other
dependency on sweep's selection logic.
*/
package repack

import (
	"fmt"
	"sort"

	"github.com/psi46/pxarcore/dut"
	"github.com/psi46/pxarcore/sweep"
)

// rowsPerColumn is the raster-order wrap point CHECK_ORDER validates
// against: row ∈ [0,79], wrapping to the next column at row=80.
const rowsPerColumn = dut.MaxRow + 1

// Map concatenates the pixel lists of a run of condensed groups (spec.md
// §4.8's "no DAC sweep" variant). If flags has CHECK_ORDER, it validates
// that pixels arrive in column-major raster order, setting Value to -1 on
// any pixel that does not match its expected (column,row) slot (the
// mismatched pixel is still emitted). Unless flags has NOSORT, the result
// is then sorted by (RocID, Column, Row).
func Map(groups []dut.Event, flags sweep.Flags) []dut.Pixel {
	var out []dut.Pixel
	for _, g := range groups {
		out = append(out, g.Pixels...)
	}

	if flags.Has(sweep.CheckOrder) {
		checkRasterOrder(out)
	}
	if !flags.Has(sweep.NoSort) {
		sortByAddress(out)
	}
	return out
}

// checkRasterOrder sets Value=-1 on every pixel in px that does not sit at
// its expected column-major raster position (column = index/rowsPerColumn,
// row = index%rowsPerColumn), in place.
func checkRasterOrder(px []dut.Pixel) {
	for i := range px {
		wantCol := i / rowsPerColumn
		wantRow := i % rowsPerColumn
		if px[i].Column != wantCol || px[i].Row != wantRow {
			px[i].Value = -1
		}
	}
}

func sortByAddress(px []dut.Pixel) {
	sort.Slice(px, func(i, j int) bool {
		a, b := px[i], px[j]
		if a.RocID != b.RocID {
			return a.RocID < b.RocID
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		return a.Row < b.Row
	})
}

// DacPoint is one step of a 1-D DAC scan: the register value driven for
// this group, and its (optionally sorted) pixel list.
type DacPoint struct {
	Dac    int
	Pixels []dut.Pixel
}

// dacValues expands a min/max/step range into the ordered list of values a
// DAC scan steps through, inclusive of dacMax per spec.md §4.8's expected
// count ⌊(max−min)/step⌋+1.
func dacValues(dacMin, dacMax, dacStep int) []int {
	if dacStep <= 0 {
		return nil
	}
	n := (dacMax-dacMin)/dacStep + 1
	if n <= 0 {
		return nil
	}
	out := make([]int, n)
	for i := range out {
		out[i] = dacMin + i*dacStep
	}
	return out
}

// DacScan zips a run of condensed groups, produced by sweeping register R
// from dacMin to dacMax in dacStep steps, into an ordered (dac, pixels)
// sequence. groups must hold exactly one group per dac value, in sweep
// order (a single sweep round); any other group count is an error, so
// input from several rounds cycling back to dacMin is not accepted.
func DacScan(groups []dut.Event, dacMin, dacMax, dacStep int, flags sweep.Flags) ([]DacPoint, error) {
	values := dacValues(dacMin, dacMax, dacStep)
	if len(groups) != len(values) {
		return nil, fmt.Errorf("repack: dacScan: got %d groups, expected %d for range [%d,%d] step %d", len(groups), len(values), dacMin, dacMax, dacStep)
	}

	out := make([]DacPoint, len(groups))
	for i, g := range groups {
		pixels := append([]dut.Pixel(nil), g.Pixels...)
		if !flags.Has(sweep.NoSort) {
			sortByAddress(pixels)
		}
		out[i] = DacPoint{Dac: values[i], Pixels: pixels}
	}
	return out, nil
}

// Dac2Point is one inner step of a 2-D DAC×DAC scan.
type Dac2Point struct {
	Dac    int
	Pixels []dut.Pixel
}

// Dac1Point is one outer step of a 2-D DAC×DAC scan, holding the full
// inner sweep taken at that outer value.
type Dac1Point struct {
	Dac   int
	Inner []Dac2Point
}

// DacDacScan zips a run of condensed groups into the nested (dac1, (dac2,
// pixels)) shape of spec.md §4.8's DAC×DAC scan: outer DAC slowest, inner
// DAC resetting to dac2Min on every outer step.
func DacDacScan(groups []dut.Event, dac1Min, dac1Max, dac1Step, dac2Min, dac2Max, dac2Step int, flags sweep.Flags) ([]Dac1Point, error) {
	v1 := dacValues(dac1Min, dac1Max, dac1Step)
	v2 := dacValues(dac2Min, dac2Max, dac2Step)
	expected := len(v1) * len(v2)
	if len(groups) != expected {
		return nil, fmt.Errorf("repack: dacDacScan: got %d groups, expected %d (%d x %d)", len(groups), expected, len(v1), len(v2))
	}

	out := make([]Dac1Point, len(v1))
	idx := 0
	for i, d1 := range v1 {
		inner := make([]Dac2Point, len(v2))
		for j, d2 := range v2 {
			pixels := append([]dut.Pixel(nil), groups[idx].Pixels...)
			if !flags.Has(sweep.NoSort) {
				sortByAddress(pixels)
			}
			inner[j] = Dac2Point{Dac: d2, Pixels: pixels}
			idx++
		}
		out[i] = Dac1Point{Dac: d1, Inner: inner}
	}
	return out, nil
}

// ThresholdEntry is one pixel's closest-approach threshold-crossing DAC
// value, the output unit of both ThresholdMap and (bucketed by Dac2) of
// ThresholdDacScan.
type ThresholdEntry struct {
	RocID, Column, Row int
	Dac                int
}

type thresholdState struct {
	dac        int
	efficiency int
	diff       int
	seen       bool
}

// ThresholdMap runs a 1-D DAC-scan repack in efficiency mode, then for
// every pixel finds the DAC value whose measured efficiency is closest to
// threshold = ceil(nTriggers * level / 100), scanning in the direction
// RISING_EDGE selects (spec.md §4.8). Only steps that move the pixel's
// efficiency monotonically toward the search direction are considered,
// filtering oscillating pixels; the first occurrence of a pixel always
// seeds its state, and later occurrences update the recorded DAC only
// when efficiency has actually changed, that change moves in the expected
// direction, and the new |efficiency - threshold| is no worse than before.
func ThresholdMap(groups []dut.Event, dacMin, dacMax, dacStep, nTriggers, levelPercent int, flags sweep.Flags) ([]ThresholdEntry, error) {
	points, err := DacScan(groups, dacMin, dacMax, dacStep, flags|sweep.NoSort)
	if err != nil {
		return nil, err
	}
	threshold := ceilPercent(nTriggers, levelPercent)

	states := make(map[pixelKey]*thresholdState)
	var order []pixelKey
	for _, pt := range points {
		for _, px := range pt.Pixels {
			key := pixelKey{px.RocID, px.Column, px.Row}
			st, ok := states[key]
			if !ok {
				st = &thresholdState{}
				states[key] = st
				order = append(order, key)
			}
			considerThresholdStep(st, pt.Dac, int(px.Value), threshold, flags.Has(sweep.RisingEdge))
		}
	}

	out := make([]ThresholdEntry, len(order))
	for i, key := range order {
		out[i] = ThresholdEntry{RocID: key.RocID, Column: key.Column, Row: key.Row, Dac: states[key].dac}
	}
	if !flags.Has(sweep.NoSort) {
		sortThresholdEntries(out)
	}
	return out, nil
}

// ThresholdBucket is one dac2 value's independent ThresholdMap result, the
// output unit of ThresholdDacScan.
type ThresholdBucket struct {
	Dac2    int
	Entries []ThresholdEntry
}

// ThresholdDacScan is ThresholdMap's 2-D counterpart: each dac2 bucket
// maintains its own per-pixel closest-approach state (spec.md §4.8).
func ThresholdDacScan(groups []dut.Event, dac1Min, dac1Max, dac1Step, dac2Min, dac2Max, dac2Step, nTriggers, levelPercent int, flags sweep.Flags) ([]ThresholdBucket, error) {
	nested, err := DacDacScan(groups, dac1Min, dac1Max, dac1Step, dac2Min, dac2Max, dac2Step, flags|sweep.NoSort)
	if err != nil {
		return nil, err
	}
	threshold := ceilPercent(nTriggers, levelPercent)
	rising := flags.Has(sweep.RisingEdge)

	v2 := dacValues(dac2Min, dac2Max, dac2Step)
	buckets := make([]ThresholdBucket, len(v2))
	for j, d2 := range v2 {
		states := make(map[pixelKey]*thresholdState)
		var order []pixelKey
		for _, outer := range nested {
			px := outer.Inner[j].Pixels
			for _, p := range px {
				key := pixelKey{p.RocID, p.Column, p.Row}
				st, ok := states[key]
				if !ok {
					st = &thresholdState{}
					states[key] = st
					order = append(order, key)
				}
				considerThresholdStep(st, outer.Dac, int(p.Value), threshold, rising)
			}
		}
		entries := make([]ThresholdEntry, len(order))
		for i, key := range order {
			entries[i] = ThresholdEntry{RocID: key.RocID, Column: key.Column, Row: key.Row, Dac: states[key].dac}
		}
		if !flags.Has(sweep.NoSort) {
			sortThresholdEntries(entries)
		}
		buckets[j] = ThresholdBucket{Dac2: d2, Entries: entries}
	}
	return buckets, nil
}

type pixelKey struct {
	RocID, Column, Row int
}

func ceilPercent(nTriggers, levelPercent int) int {
	num := nTriggers * levelPercent
	q := num / 100
	if num%100 != 0 {
		q++
	}
	return q
}

// considerThresholdStep folds one (dac, efficiency) sample into st: the
// first sample always seeds st; later samples replace it only when the
// pixel's efficiency has actually changed, that change moves monotonically
// in the rising/falling direction relative to the previously recorded
// sample, and the distance to threshold is no worse than before - a tie at
// the moment efficiency crosses the threshold still counts as the crossing
// point, which a strict "<" would miss on a clean step function.
func considerThresholdStep(st *thresholdState, dac, efficiency, threshold int, rising bool) {
	diff := abs(efficiency - threshold)
	if !st.seen {
		st.dac, st.efficiency, st.diff, st.seen = dac, efficiency, diff, true
		return
	}
	if efficiency == st.efficiency {
		return
	}
	movesExpected := efficiency > st.efficiency
	if !rising {
		movesExpected = efficiency < st.efficiency
	}
	if movesExpected && diff <= st.diff {
		st.dac, st.efficiency, st.diff = dac, efficiency, diff
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sortThresholdEntries(e []ThresholdEntry) {
	sort.Slice(e, func(i, j int) bool {
		a, b := e[i], e[j]
		if a.RocID != b.RocID {
			return a.RocID < b.RocID
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		return a.Row < b.Row
	})
}
