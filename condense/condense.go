/*Package condense implements the Event Condenser (spec.md §4.7): it
folds a linear stream of per-trigger dut.Event values, known to arrive in
contiguous runs of nTriggers events per sweep point, into one condensed
Event per group -- either a hit count (efficiency mode) or a Welford
online mean/variance (pulse-height mode) for every pixel address that
registered in the group.

Welford's algorithm is reused verbatim from mathx's running-statistics
style (accumulate count/mean/M2 incrementally, no second pass over the
data), the same numerically-stable approach the teacher's mathx package
uses for its own online statistics helpers.
*/
package condense

import (
	"fmt"

	"github.com/psi46/pxarcore/dut"
)

// Mode selects the condenser's per-pixel aggregation.
type Mode int

const (
	// Efficiency emits, per pixel, the number of triggers in the group
	// that registered a hit.
	Efficiency Mode = iota

	// PulseHeight emits, per pixel, the Welford online mean and sample
	// variance of the registered values across the group.
	PulseHeight
)

// ErrGroupMismatch is the critical error of spec.md §4.7: the input
// length is not an exact multiple of nTriggers.
type ErrGroupMismatch struct {
	Len, NTriggers int
}

func (e ErrGroupMismatch) Error() string {
	return fmt.Sprintf("condense: %d events not divisible by %d triggers per group", e.Len, e.NTriggers)
}

type pixelKey struct {
	RocID, Column, Row int
}

// accumulator tracks one pixel address's running Welford state across a
// group, plus the insertion order it first appeared in, so output pixel
// order is deterministic (first-seen order) regardless of Go's
// unspecified map iteration order.
type accumulator struct {
	key   pixelKey
	k     int
	mean  float64
	m2    float64
	order int
}

// CondenseTriggers groups events into contiguous runs of nTriggers and
// emits one condensed dut.Event per group. If len(events) is not a
// multiple of nTriggers, it returns ErrGroupMismatch and a nil slice
// (spec.md §4.7: "abort with critical error and empty output").
func CondenseTriggers(events []dut.Event, nTriggers int, mode Mode) ([]dut.Event, error) {
	if nTriggers <= 0 {
		return nil, fmt.Errorf("condense: nTriggers must be positive, got %d", nTriggers)
	}
	if len(events)%nTriggers != 0 {
		return nil, ErrGroupMismatch{Len: len(events), NTriggers: nTriggers}
	}

	out := make([]dut.Event, 0, len(events)/nTriggers)
	for start := 0; start < len(events); start += nTriggers {
		group := events[start : start+nTriggers]
		out = append(out, condenseGroup(group, mode))
	}
	return out, nil
}

func condenseGroup(group []dut.Event, mode Mode) dut.Event {
	acc := make(map[pixelKey]*accumulator)
	var order []*accumulator

	for _, ev := range group {
		for _, px := range ev.Pixels {
			key := pixelKey{RocID: px.RocID, Column: px.Column, Row: px.Row}
			a, ok := acc[key]
			if !ok {
				a = &accumulator{key: key, order: len(order)}
				acc[key] = a
				order = append(order, a)
			}
			updateWelford(a, float64(px.Value))
		}
	}

	condensed := dut.Event{}
	if len(group) > 0 {
		condensed.Header = group[0].Header
	}
	condensed.Pixels = make([]dut.Pixel, len(order))
	for i, a := range order {
		switch mode {
		case Efficiency:
			condensed.Pixels[i] = dut.Pixel{RocID: a.key.RocID, Column: a.key.Column, Row: a.key.Row, Value: int16(a.k)}
		case PulseHeight:
			condensed.Pixels[i] = dut.Pixel{
				RocID:    a.key.RocID,
				Column:   a.key.Column,
				Row:      a.key.Row,
				Value:    int16(a.mean),
				Variance: sampleVariance(a),
			}
		}
	}
	return condensed
}

// updateWelford folds one new sample x into the running mean/variance
// accumulator: δ = x - μ; μ += δ/k; M2 += δ·(x - μ) (spec.md §4.7).
func updateWelford(a *accumulator, x float64) {
	a.k++
	delta := x - a.mean
	a.mean += delta / float64(a.k)
	a.m2 += delta * (x - a.mean)
}

func sampleVariance(a *accumulator) float64 {
	if a.k < 2 {
		return 0
	}
	return a.m2 / float64(a.k-1)
}
