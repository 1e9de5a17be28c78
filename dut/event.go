package dut

import (
	"encoding/binary"

	"github.com/snksoft/crc"
)

// Pixel is a single decoded pixel hit (or condensed/repacked result). Two
// Pixels are Equal if they share (RocID, Column, Row); Value and Variance
// do not participate in the equality the Repacker relies on for ordering
// and dedup (spec.md §3).
type Pixel struct {
	RocID  int
	Column int
	Row    int

	// Value carries different meanings by pipeline stage: a raw ADC
	// pulse height, a hit count (efficiency mode), a mean pulse height
	// (pulse-height mode), or -1 for a flagged/misordered pixel.
	Value int16

	// Variance is populated only by the pulse-height condenser.
	Variance float64
}

// Equal reports whether p and o address the same physical pixel.
func (p Pixel) Equal(o Pixel) bool {
	return p.RocID == o.RocID && p.Column == o.Column && p.Row == o.Row
}

// Event is one decoded trigger record (spec.md §3).
type Event struct {
	Header  uint16
	Trailer uint16
	Pixels  []Pixel

	// NumDecoderErrors counts framing/CRC problems found while decoding
	// this event; it never causes the event to be dropped (spec.md §7:
	// "Decoder errors are counted, not raised").
	NumDecoderErrors uint32
}

// ComputeTrailerCRC derives the expected Trailer value for a pixel list
// using the same CCITT CRC-16 a real DTB firmware tags frames with,
// serializing each pixel's (RocID,Column,Row,Value) as big-endian ints.
func ComputeTrailerCRC(pixels []Pixel) uint16 {
	buf := make([]byte, 0, 8*len(pixels))
	var tmp [8]byte
	for _, p := range pixels {
		binary.BigEndian.PutUint16(tmp[0:2], uint16(p.RocID))
		binary.BigEndian.PutUint16(tmp[2:4], uint16(p.Column))
		binary.BigEndian.PutUint16(tmp[4:6], uint16(p.Row))
		binary.BigEndian.PutUint16(tmp[6:8], uint16(p.Value))
		buf = append(buf, tmp[:]...)
	}
	return uint16(crc.CalculateCRC(crc.CCITT, buf))
}

// VerifyTrailer checks ev.Trailer against ComputeTrailerCRC(ev.Pixels),
// incrementing ev.NumDecoderErrors (and returning false) on mismatch. It
// never drops or alters ev.Pixels (spec.md §7: decoder errors are counted,
// not raised).
func (ev *Event) VerifyTrailer() bool {
	if ev.Trailer == ComputeTrailerCRC(ev.Pixels) {
		return true
	}
	ev.NumDecoderErrors++
	return false
}
