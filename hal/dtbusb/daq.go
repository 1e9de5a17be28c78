package dtbusb

import (
	"encoding/binary"
	"fmt"

	"github.com/psi46/pxarcore/dut"
)

// maxReply bounds a single USB bulk-in transfer; DTB replies are small
// (status words, short event frames) so one fixed buffer suffices, the
// same "assumes your data fits in the remote's buffer" simplification
// usbtmc.go documents for this transport style.
const maxReply = 4096

func (l *Link) DaqStart(deserPhase, nTbms, bufferSize int) error {
	payload := []byte{byte(deserPhase), byte(nTbms)}
	var bs [2]byte
	binary.BigEndian.PutUint16(bs[:], uint16(bufferSize))
	payload = append(payload, bs[:]...)
	return l.Send(opDaqStart, payload)
}

func (l *Link) DaqStatus() (filled, buffer int, err error) {
	resp, err := l.SendRecv(opDaqStatus, nil, maxReply)
	if err != nil {
		return 0, 0, err
	}
	if len(resp) < 4 {
		return 0, 0, fmt.Errorf("dtbusb: short status reply")
	}
	filled = int(binary.BigEndian.Uint16(resp[0:2]))
	buffer = int(binary.BigEndian.Uint16(resp[2:4]))
	return filled, buffer, nil
}

func (l *Link) DaqTrigger(n int, period uint16) error {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], uint16(n))
	binary.BigEndian.PutUint16(payload[2:4], period)
	return l.Send(opDaqTrigger, payload)
}

func (l *Link) DaqTriggerLoopStart(period uint16) error {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, period)
	return l.Send(opDaqTriggerLoopStart, payload)
}

func (l *Link) DaqTriggerLoopStop() error {
	return l.Send(opDaqTriggerLoopStop, nil)
}

func (l *Link) DaqGetBuffer() ([]byte, error) {
	return l.SendRecv(opDaqGetBuffer, nil, maxReply)
}

func (l *Link) DaqGetRawEventBuffer() ([][]byte, error) {
	raw, err := l.SendRecv(opDaqGetRawEventBuffer, nil, maxReply)
	if err != nil {
		return nil, err
	}
	return splitRawFrames(raw), nil
}

func (l *Link) DaqGetEventBuffer() ([]dut.Event, error) {
	frames, err := l.DaqGetRawEventBuffer()
	if err != nil {
		return nil, err
	}
	out := make([]dut.Event, 0, len(frames))
	for _, f := range frames {
		out = append(out, decodeFrame(f))
	}
	return out, nil
}

func (l *Link) DaqGetEvent() (dut.Event, error) {
	raw, err := l.DaqGetRawEvent()
	if err != nil {
		return dut.Event{}, err
	}
	return decodeFrame(raw), nil
}

func (l *Link) DaqGetRawEvent() ([]byte, error) {
	return l.SendRecv(opDaqGetEvent, nil, maxReply)
}

func (l *Link) DaqStop() error {
	return l.Send(opDaqStop, nil)
}

// splitRawFrames splits a bulk reply into length-prefixed raw event
// frames: 2 byte big-endian length, then that many bytes, repeated.
func splitRawFrames(buf []byte) [][]byte {
	var out [][]byte
	for len(buf) >= 2 {
		n := int(binary.BigEndian.Uint16(buf[0:2]))
		buf = buf[2:]
		if n > len(buf) {
			n = len(buf)
		}
		out = append(out, buf[:n])
		buf = buf[n:]
	}
	return out
}

// decodeFrame turns one raw event frame into a dut.Event: 2 byte header,
// 2 byte trailer, then 8 bytes per pixel (RocID,Column,Row,Value as
// big-endian uint16s), matching the serialization
// dut.ComputeTrailerCRC checks against.
func decodeFrame(f []byte) dut.Event {
	ev := dut.Event{}
	if len(f) < 4 {
		ev.NumDecoderErrors++
		return ev
	}
	ev.Header = binary.BigEndian.Uint16(f[0:2])
	ev.Trailer = binary.BigEndian.Uint16(f[2:4])
	body := f[4:]
	for len(body) >= 8 {
		ev.Pixels = append(ev.Pixels, dut.Pixel{
			RocID:  int(binary.BigEndian.Uint16(body[0:2])),
			Column: int(binary.BigEndian.Uint16(body[2:4])),
			Row:    int(binary.BigEndian.Uint16(body[4:6])),
			Value:  int16(binary.BigEndian.Uint16(body[6:8])),
		})
		body = body[8:]
	}
	ev.VerifyTrailer()
	return ev
}
