package dtbusb

import (
	"encoding/binary"
	"fmt"

	"github.com/psi46/pxarcore/dict"
	"github.com/psi46/pxarcore/hal"
)

// PowerOn/PowerOff/SetHubID/InitTBM/InitRoc/MaskAllPixels/SetPixelMaskTrim/
// PushTrimsToNIOS implement hal.Programmer over the USB bulk link.

func (l *Link) PowerOn() error  { return l.Send(opPowerOn, nil) }
func (l *Link) PowerOff() error { return l.Send(opPowerOff, nil) }

func (l *Link) SetHubID(id uint8) error {
	return l.Send(opSetHubID, []byte{id})
}

func (l *Link) InitTBM(dacs map[int]int) error {
	return l.Send(opInitTBM, encodeRegMap(dacs))
}

func (l *Link) InitRoc(i2c int, deviceType string, dacs map[string]int) error {
	payload := []byte{byte(i2c)}
	payload = append(payload, byte(len(deviceType)))
	payload = append(payload, []byte(deviceType)...)
	// dacs is keyed by register name (package config stores it that way);
	// each name is resolved to its wire id here.
	ids := make(map[int]int, len(dacs))
	for name, v := range dacs {
		reg, ok := dict.RocDAC.Lookup(name)
		if !ok {
			return fmt.Errorf("dtbusb: unknown roc dac %q", name)
		}
		ids[reg.ID] = v
	}
	payload = append(payload, encodeRegMap(ids)...)
	return l.Send(opInitRoc, payload)
}

func (l *Link) MaskAllPixels(i2c int) error {
	return l.Send(opMaskAllPixels, []byte{byte(i2c)})
}

func (l *Link) SetPixelMaskTrim(i2c int, column, row int, mask bool, trim int) error {
	m := byte(0)
	if mask {
		m = 1
	}
	return l.Send(opSetPixelMaskTrim, []byte{byte(i2c), byte(column), byte(row), m, byte(trim)})
}

func (l *Link) PushTrimsToNIOS(i2c int, trims []hal.NIOSTrim) error {
	payload := make([]byte, 1, 1+4*len(trims))
	payload[0] = byte(i2c)
	for _, t := range trims {
		m := byte(0)
		if t.Mask {
			m = 1
		}
		payload = append(payload, byte(t.Column), byte(t.Row), m, byte(t.Trim))
	}
	return l.Send(opPushTrims, payload)
}

func (l *Link) EnableAllColumns() error  { return l.Send(opEnableColumns, nil) }
func (l *Link) DisableAllColumns() error { return l.Send(opDisableColumns, nil) }

func (l *Link) SetCalibrateBits(on bool) error {
	v := byte(0)
	if on {
		v = 1
	}
	return l.Send(opSetCalibrateBits, []byte{v})
}

func (l *Link) SetRocDAC(i2c int, regID int, value int) error {
	var v [2]byte
	binary.BigEndian.PutUint16(v[:], uint16(value))
	return l.Send(opSetRocDAC, []byte{byte(i2c), byte(regID), v[0], v[1]})
}

func encodeRegMap(m map[int]int) []byte {
	buf := make([]byte, 0, 3*len(m))
	for reg, val := range m {
		var tmp [3]byte
		tmp[0] = byte(reg)
		binary.BigEndian.PutUint16(tmp[1:3], uint16(val))
		buf = append(buf, tmp[:]...)
	}
	return buf
}
