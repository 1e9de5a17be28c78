package config

import (
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"github.com/psi46/pxarcore/dut"
)

// FileSpec is the on-disk shape of a DUT bring-up file, loaded with koanf
// the way cmd/multiserver/main.go loads multiserver.yml: a structs.Provider
// seeds defaults, a file.Provider overlays the user's YAML, then
// k.Unmarshal produces the typed struct consumed by InitDUT.
//
// This is deliberately a flatter, YAML-tagged mirror of DutSpec rather than
// DutSpec itself, because koanf unmarshals most naturally into plain
// exported fields with koanf tags, and because the wire format (human
// hand-edited YAML) need not match the validated in-memory shape 1:1 --
// the same separation the teacher keeps between its YAML ObjSetup and its
// runtime generichttp.HTTPer.
type FileSpec struct {
	HubID     uint8             `koanf:"hubid"`
	SigDelays map[string]int    `koanf:"sigdelays"`
	Power     map[string]float64 `koanf:"power"`
	PgProgram []struct {
		Signal string `koanf:"signal"`
		Delay  uint8  `koanf:"delay"`
	} `koanf:"pgprogram"`

	Tbms []struct {
		Type string         `koanf:"type"`
		Dacs map[string]int `koanf:"dacs"`
	} `koanf:"tbms"`

	Rocs []struct {
		Type   string         `koanf:"type"`
		Dacs   map[string]int `koanf:"dacs"`
		Pixels []struct {
			Column int  `koanf:"column"`
			Row    int  `koanf:"row"`
			Trim   int  `koanf:"trim"`
			Enable bool `koanf:"enable"`
			Mask   bool `koanf:"mask"`
		} `koanf:"pixels"`
	} `koanf:"rocs"`
}

// DefaultFileSpec returns the zero-value bring-up defaults (hub 0, no
// ROCs/TBMs, power left empty so InitDUT's CheckPower changes nothing and
// the defaults dut.New sets stay in place).
func DefaultFileSpec() FileSpec {
	return FileSpec{}
}

// LoadFile reads a YAML DUT bring-up file from path, overlaying it onto
// DefaultFileSpec, and returns the DutSpec InitDUT expects.
func LoadFile(path string) (DutSpec, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultFileSpec(), "koanf"), nil); err != nil {
		return DutSpec{}, err
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return DutSpec{}, err
	}

	var fs FileSpec
	if err := k.Unmarshal("", &fs); err != nil {
		return DutSpec{}, err
	}
	return fs.toDutSpec(), nil
}

func (fs FileSpec) toDutSpec() DutSpec {
	spec := DutSpec{
		HubID:     fs.HubID,
		SigDelays: fs.SigDelays,
		Power:     fs.Power,
	}
	for _, e := range fs.PgProgram {
		spec.PgProgram = append(spec.PgProgram, PgProgramEntry{Signal: e.Signal, Delay: e.Delay})
	}
	for _, t := range fs.Tbms {
		spec.Tbms = append(spec.Tbms, TbmSpec{Type: t.Type, Dacs: t.Dacs})
	}
	for _, r := range fs.Rocs {
		rs := RocSpec{Type: r.Type, Dacs: r.Dacs}
		for _, p := range r.Pixels {
			rs.Pixels = append(rs.Pixels, dut.PixelConfig{
				Column: p.Column, Row: p.Row, Trim: p.Trim, Enable: p.Enable, Mask: p.Mask,
			})
		}
		spec.Rocs = append(spec.Rocs, rs)
	}
	return spec
}
