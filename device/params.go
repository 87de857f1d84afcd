package device

import (
	"fmt"

	"github.com/peragwin/dasview/stream"
)

// AOM is the acousto-optic modulator frequency in MHz.
type AOM int

// Supported modulators.
const (
	AOM80  AOM = 80
	AOM200 AOM = 200
)

// ScanRates lists the repeat scanning frequency labels in driver code order.
var ScanRates = []string{"1k", "2k", "4k", "10k"}

// Modes lists the demodulation mode labels in driver code order.
var Modes = []string{
	"Coherent Suppression",
	"Polarization Suppression",
	"Coherent + Polarization",
}

// Parameter limits.
const (
	MinPulseWidth = 1
	MaxPulseWidth = 2000
	MinScaleDown  = 1
	MaxScaleDown  = 10
)

// Params are the acquisition parameters passed to Driver.Configure.
type Params struct {
	AOM        AOM    `json:"aom" yaml:"aom"`
	ScanRate   string `json:"scanRate" yaml:"scan_rate"`
	Mode       string `json:"mode" yaml:"mode"`
	PulseWidth int    `json:"pulseWidth" yaml:"pulse_width"`
	ScaleDown  int    `json:"scaleDown" yaml:"scale_down"`

	// ReadBlocks and CacheBlocks size the driver's internal block buffers.
	ReadBlocks  int `json:"readBlocks" yaml:"read_blocks"`
	CacheBlocks int `json:"cacheBlocks" yaml:"cache_blocks"`
}

// DefaultParams returns the parameters a device powers up with.
func DefaultParams() Params {
	return Params{
		AOM:         AOM80,
		ScanRate:    "10k",
		Mode:        Modes[0],
		PulseWidth:  100,
		ScaleDown:   2,
		ReadBlocks:  3,
		CacheBlocks: 3,
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Normalize clamps the numeric parameters into their supported ranges.
func (p Params) Normalize() Params {
	p.PulseWidth = clampInt(p.PulseWidth, MinPulseWidth, MaxPulseWidth)
	p.ScaleDown = clampInt(p.ScaleDown, MinScaleDown, MaxScaleDown)
	if p.ReadBlocks < 1 {
		p.ReadBlocks = 3
	}
	if p.CacheBlocks < 1 {
		p.CacheBlocks = 3
	}
	return p
}

// Codes holds the driver enum values for a set of Params.
type Codes struct {
	AOM      int
	ScanRate int
	Mode     int
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

// Codes maps the labelled parameters to driver codes. Unknown labels are an error.
func (p Params) Codes() (Codes, error) {
	var c Codes
	switch p.AOM {
	case AOM80:
		c.AOM = 0
	case AOM200:
		c.AOM = 1
	default:
		return c, fmt.Errorf("unsupported AOM %d MHz", p.AOM)
	}
	if c.ScanRate = indexOf(ScanRates, p.ScanRate); c.ScanRate < 0 {
		return c, fmt.Errorf("unsupported scan rate %q", p.ScanRate)
	}
	if c.Mode = indexOf(Modes, p.Mode); c.Mode < 0 {
		return c, fmt.Errorf("unsupported mode %q", p.Mode)
	}
	return c, nil
}

// Snapshot is the part of the parameters attached to every block.
func (p Params) Snapshot() stream.Snapshot {
	return stream.Snapshot{
		ScanRate:   p.ScanRate,
		Mode:       p.Mode,
		PulseWidth: p.PulseWidth,
		ScaleDown:  p.ScaleDown,
	}
}
