package transform

import (
	"encoding/json"
	"errors"
	"math"
	"os"
)

// Mode selects the pre-processing applied to a block before scaling.
type Mode string

// Transform modes
const (
	Linear    Mode = "Linear"
	Abs       Mode = "Abs"
	LogDB     Mode = "Log(dB)"
	HighPass  Mode = "HP(MeanRemove)"
	EnergyLog Mode = "EnergyLog(MSE)"
)

// Modes lists every supported mode in display order.
var Modes = []Mode{Linear, Abs, LogDB, HighPass, EnergyLog}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	for _, v := range Modes {
		if m == v {
			return true
		}
	}
	return false
}

// Absolute reports whether the mode scales against the fixed [VMin, VMax] range rather than
// percentiles of the block.
func (m Mode) Absolute() bool { return m == EnergyLog }

// Config is the set of operator parameters that control a transform. It is passed by value
// into every Apply; changes only affect blocks processed afterwards.
type Config struct {
	Mode Mode `json:"mode" yaml:"mode"`
	// Window is the rolling energy window length in lines.
	Window int `json:"window" yaml:"window"`

	PercentileLo float64 `json:"pLo" yaml:"p_lo"`
	PercentileHi float64 `json:"pHi" yaml:"p_hi"`

	// VMin and VMax bound the log energy in absolute scaling modes.
	VMin float64 `json:"vmin" yaml:"vmin"`
	VMax float64 `json:"vmax" yaml:"vmax"`

	Gamma   float64 `json:"gamma" yaml:"gamma"`
	Epsilon float64 `json:"eps" yaml:"eps"`
	Invert  bool    `json:"invert" yaml:"invert"`
	// Log10 selects log10 over the natural log for energy compression.
	Log10 bool `json:"log10" yaml:"log10"`
}

// DefaultConfig returns a set of parameters that work okay for most fibers.
func DefaultConfig() Config {
	return Config{
		Mode:         Linear,
		Window:       32,
		PercentileLo: 5,
		PercentileHi: 95,
		VMin:         -6,
		VMax:         0,
		Gamma:        1,
		Epsilon:      1e-6,
		Invert:       true,
		Log10:        true,
	}
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// Sanitize clamps operator supplied values into ranges the engine can work with.
func (c Config) Sanitize() Config {
	if !c.Mode.Valid() {
		c.Mode = Linear
	}
	if c.Window < 1 {
		c.Window = 1
	}

	if !finite(c.PercentileLo) {
		c.PercentileLo = 0
	}
	if !finite(c.PercentileHi) {
		c.PercentileHi = 100
	}
	c.PercentileLo = math.Max(0, math.Min(100, c.PercentileLo))
	c.PercentileHi = math.Max(0, math.Min(100, c.PercentileHi))
	if c.PercentileHi <= c.PercentileLo {
		if c.PercentileLo > 100-1e-3 {
			c.PercentileLo, c.PercentileHi = 100-1e-3, 100
		} else {
			c.PercentileHi = c.PercentileLo + 1e-3
		}
	}

	if !finite(c.Epsilon) || c.Epsilon <= 0 {
		c.Epsilon = 1e-6
	}
	c.Epsilon = math.Max(1e-12, math.Min(1, c.Epsilon))

	if !finite(c.Gamma) || c.Gamma <= 0 {
		c.Gamma = 1
	}

	if !finite(c.VMin) {
		c.VMin = -6
	}
	if !finite(c.VMax) || c.VMax <= c.VMin {
		c.VMax = c.VMin + 1e-6
	}
	return c
}

// SaveConfig writes the configuration to the given file as JSON.
func SaveConfig(path string, c Config) error {
	fp, err := os.Create(path)
	if err != nil {
		return err
	}
	defer fp.Close()
	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	return enc.Encode(&c)
}

// LoadConfig reads a configuration saved by SaveConfig. Fields missing from the file keep
// their defaults. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	fp, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return c, err
	}
	defer fp.Close()
	if err := json.NewDecoder(fp).Decode(&c); err != nil {
		return DefaultConfig(), err
	}
	return c.Sanitize(), nil
}
