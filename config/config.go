// Package config loads the dasview configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang/glog"
	"gopkg.in/yaml.v3"

	"github.com/peragwin/dasview/device"
	"github.com/peragwin/dasview/stream"
	"github.com/peragwin/dasview/transform"
	"github.com/peragwin/dasview/util"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid config")

// Device drivers.
const (
	DriverSim       = "sim"
	DriverWAV       = "wav"
	DriverPortAudio = "portaudio"
)

// DeviceConfig selects and shapes the acquisition device.
type DeviceConfig struct {
	Driver string `yaml:"driver"`
	// Format is the sample encoding of the device payloads: float32 or int16.
	Format string `yaml:"format"`
	Lines  int    `yaml:"lines"`
	Points int    `yaml:"points"`
	Seed   int64  `yaml:"seed"`

	WAVPath    string  `yaml:"wav_path"`
	Channels   int     `yaml:"channels"`
	SampleRate float64 `yaml:"sample_rate"`
}

// PipelineConfig sizes the ingestion path.
type PipelineConfig struct {
	QueueCapacity int           `yaml:"queue_capacity"`
	PollTimeout   time.Duration `yaml:"poll_timeout"`
}

// DisplayConfig controls the waterfall view.
type DisplayConfig struct {
	Height int `yaml:"height"`
	// TickRate is the display cadence in Hz.
	TickRate float64 `yaml:"tick_rate"`
	Palette  string  `yaml:"palette"`
	// SurfaceWidth and SurfaceHeight are the size frames are fitted to, zero for unscaled.
	SurfaceWidth  int `yaml:"surface_width"`
	SurfaceHeight int `yaml:"surface_height"`
}

// TimeSeriesConfig controls the secondary chart.
type TimeSeriesConfig struct {
	History int `yaml:"history"`
	Budget  int `yaml:"budget"`
	Column  int `yaml:"column"`
}

// HTTPConfig controls the operator server.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// Static is a directory of web assets served at /.
	Static string `yaml:"static"`
	// TransformPath is where operator transform changes are saved.
	TransformPath string `yaml:"transform_path"`
}

// Config is the whole configuration file.
type Config struct {
	Device      DeviceConfig     `yaml:"device"`
	Acquisition device.Params    `yaml:"acquisition"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Display     DisplayConfig    `yaml:"display"`
	TimeSeries  TimeSeriesConfig `yaml:"timeseries"`
	Transform   transform.Config `yaml:"transform"`
	HTTP        HTTPConfig       `yaml:"http"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Driver:     DriverSim,
			Format:     "float32",
			Lines:      100,
			Points:     400,
			Seed:       1,
			Channels:   1,
			SampleRate: 44100,
		},
		Acquisition: device.DefaultParams(),
		Pipeline: PipelineConfig{
			QueueCapacity: 6,
			PollTimeout:   time.Second,
		},
		Display: DisplayConfig{
			Height:   600,
			TickRate: 30,
			Palette:  "ramp",
		},
		TimeSeries: TimeSeriesConfig{
			History: 4000,
			Budget:  800,
		},
		Transform: transform.DefaultConfig(),
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
	}
}

// Load reads the file at path over the defaults. An empty path or a missing file gives
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			glog.Infof("config %s not found, using defaults", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as yaml to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate reports the first problem with cfg.
func (cfg *Config) Validate() error {
	d := cfg.Device
	switch d.Driver {
	case DriverSim, DriverPortAudio:
	case DriverWAV:
		if d.WAVPath == "" {
			return invalid("device.wav_path is required for the wav driver")
		}
	default:
		return invalid("unknown device.driver %q", d.Driver)
	}
	if _, err := stream.ParseSampleFormat(d.Format); err != nil {
		return invalid("device.format: %v", err)
	}
	if d.Lines < 1 || d.Points < 1 {
		return invalid("device block shape %d x %d", d.Lines, d.Points)
	}
	if d.Driver == DriverPortAudio && (d.Channels < 1 || d.Channels > 2 || d.SampleRate <= 0) {
		return invalid("portaudio needs 1 or 2 channels and a positive sample rate")
	}

	if _, err := cfg.Acquisition.Normalize().Codes(); err != nil {
		return invalid("acquisition: %v", err)
	}

	if cfg.Pipeline.QueueCapacity < 1 {
		return invalid("pipeline.queue_capacity must be at least 1")
	}
	if cfg.Pipeline.PollTimeout <= 0 {
		return invalid("pipeline.poll_timeout must be positive")
	}

	if cfg.Display.Height < 1 {
		return invalid("display.height must be at least 1")
	}
	if cfg.Display.TickRate <= 0 {
		return invalid("display.tick_rate must be positive")
	}
	if _, err := util.PaletteByName(cfg.Display.Palette); err != nil {
		return invalid("display.palette: %v", err)
	}
	if cfg.Display.SurfaceWidth < 0 || cfg.Display.SurfaceHeight < 0 {
		return invalid("display surface size must not be negative")
	}

	if cfg.TimeSeries.History < 1 || cfg.TimeSeries.Budget < 1 {
		return invalid("timeseries.history and timeseries.budget must be at least 1")
	}
	if cfg.TimeSeries.Column < 0 {
		return invalid("timeseries.column must not be negative")
	}

	if !cfg.Transform.Mode.Valid() {
		return invalid("unknown transform.mode %q", cfg.Transform.Mode)
	}
	return nil
}

// Format returns the device sample format.
func (cfg *Config) Format() stream.SampleFormat {
	f, _ := stream.ParseSampleFormat(cfg.Device.Format)
	return f
}

// TickInterval returns the display tick period.
func (cfg *Config) TickInterval() time.Duration {
	return time.Duration(float64(time.Second) / cfg.Display.TickRate)
}
