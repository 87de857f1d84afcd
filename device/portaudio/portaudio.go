// Package portaudio is a bench Driver reading a live audio input, so the pipeline can be
// exercised with a microphone or line-in when no sensing device is attached.
package portaudio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"
	"github.com/gordonklaus/portaudio"

	"github.com/peragwin/dasview/device"
	"github.com/peragwin/dasview/stream"
)

// Config describes the input stream to open.
type Config struct {
	// Channels is the number of input channels, 1 or 2.
	Channels int
	// SampleRate is the sample rate (Fs).
	SampleRate float64
	// Lines and Points set the block shape. One block is read per Lines*Points frames.
	Lines  int
	Points int
	Format stream.SampleFormat
}

// Device implements device.Driver over the default portaudio input.
type Device struct {
	cfg Config
	cbs device.Callbacks

	mu     sync.Mutex
	stream *portaudio.Stream
	in     []float32
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates a device. portaudio is not initialized until Open.
func New(cfg Config) *Device {
	if cfg.Channels < 1 {
		cfg.Channels = 1
	}
	if cfg.Channels > 2 {
		cfg.Channels = 2
	}
	return &Device{cfg: cfg}
}

// SetCallback implements device.Driver.
func (d *Device) SetCallback(key stream.Key, cb device.Callback) { d.cbs.Set(key, cb) }

// Configure implements device.Driver. The acquisition parameters only need to be valid.
func (d *Device) Configure(p device.Params) error {
	_, err := p.Normalize().Codes()
	return err
}

// Open implements device.Driver.
func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("Error initializing portaudio: %v", err)
	}
	frames := d.cfg.Lines * d.cfg.Points
	d.in = make([]float32, frames*d.cfg.Channels)
	s, err := portaudio.OpenDefaultStream(d.cfg.Channels, 0, d.cfg.SampleRate, frames, d.in)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("Error opening stream: %v", err)
	}
	d.stream = s
	return nil
}

// Start implements device.Driver.
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil {
		return errors.New("device is not open")
	}
	if d.done != nil {
		return nil
	}
	if err := d.stream.Start(); err != nil {
		return fmt.Errorf("Error starting stream: %v", err)
	}
	d.done = make(chan struct{})
	d.wg.Add(1)
	go d.read(d.stream, d.done)
	return nil
}

func (d *Device) read(s *portaudio.Stream, done <-chan struct{}) {
	defer d.wg.Done()
	nch := d.cfg.Channels
	frames := len(d.in) / nch
	chans := make([][]float32, nch)
	for c := range chans {
		chans[c] = make([]float32, frames)
	}
	for {
		select {
		case <-done:
			return
		default:
		}

		if err := s.Read(); err != nil {
			glog.Errorf("Error reading from stream: %v", err)
			return
		}
		for i := 0; i < frames; i++ {
			for c := 0; c < nch; c++ {
				chans[c][i] = d.in[i*nch+c]
			}
		}
		device.EmitAudio(&d.cbs, chans, d.cfg.Points, d.cfg.Format)
	}
}

// Stop implements device.Driver.
func (d *Device) Stop() error {
	d.mu.Lock()
	done := d.done
	d.done = nil
	s := d.stream
	d.mu.Unlock()
	if done == nil {
		return nil
	}
	close(done)
	// Read blocks until a buffer is full, so stop the stream first to release it.
	err := s.Stop()
	d.wg.Wait()
	return err
}

// Teardown implements device.Driver.
func (d *Device) Teardown() error {
	err := d.Stop()
	d.cbs.Clear()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil {
		if cerr := d.stream.Close(); err == nil {
			err = cerr
		}
		d.stream = nil
		portaudio.Terminate()
	}
	return err
}

// PrintDevices logs the available host APIs and their devices.
func PrintDevices() error {
	if err := portaudio.Initialize(); err != nil {
		return err
	}
	defer portaudio.Terminate()
	hs, err := portaudio.HostApis()
	if err != nil {
		return err
	}
	for _, h := range hs {
		glog.Infof("host api %s", h.Name)
		for _, dev := range h.Devices {
			glog.Infof("\t%s: %d in, %d out, %.0f Hz",
				dev.Name, dev.MaxInputChannels, dev.MaxOutputChannels, dev.DefaultSampleRate)
		}
	}
	return nil
}
