package device

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/peragwin/dasview/stream"
)

// scanHz is the line rate in Hz for each scan rate code.
var scanHz = []float64{1000, 2000, 4000, 10000}

var (
	errNotConfigured = errors.New("device is not configured")
	errNotOpen       = errors.New("device is not open")
	errRunning       = errors.New("device is running")
	errInterval      = errors.New("block interval is not positive")
)

// Simulator is a Driver producing synthetic sensing data: slowly travelling disturbances
// over a noisy baseline on every stream. Status codes for Open, Start and Stop can be
// injected to exercise error paths.
type Simulator struct {
	// Lines and Points set the block shape.
	Lines  int
	Points int
	// Interval between blocks. Zero derives it from the scan rate so that data arrives in
	// real time.
	Interval time.Duration
	Format   stream.SampleFormat
	// Gain scales the synthetic signal.
	Gain float64

	OpenStatus  int
	StartStatus int
	StopStatus  int

	cbs Callbacks

	mu         sync.Mutex
	params     Params
	rate       float64
	configured bool
	opened     bool
	done       chan struct{}
	wg         sync.WaitGroup
	rng        *rand.Rand
	clock      float64
}

// NewSimulator creates a simulator producing blocks of lines x points samples.
func NewSimulator(lines, points int, seed int64) *Simulator {
	return &Simulator{
		Lines:  lines,
		Points: points,
		Gain:   1000,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// SetCallback implements Driver.
func (s *Simulator) SetCallback(key stream.Key, cb Callback) { s.cbs.Set(key, cb) }

// Configure implements Driver.
func (s *Simulator) Configure(p Params) error {
	p = p.Normalize()
	codes, err := p.Codes()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return errRunning
	}
	s.params = p
	s.rate = scanHz[codes.ScanRate]
	s.configured = true
	return nil
}

// Open implements Driver.
func (s *Simulator) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.configured {
		return errNotConfigured
	}
	if err := Status("open", s.OpenStatus); err != nil {
		return err
	}
	s.opened = true
	return nil
}

// Start implements Driver.
func (s *Simulator) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return errNotOpen
	}
	if s.done != nil {
		return nil
	}
	if err := Status("start", s.StartStatus); err != nil {
		return err
	}

	interval := s.Interval
	if interval <= 0 && s.Lines > 0 && s.rate > 0 {
		interval = time.Duration(float64(s.Lines) / s.rate * float64(time.Second))
	}
	if interval <= 0 || s.Lines <= 0 || s.Points <= 0 {
		return fmt.Errorf("%w: %d x %d blocks at %g Hz", errInterval, s.Lines, s.Points, s.rate)
	}
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.run(interval, s.done)
	glog.Infof("simulator started: %d x %d blocks every %v", s.Lines, s.Points, interval)
	return nil
}

func (s *Simulator) run(interval time.Duration, done <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.Emit()
		}
	}
}

// Stop implements Driver. Stopping a stopped simulator does nothing.
func (s *Simulator) Stop() error {
	s.mu.Lock()
	done := s.done
	s.done = nil
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	close(done)
	s.wg.Wait()
	return Status("stop", s.StopStatus)
}

// Teardown implements Driver.
func (s *Simulator) Teardown() error {
	err := s.Stop()
	s.cbs.Clear()
	s.mu.Lock()
	s.opened = false
	s.configured = false
	s.mu.Unlock()
	return err
}

// Running reports whether the block generator is active.
func (s *Simulator) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

// Emit synchronously delivers one block to every registered callback and returns the
// number of callbacks invoked.
func (s *Simulator) Emit() int {
	s.mu.Lock()
	payloads := make(map[stream.Key][]byte, len(stream.Keys))
	t0 := s.clock
	for _, key := range stream.Keys {
		if s.cbs.Get(key) == nil {
			continue
		}
		payloads[key] = stream.Encode(s.synthesize(key, t0), s.Format)
	}
	rate := s.rate
	if rate <= 0 {
		rate = scanHz[len(scanHz)-1]
	}
	s.clock += float64(s.Lines) / rate
	s.mu.Unlock()

	n := 0
	for _, key := range stream.Keys {
		if raw, ok := payloads[key]; ok && s.cbs.Emit(key, s.Lines, s.Points, raw) {
			n++
		}
	}
	return n
}

// synthesize builds one block for key starting at time t0. Callers hold s.mu.
func (s *Simulator) synthesize(key stream.Key, t0 float64) []float32 {
	rate := s.rate
	if rate <= 0 {
		rate = scanHz[len(scanHz)-1]
	}
	points := float64(s.Points)
	sigma := math.Max(2, points/60)
	speed := points / 8 * float64(key.Channel)
	out := make([]float32, s.Lines*s.Points)
	for i := 0; i < s.Lines; i++ {
		t := t0 + float64(i)/rate
		pos := math.Mod(points/4+speed*t, points)
		burst := math.Sin(2 * math.Pi * 35 * t)
		for j := 0; j < s.Points; j++ {
			d := (float64(j) - pos) / sigma
			bump := math.Exp(-d * d / 2)
			var v float64
			switch key.Kind {
			case stream.Amplitude:
				v = 1 + 4*bump*math.Abs(burst) + 0.05*s.rng.NormFloat64()
			default:
				v = 0.3*math.Sin(2*math.Pi*5*t+float64(j)*0.02) + 2*bump*burst + 0.05*s.rng.NormFloat64()
			}
			out[i*s.Points+j] = float32(v * s.Gain)
		}
	}
	return out
}
