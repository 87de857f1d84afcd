package device

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/peragwin/dasview/stream"
)

func TestParams(t *testing.T) {
	p := DefaultParams()
	p.PulseWidth = 5000
	p.ScaleDown = 0
	p = p.Normalize()
	if p.PulseWidth != MaxPulseWidth || p.ScaleDown != MinScaleDown {
		t.Fatal("expected clamped params", p)
	}

	c, err := p.Codes()
	if err != nil {
		t.Fatal(err)
	}
	if c != (Codes{AOM: 0, ScanRate: 3, Mode: 0}) {
		t.Fatal("unexpected codes", c)
	}

	p.AOM = AOM200
	p.ScanRate = "2k"
	p.Mode = "Coherent + Polarization"
	if c, _ := p.Codes(); c != (Codes{1, 1, 2}) {
		t.Fatal("unexpected codes", c)
	}

	for _, bad := range []Params{
		{AOM: 100, ScanRate: "1k", Mode: Modes[0]},
		{AOM: AOM80, ScanRate: "3k", Mode: Modes[0]},
		{AOM: AOM80, ScanRate: "1k", Mode: "Fancy"},
	} {
		if _, err := bad.Codes(); err == nil {
			t.Fatal("expected an error", bad)
		}
	}

	snap := p.Snapshot()
	if snap.ScanRate != "2k" || snap.PulseWidth != MaxPulseWidth || snap.ScaleDown != 1 {
		t.Fatal("unexpected snapshot", snap)
	}
}

func TestStatus(t *testing.T) {
	if Status("open", 0) != nil {
		t.Fatal("zero status should be success")
	}
	err := Status("open", -3)
	var se *StatusError
	if !errors.As(err, &se) || se.Op != "open" || se.Code != -3 {
		t.Fatal("expected a status error", err)
	}
}

type recorder struct {
	sync.Mutex
	blocks map[stream.Key][]*stream.Block
}

func (r *recorder) register(t *testing.T, d Driver, format stream.SampleFormat) {
	r.blocks = make(map[stream.Key][]*stream.Block)
	for _, key := range stream.Keys {
		key := key
		d.SetCallback(key, func(hint, points int, raw []byte, n int) {
			b, err := stream.Decode(key, hint, points, raw, n, format, stream.Snapshot{})
			if err != nil {
				t.Error(err)
				return
			}
			r.Lock()
			r.blocks[key] = append(r.blocks[key], b)
			r.Unlock()
		})
	}
}

func (r *recorder) count(key stream.Key) int {
	r.Lock()
	defer r.Unlock()
	return len(r.blocks[key])
}

func TestSimulatorLifecycle(t *testing.T) {
	s := NewSimulator(10, 64, 1)
	if err := s.Open(); err == nil {
		t.Fatal("open before configure should fail")
	}
	if err := s.Configure(Params{AOM: 42}); err == nil {
		t.Fatal("invalid params should fail")
	}
	if err := s.Configure(DefaultParams()); err != nil {
		t.Fatal(err)
	}

	s.OpenStatus = 7
	var se *StatusError
	if err := s.Open(); !errors.As(err, &se) || se.Code != 7 {
		t.Fatal("expected open status 7", err)
	}
	s.OpenStatus = 0
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}

	s.StartStatus = 2
	if err := s.Start(); !errors.As(err, &se) || se.Op != "start" {
		t.Fatal("expected start status", err)
	}
	if s.Running() {
		t.Fatal("failed start should not run")
	}
	s.StartStatus = 0

	var rec recorder
	rec.register(t, s, stream.Float32LE)
	s.Interval = time.Millisecond
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for rec.count(stream.Keys[3]) < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(); err != nil {
		t.Fatal("second stop should be a no-op", err)
	}
	for _, key := range stream.Keys {
		if rec.count(key) < 3 {
			t.Fatal("expected blocks on", key, rec.count(key))
		}
		b := rec.blocks[key][0]
		if b.Lines != 10 || b.Points != 64 {
			t.Fatal("unexpected shape", b.Lines, b.Points)
		}
	}

	if err := s.Teardown(); err != nil {
		t.Fatal(err)
	}
	if s.Emit() != 0 {
		t.Fatal("teardown should unregister callbacks")
	}
}

func TestSimulatorInt16(t *testing.T) {
	s := NewSimulator(4, 32, 2)
	s.Format = stream.Int16LE
	if err := s.Configure(DefaultParams()); err != nil {
		t.Fatal(err)
	}
	var rec recorder
	rec.register(t, s, stream.Int16LE)
	s.SetCallback(stream.Keys[1], nil)
	if n := s.Emit(); n != 3 {
		t.Fatal(3, n)
	}
	b := rec.blocks[stream.Keys[0]][0]
	if b.Lines != 4 || b.Points != 32 {
		t.Fatal("unexpected shape", b.Lines, b.Points)
	}
	for _, v := range b.Samples {
		if v < 0 {
			t.Fatal("amplitude should not be negative", v)
		}
	}
}

func TestEmitAudio(t *testing.T) {
	var cbs Callbacks
	var rec recorder
	rec.blocks = make(map[stream.Key][]*stream.Block)
	for _, key := range stream.Keys {
		key := key
		cbs.Set(key, func(hint, points int, raw []byte, n int) {
			b, err := stream.Decode(key, hint, points, raw, n, stream.Float32LE, stream.Snapshot{})
			if err != nil {
				t.Fatal(err)
			}
			rec.blocks[key] = append(rec.blocks[key], b)
		})
	}

	mono := [][]float32{{0.5, -0.25, 1, -1, 0, 0.75, 0.1}}
	if n := EmitAudio(&cbs, mono, 3, stream.Float32LE); n != 2 {
		t.Fatal(2, n)
	}
	phase := rec.blocks[stream.Key{Channel: 2, Kind: stream.Phase}][0]
	if phase.Lines != 2 || phase.Samples[1] != -0.25 {
		t.Fatal("mono input should feed channel 2", phase)
	}
	amp := rec.blocks[stream.Key{Channel: 1, Kind: stream.Amplitude}][0]
	if amp.Samples[3] != 1 {
		t.Fatal("amplitude should be the magnitude", amp.Samples)
	}

	if EmitAudio(&cbs, mono, 8, stream.Float32LE) != 0 {
		t.Fatal("short audio should emit nothing")
	}
}

func TestWAVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.wav")
	left := make([]float32, 1000)
	right := make([]float32, 1000)
	for i := range left {
		left[i] = float32(i%100)/100 - 0.5
		right[i] = -left[i]
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteWAV(f, [][]float32{left, right}, 8000, 16); err != nil {
		t.Fatal(err)
	}
	f.Close()

	f, err = os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	chans, rate, err := ReadWAV(f)
	f.Close()
	if err != nil {
		t.Fatal(err)
	}
	if rate != 8000 || len(chans) != 2 || len(chans[0]) != 1000 {
		t.Fatal("unexpected wav", rate, len(chans))
	}
	got := make([]float64, len(left))
	want := make([]float64, len(left))
	for i := range left {
		got[i], want[i] = float64(chans[1][i]), float64(right[i])
	}
	if !floats.EqualApprox(got, want, 1e-4) {
		t.Fatal("samples did not survive the round trip")
	}

	d := NewWAV(path, 4, 100)
	if err := d.Open(); err == nil {
		t.Fatal("open before configure should fail")
	}
	if err := d.Configure(DefaultParams()); err != nil {
		t.Fatal(err)
	}
	if err := d.Open(); err != nil {
		t.Fatal(err)
	}
	var rec recorder
	rec.register(t, d, stream.Float32LE)
	for i := 0; i < 3; i++ {
		if n := d.Emit(); n != 4 {
			t.Fatal(4, n)
		}
	}
	// 1000 frames hold two whole blocks, the third wraps around to the start
	first := rec.blocks[stream.Key{Channel: 1, Kind: stream.Phase}]
	if first[2].Samples[0] != first[0].Samples[0] {
		t.Fatal("replay should loop")
	}
	if err := d.Teardown(); err != nil {
		t.Fatal(err)
	}
}

func TestWAVInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	if err := os.WriteFile(path, []byte("definitely not riff data"), 0644); err != nil {
		t.Fatal(err)
	}
	d := NewWAV(path, 1, 1)
	d.Configure(DefaultParams())
	if err := d.Open(); err == nil {
		t.Fatal("expected an invalid file error")
	}
}

func TestNonPositiveBlockInterval(t *testing.T) {
	s := NewSimulator(0, 64, 1)
	if err := s.Configure(DefaultParams()); err != nil {
		t.Fatal(err)
	}
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); !errors.Is(err, errInterval) {
		t.Fatal(errInterval, err)
	}
	if s.Running() {
		t.Fatal("simulator without lines should not run")
	}

	path := filepath.Join(t.TempDir(), "short.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteWAV(f, [][]float32{make([]float32, 64)}, 8000, 16); err != nil {
		t.Fatal(err)
	}
	f.Close()
	d := NewWAV(path, 0, 16)
	if err := d.Configure(DefaultParams()); err != nil {
		t.Fatal(err)
	}
	if err := d.Open(); !errors.Is(err, errInterval) {
		t.Fatal(errInterval, err)
	}
	if err := d.Start(); err == nil {
		t.Fatal("start without a loaded recording should fail")
	}
}
