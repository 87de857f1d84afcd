package device

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/golang/glog"

	"github.com/peragwin/dasview/stream"
)

// ReadWAV decodes a PCM wav stream into per-channel samples normalized to [-1, 1].
func ReadWAV(r io.ReadSeeker) ([][]float32, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, errors.New("not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, err
	}

	nch := int(dec.NumChans)
	if nch < 1 {
		return nil, 0, fmt.Errorf("wav file has %d channels", nch)
	}
	depth := int(dec.BitDepth)
	if depth < 8 || depth > 32 {
		return nil, 0, fmt.Errorf("unsupported wav bit depth %d", depth)
	}
	full := float32(int64(1) << uint(depth-1))

	frames := len(buf.Data) / nch
	chans := make([][]float32, nch)
	for c := range chans {
		chans[c] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < nch; c++ {
			chans[c][i] = float32(buf.Data[i*nch+c]) / full
		}
	}
	return chans, int(dec.SampleRate), nil
}

// WriteWAV encodes per-channel samples in [-1, 1] as a PCM wav stream.
func WriteWAV(w io.WriteSeeker, chans [][]float32, sampleRate, bitDepth int) error {
	if len(chans) == 0 {
		return errors.New("no channels to write")
	}
	nch := len(chans)
	frames := len(chans[0])
	full := float32(int64(1)<<uint(bitDepth-1) - 1)

	data := make([]int, frames*nch)
	for i := 0; i < frames; i++ {
		for c := 0; c < nch; c++ {
			v := chans[c][i]
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			data[i*nch+c] = int(v * full)
		}
	}

	enc := wav.NewEncoder(w, sampleRate, bitDepth, nch, 1)
	err := enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: nch, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	})
	if err != nil {
		return err
	}
	return enc.Close()
}

// WAV is a Driver replaying a wav recording in real time, for bench testing the pipeline
// with real signals. It loops at the end of the file.
type WAV struct {
	Path   string
	Lines  int
	Points int
	Format stream.SampleFormat

	cbs Callbacks

	mu         sync.Mutex
	configured bool
	chans      [][]float32
	rate       int
	pos        int
	done       chan struct{}
	wg         sync.WaitGroup
}

// NewWAV creates a replay device for the file at path.
func NewWAV(path string, lines, points int) *WAV {
	return &WAV{Path: path, Lines: lines, Points: points}
}

// SetCallback implements Driver.
func (d *WAV) SetCallback(key stream.Key, cb Callback) { d.cbs.Set(key, cb) }

// Configure implements Driver. The acquisition parameters do not affect a recording beyond
// being validated.
func (d *WAV) Configure(p Params) error {
	if _, err := p.Normalize().Codes(); err != nil {
		return err
	}
	d.mu.Lock()
	d.configured = true
	d.mu.Unlock()
	return nil
}

// Open implements Driver by loading the recording.
func (d *WAV) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.configured {
		return errNotConfigured
	}
	f, err := os.Open(d.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	chans, rate, err := ReadWAV(f)
	if err != nil {
		return fmt.Errorf("%s: %w", d.Path, err)
	}
	if rate <= 0 || d.Lines <= 0 || d.Points <= 0 {
		return fmt.Errorf("%s: %w: %d x %d blocks at %d Hz", d.Path, errInterval, d.Lines, d.Points, rate)
	}
	if len(chans[0]) < d.Lines*d.Points {
		return fmt.Errorf("%s: recording shorter than one block", d.Path)
	}
	d.chans, d.rate, d.pos = chans, rate, 0
	glog.Infof("loaded %s: %d channels, %d frames at %d Hz", d.Path, len(chans), len(chans[0]), rate)
	return nil
}

// Start implements Driver.
func (d *WAV) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.chans == nil {
		return errNotOpen
	}
	if d.done != nil {
		return nil
	}
	interval := time.Duration(float64(d.Lines*d.Points) / float64(d.rate) * float64(time.Second))
	if interval <= 0 {
		return errInterval
	}
	d.done = make(chan struct{})
	d.wg.Add(1)
	go func(done <-chan struct{}) {
		defer d.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				d.Emit()
			}
		}
	}(d.done)
	return nil
}

// Emit delivers the next block of the recording and returns the lines delivered.
func (d *WAV) Emit() int {
	d.mu.Lock()
	if d.chans == nil {
		d.mu.Unlock()
		return 0
	}
	n := d.Lines * d.Points
	if d.pos+n > len(d.chans[0]) {
		d.pos = 0
	}
	block := make([][]float32, len(d.chans))
	for c, ch := range d.chans {
		block[c] = ch[d.pos : d.pos+n]
	}
	d.pos += n
	d.mu.Unlock()

	return EmitAudio(&d.cbs, block, d.Points, d.Format)
}

// Stop implements Driver.
func (d *WAV) Stop() error {
	d.mu.Lock()
	done := d.done
	d.done = nil
	d.mu.Unlock()
	if done != nil {
		close(done)
		d.wg.Wait()
	}
	return nil
}

// Teardown implements Driver.
func (d *WAV) Teardown() error {
	err := d.Stop()
	d.cbs.Clear()
	d.mu.Lock()
	d.chans = nil
	d.configured = false
	d.mu.Unlock()
	return err
}
