package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	gomath "math"
	"time"

	math "github.com/chewxy/math32"
	"github.com/golang/glog"
)

// ErrMalformed is returned by Decode when a raw payload cannot be shaped into a Block.
var ErrMalformed = errors.New("malformed block")

// SampleFormat describes how raw callback bytes encode samples.
type SampleFormat int

// Supported sample encodings
const (
	Float32LE SampleFormat = iota
	Int16LE
)

// Size returns the number of bytes per sample.
func (f SampleFormat) Size() int {
	if f == Int16LE {
		return 2
	}
	return 4
}

func (f SampleFormat) String() string {
	if f == Int16LE {
		return "int16"
	}
	return "float32"
}

// ParseSampleFormat accepts "float32" or "int16". An empty string is float32.
func ParseSampleFormat(s string) (SampleFormat, error) {
	switch s {
	case "", "float32", "f32":
		return Float32LE, nil
	case "int16", "i16":
		return Int16LE, nil
	}
	return Float32LE, fmt.Errorf("unknown sample format %q", s)
}

// Snapshot is the acquisition configuration that was active when a block was produced.
type Snapshot struct {
	ScanRate   string
	Mode       string
	PulseWidth int
	ScaleDown  int
}

// Block is one callback's worth of samples: Lines rows of Points samples each.
type Block struct {
	Key       Key
	Lines     int
	Points    int
	Samples   []float32 // row-major, len == Lines*Points
	Snapshot  Snapshot
	Timestamp time.Time
}

// Row returns row i of the block without copying.
func (b *Block) Row(i int) []float32 {
	return b.Samples[i*b.Points : (i+1)*b.Points]
}

// Decode packages a raw callback payload into a Block.
//
// The row count is always derived from the payload as total/points, dropping any partial
// trailing row. The device's line hint is unreliable across firmware versions and is only
// checked for consistency.
func Decode(key Key, linesHint, points int, raw []byte, byteCount int,
	format SampleFormat, snap Snapshot) (*Block, error) {

	if points <= 0 {
		return nil, fmt.Errorf("%w: point count %d", ErrMalformed, points)
	}
	if byteCount < 0 || byteCount > len(raw) {
		byteCount = len(raw)
	}
	size := format.Size()
	if byteCount%size != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrMalformed, byteCount, size)
	}

	total := byteCount / size
	lines := total / points
	if lines != linesHint && glog.V(2) {
		glog.Infof("%v: line hint %d disagrees with payload (%d samples, %d points), using %d",
			key, linesHint, total, points, lines)
	}
	if lines <= 0 {
		return nil, fmt.Errorf("%w: %d samples cannot fill a row of %d", ErrMalformed, total, points)
	}

	n := lines * points
	samples := make([]float32, n)
	switch format {
	case Int16LE:
		for i := range samples {
			samples[i] = float32(int16(binary.LittleEndian.Uint16(raw[2*i:])))
		}
	default:
		for i := range samples {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
	}

	return &Block{
		Key:       key,
		Lines:     lines,
		Points:    points,
		Samples:   samples,
		Snapshot:  snap,
		Timestamp: time.Now(),
	}, nil
}

// Encode is the inverse of Decode for the given format. Float samples are rounded and
// saturated when encoding to Int16LE.
func Encode(samples []float32, format SampleFormat) []byte {
	out := make([]byte, len(samples)*format.Size())
	for i, v := range samples {
		switch format {
		case Int16LE:
			if math.IsNaN(v) {
				v = 0
			}
			r := gomath.Max(-32768, gomath.Min(32767, gomath.Round(float64(v))))
			binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(r)))
		default:
			binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
		}
	}
	return out
}
