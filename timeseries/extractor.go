// Package timeseries follows a single position of the active stream through time for the
// secondary chart view.
package timeseries

import (
	"math"
	"strconv"
	"strings"

	"github.com/golang/glog"

	"github.com/peragwin/dasview/stream"
	"github.com/peragwin/dasview/util"
)

// Defaults for the history length and the number of points handed to a chart.
const (
	DefaultCapacity = 4000
	DefaultBudget   = 800
	DefaultScanRate = 1000.0
)

// ParseScanRate converts a scan rate label such as "10k" to Hz. A bare number is taken as
// Hz. Anything unparseable or non-positive gives DefaultScanRate.
func ParseScanRate(label string) float64 {
	s := strings.ToLower(strings.TrimSpace(label))
	mul := 1.0
	if strings.HasSuffix(s, "k") {
		mul = 1000
		s = strings.TrimSuffix(s, "k")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || v <= 0 || math.IsInf(v, 0) {
		return DefaultScanRate
	}
	return v * mul
}

// ColumnFromPixel maps a horizontal pixel on a display of displayed pixels back to a
// source column, sampling at the pixel center. The result is clamped to the source.
func ColumnFromPixel(x, displayed, source int) int {
	if source <= 0 {
		return 0
	}
	if displayed <= 0 {
		displayed = source
	}
	col := int(math.Floor((float64(x) + 0.5) * float64(source) / float64(displayed)))
	if col < 0 {
		return 0
	}
	if col >= source {
		return source - 1
	}
	return col
}

// Sample is one point of the time series.
type Sample struct {
	T float64
	V float64
}

// Extractor keeps a bounded history of one column of successive blocks.
type Extractor struct {
	column int
	width  int
	budget int
	clock  float64
	rate   float64

	times  *util.RingBuffer
	values *util.RingBuffer
}

// NewExtractor creates an extractor remembering capacity samples and returning at most
// budget points from Points.
func NewExtractor(capacity, budget int) *Extractor {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if budget < 1 {
		budget = DefaultBudget
	}
	return &Extractor{
		budget: budget,
		rate:   DefaultScanRate,
		times:  util.NewRingBuffer(capacity),
		values: util.NewRingBuffer(capacity),
	}
}

// Column returns the selected source column.
func (e *Extractor) Column() int { return e.column }

// Len returns the number of samples held.
func (e *Extractor) Len() int { return e.values.Len() }

// ScanRate returns the rate in Hz of the last appended block.
func (e *Extractor) ScanRate() float64 { return e.rate }

// Reset clears the history and restarts the clock.
func (e *Extractor) Reset() {
	e.times.Reset()
	e.values.Reset()
	e.clock = 0
}

func (e *Extractor) clampColumn(col int) int {
	if col < 0 {
		col = 0
	}
	if e.width > 0 && col >= e.width {
		col = e.width - 1
	}
	return col
}

// SetColumn selects the column to follow. Changing the column clears the history. It
// returns the column actually selected after clamping.
func (e *Extractor) SetColumn(col int) int {
	col = e.clampColumn(col)
	if col != e.column {
		e.column = col
		e.Reset()
	}
	return col
}

// SelectPixel selects the column under a pointer at x on a display displayed pixels wide.
func (e *Extractor) SelectPixel(x, displayed int) int {
	if e.width <= 0 {
		return e.column
	}
	return e.SetColumn(ColumnFromPixel(x, displayed, e.width))
}

// Append adds one sample per line of b at the selected column, advancing the clock by one
// scan period per line. A change in block width restarts the history.
func (e *Extractor) Append(b *stream.Block) {
	if b == nil || b.Points < 1 || b.Lines < 1 {
		return
	}
	if b.Points != e.width {
		e.width = b.Points
		e.Reset()
		if c := e.clampColumn(e.column); c != e.column {
			glog.V(1).Infof("time series column %d out of range, using %d", e.column, c)
			e.column = c
		}
	}

	e.rate = ParseScanRate(b.Snapshot.ScanRate)
	dt := 1 / e.rate

	ts := make([]float64, b.Lines)
	vs := make([]float64, b.Lines)
	for i := range vs {
		ts[i] = e.clock
		vs[i] = float64(b.Samples[i*b.Points+e.column])
		e.clock += dt
	}
	e.times.Push(ts...)
	e.values.Push(vs...)
}

// Values returns the held values, oldest first.
func (e *Extractor) Values() []float64 {
	return e.values.Values()
}

// Points returns the history for display. When it holds more than the budget, every
// stride-th sample is returned so that at most budget points remain.
func (e *Extractor) Points() []Sample {
	ts := e.times.Values()
	vs := e.values.Values()
	n := len(vs)
	stride := 1
	if n > e.budget {
		stride = (n + e.budget - 1) / e.budget
	}
	out := make([]Sample, 0, (n+stride-1)/stride)
	for i := 0; i < n; i += stride {
		out = append(out, Sample{ts[i], vs[i]})
	}
	return out
}
