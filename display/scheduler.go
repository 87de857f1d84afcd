package display

import (
	"context"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"
	"gonum.org/v1/plot/vg"

	"github.com/peragwin/dasview/stream"
	"github.com/peragwin/dasview/timeseries"
	"github.com/peragwin/dasview/transform"
	"github.com/peragwin/dasview/util"
	"github.com/peragwin/dasview/waterfall"
)

// DefaultInterval is the display tick period, 30 Hz.
const DefaultInterval = time.Second / 30

// Options configure a Scheduler.
type Options struct {
	Height   int
	Interval time.Duration
	// Size is the surface size frames are fitted to. Zero presents frames unscaled.
	Size    image.Point
	Palette *util.Palette
	// History and Budget size the time series extractor.
	History int
	Budget  int
}

// Status describes the last effective render.
type Status struct {
	Stream   string          `json:"stream"`
	Mode     transform.Mode  `json:"mode"`
	PLo      float64         `json:"pLo"`
	PHi      float64         `json:"pHi"`
	Gamma    float64         `json:"gamma"`
	Snapshot stream.Snapshot `json:"snapshot"`
	Lines    int             `json:"lines"`
	Points   int             `json:"points"`
	Column   int             `json:"column"`
	Frames   uint64          `json:"frames"`
}

func (s Status) String() string {
	if s.Frames == 0 {
		return fmt.Sprintf("%s | waiting for data", s.Stream)
	}
	return fmt.Sprintf("%s | %s p%.1f-%.1f gamma %.2f | %s %s pw %d sd %d | %d x %d",
		s.Stream, s.Mode, s.PLo, s.PHi, s.Gamma,
		s.Snapshot.ScanRate, s.Snapshot.Mode, s.Snapshot.PulseWidth, s.Snapshot.ScaleDown,
		s.Lines, s.Points)
}

// Scheduler pulls the latest block for the selected stream from a cache at a fixed
// cadence, transforms it into the waterfall and presents the result.
//
// Selection and transform settings may be changed from any goroutine. Renders are never
// closer together than the tick interval, except that the first render after a settings
// change is not throttled.
type Scheduler struct {
	cache    *stream.Cache
	surface  Surface
	interval time.Duration

	mu        sync.Mutex
	key       stream.Key
	cfg       transform.Config
	palette   *util.Palette
	size      image.Point
	force     bool
	reset     bool
	newSeries bool
	last      time.Time
	column    int
	pixel     image.Point
	pending   int
	status    Status

	// the renderer and extractor belong to the tick
	render   sync.Mutex
	renderer *waterfall.Renderer
	series   *timeseries.Extractor
}

const (
	pendingNone = iota
	pendingColumn
	pendingPixel
)

// NewScheduler creates a scheduler presenting to surface. The initial selection is channel
// 1 amplitude with the default transform.
func NewScheduler(cache *stream.Cache, surface Surface, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Height < 1 {
		opts.Height = waterfall.DefaultHeight
	}
	key := stream.Keys[0]
	return &Scheduler{
		cache:    cache,
		surface:  surface,
		interval: opts.Interval,
		key:      key,
		cfg:      transform.DefaultConfig(),
		palette:  opts.Palette,
		size:     opts.Size,
		status:   Status{Stream: key.String()},
		renderer: waterfall.NewRenderer(opts.Height),
		series:   timeseries.NewExtractor(opts.History, opts.Budget),
	}
}

// Poke lets the next tick render without waiting out the throttle.
func (s *Scheduler) Poke() {
	s.mu.Lock()
	s.force = true
	s.mu.Unlock()
}

// Select changes the displayed stream. The waterfall keeps scrolling across the change,
// the time series starts over.
func (s *Scheduler) Select(key stream.Key) error {
	if !key.Valid() {
		return fmt.Errorf("unknown stream %v", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if key != s.key {
		s.key = key
		s.newSeries = true
	}
	s.force = true
	return nil
}

// Selected returns the displayed stream.
func (s *Scheduler) Selected() stream.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// SetConfig replaces the transform configuration. It returns the sanitized value in use.
func (s *Scheduler) SetConfig(cfg transform.Config) transform.Config {
	cfg = cfg.Sanitize()
	s.mu.Lock()
	s.cfg = cfg
	s.force = true
	s.mu.Unlock()
	return cfg
}

// Config returns the transform configuration in use.
func (s *Scheduler) Config() transform.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetPalette changes the colorization. nil renders gray.
func (s *Scheduler) SetPalette(p *util.Palette) {
	s.mu.Lock()
	s.palette = p
	s.force = true
	s.mu.Unlock()
}

// SetSize changes the size frames are fitted to.
func (s *Scheduler) SetSize(size image.Point) {
	s.mu.Lock()
	s.size = size
	s.force = true
	s.mu.Unlock()
}

// SelectColumn selects the time series column, applied on the next tick.
func (s *Scheduler) SelectColumn(col int) {
	s.mu.Lock()
	s.column = col
	s.pending = pendingColumn
	s.force = true
	s.mu.Unlock()
}

// SelectPixel selects the time series column under pixel x of a display width pixels wide,
// applied on the next tick.
func (s *Scheduler) SelectPixel(x, width int) {
	s.mu.Lock()
	s.pixel = image.Pt(x, width)
	s.pending = pendingPixel
	s.force = true
	s.mu.Unlock()
}

// Reset clears the waterfall and time series on the next tick, as after an acquisition
// restart.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.reset = true
	s.force = true
	s.mu.Unlock()
}

// Status returns the status of the last effective render.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Tick performs one display step at time now and reports whether a frame was rendered.
// A tick within the throttle interval of the last render leaves any fresh block in the
// cache for a later tick. Errors and panics are logged, never propagated.
func (s *Scheduler) Tick(now time.Time) (rendered bool) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("display tick panic: %v", r)
			rendered = false
		}
	}()

	s.mu.Lock()
	if !s.force && !s.last.IsZero() && now.Sub(s.last) < s.interval {
		s.mu.Unlock()
		return false
	}
	key, cfg, palette, size := s.key, s.cfg, s.palette, s.size
	reset, newSeries := s.reset, s.newSeries
	pending, column, pixel := s.pending, s.column, s.pixel
	s.reset, s.newSeries = false, false
	s.pending = pendingNone
	s.mu.Unlock()

	s.render.Lock()
	defer s.render.Unlock()

	if reset {
		s.renderer.Reset()
	}
	if reset || newSeries {
		s.series.Reset()
	}
	switch pending {
	case pendingColumn:
		s.series.SetColumn(column)
	case pendingPixel:
		s.series.SelectPixel(pixel.X, pixel.Y)
	}

	b, ok := s.cache.Take(key)
	if !ok {
		return false
	}

	s.mu.Lock()
	s.last = now
	s.force = false
	s.mu.Unlock()

	s.renderer.Ensure(b.Points)
	g, err := transform.Apply(b, cfg)
	if err != nil {
		glog.Warningf("dropped %v frame: %v", key, err)
		return false
	}
	if err := s.renderer.Push(g); err != nil {
		glog.Warningf("dropped %v frame: %v", key, err)
		return false
	}
	s.series.Append(b)

	if err := s.surface.Present(Fit(s.renderer.Render(palette), size)); err != nil {
		glog.Errorf("present: %v", err)
	}

	s.mu.Lock()
	s.status = Status{
		Stream:   key.String(),
		Mode:     cfg.Mode,
		PLo:      cfg.PercentileLo,
		PHi:      cfg.PercentileHi,
		Gamma:    cfg.Gamma,
		Snapshot: b.Snapshot,
		Lines:    b.Lines,
		Points:   b.Points,
		Column:   s.series.Column(),
		Frames:   s.status.Frames + 1,
	}
	st := s.status
	s.mu.Unlock()
	if glog.V(3) {
		glog.Info(st)
	}
	return true
}

// Run ticks until ctx is done. Ticks are stamped with their slot on the ticker grid rather
// than their delivery time, so delivery jitter does not trip the throttle.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(gridTime(start, now, s.interval))
		}
	}
}

// gridTime rounds now to the nearest multiple of interval after start.
func gridTime(start, now time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		return now
	}
	return start.Add(now.Sub(start).Round(interval))
}

// Series returns the time series of the selected column.
func (s *Scheduler) Series() []timeseries.Sample {
	s.render.Lock()
	defer s.render.Unlock()
	return s.series.Points()
}

// Spectrum returns the power spectrum of the selected column's time series.
func (s *Scheduler) Spectrum() (freqs, power []float64) {
	s.render.Lock()
	defer s.render.Unlock()
	return s.series.Spectrum()
}

// PlotSeries writes the time series chart as a PNG.
func (s *Scheduler) PlotSeries(w io.Writer, width, height vg.Length) error {
	s.render.Lock()
	defer s.render.Unlock()
	return s.series.Plot(w, width, height)
}
