package timeseries

import (
	"fmt"
	"io"

	"github.com/mjibson/go-dsp/spectral"
	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// minSpectrumLen is the shortest history a spectrum is estimated from.
const minSpectrumLen = 16

// Spectrum returns a Welch power spectral density estimate of the held values, using
// Hann windowed segments with 50% overlap. It returns nil slices while the history is too
// short.
func (e *Extractor) Spectrum() (freqs, power []float64) {
	x := e.Values()
	if len(x) < minSpectrumLen {
		return nil, nil
	}
	nfft := 256
	for nfft > len(x) {
		nfft /= 2
	}
	power, freqs = spectral.Pwelch(x, e.rate, &spectral.PwelchOptions{
		NFFT:     nfft,
		Noverlap: nfft / 2,
		Window:   window.Hann,
	})
	return freqs, power
}

// Plot draws the time series as a PNG chart of the given size.
func (e *Extractor) Plot(w io.Writer, width, height vg.Length) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("column %d", e.column)
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = "value"

	samples := e.Points()
	pts := make(plotter.XYs, len(samples))
	for i, s := range samples {
		pts[i].X = s.T
		pts[i].Y = s.V
	}
	if len(pts) > 0 {
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		p.Add(line)
	}

	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
