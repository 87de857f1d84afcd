package transform

import (
	"errors"
	"image"
	"math"
	"sort"

	"github.com/golang/glog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/peragwin/dasview/stream"
)

// ErrShape is returned for blocks whose sample count does not match their dimensions.
var ErrShape = errors.New("block shape does not match its samples")

// Apply maps a block to an 8-bit grayscale image with one row per line and one column per
// point. Non-finite samples never escape: the result is always fully defined.
func Apply(b *stream.Block, cfg Config) (*image.Gray, error) {
	if b == nil || b.Lines < 1 || b.Points < 1 || len(b.Samples) != b.Lines*b.Points {
		return nil, ErrShape
	}
	cfg = cfg.Sanitize()

	x := mat.NewDense(b.Lines, b.Points, nil)
	data := x.RawMatrix().Data
	for i, v := range b.Samples {
		data[i] = float64(v)
	}

	switch cfg.Mode {
	case Abs:
		x.Apply(func(_, _ int, v float64) float64 { return math.Abs(v) }, x)
	case LogDB:
		eps := cfg.Epsilon
		x.Apply(func(_, _ int, v float64) float64 { return 20 * math.Log10(math.Abs(v)+eps) }, x)
	case HighPass:
		removeRowMean(x)
	case EnergyLog:
		x = RollingEnergy(x, cfg.Window)
		logCompress(x, cfg.Epsilon, cfg.Log10)
		absoluteScale(x, cfg.VMin, cfg.VMax)
		return quantize(x, cfg), nil
	}

	percentileScale(x, cfg.PercentileLo, cfg.PercentileHi, cfg.Epsilon)
	return quantize(x, cfg), nil
}

func removeRowMean(x *mat.Dense) {
	rows, cols := x.Dims()
	for i := 0; i < rows; i++ {
		row := x.RawRowView(i)
		floats.AddConst(-floats.Sum(row)/float64(cols), row)
	}
}

func logCompress(x *mat.Dense, eps float64, log10 bool) {
	log := math.Log
	if log10 {
		log = math.Log10
	}
	x.Apply(func(_, _ int, v float64) float64 { return log(v + eps) }, x)
}

// PercentileRange returns the lo-th and hi-th percentiles (0-100) of the finite values in
// data. If that span is degenerate it falls back to [min, max+eps]; with no finite values
// at all it returns [0, 1].
func PercentileRange(data []float64, lo, hi, eps float64) (float64, float64) {
	fin := make([]float64, 0, len(data))
	for _, v := range data {
		if finite(v) {
			fin = append(fin, v)
		}
	}
	if len(fin) == 0 {
		return 0, 1
	}
	sort.Float64s(fin)

	vlo := percentile(fin, lo)
	vhi := percentile(fin, hi)
	if !finite(vlo) || !finite(vhi) || vhi-vlo < 1e-12 {
		if glog.V(3) {
			glog.Infof("degenerate percentile range [%g, %g], using min/max", vlo, vhi)
		}
		vlo = fin[0]
		vhi = fin[len(fin)-1] + eps
	}
	if !(vhi > vlo) {
		vhi = vlo + 1
	}
	return vlo, vhi
}

// percentile interpolates linearly between the closest ranks of sorted at rank
// (n-1)*p/100.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	rank := math.Max(0, math.Min(1, p/100)) * float64(n-1)
	i := int(math.Floor(rank))
	if i >= n-1 {
		return sorted[n-1]
	}
	frac := rank - float64(i)
	return sorted[i] + frac*(sorted[i+1]-sorted[i])
}

func percentileScale(x *mat.Dense, lo, hi, eps float64) {
	vlo, vhi := PercentileRange(x.RawMatrix().Data, lo, hi, eps)
	absoluteScale(x, vlo, vhi)
}

func absoluteScale(x *mat.Dense, vmin, vmax float64) {
	span := vmax - vmin
	x.Apply(func(_, _ int, v float64) float64 { return (v - vmin) / span }, x)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// quantize clamps x into [0,1], applies gamma and inversion, and rounds to 8 bits.
func quantize(x *mat.Dense, cfg Config) *image.Gray {
	rows, cols := x.Dims()
	img := image.NewGray(image.Rect(0, 0, cols, rows))
	gamma := math.Abs(cfg.Gamma-1) > 1e-6

	for i := 0; i < rows; i++ {
		pix := img.Pix[i*img.Stride : i*img.Stride+cols]
		for j, v := range x.RawRowView(i) {
			v = clamp01(v)
			if gamma {
				v = math.Pow(v, cfg.Gamma)
			}
			if cfg.Invert {
				v = 1 - v
			}
			pix[j] = uint8(math.Round(v * 255))
		}
	}
	return img
}
