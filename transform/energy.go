package transform

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// RollingEnergy returns the mean square of each column of x over a trailing window of win
// rows ending at every row. Rows before the first full window average over the rows seen
// so far. A window of 1 or less is the instantaneous power x².
//
// The window sums come from a single cumulative sum of squares down each column, so the
// cost is O(rows*cols) whatever the window length.
func RollingEnergy(x mat.Matrix, win int) *mat.Dense {
	rows, cols := x.Dims()
	out := mat.NewDense(rows, cols, nil)
	if win <= 1 {
		out.MulElem(x, x)
		return out
	}

	csum := mat.NewDense(rows, cols, nil)
	csum.MulElem(x, x)
	for t := 1; t < rows; t++ {
		floats.Add(csum.RawRowView(t), csum.RawRowView(t-1))
	}

	for t := 0; t < rows; t++ {
		o := out.RawRowView(t)
		if t < win {
			floats.ScaleTo(o, 1/float64(t+1), csum.RawRowView(t))
			continue
		}
		floats.SubTo(o, csum.RawRowView(t), csum.RawRowView(t-win))
		floats.Scale(1/float64(win), o)
	}
	return out
}
