// Package artifact turns the numeric model returned by a compute job into the rendered
// comparison image published at the end of a flow.
package artifact

import (
	"encoding/json"
	"fmt"
	"math"
)

const (
	braninB = 0.12918450914398066
	braninC = 1.5915494309189535
	braninT = 0.039788735772973836

	GridSize = 15
)

// Branin evaluates the Branin function with the constants of the reference surface.
func Branin(x0, x1 float64) float64 {
	u := x1 - braninB*x0*x0 + braninC*x0 - 6
	r := 10*(1-braninT)*math.Cos(x0) + 10
	return u*u + r
}

func Linspace(start, stop float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{start}
	}
	out := make([]float64, n)
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = stop
	return out
}

// Meshgrid returns coordinate matrices with len(ys) rows and len(xs) columns.
func Meshgrid(xs, ys []float64) ([][]float64, [][]float64) {
	gx := make([][]float64, len(ys))
	gy := make([][]float64, len(ys))
	for i, y := range ys {
		gx[i] = make([]float64, len(xs))
		gy[i] = make([]float64, len(xs))
		for j, x := range xs {
			gx[i][j] = x
			gy[i][j] = y
		}
	}
	return gx, gy
}

// DefaultGrid is the evaluation grid of the reference surface:
// linspace(-5,10,15) x linspace(0,15,15).
func DefaultGrid() ([]float64, []float64) {
	return Linspace(-5, 10, GridSize), Linspace(0, 15, GridSize)
}

func BraninGrid(xs, ys []float64) [][]float64 {
	gx, gy := Meshgrid(xs, ys)
	z := make([][]float64, len(gx))
	for i := range gx {
		z[i] = make([]float64, len(gx[i]))
		for j := range gx[i] {
			z[i][j] = Branin(gx[i][j], gy[i][j])
		}
	}
	return z
}

// DecodeModel decodes a job result into a rows x cols matrix. Both a nested JSON array
// and a flat row-major JSON array are accepted.
func DecodeModel(data []byte, rows, cols int) ([][]float64, error) {
	var nested [][]float64
	if err := json.Unmarshal(data, &nested); err == nil {
		if len(nested) != rows {
			return nil, fmt.Errorf("model has %d rows, expected %d", len(nested), rows)
		}
		for i, row := range nested {
			if len(row) != cols {
				return nil, fmt.Errorf("model row %d has %d values, expected %d", i, len(row), cols)
			}
		}
		return nested, nil
	}

	var flat []float64
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("result is not a numeric model, error: %+v", err)
	}
	if len(flat) != rows*cols {
		return nil, fmt.Errorf("model has %d values, expected %d", len(flat), rows*cols)
	}
	out := make([][]float64, rows)
	for i := range out {
		out[i] = flat[i*cols : (i+1)*cols]
	}
	return out, nil
}

// RMSE is the root mean squared error between two matrices of the same shape.
func RMSE(model, reference [][]float64) (float64, error) {
	if len(model) != len(reference) {
		return 0, fmt.Errorf("shape mismatch: %d rows vs %d", len(model), len(reference))
	}
	var sum float64
	var n int
	for i := range model {
		if len(model[i]) != len(reference[i]) {
			return 0, fmt.Errorf("shape mismatch in row %d", i)
		}
		for j := range model[i] {
			d := model[i][j] - reference[i][j]
			sum += d * d
			n++
		}
	}
	if n == 0 {
		return 0, fmt.Errorf("empty model")
	}
	return math.Sqrt(sum / float64(n)), nil
}
