package artifact

import (
	"bytes"
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

var (
	modelColor     = color.RGBA{R: 220, G: 30, B: 30, A: 255}
	referenceColor = color.RGBA{R: 40, G: 80, B: 220, A: 255}
	axisColor      = color.Gray{Y: 120}
)

const (
	plotWidth  = 6 * vg.Inch
	plotHeight = 5 * vg.Inch
)

// projector maps grid points onto the page with an isometric projection.
type projector struct {
	xMin, xSpan float64
	yMin, ySpan float64
	zMin, zSpan float64
}

func newProjector(xs, ys []float64, surfaces ...[][]float64) projector {
	p := projector{}
	p.xMin, p.xSpan = bounds(xs)
	p.yMin, p.ySpan = bounds(ys)

	var zs []float64
	for _, s := range surfaces {
		for _, row := range s {
			zs = append(zs, row...)
		}
	}
	p.zMin, p.zSpan = bounds(zs)
	return p
}

func bounds(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 1
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi == lo {
		return lo, 1
	}
	return lo, hi - lo
}

func (p projector) project(x, y, z float64) plotter.XY {
	nx := (x - p.xMin) / p.xSpan
	ny := (y - p.yMin) / p.ySpan
	nz := (z - p.zMin) / p.zSpan
	cos30, sin30 := math.Sqrt(3)/2, 0.5
	return plotter.XY{
		X: (nx - ny) * cos30,
		Y: nz + (nx+ny)*sin30,
	}
}

func (p projector) surface(xs, ys []float64, z [][]float64) plotter.XYs {
	pts := make(plotter.XYs, 0, len(xs)*len(ys))
	for i, y := range ys {
		for j, x := range xs {
			pts = append(pts, p.project(x, y, z[i][j]))
		}
	}
	return pts
}

// RenderComparison renders the model and the reference surface as a projected 3-D
// scatter plot and returns the PNG bytes.
func RenderComparison(xs, ys []float64, model, reference [][]float64) ([]byte, error) {
	if len(model) != len(ys) || len(reference) != len(ys) {
		return nil, fmt.Errorf("surfaces must have %d rows", len(ys))
	}
	for i := range ys {
		if len(model[i]) != len(xs) || len(reference[i]) != len(xs) {
			return nil, fmt.Errorf("surfaces must have %d columns", len(xs))
		}
	}

	proj := newProjector(xs, ys, model, reference)

	p := plot.New()
	p.Title.Text = "Data + model"
	p.HideAxes()
	p.Legend.Top = true

	for _, axis := range [][2][3]float64{
		{{proj.xMin, proj.yMin, proj.zMin}, {proj.xMin + proj.xSpan, proj.yMin, proj.zMin}},
		{{proj.xMin, proj.yMin, proj.zMin}, {proj.xMin, proj.yMin + proj.ySpan, proj.zMin}},
		{{proj.xMin, proj.yMin, proj.zMin}, {proj.xMin, proj.yMin, proj.zMin + proj.zSpan}},
	} {
		line, err := plotter.NewLine(plotter.XYs{
			proj.project(axis[0][0], axis[0][1], axis[0][2]),
			proj.project(axis[1][0], axis[1][1], axis[1][2]),
		})
		if err != nil {
			return nil, err
		}
		line.LineStyle.Color = axisColor
		p.Add(line)
	}

	ref, err := plotter.NewScatter(proj.surface(xs, ys, reference))
	if err != nil {
		return nil, fmt.Errorf("plot reference surface, error: %+v", err)
	}
	ref.GlyphStyle.Color = referenceColor
	ref.GlyphStyle.Shape = draw.RingGlyph{}
	ref.GlyphStyle.Radius = vg.Points(2)

	mdl, err := plotter.NewScatter(proj.surface(xs, ys, model))
	if err != nil {
		return nil, fmt.Errorf("plot model surface, error: %+v", err)
	}
	mdl.GlyphStyle.Color = modelColor
	mdl.GlyphStyle.Shape = draw.CircleGlyph{}
	mdl.GlyphStyle.Radius = vg.Points(2)

	p.Add(ref, mdl)
	p.Legend.Add("branin", ref)
	p.Legend.Add("model", mdl)

	writer, err := p.WriterTo(plotWidth, plotHeight, "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := writer.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode png, error: %+v", err)
	}
	return buf.Bytes(), nil
}
