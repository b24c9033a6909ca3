package artifact

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLinspaceAndGrid(t *testing.T) {
	xs, ys := DefaultGrid()
	require.Len(t, xs, GridSize)
	require.Len(t, ys, GridSize)
	require.Equal(t, -5.0, xs[0])
	require.Equal(t, 10.0, xs[GridSize-1])
	require.InDelta(t, 15.0/14, ys[1], 1e-12)

	gx, gy := Meshgrid([]float64{1, 2, 3}, []float64{10, 20})
	require.Equal(t, [][]float64{{1, 2, 3}, {1, 2, 3}}, gx)
	require.Equal(t, [][]float64{{10, 10, 10}, {20, 20, 20}}, gy)

	require.Nil(t, Linspace(0, 1, 0))
	require.Equal(t, []float64{3}, Linspace(3, 9, 1))
}

func TestBranin(t *testing.T) {
	// global minima of the Branin function
	for _, p := range [][2]float64{{-math.Pi, 12.275}, {math.Pi, 2.275}, {9.42478, 2.475}} {
		require.InDelta(t, 0.397887, Branin(p[0], p[1]), 1e-4)
	}
	z := BraninGrid(DefaultGrid())
	require.Len(t, z, GridSize)
	require.Len(t, z[0], GridSize)
}

func TestDecodeModel(t *testing.T) {
	nested, err := DecodeModel([]byte(`[[1,2],[3,4]]`), 2, 2)
	require.NoError(t, err)
	require.Equal(t, [][]float64{{1, 2}, {3, 4}}, nested)

	flat, err := DecodeModel([]byte(`[1,2,3,4]`), 2, 2)
	require.NoError(t, err)
	require.Equal(t, nested, flat)

	_, err = DecodeModel([]byte(`[[1,2]]`), 2, 2)
	require.Error(t, err)
	_, err = DecodeModel([]byte(`[1,2,3]`), 2, 2)
	require.Error(t, err)
	_, err = DecodeModel([]byte("\x80\x04pickle"), 2, 2)
	require.Error(t, err)
}

func TestRMSE(t *testing.T) {
	v, err := RMSE([][]float64{{1, 1}, {1, 1}}, [][]float64{{2, 2}, {0, 0}})
	require.NoError(t, err)
	require.InDelta(t, 1.0, v, 1e-12)

	_, err = RMSE([][]float64{{1}}, [][]float64{{1, 2}})
	require.Error(t, err)
	_, err = RMSE(nil, nil)
	require.Error(t, err)
}

func TestRenderAndWrite(t *testing.T) {
	xs, ys := DefaultGrid()
	reference := BraninGrid(xs, ys)
	data, err := json.Marshal(reference)
	require.NoError(t, err)
	model, err := DecodeModel(data, len(ys), len(xs))
	require.NoError(t, err)

	png, err := RenderComparison(xs, ys, model, reference)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(png, []byte("\x89PNG\r\n\x1a\n")))

	name := NewArtifactName()
	require.Regexp(t, regexp.MustCompile(`^Result_[0-9a-f-]{36}\.png$`), name)
	require.NotEqual(t, name, NewArtifactName())

	dir := filepath.Join(t.TempDir(), "Sample")
	path, err := WriteArtifact(dir, name, png)
	require.NoError(t, err)
	written, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, png, written)

	_, err = RenderComparison(xs, ys, model[:3], reference)
	require.Error(t, err)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	p, err := ExpandPath("~/Sample")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "Sample"), p)

	p, err = ExpandPath("/tmp/x")
	require.NoError(t, err)
	require.Equal(t, "/tmp/x", p)
}
