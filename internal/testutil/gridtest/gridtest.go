// Package gridtest writes small synthetic partition inputs for tests.
package gridtest

import (
	"testing"

	"github.com/danmuck/isogather/internal/mesh"
	"github.com/danmuck/isogather/internal/partition"
	"github.com/danmuck/isogather/internal/vtkio"
	"gonum.org/v1/gonum/spatial/r3"
)

const Field = "grad"

// Ball returns an n^3 unit-spaced grid offset along x whose field is the
// distance from the cube centre. Different offsets keep partitions apart.
func Ball(n int, offset float64) *mesh.RectilinearGrid {
	axis := func(shift float64) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = float64(i) + shift
		}
		return out
	}
	g := &mesh.RectilinearGrid{X: axis(offset), Y: axis(0), Z: axis(0)}
	half := float64(n-1) / 2
	center := r3.Vec{X: offset + half, Y: half, Z: half}
	values := make([]float64, g.NumPoints())
	for k := range n {
		for j := range n {
			for i := range n {
				values[g.Index(i, j, k)] = r3.Norm(r3.Sub(g.Point(i, j, k), center))
			}
		}
	}
	g.Fields = map[string][]float64{Field: values}
	return g
}

// WritePartitions writes count ball grids named by scheme and returns the
// scheme's prefix for convenience.
func WritePartitions(t *testing.T, scheme partition.Scheme, count int) string {
	t.Helper()
	for index := range count {
		if err := vtkio.WriteRectilinearGrid(scheme.Path(index), Ball(4, float64(index)*10)); err != nil {
			t.Fatalf("write partition %d: %v", index, err)
		}
	}
	return scheme.Prefix
}

// WriteGrid writes g as partition index of scheme.
func WriteGrid(t *testing.T, scheme partition.Scheme, index int, g *mesh.RectilinearGrid) {
	t.Helper()
	if err := vtkio.WriteRectilinearGrid(scheme.Path(index), g); err != nil {
		t.Fatalf("write partition %d: %v", index, err)
	}
}
