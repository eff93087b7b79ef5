package mesh

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// RectilinearGrid is an axis-aligned grid with per-axis coordinates and
// point-associated scalar fields. Point index is x-fastest:
// i + nx*(j + ny*k).
type RectilinearGrid struct {
	X, Y, Z []float64
	Fields  map[string][]float64
}

func (g *RectilinearGrid) Dims() (nx, ny, nz int) {
	return len(g.X), len(g.Y), len(g.Z)
}

func (g *RectilinearGrid) NumPoints() int {
	return len(g.X) * len(g.Y) * len(g.Z)
}

func (g *RectilinearGrid) Index(i, j, k int) int {
	return i + len(g.X)*(j+len(g.Y)*k)
}

func (g *RectilinearGrid) Point(i, j, k int) r3.Vec {
	return r3.Vec{X: g.X[i], Y: g.Y[j], Z: g.Z[k]}
}

// Field returns the named point field.
func (g *RectilinearGrid) Field(name string) ([]float64, bool) {
	values, ok := g.Fields[name]
	return values, ok
}

// SetField attaches a point field, checking its length.
func (g *RectilinearGrid) SetField(name string, values []float64) error {
	if len(values) != g.NumPoints() {
		return fmt.Errorf("%w: field %q has %d values for %d points", ErrInvalidMesh, name, len(values), g.NumPoints())
	}
	if g.Fields == nil {
		g.Fields = make(map[string][]float64)
	}
	g.Fields[name] = values
	return nil
}
