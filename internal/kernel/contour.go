package kernel

import (
	"context"
	"fmt"

	"github.com/danmuck/isogather/internal/mesh"
	"gonum.org/v1/gonum/spatial/r3"
)

// cube corner offsets, VTK hexahedron order.
var corners = [8][3]int{
	{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
}

// six tetrahedra sharing the 0-6 diagonal; neighbouring cells split their
// shared faces along the same diagonal.
var tetrahedra = [6][4]int{
	{0, 1, 2, 6},
	{0, 2, 3, 6},
	{0, 3, 7, 6},
	{0, 7, 4, 6},
	{0, 4, 5, 6},
	{0, 5, 1, 6},
}

// areaEpsilon drops slivers produced when a level passes through grid points.
const areaEpsilon = 1e-24

type edgeKey struct {
	a, b int
}

type contourer struct {
	grid   *mesh.RectilinearGrid
	values []float64
	out    *mesh.Mesh
	edges  map[edgeKey]int
}

// Contour extracts the isosurfaces of values over grid at every level into
// one mesh. Triangles are wound so their normal points toward increasing
// values.
func Contour(ctx context.Context, grid *mesh.RectilinearGrid, values []float64, levels []float64) (*mesh.Mesh, error) {
	if len(values) != grid.NumPoints() {
		return nil, fmt.Errorf("kernel: field has %d values for %d points", len(values), grid.NumPoints())
	}
	c := &contourer{
		grid:   grid,
		values: values,
		out:    &mesh.Mesh{},
	}
	nx, ny, nz := grid.Dims()
	for _, level := range levels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.edges = make(map[edgeKey]int)
		for k := 0; k+1 < nz; k++ {
			for j := 0; j+1 < ny; j++ {
				for i := 0; i+1 < nx; i++ {
					c.cell(i, j, k, level)
				}
			}
		}
	}
	c.edges = nil
	return c.out, nil
}

func (c *contourer) cell(i, j, k int, level float64) {
	var ids [8]int
	for n, off := range corners {
		ids[n] = c.grid.Index(i+off[0], j+off[1], k+off[2])
	}
	for _, tet := range tetrahedra {
		c.tetra([4]int{ids[tet[0]], ids[tet[1]], ids[tet[2]], ids[tet[3]]}, level)
	}
}

func (c *contourer) tetra(v [4]int, level float64) {
	var above, below []int
	for _, id := range v {
		if c.values[id] > level {
			above = append(above, id)
		} else {
			below = append(below, id)
		}
	}
	switch len(above) {
	case 1:
		a := above[0]
		c.emit(c.cross(below[0], a, level), c.cross(below[1], a, level), c.cross(below[2], a, level), above, below)
	case 3:
		b := below[0]
		c.emit(c.cross(b, above[0], level), c.cross(b, above[1], level), c.cross(b, above[2], level), above, below)
	case 2:
		p00 := c.cross(below[0], above[0], level)
		p01 := c.cross(below[0], above[1], level)
		p11 := c.cross(below[1], above[1], level)
		p10 := c.cross(below[1], above[0], level)
		c.emit(p00, p01, p11, above, below)
		c.emit(p00, p11, p10, above, below)
	}
}

// cross returns the point where level crosses the edge from lo (<= level)
// to hi (> level), reusing an existing point for the same edge.
func (c *contourer) cross(lo, hi int, level float64) int {
	key := edgeKey{a: min(lo, hi), b: max(lo, hi)}
	if id, ok := c.edges[key]; ok {
		return id
	}
	vl, vh := c.values[lo], c.values[hi]
	t := 0.0
	if vh != vl {
		t = (level - vl) / (vh - vl)
	}
	pl, ph := c.position(lo), c.position(hi)
	p := r3.Add(pl, r3.Scale(t, r3.Sub(ph, pl)))
	id := len(c.out.Points)
	c.out.Points = append(c.out.Points, p)
	c.edges[key] = id
	return id
}

func (c *contourer) position(id int) r3.Vec {
	nx, ny := len(c.grid.X), len(c.grid.Y)
	i := id % nx
	j := (id / nx) % ny
	k := id / (nx * ny)
	return c.grid.Point(i, j, k)
}

func (c *contourer) emit(a, b, d int, above, below []int) {
	if a == b || b == d || a == d {
		return
	}
	pa, pb, pd := c.out.Points[a], c.out.Points[b], c.out.Points[d]
	n := r3.Cross(r3.Sub(pb, pa), r3.Sub(pd, pa))
	if r3.Dot(n, n) < areaEpsilon {
		return
	}
	if r3.Dot(n, c.gradient(above, below)) < 0 {
		b, d = d, b
	}
	c.out.Triangles = append(c.out.Triangles, [3]int{a, b, d})
}

// gradient approximates the field direction inside one tetrahedron.
func (c *contourer) gradient(above, below []int) r3.Vec {
	return r3.Sub(c.centroid(above), c.centroid(below))
}

func (c *contourer) centroid(ids []int) r3.Vec {
	var sum r3.Vec
	for _, id := range ids {
		sum = r3.Add(sum, c.position(id))
	}
	return r3.Scale(1/float64(len(ids)), sum)
}
