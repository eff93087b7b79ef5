package mesh

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

var ErrDuplicateFragment = errors.New("mesh: duplicate fragment")

// Aggregate is the ordered, append-only set of collected fragments. Build
// concatenates them without welding shared boundary points.
type Aggregate struct {
	fragments []Fragment
	owners    map[int]struct{}
	points    int
	triangles int
}

func NewAggregate(capacity int) *Aggregate {
	return &Aggregate{
		fragments: make([]Fragment, 0, capacity),
		owners:    make(map[int]struct{}, capacity),
	}
}

// Append takes ownership of f. A second fragment for the same owner is rejected.
func (a *Aggregate) Append(f Fragment) error {
	if _, ok := a.owners[f.Owner]; ok {
		return fmt.Errorf("%w: owner %d", ErrDuplicateFragment, f.Owner)
	}
	if err := f.Mesh.Validate(); err != nil {
		return fmt.Errorf("fragment %d: %w", f.Owner, err)
	}
	a.owners[f.Owner] = struct{}{}
	a.fragments = append(a.fragments, f)
	a.points += f.Mesh.NumPoints()
	a.triangles += f.Mesh.NumTriangles()
	return nil
}

func (a *Aggregate) Len() int {
	return len(a.fragments)
}

func (a *Aggregate) Has(owner int) bool {
	_, ok := a.owners[owner]
	return ok
}

// Owners lists fragment owners in append order.
func (a *Aggregate) Owners() []int {
	out := make([]int, 0, len(a.fragments))
	for _, f := range a.fragments {
		out = append(out, f.Owner)
	}
	return out
}

// Missing lists indexes in [0,total) with no fragment.
func (a *Aggregate) Missing(total int) []int {
	out := make([]int, 0)
	for i := range total {
		if !a.Has(i) {
			out = append(out, i)
		}
	}
	return out
}

func (a *Aggregate) NumPoints() int    { return a.points }
func (a *Aggregate) NumTriangles() int { return a.triangles }

// Build concatenates every fragment in append order into one mesh and
// releases the fragments.
func (a *Aggregate) Build() *Mesh {
	out := &Mesh{
		Points:    make([]r3.Vec, 0, a.points),
		Triangles: make([][3]int, 0, a.triangles),
		Normals:   make([]r3.Vec, 0, a.triangles),
	}
	for i, f := range a.fragments {
		m := f.Mesh
		if m == nil {
			continue
		}
		offset := len(out.Points)
		out.Points = append(out.Points, m.Points...)
		for _, tri := range m.Triangles {
			out.Triangles = append(out.Triangles, [3]int{tri[0] + offset, tri[1] + offset, tri[2] + offset})
		}
		if len(m.Normals) == len(m.Triangles) {
			out.Normals = append(out.Normals, m.Normals...)
		} else {
			out.Normals = append(out.Normals, make([]r3.Vec, len(m.Triangles))...)
		}
		a.fragments[i].Mesh = nil
	}
	return out
}
