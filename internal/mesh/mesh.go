// Package mesh holds the geometry exchanged between workers and the collector.
package mesh

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

var ErrInvalidMesh = errors.New("mesh: invalid mesh")

// Mesh is a triangle mesh with one normal per triangle.
type Mesh struct {
	Points    []r3.Vec
	Triangles [][3]int
	Normals   []r3.Vec
}

func (m *Mesh) NumPoints() int {
	if m == nil {
		return 0
	}
	return len(m.Points)
}

func (m *Mesh) NumTriangles() int {
	if m == nil {
		return 0
	}
	return len(m.Triangles)
}

// Validate checks index bounds and the normal count.
func (m *Mesh) Validate() error {
	if m == nil {
		return nil
	}
	if len(m.Normals) != 0 && len(m.Normals) != len(m.Triangles) {
		return fmt.Errorf("%w: %d normals for %d triangles", ErrInvalidMesh, len(m.Normals), len(m.Triangles))
	}
	n := len(m.Points)
	for i, tri := range m.Triangles {
		for _, v := range tri {
			if v < 0 || v >= n {
				return fmt.Errorf("%w: triangle %d references point %d of %d", ErrInvalidMesh, i, v, n)
			}
		}
	}
	return nil
}

// Fragment is the mesh produced for one partition.
type Fragment struct {
	Owner int
	Mesh  *Mesh
}
