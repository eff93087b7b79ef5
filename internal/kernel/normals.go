package kernel

import (
	"context"
	"math"

	"github.com/danmuck/isogather/internal/mesh"
	"gonum.org/v1/gonum/spatial/r3"
)

type directedEdge struct {
	from, to int
}

// OrientCellNormals makes triangle windings consistent across shared edges,
// orients each connected component so the triangle at its leftmost point
// faces -x, and fills m.Normals with one unit normal per triangle.
// Point normals are not computed.
func OrientCellNormals(ctx context.Context, m *mesh.Mesh) error {
	n := len(m.Triangles)
	adjacency := make(map[edgeKey][]int, 3*n/2)
	for t, tri := range m.Triangles {
		for e := range 3 {
			a, b := tri[e], tri[(e+1)%3]
			key := edgeKey{a: min(a, b), b: max(a, b)}
			adjacency[key] = append(adjacency[key], t)
		}
	}

	visited := make([]bool, n)
	queue := make([]int, 0, 64)
	component := make([]int, 0, 64)
	for seed := range n {
		if visited[seed] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		visited[seed] = true
		queue = append(queue[:0], seed)
		component = component[:0]
		for len(queue) > 0 {
			t := queue[0]
			queue = queue[1:]
			component = append(component, t)
			tri := m.Triangles[t]
			for e := range 3 {
				a, b := tri[e], tri[(e+1)%3]
				for _, nb := range adjacency[edgeKey{a: min(a, b), b: max(a, b)}] {
					if visited[nb] {
						continue
					}
					visited[nb] = true
					// a consistent neighbour traverses the shared edge b->a.
					if hasDirectedEdge(m.Triangles[nb], directedEdge{from: a, to: b}) {
						flip(&m.Triangles[nb])
					}
					queue = append(queue, nb)
				}
			}
		}
		autoOrient(m, component)
	}

	m.Normals = make([]r3.Vec, n)
	for t, tri := range m.Triangles {
		m.Normals[t] = faceNormal(m, tri)
	}
	return nil
}

// autoOrient finds the component's leftmost point and, among the triangles
// using it, the one whose normal is most nearly parallel to x. The component
// is flipped when that normal has positive x.
func autoOrient(m *mesh.Mesh, component []int) {
	left, leftX := -1, 0.0
	for _, t := range component {
		for _, v := range m.Triangles[t] {
			if x := m.Points[v].X; left < 0 || x < leftX {
				left, leftX = v, x
			}
		}
	}
	if left < 0 {
		return
	}
	var best r3.Vec
	for _, t := range component {
		tri := m.Triangles[t]
		if tri[0] != left && tri[1] != left && tri[2] != left {
			continue
		}
		if n := faceNormal(m, tri); math.Abs(n.X) > math.Abs(best.X) {
			best = n
		}
	}
	if best.X <= 0 {
		return
	}
	for _, t := range component {
		flip(&m.Triangles[t])
	}
}

func hasDirectedEdge(tri [3]int, e directedEdge) bool {
	for i := range 3 {
		if tri[i] == e.from && tri[(i+1)%3] == e.to {
			return true
		}
	}
	return false
}

func flip(tri *[3]int) {
	tri[1], tri[2] = tri[2], tri[1]
}

func faceNormal(m *mesh.Mesh, tri [3]int) r3.Vec {
	a, b, c := m.Points[tri[0]], m.Points[tri[1]], m.Points[tri[2]]
	n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
	if r3.Norm(n) == 0 {
		return r3.Vec{}
	}
	return r3.Unit(n)
}
