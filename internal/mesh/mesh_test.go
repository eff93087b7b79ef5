package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

// strip builds a triangle strip with n triangles over n+2 points.
func strip(n int, z float64) *Mesh {
	m := &Mesh{}
	for i := range n + 2 {
		m.Points = append(m.Points, r3.Vec{X: float64(i / 2), Y: float64(i % 2), Z: z})
	}
	for i := range n {
		m.Triangles = append(m.Triangles, [3]int{i, i + 1, i + 2})
		m.Normals = append(m.Normals, r3.Vec{Z: 1})
	}
	return m
}

func TestAggregateCombinesFragmentCounts(t *testing.T) {
	agg := NewAggregate(3)
	for owner, n := range []int{10, 15, 8} {
		require.NoError(t, agg.Append(Fragment{Owner: owner, Mesh: strip(n, float64(owner))}))
	}
	assert.Equal(t, 3, agg.Len())
	combined := agg.Build()
	assert.Equal(t, 33, combined.NumTriangles())
	assert.Equal(t, 12+17+10, combined.NumPoints())
	assert.Len(t, combined.Normals, 33)
	require.NoError(t, combined.Validate())
}

func TestAggregateOffsetsTriangleIndexes(t *testing.T) {
	agg := NewAggregate(2)
	require.NoError(t, agg.Append(Fragment{Owner: 0, Mesh: strip(1, 0)}))
	require.NoError(t, agg.Append(Fragment{Owner: 1, Mesh: strip(1, 1)}))
	combined := agg.Build()
	assert.Equal(t, [3]int{3, 4, 5}, combined.Triangles[1])
	assert.Equal(t, 1.0, combined.Points[combined.Triangles[1][0]].Z)
}

func TestAggregateOrderIndependentCounts(t *testing.T) {
	sizes := map[int]int{0: 4, 1: 9, 2: 1, 3: 6}
	forward := NewAggregate(4)
	backward := NewAggregate(4)
	for owner := 0; owner < 4; owner++ {
		require.NoError(t, forward.Append(Fragment{Owner: owner, Mesh: strip(sizes[owner], 0)}))
	}
	for owner := 3; owner >= 0; owner-- {
		require.NoError(t, backward.Append(Fragment{Owner: owner, Mesh: strip(sizes[owner], 0)}))
	}
	a, b := forward.Build(), backward.Build()
	assert.Equal(t, a.NumPoints(), b.NumPoints())
	assert.Equal(t, a.NumTriangles(), b.NumTriangles())
	assert.Equal(t, 20, a.NumTriangles())
}

func TestAggregateRejectsDuplicateOwner(t *testing.T) {
	agg := NewAggregate(1)
	require.NoError(t, agg.Append(Fragment{Owner: 2, Mesh: strip(1, 0)}))
	err := agg.Append(Fragment{Owner: 2, Mesh: strip(1, 0)})
	require.ErrorIs(t, err, ErrDuplicateFragment)
	assert.Equal(t, 1, agg.Len())
	assert.Equal(t, []int{0, 1, 3}, agg.Missing(4))
}

func TestAggregateEmptyFragment(t *testing.T) {
	agg := NewAggregate(2)
	require.NoError(t, agg.Append(Fragment{Owner: 0, Mesh: &Mesh{}}))
	require.NoError(t, agg.Append(Fragment{Owner: 1, Mesh: strip(2, 0)}))
	combined := agg.Build()
	assert.Equal(t, 2, combined.NumTriangles())
	assert.Equal(t, [3]int{0, 1, 2}, combined.Triangles[0])
}

func TestValidateRejectsBadIndexes(t *testing.T) {
	m := strip(1, 0)
	m.Triangles[0][2] = 7
	require.ErrorIs(t, m.Validate(), ErrInvalidMesh)

	m = strip(2, 0)
	m.Normals = m.Normals[:1]
	require.ErrorIs(t, m.Validate(), ErrInvalidMesh)

	agg := NewAggregate(1)
	require.ErrorIs(t, agg.Append(Fragment{Owner: 0, Mesh: m}), ErrInvalidMesh)
}

func TestGridIndexing(t *testing.T) {
	g := &RectilinearGrid{X: []float64{0, 1, 2}, Y: []float64{0, 1}, Z: []float64{0, 5}}
	nx, ny, nz := g.Dims()
	assert.Equal(t, [3]int{3, 2, 2}, [3]int{nx, ny, nz})
	assert.Equal(t, 12, g.NumPoints())
	assert.Equal(t, 1+3*(1+2*1), g.Index(1, 1, 1))
	assert.Equal(t, r3.Vec{X: 2, Y: 1, Z: 5}, g.Point(2, 1, 1))

	require.ErrorIs(t, g.SetField("grad", make([]float64, 3)), ErrInvalidMesh)
	require.NoError(t, g.SetField("grad", make([]float64, 12)))
	_, ok := g.Field("grad")
	assert.True(t, ok)
}
