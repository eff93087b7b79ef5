// Package kernel extracts isosurfaces from rectilinear grids.
//
// Contour splits every hexahedral cell into six tetrahedra around its main
// diagonal and runs marching tetrahedra at each requested level. Points on a
// shared grid edge are merged within one level, never across levels or
// across partitions. OrientCellNormals then makes triangle windings agree
// between neighbours and points each component's leftmost normal along -x.
package kernel
