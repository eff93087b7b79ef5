// Package vtkio reads and writes legacy VTK files in ASCII encoding.
//
// Supported datasets:
// - RECTILINEAR_GRID with SCALARS and FIELD point arrays (partition inputs)
// - POLYDATA with POINTS, triangle POLYGONS and CELL_DATA NORMALS (fragments and combined output)
//
// Missing or unreadable files map to failure.ErrFileNotFound, malformed content
// to failure.ErrParse and output failures to failure.ErrWrite.
package vtkio
