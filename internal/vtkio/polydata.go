package vtkio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/isogather/internal/mesh"
	"gonum.org/v1/gonum/spatial/r3"
)

// ReadPolyData loads a triangle mesh with optional cell normals.
func ReadPolyData(path string) (*mesh.Mesh, error) {
	f, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodePolyData(path, f)
}

func DecodePolyData(name string, r io.Reader) (*mesh.Mesh, error) {
	t, err := newTokenReader(name, r)
	if err != nil {
		return nil, err
	}
	if err := t.header("POLYDATA"); err != nil {
		return nil, err
	}
	m := &mesh.Mesh{}
	for {
		tok, err := t.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch strings.ToUpper(tok) {
		case "POINTS":
			n, err := t.int("point count")
			if err != nil {
				return nil, err
			}
			if _, err := t.word("point type"); err != nil {
				return nil, err
			}
			coords, err := t.floats(3*n, "points")
			if err != nil {
				return nil, err
			}
			m.Points = vecs(coords)
		case "POLYGONS":
			cells, err := t.int("polygon count")
			if err != nil {
				return nil, err
			}
			size, err := t.int("polygon list size")
			if err != nil {
				return nil, err
			}
			if size != 4*cells {
				return nil, parseErr(name, "only triangle polygons are supported")
			}
			m.Triangles = make([][3]int, cells)
			for i := range cells {
				count, err := t.int("polygon size")
				if err != nil {
					return nil, err
				}
				if count != 3 {
					return nil, parseErr(name, fmt.Sprintf("polygon %d has %d points", i, count))
				}
				for v := range 3 {
					if m.Triangles[i][v], err = t.int("polygon point"); err != nil {
						return nil, err
					}
				}
			}
		case "CELL_DATA":
			n, err := t.int("cell count")
			if err != nil {
				return nil, err
			}
			if n != len(m.Triangles) {
				return nil, parseErr(name, fmt.Sprintf("CELL_DATA count %d does not match %d triangles", n, len(m.Triangles)))
			}
			_, normals, err := t.attributes(n)
			if err != nil {
				return nil, err
			}
			if normals != nil {
				m.Normals = vecs(normals)
			}
		case "POINT_DATA":
			n, err := t.int("point count")
			if err != nil {
				return nil, err
			}
			if _, _, err := t.attributes(n); err != nil {
				return nil, err
			}
		default:
			return nil, parseErr(name, fmt.Sprintf("unsupported section %q", tok))
		}
	}
	if err := m.Validate(); err != nil {
		return nil, parseErr(name, err.Error())
	}
	return m, nil
}

// WritePolyData writes m atomically: readers never observe a partial file.
func WritePolyData(path string, m *mesh.Mesh) error {
	return writeAtomic(path, func(w *bufio.Writer) error {
		return EncodePolyData(w, m)
	})
}

func EncodePolyData(w io.Writer, m *mesh.Mesh) error {
	if m == nil {
		m = &mesh.Mesh{}
	}
	if err := m.Validate(); err != nil {
		return err
	}
	ew := &errWriter{w: w}
	ew.line("# vtk DataFile Version 3.0")
	ew.line("isogather mesh")
	ew.line("ASCII")
	ew.line("DATASET POLYDATA")
	ew.printf("POINTS %d double\n", len(m.Points))
	for _, p := range m.Points {
		ew.floats([]float64{p.X, p.Y, p.Z}, 3)
	}
	ew.printf("POLYGONS %d %d\n", len(m.Triangles), 4*len(m.Triangles))
	for _, tri := range m.Triangles {
		ew.printf("3 %d %d %d\n", tri[0], tri[1], tri[2])
	}
	if len(m.Triangles) > 0 && len(m.Normals) == len(m.Triangles) {
		ew.printf("CELL_DATA %d\n", len(m.Triangles))
		ew.line("NORMALS Normals double")
		for _, n := range m.Normals {
			ew.floats([]float64{n.X, n.Y, n.Z}, 3)
		}
	}
	return ew.err
}

func vecs(coords []float64) []r3.Vec {
	out := make([]r3.Vec, len(coords)/3)
	for i := range out {
		out[i] = r3.Vec{X: coords[3*i], Y: coords[3*i+1], Z: coords[3*i+2]}
	}
	return out
}
