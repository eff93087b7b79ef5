package vtkio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/danmuck/isogather/internal/mesh"
)

// ReadRectilinearGrid loads one partition grid with its point fields.
func ReadRectilinearGrid(path string) (*mesh.RectilinearGrid, error) {
	f, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeRectilinearGrid(path, f)
}

// DecodeRectilinearGrid parses a grid from r; name is used in diagnostics.
func DecodeRectilinearGrid(name string, r io.Reader) (*mesh.RectilinearGrid, error) {
	t, err := newTokenReader(name, r)
	if err != nil {
		return nil, err
	}
	if err := t.header("RECTILINEAR_GRID"); err != nil {
		return nil, err
	}
	if err := t.expect("DIMENSIONS"); err != nil {
		return nil, err
	}
	var dims [3]int
	for i := range dims {
		if dims[i], err = t.int("dimension"); err != nil {
			return nil, err
		}
	}

	g := &mesh.RectilinearGrid{Fields: make(map[string][]float64)}
	axes := []struct {
		keyword string
		dst     *[]float64
	}{
		{"X_COORDINATES", &g.X},
		{"Y_COORDINATES", &g.Y},
		{"Z_COORDINATES", &g.Z},
	}
	for i, axis := range axes {
		if err := t.expect(axis.keyword); err != nil {
			return nil, err
		}
		n, err := t.int(axis.keyword + " count")
		if err != nil {
			return nil, err
		}
		if n != dims[i] {
			return nil, parseErr(name, fmt.Sprintf("%s count %d does not match dimension %d", axis.keyword, n, dims[i]))
		}
		if _, err := t.word(axis.keyword + " type"); err != nil {
			return nil, err
		}
		if *axis.dst, err = t.floats(n, axis.keyword); err != nil {
			return nil, err
		}
	}

	points := g.NumPoints()
	nx, ny, nz := g.Dims()
	cells := max(nx-1, 1) * max(ny-1, 1) * max(nz-1, 1)
	for {
		tok, err := t.next()
		if errors.Is(err, io.EOF) {
			return g, nil
		}
		if err != nil {
			return nil, err
		}
		switch strings.ToUpper(tok) {
		case "POINT_DATA":
			n, err := t.int("point count")
			if err != nil {
				return nil, err
			}
			if n != points {
				return nil, parseErr(name, fmt.Sprintf("POINT_DATA count %d does not match %d points", n, points))
			}
			scalars, _, err := t.attributes(n)
			if err != nil {
				return nil, err
			}
			for k, v := range scalars {
				g.Fields[k] = v
			}
		case "CELL_DATA":
			n, err := t.int("cell count")
			if err != nil {
				return nil, err
			}
			if n != cells {
				return nil, parseErr(name, fmt.Sprintf("CELL_DATA count %d does not match %d cells", n, cells))
			}
			if _, _, err := t.attributes(n); err != nil {
				return nil, err
			}
		default:
			return nil, parseErr(name, fmt.Sprintf("unexpected section %q", tok))
		}
	}
}

// WriteRectilinearGrid writes g with every point field as a SCALARS array.
func WriteRectilinearGrid(path string, g *mesh.RectilinearGrid) error {
	return writeAtomic(path, func(w *bufio.Writer) error {
		return EncodeRectilinearGrid(w, g)
	})
}

func EncodeRectilinearGrid(w io.Writer, g *mesh.RectilinearGrid) error {
	ew := &errWriter{w: w}
	ew.line("# vtk DataFile Version 3.0")
	ew.line("isogather partition")
	ew.line("ASCII")
	ew.line("DATASET RECTILINEAR_GRID")
	nx, ny, nz := g.Dims()
	ew.printf("DIMENSIONS %d %d %d\n", nx, ny, nz)
	ew.printf("X_COORDINATES %d double\n", nx)
	ew.floats(g.X, 9)
	ew.printf("Y_COORDINATES %d double\n", ny)
	ew.floats(g.Y, 9)
	ew.printf("Z_COORDINATES %d double\n", nz)
	ew.floats(g.Z, 9)

	names := make([]string, 0, len(g.Fields))
	for name, values := range g.Fields {
		if len(values) != g.NumPoints() {
			return fmt.Errorf("vtkio: field %q has %d values for %d points", name, len(values), g.NumPoints())
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > 0 {
		ew.printf("POINT_DATA %d\n", g.NumPoints())
	}
	for _, name := range names {
		ew.printf("SCALARS %s double 1\n", name)
		ew.line("LOOKUP_TABLE default")
		ew.floats(g.Fields[name], 9)
	}
	return ew.err
}
