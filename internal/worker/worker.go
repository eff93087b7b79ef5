// Package worker turns one partition's input file into one fragment.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/isogather/internal/failure"
	"github.com/danmuck/isogather/internal/kernel"
	"github.com/danmuck/isogather/internal/mesh"
	"github.com/danmuck/isogather/internal/partition"
	"github.com/danmuck/isogather/internal/vtkio"
	"github.com/rs/zerolog/log"
)

const (
	FieldName = "grad"
	IsoLevels = 50
)

// Worker extracts the isosurfaces of one partition. Zero Field and Levels
// fall back to FieldName and IsoLevels.
type Worker struct {
	Scheme partition.Scheme
	Field  string
	Levels int
}

// New builds a worker for scheme; an empty field or non-positive level
// count takes the default.
func New(scheme partition.Scheme, field string, levels int) *Worker {
	if field == "" {
		field = FieldName
	}
	if levels <= 0 {
		levels = IsoLevels
	}
	return &Worker{Scheme: scheme, Field: field, Levels: levels}
}

// Run produces the fragment for id. Every error is a *failure.PartitionError
// naming the stage that failed; no fragment is returned with an error.
func (w *Worker) Run(ctx context.Context, id partition.Identity) (mesh.Fragment, error) {
	start := time.Now()
	p, err := w.Scheme.Resolve(id)
	if err != nil {
		return mesh.Fragment{}, failure.New(-1, failure.StageResolve, err)
	}
	fail := func(stage failure.Stage, err error) (mesh.Fragment, error) {
		log.Debug().Int("index", p.Index).Str("stage", string(stage)).Err(err).Msg("worker.Worker.Run failed")
		return mesh.Fragment{}, failure.New(p.Index, stage, err)
	}

	if err := ctx.Err(); err != nil {
		return fail(failure.StageLoad, err)
	}
	grid, err := vtkio.ReadRectilinearGrid(p.Path)
	if err != nil {
		return fail(failure.StageLoad, err)
	}

	name := w.Field
	if name == "" {
		name = FieldName
	}
	values, ok := grid.Field(name)
	if !ok {
		return fail(failure.StageField, fmt.Errorf("%w: %q in %s", failure.ErrFieldNotFound, name, p.Path))
	}
	lo, hi, err := kernel.Range(values)
	if err != nil {
		return fail(failure.StageField, fmt.Errorf("%w: %q in %s: %v", failure.ErrFieldNotFound, name, p.Path, err))
	}

	n := w.Levels
	if n <= 0 {
		n = IsoLevels
	}
	surface, err := kernel.Contour(ctx, grid, values, kernel.Levels(n, lo, hi))
	if err != nil {
		return fail(failure.StageContour, err)
	}
	if err := kernel.OrientCellNormals(ctx, surface); err != nil {
		return fail(failure.StageNormals, err)
	}

	log.Debug().
		Int("index", p.Index).
		Str("path", p.Path).
		Int("triangles", surface.NumTriangles()).
		Dur("elapsed", time.Since(start)).
		Msg("worker.Worker.Run done")
	return mesh.Fragment{Owner: p.Index, Mesh: surface}, nil
}
