package collector

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/danmuck/isogather/internal/failure"
	"github.com/danmuck/isogather/internal/vtkio"
)

// Emit writes the combined mesh of r to path, partial when r has failures.
func Emit(path string, r *Report) error {
	if err := vtkio.WritePolyData(path, r.Mesh()); err != nil {
		if errors.Is(err, failure.ErrWrite) {
			return failure.New(-1, failure.StageEmit, err)
		}
		return failure.New(-1, failure.StageEmit, fmt.Errorf("%w: %v", failure.ErrWrite, err))
	}
	return nil
}

// RunRecord is the elapsed wall-clock time of one run.
type RunRecord struct {
	Elapsed time.Duration
}

// Line renders the results-log line: seconds with six decimals.
func (r RunRecord) Line() string {
	return fmt.Sprintf("%f\n", r.Elapsed.Seconds())
}

// AppendRecord appends rec to the results log at path, creating it.
func AppendRecord(path string, rec RunRecord) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: results log %s: %v", failure.ErrWrite, path, err)
	}
	if _, err := io.WriteString(f, rec.Line()); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: results log %s: %v", failure.ErrWrite, path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: results log %s: %v", failure.ErrWrite, path, err)
	}
	return nil
}

// PrintRecord writes rec to w, for runs without a results log.
func PrintRecord(w io.Writer, rec RunRecord) error {
	_, err := io.WriteString(w, rec.Line())
	return err
}
