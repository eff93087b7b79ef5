package vtkio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/danmuck/isogather/internal/failure"
)

type errWriter struct {
	w   io.Writer
	err error
	buf []byte
}

func (e *errWriter) line(s string) {
	e.printf("%s\n", s)
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

// floats writes values perLine at a time using the shortest exact form.
func (e *errWriter) floats(values []float64, perLine int) {
	for i := 0; i < len(values) && e.err == nil; i += perLine {
		e.buf = e.buf[:0]
		end := min(i+perLine, len(values))
		for j := i; j < end; j++ {
			if j > i {
				e.buf = append(e.buf, ' ')
			}
			e.buf = strconv.AppendFloat(e.buf, values[j], 'g', -1, 64)
		}
		e.buf = append(e.buf, '\n')
		_, e.err = e.w.Write(e.buf)
	}
}

func writeAtomic(path string, encode func(*bufio.Writer) error) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".*")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", failure.ErrWrite, path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	bw := bufio.NewWriterSize(tmp, 256*1024)
	if err := encode(bw); err != nil {
		cleanup()
		return fmt.Errorf("%w: %s: %v", failure.ErrWrite, path, err)
	}
	if err := bw.Flush(); err != nil {
		cleanup()
		return fmt.Errorf("%w: %s: %v", failure.ErrWrite, path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", failure.ErrWrite, path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", failure.ErrWrite, path, err)
	}
	return nil
}
