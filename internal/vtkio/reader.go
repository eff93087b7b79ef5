package vtkio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/danmuck/isogather/internal/failure"
)

const maxTokenBytes = 1 << 20

// tokenReader walks whitespace-separated tokens with one token of lookahead.
type tokenReader struct {
	path    string
	sc      *bufio.Scanner
	pending string
	peeked  bool
}

func newTokenReader(path string, r io.Reader) (*tokenReader, error) {
	br := bufio.NewReader(r)
	magic, err := br.ReadString('\n')
	if err != nil && magic == "" {
		return nil, parseErr(path, "empty file")
	}
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(magic)), "# vtk datafile version") {
		return nil, parseErr(path, "missing vtk header")
	}
	// title line
	if _, err := br.ReadString('\n'); err != nil {
		return nil, parseErr(path, "missing title line")
	}
	sc := bufio.NewScanner(br)
	sc.Buffer(make([]byte, 0, 64*1024), maxTokenBytes)
	sc.Split(bufio.ScanWords)
	return &tokenReader{path: path, sc: sc}, nil
}

func (t *tokenReader) next() (string, error) {
	if t.peeked {
		t.peeked = false
		return t.pending, nil
	}
	if !t.sc.Scan() {
		if err := t.sc.Err(); err != nil {
			return "", parseErr(t.path, err.Error())
		}
		return "", io.EOF
	}
	return t.sc.Text(), nil
}

func (t *tokenReader) peek() (string, error) {
	if t.peeked {
		return t.pending, nil
	}
	tok, err := t.next()
	if err != nil {
		return "", err
	}
	t.pending = tok
	t.peeked = true
	return tok, nil
}

func (t *tokenReader) expect(keyword string) error {
	tok, err := t.next()
	if err != nil {
		return t.unexpected(err, keyword)
	}
	if !strings.EqualFold(tok, keyword) {
		return parseErr(t.path, fmt.Sprintf("expected %s, got %q", keyword, tok))
	}
	return nil
}

func (t *tokenReader) word(what string) (string, error) {
	tok, err := t.next()
	if err != nil {
		return "", t.unexpected(err, what)
	}
	return tok, nil
}

func (t *tokenReader) int(what string) (int, error) {
	tok, err := t.word(what)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(tok)
	if err != nil || v < 0 {
		return 0, parseErr(t.path, fmt.Sprintf("invalid %s %q", what, tok))
	}
	return v, nil
}

func (t *tokenReader) floats(n int, what string) ([]float64, error) {
	out := make([]float64, n)
	for i := range out {
		tok, err := t.word(what)
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, parseErr(t.path, fmt.Sprintf("invalid %s value %q", what, tok))
		}
		out[i] = v
	}
	return out, nil
}

func (t *tokenReader) unexpected(err error, what string) error {
	if errors.Is(err, io.EOF) {
		return parseErr(t.path, "unexpected end of file reading "+what)
	}
	return err
}

// header consumes the encoding and DATASET lines.
func (t *tokenReader) header(dataset string) error {
	enc, err := t.word("encoding")
	if err != nil {
		return err
	}
	if !strings.EqualFold(enc, "ASCII") {
		return parseErr(t.path, fmt.Sprintf("unsupported encoding %q", enc))
	}
	if err := t.expect("DATASET"); err != nil {
		return err
	}
	kind, err := t.word("dataset type")
	if err != nil {
		return err
	}
	if !strings.EqualFold(kind, dataset) {
		return parseErr(t.path, fmt.Sprintf("expected dataset %s, got %s", dataset, kind))
	}
	return nil
}

// attributes reads the arrays of one POINT_DATA or CELL_DATA block until the
// next block keyword or end of file. Single-component arrays and NORMALS are
// returned by name.
func (t *tokenReader) attributes(count int) (scalars map[string][]float64, normals []float64, err error) {
	scalars = make(map[string][]float64)
	for {
		tok, err := t.peek()
		if errors.Is(err, io.EOF) {
			return scalars, normals, nil
		}
		if err != nil {
			return nil, nil, err
		}
		switch strings.ToUpper(tok) {
		case "SCALARS":
			_, _ = t.next()
			name, err := t.word("scalars name")
			if err != nil {
				return nil, nil, err
			}
			if _, err := t.word("scalars type"); err != nil {
				return nil, nil, err
			}
			comps := 1
			if next, err := t.peek(); err == nil {
				if n, convErr := strconv.Atoi(next); convErr == nil {
					_, _ = t.next()
					comps = n
				}
			}
			if comps < 1 || comps > 4 {
				return nil, nil, parseErr(t.path, fmt.Sprintf("scalars %q has %d components", name, comps))
			}
			if next, err := t.peek(); err == nil && strings.EqualFold(next, "LOOKUP_TABLE") {
				_, _ = t.next()
				if _, err := t.word("lookup table name"); err != nil {
					return nil, nil, err
				}
			}
			values, err := t.floats(count*comps, "scalars "+name)
			if err != nil {
				return nil, nil, err
			}
			if comps == 1 {
				scalars[name] = values
			}
		case "FIELD":
			_, _ = t.next()
			if _, err := t.word("field name"); err != nil {
				return nil, nil, err
			}
			arrays, err := t.int("field array count")
			if err != nil {
				return nil, nil, err
			}
			for range arrays {
				name, err := t.word("array name")
				if err != nil {
					return nil, nil, err
				}
				comps, err := t.int("array components")
				if err != nil {
					return nil, nil, err
				}
				tuples, err := t.int("array tuples")
				if err != nil {
					return nil, nil, err
				}
				if _, err := t.word("array type"); err != nil {
					return nil, nil, err
				}
				values, err := t.floats(comps*tuples, "array "+name)
				if err != nil {
					return nil, nil, err
				}
				if comps == 1 && tuples == count {
					scalars[name] = values
				}
			}
		case "NORMALS", "VECTORS":
			_, _ = t.next()
			if _, err := t.word("array name"); err != nil {
				return nil, nil, err
			}
			if _, err := t.word("array type"); err != nil {
				return nil, nil, err
			}
			values, err := t.floats(count*3, strings.ToLower(tok))
			if err != nil {
				return nil, nil, err
			}
			if strings.EqualFold(tok, "NORMALS") {
				normals = values
			}
		default:
			return scalars, normals, nil
		}
	}
}

func openInput(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", failure.ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", failure.ErrFileNotFound, path, err)
	}
	return f, nil
}

func parseErr(path, reason string) error {
	return fmt.Errorf("%w: %s: %s", failure.ErrParse, path, reason)
}
