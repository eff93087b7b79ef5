package failure

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrFileNotFound  = errors.New("file not found")
	ErrParse         = errors.New("parse error")
	ErrFieldNotFound = errors.New("field not found")
	ErrChannel       = errors.New("channel error")
	ErrWrite         = errors.New("write error")
)

// Stage names one step of a partition's trip from input file to aggregate.
type Stage string

const (
	StageResolve  Stage = "resolve"
	StageLoad     Stage = "load"
	StageField    Stage = "field"
	StageContour  Stage = "contour"
	StageNormals  Stage = "normals"
	StageTransfer Stage = "transfer"
	StageEmit     Stage = "emit"
)

// Code is the wire form of a taxonomy sentinel.
type Code uint32

const (
	CodeUnknown Code = iota
	CodeConfiguration
	CodeFileNotFound
	CodeParse
	CodeFieldNotFound
	CodeChannel
	CodeWrite
)

var codes = []struct {
	code Code
	err  error
}{
	{CodeConfiguration, ErrConfiguration},
	{CodeFileNotFound, ErrFileNotFound},
	{CodeParse, ErrParse},
	{CodeFieldNotFound, ErrFieldNotFound},
	{CodeChannel, ErrChannel},
	{CodeWrite, ErrWrite},
}

func (c Code) String() string {
	switch c {
	case CodeConfiguration:
		return "configuration"
	case CodeFileNotFound:
		return "file_not_found"
	case CodeParse:
		return "parse"
	case CodeFieldNotFound:
		return "field_not_found"
	case CodeChannel:
		return "channel"
	case CodeWrite:
		return "write"
	default:
		return "unknown"
	}
}

// CodeOf classifies err against the taxonomy.
func CodeOf(err error) Code {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeUnknown
}

// FromCode returns the sentinel for code, or nil for CodeUnknown.
func FromCode(code Code) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}

// PartitionError is the diagnostic for one partition that produced no fragment.
type PartitionError struct {
	Index int
	Stage Stage
	Err   error
}

func New(index int, stage Stage, err error) *PartitionError {
	return &PartitionError{Index: index, Stage: stage, Err: err}
}

func (e *PartitionError) Error() string {
	return fmt.Sprintf("partition %d stage=%s: %v", e.Index, e.Stage, e.Err)
}

func (e *PartitionError) Unwrap() error {
	return e.Err
}

// Remote rebuilds a failure that crossed a process boundary. The message is
// kept verbatim and the code is mapped back onto its sentinel so errors.Is
// still matches on the collector side.
func Remote(index int, stage Stage, code Code, message string) *PartitionError {
	sentinel := FromCode(code)
	msg := strings.TrimSpace(message)
	var err error
	switch {
	case sentinel == nil:
		err = errors.New(msg)
	case msg == "" || msg == sentinel.Error():
		err = sentinel
	default:
		err = &remoteCause{sentinel: sentinel, msg: msg}
	}
	return &PartitionError{Index: index, Stage: stage, Err: err}
}

type remoteCause struct {
	sentinel error
	msg      string
}

func (r *remoteCause) Error() string { return r.msg }
func (r *remoteCause) Unwrap() error { return r.sentinel }

// Partition extracts the partition diagnostic from err, or wraps err as a
// failure of index at stage when err carries none.
func Partition(index int, stage Stage, err error) *PartitionError {
	var pe *PartitionError
	if errors.As(err, &pe) {
		return pe
	}
	return New(index, stage, err)
}

// Sort orders failures by partition index.
func Sort(errs []*PartitionError) {
	sort.Slice(errs, func(i, j int) bool {
		return errs[i].Index < errs[j].Index
	})
}

// Join combines failures into one error, nil when there are none.
func Join(errs []*PartitionError) error {
	if len(errs) == 0 {
		return nil
	}
	out := make([]error, 0, len(errs))
	for _, e := range errs {
		out = append(out, e)
	}
	return errors.Join(out...)
}
