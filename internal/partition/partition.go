// Package partition maps worker identities to partition indexes and input paths.
package partition

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/danmuck/isogather/internal/failure"
)

// DefaultExt is the grid-file suffix shared by inputs and relay temp files.
const DefaultExt = ".vtk"

// Strategy selects how partitions are spread over processes and threads.
type Strategy int

const (
	ProcessOnly Strategy = iota
	ThreadOnly
	Hybrid
)

func (s Strategy) String() string {
	switch s {
	case ProcessOnly:
		return "process"
	case ThreadOnly:
		return "thread"
	case Hybrid:
		return "hybrid"
	default:
		return "strategy(" + strconv.Itoa(int(s)) + ")"
	}
}

// ParseStrategy accepts the names produced by Strategy.String.
func ParseStrategy(raw string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "process", "process-only", "mpi":
		return ProcessOnly, nil
	case "thread", "thread-only", "threads":
		return ThreadOnly, nil
	case "hybrid":
		return Hybrid, nil
	default:
		return 0, fmt.Errorf("%w: unknown strategy %q", failure.ErrConfiguration, raw)
	}
}

// Identity names one worker. Rank is unused in ThreadOnly mode and Thread is
// unused in ProcessOnly mode.
type Identity struct {
	Rank           int
	Thread         int
	ThreadsPerRank int
}

func (id Identity) String() string {
	return fmt.Sprintf("rank=%d thread=%d", id.Rank, id.Thread)
}

// Partition is one input tile, consumed by exactly one worker.
type Partition struct {
	Index int
	Path  string
}

// Scheme is the naming rule for one run.
type Scheme struct {
	Strategy       Strategy
	Prefix         string
	ThreadsPerRank int
	Ext            string
}

func (s Scheme) ext() string {
	if s.Ext == "" {
		return DefaultExt
	}
	return s.Ext
}

// Validate fails before any worker is dispatched.
func (s Scheme) Validate() error {
	if strings.TrimSpace(s.Prefix) == "" {
		return fmt.Errorf("%w: input prefix is empty", failure.ErrConfiguration)
	}
	switch s.Strategy {
	case ProcessOnly:
	case ThreadOnly, Hybrid:
		if s.ThreadsPerRank <= 0 {
			return fmt.Errorf("%w: threads per rank must be positive, got %d", failure.ErrConfiguration, s.ThreadsPerRank)
		}
	default:
		return fmt.Errorf("%w: unknown strategy %s", failure.ErrConfiguration, s.Strategy)
	}
	return nil
}

// GlobalIndex applies the strategy's index formula.
func (s Scheme) GlobalIndex(id Identity) (int, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}
	switch s.Strategy {
	case ProcessOnly:
		if id.Rank < 1 {
			return 0, fmt.Errorf("%w: worker rank must be >= 1, got %d", failure.ErrConfiguration, id.Rank)
		}
		return id.Rank - 1, nil
	case ThreadOnly:
		if id.Thread < 0 || id.Thread >= s.ThreadsPerRank {
			return 0, fmt.Errorf("%w: thread id %d outside [0,%d)", failure.ErrConfiguration, id.Thread, s.ThreadsPerRank)
		}
		return id.Thread, nil
	default:
		if id.Rank < 1 {
			return 0, fmt.Errorf("%w: worker rank must be >= 1, got %d", failure.ErrConfiguration, id.Rank)
		}
		if id.Thread < 0 || id.Thread >= s.ThreadsPerRank {
			return 0, fmt.Errorf("%w: thread id %d outside [0,%d)", failure.ErrConfiguration, id.Thread, s.ThreadsPerRank)
		}
		return (id.Rank-1)*s.ThreadsPerRank + id.Thread, nil
	}
}

// Resolve names the input file for id.
func (s Scheme) Resolve(id Identity) (Partition, error) {
	index, err := s.GlobalIndex(id)
	if err != nil {
		return Partition{}, err
	}
	return Partition{Index: index, Path: s.Prefix + strconv.Itoa(index) + s.ext()}, nil
}

// Path names the input file of a known partition index.
func (s Scheme) Path(index int) string {
	return s.Prefix + strconv.Itoa(index) + s.ext()
}

// CheckTempPrefix rejects a relay temp prefix whose files could shadow
// inputs. Names are prefix+index+ext on both sides, so the two prefixes
// collide whenever one extends the other by digits only.
func (s Scheme) CheckTempPrefix(dir, tmpPrefix string) error {
	if strings.TrimSpace(tmpPrefix) == "" {
		return fmt.Errorf("%w: temp prefix is empty", failure.ErrConfiguration)
	}
	temp := absPrefix(filepath.Join(dir, tmpPrefix))
	input := absPrefix(s.Prefix)
	if extendsByDigits(temp, input) || extendsByDigits(input, temp) {
		return fmt.Errorf("%w: temp prefix %q in %q can name the same files as input prefix %q",
			failure.ErrConfiguration, tmpPrefix, dir, s.Prefix)
	}
	return nil
}

// absPrefix normalizes a name prefix without losing a trailing separator,
// which is part of the generated names.
func absPrefix(prefix string) string {
	out := prefix
	if abs, err := filepath.Abs(prefix); err == nil {
		out = abs
	}
	if strings.HasSuffix(prefix, "/") || strings.HasSuffix(prefix, string(filepath.Separator)) {
		out += string(filepath.Separator)
	}
	return out
}

func extendsByDigits(long, short string) bool {
	rest, ok := strings.CutPrefix(long, short)
	return ok && strings.Trim(rest, "0123456789") == ""
}

// TempPath names the disk relay file for one partition.
func TempPath(dir, tmpPrefix string, index int, ext string) string {
	if ext == "" {
		ext = DefaultExt
	}
	return filepath.Join(dir, tmpPrefix+strconv.Itoa(index)+ext)
}
