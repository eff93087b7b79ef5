package dispatch

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/isogather/internal/collector"
	"github.com/danmuck/isogather/internal/failure"
	"github.com/danmuck/isogather/internal/partition"
	"github.com/danmuck/isogather/internal/protocol/session"
	"github.com/danmuck/isogather/internal/transfer"
	"github.com/danmuck/isogather/internal/worker"
	"github.com/google/uuid"
)

const (
	DefaultResultsLog = "OutPutFile.txt"
	DefaultTmpPrefix  = "tmp"
)

// Transfer selects how fragments reach the collector. TransferAuto picks
// the slot arena for threads and messages for processes.
type Transfer int

const (
	TransferAuto Transfer = iota
	TransferMessage
	TransferRelay
	TransferSlot
)

func (t Transfer) String() string {
	switch t {
	case TransferAuto:
		return "auto"
	case TransferMessage:
		return "message"
	case TransferRelay:
		return "relay"
	case TransferSlot:
		return "slot"
	default:
		return fmt.Sprintf("transfer(%d)", int(t))
	}
}

func ParseTransfer(raw string) (Transfer, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "auto":
		return TransferAuto, nil
	case "message", "messages", "net":
		return TransferMessage, nil
	case "relay", "files", "disk":
		return TransferRelay, nil
	case "slot", "shared", "memory":
		return TransferSlot, nil
	default:
		return TransferAuto, fmt.Errorf("%w: unknown transfer %q", failure.ErrConfiguration, raw)
	}
}

// Options describes one run. Ranks counts every process including the
// collector; Threads is the thread count in thread mode and the threads
// per rank in hybrid mode.
type Options struct {
	Strategy    partition.Strategy
	Transfer    Transfer
	Gather      collector.Mode
	Ranks       int
	Threads     int
	Prefix      string
	Ext         string
	Output      string
	ResultsLog  string
	TempDir     string
	TmpPrefix   string
	Field       string
	Levels      int
	RunID       string
	MetricsFile string
	Session     session.Config
}

// WithDefaults resolves TransferAuto and fills empty names.
func (o Options) WithDefaults() Options {
	if o.Transfer == TransferAuto {
		if o.Strategy == partition.ThreadOnly {
			o.Transfer = TransferSlot
		} else {
			o.Transfer = TransferMessage
		}
	}
	if o.ResultsLog == "" {
		o.ResultsLog = DefaultResultsLog
	}
	if o.TmpPrefix == "" {
		o.TmpPrefix = DefaultTmpPrefix
	}
	if o.TempDir == "" {
		o.TempDir = "."
	}
	if o.Field == "" {
		o.Field = worker.FieldName
	}
	if o.Levels <= 0 {
		o.Levels = worker.IsoLevels
	}
	o.Session = o.Session.WithDefaults()
	return o
}

func (o Options) Scheme() partition.Scheme {
	threads := o.Threads
	if o.Strategy == partition.ProcessOnly {
		threads = 1
	}
	return partition.Scheme{Strategy: o.Strategy, Prefix: o.Prefix, ThreadsPerRank: threads, Ext: o.Ext}
}

func (o Options) Plan() ([]partition.Identity, error) {
	return partition.Plan(o.Strategy, o.Ranks, o.Threads)
}

func (o Options) RelayFiles() transfer.RelayFiles {
	return transfer.RelayFiles{Dir: o.TempDir, TmpPrefix: o.TmpPrefix, Ext: o.Ext}
}

func (o Options) Worker() *worker.Worker {
	return worker.New(o.Scheme(), o.Field, o.Levels)
}

// Validate runs before any worker starts. Every error wraps
// failure.ErrConfiguration.
func (o Options) Validate() error {
	o = o.WithDefaults()
	if err := o.Scheme().Validate(); err != nil {
		return err
	}
	if _, err := o.Plan(); err != nil {
		return err
	}
	if strings.TrimSpace(o.Output) == "" {
		return fmt.Errorf("%w: output path is empty", failure.ErrConfiguration)
	}
	switch o.Strategy {
	case partition.ThreadOnly:
		if o.Transfer != TransferSlot {
			return fmt.Errorf("%w: thread strategy only supports slot transfer, got %s", failure.ErrConfiguration, o.Transfer)
		}
	default:
		if o.Transfer != TransferMessage && o.Transfer != TransferRelay {
			return fmt.Errorf("%w: %s strategy needs message or relay transfer, got %s", failure.ErrConfiguration, o.Strategy, o.Transfer)
		}
		if _, err := uuid.Parse(o.RunID); err != nil {
			return fmt.Errorf("%w: run id %q: %v", failure.ErrConfiguration, o.RunID, err)
		}
	}
	if o.Transfer == TransferRelay {
		if err := o.Scheme().CheckTempPrefix(o.TempDir, o.TmpPrefix); err != nil {
			return err
		}
		info, err := os.Stat(o.TempDir)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("%w: temp dir %q is not a directory", failure.ErrConfiguration, o.TempDir)
		}
	}
	return nil
}

// ExitCode maps a run error to the process exit status: 0 success, 1 for
// failed partitions or runtime errors, 2 for configuration errors.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var pe *failure.PartitionError
	if errors.As(err, &pe) {
		return 1
	}
	if errors.Is(err, failure.ErrConfiguration) {
		return 2
	}
	return 1
}
