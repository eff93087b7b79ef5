package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/danmuck/isogather/internal/collector"
	"github.com/danmuck/isogather/internal/failure"
	"github.com/danmuck/isogather/internal/mesh"
	"github.com/danmuck/isogather/internal/observability"
	"github.com/danmuck/isogather/internal/partition"
	"github.com/danmuck/isogather/internal/protocol/session"
	"github.com/danmuck/isogather/internal/transfer"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Outcome is what a collecting run produced.
type Outcome struct {
	Report  *collector.Report
	Record  collector.RunRecord
	EmitErr error
}

// Err joins the emit error with every partition failure.
func (o *Outcome) Err() error {
	if o == nil {
		return nil
	}
	return errors.Join(o.EmitErr, o.Report.Err())
}

// RunThreads extracts every partition on its own goroutine, joins them,
// merges in thread order, writes the output and prints the run record.
func RunThreads(ctx context.Context, opts Options, stdout io.Writer) (*Outcome, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Strategy != partition.ThreadOnly {
		return nil, fmt.Errorf("%w: RunThreads needs the thread strategy, got %s", failure.ErrConfiguration, opts.Strategy)
	}
	start := time.Now()
	scheme := opts.Scheme()
	plan, _ := opts.Plan()
	w := opts.Worker()

	arena := transfer.NewArena(scheme, opts.Threads)
	if err := arena.Run(ctx, func(ctx context.Context, thread int) (mesh.Fragment, error) {
		return w.Run(ctx, partition.Identity{Thread: thread, ThreadsPerRank: opts.Threads})
	}); err != nil {
		log.Warn().Err(err).Msg("dispatch.RunThreads arena interrupted")
	}

	c, err := collector.New(collector.Config{Scheme: scheme, Plan: plan, Mode: opts.Gather}, arena)
	if err != nil {
		return nil, err
	}
	out := finish(opts, c.Gather(ctx), start)
	if err := collector.PrintRecord(stdout, out.Record); err != nil {
		log.Warn().Err(err).Msg("dispatch.RunThreads print record")
	}
	return out, out.Err()
}

// RunWorker runs one worker rank and delivers its partitions to the
// collector at addr. Partition failures are reported through the channel
// and also returned, so the rank process can exit non-zero.
func RunWorker(ctx context.Context, opts Options, rank int, addr string) error {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return err
	}
	if opts.Strategy == partition.ThreadOnly {
		return fmt.Errorf("%w: thread strategy has no worker ranks", failure.ErrConfiguration)
	}
	if rank < 1 || rank >= opts.Ranks {
		return fmt.Errorf("%w: worker rank %d outside [1,%d)", failure.ErrConfiguration, rank, opts.Ranks)
	}
	hello := session.Hello{
		RunID:    opts.RunID,
		Rank:     rank,
		Threads:  partition.MessagesPerRank(opts.Strategy, opts.Threads),
		Strategy: opts.Strategy.String(),
	}
	link, err := transfer.Dial(ctx, addr, hello, opts.Session)
	if err != nil {
		return err
	}
	defer link.Close()

	var out transfer.Sender = link
	if opts.Transfer == TransferRelay {
		out = &transfer.RelaySender{Link: link, Files: opts.RelayFiles()}
	}
	w := opts.Worker()
	logger := log.With().Int("rank", link.Rank()).Str("strategy", opts.Strategy.String()).Logger()

	var failed int
	switch opts.Strategy {
	case partition.Hybrid:
		arena := transfer.NewArena(opts.Scheme(), opts.Threads)
		if err := arena.Run(ctx, func(ctx context.Context, thread int) (mesh.Fragment, error) {
			return w.Run(ctx, partition.Identity{Rank: rank, Thread: thread, ThreadsPerRank: opts.Threads})
		}); err != nil {
			logger.Warn().Err(err).Msg("dispatch.RunWorker arena interrupted")
		}
		if failed, err = arena.Forward(ctx, rank, out); err != nil {
			return err
		}
	default:
		frag, werr := w.Run(ctx, partition.Identity{Rank: rank, ThreadsPerRank: 1})
		if werr != nil {
			failed++
			if err := out.Fail(ctx, failure.Partition(rank-1, failure.StageLoad, werr)); err != nil {
				return err
			}
			break
		}
		if err := out.Send(ctx, frag); err != nil {
			var pe *failure.PartitionError
			if !errors.As(err, &pe) {
				return err
			}
			failed++
		}
	}
	logger.Info().Int("failed", failed).Msg("dispatch.RunWorker done")
	if failed > 0 {
		return fmt.Errorf("dispatch: rank %d reported %d failed partitions", rank, failed)
	}
	return nil
}

// Collect is the collector process of a process or hybrid run.
type Collect struct {
	opts  Options
	hub   *transfer.Hub
	coll  *collector.Collector
	start time.Time
}

// NewCollect prepares the collector end. An empty run id is generated;
// workers must be started with the one returned by Options.
func NewCollect(opts Options) (*Collect, error) {
	opts = opts.WithDefaults()
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Strategy == partition.ThreadOnly {
		return nil, fmt.Errorf("%w: thread strategy runs without a collector process", failure.ErrConfiguration)
	}
	scheme := opts.Scheme()
	plan, _ := opts.Plan()
	hub, err := transfer.NewHub(transfer.HubConfig{
		Scheme:  scheme,
		Ranks:   opts.Ranks,
		RunID:   opts.RunID,
		Session: opts.Session,
	})
	if err != nil {
		return nil, err
	}
	var recv transfer.Receiver = hub
	if opts.Transfer == TransferRelay {
		recv = &transfer.RelayReceiver{Hub: hub, Files: opts.RelayFiles()}
	}
	coll, err := collector.New(collector.Config{Scheme: scheme, Plan: plan, Mode: opts.Gather}, recv)
	if err != nil {
		return nil, err
	}
	return &Collect{opts: opts, hub: hub, coll: coll, start: time.Now()}, nil
}

func (c *Collect) Options() Options {
	return c.opts
}

func (c *Collect) Hub() *transfer.Hub {
	return c.hub
}

func (c *Collect) Progress() *collector.Progress {
	return c.coll.Progress()
}

// Run serves worker ranks on ln until every planned partition is
// accounted for, then writes the output and appends the run record.
func (c *Collect) Run(ctx context.Context, ln net.Listener) (*Outcome, error) {
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- c.hub.Serve(serveCtx, ln) }()

	report := c.coll.Gather(ctx)
	cancel()
	c.hub.Close()
	if err := <-served; err != nil {
		log.Warn().Err(err).Msg("dispatch.Collect.Run serve")
	}

	out := finish(c.opts, report, c.start)
	if err := collector.AppendRecord(c.opts.ResultsLog, out.Record); err != nil {
		log.Error().Err(err).Str("path", c.opts.ResultsLog).Msg("dispatch.Collect.Run results log")
		out.EmitErr = errors.Join(out.EmitErr, err)
	}
	return out, out.Err()
}

func finish(opts Options, report *collector.Report, start time.Time) *Outcome {
	out := &Outcome{Report: report}
	if err := collector.Emit(opts.Output, report); err != nil {
		out.EmitErr = err
		log.Error().Err(err).Str("path", opts.Output).Msg("dispatch.finish emit")
	}
	out.Record = collector.RunRecord{Elapsed: time.Since(start)}
	observability.RecordRun(opts.Strategy.String(), opts.Transfer.String(), out.Record.Elapsed)
	if opts.MetricsFile != "" {
		if err := observability.WriteTextfile(opts.MetricsFile); err != nil {
			log.Warn().Err(err).Str("path", opts.MetricsFile).Msg("dispatch.finish metrics textfile")
		}
	}
	log.Info().
		Str("strategy", opts.Strategy.String()).
		Str("transfer", opts.Transfer.String()).
		Int("collected", report.Aggregate.Len()).
		Int("failed", len(report.Failures)).
		Float64("elapsed_seconds", out.Record.Elapsed.Seconds()).
		Msg("dispatch measured elapsed")
	return out
}
