package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/isogather/internal/failure"
	"github.com/danmuck/isogather/internal/mesh"
	"github.com/danmuck/isogather/internal/observability"
	"github.com/danmuck/isogather/internal/partition"
	"github.com/danmuck/isogather/internal/transfer"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Mode selects the receive order.
type Mode int

const (
	// Ordered receives strictly in plan order.
	Ordered Mode = iota
	// FirstReady receives every rank concurrently, keeping thread order
	// within a rank, and reassembles in plan order.
	FirstReady
)

func (m Mode) String() string {
	switch m {
	case Ordered:
		return "ordered"
	case FirstReady:
		return "first-ready"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "ordered":
		return Ordered, nil
	case "first-ready", "first_ready", "firstready":
		return FirstReady, nil
	default:
		return Ordered, fmt.Errorf("%w: unknown gather mode %q", failure.ErrConfiguration, raw)
	}
}

type Config struct {
	Scheme partition.Scheme
	Plan   []partition.Identity
	Mode   Mode
}

type Collector struct {
	cfg      Config
	recv     transfer.Receiver
	progress *Progress
}

func New(cfg Config, recv transfer.Receiver) (*Collector, error) {
	if err := cfg.Scheme.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Plan) == 0 {
		return nil, fmt.Errorf("%w: nothing to gather", failure.ErrConfiguration)
	}
	if recv == nil {
		return nil, errors.New("collector: nil receiver")
	}
	c := &Collector{cfg: cfg, recv: recv, progress: &Progress{}}
	c.progress.expected.Store(int64(len(cfg.Plan)))
	return c, nil
}

func (c *Collector) Progress() *Progress {
	return c.progress
}

// Report is the outcome of one gather. Collected plus failed always equals
// Expected.
type Report struct {
	Aggregate *mesh.Aggregate
	Failures  []*failure.PartitionError
	Expected  int
	Elapsed   time.Duration

	combined *mesh.Mesh
}

// Err joins every partition failure, nil on full success.
func (r *Report) Err() error {
	return failure.Join(r.Failures)
}

// Mesh builds the combined mesh once; the aggregate's fragments are
// released by the first call.
func (r *Report) Mesh() *mesh.Mesh {
	if r.combined == nil {
		r.combined = r.Aggregate.Build()
	}
	return r.combined
}

type result struct {
	index int
	frag  mesh.Fragment
	err   *failure.PartitionError
}

// Gather receives one message per planned identity.
func (c *Collector) Gather(ctx context.Context) *Report {
	start := time.Now()
	var results []result
	switch c.cfg.Mode {
	case FirstReady:
		results = c.gatherFirstReady(ctx)
	default:
		results = c.gatherOrdered(ctx)
	}

	report := &Report{
		Aggregate: mesh.NewAggregate(len(c.cfg.Plan)),
		Expected:  len(c.cfg.Plan),
	}
	for _, r := range results {
		if r.err != nil {
			report.Failures = append(report.Failures, r.err)
			continue
		}
		if err := report.Aggregate.Append(r.frag); err != nil {
			pe := failure.New(r.index, failure.StageTransfer, fmt.Errorf("%w: %w", failure.ErrChannel, err))
			report.Failures = append(report.Failures, pe)
			c.progress.collected.Add(-1)
			c.progress.failed.Add(1)
			observability.RecordFailure(c.cfg.Scheme.Strategy.String(), pe)
		}
	}
	failure.Sort(report.Failures)
	report.Elapsed = time.Since(start)

	log.Info().
		Str("mode", c.cfg.Mode.String()).
		Int("expected", report.Expected).
		Int("collected", report.Aggregate.Len()).
		Int("failed", len(report.Failures)).
		Int("triangles", report.Aggregate.NumTriangles()).
		Dur("elapsed", report.Elapsed).
		Msg("collector.Collector.Gather done")
	return report
}

func (c *Collector) gatherOrdered(ctx context.Context) []result {
	out := make([]result, len(c.cfg.Plan))
	for pos, id := range c.cfg.Plan {
		out[pos] = c.receive(ctx, id)
	}
	return out
}

// gatherFirstReady runs one receiver per rank. Results land in their plan
// position, so the caller still appends in plan order.
func (c *Collector) gatherFirstReady(ctx context.Context) []result {
	out := make([]result, len(c.cfg.Plan))
	var g errgroup.Group
	for _, group := range rankGroups(c.cfg.Plan) {
		g.Go(func() error {
			for _, pos := range group {
				out[pos] = c.receive(ctx, c.cfg.Plan[pos])
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// rankGroups splits plan positions by rank, keeping plan order inside
// each group.
func rankGroups(plan []partition.Identity) [][]int {
	var groups [][]int
	byRank := make(map[int]int)
	for pos, id := range plan {
		g, ok := byRank[id.Rank]
		if !ok {
			g = len(groups)
			byRank[id.Rank] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], pos)
	}
	return groups
}

func (c *Collector) receive(ctx context.Context, id partition.Identity) result {
	strategy := c.cfg.Scheme.Strategy.String()
	index, err := c.cfg.Scheme.GlobalIndex(id)
	if err != nil {
		pe := failure.New(-1, failure.StageResolve, err)
		c.progress.failed.Add(1)
		observability.RecordFailure(strategy, pe)
		return result{index: -1, err: pe}
	}
	frag, err := c.recv.Receive(ctx, id)
	if err == nil && frag.Owner != index {
		err = fmt.Errorf("%w: expected partition %d, got %d", failure.ErrChannel, index, frag.Owner)
	}
	if err == nil {
		if verr := frag.Mesh.Validate(); verr != nil {
			err = fmt.Errorf("%w: partition %d: %w", failure.ErrChannel, index, verr)
		}
	}
	if err != nil {
		pe := failure.Partition(index, failure.StageTransfer, err)
		c.progress.failed.Add(1)
		observability.RecordFailure(strategy, pe)
		log.Warn().Int("index", index).Str("stage", string(pe.Stage)).Err(pe.Err).Msg("collector.Collector.receive failed")
		return result{index: index, err: pe}
	}
	c.progress.collected.Add(1)
	observability.RecordFragment(strategy, frag.Mesh.NumTriangles())
	log.Debug().Int("index", index).Int("triangles", frag.Mesh.NumTriangles()).Msg("collector.Collector.receive")
	return result{index: index, frag: frag}
}
