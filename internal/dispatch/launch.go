package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/isogather/internal/failure"
	"github.com/rs/zerolog/log"
)

const (
	EnvRank      = "ISOGATHER_RANK"
	EnvSize      = "ISOGATHER_SIZE"
	EnvCollector = "ISOGATHER_COLLECTOR"
	EnvRunID     = "ISOGATHER_RUN_ID"

	// ChildGrace is how long the launcher waits for ranks after the
	// collector finished before cancelling them.
	ChildGrace = 5 * time.Second
)

// WorkerSpec is what a spawned rank needs beyond the shared options.
type WorkerSpec struct {
	Rank      int
	Size      int
	Collector string
	RunID     string
}

func (s WorkerSpec) Env() []string {
	return []string{
		EnvRank + "=" + strconv.Itoa(s.Rank),
		EnvSize + "=" + strconv.Itoa(s.Size),
		EnvCollector + "=" + s.Collector,
		EnvRunID + "=" + s.RunID,
	}
}

// WorkerSpecFromEnv reads the spec a launcher placed in the environment.
func WorkerSpecFromEnv(getenv func(string) string) (WorkerSpec, error) {
	rank, err := strconv.Atoi(strings.TrimSpace(getenv(EnvRank)))
	if err != nil {
		return WorkerSpec{}, fmt.Errorf("%w: %s: %v", failure.ErrConfiguration, EnvRank, err)
	}
	size, err := strconv.Atoi(strings.TrimSpace(getenv(EnvSize)))
	if err != nil {
		return WorkerSpec{}, fmt.Errorf("%w: %s: %v", failure.ErrConfiguration, EnvSize, err)
	}
	spec := WorkerSpec{
		Rank:      rank,
		Size:      size,
		Collector: strings.TrimSpace(getenv(EnvCollector)),
		RunID:     strings.TrimSpace(getenv(EnvRunID)),
	}
	if spec.Collector == "" {
		return WorkerSpec{}, fmt.Errorf("%w: %s is empty", failure.ErrConfiguration, EnvCollector)
	}
	return spec, nil
}

// Process is a started worker rank.
type Process interface {
	Wait() error
}

// Spawner starts worker ranks for the launcher.
type Spawner interface {
	Spawn(ctx context.Context, spec WorkerSpec) (Process, error)
}

// ExecSpawner re-executes a binary as `<Path> worker <Args...>` with the
// spec in its environment.
type ExecSpawner struct {
	Path   string
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
}

func (s ExecSpawner) Spawn(ctx context.Context, spec WorkerSpec) (Process, error) {
	args := append([]string{"worker"}, s.Args...)
	cmd := exec.CommandContext(ctx, s.Path, args...)
	cmd.Env = append(os.Environ(), spec.Env()...)
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("dispatch: start rank %d: %w", spec.Rank, err)
	}
	return cmd, nil
}

// LocalSpawner runs each rank as a goroutine in this process, still over
// the network channel.
type LocalSpawner struct {
	Options Options
}

type localProcess struct {
	done chan struct{}
	err  error
}

func (p *localProcess) Wait() error {
	<-p.done
	return p.err
}

func (s LocalSpawner) Spawn(ctx context.Context, spec WorkerSpec) (Process, error) {
	opts := s.Options
	opts.Ranks = spec.Size
	opts.RunID = spec.RunID
	p := &localProcess{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		p.err = RunWorker(ctx, opts, spec.Rank, spec.Collector)
	}()
	return p, nil
}

// Launch runs a whole process or hybrid run around c: it listens on
// listenAddr, spawns ranks 1..Ranks-1, collects, and reaps every rank. A
// rank that dies before connecting has its partitions failed instead of
// waited on.
func Launch(ctx context.Context, c *Collect, listenAddr string, spawner Spawner) (*Outcome, error) {
	opts := c.Options()
	if listenAddr == "" {
		listenAddr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("dispatch: listen %s: %w", listenAddr, err)
	}
	addr := ln.Addr().String()
	log.Info().
		Str("addr", addr).
		Str("run_id", opts.RunID).
		Int("ranks", opts.Ranks).
		Msg("dispatch.Launch collector listening")

	childCtx, cancelChildren := context.WithCancel(ctx)
	defer cancelChildren()
	var children sync.WaitGroup
	var mu sync.Mutex
	var childErrs []error
	for rank := 1; rank < opts.Ranks; rank++ {
		spec := WorkerSpec{Rank: rank, Size: opts.Ranks, Collector: addr, RunID: opts.RunID}
		proc, err := spawner.Spawn(childCtx, spec)
		if err != nil {
			log.Error().Int("rank", rank).Err(err).Msg("dispatch.Launch spawn failed")
			c.Hub().Abandon(rank, err)
			mu.Lock()
			childErrs = append(childErrs, err)
			mu.Unlock()
			continue
		}
		children.Add(1)
		go func() {
			defer children.Done()
			err := proc.Wait()
			if err != nil {
				log.Warn().Int("rank", rank).Err(err).Msg("dispatch.Launch rank exited")
				mu.Lock()
				childErrs = append(childErrs, fmt.Errorf("rank %d: %w", rank, err))
				mu.Unlock()
			} else {
				err = errors.New("exited without connecting")
			}
			c.Hub().Abandon(rank, err)
		}()
	}

	out, runErr := c.Run(ctx, ln)

	reaped := make(chan struct{})
	go func() {
		children.Wait()
		close(reaped)
	}()
	select {
	case <-reaped:
	case <-time.After(ChildGrace):
		log.Warn().Msg("dispatch.Launch cancelling ranks still running")
		cancelChildren()
		<-reaped
	}
	if len(childErrs) > 0 {
		log.Debug().Int("ranks_failed", len(childErrs)).Msg("dispatch.Launch reaped")
	}
	return out, runErr
}
