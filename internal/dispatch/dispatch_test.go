package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/danmuck/isogather/internal/collector"
	"github.com/danmuck/isogather/internal/failure"
	"github.com/danmuck/isogather/internal/partition"
	"github.com/danmuck/isogather/internal/protocol/session"
	"github.com/danmuck/isogather/internal/testutil/gridtest"
	"github.com/danmuck/isogather/internal/testutil/testlog"
	"github.com/danmuck/isogather/internal/vtkio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession() session.Config {
	cfg := session.DefaultConfig()
	cfg.ReceiveTimeout = 10 * time.Second
	cfg.MaxConnectAttempts = 5
	cfg.Backoff = session.BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 100 * time.Millisecond}
	return cfg
}

// setup writes count ball partitions into a fresh directory and returns
// options pointing at them.
func setup(t *testing.T, strategy partition.Strategy, ranks, threads, count int) Options {
	t.Helper()
	dir := t.TempDir()
	opts := Options{
		Strategy:   strategy,
		Ranks:      ranks,
		Threads:    threads,
		Prefix:     filepath.Join(dir, "volume"),
		Output:     filepath.Join(dir, "out.vtk"),
		ResultsLog: filepath.Join(dir, "results.txt"),
		TempDir:    dir,
		Session:    testSession(),
	}
	gridtest.WritePartitions(t, opts.WithDefaults().Scheme(), count)
	return opts
}

func launch(t *testing.T, opts Options, spawner Spawner) (*Outcome, error) {
	t.Helper()
	c, err := NewCollect(opts)
	require.NoError(t, err)
	return Launch(context.Background(), c, "", spawner)
}

func TestRunThreadsMergesEveryPartition(t *testing.T) {
	testlog.Start(t)
	opts := setup(t, partition.ThreadOnly, 0, 3, 3)
	var stdout bytes.Buffer

	out, err := RunThreads(context.Background(), opts, &stdout)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, out.Report.Aggregate.Owners())
	assert.Regexp(t, regexp.MustCompile(`^\d+\.\d{6}\n$`), stdout.String())

	m, err := vtkio.ReadPolyData(opts.Output)
	require.NoError(t, err)
	assert.Positive(t, m.NumTriangles())
	assert.Equal(t, m.NumTriangles(), len(m.Normals))
}

func TestRunThreadsRejectsMessageTransfer(t *testing.T) {
	testlog.Start(t)
	opts := setup(t, partition.ThreadOnly, 0, 2, 2)
	opts.Transfer = TransferMessage

	_, err := RunThreads(context.Background(), opts, &bytes.Buffer{})
	assert.ErrorIs(t, err, failure.ErrConfiguration)
	assert.Equal(t, 2, ExitCode(err))
	assert.NoFileExists(t, opts.Output)
}

func TestLaunchMissingPartitionStillMergesTheRest(t *testing.T) {
	testlog.Start(t)
	opts := setup(t, partition.ProcessOnly, 4, 0, 3)
	require.NoError(t, os.Remove(opts.WithDefaults().Scheme().Path(1)))

	out, err := launch(t, opts, LocalSpawner{Options: opts})
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrFileNotFound)
	assert.Equal(t, 1, ExitCode(err))

	require.Len(t, out.Report.Failures, 1)
	assert.Equal(t, 1, out.Report.Failures[0].Index)
	assert.Contains(t, err.Error(), "volume1.vtk")
	assert.Equal(t, []int{0, 2}, out.Report.Aggregate.Owners())

	m, err := vtkio.ReadPolyData(opts.Output)
	require.NoError(t, err)
	assert.Positive(t, m.NumTriangles())

	record, err := os.ReadFile(opts.ResultsLog)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^\d+\.\d{6}\n$`), string(record))
}

func TestLaunchHybrid(t *testing.T) {
	testlog.Start(t)
	opts := setup(t, partition.Hybrid, 3, 2, 4)

	out, err := launch(t, opts, LocalSpawner{Options: opts})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, out.Report.Aggregate.Owners())
	assert.FileExists(t, opts.Output)
}

func TestLaunchFirstReadyCollectsSameSet(t *testing.T) {
	testlog.Start(t)
	opts := setup(t, partition.ProcessOnly, 4, 0, 3)
	opts.Gather = collector.FirstReady

	out, err := launch(t, opts, LocalSpawner{Options: opts})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{0, 1, 2}, out.Report.Aggregate.Owners())
}

func TestLaunchRelayCleansTempFiles(t *testing.T) {
	testlog.Start(t)
	opts := setup(t, partition.ProcessOnly, 3, 0, 2)
	opts.Transfer = TransferRelay

	out, err := launch(t, opts, LocalSpawner{Options: opts})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, out.Report.Aggregate.Owners())

	leftovers, err := filepath.Glob(filepath.Join(opts.TempDir, DefaultTmpPrefix+"*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
	// inputs are untouched
	assert.FileExists(t, opts.WithDefaults().Scheme().Path(0))
	assert.FileExists(t, opts.WithDefaults().Scheme().Path(1))
}

type flakySpawner struct {
	LocalSpawner
	fail int
}

func (s flakySpawner) Spawn(ctx context.Context, spec WorkerSpec) (Process, error) {
	if spec.Rank == s.fail {
		return nil, errors.New("exec: no such binary")
	}
	return s.LocalSpawner.Spawn(ctx, spec)
}

func TestLaunchSpawnFailureFailsThatRank(t *testing.T) {
	testlog.Start(t)
	opts := setup(t, partition.ProcessOnly, 3, 0, 2)

	out, err := launch(t, opts, flakySpawner{LocalSpawner: LocalSpawner{Options: opts}, fail: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrChannel)
	require.Len(t, out.Report.Failures, 1)
	assert.Equal(t, 1, out.Report.Failures[0].Index)
	assert.Equal(t, []int{0}, out.Report.Aggregate.Owners())
}

func TestValidate(t *testing.T) {
	testlog.Start(t)
	base := Options{
		Strategy: partition.ProcessOnly,
		Ranks:    3,
		Prefix:   "volume",
		Output:   "out.vtk",
		RunID:    "2b1f0d1e-5d8c-4f3e-9b7a-3c1d2e4f5a6b",
	}
	require.NoError(t, base.Validate())
	relayDir := t.TempDir()

	cases := map[string]func(o *Options){
		"empty prefix":      func(o *Options) { o.Prefix = " " },
		"empty output":      func(o *Options) { o.Output = "" },
		"one rank":          func(o *Options) { o.Ranks = 1 },
		"slot for process":  func(o *Options) { o.Transfer = TransferSlot },
		"bad run id":        func(o *Options) { o.RunID = "run-1" },
		"hybrid no threads": func(o *Options) { o.Strategy = partition.Hybrid },
		"temp shadows input": func(o *Options) {
			o.Transfer = TransferRelay
			o.TempDir = "."
			o.TmpPrefix = "volume"
		},
		"temp names extend input names": func(o *Options) {
			o.Transfer = TransferRelay
			o.Ranks = 14
			o.TempDir = relayDir
			o.Prefix = filepath.Join(relayDir, "tmp1")
			o.TmpPrefix = "tmp"
		},
		"input names extend temp names": func(o *Options) {
			o.Transfer = TransferRelay
			o.Ranks = 14
			o.TempDir = relayDir
			o.Prefix = filepath.Join(relayDir, "tmp")
			o.TmpPrefix = "tmp1"
		},
		"missing temp dir": func(o *Options) {
			o.Transfer = TransferRelay
			o.TempDir = filepath.Join(t.TempDir(), "absent")
		},
	}
	for name, mutate := range cases {
		o := base
		mutate(&o)
		err := o.Validate()
		assert.ErrorIs(t, err, failure.ErrConfiguration, name)
		assert.Equal(t, 2, ExitCode(err), name)
	}
}

func TestParseTransfer(t *testing.T) {
	for raw, want := range map[string]Transfer{"": TransferAuto, "relay": TransferRelay, "MESSAGE": TransferMessage, "slot": TransferSlot} {
		got, err := ParseTransfer(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseTransfer("carrier-pigeon")
	assert.ErrorIs(t, err, failure.ErrConfiguration)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(failure.New(3, failure.StageLoad, failure.ErrFileNotFound)))
	assert.Equal(t, 1, ExitCode(fmt.Errorf("wrapped: %w", failure.New(0, failure.StageEmit, failure.ErrWrite))))
	assert.Equal(t, 2, ExitCode(fmt.Errorf("%w: bad", failure.ErrConfiguration)))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
}

func TestWorkerSpecEnvRoundTrip(t *testing.T) {
	spec := WorkerSpec{Rank: 2, Size: 5, Collector: "127.0.0.1:4000", RunID: "2b1f0d1e-5d8c-4f3e-9b7a-3c1d2e4f5a6b"}
	env := map[string]string{}
	for _, kv := range spec.Env() {
		for i := range kv {
			if kv[i] == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	got, err := WorkerSpecFromEnv(func(k string) string { return env[k] })
	require.NoError(t, err)
	assert.Equal(t, spec, got)

	_, err = WorkerSpecFromEnv(func(string) string { return "" })
	assert.ErrorIs(t, err, failure.ErrConfiguration)
}
