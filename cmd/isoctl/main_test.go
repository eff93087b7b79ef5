package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/danmuck/isogather/internal/dispatch"
	"github.com/danmuck/isogather/internal/partition"
	"github.com/danmuck/isogather/internal/testutil/gridtest"
	"github.com/danmuck/isogather/internal/testutil/testlog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunThreadMode(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	prefix := filepath.Join(dir, "volume")
	gridtest.WritePartitions(t, partition.Scheme{Strategy: partition.ThreadOnly, Prefix: prefix, ThreadsPerRank: 2}, 2)
	output := filepath.Join(dir, "surface.vtk")

	code, stdout, stderr := run(t, "run", "--mode", "thread", "2", output, prefix)
	require.Equal(t, 0, code, stderr)
	assert.Regexp(t, regexp.MustCompile(`^\d+\.\d{6}\n$`), stdout)
	assert.FileExists(t, output)
}

func TestRunMissingPartitionExitsOne(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	prefix := filepath.Join(dir, "volume")
	gridtest.WritePartitions(t, partition.Scheme{Strategy: partition.ThreadOnly, Prefix: prefix, ThreadsPerRank: 2}, 1)
	output := filepath.Join(dir, "surface.vtk")

	code, _, stderr := run(t, "run", "--mode", "thread", "2", output, prefix)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "volume1.vtk")
	assert.FileExists(t, output)
}

func TestConfigurationErrorsExitTwo(t *testing.T) {
	testlog.Start(t)
	cases := map[string][]string{
		"unknown flag":     {"run", "--bogus"},
		"unknown mode":     {"run", "--mode", "cluster", "out.vtk", "volume"},
		"thread count":     {"run", "--mode", "thread", "many", "out.vtk", "volume"},
		"missing args":     {"run", "--mode", "process", "--np", "3", "out.vtk"},
		"too many args":    {"run", "a", "b", "c", "d"},
		"one process":      {"run", "--mode", "process", "--np", "1", "out.vtk", "volume"},
		"slot for process": {"run", "--np", "3", "--transfer", "slot", "out.vtk", "volume"},
		"thread collector": {"collect", "--mode", "thread", "2", "out.vtk", "volume"},
		"worker env":       {"worker", "out.vtk", "volume"},
		"missing config":   {"config", "validate", filepath.Join(t.TempDir(), "absent.toml")},
	}
	for name, args := range cases {
		code, _, stderr := run(t, args...)
		assert.Equal(t, 2, code, "%s: %s", name, stderr)
	}
}

func TestConfigInitThenValidate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "isoctl.toml")

	code, stdout, stderr := run(t, "config", "init", path)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, path)
	code, _, _ = run(t, "config", "init", path)
	assert.Equal(t, 1, code)

	code, stdout, stderr = run(t, "config", "validate", path)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "strategy=process")
}

func TestConfigFileFeedsRun(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	prefix := filepath.Join(dir, "volume")
	gridtest.WritePartitions(t, partition.Scheme{Strategy: partition.ThreadOnly, Prefix: prefix, ThreadsPerRank: 3}, 3)
	path := filepath.Join(dir, "isoctl.toml")
	body := "strategy = \"thread\"\nthreads = 3\nlevels = 10\n" +
		"prefix = \"" + filepath.ToSlash(prefix) + "\"\noutput = \"" + filepath.ToSlash(filepath.Join(dir, "out.vtk")) + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	code, _, stderr := run(t, "run", "--config", path)
	require.Equal(t, 0, code, stderr)
	assert.FileExists(t, filepath.Join(dir, "out.vtk"))
}

func TestApplyArgs(t *testing.T) {
	opts := dispatch.Options{Strategy: partition.ProcessOnly}
	require.NoError(t, applyArgs(&opts, []string{"out.vtk", "volume"}))
	assert.Equal(t, "out.vtk", opts.Output)
	assert.Equal(t, "volume", opts.Prefix)

	opts = dispatch.Options{Strategy: partition.Hybrid}
	require.NoError(t, applyArgs(&opts, []string{"4", "out.vtk", "volume"}))
	assert.Equal(t, 4, opts.Threads)

	opts = dispatch.Options{Strategy: partition.Hybrid}
	assert.Error(t, applyArgs(&opts, []string{"out.vtk", "volume"}))
	opts = dispatch.Options{Strategy: partition.ThreadOnly}
	assert.Error(t, applyArgs(&opts, []string{"0", "out.vtk", "volume"}))
}

func TestWorkerArgsRebuildOptions(t *testing.T) {
	testlog.Start(t)
	want := dispatch.Options{
		Strategy:  partition.Hybrid,
		Transfer:  dispatch.TransferRelay,
		Threads:   3,
		Prefix:    "data/volume",
		Ext:       ".vtk",
		Output:    "surface.vtk",
		TempDir:   "scratch",
		TmpPrefix: "relay",
		Field:     "pressure",
		Levels:    12,
	}

	var f runFlags
	cmd := &cobra.Command{Use: "worker"}
	f.bind(cmd.Flags())
	require.NoError(t, cmd.Flags().Parse(workerArgs("", want)))
	got, _, err := f.resolve(cmd, cmd.Flags().Args())
	require.NoError(t, err)

	assert.Equal(t, want.Strategy, got.Strategy)
	assert.Equal(t, want.Transfer, got.Transfer)
	assert.Equal(t, want.Threads, got.Threads)
	assert.Equal(t, want.Prefix, got.Prefix)
	assert.Equal(t, want.Output, got.Output)
	assert.Equal(t, want.TempDir, got.TempDir)
	assert.Equal(t, want.TmpPrefix, got.TmpPrefix)
	assert.Equal(t, want.Field, got.Field)
	assert.Equal(t, want.Levels, got.Levels)
}
