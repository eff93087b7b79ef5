package main

import (
	"fmt"
	"strconv"

	"github.com/danmuck/isogather/internal/config"
	"github.com/danmuck/isogather/internal/dispatch"
	"github.com/danmuck/isogather/internal/failure"
	"github.com/danmuck/isogather/internal/partition"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// runFlags are shared by run, collect and worker. Flags the user set win
// over the config file.
type runFlags struct {
	configPath  string
	mode        string
	transfer    string
	np          int
	gather      string
	ext         string
	resultsLog  string
	tmpDir      string
	tmpPrefix   string
	field       string
	levels      int
	runID       string
	metricsFile string
	statusAddr  string
}

func (f *runFlags) bind(fs *pflag.FlagSet) {
	d := config.Default()
	fs.StringVar(&f.configPath, "config", "", "TOML run configuration")
	fs.StringVar(&f.mode, "mode", d.Strategy, "partition strategy: process|thread|hybrid")
	fs.StringVar(&f.transfer, "transfer", d.Transfer, "fragment transfer: auto|message|relay|slot")
	fs.IntVarP(&f.np, "np", "n", d.Ranks, "process count including the collector")
	fs.StringVar(&f.gather, "gather", d.Gather, "receive order: ordered|first-ready")
	fs.StringVar(&f.ext, "ext", d.Ext, "partition file suffix")
	fs.StringVar(&f.resultsLog, "results-log", d.ResultsLog, "file the elapsed time is appended to")
	fs.StringVar(&f.tmpDir, "tmp-dir", d.TempDir, "directory for relay temp files")
	fs.StringVar(&f.tmpPrefix, "tmp-prefix", d.TmpPrefix, "relay temp file prefix")
	fs.StringVar(&f.field, "field", d.Field, "scalar field to contour")
	fs.IntVar(&f.levels, "levels", d.Levels, "number of isovalues")
	fs.StringVar(&f.runID, "run-id", "", "run id shared with worker ranks (generated when empty)")
	fs.StringVar(&f.metricsFile, "metrics-file", "", "write prometheus metrics here after the run")
	fs.StringVar(&f.statusAddr, "status-addr", "", "serve /health, /progress and /metrics here while collecting")
}

// load reads the config file, applies changed flags and returns the
// merged file form.
func (f *runFlags) load(fs *pflag.FlagSet) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("mode", func() { cfg.Strategy = f.mode })
	set("transfer", func() { cfg.Transfer = f.transfer })
	set("np", func() { cfg.Ranks = f.np })
	set("gather", func() { cfg.Gather = f.gather })
	set("ext", func() { cfg.Ext = f.ext })
	set("results-log", func() { cfg.ResultsLog = f.resultsLog })
	set("tmp-dir", func() { cfg.TempDir = f.tmpDir })
	set("tmp-prefix", func() { cfg.TmpPrefix = f.tmpPrefix })
	set("field", func() { cfg.Field = f.field })
	set("levels", func() { cfg.Levels = f.levels })
	set("run-id", func() { cfg.RunID = f.runID })
	set("metrics-file", func() { cfg.MetricsFile = f.metricsFile })
	set("status-addr", func() { cfg.StatusAddr = f.statusAddr })
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// resolve merges config, flags and positional arguments. Process mode
// takes <output> <prefix>; thread and hybrid take <threads> <output>
// <prefix>.
func (f *runFlags) resolve(cmd *cobra.Command, args []string) (dispatch.Options, config.Config, error) {
	cfg, err := f.load(cmd.Flags())
	if err != nil {
		return dispatch.Options{}, config.Config{}, err
	}
	opts, err := cfg.ToOptions()
	if err != nil {
		return dispatch.Options{}, config.Config{}, err
	}
	if err := applyArgs(&opts, args); err != nil {
		return dispatch.Options{}, config.Config{}, err
	}
	return opts, cfg, nil
}

func applyArgs(opts *dispatch.Options, args []string) error {
	want := 3
	usage := "<threads> <output> <prefix>"
	if opts.Strategy == partition.ProcessOnly {
		want = 2
		usage = "<output> <prefix>"
	}
	if len(args) == 0 && opts.Output != "" && opts.Prefix != "" && (want == 2 || opts.Threads > 0) {
		return nil
	}
	if len(args) != want {
		return fmt.Errorf("%w: %s mode takes %s, got %d arguments", failure.ErrConfiguration, opts.Strategy, usage, len(args))
	}
	if want == 3 {
		threads, err := strconv.Atoi(args[0])
		if err != nil || threads < 1 {
			return fmt.Errorf("%w: thread count %q must be a positive integer", failure.ErrConfiguration, args[0])
		}
		opts.Threads = threads
		args = args[1:]
	}
	opts.Output = args[0]
	opts.Prefix = args[1]
	return nil
}

// workerArgs rebuilds the command line a spawned rank needs to arrive at
// the same options.
func workerArgs(configPath string, opts dispatch.Options) []string {
	out := make([]string, 0, 24)
	if configPath != "" {
		out = append(out, "--config", configPath)
	}
	out = append(out,
		"--mode", opts.Strategy.String(),
		"--transfer", opts.Transfer.String(),
		"--ext", opts.Ext,
		"--tmp-dir", opts.TempDir,
		"--tmp-prefix", opts.TmpPrefix,
		"--field", opts.Field,
		"--levels", strconv.Itoa(opts.Levels),
	)
	if opts.Strategy != partition.ProcessOnly {
		out = append(out, strconv.Itoa(opts.Threads))
	}
	return append(out, opts.Output, opts.Prefix)
}

func maxArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) > n {
			return fmt.Errorf("%w: %s accepts at most %d arguments, got %d", failure.ErrConfiguration, cmd.Name(), n, len(args))
		}
		return nil
	}
}
