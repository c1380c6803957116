package main

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/ivoronin/samefile/internal/checksum"
	"github.com/ivoronin/samefile/internal/config"
	"github.com/ivoronin/samefile/internal/deduper"
	"github.com/ivoronin/samefile/internal/logger"
	"github.com/ivoronin/samefile/internal/progress"
	"github.com/ivoronin/samefile/internal/reflink"
	"github.com/ivoronin/samefile/internal/report"
	"github.com/ivoronin/samefile/internal/scanner"
	"github.com/ivoronin/samefile/internal/screener"
	"github.com/ivoronin/samefile/internal/verifier"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var log = logger.GetLogger("main")

// options holds CLI flags for the root command.
type options struct {
	checksum             string
	minSizeStr           string
	maxSizeStr           string
	ignoreEmpty          bool
	followSymlinks       bool
	excludes             []string
	workers              int
	removeIdenticalInode bool
	exact                bool
	sleep                time.Duration
	makeResultsFile      bool
	outputName           string

	deleteDuplicates bool
	makeSymlinks     bool
	makeHardlinks    bool
	makeClones       bool

	dryRun     bool
	verbose    bool
	noProgress bool
	logLevel   string
	logFile    string
	configPath string
}

func defaultOptions() *options {
	return &options{
		checksum:             "sha1",
		ignoreEmpty:          true,
		workers:              runtime.NumCPU(),
		removeIdenticalInode: true,
		makeResultsFile:      true,
		outputName:           "results.txt",
	}
}

// newRootCmd creates the samefile command.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := defaultOptions()

	cmd := &cobra.Command{
		Use:   "samefile [flags] paths...",
		Short: "Find duplicate files and optionally replace them",
		Long: `Finds files with identical content and reports them, or replaces every
duplicate with a symlink, hardlink or copy-on-write clone of its original.

Argument order decides which copy is kept: a file found under an earlier
argument is the original, then the one closer to its argument's root. For
example:
  samefile --make-hardlinks /primary /backup
keeps the data in /primary and turns matching files in /backup into hardlinks.

Use --dry-run to preview without making changes.`,
		Version:       version + " (" + commit + ")",
		Args:          cobra.MinimumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := applyConfig(cmd.Flags(), opts, cfg.Defaults); err != nil {
				return err
			}
			return runSamefile(args, opts, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	f := cmd.Flags()
	f.StringVar(&opts.checksum, "checksum", opts.checksum, fmt.Sprintf("Digest for the checksum pass (%v)", checksum.Names()))
	f.StringVarP(&opts.minSizeStr, "min-size", "m", "", "Skip files smaller than this (e.g., 100, 1K, 10M, 1G)")
	f.StringVar(&opts.maxSizeStr, "max-size", "", "Skip files of this size or larger")
	f.BoolVar(&opts.ignoreEmpty, "ignore-empty", opts.ignoreEmpty, "Skip zero-byte files")
	f.BoolVar(&opts.followSymlinks, "follow-symlinks", false, "Follow symlinks to files and directories")
	f.StringSliceVarP(&opts.excludes, "exclude", "e", nil, "Glob patterns to exclude")
	f.IntVarP(&opts.workers, "workers", "w", opts.workers, "Number of parallel directory readers")
	f.BoolVar(&opts.removeIdenticalInode, "remove-identical-inode", opts.removeIdenticalInode,
		"Treat files sharing a device and inode as one candidate")
	f.BoolVar(&opts.exact, "exact", false, "Byte-compare files after the checksum pass")
	f.DurationVar(&opts.sleep, "sleep", 0, "Pause between reading files (e.g., 10ms)")
	f.BoolVar(&opts.makeResultsFile, "make-results-file", opts.makeResultsFile, "Write the results file")
	f.StringVar(&opts.outputName, "output-name", opts.outputName, "Results file name")

	f.BoolVar(&opts.deleteDuplicates, "delete-duplicates", false, "Delete duplicates")
	f.BoolVar(&opts.makeSymlinks, "make-symlinks", false, "Replace duplicates with symlinks to the original")
	f.BoolVar(&opts.makeHardlinks, "make-hardlinks", false, "Replace duplicates with hardlinks to the original")
	f.BoolVar(&opts.makeClones, "make-clones", false, "Replace duplicates with copy-on-write clones of the original")
	cmd.MarkFlagsMutuallyExclusive("delete-duplicates", "make-symlinks", "make-hardlinks", "make-clones")

	f.BoolVarP(&opts.dryRun, "dry-run", "n", false, "Preview changes without executing")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Show individual file operations")
	f.BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")
	f.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	f.StringVar(&opts.logFile, "log-file", "", "Also append logs to this file (rotated)")
	f.StringVar(&opts.configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/samefile/config.toml)")

	return cmd
}

// applyConfig fills options from the config file. Flags set on the command
// line win.
func applyConfig(flags *pflag.FlagSet, opts *options, d config.DefaultsConfig) error {
	unset := func(name string) bool { return !flags.Changed(name) }

	if d.Checksum != nil && unset("checksum") {
		opts.checksum = *d.Checksum
	}
	if d.MinSize != nil && unset("min-size") {
		opts.minSizeStr = *d.MinSize
	}
	if d.MaxSize != nil && unset("max-size") {
		opts.maxSizeStr = *d.MaxSize
	}
	if d.IgnoreEmpty != nil && unset("ignore-empty") {
		opts.ignoreEmpty = *d.IgnoreEmpty
	}
	if d.Sleep != nil && unset("sleep") {
		sleep, err := d.SleepDuration()
		if err != nil {
			return err
		}
		opts.sleep = sleep
	}
	if d.Exact != nil && unset("exact") {
		opts.exact = *d.Exact
	}
	if d.ResultsFile != nil && unset("make-results-file") {
		opts.makeResultsFile = *d.ResultsFile
	}
	if d.OutputName != nil && unset("output-name") {
		opts.outputName = *d.OutputName
	}
	if d.Excludes != nil && unset("exclude") {
		opts.excludes = d.Excludes
	}
	if d.LogLevel != nil && unset("log-level") {
		opts.logLevel = *d.LogLevel
	}
	if d.LogFile != nil && unset("log-file") {
		opts.logFile = *d.LogFile
	}
	return nil
}

// action returns the selected action kind.
func (o *options) action() deduper.ActionKind {
	switch {
	case o.deleteDuplicates:
		return deduper.ActionDelete
	case o.makeSymlinks:
		return deduper.ActionSymlink
	case o.makeHardlinks:
		return deduper.ActionHardlink
	case o.makeClones:
		return deduper.ActionClone
	default:
		return deduper.ActionNone
	}
}

// runSamefile executes the pipeline: scan → screen → verify → report → dedupe.
func runSamefile(paths []string, opts *options, stdout, stderr io.Writer) error {
	if err := logger.Init(opts.logLevel, opts.logFile); err != nil {
		return err
	}

	minSize, err := parseSizeFlag(opts.minSizeStr)
	if err != nil {
		return fmt.Errorf("invalid --min-size: %w", err)
	}
	maxSize, err := parseSizeFlag(opts.maxSizeStr)
	if err != nil {
		return fmt.Errorf("invalid --max-size: %w", err)
	}
	if maxSize > 0 && maxSize <= minSize {
		return errors.New("--max-size must be larger than --min-size")
	}
	if opts.sleep < 0 {
		return errors.New("--sleep must not be negative")
	}
	if err := validateGlobPatterns(opts.excludes); err != nil {
		return fmt.Errorf("invalid --exclude: %w", err)
	}

	// Fail on a bad checksum or action before touching the filesystem.
	v, err := verifier.New(verifier.Options{
		Algorithm:    opts.checksum,
		Sleep:        opts.sleep,
		Exact:        opts.exact,
		ShowProgress: !opts.noProgress,
	})
	if err != nil {
		return fmt.Errorf("invalid --checksum: %w", err)
	}
	kind := opts.action()
	var action deduper.Action
	if kind != deduper.ActionNone {
		if action, err = deduper.NewAction(kind, nil, nil); err != nil {
			return err
		}
	}

	showProgress := !opts.noProgress
	progress.SetOutput(stderr)

	// Phase 1: Scan filesystem
	files, err := scanner.New(paths, scanner.Options{
		MinSize:        minSize,
		MaxSize:        maxSize,
		IgnoreEmpty:    opts.ignoreEmpty,
		FollowSymlinks: opts.followSymlinks,
		Excludes:       opts.excludes,
		Workers:        opts.workers,
		ShowProgress:   showProgress,
	}).Run()
	if err != nil {
		return err
	}
	log.Debugf("%d candidates after scan", len(files))

	// Phase 2: Screen by identity and size
	screener.New(showProgress, opts.removeIdenticalInode).Run(&files)

	// Phase 3: Verify content and mark duplicates
	if err := v.Run(&files); err != nil {
		return err
	}

	// Phase 4: Report
	if opts.makeResultsFile {
		if err := report.WriteResultsFile(opts.outputName, files); err != nil {
			return err
		}
		log.Debugf("results written to %s", opts.outputName)
	}
	var offset reflink.OffsetFunc
	if kind == deduper.ActionClone {
		offset = reflink.PhysicalOffset
	}
	_, _ = fmt.Fprintln(stdout, report.Summarize(files, offset))

	if action == nil {
		return nil
	}

	// Phase 5: Apply the action (argument order defines which copy is kept)
	res, err := deduper.New(action, deduper.Options{
		DryRun:       opts.dryRun,
		Verbose:      opts.verbose,
		ShowProgress: showProgress,
		Out:          stdout,
	}).Run(files)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(stdout, formatResult(kind, res, opts.dryRun))
	return nil
}
