// Package deduper applies the chosen action to every marked duplicate.
//
// # Overview
//
// The deduper is the final stage of the pipeline. It walks a marked
// collection in group order, so each group's FirstOccurrence is seen before
// its duplicates, and hands every duplicate with its original to an Action.
//
// # Processing Pipeline
//
//	Input: types.Collection (marked, originals first in each group)
//	    │
//	    ├──► FirstOccurrence: becomes the current original
//	    │
//	    └──► duplicate:
//	             ├──► check it references the current original  (abort if not)
//	             ├──► same inode as the original: skip
//	             ├──► dry-run: Action.Check, print "(DRYRUN MODE) <description>"
//	             ├──► lock and check unchanged since scan
//	             └──► Action.Apply ──► applied | skipped | failed
//
// # Safety Mechanisms
//
//   - Symlink, hardlink and clone run through txn, so a failure restores the
//     duplicate
//   - Duplicates modified or locked by another process are not touched
//   - A duplicate that is the original itself (same path or inode) is skipped
//   - A duplicate that does not reference the current original is a
//     pipeline defect and aborts the run
//
// A failed duplicate is logged and counted; the batch continues.
package deduper

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ivoronin/samefile/internal/logger"
	"github.com/ivoronin/samefile/internal/progress"
	"github.com/ivoronin/samefile/internal/txn"
	"github.com/ivoronin/samefile/internal/types"
)

// DryRunPrefix starts every dry-run line.
const DryRunPrefix = "(DRYRUN MODE) "

var log = logger.GetLogger("deduper")

// Options configures a Deduper.
type Options struct {
	DryRun       bool      // Describe actions without touching files
	Verbose      bool      // Print each applied action
	ShowProgress bool      // Whether to display progress bar
	Out          io.Writer // Destination for dry-run and verbose lines (default stdout)
}

// Deduper applies an action to each duplicate in a marked collection.
//
// The deduper is designed for single-use: create with New(), call Run() once.
type Deduper struct {
	action Action
	opts   Options
}

// New creates a Deduper.
func New(action Action, opts Options) *Deduper {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &Deduper{action: action, opts: opts}
}

// stats tracks deduplication progress.
type stats struct {
	verb      string
	total     int
	result    Result
	startTime time.Time
}

func (s *stats) String() string {
	r := &s.result
	done := r.Applied + r.Skipped + r.AlreadyCloned + r.Failed
	pct := 0.0
	if s.total > 0 {
		pct = float64(done) / float64(s.total) * 100
	}
	msg := fmt.Sprintf("Applied %s to %d/%d duplicates (%.0f%%), saved %s",
		s.verb, r.Applied, s.total, pct, humanize.IBytes(uint64(r.SavedBytes)))
	if r.AlreadyCloned > 0 {
		msg += fmt.Sprintf(", %d already cloned", r.AlreadyCloned)
	}
	if r.Skipped > 0 {
		msg += fmt.Sprintf(", %d skipped", r.Skipped)
	}
	if r.Failed > 0 {
		msg += fmt.Sprintf(", %d failed", r.Failed)
	}
	return msg + fmt.Sprintf(" in %.1fs", time.Since(s.startTime).Seconds())
}

// Run applies the action to every duplicate in c. It returns an error only
// for an invariant violation; per-file failures are counted in Result.
func (d *Deduper) Run(c types.Collection) (Result, error) {
	st := &stats{verb: d.action.Kind().String(), startTime: time.Now()}
	for i := range c {
		if c[i].Kind.IsDuplicate() {
			st.total++
		}
	}
	total := int64(-1)
	if st.total > 0 {
		total = int64(st.total)
	}
	bar := progress.New(d.opts.ShowProgress, total)
	bar.Describe(st)

	var orig *types.FileRecord
	for i := range c {
		rec := &c[i]
		switch {
		case rec.Kind == types.KindFirstOccurrence:
			orig = rec
			continue
		case !rec.Kind.IsDuplicate():
			return st.result, types.Invariantf("%s has kind %v after marking", rec.Path, rec.Kind)
		case orig == nil || rec.OriginalID != orig.ID:
			return st.result, types.Invariantf("%s references original %d, current original is %v",
				rec.Path, rec.OriginalID, currentID(orig))
		}

		d.apply(rec, orig, &st.result)
		bar.Describe(st)
		bar.Add(1)
	}

	bar.Finish(st)
	return st.result, nil
}

// apply handles one duplicate and records the outcome.
func (d *Deduper) apply(dup, orig *types.FileRecord, r *Result) {
	var err error
	switch {
	case sameStorage(dup, orig):
		err = fmt.Errorf("same file as %s: %w", orig.Path, ErrSkipped)
	case d.opts.DryRun:
		if err = d.action.Check(dup, orig); err == nil {
			_, _ = fmt.Fprintln(d.opts.Out, DryRunPrefix+d.action.Describe(dup, orig))
		}
	default:
		if err = d.applyLocked(dup, orig); err == nil && d.opts.Verbose {
			_, _ = fmt.Fprintln(d.opts.Out, d.action.Describe(dup, orig))
		}
	}

	switch {
	case err == nil:
		r.Applied++
		r.SavedBytes += dup.Size
	case errors.Is(err, ErrAlreadyCloned):
		r.AlreadyCloned++
		log.Debugf("%s: %v", dup.Path, err)
	case errors.Is(err, ErrSkipped):
		r.Skipped++
		log.Debugf("%s: %v", dup.Path, err)
	case errors.Is(err, txn.ErrRollbackFailed):
		r.Failed++
		log.Errorf("%s: %v", dup.Path, err)
	default:
		r.Failed++
		log.Warnf("%s: %v", dup.Path, err)
	}
}

// sameStorage reports whether dup and orig reach the same inode, which
// happens when the identity pass is off and a file is scanned twice.
// Acting on such a pair would destroy the only copy.
func sameStorage(dup, orig *types.FileRecord) bool {
	if dup.Path == orig.Path {
		return true
	}
	return dup.Ino != 0 && dup.Dev == orig.Dev && dup.Ino == orig.Ino
}

// applyLocked holds an exclusive advisory lock on the duplicate while
// checking it is unchanged since scan and applying the action.
func (d *Deduper) applyLocked(dup, orig *types.FileRecord) error {
	f, err := os.Open(dup.Path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	// Skip files in use rather than wait for them.
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		return errors.New("file in use (locked by another process)")
	}

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if changed := changedSinceScan(dup, info); changed != "" {
		return fmt.Errorf("%s changed since scan", changed)
	}

	return d.action.Apply(dup, orig)
}

// changedSinceScan names the first attribute of info that differs from rec,
// or returns "".
func changedSinceScan(rec *types.FileRecord, info os.FileInfo) string {
	if info.Size() != rec.Size {
		return "size"
	}
	if !info.ModTime().Equal(rec.ModTime) {
		return "mtime"
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		if uint64(st.Dev) != rec.Dev || st.Ino != rec.Ino { //nolint:unconvert // platform-dependent type
			return "inode"
		}
	}
	return ""
}

func currentID(orig *types.FileRecord) any {
	if orig == nil {
		return "none"
	}
	return orig.ID
}
