// Package scanner builds the candidate list from the command line arguments.
//
// # Overview
//
// Each argument is walked with fastwalk, which reads directories on several
// goroutines. Regular files that pass the filters become records tagged with
// the argument's position (input index) and their depth below it.
//
// # Processing Pipeline
//
//	for each argument (input index i):
//	    │
//	    ├──► regular file: one record, depth 0
//	    │
//	    └──► directory: fastwalk ──► filter ──► records (concurrent)
//	              │
//	              └──► sort by (depth, path)   walk order is not stable
//	    │
//	    └──► append in argument order, assign ids 1..N
//
// # Concurrency Model
//
// fastwalk calls the walk function from multiple goroutines. Counters are
// atomic and the per-argument result slice is guarded by a mutex; everything
// after the walk is sequential.
//
// Unreadable entries are logged and skipped; they never fail the scan.
package scanner

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/dustin/go-humanize"
	"github.com/ivoronin/samefile/internal/logger"
	"github.com/ivoronin/samefile/internal/progress"
	"github.com/ivoronin/samefile/internal/txn"
	"github.com/ivoronin/samefile/internal/types"
)

var log = logger.GetLogger("scanner")

// Options filters what the scanner collects.
type Options struct {
	MinSize        int64    // Skip files smaller than this
	MaxSize        int64    // Skip files of this size or larger (0 = unlimited)
	IgnoreEmpty    bool     // Skip zero-byte files
	FollowSymlinks bool     // Follow symlinks to files and directories
	Excludes       []string // Glob patterns matched against base names
	Workers        int      // Concurrent directory readers (0 = fastwalk default)
	ShowProgress   bool     // Whether to display progress bar
}

// Scanner collects candidate files under a list of paths.
//
// The scanner is designed for single-use: create with New(), call Run() once.
type Scanner struct {
	paths []string
	opts  Options

	bar   *progress.Bar
	stats *stats
}

// New creates a Scanner for the given paths.
func New(paths []string, opts Options) *Scanner {
	return &Scanner{paths: paths, opts: opts}
}

// stats tracks scanning progress using atomic counters for lock-free updates.
type stats struct {
	scannedFiles atomic.Int64
	matchedFiles atomic.Int64
	scannedBytes atomic.Int64
	matchedBytes atomic.Int64
	skipped      atomic.Int64 // unreadable entries
	startTime    time.Time
}

func (s *stats) String() string {
	msg := fmt.Sprintf("Scanned %d (%s), matched %d files (%s)",
		s.scannedFiles.Load(), humanize.IBytes(uint64(s.scannedBytes.Load())),
		s.matchedFiles.Load(), humanize.IBytes(uint64(s.matchedBytes.Load())))
	if n := s.skipped.Load(); n > 0 {
		msg += fmt.Sprintf(", %d unreadable", n)
	}
	return msg + fmt.Sprintf(" in %.1fs", time.Since(s.startTime).Seconds())
}

// Run walks every path and returns the candidate collection with ids
// assigned. It fails only when no argument could be read at all.
func (s *Scanner) Run() (types.Collection, error) {
	s.bar = progress.New(s.opts.ShowProgress, -1)
	s.stats = &stats{startTime: time.Now()}
	s.bar.Describe(s.stats)

	var c types.Collection
	readable := 0
	for i, root := range s.paths {
		recs, err := s.scanArg(i, root)
		if err != nil {
			log.Warnf("skipping %s: %v", root, err)
			continue
		}
		readable++
		c = append(c, recs...)
	}
	c.AssignIDs()

	s.bar.Finish(s.stats)
	if readable == 0 && len(s.paths) > 0 {
		return nil, errors.New("none of the given paths could be read")
	}
	return c, nil
}

// scanArg collects the records under one argument, sorted by (depth, path).
func (s *Scanner) scanArg(index int, root string) ([]types.FileRecord, error) {
	info, err := s.stat(root)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("not a regular file or directory (mode %v)", info.Mode())
		}
		rec, err := newRecord(root, info)
		if err != nil {
			return nil, err
		}
		rec.InputIndex = index
		if !s.keep(&rec) {
			return nil, nil
		}
		return []types.FileRecord{rec}, nil
	}

	var (
		mu   sync.Mutex
		recs []types.FileRecord
	)
	conf := fastwalk.Config{Follow: s.opts.FollowSymlinks, NumWorkers: s.opts.Workers}
	walkErr := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warnf("%s: %v", path, err)
			s.stats.skipped.Add(1)
			return nil
		}
		if path == root {
			return nil
		}
		if s.excluded(path) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rec, ok := s.entryRecord(path, d)
		if !ok {
			return nil
		}
		rec.InputIndex = index
		rec.Depth = depthBelow(root, path)
		if !s.keep(&rec) {
			return nil
		}

		mu.Lock()
		recs = append(recs, rec)
		mu.Unlock()
		s.bar.Describe(s.stats)
		return nil
	})
	if walkErr != nil {
		log.Warnf("%s: %v", root, walkErr)
	}

	slices.SortFunc(recs, func(a, b types.FileRecord) int {
		if a.Depth != b.Depth {
			return a.Depth - b.Depth
		}
		return strings.Compare(a.Path, b.Path)
	})
	return recs, nil
}

// entryRecord builds a record for a walked entry. Symlinks are resolved only
// when following them; anything that is not a regular file is skipped.
func (s *Scanner) entryRecord(path string, d fs.DirEntry) (types.FileRecord, bool) {
	typ := d.Type()
	if typ&fs.ModeSymlink != 0 && !s.opts.FollowSymlinks {
		return types.FileRecord{}, false
	}
	if typ&fs.ModeSymlink == 0 && !typ.IsRegular() {
		return types.FileRecord{}, false
	}

	info, err := s.stat(path)
	if err != nil {
		log.Warnf("%s: %v", path, err)
		s.stats.skipped.Add(1)
		return types.FileRecord{}, false
	}
	if !info.Mode().IsRegular() {
		return types.FileRecord{}, false
	}
	rec, err := newRecord(path, info)
	if err != nil {
		log.Warnf("%s: %v", path, err)
		s.stats.skipped.Add(1)
		return types.FileRecord{}, false
	}
	return rec, true
}

// stat follows symlinks only when configured to.
func (s *Scanner) stat(path string) (os.FileInfo, error) {
	if s.opts.FollowSymlinks {
		return os.Stat(path)
	}
	return os.Lstat(path)
}

// keep applies the size filters and updates counters.
func (s *Scanner) keep(rec *types.FileRecord) bool {
	s.stats.scannedFiles.Add(1)
	s.stats.scannedBytes.Add(rec.Size)

	switch {
	case rec.Size == 0 && s.opts.IgnoreEmpty:
		return false
	case rec.Size < s.opts.MinSize:
		return false
	case s.opts.MaxSize > 0 && rec.Size >= s.opts.MaxSize:
		return false
	case txn.IsBackupName(rec.Path):
		log.Warnf("%s: leftover backup from an interrupted run, not scanned", rec.Path)
		return false
	}

	s.stats.matchedFiles.Add(1)
	s.stats.matchedBytes.Add(rec.Size)
	return true
}

// excluded checks if a path matches any glob exclude pattern.
func (s *Scanner) excluded(path string) bool {
	if len(s.opts.Excludes) == 0 {
		return false
	}
	base := filepath.Base(path)
	for _, pattern := range s.opts.Excludes {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}

// depthBelow counts the path components of path below root.
func depthBelow(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}
