// Package screener drops candidates that cannot have a duplicate, using
// metadata only.
//
// # Overview
//
// The screener is the first filtering stage of the duplicate detection
// pipeline. It needs no file I/O: every decision is made from the device,
// inode and size captured by the scanner.
//
// # Processing Pipeline
//
//	Input: *types.Collection (all scanned files, ids assigned)
//	    │
//	    ├──► sort by (dev, ino), keep the best-ranked path per storage object
//	    │
//	    ├──► sort by size, drop sizes that occur once
//	    │
//	    └──► Output: same collection, survivors sorted by size
//
// Both passes flag records and call Collection.Cleanup, so survivors keep
// their relative order from the preceding stable sort.
package screener

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ivoronin/samefile/internal/logger"
	"github.com/ivoronin/samefile/internal/progress"
	"github.com/ivoronin/samefile/internal/types"
)

var log = logger.GetLogger("screener")

// Screener runs the metadata passes over a collection.
//
// The screener is designed for single-use: create with New(), call Run() once.
type Screener struct {
	showProgress          bool
	removeIdenticalInodes bool
}

// New creates a Screener.
//
// When removeIdenticalInodes is false, paths sharing a storage object stay in
// the collection and are later reported as duplicates of each other.
func New(showProgress, removeIdenticalInodes bool) *Screener {
	return &Screener{
		showProgress:          showProgress,
		removeIdenticalInodes: removeIdenticalInodes,
	}
}

// stats tracks screening progress.
type stats struct {
	identicalInodes int
	uniqueSizes     int
	candidateFiles  int
	candidateBytes  int64
	startTime       time.Time
}

func (s *stats) String() string {
	return fmt.Sprintf("Selected %d candidates (%s) in %.1fs, dropped %d hardlinks and %d unique sizes",
		s.candidateFiles, humanize.IBytes(uint64(s.candidateBytes)),
		time.Since(s.startTime).Seconds(), s.identicalInodes, s.uniqueSizes)
}

// Run applies the identity pass (when enabled) and then the size pass.
func (s *Screener) Run(c *types.Collection) {
	bar := progress.New(s.showProgress, -1)
	st := &stats{startTime: time.Now()}

	if s.removeIdenticalInodes {
		st.identicalInodes = RemoveIdenticalInodes(c)
		bar.Describe(st)
	}
	st.uniqueSizes = RemoveUniqueSizes(c)

	st.candidateFiles = len(*c)
	st.candidateBytes = c.TotalBytes()

	log.Debugf("identity pass removed %d, size pass removed %d, %d remain",
		st.identicalInodes, st.uniqueSizes, st.candidateFiles)
	bar.Finish(st)
}

// RemoveIdenticalInodes keeps one record per (dev, ino): the rank-minimal
// one. Returns the number of records removed.
func RemoveIdenticalInodes(c *types.Collection) int {
	c.SortFunc(types.CmpDevIno)
	types.ApplyOnRange(*c, types.CmpDevIno, func(group []types.FileRecord) {
		keep := types.MinRank(group)
		for i := range group {
			group[i].Delete = i != keep
		}
	})
	return c.Cleanup()
}

// RemoveUniqueSizes removes records whose size no other record shares.
// Returns the number of records removed.
func RemoveUniqueSizes(c *types.Collection) int {
	c.SortFunc(types.CmpSize)
	types.ApplyOnRange(*c, types.CmpSize, func(group []types.FileRecord) {
		types.SetDelete(group, len(group) == 1)
	})
	return c.Cleanup()
}
