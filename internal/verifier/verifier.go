// Package verifier confirms duplicates by escalating content comparisons and
// marks the survivors.
//
// # Processing Pipeline
//
//	Input: *types.Collection (screened: every size occurs twice or more)
//	    │
//	    ├──► for mode in FIRST BYTES → LAST BYTES → CHECKSUM:
//	    │        ├──► sort by (dev, ino)          read in disk order
//	    │        ├──► fill every sample           throttled, failures dropped
//	    │        └──► partition by (size, sample) drop singleton runs
//	    │
//	    ├──► optional EXACT pass: byte-compare inside each (size, sample) run
//	    │
//	    └──► MarkDuplicates: one FirstOccurrence per group, rest point at it
//
// Files no larger than a sample are fully captured by the first fill, so the
// later modes skip I/O for them.
//
// Each mode only compares samples produced by that same mode. A digest
// collision between different contents is reported as a duplicate unless the
// exact pass is enabled.
package verifier

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ivoronin/samefile/internal/logger"
	"github.com/ivoronin/samefile/internal/progress"
	"github.com/ivoronin/samefile/internal/sampler"
	"github.com/ivoronin/samefile/internal/types"
	"go.uber.org/ratelimit"
)

// compareChunk is the read size of the exact pass (256KB).
const compareChunk = 256 * 1024

var log = logger.GetLogger("verifier")

// escalation is the order in which sample modes are tried.
var escalation = []sampler.Mode{sampler.ModeFirstBytes, sampler.ModeLastBytes, sampler.ModeDigest}

// Options configures a Verifier.
type Options struct {
	Algorithm    string        // Digest algorithm for the checksum pass
	Sleep        time.Duration // Delay between sample fills (0 = none)
	Exact        bool          // Byte-compare members after the checksum pass
	ShowProgress bool
}

// step records what one pass eliminated.
type step struct {
	name       string
	eliminated int
}

// stats tracks verification progress.
type stats struct {
	filled     int
	readErrors int
	steps      []step
	duplicates int
	dupBytes   int64
	sets       int
	startTime  time.Time
}

func (s *stats) String() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Sampled %d files", s.filled)
	for _, st := range s.steps {
		fmt.Fprintf(&b, ", %s -%d", st.name, st.eliminated)
	}
	if s.readErrors > 0 {
		fmt.Fprintf(&b, ", %d unreadable", s.readErrors)
	}
	fmt.Fprintf(&b, ", confirmed %d duplicates (%s) in %d sets in %.1fs",
		s.duplicates, humanize.IBytes(uint64(s.dupBytes)), s.sets, time.Since(s.startTime).Seconds())
	return b.String()
}

// Verifier runs the content passes over a screened collection.
//
// The verifier is designed for single-use: create with New(), call Run() once.
type Verifier struct {
	opts    Options
	sampler *sampler.Sampler
	limiter ratelimit.Limiter

	bar   *progress.Bar
	stats *stats
}

// New creates a Verifier. It fails if the digest algorithm is unknown.
func New(opts Options) (*Verifier, error) {
	s, err := sampler.New(opts.Algorithm)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.NewUnlimited()
	if opts.Sleep > 0 {
		limiter = ratelimit.New(1, ratelimit.Per(opts.Sleep), ratelimit.WithoutSlack)
	}

	return &Verifier{opts: opts, sampler: s, limiter: limiter}, nil
}

// Run narrows c down to confirmed duplicates and marks them. Only an
// invariant violation is returned as an error; unreadable files are logged
// and dropped.
func (v *Verifier) Run(c *types.Collection) error {
	v.bar = progress.New(v.opts.ShowProgress, -1)
	v.stats = &stats{startTime: time.Now()}
	v.bar.Describe(v.stats)

	previous := sampler.ModeUndefined
	for _, mode := range escalation {
		if len(*c) == 0 {
			break
		}
		if err := v.fill(c, mode, previous); err != nil {
			return err
		}
		removed := c.Cleanup()
		removed += removeUniqueSamples(c)
		v.stats.steps = append(v.stats.steps, step{mode.String(), removed})
		log.Debugf("%s pass removed %d, %d remain", mode, removed, len(*c))
		previous = mode
	}

	if v.opts.Exact && len(*c) > 0 {
		removed := v.classify(c)
		v.stats.steps = append(v.stats.steps, step{"exact", removed})
		log.Debugf("exact pass removed %d, %d remain", removed, len(*c))
	}

	if err := MarkDuplicates(*c); err != nil {
		return err
	}

	for i := range *c {
		if (*c)[i].Kind.IsDuplicate() {
			v.stats.duplicates++
			v.stats.dupBytes += (*c)[i].Size
		} else {
			v.stats.sets++
		}
	}
	v.bar.Finish(v.stats)
	return nil
}

// fill samples every record in disk order and flags the unreadable ones.
func (v *Verifier) fill(c *types.Collection, mode, previous sampler.Mode) error {
	c.SortFunc(types.CmpDevIno)
	for i := range *c {
		rec := &(*c)[i]
		v.limiter.Take()
		err := v.sampler.Fill(rec, mode, previous)
		switch {
		case errors.Is(err, types.ErrInvariant):
			return err
		case err != nil:
			log.Warnf("%s: %v", rec.Path, err)
			v.stats.readErrors++
		}
		rec.Delete = !rec.SampleValid
		v.stats.filled++
		v.bar.Describe(v.stats)
	}
	return nil
}

// removeUniqueSamples sorts by size, then sorts each size run by sample and
// drops records whose (size, sample) no other record shares.
func removeUniqueSamples(c *types.Collection) int {
	c.SortFunc(types.CmpSize)
	types.ApplyOnRange(*c, types.CmpSize, func(sized []types.FileRecord) {
		types.Collection(sized).SortFunc(types.CmpSample)
		types.ApplyOnRange(sized, types.CmpSample, func(group []types.FileRecord) {
			types.SetDelete(group, len(group) == 1)
		})
	})
	return c.Cleanup()
}

// classify assigns content classes by byte comparison within each
// (size, sample) run and drops singleton classes. Returns the number of
// records removed.
func (v *Verifier) classify(c *types.Collection) int {
	next := 0
	c.SortFunc(types.CmpSizeThenSample)
	types.ApplyOnRange(*c, types.CmpSizeThenSample, func(group []types.FileRecord) {
		var reps []*types.FileRecord
	members:
		for i := range group {
			rec := &group[i]
			for j := 0; j < len(reps); {
				rep := reps[j]
				v.limiter.Take()
				same, err := filesEqual(rep.Path, rec.Path)
				var side *sideError
				switch {
				case errors.As(err, &side) && side.path == rep.Path:
					// Members already in rep's class were byte-equal to it
					// and keep that class; rec is retried against the rest.
					log.Warnf("compare %s with %s: %v", rec.Path, rep.Path, err)
					v.stats.readErrors++
					rep.Delete = true
					reps = slices.Delete(reps, j, j+1)
					continue
				case err != nil:
					log.Warnf("compare %s with %s: %v", rec.Path, rep.Path, err)
					v.stats.readErrors++
					rec.Delete = true
					continue members
				case same:
					rec.ContentClass = rep.ContentClass
					continue members
				}
				j++
			}
			next++
			rec.ContentClass = next
			reps = append(reps, rec)
		}
	})
	removed := c.Cleanup()

	c.SortFunc(types.CmpSizeThenSample)
	types.ApplyOnRange(*c, types.CmpSizeThenSample, func(group []types.FileRecord) {
		types.SetDelete(group, len(group) == 1)
	})
	return removed + c.Cleanup()
}

// MarkDuplicates groups c by (size, sample, content class) and marks each
// group: the rank-minimal member is moved to the front as FirstOccurrence,
// every other member references it. A group of one is an invariant
// violation, since earlier passes drop singletons.
func MarkDuplicates(c types.Collection) error {
	var err error
	c.SortFunc(types.CmpSizeThenSample)
	types.ApplyOnRange(c, types.CmpSizeThenSample, func(group []types.FileRecord) {
		if len(group) < 2 {
			if err == nil {
				err = types.Invariantf("%s is alone in its duplicate group", group[0].Path)
			}
			return
		}

		best := types.MinRank(group)
		group[0], group[best] = group[best], group[0]

		orig := &group[0]
		orig.Kind = types.KindFirstOccurrence
		orig.OriginalID = orig.ID

		for i := 1; i < len(group); i++ {
			dup := &group[i]
			dup.OriginalID = orig.ID
			if dup.InputIndex == orig.InputIndex {
				dup.Kind = types.KindSameTree
			} else {
				dup.Kind = types.KindCrossTree
			}
		}
	})
	return err
}

// sideError records which file of a comparison failed.
type sideError struct {
	path string
	err  error
}

func (e *sideError) Error() string { return e.path + ": " + e.err.Error() }

func (e *sideError) Unwrap() error { return e.err }

// filesEqual compares two files byte by byte. Errors are *sideError.
func filesEqual(pathA, pathB string) (bool, error) {
	fa, err := os.Open(pathA)
	if err != nil {
		return false, &sideError{pathA, err}
	}
	defer func() { _ = fa.Close() }()

	fb, err := os.Open(pathB)
	if err != nil {
		return false, &sideError{pathB, err}
	}
	defer func() { _ = fb.Close() }()

	bufA := make([]byte, compareChunk)
	bufB := make([]byte, compareChunk)
	for {
		nA, errA := io.ReadFull(fa, bufA)
		nB, errB := io.ReadFull(fb, bufB)
		if nA != nB || !bytes.Equal(bufA[:nA], bufB[:nB]) {
			return false, nil
		}

		eofA, eofB := isEOF(errA), isEOF(errB)
		switch {
		case eofA && eofB:
			return true, nil
		case eofA != eofB:
			return false, nil
		case errA != nil:
			return false, &sideError{pathA, errA}
		case errB != nil:
			return false, &sideError{pathB, errB}
		}
	}
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
