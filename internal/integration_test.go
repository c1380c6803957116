//go:build unix && !e2e

package internal

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/ivoronin/samefile/internal/deduper"
	"github.com/ivoronin/samefile/internal/reflink"
	"github.com/ivoronin/samefile/internal/report"
	"github.com/ivoronin/samefile/internal/scanner"
	"github.com/ivoronin/samefile/internal/screener"
	"github.com/ivoronin/samefile/internal/testfs"
	"github.com/ivoronin/samefile/internal/types"
	"github.com/ivoronin/samefile/internal/verifier"
)

// =============================================================================
// Section 8.1: Full Pipeline Integration Tests
// =============================================================================

// TestFullPipelineBasicDuplicates tests basic duplicate detection and hardlinking.
func TestFullPipelineBasicDuplicates(t *testing.T) {
	h := testfs.New(t, testfs.FileTree{Volumes: []testfs.Volume{{
		MountPoint: "/data",
		Files: []testfs.File{
			{Path: []string{"a.txt"}, Chunks: chunk('D', "1KiB")},
			{Path: []string{"b.txt"}, Chunks: chunk('D', "1KiB")},
		},
	}}})

	_, res := runPipeline(t, h.Paths("/data"), pipelineOpts{action: deduper.ActionHardlink})

	if res.Applied != 1 || res.SavedBytes != 1024 {
		t.Errorf("result = %+v, want 1 applied, 1024 bytes", res)
	}
	h.Assert(testfs.FileTree{Volumes: []testfs.Volume{{
		MountPoint: "/data",
		Files:      []testfs.File{{Path: []string{"a.txt", "b.txt"}, Chunks: chunk('D', "1KiB")}},
	}}})
}

// TestFullPipelineExistingHardlinks tests that existing hardlinks count as
// one candidate and end up sharing the duplicate's inode.
func TestFullPipelineExistingHardlinks(t *testing.T) {
	h := testfs.New(t, testfs.FileTree{Volumes: []testfs.Volume{{
		MountPoint: "/data",
		Files: []testfs.File{
			{Path: []string{"a.txt", "a_link.txt"}, Chunks: chunk('O', "1KiB")},
			{Path: []string{"b.txt"}, Chunks: chunk('O', "1KiB")},
		},
	}}})

	_, res := runPipeline(t, h.Paths("/data"), pipelineOpts{action: deduper.ActionHardlink})

	if res.Applied != 1 {
		t.Errorf("applied = %d, want 1", res.Applied)
	}
	h.Assert(testfs.FileTree{Volumes: []testfs.Volume{{
		MountPoint: "/data",
		Files:      []testfs.File{{Path: []string{"a.txt", "a_link.txt", "b.txt"}}},
	}}})
}

// TestFullPipelineMixedDuplicatesAndUnique tests mixed duplicates and unique files.
func TestFullPipelineMixedDuplicatesAndUnique(t *testing.T) {
	h := testfs.New(t, testfs.FileTree{Volumes: []testfs.Volume{{
		MountPoint: "/data",
		Files: []testfs.File{
			{Path: []string{"dup1_a.txt"}, Chunks: chunk('1', "1KiB")},
			{Path: []string{"dup1_b.txt"}, Chunks: chunk('1', "1KiB")},
			{Path: []string{"dup2_a.txt"}, Chunks: chunk('2', "2KiB")},
			{Path: []string{"dup2_b.txt"}, Chunks: chunk('2', "2KiB")},
			{Path: []string{"unique.txt"}, Chunks: chunk('U', "3KiB")},
		},
	}}})

	runPipeline(t, h.Paths("/data"), pipelineOpts{action: deduper.ActionHardlink})

	h.Assert(testfs.FileTree{Volumes: []testfs.Volume{{
		MountPoint: "/data",
		Files: []testfs.File{
			{Path: []string{"dup1_a.txt", "dup1_b.txt"}},
			{Path: []string{"dup2_a.txt", "dup2_b.txt"}},
			{Path: []string{"unique.txt"}},
		},
	}}})
}

// TestFullPipelineExcludeAndSizeFilters tests that filtered files are left alone.
func TestFullPipelineExcludeAndSizeFilters(t *testing.T) {
	h := testfs.New(t, testfs.FileTree{Volumes: []testfs.Volume{{
		MountPoint: "/data",
		Files: []testfs.File{
			{Path: []string{"small_a"}, Chunks: chunk('s', "100")},
			{Path: []string{"small_b"}, Chunks: chunk('s', "100")},
			{Path: []string{"big_a"}, Chunks: chunk('b', "2KiB")},
			{Path: []string{"big_b.tmp"}, Chunks: chunk('b', "2KiB")},
			{Path: []string{"big_c"}, Chunks: chunk('b', "2KiB")},
		},
	}}})

	runPipeline(t, h.Paths("/data"), pipelineOpts{
		action: deduper.ActionHardlink,
		scan:   scanner.Options{MinSize: 1024, Excludes: []string{"*.tmp"}},
	})

	h.Assert(testfs.FileTree{Volumes: []testfs.Volume{{
		MountPoint: "/data",
		Files: []testfs.File{
			{Path: []string{"small_a"}},
			{Path: []string{"small_b"}},
			{Path: []string{"big_a", "big_c"}},
			{Path: []string{"big_b.tmp"}},
		},
	}}})
}

// =============================================================================
// Section 8.2: Ranking
// =============================================================================

// TestPathPriorityFirstArgumentWins tests that the earlier argument keeps the
// data and the later one gets absolute symlinks.
func TestPathPriorityFirstArgumentWins(t *testing.T) {
	h := testfs.New(t, testfs.FileTree{Volumes: []testfs.Volume{
		{MountPoint: "/primary", Files: []testfs.File{{Path: []string{"z.bin"}, Chunks: chunk('P', "4KiB")}}},
		{MountPoint: "/backup", Files: []testfs.File{{Path: []string{"a.bin"}, Chunks: chunk('P', "4KiB")}}},
	}})

	c, _ := runPipeline(t, h.Paths("/primary", "/backup"), pipelineOpts{action: deduper.ActionSymlink})

	if dup := byPath(c, h.Path("/backup/a.bin")); dup == nil || dup.Kind != types.KindCrossTree {
		t.Errorf("backup copy should be a cross-tree duplicate, got %+v", dup)
	}
	h.Assert(testfs.FileTree{Volumes: []testfs.Volume{
		{MountPoint: "/primary", Files: []testfs.File{{Path: []string{"z.bin"}, Chunks: chunk('P', "4KiB")}}},
		{MountPoint: "/backup", Symlinks: []testfs.Symlink{{Path: "a.bin", Target: h.Path("/primary/z.bin")}}},
	}})
}

// TestPathPriorityShallowestWins tests that within one argument the file
// closest to the root is the original, regardless of name.
func TestPathPriorityShallowestWins(t *testing.T) {
	h := testfs.New(t, testfs.FileTree{Volumes: []testfs.Volume{{
		MountPoint: "/data",
		Files: []testfs.File{
			{Path: []string{"a/b/aaa.txt"}, Chunks: chunk('S', "1KiB")},
			{Path: []string{"zzz.txt"}, Chunks: chunk('S', "1KiB")},
		},
	}}})

	c, _ := runPipeline(t, h.Paths("/data"), pipelineOpts{action: deduper.ActionDelete})

	if dup := byPath(c, h.Path("/data/a/b/aaa.txt")); dup == nil || dup.Kind != types.KindSameTree {
		t.Errorf("deep copy should be a same-tree duplicate, got %+v", dup)
	}
	h.Assert(testfs.FileTree{Volumes: []testfs.Volume{{
		MountPoint: "/data",
		Files:      []testfs.File{{Path: []string{"zzz.txt"}, Chunks: chunk('S', "1KiB")}},
		Absent:     []string{"a/b/aaa.txt"},
	}}})
}

// =============================================================================
// Section 8.3: Empty/No-Results Scenarios (table-driven)
// =============================================================================

func TestFullPipelineEmptyScenarios(t *testing.T) {
	tests := []struct {
		name  string
		files []testfs.File
		scan  scanner.Options
		want  int // duplicates marked
	}{
		{"no files", nil, scanner.Options{}, 0},
		{"single file", []testfs.File{{Path: []string{"only"}, Chunks: chunk('x', "10")}}, scanner.Options{}, 0},
		{"unique sizes", []testfs.File{
			{Path: []string{"a"}, Chunks: chunk('x', "10")},
			{Path: []string{"b"}, Chunks: chunk('x', "20")},
		}, scanner.Options{}, 0},
		{"same size different content", []testfs.File{
			{Path: []string{"a"}, Chunks: chunk('x', "10")},
			{Path: []string{"b"}, Chunks: chunk('y', "10")},
		}, scanner.Options{}, 0},
		{"empty files ignored", []testfs.File{{Path: []string{"a"}}, {Path: []string{"b"}}},
			scanner.Options{IgnoreEmpty: true}, 0},
		{"empty files kept", []testfs.File{{Path: []string{"a"}}, {Path: []string{"b"}}},
			scanner.Options{}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testfs.New(t, testfs.FileTree{Volumes: []testfs.Volume{{MountPoint: "/data", Files: tt.files}}})
			c, _ := runPipeline(t, h.Paths("/data"), pipelineOpts{scan: tt.scan})
			if got := report.Summarize(c, nil).Duplicates; got != tt.want {
				t.Errorf("duplicates = %d, want %d", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Section 8.4: Data Integrity Tests
// =============================================================================

// TestDryRunChangesNothing tests that a dry run reports the same counts as a
// real run without touching the tree.
func TestDryRunChangesNothing(t *testing.T) {
	given := testfs.FileTree{Volumes: []testfs.Volume{{
		MountPoint: "/data",
		Files: []testfs.File{
			{Path: []string{"a"}, Chunks: chunk('R', "1KiB")},
			{Path: []string{"b"}, Chunks: chunk('R', "1KiB")},
			{Path: []string{"c"}, Chunks: chunk('R', "1KiB")},
		},
	}}}
	h := testfs.New(t, given)

	_, res := runPipeline(t, h.Paths("/data"), pipelineOpts{action: deduper.ActionDelete, dryRun: true})

	if res.Applied != 2 || res.SavedBytes != 2048 {
		t.Errorf("result = %+v, want 2 applied, 2048 bytes", res)
	}
	h.Assert(given)
}

// TestCloneUnsupportedLeavesFiles tests that duplicates stay in place, with
// their content, when the filesystem cannot clone.
func TestCloneUnsupportedLeavesFiles(t *testing.T) {
	given := testfs.FileTree{Volumes: []testfs.Volume{{
		MountPoint: "/data",
		Files: []testfs.File{
			{Path: []string{"a"}, Chunks: chunk('C', "8KiB"), Mode: 0o640},
			{Path: []string{"b"}, Chunks: chunk('C', "8KiB"), Mode: 0o600},
		},
	}}}
	h := testfs.New(t, given)

	_, res := runPipeline(t, h.Paths("/data"), pipelineOpts{
		action: deduper.ActionClone,
		probe:  func(_, _ string) reflink.Capability { return reflink.Unsupported("test filesystem") },
	})

	if res.Skipped != 1 || res.Applied != 0 || res.Failed != 0 {
		t.Errorf("result = %+v, want 1 skipped", res)
	}
	h.Assert(given)
}

// =============================================================================
// Section 8.5: Progressive Checksum Tests
// =============================================================================

// TestProgressiveChecksumNearMisses tests files that agree on every cheap
// sample but differ somewhere else are never linked.
func TestProgressiveChecksumNearMisses(t *testing.T) {
	h := testfs.New(t, testfs.FileTree{Volumes: []testfs.Volume{{
		MountPoint: "/data",
		Files: []testfs.File{
			// same head, different tail
			{Path: []string{"tail_a"}, Chunks: []testfs.Chunk{{Pattern: 'H', Size: "4KiB"}, {Pattern: 'A', Size: "1KiB"}}},
			{Path: []string{"tail_b"}, Chunks: []testfs.Chunk{{Pattern: 'H', Size: "4KiB"}, {Pattern: 'B', Size: "1KiB"}}},
			// same head and tail, different middle
			{Path: []string{"mid_a"}, Chunks: []testfs.Chunk{
				{Pattern: 'H', Size: "2KiB"}, {Pattern: 'X', Size: "2KiB"}, {Pattern: 'T', Size: "2KiB"},
			}},
			{Path: []string{"mid_b"}, Chunks: []testfs.Chunk{
				{Pattern: 'H', Size: "2KiB"}, {Pattern: 'Y', Size: "2KiB"}, {Pattern: 'T', Size: "2KiB"},
			}},
		},
	}}})

	c, _ := runPipeline(t, h.Paths("/data"), pipelineOpts{action: deduper.ActionHardlink})

	if len(c) != 0 {
		t.Errorf("expected no duplicate groups, got %d records", len(c))
	}
	h.Assert(testfs.FileTree{Volumes: []testfs.Volume{{
		MountPoint: "/data",
		Files: []testfs.File{
			{Path: []string{"tail_a"}}, {Path: []string{"tail_b"}},
			{Path: []string{"mid_a"}}, {Path: []string{"mid_b"}},
		},
	}}})
}

// TestProgressiveChecksumExactPass tests the byte-compare pass agrees with
// the digest on real duplicates.
func TestProgressiveChecksumExactPass(t *testing.T) {
	h := testfs.New(t, testfs.FileTree{Volumes: []testfs.Volume{{
		MountPoint: "/data",
		Files: []testfs.File{
			{Path: []string{"a"}, Chunks: []testfs.Chunk{{Pattern: 'E', Size: "300KiB"}, {Pattern: 'F', Size: "1"}}},
			{Path: []string{"b"}, Chunks: []testfs.Chunk{{Pattern: 'E', Size: "300KiB"}, {Pattern: 'F', Size: "1"}}},
		},
	}}})

	runPipeline(t, h.Paths("/data"), pipelineOpts{action: deduper.ActionHardlink, exact: true})

	h.Assert(testfs.FileTree{Volumes: []testfs.Volume{{
		MountPoint: "/data",
		Files:      []testfs.File{{Path: []string{"a", "b"}}},
	}}})
}

// =============================================================================
// Section 8.6: Results File
// =============================================================================

// TestResultsFileKinds tests that the results file distinguishes same-tree
// and cross-tree duplicates.
func TestResultsFileKinds(t *testing.T) {
	h := testfs.New(t, testfs.FileTree{Volumes: []testfs.Volume{
		{MountPoint: "/one", Files: []testfs.File{
			{Path: []string{"a"}, Chunks: chunk('K', "1KiB")},
			{Path: []string{"sub/a"}, Chunks: chunk('K', "1KiB")},
		}},
		{MountPoint: "/two", Files: []testfs.File{{Path: []string{"a"}, Chunks: chunk('K', "1KiB")}}},
	}})

	c, _ := runPipeline(t, h.Paths("/one", "/two"), pipelineOpts{})

	var buf bytes.Buffer
	if err := report.WriteResults(&buf, c); err != nil {
		t.Fatalf("WriteResults: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		types.TokenFirstOccurrence + " ",
		types.TokenSameTree + " ",
		types.TokenCrossTree + " ",
		h.Path("/two/a") + "\n",
		"# end of file\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("results file missing %q:\n%s", want, out)
		}
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

type pipelineOpts struct {
	action deduper.ActionKind
	dryRun bool
	exact  bool
	scan   scanner.Options
	probe  reflink.ProbeFunc
}

// runPipeline runs scan, screen, verify and, when an action is set, dedupe.
func runPipeline(t *testing.T, paths []string, o pipelineOpts) (types.Collection, deduper.Result) {
	t.Helper()

	files, err := scanner.New(paths, o.scan).Run()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	screener.New(false, true).Run(&files)

	v, err := verifier.New(verifier.Options{Algorithm: "sha1", Exact: o.exact})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	if err := v.Run(&files); err != nil {
		t.Fatalf("verify: %v", err)
	}

	if o.action == deduper.ActionNone {
		return files, deduper.Result{}
	}
	action, err := deduper.NewAction(o.action, o.probe, nil)
	if err != nil {
		t.Fatalf("action: %v", err)
	}
	res, err := deduper.New(action, deduper.Options{DryRun: o.dryRun, Out: io.Discard}).Run(files)
	if err != nil {
		t.Fatalf("dedupe: %v", err)
	}
	return files, res
}

func byPath(c types.Collection, path string) *types.FileRecord {
	for i := range c {
		if c[i].Path == path {
			return &c[i]
		}
	}
	return nil
}
