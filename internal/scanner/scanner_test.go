//go:build unix

package scanner

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/ivoronin/samefile/internal/types"
)

// =============================================================================
// Section 3.1: Core Scanner Tests
// =============================================================================

// TestListDirectoryBasic tests basic directory listing functionality.
func TestListDirectoryBasic(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "a.txt"), 100)
	createFile(t, filepath.Join(root, "sub", "b.txt"), 200)

	files := run(t, []string{root}, Options{})
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
	for _, f := range files {
		if f.Dev == 0 && f.Ino == 0 {
			t.Errorf("%s: device and inode not recorded", f.Path)
		}
		if f.ModTime.IsZero() {
			t.Errorf("%s: mtime not recorded", f.Path)
		}
	}
}

// TestFileArgumentDepthZero verifies a file given directly has depth 0.
func TestFileArgumentDepthZero(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "single.txt")
	createFile(t, path, 10)

	files := run(t, []string{path}, Options{})
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(files))
	}
	if files[0].Depth != 0 {
		t.Errorf("expected depth 0, got %d", files[0].Depth)
	}
	if files[0].Path != path {
		t.Errorf("expected path %s, got %s", path, files[0].Path)
	}
}

// TestDepthCountsComponentsBelowArgument verifies depth is 1 for direct
// children and grows by one per directory level.
func TestDepthCountsComponentsBelowArgument(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "top.txt"), 10)
	createFile(t, filepath.Join(root, "a", "mid.txt"), 10)
	createFile(t, filepath.Join(root, "a", "b", "deep.txt"), 10)

	files := run(t, []string{root}, Options{})
	want := map[string]int{"top.txt": 1, "mid.txt": 2, "deep.txt": 3}
	for _, f := range files {
		if d := want[filepath.Base(f.Path)]; d != f.Depth {
			t.Errorf("%s: expected depth %d, got %d", f.Path, d, f.Depth)
		}
	}
}

// TestOrderAndInputIndex verifies records follow argument order, are sorted
// by (depth, path) within an argument and carry ids 1..N.
func TestOrderAndInputIndex(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	createFile(t, filepath.Join(first, "z", "deep.txt"), 10)
	createFile(t, filepath.Join(first, "b.txt"), 10)
	createFile(t, filepath.Join(first, "a.txt"), 10)
	createFile(t, filepath.Join(second, "c.txt"), 10)

	files := run(t, []string{first, second}, Options{})
	wantNames := []string{"a.txt", "b.txt", "deep.txt", "c.txt"}
	wantIndex := []int{0, 0, 0, 1}
	if len(files) != len(wantNames) {
		t.Fatalf("expected %d files, got %d", len(wantNames), len(files))
	}
	for i, f := range files {
		if filepath.Base(f.Path) != wantNames[i] {
			t.Errorf("position %d: expected %s, got %s", i, wantNames[i], f.Path)
		}
		if f.InputIndex != wantIndex[i] {
			t.Errorf("%s: expected input index %d, got %d", f.Path, wantIndex[i], f.InputIndex)
		}
		if f.ID != int64(i+1) {
			t.Errorf("%s: expected id %d, got %d", f.Path, i+1, f.ID)
		}
	}
}

// TestDuplicatePaths verifies the same argument twice is scanned twice with
// distinct input indices. Identity screening removes the copies later.
func TestDuplicatePaths(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "file.txt"), 100)

	files := run(t, []string{root, root}, Options{})
	if len(files) != 2 {
		t.Fatalf("expected 2 records, got %d", len(files))
	}
	if files[0].InputIndex != 0 || files[1].InputIndex != 1 {
		t.Errorf("expected input indices 0 and 1, got %d and %d", files[0].InputIndex, files[1].InputIndex)
	}
	if files[0].Ino != files[1].Ino {
		t.Error("expected both records to reference the same inode")
	}
}

// =============================================================================
// Section 3.2: Filters
// =============================================================================

// TestSizeFilteringBoundaryValues verifies MinSize is inclusive and MaxSize
// exclusive.
func TestSizeFilteringBoundaryValues(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "99.bin"), 99)
	createFile(t, filepath.Join(root, "100.bin"), 100)
	createFile(t, filepath.Join(root, "199.bin"), 199)
	createFile(t, filepath.Join(root, "200.bin"), 200)

	files := run(t, []string{root}, Options{MinSize: 100, MaxSize: 200})
	got := names(files)
	if len(got) != 2 || !got["100.bin"] || !got["199.bin"] {
		t.Errorf("expected 100.bin and 199.bin, got %v", got)
	}
}

// TestIgnoreEmpty verifies zero-byte files are dropped only when asked.
func TestIgnoreEmpty(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "empty1.txt"), 0)
	createFile(t, filepath.Join(root, "empty2.txt"), 0)
	createFile(t, filepath.Join(root, "full.txt"), 1)

	if files := run(t, []string{root}, Options{IgnoreEmpty: true}); len(files) != 1 {
		t.Errorf("ignore empty: expected 1 file, got %d", len(files))
	}
	files := run(t, []string{root}, Options{})
	if len(files) != 3 {
		t.Errorf("keep empty: expected 3 files, got %d", len(files))
	}
}

// TestGlobPatternExclusion tests exclusion by base name glob.
func TestGlobPatternExclusion(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "keep.txt"), 10)
	createFile(t, filepath.Join(root, "drop.tmp"), 10)

	files := run(t, []string{root}, Options{Excludes: []string{"*.tmp"}})
	got := names(files)
	if len(got) != 1 || !got["keep.txt"] {
		t.Errorf("expected only keep.txt, got %v", got)
	}
}

// TestDirectoryExclusionGit verifies an excluded directory is not descended.
func TestDirectoryExclusionGit(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, ".git", "objects", "pack"), 10)
	createFile(t, filepath.Join(root, "main.go"), 10)

	files := run(t, []string{root}, Options{Excludes: []string{".git"}})
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(files))
	}
	if filepath.Base(files[0].Path) != "main.go" {
		t.Errorf("expected main.go, got %s", files[0].Path)
	}
}

// TestInvalidGlobPatternTolerated verifies a malformed pattern excludes
// nothing.
func TestInvalidGlobPatternTolerated(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "file.txt"), 100)
	createFile(t, filepath.Join(root, "[bracket.txt"), 100)

	files := run(t, []string{root}, Options{Excludes: []string{"[invalid"}})
	if len(files) != 2 {
		t.Errorf("expected 2 files (invalid pattern skipped), got %d", len(files))
	}
}

// TestBackupNamesSkipped verifies leftovers from an interrupted run are not
// treated as candidates.
func TestBackupNamesSkipped(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "data.bin"), 10)
	createFile(t, filepath.Join(root, ".data.bin.samefile-0f8fad5b-d9cb-469f-a165-70867728950e"), 10)

	files := run(t, []string{root}, Options{})
	if len(files) != 1 || filepath.Base(files[0].Path) != "data.bin" {
		t.Errorf("expected only data.bin, got %v", names(files))
	}
}

// =============================================================================
// Section 3.3: Symlinks and Special Files
// =============================================================================

// TestSymlinksNotFollowedByDefault verifies symlinks are ignored unless
// following is enabled, in which case they point at the target's inode.
func TestSymlinksNotFollowedByDefault(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "target.txt")
	createFile(t, target, 10)
	if err := os.Symlink(target, filepath.Join(root, "link.txt")); err != nil {
		t.Fatal(err)
	}

	if files := run(t, []string{root}, Options{}); len(files) != 1 {
		t.Errorf("no follow: expected 1 file, got %d", len(files))
	}

	files := run(t, []string{root}, Options{FollowSymlinks: true})
	if len(files) != 2 {
		t.Fatalf("follow: expected 2 files, got %d", len(files))
	}
	if files[0].Ino != files[1].Ino {
		t.Error("expected the followed link to report the target's inode")
	}
}

// TestNonRegularFilesSkipped verifies FIFOs are not candidates.
func TestNonRegularFilesSkipped(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "regular.txt"), 10)
	if err := syscall.Mkfifo(filepath.Join(root, "fifo"), 0o644); err != nil {
		t.Skipf("mkfifo unavailable: %v", err)
	}

	files := run(t, []string{root}, Options{})
	if len(files) != 1 {
		t.Errorf("expected 1 file, got %d", len(files))
	}
}

// TestFilenamesWithSpecialChars tests files with special characters in names.
func TestFilenamesWithSpecialChars(t *testing.T) {
	root := t.TempDir()
	specialNames := []string{
		"file with spaces.txt",
		"file\twith\ttabs.txt",
		"unicode_日本語.txt",
		"quotes'and\"double.txt",
	}
	for _, name := range specialNames {
		createFile(t, filepath.Join(root, name), 100)
	}

	files := run(t, []string{root}, Options{})
	if len(files) != len(specialNames) {
		t.Errorf("expected %d files, got %d", len(specialNames), len(files))
	}
}

// =============================================================================
// Section 3.4: Error Handling
// =============================================================================

// TestNonExistentPathHandling verifies a missing argument is skipped while
// the others are still scanned.
func TestNonExistentPathHandling(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "file.txt"), 10)

	files := run(t, []string{filepath.Join(root, "missing"), root}, Options{})
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(files))
	}
	if files[0].InputIndex != 1 {
		t.Errorf("expected input index 1, got %d", files[0].InputIndex)
	}
}

// TestAllPathsMissing verifies the scan fails when nothing could be read.
func TestAllPathsMissing(t *testing.T) {
	root := t.TempDir()
	_, err := New([]string{filepath.Join(root, "a"), filepath.Join(root, "b")}, Options{}).Run()
	if err == nil {
		t.Fatal("expected error when no path is readable")
	}
}

// TestPermissionErrorHandling tests that scanner continues when directories
// are unreadable.
func TestPermissionErrorHandling(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("skipping permission test when running as root")
	}

	root := t.TempDir()
	createFile(t, filepath.Join(root, "accessible.txt"), 100)

	unreadable := filepath.Join(root, "unreadable")
	if err := os.Mkdir(unreadable, 0o000); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chmod(unreadable, 0o755) }()

	files := run(t, []string{root}, Options{})
	if len(files) != 1 {
		t.Errorf("expected 1 file, got %d", len(files))
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func run(t *testing.T, paths []string, opts Options) types.Collection {
	t.Helper()
	files, err := New(paths, opts).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return files
}

func names(files types.Collection) map[string]bool {
	m := make(map[string]bool, len(files))
	for _, f := range files {
		m[filepath.Base(f.Path)] = true
	}
	return m
}

func createFile(t *testing.T, path string, size int64) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	content := make([]byte, size)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
}
