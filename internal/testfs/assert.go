package testfs

import (
	"os"
	"testing"
)

// AssertVolume compares one expected volume with its reaped state. Both
// harnesses call it once per volume.
func AssertVolume(t *testing.T, expected Volume, actual ReapVolume) {
	t.Helper()
	AssertFiles(t, expected.Files, actual.Files)
	AssertSymlinks(t, expected.Symlinks, actual.Symlinks)
	AssertAbsent(t, expected.Absent, actual)
	if len(actual.Backups) > 0 {
		t.Errorf("%s: leftover backups %v", actual.Name, actual.Backups)
	}
}

// AssertFiles checks that every path of an entry exists and resolves to one
// inode, that distinct entries resolve to distinct inodes, and that mode and
// content match where the entry sets them.
func AssertFiles(t *testing.T, expected []File, actual []ReapFile) {
	t.Helper()

	idx := indexByPath(actual)
	owner := make(map[uint64]int) // inode -> first entry that claimed it

	for i, ef := range expected {
		if len(ef.Path) == 0 {
			continue
		}
		head, ok := idx[ef.Path[0]]
		if !ok {
			t.Errorf("expected file not found: %s", ef.Path[0])
			continue
		}
		for _, p := range ef.Path[1:] {
			rf, ok := idx[p]
			switch {
			case !ok:
				t.Errorf("expected file not found: %s", p)
			case rf.Inode != head.Inode:
				t.Errorf("hardlink mismatch: %s (inode %d) != %s (inode %d)",
					ef.Path[0], head.Inode, p, rf.Inode)
			}
		}
		if j, dup := owner[head.Inode]; dup {
			t.Errorf("files from different entries share inode %d: %v and %v",
				head.Inode, expected[j].Path, ef.Path)
		} else {
			owner[head.Inode] = i
		}
		checkAttributes(t, ef, head)
	}
}

// AssertSymlinks checks that each expected link exists with its target.
func AssertSymlinks(t *testing.T, expected []Symlink, actual []ReapSymlink) {
	t.Helper()
	targets := make(map[string]string, len(actual))
	for _, rs := range actual {
		targets[rs.Path] = rs.Target
	}
	for _, es := range expected {
		got, ok := targets[es.Path]
		if !ok {
			t.Errorf("expected symlink not found: %s", es.Path)
		} else if got != es.Target {
			t.Errorf("symlink %s: got target %q, want %q", es.Path, got, es.Target)
		}
	}
}

// AssertAbsent checks that none of paths exists as a file or a link.
func AssertAbsent(t *testing.T, paths []string, actual ReapVolume) {
	t.Helper()
	idx := indexByPath(actual.Files)
	links := make(map[string]bool, len(actual.Symlinks))
	for _, rs := range actual.Symlinks {
		links[rs.Path] = true
	}
	for _, p := range paths {
		if _, ok := idx[p]; ok || links[p] {
			t.Errorf("expected %s to be absent", p)
		}
	}
}

func indexByPath(files []ReapFile) map[string]*ReapFile {
	idx := make(map[string]*ReapFile)
	for i := range files {
		for _, p := range files[i].Path {
			idx[p] = &files[i]
		}
	}
	return idx
}

func checkAttributes(t *testing.T, ef File, rf *ReapFile) {
	t.Helper()
	if ef.Mode != 0 && os.FileMode(rf.Mode) != ef.Mode.Perm() {
		t.Errorf("%s: mode %v, want %v", ef.Path[0], os.FileMode(rf.Mode), ef.Mode.Perm())
	}
	if len(ef.Chunks) == 0 {
		return
	}
	want, err := ContentSum(ef.Chunks)
	if err != nil {
		t.Errorf("%s: %v", ef.Path[0], err)
		return
	}
	if rf.Sum != want {
		t.Errorf("%s: content differs from chunks %v", ef.Path[0], ef.Chunks)
	}
}
