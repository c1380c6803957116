//go:build unix && !e2e

package testfs

import (
	"testing"
)

// -----------------------------------------------------------------------------
// Harness - Integration Test API
// -----------------------------------------------------------------------------

// Harness provides integration test infrastructure using t.TempDir().
//
// Volumes become plain directories under one temporary root, so every
// "volume" shares a device. Cross-device behaviour (EXDEV on hardlink,
// clone refusal) needs the e2e harness.
//
// Usage:
//
//	h := testfs.New(t, given)
//	files, _ := scanner.New(h.Paths("/vol1", "/vol2"), scanner.Options{}).Run()
//	// ... run pipeline
//	h.Assert(then)
type Harness struct {
	t     *testing.T
	root  string
	given FileTree
}

// New creates the temporary root and sows given into it.
func New(t *testing.T, given FileTree) *Harness {
	t.Helper()

	h := &Harness{t: t, root: t.TempDir(), given: given}
	if err := SowFileTree(h.root, given); err != nil {
		t.Fatalf("failed to setup files: %v", err)
	}
	return h
}

// Root returns the temporary directory root path.
func (h *Harness) Root() string {
	return h.root
}

// Path maps a logical path such as "/data/a.txt" to its location on disk.
func (h *Harness) Path(logical string) string {
	return resolveVolumePath(h.root, logical)
}

// Paths maps several logical paths, keeping their order. Argument order is
// significant to the pipeline, so tests pass volumes through here.
func (h *Harness) Paths(logical ...string) []string {
	out := make([]string, len(logical))
	for i, p := range logical {
		out[i] = h.Path(p)
	}
	return out
}

// Assert verifies the filesystem state of every volume in expected.
func (h *Harness) Assert(expected FileTree) {
	h.t.Helper()
	for _, vol := range expected.Volumes {
		actual, err := ReapPaths(h.root, []string{vol.MountPoint})
		if err != nil {
			h.t.Fatalf("reap %s: %v", vol.MountPoint, err)
		}
		AssertVolume(h.t, vol, actual.Volumes[0])
	}
}
