// Package testfs builds and inspects file trees for samefile's integration
// and e2e tests.
//
// The same FileTree value describes the state a test starts from ("given")
// and the state it expects afterwards ("then"). The integration Harness
// lays volumes out as directories under t.TempDir(); the e2e Harness (build
// tag e2e) mounts each volume as its own tmpfs inside a Docker container, so
// volumes get distinct device ids.
//
//	given := testfs.FileTree{Volumes: []testfs.Volume{
//	    {MountPoint: "/data", Files: []testfs.File{
//	        {Path: []string{"a.txt"}, Chunks: []testfs.Chunk{{Pattern: 'A', Size: "1MiB"}}},
//	        {Path: []string{"copy/a.txt"}, Chunks: []testfs.Chunk{{Pattern: 'A', Size: "1MiB"}}},
//	    }},
//	}}
//	then := testfs.FileTree{Volumes: []testfs.Volume{
//	    {MountPoint: "/data",
//	        Files:  []testfs.File{{Path: []string{"a.txt"}}},
//	        Absent: []string{"copy/a.txt"}},
//	}}
//
//	h := testfs.New(t, given)
//	h.RunSamefile("--delete-duplicates", "/data")
//	h.Assert(then)
//
// # Field Usage
//
//	| Field          | Given                      | Then                        |
//	|----------------|----------------------------|-----------------------------|
//	| Volumes        | Directory or tmpfs mount   | Scope of the checks         |
//	| File.Path      | First path written, others | All paths share one inode   |
//	|                | hardlinked to it           |                             |
//	| File.Chunks    | Content                    | Content, when set           |
//	| File.Mode      | Permission bits (0 = 0644) | Permission bits, when set   |
//	| Symlink        | Created as is              | Exists with this target     |
//	| Absent         | Ignored                    | Path does not exist         |
//	| ExitCode       | Ignored                    | e2e exit status             |
//
// Every check also fails on a rename-aside backup left in a volume.
package testfs

import (
	"os"

	"github.com/dustin/go-humanize"
)

// FileTree is a set of volumes plus, for e2e checks, the expected exit code.
type FileTree struct {
	Volumes  []Volume `json:"volumes"`
	ExitCode int      `json:"-"`
}

// Volume is one mount point. Volumes may nest ("/data" and "/data/sub").
// Paths inside a volume are relative to MountPoint; parent directories are
// created as needed.
type Volume struct {
	MountPoint string    `json:"mountPoint"`
	Files      []File    `json:"files,omitempty"`
	Symlinks   []Symlink `json:"symlinks,omitempty"`
	Absent     []string  `json:"-"`
}

// File is one inode reachable under one or more paths.
type File struct {
	Path   []string    `json:"path"`
	Chunks []Chunk     `json:"chunks,omitempty"`
	Mode   os.FileMode `json:"mode,omitempty"`
}

// Chunk is a run of Size bytes all equal to Pattern. Size uses go-humanize
// syntax; IEC units ("4KiB") line up with the sampler's read boundaries.
type Chunk struct {
	Pattern rune   `json:"pattern"`
	Size    string `json:"size"`
}

// TotalSize returns the file length in bytes. Unparseable chunk sizes count
// as zero.
func (f *File) TotalSize() int64 {
	var total int64
	for _, c := range f.Chunks {
		size, _ := humanize.ParseBytes(c.Size)
		total += int64(size)
	}
	return total
}

// Symlink is a link at Path (relative to the volume) holding Target
// verbatim.
type Symlink struct {
	Path   string `json:"path"`
	Target string `json:"target"`
}

// RunResult is the outcome of one samefile invocation.
type RunResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// ReapResult is the observed state of a list of volumes, as produced by
// ReapPaths and by "testfs-helper reap".
type ReapResult struct {
	Volumes []ReapVolume `json:"volumes"`
}

// ReapVolume is the observed state of one volume.
type ReapVolume struct {
	Name     string        `json:"name"`
	Files    []ReapFile    `json:"files,omitempty"`
	Symlinks []ReapSymlink `json:"symlinks,omitempty"`
	Backups  []string      `json:"backups,omitempty"`
}

// ReapFile is one observed inode with every path that reaches it.
type ReapFile struct {
	Path  []string `json:"path"`
	Inode uint64   `json:"inode"`
	Nlink uint64   `json:"nlink"`
	Size  int64    `json:"size"`
	Mode  uint32   `json:"mode"`
	Sum   string   `json:"sum"` // hex SHA-1 of the content
}

// ReapSymlink is one observed symlink.
type ReapSymlink struct {
	Path   string `json:"path"`
	Target string `json:"target"`
}
