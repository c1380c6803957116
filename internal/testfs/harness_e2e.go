//go:build e2e

package testfs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/docker/docker/api/types/container"
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

const (
	// baseImage is the Docker image used for E2E tests.
	baseImage = "alpine:3.21"

	// binDirEnv names the host directory holding the linux binaries.
	binDirEnv = "SAMEFILE_E2E_BINDIR"

	binaryName       = "samefile"
	helperBinaryName = "testfs-helper"
	containerBinDir  = "/usr/local/bin"
	binaryPath       = containerBinDir + "/" + binaryName
	helperBinaryPath = containerBinDir + "/" + helperBinaryName

	// tmpfsOptions sizes each volume. Files written by tests stay well below.
	tmpfsOptions = "size=100m"
)

// -----------------------------------------------------------------------------
// Harness - Public API
// -----------------------------------------------------------------------------

// Harness provides E2E test infrastructure using Docker containers.
//
// Each Volume is a separate tmpfs mount, so volumes have distinct device
// ids. This is the only way to exercise cross-device behaviour such as
// hardlinks failing with EXDEV.
//
// Usage:
//
//	h := testfs.New(t, given)
//	h.RunSamefile("--make-hardlinks", "/vol1", "/vol2")
//	h.Assert(then)
type Harness struct {
	t          *testing.T
	ctx        context.Context
	given      FileTree
	container  *Container
	lastResult *RunResult
}

// New starts a container with one tmpfs per volume, copies the binaries
// from $SAMEFILE_E2E_BINDIR into it and sows given.
//
// The container is removed when the test finishes via t.Cleanup().
func New(t *testing.T, given FileTree) *Harness {
	t.Helper()

	binDir := os.Getenv(binDirEnv)
	if binDir == "" {
		t.Fatalf("%s not set: point it at linux builds of %s and %s", binDirEnv, binaryName, helperBinaryName)
	}

	h := &Harness{t: t, ctx: context.Background(), given: given}

	c, err := NewContainer(h.ctx, h.containerConfig(), h.hostConfig())
	if err != nil {
		t.Fatalf("failed to create container: %v", err)
	}
	h.container = c
	t.Cleanup(h.Cleanup)

	err = c.CopyFiles(h.ctx, containerBinDir,
		filepath.Join(binDir, binaryName), filepath.Join(binDir, helperBinaryName))
	if err != nil {
		t.Fatalf("failed to install binaries: %v", err)
	}

	if err := h.sowFileTree(); err != nil {
		t.Fatalf("failed to setup files: %v", err)
	}
	return h
}

// RunSamefile executes samefile inside the container. Progress output is
// always disabled. The result is kept for Assert.
func (h *Harness) RunSamefile(args ...string) *RunResult {
	h.t.Helper()

	cmd := append([]string{binaryPath, "--no-progress"}, args...)
	stdout, stderr, exitCode, err := h.container.Run(h.ctx, cmd, nil)
	if err != nil {
		h.t.Fatalf("failed to run samefile: %v", err)
	}

	h.lastResult = &RunResult{ExitCode: exitCode, Stdout: stdout, Stderr: stderr}
	return h.lastResult
}

// Exec runs an arbitrary command inside the container and fails the test on
// a non-zero exit.
func (h *Harness) Exec(cmd ...string) string {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.container.Run(h.ctx, cmd, nil)
	if err != nil || exitCode != 0 {
		h.t.Fatalf("%v: exit %d, err %v\n%s", cmd, exitCode, err, stderr)
	}
	return stdout
}

// Assert checks the last exit code and the filesystem state of every
// volume in expected.
func (h *Harness) Assert(expected FileTree) {
	h.t.Helper()

	if h.lastResult == nil {
		h.t.Fatal("Assert called before RunSamefile")
	}
	if h.lastResult.ExitCode != expected.ExitCode {
		h.t.Errorf("exit code: got %d, want %d\nstdout: %s\nstderr: %s",
			h.lastResult.ExitCode, expected.ExitCode,
			h.lastResult.Stdout, h.lastResult.Stderr)
	}

	for _, vol := range expected.Volumes {
		actual, err := h.reapPaths([]string{vol.MountPoint})
		if err != nil {
			h.t.Fatalf("reap %s: %v", vol.MountPoint, err)
		}
		AssertVolume(h.t, vol, actual.Volumes[0])
	}
}

// Cleanup terminates the container and releases resources.
func (h *Harness) Cleanup() {
	if h.container != nil {
		_ = h.container.Close(h.ctx)
		h.container = nil
	}
}

// -----------------------------------------------------------------------------
// Container Configuration
// -----------------------------------------------------------------------------

func (h *Harness) containerConfig() *container.Config {
	return &container.Config{
		Image: baseImage,
		Cmd:   []string{"sleep", "infinity"},
	}
}

// hostConfig mounts one tmpfs per volume. Docker mounts parents before
// children, so nested mount points work.
func (h *Harness) hostConfig() *container.HostConfig {
	tmpfs := make(map[string]string, len(h.given.Volumes))
	for _, v := range h.given.Volumes {
		tmpfs[v.MountPoint] = tmpfsOptions
	}
	return &container.HostConfig{Tmpfs: tmpfs, AutoRemove: true}
}

// -----------------------------------------------------------------------------
// FileTree Operations
// -----------------------------------------------------------------------------

// sowFileTree creates the filesystem inside the container with testfs-helper.
func (h *Harness) sowFileTree() error {
	treeJSON, err := json.Marshal(h.given)
	if err != nil {
		return fmt.Errorf("marshal tree: %w", err)
	}

	stdout, stderr, exitCode, err := h.container.Run(h.ctx, []string{helperBinaryPath, "sow"}, treeJSON)
	if err != nil {
		return fmt.Errorf("run sow: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("sow failed (exit %d): %s%s", exitCode, stdout, stderr)
	}
	return nil
}

// reapPaths captures filesystem state using testfs-helper.
func (h *Harness) reapPaths(paths []string) (*ReapResult, error) {
	cmd := append([]string{helperBinaryPath, "reap"}, paths...)
	stdout, stderr, exitCode, err := h.container.Run(h.ctx, cmd, nil)
	if err != nil {
		return nil, fmt.Errorf("run reap: %w", err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("reap failed (exit %d): %s%s", exitCode, stdout, stderr)
	}

	var result ReapResult
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		return nil, fmt.Errorf("parse reap output: %w", err)
	}
	return &result, nil
}
