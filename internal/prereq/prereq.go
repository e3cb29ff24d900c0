// Package prereq checks the dynamic prerequisites for starting the engine.
package prereq

import (
	"os"
	"os/exec"
)

// Checker reports whether the engine's prerequisites are satisfied. It is
// consulted once per activation; absence of either prerequisite aborts
// startup.
type Checker interface {
	// ArtifactPresent reports whether the engine artifact exists.
	ArtifactPresent() bool

	// ResolveRuntime resolves the runtime executable by name and returns
	// its path, or false if it cannot be found.
	ResolveRuntime(name string) (string, bool)
}

// FSChecker checks prerequisites against the local filesystem and PATH.
type FSChecker struct {
	// ArtifactPath is the expected location of the engine artifact.
	ArtifactPath string
}

// NewFSChecker creates a checker for the given artifact path.
func NewFSChecker(artifactPath string) *FSChecker {
	return &FSChecker{ArtifactPath: artifactPath}
}

// ArtifactPresent reports whether the artifact exists and is a regular file.
func (c *FSChecker) ArtifactPresent() bool {
	info, err := os.Stat(c.ArtifactPath)
	return err == nil && info.Mode().IsRegular()
}

// ResolveRuntime resolves name on PATH.
func (c *FSChecker) ResolveRuntime(name string) (string, bool) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", false
	}
	return path, true
}
