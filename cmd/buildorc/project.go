package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.buildorc.dev/internal/model"
)

// buildSystemMarkers maps a file found at a project root to the build
// system tag buildexec expects. A real project analyzer is out of this
// module's scope; this is the minimal heuristic the CLI needs to drive a
// local build.
var buildSystemMarkers = []struct {
	file string
	tag  string
}{
	{"CMakeLists.txt", "cmake"},
	{"WORKSPACE", "bazel"},
	{"build.ninja", "ninja"},
	{"Cargo.toml", "cargo"},
	{"go.mod", "go"},
	{"Makefile", "make"},
}

// detectProject builds a minimal ProjectContext by inspecting root for a
// recognized build system marker file.
func detectProject(root string) (*model.ProjectContext, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("buildorc: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("buildorc: %q is not a directory", root)
	}

	for _, marker := range buildSystemMarkers {
		if _, err := os.Stat(filepath.Join(root, marker.file)); err == nil {
			return &model.ProjectContext{Root: root, BuildSystem: marker.tag}, nil
		}
	}
	return nil, fmt.Errorf("buildorc: no recognized build system found under %q", root)
}
