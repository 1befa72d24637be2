// Package model holds the data types shared across the build orchestration
// engine: project context, build results, diagnoses, fix actions, cache and
// worker records, and the wire protocol envelope. Types here are plain data —
// behavior lives in the owning component packages.
package model

// Dependency is one entry in a ProjectContext's dependency list.
type Dependency struct {
	Name      string
	Installed bool
}

// SourceFileSummary is a coarse accounting of a project's source tree,
// produced by the external project analyzer.
type SourceFileSummary struct {
	TotalFiles  int
	ByExtension map[string]int
	TotalBytes  int64
}

// ProjectContext is read-only for the recovery/scheduling core. It is created
// by the external project analyzer and passed down by reference; nothing in
// this module mutates it.
type ProjectContext struct {
	Root         string
	Language     string
	BuildSystem  string
	Dependencies []Dependency
	Sources      SourceFileSummary
}

// HasDependency reports whether name appears in the dependency list, and
// whether it is marked installed.
func (p *ProjectContext) HasDependency(name string) (installed bool, found bool) {
	for _, d := range p.Dependencies {
		if d.Name == name {
			return d.Installed, true
		}
	}
	return false, false
}
