package toolregistry

import (
	"bufio"
	"bytes"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"go.buildorc.dev/internal/log"
)

// ToolType classifies a discovered tool.
type ToolType int

const (
	TypeUnknown ToolType = iota
	TypePackageManager
	TypeCompiler
	TypeBuildSystem
	TypeVCS
	TypeLinter
	TypeFormatter
	TypeTestRunner
	TypeDebugger
	TypeProfiler
)

// Descriptor is everything the registry knows about one discovered tool.
type Descriptor struct {
	Name         string
	Type         ToolType
	Subtype      string
	Path         string
	Version      string
	Capabilities []string
}

// candidate is one entry in the fixed discovery table: a binary name to look
// for on PATH, its classification, and the flags tried in order to extract a
// version string.
type candidate struct {
	name         string
	typ          ToolType
	subtype      string
	versionFlags []string
}

// knownTools is the fixed discovery table. Order does not matter for
// discovery; packageManagerPriority below governs package-manager ranking.
var knownTools = []candidate{
	{"apt", TypePackageManager, "apt", []string{"--version"}},
	{"apt-get", TypePackageManager, "apt-get", []string{"--version"}},
	{"dnf", TypePackageManager, "dnf", []string{"--version"}},
	{"yum", TypePackageManager, "yum", []string{"--version"}},
	{"pacman", TypePackageManager, "pacman", []string{"--version"}},
	{"vcpkg", TypePackageManager, "vcpkg", []string{"version"}},
	{"brew", TypePackageManager, "brew", []string{"--version"}},
	{"winget", TypePackageManager, "winget", []string{"--version"}},
	{"choco", TypePackageManager, "choco", []string{"--version"}},
	{"gcc", TypeCompiler, "gcc", []string{"--version", "-v"}},
	{"clang", TypeCompiler, "clang", []string{"--version"}},
	{"g++", TypeCompiler, "gcc", []string{"--version"}},
	{"cargo", TypeCompiler, "rust", []string{"--version"}},
	{"go", TypeCompiler, "go", []string{"version"}},
	{"cmake", TypeBuildSystem, "cmake", []string{"--version"}},
	{"make", TypeBuildSystem, "make", []string{"--version"}},
	{"ninja", TypeBuildSystem, "ninja", []string{"--version"}},
	{"bazel", TypeBuildSystem, "bazel", []string{"--version"}},
	{"git", TypeVCS, "git", []string{"--version"}},
}

// Registry is a read-only-after-construction table of discovered tools. It
// is built once at startup; dynamic refresh is not supported as
// a concurrent operation, only by constructing a new Registry.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Descriptor
	log   log.Logger
}

// DiscoverAll probes every known tool name against PATH and populates a new
// Registry with whatever resolves.
func DiscoverAll(logger log.Logger) *Registry {
	if logger == nil {
		logger = log.Nop()
	}
	r := &Registry{tools: make(map[string]Descriptor), log: logger}
	for _, c := range knownTools {
		path, err := lookPath(c.name)
		if err != nil {
			continue
		}
		version := probeVersion(path, c.versionFlags)
		r.tools[c.name] = Descriptor{
			Name:    c.name,
			Type:    c.typ,
			Subtype: c.subtype,
			Path:    path,
			Version: version,
		}
	}
	logger.Infow("tool discovery complete", "found", len(r.tools))
	return r
}

// probeVersion tries each flag in order and keeps the first line of the
// first invocation that succeeds.
func probeVersion(path string, flags []string) string {
	for _, flag := range flags {
		res, err := Execute(&Command{Name: path, Args: []string{flag}})
		if err != nil || res == nil {
			continue
		}
		combined := append(append([]byte{}, res.Stdout...), res.Stderr...)
		if line := firstLine(combined); line != "" {
			return line
		}
	}
	return ""
}

func firstLine(b []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(b))
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text())
	}
	return ""
}

// Get returns the descriptor for name, if discovered.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// All returns every discovered descriptor.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	return out
}

// packageManagerPriority lists candidate package manager binaries in
// descending priority per OS.
var packageManagerPriority = map[string][]string{
	"linux":   {"apt", "apt-get", "dnf", "yum", "pacman", "vcpkg"},
	"darwin":  {"brew", "vcpkg"},
	"windows": {"vcpkg", "winget", "choco"},
}

// DefaultPackageManager returns the highest-priority available package
// manager for the running OS, or false if none was discovered.
func (r *Registry) DefaultPackageManager() (Descriptor, bool) {
	for _, name := range packageManagerPriority[runtime.GOOS] {
		if d, ok := r.Get(name); ok {
			return d, true
		}
	}
	return Descriptor{}, false
}

// installArgs returns the install sub-command arguments for a given package
// manager subtype and package name.
func installArgs(subtype, name string) ([]string, error) {
	switch subtype {
	case "apt", "apt-get":
		return []string{"install", "-y", name}, nil
	case "dnf", "yum":
		return []string{"install", "-y", name}, nil
	case "pacman":
		return []string{"-S", "--noconfirm", name}, nil
	case "vcpkg":
		return []string{"install", name}, nil
	case "brew":
		return []string{"install", name}, nil
	case "winget":
		return []string{"install", "-e", "--id", name}, nil
	case "choco":
		return []string{"install", "-y", name}, nil
	default:
		return nil, fmt.Errorf("toolregistry: unknown package manager subtype %q", subtype)
	}
}

// PackageInstall installs name using the given package manager descriptor.
func PackageInstall(pm Descriptor, name string) (*ExecResult, error) {
	args, err := installArgs(pm.Subtype, name)
	if err != nil {
		return nil, err
	}
	return Execute(&Command{Name: pm.Path, Args: args})
}
