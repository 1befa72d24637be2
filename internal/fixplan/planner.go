// Package fixplan implements the Fix Planner: given a
// diagnosed pattern and target, it proposes a deterministic, ordered list of
// FixActions.
package fixplan

import (
	"fmt"

	"go.buildorc.dev/internal/model"
)

// Plan returns the priority-ordered fix plan for pattern/target given the
// project's language and build system. Plans are deterministic given
// (pattern, target, project_type, build_system).
func Plan(pattern model.ErrorPatternType, target string, project *model.ProjectContext) []model.FixAction {
	switch pattern {
	case model.PatternMissingLibrary, model.PatternUndefinedReference:
		return []model.FixAction{
			installPackage(target, fmt.Sprintf("install missing library %q", target)),
			cleanBuild(project.Root),
			retry(),
		}
	case model.PatternMissingHeader:
		pkg := derivePackageFromHeader(target)
		return []model.FixAction{
			installPackage(pkg, fmt.Sprintf("install package providing header %q", target)),
			cleanBuild(project.Root),
			retry(),
		}
	case model.PatternMissingFile:
		pkg := derivePackageFromHeader(target)
		return []model.FixAction{
			{
				Kind:                 model.KindCreateFile,
				Target:               target,
				Content:              "",
				Description:          fmt.Sprintf("create missing file %q", target),
				RequiresConfirmation: true,
				Source:               model.SourcePlanner,
			},
			installPackage(pkg, fmt.Sprintf("or install package providing %q", target)),
		}
	case model.PatternPermissionDenied:
		return []model.FixAction{
			{
				Kind:                 model.KindRunCommand,
				Target:               fmt.Sprintf("chmod +x %s", target),
				Description:          fmt.Sprintf("make %q executable", target),
				RequiresConfirmation: true,
				Source:               model.SourcePlanner,
			},
			retry(),
		}
	case model.PatternCMakeVersion:
		return []model.FixAction{
			{
				Kind:                 model.KindFixCMakeVersion,
				Target:               cmakeListsPath(project),
				NewVersion:           target,
				Description:          fmt.Sprintf("bump cmake_minimum_required to %s", target),
				RequiresConfirmation: true,
				Source:               model.SourcePlanner,
			},
		}
	case model.PatternDiskFull:
		return []model.FixAction{
			cleanBuild(project.Root),
			retry(),
		}
	case model.PatternSyntaxError:
		// Deferred to the LLM oracle: no local plan.
		return nil
	default:
		return []model.FixAction{retry()}
	}
}

func installPackage(name, description string) model.FixAction {
	return model.FixAction{
		Kind:                 model.KindInstallPackage,
		Target:               name,
		Description:          description,
		RequiresConfirmation: true,
		Source:               model.SourcePlanner,
	}
}

func cleanBuild(dir string) model.FixAction {
	return model.FixAction{
		Kind:                 model.KindCleanBuild,
		Target:               dir,
		Description:          fmt.Sprintf("clean build directory %q", dir),
		RequiresConfirmation: false,
		Source:               model.SourcePlanner,
	}
}

func retry() model.FixAction {
	return model.FixAction{
		Kind:        model.KindRetry,
		Description: "retry the build",
		Source:      model.SourcePlanner,
	}
}

// derivePackageFromHeader maps a header file name to a likely development
// package name, e.g. "curl/curl.h" -> "libcurl-dev". This is a heuristic
// best-effort guess, matching the planner's role of proposing a plan the
// validator and risk assessor then sanity-check before anything runs.
func derivePackageFromHeader(header string) string {
	base := header
	for i := len(header) - 1; i >= 0; i-- {
		if header[i] == '/' {
			base = header[i+1:]
			break
		}
	}
	name := base
	for i := 0; i < len(base); i++ {
		if base[i] == '.' {
			name = base[:i]
			break
		}
	}
	if name == "" {
		return header
	}
	return "lib" + name + "-dev"
}

func cmakeListsPath(project *model.ProjectContext) string {
	if project == nil || project.Root == "" {
		return "CMakeLists.txt"
	}
	return project.Root + "/CMakeLists.txt"
}
