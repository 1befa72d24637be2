package toolregistry

import (
	"fmt"
	"os"
	"regexp"

	"go.buildorc.dev/internal/model"
)

// ApplyResult is the outcome of applying one FixAction.
type ApplyResult struct {
	Success     bool
	Message     string
	DurationSec float64
}

// Apply carries out action against the live filesystem/process, the way the
// recovery engine's step (d) delegates to the tool registry.
func Apply(action model.FixAction, registry *Registry) (ApplyResult, error) {
	switch action.Kind {
	case model.KindNoop, model.KindRetry:
		return ApplyResult{Success: true, Message: "no-op"}, nil

	case model.KindInstallPackage:
		pm, ok := registry.DefaultPackageManager()
		if !ok {
			return ApplyResult{}, fmt.Errorf("toolregistry: no package manager available to install %q", action.Target)
		}
		res, err := PackageInstall(pm, action.Target)
		if err != nil {
			return ApplyResult{}, err
		}
		return ApplyResult{Success: res.Success, DurationSec: res.DurationSec, Message: firstLine(append(res.Stdout, res.Stderr...))}, nil

	case model.KindCreateFile:
		if err := os.WriteFile(action.Target, []byte(action.Content), 0o644); err != nil {
			return ApplyResult{}, fmt.Errorf("toolregistry: creating %q: %w", action.Target, err)
		}
		return ApplyResult{Success: true}, nil

	case model.KindModifyFile:
		if err := os.WriteFile(action.Target, []byte(action.Patch), 0o644); err != nil {
			return ApplyResult{}, fmt.Errorf("toolregistry: modifying %q: %w", action.Target, err)
		}
		return ApplyResult{Success: true}, nil

	case model.KindDeleteFile:
		if err := os.Remove(action.Target); err != nil && !os.IsNotExist(err) {
			return ApplyResult{}, fmt.Errorf("toolregistry: deleting %q: %w", action.Target, err)
		}
		return ApplyResult{Success: true}, nil

	case model.KindSetEnvVar:
		if err := os.Setenv(action.EnvKey, action.EnvValue); err != nil {
			return ApplyResult{}, fmt.Errorf("toolregistry: setting %q: %w", action.EnvKey, err)
		}
		return ApplyResult{Success: true}, nil

	case model.KindCleanBuild:
		if err := os.RemoveAll(action.Target); err != nil {
			return ApplyResult{}, fmt.Errorf("toolregistry: cleaning %q: %w", action.Target, err)
		}
		return ApplyResult{Success: true}, nil

	case model.KindFixCMakeVersion:
		return applyCMakeVersion(action)

	case model.KindRunCommand:
		res, err := Execute(&Command{Name: "sh", Args: []string{"-c", action.Target}})
		if err != nil {
			return ApplyResult{}, err
		}
		return ApplyResult{Success: res.Success, DurationSec: res.DurationSec, Message: firstLine(append(res.Stdout, res.Stderr...))}, nil

	default:
		return ApplyResult{}, fmt.Errorf("toolregistry: unknown fix action kind %v", action.Kind)
	}
}

var cmakeMinimumRe = regexp.MustCompile(`cmake_minimum_required\(VERSION\s+[0-9.]+\)`)

func applyCMakeVersion(action model.FixAction) (ApplyResult, error) {
	data, err := os.ReadFile(action.Target)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("toolregistry: reading %q: %w", action.Target, err)
	}
	rewritten := cmakeMinimumRe.ReplaceAllString(string(data), "cmake_minimum_required(VERSION "+action.NewVersion+")")
	if err := os.WriteFile(action.Target, []byte(rewritten), 0o644); err != nil {
		return ApplyResult{}, fmt.Errorf("toolregistry: writing %q: %w", action.Target, err)
	}
	return ApplyResult{Success: true}, nil
}
