// Package buildexec implements the Build Executor: it invokes
// the project's native build system via the Tool Registry and surfaces a
// BuildResult.
package buildexec

import (
	"fmt"

	"go.buildorc.dev/internal/model"
	"go.buildorc.dev/internal/toolregistry"
)

// buildCommand maps a project's BuildSystem tag to the command/args used to
// invoke it. Parallelism and BuildType are threaded in where the tool
// supports them.
func buildCommand(buildSystem string, opts model.BuildOptions) (string, []string, error) {
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	switch buildSystem {
	case "cmake":
		args := []string{"--build", ".", "--parallel", fmt.Sprintf("%d", parallelism)}
		if opts.BuildType != "" {
			args = append(args, "--config", opts.BuildType)
		}
		return "cmake", args, nil
	case "make":
		return "make", []string{fmt.Sprintf("-j%d", parallelism)}, nil
	case "ninja":
		return "ninja", []string{"-j", fmt.Sprintf("%d", parallelism)}, nil
	case "bazel":
		return "bazel", []string{"build", fmt.Sprintf("--jobs=%d", parallelism), "//..."}, nil
	case "cargo":
		args := []string{"build", "-j", fmt.Sprintf("%d", parallelism)}
		if opts.BuildType == "release" {
			args = append(args, "--release")
		}
		return "cargo", args, nil
	case "go":
		return "go", []string{"build", "./..."}, nil
	default:
		return "", nil, fmt.Errorf("buildexec: unsupported build system %q", buildSystem)
	}
}

// Execute runs project's native build system and returns a BuildResult.
// Failure semantics: a non-zero exit sets Success=false; stderr is always
// captured intact for the Error Pattern Matcher.
func Execute(project *model.ProjectContext, opts model.BuildOptions) (*model.BuildResult, error) {
	name, args, err := buildCommand(project.BuildSystem, opts)
	if err != nil {
		return nil, err
	}

	workingDir := opts.WorkingDir
	if workingDir == "" {
		workingDir = project.Root
	}

	res, err := toolregistry.Execute(&toolregistry.Command{
		Name:       name,
		Args:       args,
		WorkingDir: workingDir,
		Env:        opts.ExtraEnv,
		Timeout:    opts.Timeout,
	})
	if err != nil && res == nil {
		// The command never ran at all (e.g. start failure); surface as a
		// failed BuildResult rather than propagating the error, so callers
		// downstream (the Recovery Engine) have a BuildResult to diagnose.
		return &model.BuildResult{
			Success:  false,
			ExitCode: -1,
			Stderr:   []byte(err.Error()),
		}, nil
	}

	return &model.BuildResult{
		Success:     res.Success,
		ExitCode:    res.ExitCode,
		Stdout:      res.Stdout,
		Stderr:      res.Stderr,
		DurationSec: res.DurationSec,
	}, nil
}
