// Package validator implements the Fix Validator and Risk Assessor: it
// sanity-checks a proposed FixAction and scores its risk before the
// recovery engine is allowed to apply it.
package validator

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.buildorc.dev/internal/model"
	"go.buildorc.dev/internal/toolregistry"
)

// Status is the validator's verdict for one action.
type Status int

const (
	Passed Status = iota
	Warning
	Failed
	Skipped
)

func (s Status) String() string {
	switch s {
	case Warning:
		return "Warning"
	case Failed:
		return "Failed"
	case Skipped:
		return "Skipped"
	default:
		return "Passed"
	}
}

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	Status     Status
	CanProceed bool
	Confidence float64
	Message    string
}

var packageNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Registry is the subset of toolregistry.Registry the validator needs.
type Registry interface {
	DefaultPackageManager() (toolregistry.Descriptor, bool)
}

// Validate sanity-checks action against project, per its own per-Kind rules.
func Validate(action model.FixAction, project *model.ProjectContext, registry Registry) ValidationResult {
	switch action.Kind {
	case model.KindInstallPackage:
		if !packageNamePattern.MatchString(action.Target) {
			return ValidationResult{Status: Failed, CanProceed: false, Confidence: 0.9,
				Message: "package name contains disallowed characters"}
		}
		if registry != nil {
			if _, ok := registry.DefaultPackageManager(); ok {
				return ValidationResult{Status: Passed, CanProceed: true, Confidence: 0.9}
			}
		}
		return ValidationResult{Status: Warning, CanProceed: true, Confidence: 0.4,
			Message: "no default package manager available"}

	case model.KindCreateFile, model.KindModifyFile:
		dir := filepath.Dir(action.Target)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return ValidationResult{Status: Failed, CanProceed: false, Confidence: 0.9,
				Message: "parent directory is not accessible"}
		}
		return ValidationResult{Status: Passed, CanProceed: true, Confidence: 0.9}

	case model.KindRunCommand:
		if toolregistry.ResolvesOnPath(action.Target) {
			return ValidationResult{Status: Passed, CanProceed: true, Confidence: 0.8}
		}
		return ValidationResult{Status: Warning, CanProceed: true, Confidence: 0.3,
			Message: "command does not resolve on PATH"}

	case model.KindFixCMakeVersion:
		if _, err := os.Stat(action.Target); err != nil {
			return ValidationResult{Status: Failed, CanProceed: false, Confidence: 0.9,
				Message: "target CMakeLists.txt does not exist"}
		}
		return ValidationResult{Status: Passed, CanProceed: true, Confidence: 0.9}

	case model.KindDeleteFile, model.KindSetEnvVar, model.KindCleanBuild, model.KindRetry, model.KindNoop:
		// Reversible informational actions are always Passed.
		return ValidationResult{Status: Passed, CanProceed: true, Confidence: 1.0}

	default:
		return ValidationResult{Status: Skipped, CanProceed: false, Confidence: 0}
	}
}

// RiskLevel is how disruptive an action is judged to be.
type RiskLevel int

const (
	RiskNone RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "Low"
	case RiskMedium:
		return "Medium"
	case RiskHigh:
		return "High"
	case RiskCritical:
		return "Critical"
	default:
		return "None"
	}
}

// Assessment is the risk-assessor verdict for one action.
type Assessment struct {
	Level                RiskLevel
	Description          string
	IsReversible         bool
	RequiresBackup       bool
	RequiresConfirmation bool
	AffectedFiles        []string
}

var dangerousCommandTokens = []string{"sudo", "rm -rf", "chmod", "chown"}

// Assess scores the risk of applying action, per its own per-Kind levels.
func Assess(action model.FixAction) Assessment {
	switch action.Kind {
	case model.KindNoop, model.KindRetry:
		return Assessment{Level: RiskNone, IsReversible: true, Description: "no side effects"}

	case model.KindSetEnvVar:
		return Assessment{Level: RiskLow, IsReversible: true,
			Description: "sets a process environment variable"}

	case model.KindCleanBuild:
		// Deletions are not undoable, but the blast radius is limited to
		// build outputs, so this is still scored Low.
		return Assessment{Level: RiskLow, IsReversible: false,
			Description: "removes build output directory", AffectedFiles: []string{action.Target}}

	case model.KindModifyFile:
		return Assessment{Level: RiskMedium, IsReversible: true, RequiresBackup: true,
			Description: "modifies an existing file", AffectedFiles: []string{action.Target}}

	case model.KindFixCMakeVersion:
		return Assessment{Level: RiskMedium, IsReversible: true, RequiresBackup: true,
			Description: "rewrites cmake_minimum_required", AffectedFiles: []string{action.Target}}

	case model.KindCreateFile:
		return Assessment{Level: RiskMedium, IsReversible: true, RequiresBackup: true,
			Description: "creates a new file", AffectedFiles: []string{action.Target}}

	case model.KindDeleteFile:
		return Assessment{Level: RiskMedium, IsReversible: true, RequiresBackup: true,
			Description: "deletes a file", AffectedFiles: []string{action.Target}}

	case model.KindRunCommand:
		if isDangerousCommand(action.Target) {
			return Assessment{Level: RiskCritical, IsReversible: false, RequiresConfirmation: true,
				Description: "command contains a privileged or destructive token"}
		}
		return Assessment{Level: RiskMedium, IsReversible: false,
			Description: "runs an arbitrary shell command"}

	case model.KindInstallPackage:
		return Assessment{Level: RiskHigh, IsReversible: true, RequiresConfirmation: true,
			Description: "installs a system package"}

	default:
		return Assessment{Level: RiskNone, IsReversible: true}
	}
}

func isDangerousCommand(cmd string) bool {
	lower := strings.ToLower(cmd)
	for _, token := range dangerousCommandTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}
