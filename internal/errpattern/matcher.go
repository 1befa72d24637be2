// Package errpattern implements the Error Pattern Matcher: it
// classifies a BuildResult failure into one of a finite set of ErrorPatterns
// by descending-priority substring match, then extracts a target via
// regex-level heuristics.
package errpattern

import (
	"regexp"
	"strings"

	"go.buildorc.dev/internal/model"
)

// rule is one row of the pattern table: a substring to look for and the
// pattern it implies. Priority disambiguates overlapping matches — higher
// wins. "undefined reference to" deliberately matches both MissingLibrary and
// UndefinedReference; MissingLibrary is given higher priority so a missing
// -lfoo surfaces as an installable package first.
type rule struct {
	substr   string
	pattern  model.ErrorPatternType
	priority int
}

var rules = []rule{
	{"cannot find -l", model.PatternMissingLibrary, 100},
	{"No such file or directory", model.PatternMissingFile, 90},
	{"fatal error:", model.PatternMissingHeader, 85},
	{"undefined reference to", model.PatternMissingLibrary, 80},
	{"undefined reference to", model.PatternUndefinedReference, 70},
	{"CMake 3.", model.PatternCMakeVersion, 60},
	{"or higher is required", model.PatternCMakeVersion, 60},
	{"Permission denied", model.PatternPermissionDenied, 50},
	{"No space left on device", model.PatternDiskFull, 40},
	{"syntax error", model.PatternSyntaxError, 30},
	{"expected ';'", model.PatternSyntaxError, 30},
}

// Matcher holds the ordered pattern table. It is initialized once and is
// safe for concurrent read-only use.
type Matcher struct {
	rules []rule
}

// New returns a Matcher over the default pattern table.
func New() *Matcher {
	sorted := append([]rule(nil), rules...)
	// Stable sort by descending priority so ties preserve table order,
	// keeping matcher.Match deterministic.
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].priority > sorted[j-1].priority; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return &Matcher{rules: sorted}
}

// Match scans stderr in descending priority order; the first substring match
// wins.
func (m *Matcher) Match(stderr string) model.ErrorPatternType {
	for _, r := range m.rules {
		if strings.Contains(stderr, r.substr) {
			return r.pattern
		}
	}
	return model.PatternUnknown
}

// extraction regexes for Diagnose's target extraction.
var (
	reMissingLib   = regexp.MustCompile(`cannot find -l(\S+)`)
	reUndefinedSym = regexp.MustCompile("undefined reference to [`']([^'`]+)[`']")
	reMissingHdr   = regexp.MustCompile(`fatal error:\s*([^\s:]+\.h[^\s:]*)`)
	reMissingFile  = regexp.MustCompile(`"([^"]+)":\s*No such file or directory|No such file or directory:\s*"?([^"\n]+)"?`)
	reCMakeVersion = regexp.MustCompile(`CMake\s+(\d+\.\d+)\s+or higher is required`)
	rePermFile     = regexp.MustCompile(`([^\s:]+):\s*Permission denied`)
)

// Diagnose combines a pattern match with target extraction and a confidence
// estimate.
func (m *Matcher) Diagnose(result *model.BuildResult, project *model.ProjectContext) model.ErrorDiagnosis {
	stderr := string(result.Stderr)
	pattern := m.Match(stderr)

	target := ""
	confidence := 0.3

	switch pattern {
	case model.PatternMissingLibrary:
		if match := reMissingLib.FindStringSubmatch(stderr); match != nil {
			target = match[1]
			confidence = 1.0
		} else if match := reUndefinedSym.FindStringSubmatch(stderr); match != nil {
			target = deriveLibraryFromSymbol(match[1])
			confidence = 0.7
		}
	case model.PatternUndefinedReference:
		if match := reUndefinedSym.FindStringSubmatch(stderr); match != nil {
			target = match[1]
			confidence = 1.0
		}
	case model.PatternMissingHeader:
		if match := reMissingHdr.FindStringSubmatch(stderr); match != nil {
			target = match[1]
			confidence = 1.0
		}
	case model.PatternMissingFile:
		if match := reMissingFile.FindStringSubmatch(stderr); match != nil {
			if match[1] != "" {
				target = match[1]
			} else {
				target = match[2]
			}
			confidence = 0.8
		}
	case model.PatternCMakeVersion:
		if match := reCMakeVersion.FindStringSubmatch(stderr); match != nil {
			target = match[1]
			confidence = 1.0
		}
	case model.PatternPermissionDenied:
		if match := rePermFile.FindStringSubmatch(stderr); match != nil {
			target = match[1]
			confidence = 0.8
		}
	}

	return model.ErrorDiagnosis{
		Pattern:         pattern,
		ExtractedTarget: target,
		Confidence:      confidence,
		Description:     describeFailure(pattern, target),
	}
}

func describeFailure(pattern model.ErrorPatternType, target string) string {
	if target == "" {
		return pattern.String() + ": unable to extract a specific target"
	}
	return pattern.String() + ": " + target
}

// deriveLibraryFromSymbol guesses a package name from an undefined symbol,
// e.g. "curl_easy_init" -> "curl". This is a heuristic, not an exact lookup.
func deriveLibraryFromSymbol(symbol string) string {
	for i := 0; i < len(symbol); i++ {
		if symbol[i] == '_' {
			if i > 0 {
				return symbol[:i]
			}
			break
		}
	}
	return symbol
}
