package main

import (
	"fmt"

	"go.buildorc.dev/internal/model"
)

// wholeProjectDecomposer handles the one DistributionStrategy that needs no
// external project analyzer: the whole project as a single job. Any other
// strategy requires a real build-graph analyzer this module does not
// implement.
type wholeProjectDecomposer struct{}

func (wholeProjectDecomposer) Decompose(projectPath string, strategy model.DistributionStrategy) ([]model.JobSpec, error) {
	if strategy != model.StrategyWholeProject {
		return nil, fmt.Errorf("buildorc: strategy %s requires an external project analyzer", strategy)
	}
	return []model.JobSpec{{
		Name:       "whole-project",
		Command:    "make",
		WorkingDir: projectPath,
	}}, nil
}
