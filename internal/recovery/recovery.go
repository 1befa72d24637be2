// Package recovery implements the Recovery Engine: the
// retry loop that threads the build executor, error pattern matcher, fix
// planner, validator/risk assessor, rollback manager, and fix history into
// one automated repair cycle.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"

	"go.buildorc.dev/internal/buildexec"
	"go.buildorc.dev/internal/errpattern"
	"go.buildorc.dev/internal/fixhistory"
	"go.buildorc.dev/internal/fixplan"
	"go.buildorc.dev/internal/log"
	"go.buildorc.dev/internal/metrics"
	"go.buildorc.dev/internal/model"
	"go.buildorc.dev/internal/rollback"
	"go.buildorc.dev/internal/toolregistry"
	"go.buildorc.dev/internal/validator"
)

// Strategy controls how aggressively the engine retries and auto-applies
// fixes, mirroring RecoveryStrategy.
type Strategy struct {
	MaxRetries        int
	RetryDelay        time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
	AutoApplyFixes    bool
	UseAIAnalysis     bool
	MaxAutoRisk       validator.RiskLevel
}

// DefaultStrategy caps retries low and auto-applies fixes. MaxAutoRisk is
// Low, but it only gates actions when AutoApplyFixes is false.
func DefaultStrategy() Strategy {
	return Strategy{
		MaxRetries:        5,
		RetryDelay:        2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          60 * time.Second,
		AutoApplyFixes:    true,
		UseAIAnalysis:     false,
		MaxAutoRisk:       validator.RiskLow,
	}
}

// Oracle is an optional LLM-backed fallback diagnoser, consulted only when
// UseAIAnalysis is set and the local matcher's confidence is too low.
type Oracle interface {
	Diagnose(ctx context.Context, result *model.BuildResult, project *model.ProjectContext) (model.ErrorDiagnosis, error)
}

// Stats accumulates counters across the lifetime of an Engine.
type Stats struct {
	TotalAttempts        int
	SuccessfulRecoveries int
}

// Engine owns one recovery session over a single project.
type Engine struct {
	matcher  *errpattern.Matcher
	registry *toolregistry.Registry
	rollback *rollback.Manager
	history  *fixhistory.Store
	oracle   Oracle
	metrics  *metrics.Registry
	log      log.Logger
	stats    Stats

	activeStrategy Strategy
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithMetrics publishes attempt/success counts to m as they happen.
func WithMetrics(m *metrics.Registry) Option {
	return func(e *Engine) { e.metrics = m }
}

// New builds a recovery Engine. history and oracle may be nil.
func New(registry *toolregistry.Registry, rb *rollback.Manager, history *fixhistory.Store, oracle Oracle, logger log.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	e := &Engine{
		matcher:  errpattern.New(),
		registry: registry,
		rollback: rb,
		history:  history,
		oracle:   oracle,
		log:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// lowConfidenceThreshold is the bar below which the local matcher's
// diagnosis is considered uncertain enough to consult the LLM oracle when
// UseAIAnalysis is enabled.
const lowConfidenceThreshold = 0.5

// Run executes the recover-then-retry loop against project until the build
// succeeds or strategy.MaxRetries is exhausted.
func (e *Engine) Run(ctx context.Context, project *model.ProjectContext, opts model.BuildOptions, strategy Strategy) (*model.BuildResult, error) {
	e.activeStrategy = strategy

	var lastResult *model.BuildResult
	var errs *multierror.Error

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = strategy.RetryDelay
	bo.Multiplier = strategy.BackoffMultiplier
	bo.MaxInterval = strategy.MaxDelay
	bo.MaxElapsedTime = 0 // bounded by MaxRetries, not wall-clock
	bo.Reset()            // start from InitialInterval, not the constructor's default

	for attempt := 0; attempt <= strategy.MaxRetries; attempt++ {
		e.stats.TotalAttempts++
		if e.metrics != nil {
			e.metrics.RecoveryAttempts.Inc()
		}

		result, err := buildexec.Execute(project, opts)
		if err != nil {
			return nil, fmt.Errorf("recovery: running build: %w", err)
		}
		lastResult = result

		if result.Success {
			e.stats.SuccessfulRecoveries++
			if e.metrics != nil {
				e.metrics.RecoverySuccesses.Inc()
			}
			return result, nil
		}

		if attempt == strategy.MaxRetries {
			break
		}

		diagnosis := e.diagnose(ctx, result, project, strategy)
		plan := e.buildPlan(diagnosis, project)

		if err := e.runPlan(plan, diagnosis, project); err != nil {
			errs = multierror.Append(errs, err)
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			return lastResult, ctx.Err()
		case <-time.After(delay):
		}
	}

	if errs != nil {
		return lastResult, fmt.Errorf("recovery: exhausted %d retries: %w", strategy.MaxRetries, errs)
	}
	return lastResult, fmt.Errorf("recovery: exhausted %d retries without a successful build", strategy.MaxRetries)
}

func (e *Engine) diagnose(ctx context.Context, result *model.BuildResult, project *model.ProjectContext, strategy Strategy) model.ErrorDiagnosis {
	diagnosis := e.matcher.Diagnose(result, project)
	if strategy.UseAIAnalysis && e.oracle != nil && diagnosis.Confidence < lowConfidenceThreshold {
		if aiDiagnosis, err := e.oracle.Diagnose(ctx, result, project); err == nil {
			return aiDiagnosis
		}
		e.log.Warnw("llm oracle diagnosis failed, falling back to local match", "pattern", diagnosis.Pattern.String())
	}
	return diagnosis
}

func (e *Engine) buildPlan(diagnosis model.ErrorDiagnosis, project *model.ProjectContext) []model.FixAction {
	plan := fixplan.Plan(diagnosis.Pattern, diagnosis.ExtractedTarget, project)

	if e.history != nil {
		if suggestion, ok := e.history.Suggest(diagnosis); ok && suggestion.Source != model.SourceLLM {
			plan = append([]model.FixAction{suggestion}, plan...)
		}
	}
	return plan
}

// runPlan walks plan in order, applying the first action that succeeds.
func (e *Engine) runPlan(plan []model.FixAction, diagnosis model.ErrorDiagnosis, project *model.ProjectContext) error {
	signature := fixhistory.Signature(diagnosis.Pattern, diagnosis.Description)

	for _, action := range plan {
		validation := validator.Validate(action, project, e.registry)
		if !validation.CanProceed {
			e.recordOutcome(signature, action, false, 0)
			continue
		}

		assessment := validator.Assess(action)
		if !e.activeStrategy.AutoApplyFixes && assessment.Level > e.activeStrategy.MaxAutoRisk {
			return fmt.Errorf("recovery: risk %s exceeds auto-apply threshold for action %s", assessment.Level, action.Kind)
		}

		var entry *model.RollbackEntry
		if assessment.RequiresBackup && e.rollback != nil {
			backed, err := e.rollback.BackupFile(action.Target, rollbackKindFor(action))
			if err != nil {
				e.log.Warnw("failed to snapshot before applying fix", "target", action.Target, "error", err)
			} else {
				entry = backed
			}
		}

		start := time.Now()
		applyResult, err := toolregistry.Apply(action, e.registry)
		elapsedMs := float64(time.Since(start).Milliseconds())

		if err == nil && applyResult.Success {
			e.recordOutcome(signature, action, true, elapsedMs)
			return nil
		}

		if entry != nil && e.rollback != nil {
			if idx := e.indexOf(entry); idx >= 0 {
				if rbErr := e.rollback.Rollback(idx); rbErr != nil {
					e.log.Warnw("rollback of failed fix step itself failed", "target", action.Target, "error", rbErr)
				}
			}
		}
		e.recordOutcome(signature, action, false, elapsedMs)
	}
	return fmt.Errorf("recovery: no plan action succeeded")
}

func (e *Engine) indexOf(target *model.RollbackEntry) int {
	for i, entry := range e.rollback.Entries() {
		if entry == target {
			return i
		}
	}
	return -1
}

func (e *Engine) recordOutcome(signature string, action model.FixAction, success bool, durationMs float64) {
	if e.history == nil {
		return
	}
	e.history.Record(signature, action.Kind, success, durationMs, "", "", action.Target, action.Target)
}

func rollbackKindFor(action model.FixAction) model.RollbackKind {
	if action.Kind == model.KindDeleteFile {
		return model.RollbackFileDelete
	}
	return model.RollbackFileModify
}

// StatsSnapshot returns the engine's accumulated counters.
func (e *Engine) StatsSnapshot() Stats {
	return e.stats
}
