package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"go.buildorc.dev/internal/fixhistory"
	"go.buildorc.dev/internal/log"
	"go.buildorc.dev/internal/model"
	"go.buildorc.dev/internal/recovery"
	"go.buildorc.dev/internal/rollback"
	"go.buildorc.dev/internal/toolregistry"
)

type buildEnv struct {
	buildType      string
	parallelism    int
	maxRetries     int
	autoApplyFixes bool
	useAI          bool
}

func getBuildCmd() *cobra.Command {
	env := &buildEnv{}
	cmd := &cobra.Command{
		Use:   "build <path>",
		Short: "Run the local build-and-recover loop against a project",
		Args:  cobra.ExactArgs(1),
		RunE:  env.run,
	}
	cmd.Flags().StringVar(&env.buildType, "type", "debug", "Build type passed to the native build tool")
	cmd.Flags().IntVar(&env.parallelism, "parallel", 0, "Parallel build jobs (0 = one job)")
	cmd.Flags().IntVar(&env.maxRetries, "max-retries", 0, "Override the default recovery retry cap (0 = use default)")
	cmd.Flags().BoolVar(&env.autoApplyFixes, "auto-apply", true, "Auto-apply fixes of any risk; when false, a fix above max-auto-risk stops the plan")
	cmd.Flags().BoolVar(&env.useAI, "use-ai", false, "Consult the AI oracle when local diagnosis confidence is low")
	return cmd
}

func (e *buildEnv) run(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("buildorc: resolving %q: %w", args[0], err)
	}

	project, err := detectProject(root)
	if err != nil {
		return err
	}

	home, _ := os.UserHomeDir()
	historyPath := filepath.Join(home, ".buildorc", "fix-history.json")
	backupDir := filepath.Join(home, ".buildorc", "backups")

	logger := log.NewDevelopment()
	defer logger.Sync()

	history, err := fixhistory.Load(historyPath, logger)
	if err != nil {
		return fmt.Errorf("buildorc: loading fix history: %w", err)
	}
	rb, err := rollback.New(backupDir, logger)
	if err != nil {
		return fmt.Errorf("buildorc: initializing rollback manager: %w", err)
	}
	toolReg := toolregistry.DiscoverAll(logger)

	engine := recovery.New(toolReg, rb, history, nil, logger)

	strategy := recovery.DefaultStrategy()
	if e.maxRetries > 0 {
		strategy.MaxRetries = e.maxRetries
	}
	strategy.AutoApplyFixes = e.autoApplyFixes
	strategy.UseAIAnalysis = e.useAI

	opts := model.BuildOptions{
		Parallelism: e.parallelism,
		BuildType:   e.buildType,
		WorkingDir:  root,
	}

	result, runErr := engine.Run(cmd.Context(), project, opts, strategy)
	if err := history.Save(); err != nil {
		logger.Warnw("saving fix history", "error", err)
	}

	if result != nil {
		fmt.Fprintf(os.Stdout, "%s\n", result.Stdout)
		fmt.Fprintf(os.Stderr, "%s\n", result.Stderr)
	}
	stats := engine.StatsSnapshot()
	fmt.Fprintf(os.Stderr, "%d attempts, %d recoveries\n", stats.TotalAttempts, stats.SuccessfulRecoveries)

	if runErr != nil || result == nil || !result.Success {
		return fmt.Errorf("build did not succeed")
	}
	return nil
}
