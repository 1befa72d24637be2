package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"go.buildorc.dev/internal/log"
	"go.buildorc.dev/internal/workerclient"
)

type workerEnv struct {
	coordinatorAddr string
	token           string
	name            string
}

func getWorkerCmd() *cobra.Command {
	env := &workerEnv{}
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a build worker",
	}
	run := &cobra.Command{
		Use:   "run",
		Short: "Connect to a coordinator and execute dispatched jobs",
		RunE:  env.run,
	}
	run.Flags().StringVar(&env.coordinatorAddr, "coordinator", "", "Coordinator address, host:port")
	run.Flags().StringVar(&env.token, "token", "", "Worker auth token")
	run.Flags().StringVar(&env.name, "name", "", "Worker name (defaults to hostname)")
	_ = run.MarkFlagRequired("coordinator")
	_ = run.MarkFlagRequired("token")
	cmd.AddCommand(run)
	return cmd
}

func (e *workerEnv) run(cmd *cobra.Command, args []string) error {
	logger := log.New()
	defer logger.Sync()

	name := e.name
	if name == "" {
		if h, err := os.Hostname(); err == nil {
			name = h
		} else {
			name = "worker"
		}
	}

	client, err := workerclient.Dial(e.coordinatorAddr, name, e.token, logger)
	if err != nil {
		return fmt.Errorf("buildorc: %w", err)
	}
	defer client.Close()
	logger.Infow("connected to coordinator", "worker_id", client.WorkerID(), "coordinator", e.coordinatorAddr)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Run(ctx); err != nil {
		return fmt.Errorf("buildorc: worker session ended: %w", err)
	}
	return nil
}
