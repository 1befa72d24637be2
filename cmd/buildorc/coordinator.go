package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"go.buildorc.dev/internal/auth"
	"go.buildorc.dev/internal/cache"
	"go.buildorc.dev/internal/config"
	"go.buildorc.dev/internal/coordinator"
	"go.buildorc.dev/internal/log"
	"go.buildorc.dev/internal/metrics"
	"go.buildorc.dev/internal/model"
	"go.buildorc.dev/internal/scheduler"
	"go.buildorc.dev/internal/store"
	"go.buildorc.dev/internal/worker"
)

type coordinatorEnv struct {
	port  int
	token string
}

func getCoordinatorCmd() *cobra.Command {
	env := &coordinatorEnv{}
	root := &cobra.Command{
		Use:   "coordinator",
		Short: "Run the distributed build coordinator",
	}
	start := &cobra.Command{
		Use:   "start",
		Short: "Start the coordinator service",
		RunE:  env.run,
	}
	start.Flags().IntVar(&env.port, "port", 0, "TCP port to listen on (0 = use BUILDORC_COORDINATOR_PORT/default)")
	start.Flags().StringVar(&env.token, "token", "", "Seed a worker auth token with this exact value")
	root.AddCommand(start)
	return root
}

func (e *coordinatorEnv) run(cmd *cobra.Command, args []string) error {
	cfg := config.FromEnv()
	if e.port > 0 {
		cfg.CoordinatorPort = e.port
	}

	logger := log.New()
	defer logger.Sync()

	metricsReg := metrics.New(prometheus.DefaultRegisterer)

	c, err := cache.New(cfg.CacheDir, cfg.CacheMaxBytes, logger, cache.WithMetrics(metricsReg))
	if err != nil {
		return fmt.Errorf("buildorc: opening cache: %w", err)
	}

	authStore := auth.New(logger, auth.WithRefreshAllowed(cfg.AuthAllowRefresh))
	if e.token != "" {
		authStore.Seed(e.token, model.TokenWorker, "bootstrap", 0)
		logger.Infow("seeded bootstrap worker token")
	}

	registry := worker.New(logger,
		worker.WithHeartbeatTimeout(cfg.HeartbeatTimeout()),
		worker.WithMaxMissedHeartbeats(cfg.MaxMissedHeartbeats),
	)
	sched := scheduler.New(registry, wholeProjectDecomposer{}, nil, logger)

	if cfg.DatabaseURL != "" {
		st, err := store.Open(cmd.Context(), cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("buildorc: opening durable store: %w", err)
		}
		defer st.Close()
		sched.SetPersister(st)

		sessions, err := st.LoadAllSessions(cmd.Context())
		if err != nil {
			return fmt.Errorf("buildorc: loading persisted sessions: %w", err)
		}
		for _, session := range sessions {
			jobs, err := st.LoadJobsForBuild(cmd.Context(), session.BuildID)
			if err != nil {
				return fmt.Errorf("buildorc: loading jobs for build %q: %w", session.BuildID, err)
			}
			sched.Restore(session, jobs)
		}
		logger.Infow("restored persisted build sessions", "count", len(sessions))
	}

	co := coordinator.New(coordinator.Deps{
		Cache:             c,
		Auth:              authStore,
		Registry:          registry,
		Scheduler:         sched,
		Metrics:           metricsReg,
		HeartbeatInterval: cfg.HeartbeatInterval(),
		Logger:            logger,
	})
	sched.SetDispatcher(co)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.CoordinatorPort))
	if err != nil {
		return fmt.Errorf("buildorc: listening on port %d: %w", cfg.CoordinatorPort, err)
	}
	logger.Infow("coordinator listening", "port", cfg.CoordinatorPort, "admin_port", cfg.AdminPort)

	go co.RunMaintenance(ctx)

	adminSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.AdminPort), Handler: co.AdminRouter()}
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorw("admin server exited", "error", err)
		}
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- co.ServeTCP(ctx, ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = adminSrv.Shutdown(shutdownCtx)
		return nil
	case err := <-serveErr:
		return err
	}
}
