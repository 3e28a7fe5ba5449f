package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Starts the HTTP API: job submission, site probes, job progress,
health checks and Prometheus metrics. SIGINT or SIGTERM shut it down
gracefully.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	logger := appInstance.Logger
	cfg := appInstance.Config.Server

	apiServer := appInstance.Server()
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	runCtx, stopJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer stopJobs()
	jobsDone := make(chan struct{})
	if appInstance.Dispatcher != nil {
		go func() {
			appInstance.Dispatcher.Run(runCtx)
			close(jobsDone)
		}()
		logger.Info("job dispatcher started", zap.Int("workers", appInstance.Config.Server.JobWorkers))
	} else {
		close(jobsDone)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	// Queued jobs drain until the shutdown deadline; whatever is still
	// running after that is canceled.
	if appInstance.Queue != nil {
		appInstance.Queue.Close()
	}
	select {
	case <-jobsDone:
	case <-shutdownCtx.Done():
		logger.Warn("queued jobs still running at shutdown, canceling")
		stopJobs()
		<-jobsDone
	}
	logger.Info("shutdown complete")
	return serveErr
}
