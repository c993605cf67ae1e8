package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/winloss-engine/api"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background rebate/reconcile loops",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schedulers := api.NewSchedulers(a.handler, api.SchedulerConfig{
		RebateEnabled:     a.cfg.Rebate.Enabled,
		WakeOffset:        a.cfg.Rebate.WakeOffset,
		ReconcileEnabled:  a.cfg.Reconcile.Enabled,
		ReconcileInterval: a.cfg.Reconcile.Interval,
	})
	schedulers.Start(ctx)
	defer schedulers.Stop()

	server := &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      api.NewRouter(a.handler, api.RouterOptions{AllowedOrigins: a.cfg.HTTP.AllowedOrigins}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // /api/stream holds the connection open
		IdleTimeout:  60 * time.Second,
	}
	server.RegisterOnShutdown(a.handler.Broker.Close)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", zap.String("addr", server.Addr), zap.Strings("schedulers", schedulers.Names()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.logger.Info("server stopped")
	return nil
}
