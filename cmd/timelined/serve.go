package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/d60-Lab/timeline-engine/internal/api"
	"github.com/d60-Lab/timeline-engine/internal/api/handler"
	"github.com/d60-Lab/timeline-engine/internal/app"
	"github.com/d60-Lab/timeline-engine/pkg/database"
	"github.com/d60-Lab/timeline-engine/pkg/logger"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return root.withApp(ctx, func(a *app.App) error { return serve(ctx, a) })
		},
	}
}

func serve(ctx context.Context, a *app.App) error {
	cfg := a.Config
	gin.SetMode(cfg.Server.Mode)

	e := a.Engine
	h := handler.NewHandler(e.Relations, e.Publisher, e.Query, cfg.Timeline.PageSize)
	router := api.NewRouter(h, api.Options{
		ServiceName:  cfg.Tracing.ServiceName,
		JWTSecret:    cfg.JWT.Secret,
		PublishRPS:   cfg.RateLimit.PublishRPS,
		PublishBurst: cfg.RateLimit.PublishBurst,
		Sentry:       cfg.Sentry.DSN != "",
		Tracing:      cfg.Tracing.Enabled,
		Health: func(ctx context.Context) error {
			return database.Ping(ctx, a.DB)
		},
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			zap.String("addr", srv.Addr), zap.String("strategy", string(e.Publisher.Strategy())))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
