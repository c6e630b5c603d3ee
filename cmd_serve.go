package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/gdprcheck/contractcheck/config"
	"github.com/gdprcheck/contractcheck/handler"
	"github.com/gdprcheck/contractcheck/middleware"
	"github.com/gdprcheck/contractcheck/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	// background work is cancelled on shutdown, after the listener closes
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	analyses := handler.NewAnalysisHandler(workCtx, a.engine, service.NewAnalysisStore(cfg.Store.MaxAnalyses),
		int64(cfg.Server.MaxUploadMB)<<20, cfg.Server.MaxConcurrent)
	templates := handler.NewTemplateHandler(workCtx, a.templates, a.refresher)

	if cfg.Templates.RefreshEnabled {
		go func() {
			if err := a.refresher.RunDaily(workCtx, cfg.Templates.RefreshAt); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("template scheduler stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      newRouter(cfg, a, analyses, templates),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	cancelWork()
	analyses.Wait()
	slog.Info("server exited gracefully")
	return nil
}

func newRouter(cfg *config.Config, a *app, analyses *handler.AnalysisHandler, templates *handler.TemplateHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger("/health"))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.RateLimit(middleware.NewClientLimiter(cfg.Server.RatePerMinute)))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"templates": len(a.templates.List()),
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	authHandler := handler.NewAuthHandler(cfg)

	api := router.Group("/api")
	api.POST("/auth/login", authHandler.Login)
	if a.mineru != nil {
		api.POST("/mineru/callback", handler.NewCallbackHandler(a.mineru, cfg.Mineru.Seed, cfg.Mineru.UID).HandleCallback)
	}

	protected := api.Group("/")
	protected.Use(middleware.Auth(&cfg.Auth))
	{
		protected.GET("/auth/me", authHandler.GetCurrentUser)

		protected.POST("/analyses", analyses.Upload)
		protected.GET("/analyses", analyses.List)
		protected.GET("/analyses/:id", analyses.Get)
		protected.GET("/analyses/:id/status", analyses.GetStatus)
		protected.DELETE("/analyses/:id", analyses.Delete)

		protected.GET("/templates", templates.List)
		protected.GET("/templates/:type", templates.Get)
		protected.POST("/templates/refresh", templates.Refresh)
	}
	return router
}
