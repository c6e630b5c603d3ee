package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/gdprcheck/contractcheck/config"
	"github.com/gdprcheck/contractcheck/engine"
	"github.com/gdprcheck/contractcheck/pkg/logger"
	"github.com/gdprcheck/contractcheck/service"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "contractcheck",
	Short: "GDPR contract compliance checker",
	Long: `Classifies data protection agreements, compares their clauses with the
official template for their type and reports missing clauses, risks and a
risk score.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the wired collaborators every command builds on
type app struct {
	cfg       *config.Config
	engine    *engine.Engine
	templates *engine.TemplateStore
	refresher *service.TemplateRefresher
	mineru    *service.MineruExtractor // nil unless the mineru extractor is selected
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	slog.Info("configuration loaded", "path", configPath, "extractor", cfg.Engine.Extractor, "llm_provider", cfg.LLM.Provider)
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	gen, err := service.NewGenerator(ctx, &cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize model provider: %w", err)
	}

	templates := engine.NewTemplateStore()
	n, err := templates.LoadDir(cfg.Templates.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	slog.Info("templates loaded", "dir", cfg.Templates.Dir, "count", n)

	var storage service.ObjectStorage
	if cfg.Minio.Enabled {
		minioSvc, err := service.NewMinioService(&cfg.Minio)
		if err != nil {
			return nil, err
		}
		if err := minioSvc.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure MINIO bucket: %w", err)
		}
		storage = minioSvc

		if cfg.Templates.PersistToMinio {
			restored, err := service.RestoreTemplates(ctx, minioSvc, templates)
			if err != nil {
				return nil, fmt.Errorf("failed to restore template snapshots: %w", err)
			}
			if len(restored) > 0 {
				slog.Info("templates restored from object storage", "types", restored)
				if err := templates.SaveDir(cfg.Templates.Dir); err != nil {
					slog.Warn("failed to write restored templates", "dir", cfg.Templates.Dir, "error", err)
				}
			}
		}
	}

	alerters := service.NewAlerters(&cfg.Notify)
	notifiers := make([]engine.Notifier, len(alerters))
	messengers := make([]service.Messenger, len(alerters))
	for i, a := range alerters {
		notifiers[i] = a
		messengers[i] = a
	}
	slog.Info("alert channels configured", "count", len(alerters))

	a := &app{cfg: cfg, templates: templates}
	opts := []engine.Option{engine.WithNotifiers(notifiers...)}

	switch cfg.Engine.Extractor {
	case "local":
	case "mineru":
		if storage == nil {
			return nil, errors.New("the mineru extractor needs minio enabled to stage documents")
		}
		a.mineru = service.NewMineruExtractor(service.NewMineruService(&cfg.Mineru), storage, &cfg.Mineru)
		opts = append(opts, engine.WithExtractor(a.mineru))
	default:
		return nil, fmt.Errorf("unknown extractor %q", cfg.Engine.Extractor)
	}

	a.engine = engine.New(&cfg.Engine, gen, templates, opts...)

	var snapshots service.ObjectStorage
	if cfg.Templates.PersistToMinio {
		snapshots = storage
	}
	a.refresher = service.NewTemplateRefresher(a.engine, templates, &cfg.Templates, snapshots, messengers)
	return a, nil
}
