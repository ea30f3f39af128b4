package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/amoylab/botgate/internal/artifact"
	"github.com/amoylab/botgate/internal/common/config"
	"github.com/amoylab/botgate/internal/dispatch"
	"github.com/amoylab/botgate/internal/i18n"
	"github.com/amoylab/botgate/internal/provider/factory"
	"github.com/amoylab/botgate/internal/scan"
	"github.com/amoylab/botgate/internal/server"
	"github.com/amoylab/botgate/internal/session"
	"github.com/amoylab/botgate/pkg/helper"
	pkglogger "github.com/amoylab/botgate/pkg/logger"
	"github.com/amoylab/botgate/pkg/metrics"
	"github.com/amoylab/botgate/pkg/trace"
	"github.com/amoylab/botgate/pkg/version"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of botgate",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("botgate version %s\n", version.Get())
		},
	}

	testCmd = &cobra.Command{
		Use:   "test",
		Short: "Validate the configuration file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfgPath, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("configuration %s is invalid: %w", cfgPath, err)
			}
			fmt.Printf("configuration file %s test is successful\n", cfgPath)
			return nil
		},
	}

	rootCmd = &cobra.Command{
		Use:   "botgate",
		Short: "Multi-tenant messaging session gateway",
		Long:  `botgate keeps one messaging-provider session per user and exposes HTTP endpoints to link, close and send through them`,
		Run: func(cmd *cobra.Command, args []string) {
			run()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "conf", "c", "gateway.yaml", "path to configuration file")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(testCmd)
}

func run() {
	cfg, cfgPath, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load service configuration: %v", err)
	}

	logger, err := pkglogger.NewLogger(&cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting botgate",
		zap.String("version", version.Get()),
		zap.String("config", cfgPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pidFile := helper.GetPIDPath(cfg.PID)
	if err := helper.WritePID(pidFile); err != nil {
		logger.Fatal("Failed to write PID file", zap.String("path", pidFile), zap.Error(err))
	}
	defer func() {
		if err := helper.RemovePID(pidFile); err != nil {
			logger.Warn("Failed to remove PID file", zap.Error(err))
		}
	}()

	if err := serve(ctx, logger, cfg); err != nil {
		logger.Error("botgate stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

// serve wires every component, serves until ctx is done and then shuts
// everything down in reverse order
func serve(ctx context.Context, logger *zap.Logger, cfg *config.GatewayConfig) error {
	gin.SetMode(cfg.Server.Mode)

	shutdownTracing, err := trace.InitTracing(ctx, &cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	translator, err := i18n.New(cfg.I18n.DefaultLang)
	if err != nil {
		return err
	}

	renderer, err := artifact.New(logger, cfg.Artifact)
	if err != nil {
		return err
	}

	scans, err := scan.New(logger, &cfg.ScanStore)
	if err != nil {
		return fmt.Errorf("failed to initialize scan store: %w", err)
	}

	providers, err := factory.New(ctx, logger, cfg.Provider)
	if err != nil {
		_ = scans.Close()
		return fmt.Errorf("failed to initialize provider: %w", err)
	}

	var m *metrics.Metrics
	sessionOpts := []session.Option{session.WithRenderer(renderer)}
	var dispatchOpts []dispatch.Option
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics)
		sessionOpts = append(sessionOpts, session.WithObserver(m))
		dispatchOpts = append(dispatchOpts, dispatch.WithObserver(m))
	}

	registry := session.NewMemoryRegistry()
	manager := session.NewManager(logger, providers, registry, session.Config{
		RetryDelay: cfg.Session.RetryDelay,
		QueueSize:  cfg.Session.QueueSize,
	}, sessionOpts...)
	dispatcher := dispatch.New(logger, registry, dispatch.Config{
		MaxConcurrency: cfg.Dispatch.MaxConcurrency,
		SendTimeout:    cfg.Dispatch.SendTimeout,
	}, dispatchOpts...)

	srv := server.NewServer(logger, cfg, server.Deps{
		Sessions:   manager,
		Sender:     dispatcher,
		Artifacts:  renderer,
		Scans:      scans,
		Translator: translator,
		Metrics:    m,
	})
	srv.Start()

	<-ctx.Done()
	logger.Info("Received shutdown signal, starting graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("session manager: %w", err))
	}
	if err := providers.Close(); err != nil {
		errs = append(errs, fmt.Errorf("provider: %w", err))
	}
	if err := scans.Close(); err != nil {
		errs = append(errs, fmt.Errorf("scan store: %w", err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}

	logger.Info("Server gracefully stopped")
	return errors.Join(errs...)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
