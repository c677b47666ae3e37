package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market-sentry/internal/entity"
	"market-sentry/internal/sentry/config"
	delivery "market-sentry/internal/sentry/delivery/http"
	"market-sentry/internal/sentry/delivery/stream"
	"market-sentry/internal/sentry/metrics"
	"market-sentry/internal/sentry/normalizer"
	"market-sentry/internal/sentry/notify"
	"market-sentry/internal/sentry/repository"
	"market-sentry/internal/sentry/service"
	"market-sentry/internal/sentry/store"
	"market-sentry/pkg/clock"
	"market-sentry/pkg/logger"
	redisPkg "market-sentry/pkg/redis"
	"market-sentry/pkg/telegram"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sentry-service",
	Short: "Market Sentry keeps a live, deduplicated mirror of the market-analysis backend",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the sentry service",
	Run:   runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the configuration file")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Whoops. There was an error while executing your CLI '%s'", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) {
	// Create a context that is canceled on interrupt signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	appLogger, err := logger.New(cfg.Logger.Level, cfg.Logger.Encoding)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	appLogger.Info("Starting Sentry Service", logger.Field("name", cfg.App.Name))

	// Initialize Redis (optional alert fan-out stream)
	var redisClient *redisPkg.Client
	if cfg.Redis.Host != "" {
		redisCfg := redisPkg.Config{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}
		redisClient, err = redisPkg.NewClient(redisCfg)
		if err != nil {
			appLogger.Fatal("Failed to initialize Redis", logger.ErrorField(err))
		}
		defer redisClient.Close()
	}

	// Initialize Telegram notifier (optional)
	var telegramNotifier telegram.Notifier
	if cfg.Telegram.BotToken != "" {
		telegramNotifier, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			appLogger.Fatal("Failed to initialize Telegram notifier", logger.ErrorField(err))
		}
	}

	// Initialize metrics
	registry := prometheus.NewRegistry()
	appMetrics := metrics.New(registry)

	// Initialize the sync pipeline
	clk := clock.New()
	norm := normalizer.New(appLogger, clk)
	backendRepo := repository.NewBackendRepository(cfg, appLogger, norm)
	alertStore := store.NewAlertStore(cfg.Sync.HistoryCap)

	toastDuration, _ := time.ParseDuration(cfg.Notify.ToastDuration)
	failureToastInterval, _ := time.ParseDuration(cfg.Notify.FailureToastInterval)
	toastFeed := notify.NewToastFeed(toastDuration)

	prefs := entity.UserPreference{
		SoundEnabled:           cfg.Notify.SoundEnabled,
		NotificationPermission: entity.PermissionDefault,
	}
	if p := entity.NotificationPermission(cfg.Notify.Permission); p == entity.PermissionGranted || p == entity.PermissionDenied {
		prefs.NotificationPermission = p
	}

	var userSinks, fanoutSinks []notify.Strategy
	if telegramNotifier != nil {
		userSinks = append(userSinks, notify.NewTelegramStrategy(telegramNotifier))
	}
	if redisClient != nil {
		fanoutSinks = append(fanoutSinks, notify.NewStreamStrategy(redisClient, cfg.Redis.StreamMaxLen))
	}
	dispatcher := notify.NewDispatcher(appLogger, toastFeed, prefs, failureToastInterval, appMetrics, userSinks, fanoutSinks)

	coordinatorSvc := service.NewCoordinatorService(cfg, appLogger, backendRepo, norm, alertStore, dispatcher, appMetrics, clk)
	streamConsumer := stream.NewConsumer(cfg, appLogger, coordinatorSvc.HandleStreamMessage, coordinatorSvc.HandleConnectionState)
	coordinatorSvc.AttachChannel(streamConsumer)
	coordinatorSvc.Start(ctx)
	defer coordinatorSvc.Stop()

	// Start the daily digest scheduler
	digestSvc := service.NewDigestService(cfg, appLogger, alertStore, telegramNotifier, clk)
	if err := digestSvc.Start(); err != nil {
		appLogger.Fatal("Failed to start digest service", logger.ErrorField(err))
	}
	defer digestSvc.Stop()

	// Initialize Echo server
	e := echo.New()
	e.HideBanner = true

	sentryHandler := delivery.NewSentryHandler(coordinatorSvc, dispatcher, toastFeed, appLogger)
	apiV1 := e.Group("/api/v1")
	sentryHandler.RegisterRoutes(apiV1)

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Shutting down the server", logger.ErrorField(err))
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	<-ctx.Done()

	appLogger.Info("Shutting down Sentry Service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Failed to gracefully shut down server", logger.ErrorField(err))
	}
}
