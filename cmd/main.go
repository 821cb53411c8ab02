package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"

	"github.com/fightstack/bracket-sync/bracketapi"
	"github.com/fightstack/bracket-sync/chat"
	"github.com/fightstack/bracket-sync/config"
	"github.com/fightstack/bracket-sync/db"
	"github.com/fightstack/bracket-sync/handlers"
	"github.com/fightstack/bracket-sync/live"
	"github.com/fightstack/bracket-sync/repositories"
	api "github.com/fightstack/bracket-sync/routes"
	"github.com/fightstack/bracket-sync/services"
)

func main() {
	// Настройка логгера
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort))

	// Подключение к базе данных
	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		} else {
			logger.Info("database connection closed")
		}
	}()
	logger.Info("database connection established")

	// Инициализация репозиториев
	tournamentRepo := repositories.NewPostgresTournamentRepository(dbConn)
	eventRepo := repositories.NewPostgresEventRepository(dbConn)
	matchRepo := repositories.NewPostgresMatchRepository(dbConn)
	matchPlayerRepo := repositories.NewPostgresMatchPlayerRepository(dbConn)
	txRunner := repositories.NewTxRunner(dbConn)
	logger.Info("repositories initialized")

	// Клиент внешнего сервиса сеток
	bracketClient := bracketapi.NewClient(bracketapi.Config{
		BaseURL:           cfg.BracketAPIURL,
		Token:             cfg.BracketAPIToken,
		MaxRetries:        cfg.BracketMaxRetries,
		RetryBase:         cfg.BracketRetryBase,
		RetryMax:          cfg.BracketRetryMax,
		RequestsPerMinute: cfg.BracketRatePerMin,
		CacheEntries:      cfg.BracketCacheEntries,
		CacheTTL:          cfg.BracketCacheTTL,
		Logger:            logger,
	})

	// Чат-платформа
	actionRouter := chat.NewRouter()
	discordClient, err := chat.NewDiscordClient(cfg.DiscordToken, actionRouter, logger)
	if err != nil {
		logger.Error("failed to create discord client", slog.Any("error", err))
		os.Exit(1)
	}

	// WebSocket hub для live-обновлений
	hub := live.NewHub(logger)

	// Сервисы
	lifecycleService := services.NewMatchLifecycleService(
		txRunner,
		matchRepo,
		matchPlayerRepo,
		discordClient,
		bracketClient,
		hub,
		logger,
		cfg.DiscordChannelID,
		cfg.CheckInWindow,
	)
	syncService := services.NewSyncService(
		txRunner,
		tournamentRepo,
		eventRepo,
		matchRepo,
		matchPlayerRepo,
		bracketClient,
		lifecycleService,
		logger,
	)
	matchQueryService := services.NewMatchQueryService(tournamentRepo, matchRepo)

	scheduler, err := services.NewPollScheduler(syncService, tournamentRepo, logger)
	if err != nil {
		logger.Error("failed to create poll scheduler", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("services initialized")

	// Привязка кнопок к операциям жизненного цикла
	interactionHandler := handlers.NewInteractionHandler(lifecycleService, logger)
	interactionHandler.RegisterRoutes(actionRouter)

	if err := discordClient.Open(); err != nil {
		logger.Error("failed to open discord gateway", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := discordClient.Close(); err != nil {
			logger.Error("failed to close discord gateway", slog.Any("error", err))
		}
	}()
	logger.Info("discord gateway connected")

	if err := scheduler.Start(context.Background()); err != nil {
		logger.Error("failed to start poll scheduler", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			logger.Error("failed to shut down poll scheduler", slog.Any("error", err))
		}
	}()

	// Обработчики HTTP
	healthHandler := handlers.NewHealthHandler(dbConn)
	pollHandler := handlers.NewPollHandler(scheduler)
	matchHandler := handlers.NewMatchHandler(matchQueryService)
	webSocketHandler := handlers.NewWebSocketHandler(hub, logger)
	logger.Info("HTTP handlers initialized")

	// Настройка маршрутизатора
	router := chi.NewRouter()
	api.SetupRoutes(router, healthHandler, pollHandler, matchHandler, webSocketHandler)
	logger.Info("routes configured")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("server stopped gracefully")
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			os.Exit(1)
		}
		logger.Info("server shutdown complete")
	}
	logger.Info("application exited")
}
