package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/globalchat/backend/internal/api"
	"github.com/globalchat/backend/internal/auth"
	"github.com/globalchat/backend/internal/cache"
	"github.com/globalchat/backend/internal/chat"
	"github.com/globalchat/backend/internal/config"
	"github.com/globalchat/backend/internal/db"
	apperrors "github.com/globalchat/backend/internal/errors"
	"github.com/globalchat/backend/internal/health"
	"github.com/globalchat/backend/internal/logger"
	"github.com/globalchat/backend/internal/metrics"
	"github.com/globalchat/backend/internal/storage"
	"github.com/globalchat/backend/internal/websocket"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		logger.Error(context.Background(), "server exited", err)
		logger.Default().Sync()
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(os.Stdout, logger.ParseLevel(cfg.LogLevel), "")
	logger.SetDefault(log)
	defer log.Sync()
	apperrors.SetObserver(logger.ErrorObserver(log.WithComponent("http")))

	serverLog := log.WithComponent("server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.JWTSecret == "" {
		serverLog.Warn(ctx, "JWT_SECRET is not set; protected routes will answer 500")
	}

	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	var storageCheck func(context.Context) error
	if admin, err := storage.New(cfg); err != nil {
		serverLog.Error(ctx, "object storage unavailable; uploads will fail", err)
	} else {
		if err := admin.EnsureBucket(ctx); err != nil {
			serverLog.Error(ctx, "failed to ensure bucket; uploads may fail", err, map[string]interface{}{"bucket": admin.Bucket()})
		}
		storageCheck = admin.Ping
	}

	m := metrics.Default()
	hub := websocket.NewHub(m)
	go hub.Run()

	var (
		publisher websocket.Publisher
		relay     *websocket.RedisRelay
	)
	if redisClient != nil {
		relay = websocket.NewRedisRelay(redisClient, hub)
		if err := relay.Start(ctx); err != nil {
			return err
		}
		publisher = relay
	} else {
		publisher = websocket.NewLocalPublisher(hub)
	}

	userRepo := db.NewUserRepository(database)
	messageRepo := db.NewMessageRepository(database)
	pictures := storage.NewS3Storage(cfg)

	var (
		profileCache auth.ProfileCache
		senderCache  chat.SenderCache
	)
	if redisClient != nil {
		c := cache.New(redisClient)
		profileCache = c
		senderCache = c
	}

	authService := auth.NewService(userRepo, pictures, profileCache, auth.ServiceConfig{
		Secret:     cfg.JWTSecret,
		TokenTTL:   cfg.TokenTTL,
		BcryptCost: cfg.BcryptCost,
	})
	chatService := chat.NewService(messageRepo, userRepo, senderCache, publisher)

	router := api.NewRouter(api.Deps{
		AuthService:  authService,
		AuthHandlers: auth.NewHandlers(authService, cfg.MaxUploadBytes, m),
		ChatHandlers: chat.NewHandlers(chatService, m),
		WSHandler:    websocket.NewHandler(hub, publisher, authService, cfg.AllowedOrigins),
		HealthHandler: health.NewHandler(health.NewChecker(&health.CheckerConfig{
			DB:           database.DB.DB,
			Redis:        redisClient,
			StorageCheck: storageCheck,
			Version:      version,
		})),
		Metrics:        m,
		Logger:         log.WithComponent("http"),
		AllowedOrigins: cfg.AllowedOrigins,
	})

	server := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serverLog.Info(ctx, "starting server", map[string]interface{}{"addr": cfg.ServerAddr, "version": version})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		serverLog.Info(context.Background(), "shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		serverLog.Error(shutdownCtx, "http shutdown incomplete", err)
	}
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		serverLog.Error(shutdownCtx, "websocket shutdown incomplete", err)
	}
	if relay != nil {
		stop()
		relay.Wait()
	}

	serverLog.Info(context.Background(), "server stopped")
	return nil
}
