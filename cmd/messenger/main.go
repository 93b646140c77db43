package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-messenger/internal/cache"
	"github.com/weiawesome/wes-io-messenger/internal/config"
	"github.com/weiawesome/wes-io-messenger/internal/delivery"
	"github.com/weiawesome/wes-io-messenger/internal/handler"
	"github.com/weiawesome/wes-io-messenger/internal/hub"
	"github.com/weiawesome/wes-io-messenger/internal/idgen"
	"github.com/weiawesome/wes-io-messenger/internal/presence"
	"github.com/weiawesome/wes-io-messenger/internal/repository"
	"github.com/weiawesome/wes-io-messenger/internal/service"
	"github.com/weiawesome/wes-io-messenger/internal/suggestion"
	"github.com/weiawesome/wes-io-messenger/pkg/database"
	pkglog "github.com/weiawesome/wes-io-messenger/pkg/log"
	"github.com/weiawesome/wes-io-messenger/pkg/pubsub"
	"github.com/weiawesome/wes-io-messenger/pkg/storage"
)

func main() {
	configPath := "config"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	pkglog.Init(cfg.Log)
	logger := pkglog.L()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Conversation and message store
	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to open store")
	}
	defer store.Close(context.Background())
	logger.Info().Str("driver", cfg.Storage.Driver).Msg("store ready")

	// History page cache
	var pageCache cache.PageCache = cache.NopCache{}
	if cfg.Cache.Enabled {
		redisCache, err := cache.NewRedisPageCache(cfg.Redis, cfg.Cache.Prefix)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis cache")
		}
		pageCache = redisCache
		logger.Info().Str("address", cfg.Redis.Address).Msg("redis cache connected")
	}
	defer pageCache.Close()

	// Domain event publisher
	publisher, err := pubsub.New(cfg.PubSub)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.PubSub.Driver).Msg("failed to create event publisher")
	}
	defer publisher.Close()

	// Attachment storage
	attachmentStore, err := storage.New(ctx, cfg.Attachments.Storage)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Attachments.Storage.Driver).Msg("failed to create attachment storage")
	}

	ids, err := idgen.NewSnowflake(cfg.ID.MachineID, cfg.ID.Epoch)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create id generator")
	}

	// Services
	attachments := service.NewAttachmentService(store.Conversations, attachmentStore, cfg.Attachments.MaxSize, cfg.Attachments.URLExpiry)
	conversations := service.NewConversationService(store,
		service.WithUnreadConcurrency(cfg.Delivery.UnreadConcurrency),
		service.WithAttachments(attachments),
		service.WithConversationPublisher(publisher),
		service.WithConversationCache(pageCache),
	)
	messages := service.NewMessageService(store, ids, pageCache, cfg.Cache.TTL, publisher)

	// Presence and delivery
	registry := presence.NewRegistry()
	defer registry.Clear()
	engine := delivery.NewEngine(registry, conversations, messages,
		suggestion.New(cfg.Suggestion.BaseURL, cfg.Suggestion.Timeout),
		delivery.WithSenderLockStripes(cfg.Delivery.SenderLockStripes),
		delivery.WithSuggestionTimeout(cfg.Suggestion.Timeout),
	)

	wsHub := hub.NewHub(cfg.WebSocket)
	go wsHub.Run(ctx)

	// Setup Gin router
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))

	handler.NewHTTPHandler(engine, conversations, messages, attachments, cfg.Attachments.MaxSize).RegisterRoutes(r)
	handler.NewWSHandler(wsHub, engine).RegisterRoutes(r)

	if local, ok := attachmentStore.(*storage.LocalStorage); ok {
		r.Static(cfg.Attachments.Storage.Local.URLPrefix, local.BasePath())
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("messenger starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down messenger")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	// Stopping the hub closes every websocket.
	cancel()

	users, sessions := registry.Stats()
	logger.Info().Int("users", users).Int("sessions", sessions).Msg("messenger stopped")
}

// openStore selects the repository backend named by storage.driver.
func openStore(ctx context.Context, cfg *config.Config) (*repository.Store, error) {
	switch cfg.Storage.Driver {
	case "gorm":
		db, err := database.New(&cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := repository.MigrateGorm(db); err != nil {
			return nil, fmt.Errorf("failed to auto-migrate: %w", err)
		}
		return repository.NewGormStore(db), nil
	case "mongo":
		return repository.NewMongoStore(ctx, repository.MongoConfig{
			URI:      cfg.Mongo.URI,
			Database: cfg.Mongo.Database,
			Timeout:  cfg.Mongo.Timeout,
		})
	case "", "memory":
		return repository.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Storage.Driver)
	}
}
