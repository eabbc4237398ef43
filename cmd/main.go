package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/freight-ledger/internal/allocator"
	"github.com/ukydev/freight-ledger/internal/auth"
	"github.com/ukydev/freight-ledger/internal/config"
	"github.com/ukydev/freight-ledger/internal/db"
	"github.com/ukydev/freight-ledger/internal/handlers"
	"github.com/ukydev/freight-ledger/internal/middleware"
	"github.com/ukydev/freight-ledger/internal/notify"
	"github.com/ukydev/freight-ledger/internal/pod"
	"github.com/ukydev/freight-ledger/internal/trips"
	"go.mongodb.org/mongo-driver/mongo"
)

// app is the assembled service plus whatever must be released on shutdown.
type app struct {
	handler  http.Handler
	closers  []func(context.Context) error
	storage  string
	allocTag string
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			log.WithError(err).Warn("Error during shutdown")
		}
	}
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{storage: cfg.Storage}

	var (
		store    db.TripStore
		users    db.UserCollection
		database *mongo.Database
	)
	switch cfg.Storage {
	case config.StorageMemory:
		log.Warn("Using in-memory storage, data is lost on exit")
		store, users = db.NewMemoryTripStore(), db.NewMemoryUserCollection()
	case config.StorageMongo:
		client, err := db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		a.onClose(client.Disconnect)
		database = client.Database(cfg.MongoDB)
		if err := db.EnsureIndexes(ctx, database); err != nil {
			a.close(ctx)
			return nil, err
		}
		store, users = db.NewMongoTripCollection(database), db.NewMongoUserCollection(database)
		log.WithField("database", cfg.MongoDB).Info("Connected to MongoDB")
	default:
		return nil, fmt.Errorf("unknown STORAGE %q", cfg.Storage)
	}

	var alloc allocator.Allocator
	if cfg.RedisAddr != "" {
		redisAlloc := allocator.NewRedisAllocator(cfg.RedisAddr, store)
		if err := redisAlloc.Ping(ctx); err != nil {
			_ = redisAlloc.Close()
			a.close(ctx)
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.onClose(func(context.Context) error { return redisAlloc.Close() })
		alloc, a.allocTag = redisAlloc, "redis"
	} else {
		alloc, a.allocTag = allocator.NewSequenceAllocator(store), "sequence"
	}

	var pods pod.Store
	switch cfg.PODBackend {
	case config.PODBackendGridFS:
		if database == nil {
			a.close(ctx)
			return nil, errors.New("POD_BACKEND=gridfs needs mongo storage")
		}
		gridStore, err := pod.NewGridFSStore(database)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		pods = gridStore
	default:
		diskStore, err := pod.NewDiskStore(cfg.PODDir)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		pods = diskStore
	}

	var events notify.Publisher = notify.Noop{}
	if cfg.MQTTBroker != "" {
		publisher, err := notify.NewMQTTPublisher(notify.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Topic:    cfg.MQTTTopic,
			Timeout:  5 * time.Second,
		})
		if err != nil {
			// Events are best effort; the ledger runs without them.
			log.WithError(err).WithField("broker", cfg.MQTTBroker).Warn("MQTT unavailable, trip events disabled")
		} else {
			events = publisher
			a.onClose(func(context.Context) error { publisher.Close(); return nil })
		}
	}

	authService, err := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	authHandler := handlers.NewAuthHandler(authService, users)
	if err := authHandler.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword, cfg.AdminName); err != nil {
		a.close(ctx)
		return nil, err
	}

	manager := trips.NewManager(store, alloc, pods, events)
	query := trips.NewQuery(store, pods)

	a.handler = handlers.NewRouter(handlers.RouterConfig{
		Auth:           authHandler,
		Trips:          handlers.NewTripHandler(manager, query, cfg.PODMaxBytes),
		Reports:        handlers.NewReportHandler(query),
		Health:         store,
		AuthMiddleware: middleware.NewAuthMiddleware(authService, users),
		RateLimiter:    middleware.NewRateLimitMiddleware(),
		CORSOrigins:    cfg.CORSOrigins,
		LoginRateLimit: cfg.LoginRateLimit,
	})
	return a, nil
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	a, err := buildApp(startCtx, cfg)
	cancel()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"port":      cfg.Port,
			"storage":   a.storage,
			"allocator": a.allocTag,
			"pod":       cfg.PODBackend,
		}).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		a.close(shutdownCtx)
		return err
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}
	a.close(shutdownCtx)
	log.Info("Server stopped")
	return nil
}

func main() {
	cfg := config.Load(".env")
	cfg.ConfigureLogging()
	decimal.MarshalJSONWithoutQuotes = true

	if err := run(cfg); err != nil {
		log.WithError(err).Fatal("Server failed")
	}
}
