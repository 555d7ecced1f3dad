// Package app wires configuration into a running reminder service.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"reminder-service/internal/api"
	"reminder-service/internal/config"
	"reminder-service/internal/db"
	"reminder-service/internal/logging"
	"reminder-service/internal/memstore"
	"reminder-service/internal/messages"
	"reminder-service/internal/notification"
	"reminder-service/internal/providers"
	"reminder-service/internal/runlock"
	"reminder-service/internal/secrets"
	"reminder-service/internal/services"
)

const runLockKey = "connpass-reminder:run"

// Store is everything the service persists.
type Store interface {
	notification.Ledger
	services.SubscriberStore
	services.EventStore
	api.LedgerReader
	api.EventReader
}

type App struct {
	Service *services.Service
	Hub     *api.Hub
	Router  *gin.Engine
	Store   Store

	closers []func()
	logger  *logging.Logger
}

// New builds the service graph. Close releases what it opened.
func New(ctx context.Context, cfg config.Config, logger *logging.Logger) (*App, error) {
	a := &App{logger: logger}

	store, err := a.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = store

	source, err := secretSource(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	loc := cfg.Reminder.Location
	telegram := providers.NewTelegram(source, providers.TelegramConfig{
		APIURL:    cfg.Telegram.APIURL,
		RateLimit: cfg.Telegram.RateLimit,
		SecretTTL: cfg.Secrets.CacheTTL,
	}, logger)
	connpass := providers.NewConnpass(providers.ConnpassConfig{
		BaseURL:  cfg.Connpass.BaseURL,
		APIKey:   cfg.Connpass.APIKey,
		Timeout:  cfg.Connpass.Timeout,
		MaxPages: cfg.Connpass.MaxPages,
		Location: loc,
	}, logger)
	dispatcher := notification.New(store, telegram, messages.NewRenderer(loc), logger, notification.Config{
		MaxWorkers:    cfg.Notification.MaxWorkers,
		SendTimeout:   cfg.Notification.SendTimeout,
		LedgerTimeout: cfg.Notification.LedgerTimeout,
		Location:      loc,
	})

	a.Hub = api.NewHub(logger)
	a.closers = append(a.closers, a.Hub.Close)
	opts := []services.Option{services.WithObserver(a.Hub)}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		opts = append(opts, services.WithRunLock(runlock.New(client, runLockKey, cfg.Redis.RunLockTTL)))
		logger.Infof("Run lock enabled on redis %s (ttl %s)", cfg.Redis.Addr, cfg.Redis.RunLockTTL)
	} else {
		logger.Warnf("REDIS_ADDR not set, overlapping runs are not serialized")
	}

	a.Service = services.New(services.Deps{
		Subscribers: store,
		Source:      connpass,
		Events:      store,
		Dispatcher:  dispatcher,
		Channel:     telegram,
	}, services.Config{Horizon: cfg.Reminder.Horizon}, logger, opts...)

	handler := api.NewHandler(a.Service, store, store, logger, cfg.Telegram.WebhookSecret)
	a.Router = api.NewRouter(handler, a.Hub, logger, cfg.API.BasePath)
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		dbConn, err := db.New(ctx, cfg.DB.DSN)
		if err != nil {
			return nil, err
		}
		if err := dbConn.Migrate(ctx); err != nil {
			dbConn.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() {
			dbConn.Close()
			a.logger.Infof("DB connection closed")
		})
		a.logger.Infof("Using postgres store")
		return dbConn, nil
	case config.StoreMemory:
		a.logger.Warnf("Using in-memory store, state is lost on restart")
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

func secretSource(ctx context.Context, cfg config.Config) (secrets.Source, error) {
	switch cfg.Secrets.Source {
	case config.SecretSourceAWS:
		src, err := secrets.NewAWSSource(ctx, cfg.Secrets.Prefix)
		if err != nil {
			return nil, fmt.Errorf("failed to init aws secret source: %w", err)
		}
		return src, nil
	default:
		return secrets.EnvSource{Overrides: map[string]string{
			providers.BotTokenKey: cfg.Telegram.BotToken,
		}}, nil
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
