package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/linktags/internal/bus"
	"github.com/MrSnakeDoc/linktags/internal/commands"
	"github.com/MrSnakeDoc/linktags/internal/config"
	"github.com/MrSnakeDoc/linktags/internal/domain"
	"github.com/MrSnakeDoc/linktags/internal/httpserver"
	"github.com/MrSnakeDoc/linktags/internal/httpserver/deps"
	"github.com/MrSnakeDoc/linktags/internal/index"
	"github.com/MrSnakeDoc/linktags/internal/logger"
	"github.com/MrSnakeDoc/linktags/internal/redis"
	"github.com/MrSnakeDoc/linktags/internal/scheduler"
	"github.com/MrSnakeDoc/linktags/internal/store"
	redisstore "github.com/MrSnakeDoc/linktags/internal/store/redis"
	"github.com/MrSnakeDoc/linktags/internal/syncadapter/extension"
	"github.com/MrSnakeDoc/linktags/internal/syncmanager"
	"github.com/MrSnakeDoc/linktags/internal/transport"
	"github.com/MrSnakeDoc/linktags/internal/utils"
	"github.com/MrSnakeDoc/linktags/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	redisClient *goredis.Client
	bus         bus.Bus
	store       *store.Store
	commands    *commands.Manager
	sync        *syncmanager.Manager
	autoSync    *scheduler.AutoSync
	reloader    *scheduler.ServicesReloader
	gc          *scheduler.GarbageCollector
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg *config.Config) logger.Logger {
	return logger.NewWithOptions(logger.Options{
		Level:      cfg.LogLevel,
		Pretty:     cfg.PrettyLog,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
}

// New wires every component. Redis is optional: without an address the
// process runs from memory with an in-process bus and lock.
func New(ctx context.Context, cfg *config.Config, loggerClient logger.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: loggerClient}
	memIndex := index.NewMemoryIndex()

	var (
		backend store.Backend
		locks   scheduler.LockStore = index.NewMemoryLockStore()
	)
	if cfg.RedisEnabled() {
		// Fail fast when a configured Redis never answers.
		client, err := redis.New(ctx, redis.ConnectOptions{
			Addr:           cfg.RedisAddr,
			User:           cfg.RedisUser,
			Password:       cfg.RedisPassword,
			RedisDB:        cfg.RedisDB,
			DialTimeout:    cfg.RedisDT,
			ReadTimeout:    cfg.RedisRT,
			WriteTimeout:   cfg.RedisWT,
			PoolSize:       cfg.RedisPoolSize,
			ConnectTimeout: cfg.RedisConnectTimeout,
			RetryInterval:  cfg.RedisRetryInterval,
			MaxWait:        cfg.RedisMaxWait,
			PingTimeout:    cfg.RedisPingTimeout,
			WarnThreshold:  cfg.RedisWarnThreshold,
		}, loggerClient)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.redisClient = client

		rs := redisstore.NewStore(client).WithLockTTL(cfg.RedisLockTTL)
		backend = rs
		locks = rs

		// Warm the memory index from the durable copy.
		if err := scheduler.NewRedisSyncer(rs, memIndex, loggerClient).Sync(ctx); err != nil {
			loggerClient.Warn("failed to restore state from redis, starting empty", logger.Error(err))
		}
		a.bus = bus.NewRedisBus(client, cfg.BusChannel, loggerClient)
	} else {
		loggerClient.Info("redis not configured, running from memory")
		a.bus = bus.NewMemoryBus()
	}

	a.store = store.New(memIndex, backend, loggerClient)

	reloadTrigger := make(chan struct{}, 1)
	a.reloader = scheduler.NewServicesReloader(cfg.ServiceFile, a.store, loggerClient, cfg.ReloadInterval, reloadTrigger)
	a.gc = scheduler.NewGarbageCollector(a.store, loggerClient, cfg.GCInterval, cfg.GCThreshold)

	extOpts := []extension.Option{
		extension.WithPingTimeout(cfg.ExtensionPingTimeout),
		extension.WithRequestTimeout(cfg.ExtensionRequestTimeout),
		extension.WithDiscoveryWindow(cfg.DiscoveryWindow),
	}
	syncLog := loggerClient.With(logger.String("component", "sync"))
	sm, err := syncmanager.New(syncmanager.Options{
		Configs: a.store,
		Local:   a.store,
		Factory: syncmanager.NewFactory(syncmanager.FactoryDeps{
			Requester:        transport.NewHTTPRequester(&http.Client{}, cfg.HTTPTimeout, cfg.UserAgent),
			Bus:              a.bus,
			Logger:           syncLog,
			ExtensionOptions: extOpts,
		}),
		Logger:        syncLog,
		MaxAttempts:   uint(max(cfg.SyncMaxAttempts, 1)),
		RetryInterval: cfg.SyncRetryInterval,
		QueueSize:     cfg.SyncQueueSize,
		OnResult:      a.logSyncResult,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.sync = sm

	cm, err := commands.NewManager(commands.ManagerOptions{
		Resolver:         a.store.ResolveBookmarks,
		Persister:        a.persist,
		HistoryPersister: a.store.SaveHistory,
		MaxHistorySize:   cfg.MaxHistorySize,
		Logger:           loggerClient.With(logger.String("component", "commands")),
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.commands = cm

	as, err := scheduler.NewAutoSync(scheduler.AutoSyncOptions{
		Locks:             locks,
		Services:          a.store,
		Queue:             sm,
		Logger:            loggerClient.With(logger.String("component", "autosync")),
		HeartbeatInterval: cfg.HeartbeatInterval,
		StaleAfter:        cfg.StaleAfter,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.autoSync = as

	d := deps.Deps{
		Logger:           loggerClient,
		StartTime:        time.Now(),
		Version:          version.Version,
		Commit:           version.Commit,
		BuildDate:        version.BuildDate,
		GoVersion:        version.GoVersion,
		TimeNow:          time.Now,
		AllowedHosts:     cfg.AllowedHosts,
		AllowedCIDRS:     cfg.AllowedCIDRS,
		TrustProxy:       cfg.TrustProxy,
		RequestTimeout:   cfg.RequestTimeout,
		SyncTimeout:      cfg.SyncTimeout,
		SyncRateBurst:    cfg.SyncRateBurst,
		SyncRatePerMin:   cfg.SyncRatePerMinute,
		RedisClient:      a.redisClient,
		Store:            a.store,
		Commands:         cm,
		Sync:             sm,
		AutoSync:         as,
		Bus:              a.bus,
		ExtensionOptions: extOpts,
		ReloadTrigger:    reloadTrigger,
	}
	a.server = httpserver.New(cfg, loggerClient, d)
	return a, nil
}

// persist writes a command's changes and stamps every service with the
// edit time so change-triggered auto-sync can pick it up.
func (a *App) persist(ctx context.Context, pairs []domain.BookmarkKeyValuePair) error {
	if err := a.store.PersistBookmarks(ctx, pairs); err != nil {
		return err
	}
	if err := a.sync.NotifyDataChanged(ctx); err != nil {
		a.logger.Warn("failed to record data change", logger.Error(err))
	}
	return nil
}

func (a *App) logSyncResult(serviceID string, res *syncmanager.Result, err error) {
	if err != nil {
		a.logger.Warn("background sync failed", logger.String("service", serviceID), logger.Error(err))
		return
	}
	a.logger.Info("background sync finished",
		logger.String("service", serviceID),
		logger.String("action", string(res.Action)),
		logger.Int("attempts", res.Attempts))
}

// SyncOnce loads the services file and runs a single synchronization
// without starting any background loop.
func (a *App) SyncOnce(ctx context.Context, serviceID string) (*syncmanager.Result, error) {
	if err := a.reloader.Reload(ctx); err != nil {
		return nil, fmt.Errorf("failed to load services: %w", err)
	}
	return a.sync.Sync(ctx, serviceID)
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting linktags v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("linktags %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load services and start watching the file
	if err := a.reloader.Start(ctx); err != nil {
		return fmt.Errorf("failed to start services reloader: %w", err)
	}
	a.logger.Info("services reloader started",
		logger.Duration("interval", a.cfg.ReloadInterval))

	if err := a.gc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start garbage collector: %w", err)
	}
	a.logger.Info("garbage collector started",
		logger.Duration("interval", a.cfg.GCInterval))

	a.sync.Start(ctx)
	a.autoSync.Start(ctx)
	a.logger.Info("auto-sync started",
		logger.String("owner", a.autoSync.OwnerID()),
		logger.Duration("heartbeat", a.cfg.HeartbeatInterval))

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.server.Stop(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to stop server: %w", err)
	}

	// Release leadership before the queue drains so another instance can
	// take over immediately.
	a.autoSync.Stop(shutdownCtx)
	a.sync.Stop()
	a.reloader.Stop()
	a.gc.Stop()
	a.Close()

	if runErr != nil {
		return runErr
	}
	a.logger.Info("✅ linktags stopped cleanly")
	return nil
}

// Close releases the bus and the Redis connection.
func (a *App) Close() {
	if c, ok := a.bus.(io.Closer); ok {
		utils.MustClose(c, "bus", a.logger)
	}
	if a.redisClient != nil && utils.MustClose(a.redisClient, "redis", a.logger) {
		a.logger.Info("✅ Redis closed cleanly")
	}
	_ = a.logger.Sync()
}
