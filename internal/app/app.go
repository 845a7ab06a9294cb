package app

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	libdb "chargeledger/libs/db"
	libredis "chargeledger/libs/redis"

	"chargeledger/internal/auth"
	"chargeledger/internal/cache"
	"chargeledger/internal/config"
	httpserver "chargeledger/internal/http"
	"chargeledger/internal/http/handlers"
	"chargeledger/internal/ledger"
	"chargeledger/internal/metrics"
	"chargeledger/internal/notify"
	"chargeledger/internal/password"
	"chargeledger/internal/queue"
	"chargeledger/internal/repository"
	"chargeledger/internal/service"
)

// App wires session coordinator dependencies.
type App struct {
	cfg          *config.Config
	server       *httpserver.Server
	hub          *notify.Hub
	writer       *queue.Writer
	ledgerHandle *ledger.Handle
	ledgerClient *ledger.HTTPClient
	db           *sql.DB
	redisClient  *redis.Client
	logger       *zap.Logger
}

// New constructs the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	sqlDB, err := libdb.NewPostgresDB(cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, err
	}

	redisClient, err := libredis.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	sessionRepo := repository.NewSessionRepository(sqlDB)
	tokenRepo := repository.NewTokenRepository(sqlDB)
	queueRepo := repository.NewLedgerQueueRepository(sqlDB)

	sessionCache := cache.NewSessionCache(redisClient, cfg.CacheTTL())
	hub := notify.NewHub(cfg.PingInterval())

	ledgerHandle := ledger.NewHandle()
	ledgerClient := ledger.NewHTTPClient(cfg.Ledger.BaseURL, cfg.LedgerTimeout(), logger)

	writer := queue.NewWriter(queueRepo, ledgerHandle, hub, queue.Config{
		DrainInterval:  cfg.DrainInterval(),
		BatchSize:      cfg.Queue.BatchSize,
		MaxAttempts:    cfg.Queue.MaxAttempts,
		BaseRetryDelay: cfg.BaseRetryDelay(),
		SubmitTimeout:  cfg.LedgerTimeout(),
		ReclaimAfter:   cfg.ReclaimAfter(),
	}, logger)

	engine := service.NewLifecycleEngine(
		sessionRepo,
		tokenRepo,
		writer,
		hub,
		sessionCache,
		cfg.DefaultExpiry(),
		logger,
	)

	tokenService := auth.NewTokenService(cfg.Admin.JWTSecret, cfg.AdminTokenTTL())
	hasher := password.NewBcryptHasher(0)

	sessionHandlers := handlers.NewSessionHandlers(engine, logger)
	adminHandlers := handlers.NewAdminHandlers(writer, tokenService, hasher, cfg.Admin.Username, cfg.Admin.PasswordHash, logger)

	routes := httpserver.Routes{
		SessionStart:   sessionHandlers.HandleStart,
		SessionPause:   sessionHandlers.HandlePause,
		SessionResume:  sessionHandlers.HandleResume,
		SessionStop:    sessionHandlers.HandleStop,
		ActiveSessions: sessionHandlers.HandleActiveSessions,
		Events:         handlers.NewEventsHandler(hub, logger),
		AdminLogin:     adminHandlers.HandleLogin,
		QueueStatus:    handlers.RequireOperator(tokenService, adminHandlers.HandleQueueStatus),
		RetryDead:      handlers.RequireOperator(tokenService, adminHandlers.HandleRetryDead),
		Health:         handlers.NewHealthHandler(engine),
		Metrics:        metrics.Handler(),
	}

	router := httpserver.NewRouter(routes)
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return &App{
		cfg:          cfg,
		server:       server,
		hub:          hub,
		writer:       writer,
		ledgerHandle: ledgerHandle,
		ledgerClient: ledgerClient,
		db:           sqlDB,
		redisClient:  redisClient,
		logger:       logger,
	}, nil
}

// Run starts background loops and the HTTP server, blocking until ctx ends.
func (a *App) Run(ctx context.Context) error {
	go ledger.Connect(ctx, a.ledgerHandle, a.ledgerClient, a.cfg.LedgerRetryInterval())
	go a.writer.Run(ctx)

	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
