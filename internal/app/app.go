package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/cabofitpass/backend/internal/audit"
	"github.com/cabofitpass/backend/internal/config"
	"github.com/cabofitpass/backend/internal/database"
	"github.com/cabofitpass/backend/internal/metrics"
	"github.com/cabofitpass/backend/internal/services"
)

// App holds the wired credit engine shared by the server and the CLI.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	DB      *sql.DB
	Redis   *redis.Client

	Ledger     *services.LedgerService
	Costs      *services.CostService
	Bookings   *services.BookingService
	Rollovers  *services.RolloverService
	Dashboards *services.DashboardService
}

// New connects to the stores, applies migrations when enabled and builds
// every service.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("database migrations applied")
	}

	rdb := database.OpenRedis(ctx, cfg.Redis, logger)
	return Wire(cfg, logger, db, rdb), nil
}

// Wire builds the services on already-open stores. rdb may be nil.
func Wire(cfg *config.Config, logger *zap.Logger, db *sql.DB, rdb *redis.Client) *App {
	m := metrics.New()
	deps := services.Deps{
		Logger:  logger,
		Audit:   audit.NewLogger(logger),
		Metrics: m,
		Retrier: services.NewRetrier(cfg.Retry, m, logger.Named("retry")),
	}

	catalog := services.NewPostgresClassCatalog(db, rdb, cfg.ClassCacheTTL, logger.Named("catalog"))
	users := services.NewProfileDirectory(db)

	ledger := services.NewLedgerService(db, users, cfg.Credits, withName(deps, "ledger"))
	costs := services.NewCostService(catalog, cfg.Credits)

	return &App{
		Config:     cfg,
		Logger:     logger,
		Metrics:    m,
		DB:         db,
		Redis:      rdb,
		Ledger:     ledger,
		Costs:      costs,
		Bookings:   services.NewBookingService(db, ledger, costs, catalog, users, cfg.Credits, withName(deps, "booking")),
		Rollovers:  services.NewRolloverService(db, ledger, users, cfg.Credits, withName(deps, "rollover")),
		Dashboards: services.NewDashboardService(db, ledger, cfg.Credits, withName(deps, "dashboard")),
	}
}

func withName(deps services.Deps, name string) services.Deps {
	deps.Logger = deps.Logger.Named(name)
	return deps
}

func (a *App) Close() error {
	if a.Redis != nil {
		a.Redis.Close()
	}
	return a.DB.Close()
}
