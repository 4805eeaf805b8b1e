package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/asset-loan/internal"
	"github.com/frahmantamala/asset-loan/internal/approvalmatrix"
	rulePostgres "github.com/frahmantamala/asset-loan/internal/approvalmatrix/postgres"
	"github.com/frahmantamala/asset-loan/internal/asset"
	assetPostgres "github.com/frahmantamala/asset-loan/internal/asset/postgres"
	"github.com/frahmantamala/asset-loan/internal/audit"
	auditPostgres "github.com/frahmantamala/asset-loan/internal/audit/postgres"
	"github.com/frahmantamala/asset-loan/internal/auth"
	"github.com/frahmantamala/asset-loan/internal/calendar"
	"github.com/frahmantamala/asset-loan/internal/core/events"
	"github.com/frahmantamala/asset-loan/internal/directory"
	directoryPostgres "github.com/frahmantamala/asset-loan/internal/directory/postgres"
	"github.com/frahmantamala/asset-loan/internal/helpdesk"
	"github.com/frahmantamala/asset-loan/internal/sla"
	slaPostgres "github.com/frahmantamala/asset-loan/internal/sla/postgres"
	"github.com/frahmantamala/asset-loan/internal/workflow"
	wfPostgres "github.com/frahmantamala/asset-loan/internal/workflow/postgres"
	"github.com/frahmantamala/asset-loan/pkg/logger"
)

// App is the wired engine shared by the server and the workers.
type App struct {
	Config   *internal.Config
	Logger   *slog.Logger
	SQL      *sqlx.DB
	DB       *gorm.DB
	Redis    *redis.Client
	Bus      *events.EventBus
	Clock    calendar.Clock
	Calendar *calendar.BusinessCalendar

	Directory    *directory.Service
	Assets       *asset.Service
	Auth         *auth.Service
	Audit        *audit.Writer
	Helpdesk     *helpdesk.Client
	Orchestrator *workflow.Orchestrator
	Relay        *workflow.Relay
	Sweeper      *sla.Sweeper
}

func newApp(cfg *internal.Config) (*App, error) {
	lg := logger.LoggerWrapper()

	sqlDB, err := initDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	gormDB, err := initGorm(sqlDB, cfg.Logging.Level)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	app := &App{
		Config: cfg,
		Logger: lg,
		SQL:    sqlDB,
		DB:     gormDB,
		Bus:    events.NewEventBus(lg),
		Clock:  calendar.SystemClock{},
	}

	var locker workflow.Locker = workflow.NewLocalLocker()
	if cfg.Redis.Addr != "" {
		app.Redis, err = initRedis(cfg.Redis)
		if err != nil {
			app.Close()
			return nil, err
		}
		locker = workflow.NewRedisLocker(app.Redis, cfg.Redis.LockTTL, cfg.Redis.LockWait)
		lg.Info("using redis application locks", "addr", cfg.Redis.Addr)
	}

	app.Calendar, err = calendar.FromConfig(cfg.Calendar)
	if err != nil {
		app.Close()
		return nil, err
	}

	slaCfg, err := sla.ConfigFromSettings(cfg.SLA)
	if err != nil {
		app.Close()
		return nil, err
	}
	tracker, err := sla.NewTracker(slaCfg, app.Calendar)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Directory = directory.NewService(directoryPostgres.NewUserRepository(gormDB), lg)
	app.Assets = asset.NewService(assetPostgres.NewAssetRepository(gormDB), lg)
	app.Auth = auth.NewService(
		app.Directory,
		auth.NewJWTTokenGenerator(cfg.Security.JWTSecret, cfg.Security.AccessTokenDuration, cfg.Security.RefreshTokenDuration),
		cfg.Security.BCryptCost,
		lg,
	)
	app.Audit = audit.NewWriter(auditPostgres.NewAuditRepository(gormDB), lg)

	app.Orchestrator = workflow.NewOrchestrator(
		workflow.ConfigFromSettings(cfg.Workflow, app.Calendar.Location()),
		workflow.Deps{
			UnitOfWork:   wfPostgres.NewGormUnitOfWork(gormDB),
			Locker:       locker,
			Rules:        ruleSource(cfg.Workflow, gormDB),
			Tracker:      tracker,
			Directory:    app.Directory,
			Availability: app.Assets,
			Tokens:       auth.NewApprovalTokenSigner(cfg.Security.ApprovalTokenSecret, cfg.Security.ApprovalTokenTTL, cfg.Security.BCryptCost),
			Clock:        app.Clock,
			Logger:       lg,
		},
	)

	app.Helpdesk = helpdesk.NewClient(helpdesk.Config{
		BaseURL:      cfg.Helpdesk.BaseURL,
		APIKey:       cfg.Helpdesk.APIKey,
		CallbackURL:  cfg.Helpdesk.CallbackURL,
		Timeout:      cfg.Helpdesk.Timeout,
		MaxWorkers:   cfg.Helpdesk.MaxWorkers,
		JobQueueSize: cfg.Helpdesk.JobQueueSize,
		MaxAttempts:  cfg.Helpdesk.MaxAttempts,
		RetryBackoff: cfg.Helpdesk.RetryBackoff,
	}, app.Orchestrator, lg)

	app.Assets.Subscribe(app.Bus)
	helpdesk.NewEventHandler(app.Helpdesk, lg).RegisterEventHandlers(app.Bus)
	app.Audit.RegisterEventHandlers(app.Bus)

	app.Relay = workflow.NewRelay(wfPostgres.NewOutboxRepository(gormDB), app.Bus, app.Clock, cfg.Outbox.BatchSize, cfg.Outbox.MaxAttempts, lg)
	app.Sweeper = sla.NewSweeper(slaPostgres.NewSnapshotReader(sqlDB), app.Orchestrator, app.Clock, cfg.SLA.SweepConcurrency, lg)

	return app, nil
}

func (a *App) Close() {
	if a.Helpdesk != nil {
		a.Helpdesk.Shutdown()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Error("redis close error", "error", err)
		}
	}
	if err := a.SQL.Close(); err != nil {
		a.Logger.Error("database close error", "error", err)
	}
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm shares the sqlx pool with gorm so both see one set of connections.
func initGorm(sqlDB *sqlx.DB, level string) (*gorm.DB, error) {
	logLevel := gormLogger.Warn
	if level == "debug" {
		logLevel = gormLogger.Info
	}
	return gorm.Open(postgres.New(postgres.Config{Conn: sqlDB.DB}), &gorm.Config{
		Logger: gormLogger.Default.LogMode(logLevel),
	})
}

func initRedis(cfg internal.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, DB: cfg.DB})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

func ruleSource(cfg internal.WorkflowConfig, db *gorm.DB) approvalmatrix.Source {
	if cfg.RulesSource == "database" {
		return rulePostgres.NewRuleRepository(db, cfg.DefaultNoApprovalRequired)
	}
	return approvalmatrix.NewFileSource(cfg.RulesFile, cfg.DefaultNoApprovalRequired)
}
