package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medconnect/medconnect/internal/config"
	"github.com/medconnect/medconnect/internal/domain/booking"
	"github.com/medconnect/medconnect/internal/domain/catalog"
	"github.com/medconnect/medconnect/internal/domain/conversation"
	"github.com/medconnect/medconnect/internal/domain/payment"
	"github.com/medconnect/medconnect/internal/domain/scheduling"
	"github.com/medconnect/medconnect/internal/platform/auth"
	"github.com/medconnect/medconnect/internal/platform/db"
	"github.com/medconnect/medconnect/internal/platform/events"
	"github.com/medconnect/medconnect/internal/platform/lock"
	"github.com/medconnect/medconnect/internal/platform/middleware"
	"github.com/medconnect/medconnect/internal/platform/notification"
	paymentgw "github.com/medconnect/medconnect/internal/platform/payment"
	"github.com/medconnect/medconnect/internal/platform/websocket"
	"github.com/medconnect/medconnect/migrations"
	"github.com/medconnect/medconnect/pkg/apperror"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "medconnect-server",
		Short:        "MedConnect booking and scheduling API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reconcileCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the payment sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(dir, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded migrations)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(dir, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded migrations)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one payment reconciliation sweep and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			report, ran, err := a.scheduler.RunOnce(ctx)
			if err != nil {
				return err
			}
			if !ran {
				fmt.Println("Another instance holds the sweep lock; nothing done.")
				return nil
			}
			out, _ := json.MarshalIndent(report, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

// migrationFiles returns dir as a filesystem, or the embedded migrations
// when dir is empty.
func migrationFiles(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func withMigrator(dir string, fn func(context.Context, *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if dir == "" {
		dir = cfg.MigrationsDir
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, migrationFiles(dir)))
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ---------------------------------------------------------------------------
// Wiring
// ---------------------------------------------------------------------------

// services are the domain services the HTTP server exposes.
type services struct {
	scheduling    *scheduling.Service
	bookings      *booking.Service
	payments      *payment.Service
	conversations *conversation.Service
	hub           *websocket.Hub
	dbHealth      echo.HandlerFunc
}

type app struct {
	services
	pool      *pgxpool.Pool
	redis     *redis.Client
	broker    *events.Publisher
	scheduler *payment.Scheduler
	logger    zerolog.Logger
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	logger.Info().Msg("connected to database")
	a.dbHealth = db.HealthHandler(a.pool)

	cat, err := catalog.Default().WithServiceCharges(cfg.ServiceCharges())
	if err != nil {
		return nil, err
	}
	tx := db.NewTxManager(a.pool)

	a.scheduling = scheduling.NewService(scheduling.NewWindowRepoPG(a.pool), scheduling.NewSlotRepoPG(a.pool), tx, cat)
	bookingRepo := booking.NewRepoPG(a.pool)
	a.bookings = booking.NewService(bookingRepo, a.scheduling, tx, cat, cfg.PaymentCurrency)

	if cfg.StripeSecretKey == "" {
		logger.Warn().Msg("STRIPE_SECRET_KEY is not set, card payments will fail")
	}
	gateway := paymentgw.NewStripeGateway(paymentgw.Config{
		SecretKey: cfg.StripeSecretKey,
		APIURL:    cfg.StripeAPIURL,
		Timeout:   cfg.PaymentTimeout,
	}, logger)
	a.payments = payment.NewService(bookingRepo, a.bookings, gateway, payment.Config{
		Timeout:        cfg.PaymentTimeout,
		ReconcileAfter: cfg.ReconcileAfter,
		ExpireAfter:    cfg.ReconcileExpireAfter,
	}, logger)

	a.hub = websocket.NewHub(logger)
	a.conversations = conversation.NewService(conversation.NewRepoPG(a.pool), a.hub, logger)

	var broker notification.Publisher
	if cfg.AMQPURL != "" {
		a.broker, err = events.Dial(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			// notifications are best effort
			logger.Error().Err(err).Msg("event broker unavailable, continuing without it")
			err = nil
		} else {
			broker = a.broker
			logger.Info().Str("exchange", cfg.AMQPExchange).Msg("connected to event broker")
		}
	}
	dispatcher := notification.NewDispatcher(a.conversations, a.hub, broker, logger)
	a.bookings.SetNotifier(dispatcher)
	a.payments.SetNotifier(dispatcher)

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisURL != "" {
		a.redis, err = lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		locker = lock.NewRedisLocker(a.redis, "medconnect:lock:")
	}
	a.scheduler, err = payment.NewScheduler(a.payments, locker, cfg.ReconcileSchedule, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases whatever buildApp opened so far.
func (a *app) Close() {
	if a == nil {
		return
	}
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("closing event broker")
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.IsDev() && cfg.AuthIssuer == "" && cfg.AuthSigningKey == "" {
		return auth.DevAuthMiddleware()
	}
	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}
	return auth.JWTMiddleware(jwtCfg)
}

func newServer(cfg *config.Config, svc services, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperror.HTTPErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(!cfg.IsDev()))
	e.Use(middleware.Sanitize(logger))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	e.Use(authMiddleware(cfg))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	if svc.dbHealth != nil {
		e.GET("/health/db", svc.dbHealth)
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	api := e.Group("/api/v1", middleware.RateLimit(rateLimitCfg))

	scheduling.NewHandler(svc.scheduling).RegisterRoutes(api)
	booking.NewHandler(svc.bookings).RegisterRoutes(api)
	payment.NewHandler(svc.payments).RegisterRoutes(api)
	conversation.NewHandler(svc.conversations).RegisterRoutes(api)
	websocket.NewHandler(svc.hub, svc.conversations.CanSubscribe, cfg.CORSOrigins).RegisterRoutes(api)

	return e
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		return err
	}
	defer a.Close()

	e := newServer(cfg, a.services, logger)
	a.scheduler.Start()
	logger.Info().Str("schedule", cfg.ReconcileSchedule).Msg("payment sweep scheduled")

	serveErr := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("server error")
			return err
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.scheduler.Stop(shutdownCtx)
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
