package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/jackhman/opsli-boot/internal/config"
	"github.com/jackhman/opsli-boot/internal/handler"
	"github.com/jackhman/opsli-boot/internal/handler/middleware"
	"github.com/jackhman/opsli-boot/internal/repository/postgres"
	"github.com/jackhman/opsli-boot/internal/service"
	"github.com/jackhman/opsli-boot/pkg/events"
	"github.com/jackhman/opsli-boot/pkg/hash"
	"github.com/jackhman/opsli-boot/pkg/jwt"
	"github.com/jackhman/opsli-boot/pkg/kvstore"
	"github.com/jackhman/opsli-boot/pkg/userstate"
	"github.com/jackhman/opsli-boot/pkg/validator"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := newLogger(cfg.Server)
	slog.SetDefault(logger)

	// Initialize database connection
	db, err := initDB(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("error closing database connection", slog.Any("error", err))
		}
	}()
	logger.Info("database connection established")

	// Initialize Redis client
	redisClient, err := initRedis(cfg)
	if err != nil {
		logger.Error("failed to initialize redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("error closing redis connection", slog.Any("error", err))
		}
	}()
	logger.Info("redis connection established")

	codec, err := newTokenCodec(cfg)
	if err != nil {
		logger.Error("failed to initialize token codec", slog.Any("error", err))
		os.Exit(1)
	}

	hasher, err := hash.NewHasher(hash.Params{
		Memory:      uint32(cfg.Auth.HashMemory),
		Iterations:  uint32(cfg.Auth.HashIterations),
		Parallelism: uint8(cfg.Auth.HashParallelism),
		SaltLength:  hash.DefaultParams.SaltLength,
		KeyLength:   hash.DefaultParams.KeyLength,
	})
	if err != nil {
		logger.Error("failed to initialize password hasher", slog.Any("error", err))
		os.Exit(1)
	}

	kv := kvstore.NewRedisStore(redisClient, cfg.Redis.Prefix)
	bus := events.NewBus(logger)
	validate := validator.NewValidator()

	// Initialize repositories
	userRepo := postgres.NewUserRepository(db)
	roleRepo := postgres.NewRoleRepository(db)
	orgRepo := postgres.NewOrgRepository(db)

	// Derived user state is dropped whenever an account changes
	cache := userstate.New(kv, service.NewIdentityProvider(userRepo, roleRepo), logger)
	cache.Subscribe(bus)

	// Initialize services
	sessions := service.NewSessionService(codec, kv, bus, cfg.Session, logger)
	userService := service.NewUserService(cache)
	authService := service.NewAuthService(userRepo, sessions, userService, hasher, cfg.Auth, logger)
	orgService := service.NewOrgService(orgRepo, bus, logger)
	roleService := service.NewRoleService(roleRepo, bus, logger)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(map[string]handler.Check{
		"database": db.PingContext,
		"cache":    kv.Ping,
	})
	handlers := handler.Handlers{
		Auth:   handler.NewAuthHandler(authService, sessions, validate, cfg.Session.TokenName),
		User:   handler.NewUserHandler(userService),
		Org:    handler.NewOrgHandler(orgService, validate),
		Role:   handler.NewRoleHandler(roleService, validate),
		Health: healthHandler,
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:               "opsli-boot",
		DisableStartupMessage: cfg.Server.IsProduction(),
		ErrorHandler:          errorHandler(logger),
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
	})

	// Setup global middlewares
	app.Use(middleware.RecoveryMiddleware(logger))
	app.Use(middleware.LoggerMiddleware(logger))
	app.Use(middleware.CORSMiddleware(cfg.Server.CORSOrigins, cfg.Session.TokenName))

	handler.SetupRoutes(app, handlers, middleware.AuthMiddleware(sessions, cfg.Session.TokenName), userService)

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		logger.Info("server starting",
			slog.String("addr", addr),
			slog.String("environment", cfg.Server.Environment),
		)
		if err := app.Listen(addr); err != nil {
			logger.Error("server failed to start", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", slog.Any("error", err))
	}

	logger.Info("server stopped")
}

// newLogger returns a JSON logger in production and a text logger elsewhere
func newLogger(cfg config.ServerConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// newTokenCodec builds the signer from the active key and any keys that
// were retired by a rotation but still verify live tokens
func newTokenCodec(cfg *config.Config) (*jwt.TokenCodec, error) {
	previous := make([]jwt.Key, 0, len(cfg.JWT.PreviousKeys))
	for _, k := range cfg.JWT.PreviousKeys {
		previous = append(previous, jwt.Key{ID: k.ID, Secret: []byte(k.Secret)})
	}

	return jwt.NewTokenCodec(
		jwt.Key{ID: cfg.JWT.KeyID, Secret: []byte(cfg.JWT.Secret)},
		cfg.Session.TokenTTL,
		cfg.JWT.Issuer,
		jwt.WithPreviousKeys(previous...),
	)
}

// initDB initializes PostgreSQL database connection with retry logic
func initDB(cfg *config.Config, logger *slog.Logger) (*sqlx.DB, error) {
	dsn := cfg.Database.DSN()

	var db *sqlx.DB
	var err error

	maxRetries := 5
	retryInterval := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		db, err = sqlx.Connect("postgres", dsn)
		if err == nil {
			break
		}

		logger.Warn("failed to connect to database",
			slog.Int("attempt", i+1),
			slog.Int("max_attempts", maxRetries),
			slog.Any("error", err),
		)
		if i < maxRetries-1 {
			time.Sleep(retryInterval)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("error closing database after ping failure", slog.Any("error", closeErr))
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// initRedis initializes Redis client and verifies connection
func initRedis(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// errorHandler handles errors no route answered, such as unknown paths
func errorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "internal server error"

		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
			message = e.Message
		}

		if code >= fiber.StatusInternalServerError {
			logger.ErrorContext(c.UserContext(), "unhandled error",
				slog.String("method", c.Method()),
				slog.String("path", c.Path()),
				slog.Any("error", err),
			)
		}

		return c.Status(code).JSON(fiber.Map{
			"error": message,
		})
	}
}
