package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/ahwlsqja/permission-client/docs"
	"github.com/ahwlsqja/permission-client/internal/common/handler"
	"github.com/ahwlsqja/permission-client/internal/common/middleware"
	"github.com/ahwlsqja/permission-client/internal/config"
	"github.com/ahwlsqja/permission-client/internal/grants"
	pkgdb "github.com/ahwlsqja/permission-client/pkg/db"
	pkgredis "github.com/ahwlsqja/permission-client/pkg/redis"
	"github.com/ahwlsqja/permission-client/pkg/storage/sqlstore"
)

// @title Grant File Server API
// @version 1.0
// @description Stores and serves the grant files referenced by on-chain data permissions

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /

func main() {
	// 1) Logger
	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// 2) Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger.Info("starting grant file server",
		zap.String("environment", cfg.Server.Environment),
		zap.String("addr", cfg.Server.Addr()),
		zap.String("public_url", cfg.Grants.PublicURL),
	)

	// 3) MySQL
	db, err := pkgdb.New(pkgdb.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Name:            cfg.Database.Name,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// 4) Redis
	rdb := pkgredis.New(pkgredis.Config{
		Host:        cfg.Redis.Host,
		Port:        cfg.Redis.Port,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	defer rdb.Close()

	// 5) Fail fast on unreachable dependencies
	if err := testConnections(db, rdb); err != nil {
		logger.Fatal("failed to test connections", zap.Error(err))
	}

	store := sqlstore.New(db, cfg.Grants.PublicURL, logger)
	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 10*time.Second)
	err = store.Migrate(migrateCtx)
	cancelMigrate()
	if err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	// 6) Router
	router := setupRouter(cfg, logger, db, rdb, store)

	// 7) HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("server started",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("swagger", fmt.Sprintf("http://localhost:%d/swagger/index.html", cfg.Server.Port)),
	)

	// 8) Wait for a shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

func initLogger() (*zap.Logger, error) {
	if os.Getenv("ENVIRONMENT") == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func testConnections(db *sql.DB, rdb *goredis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pkgdb.Ping(ctx, db); err != nil {
		return err
	}
	return pkgredis.Ping(ctx, rdb)
}

func setupRouter(cfg *config.Config, logger *zap.Logger, db *sql.DB, rdb *goredis.Client, store *sqlstore.Store) *gin.Engine {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logger(logger))

	docs.SwaggerInfo.Host = fmt.Sprintf("localhost:%d", cfg.Server.Port)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health endpoints
	healthHandler := handler.NewHealthHandler(map[string]handler.Pinger{
		"db":    func(ctx context.Context) error { return pkgdb.Ping(ctx, db) },
		"redis": func(ctx context.Context) error { return pkgredis.Ping(ctx, rdb) },
	})
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	// Grant files
	grantService := grants.NewService(store, grants.NewRedisCache(rdb), cfg.Redis.CacheTTL, cfg.Grants.MaxFileSize, logger)
	grantHandler := grants.NewHandler(grantService)

	v1 := router.Group("/api/v1")
	{
		grantHandler.RegisterRoutes(v1)
	}

	return router
}
