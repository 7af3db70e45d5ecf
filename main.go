// hearth/main.go
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"hearth/accounts"
	"hearth/audit"
	"hearth/auth"
	"hearth/config"
	"hearth/database"
	"hearth/handlers"
	"hearth/migrate"
	"hearth/models"
	"hearth/moderation"
	"hearth/utils"
)

type Application struct {
	db          *database.DatabaseService
	registry    *auth.Registry
	recorder    *audit.Recorder
	accounts    *accounts.Manager
	engine      *moderation.Engine
	bans        *moderation.BanManager
	migrator    *migrate.Migrator
	sessions    *models.SessionStore
	rateLimiter *models.RateLimiter
	storage     utils.StorageService
	logger      *slog.Logger
}

// Methods to satisfy the handlers.App interface
func (a *Application) DB() *database.DatabaseService  { return a.db }
func (a *Application) Registry() *auth.Registry       { return a.registry }
func (a *Application) Audit() *audit.Recorder         { return a.recorder }
func (a *Application) Accounts() *accounts.Manager    { return a.accounts }
func (a *Application) Moderation() *moderation.Engine { return a.engine }
func (a *Application) Bans() *moderation.BanManager   { return a.bans }
func (a *Application) Migrator() *migrate.Migrator    { return a.migrator }
func (a *Application) Sessions() *models.SessionStore { return a.sessions }
func (a *Application) RateLimiter() *models.RateLimiter { return a.rateLimiter }
func (a *Application) Storage() utils.StorageService    { return a.storage }
func (a *Application) Logger() *slog.Logger             { return a.logger }

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// --- External Configuration ---
	port := utils.GetEnv("HEARTH_PORT", "8080")
	dbPath := utils.GetEnv("HEARTH_DB_PATH", "./hearth.db?_journal_mode=WAL&_foreign_keys=on")
	backupDir := utils.GetEnv("HEARTH_BACKUP_DIR", "./backups")
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		logger.Error("FATAL: Could not create backup directory", "path", backupDir, "error", err)
		os.Exit(1)
	}

	auditMax, err := strconv.Atoi(utils.GetEnv("HEARTH_AUDIT_MAX", strconv.Itoa(config.DefaultAuditMaxEntries)))
	if err != nil || auditMax <= 0 {
		logger.Warn("Invalid HEARTH_AUDIT_MAX, using default", "default", config.DefaultAuditMaxEntries)
		auditMax = config.DefaultAuditMaxEntries
	}

	sessionTTL, err := time.ParseDuration(utils.GetEnv("HEARTH_SESSION_TTL", config.DefaultSessionTTL))
	if err != nil {
		logger.Warn("Invalid HEARTH_SESSION_TTL duration, using default", "default", config.DefaultSessionTTL)
		sessionTTL, _ = time.ParseDuration(config.DefaultSessionTTL)
	}

	rateLimitEvery, err := time.ParseDuration(utils.GetEnv("HEARTH_RATE_EVERY", config.DefaultRateLimitEvery))
	if err != nil {
		logger.Warn("Invalid HEARTH_RATE_EVERY duration, using default", "default", config.DefaultRateLimitEvery)
		rateLimitEvery, _ = time.ParseDuration(config.DefaultRateLimitEvery)
	}
	rateLimitBurst, err := strconv.Atoi(utils.GetEnv("HEARTH_RATE_BURST", strconv.Itoa(config.DefaultRateLimitBurst)))
	if err != nil {
		logger.Warn("Invalid HEARTH_RATE_BURST integer, using default", "default", config.DefaultRateLimitBurst)
		rateLimitBurst = config.DefaultRateLimitBurst
	}
	rateLimitPrune, err := time.ParseDuration(utils.GetEnv("HEARTH_RATE_PRUNE", config.DefaultRateLimitPrune))
	if err != nil {
		logger.Warn("Invalid HEARTH_RATE_PRUNE duration, using default", "default", config.DefaultRateLimitPrune)
		rateLimitPrune, _ = time.ParseDuration(config.DefaultRateLimitPrune)
	}
	rateLimitExpire, err := time.ParseDuration(utils.GetEnv("HEARTH_RATE_EXPIRE", config.DefaultRateLimitExpire))
	if err != nil {
		logger.Warn("Invalid HEARTH_RATE_EXPIRE duration, using default", "default", config.DefaultRateLimitExpire)
		rateLimitExpire, _ = time.ParseDuration(config.DefaultRateLimitExpire)
	}

	dbService, err := database.InitDB(dbPath, backupDir, logger)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbService.DB.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}()

	// --- Bootstrap Admin ---
	// Only used when the account store has no admin yet, e.g. a fresh
	// install.
	bootstrapUser := utils.GetEnv("HEARTH_ADMIN_USER", "admin")
	bootstrapPassword := os.Getenv("HEARTH_ADMIN_PASSWORD")
	if bootstrapPassword != "" {
		hash, err := utils.HashPassword(bootstrapPassword)
		if err != nil {
			logger.Error("Failed to hash bootstrap admin password", "error", err)
			os.Exit(1)
		}
		if err := dbService.EnsureBootstrapAdmin(bootstrapUser, hash); err != nil {
			logger.Error("Failed to ensure bootstrap admin", "error", err)
			os.Exit(1)
		}
	}

	// --- Storage Service Init ---
	var storageService utils.StorageService
	if utils.GetEnv("HEARTH_S3_ENABLED", "false") == "true" {
		endpoint := utils.GetEnv("HEARTH_S3_ENDPOINT", "")
		accessKey := utils.GetEnv("HEARTH_S3_ACCESS_KEY", "")
		secretKey := utils.GetEnv("HEARTH_S3_SECRET_KEY", "")
		bucket := utils.GetEnv("HEARTH_S3_BUCKET", "")
		region := utils.GetEnv("HEARTH_S3_REGION", "us-east-1")
		prefix := utils.GetEnv("HEARTH_S3_PREFIX", "exports")
		useSSL := utils.GetEnv("HEARTH_S3_USE_SSL", "true") == "true"

		storageService, err = utils.NewS3Storage(endpoint, accessKey, secretKey, bucket, region, prefix, useSSL)
		if err != nil {
			logger.Error("Failed to initialize S3 storage", "error", err)
			os.Exit(1)
		}
		logger.Info("S3 storage initialized", "endpoint", endpoint, "bucket", bucket)
	} else {
		exportDir := utils.GetEnv("HEARTH_EXPORT_DIR", "./exports")
		if err := os.MkdirAll(exportDir, 0755); err != nil {
			logger.Error("FATAL: Could not create export directory", "path", exportDir, "error", err)
			os.Exit(1)
		}
		storageService = &utils.LocalStorage{Dir: exportDir}
		logger.Info("Local storage initialized", "dir", exportDir)
	}

	registry := auth.NewRegistry(dbService, logger)
	recorder := audit.NewRecorder(dbService, registry, auditMax, logger)
	migrator := migrate.NewMigrator(dbService, logger)

	// One-shot legacy import before the server accepts traffic.
	if migrated, err := migrator.Run(); err != nil {
		logger.Error("Legacy migration failed, nothing was imported", "error", err)
		os.Exit(1)
	} else if migrated > 0 {
		logger.Info("Legacy migration imported posts", "count", migrated)
	}

	app := &Application{
		db:          dbService,
		registry:    registry,
		recorder:    recorder,
		accounts:    accounts.NewManager(dbService, registry, recorder, logger),
		engine:      moderation.NewEngine(dbService, registry, recorder, logger),
		bans:        moderation.NewBanManager(dbService, registry, recorder, logger),
		migrator:    migrator,
		sessions:    models.NewSessionStore(sessionTTL),
		rateLimiter: models.NewRateLimiter(rateLimitEvery, rateLimitBurst, rateLimitPrune, rateLimitExpire),
		storage:     storageService,
		logger:      logger,
	}

	mux := handlers.SetupRouter(app)

	// --- Graceful Shutdown ---
	server := &http.Server{Addr: ":" + port, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("hearth server started successfully",
		"version", config.AppVersion,
		"address", "http://localhost:"+port,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("Server exiting")
}
