package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/libsync/server/internal/cache"
	"github.com/libsync/server/internal/config"
	"github.com/libsync/server/internal/handlers"
	custommw "github.com/libsync/server/internal/middleware"
	"github.com/libsync/server/internal/models"
	"github.com/libsync/server/internal/observability"
	"github.com/libsync/server/internal/repository"
	"github.com/libsync/server/internal/services"
)

// @title LibSync Server API
// @version 1.0
// @description Multi-device library synchronization server with versioned
// @description object storage, a legacy XML sync protocol, and deduplicated
// @description file storage.
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize telemetry
	telemetry, err := observability.Initialize(context.Background(),
		observability.NewConfig("libsync-server", handlers.Version))
	if err != nil {
		log.Printf("Telemetry disabled: %v", err)
	}

	// Initialize database
	var db *sql.DB
	if cfg.UsePostgres() {
		log.Println("Using PostgreSQL database")
		db, err = repository.NewPostgresDB(cfg.DatabaseURL)
	} else {
		log.Println("Using SQLite database")
		db, err = repository.NewSQLiteDB(cfg.DatabasePath)
	}
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Repositories
	userRepo := repository.NewUserRepository(db)
	libraryRepo := repository.NewLibraryRepository(db)
	objectRepo := repository.NewObjectRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	lockRepo := repository.NewSyncLockRepository(db)
	queueRepo := repository.NewSyncQueueRepository(db)
	storageRepo := repository.NewStorageRepository(db)

	// Shared in-memory cache tier
	memCache := cache.NewMemoryCache()
	writeTokens := cache.NewWriteTokenCache(memCache,
		time.Duration(cfg.Sync.WriteTokenTTLHours)*time.Hour)
	downloads := cache.NewDownloadCache(memCache,
		time.Duration(cfg.Sync.DownloadCacheTTLMinutes)*time.Minute)
	waitIndex := cache.NewWaitIndex(memCache,
		time.Duration(cfg.Sessions.LifetimeSeconds)*time.Second)

	// Services
	validator, err := services.NewUploadValidator(cfg.Sync.MaxNoteBytes)
	if err != nil {
		log.Fatalf("Failed to compile upload schema: %v", err)
	}
	precond := services.NewPreconditionService()
	objectService := services.NewObjectService(db, libraryRepo, objectRepo, precond, writeTokens)
	sessionService := services.NewSessionService(sessionRepo, userRepo, memCache,
		time.Duration(cfg.Sessions.LifetimeSeconds)*time.Second,
		time.Duration(cfg.Sessions.DBUpdateDebounceSeconds)*time.Second)
	syncService := services.NewSyncService(db, libraryRepo, objectRepo, lockRepo, queueRepo,
		validator, downloads, waitIndex, services.LogNotifier{},
		cfg.Sync.QueueThreshold, cfg.Sync.BackgroundProcessing,
		time.Duration(cfg.Sync.UploadTimeoutSeconds)*time.Second)
	fileUploadService := services.NewFileUploadService(db, libraryRepo, objectRepo, storageRepo,
		precond, memCache, cfg.Storage.DefaultQuotaBytes, cfg.Storage.MaxUploadSlots,
		time.Duration(cfg.Storage.UploadSlotTTLMinutes)*time.Minute,
		cfg.Storage.SlotRetryAfterSeconds, cfg.Storage.UploadBaseURL)
	adminService := services.NewAdminService(userRepo, libraryRepo, storageRepo)

	businessMetrics, err := observability.NewBusinessMetrics()
	if err != nil {
		log.Printf("Business metrics disabled: %v", err)
	}
	fileUploadService.SetMetrics(businessMetrics)

	// Handlers
	objectHandler := handlers.NewObjectHandler(objectRepo, objectService, precond, businessMetrics)
	syncHandler := handlers.NewSyncHandler(sessionService, syncService, businessMetrics)
	fileHandler := handlers.NewFileHandler(fileUploadService, storageRepo)
	adminHandler := handlers.NewAdminHandler(adminService)
	healthHandler := handlers.NewHealthHandler()

	httpMetrics, err := observability.NewHTTPMetrics()
	if err != nil {
		log.Printf("HTTP metrics disabled: %v", err)
	}

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(observability.TracingMiddleware("libsync-server"))
	if httpMetrics != nil {
		r.Use(observability.MetricsMiddleware(httpMetrics))
	}
	r.Use(custommw.UserAPIKeyAuth(userRepo, "X-API-Key", []string{
		"/health",
		"/api/health",
		"/version",
		"/sync/*",
		"/swagger/*",
	}))

	// Health and version
	r.Get("/health", healthHandler.HealthCheck)
	r.Get("/api/health", healthHandler.HealthCheck)
	r.Get("/version", handlers.VersionHandler)
	r.Get("/swagger/*", httpSwagger.Handler())

	// Legacy XML sync protocol
	r.Route("/sync", func(r chi.Router) {
		r.Post("/login", syncHandler.Login)
		r.Post("/logout", syncHandler.Logout)
		r.Post("/updated", syncHandler.Updated)
		r.Post("/upload", syncHandler.Upload)
		r.Post("/uploadstatus", syncHandler.UploadStatus)
	})

	// Versioned object API
	r.Route("/api/libraries/{libraryID}", func(r chi.Router) {
		r.Use(custommw.LibraryAccess(libraryRepo))

		// Route segments are plural; the stored object type is the singular
		// form shared with the sync protocol
		for _, ot := range []struct {
			route string
			typ   string
		}{
			{"items", models.ObjectTypeItem},
			{"collections", models.ObjectTypeCollection},
			{"searches", models.ObjectTypeSearch},
			{"settings", models.ObjectTypeSetting},
		} {
			ot := ot
			r.Route("/"+ot.route, func(r chi.Router) {
				r.Get("/", objectHandler.List(ot.typ))
				r.Post("/", objectHandler.Write(ot.typ))
				r.Delete("/", objectHandler.DeleteMany(ot.typ))
				r.Get("/{key}", objectHandler.Get(ot.typ))
				r.Put("/{key}", objectHandler.Update(ot.typ))
				r.Patch("/{key}", objectHandler.Patch(ot.typ))
				r.Delete("/{key}", objectHandler.Delete(ot.typ))
			})
		}

		r.Get("/items/{key}/file", fileHandler.GetFileInfo)
		r.Post("/items/{key}/file", fileHandler.Upload)
	})

	// Admin API
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(custommw.RequireAdmin)
		r.Post("/users", adminHandler.CreateUser)
		r.Get("/users/{id}", adminHandler.GetUser)
		r.Post("/libraries/{libraryID}/lock", adminHandler.LockLibrary)
		r.Post("/libraries/{libraryID}/unlock", adminHandler.UnlockLibrary)
	})

	// Create server
	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Longer for bulk uploads
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("LibSync Server starting on %s", cfg.ServerAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	if telemetry != nil {
		if err := telemetry.Shutdown(ctx); err != nil {
			log.Printf("Telemetry shutdown: %v", err)
		}
	}

	log.Println("Server stopped")
}
