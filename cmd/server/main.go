package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"vainalista-api/internal/auth"
	"vainalista-api/internal/cache"
	"vainalista-api/internal/config"
	"vainalista-api/internal/connectivity"
	"vainalista-api/internal/database"
	"vainalista-api/internal/directory"
	"vainalista-api/internal/handlers"
	"vainalista-api/internal/logging"
	"vainalista-api/internal/middleware"
	"vainalista-api/internal/migration"
	"vainalista-api/internal/session"
	"vainalista-api/internal/storage"
	"vainalista-api/internal/tls"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logging first
	logging.InitLogger(cfg.Log)
	gin.SetMode(cfg.Server.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Logger.Fatalf("Server stopped: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logging.For("server")

	var db *gorm.DB
	if cfg.NeedsDatabase() {
		var err error
		db, err = database.Connect(cfg.Database)
		if err != nil {
			return err
		}
		if cfg.Server.MigrateOnStart {
			if err := migrateSchema(db, cfg.Database); err != nil {
				return err
			}
		}
	}

	store, err := openStore(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("Failed to close document store")
		}
	}()

	local, err := openCache(cfg.Server.CacheDBPath)
	if err != nil {
		return err
	}

	dir := directory.New(store, local,
		directory.WithTTL(cfg.Server.DirectoryCacheTTL),
		directory.WithMaxEntries(cfg.Server.DirectoryCacheMax),
	)

	monitor := connectivity.NewMonitor(store.Ping(ctx) == nil, logging.For("connectivity"))
	go monitor.Run(ctx, store, cfg.Server.ProbeInterval)

	sessions := session.NewManager(store, dir, monitor,
		session.WithCache(local),
		session.WithLoadTimeout(cfg.Server.SessionLoadTimeout),
	)
	defer sessions.Close()
	go sessions.Run(ctx, cfg.Server.SessionReapInterval, cfg.Server.SessionIdleTimeout)

	routes := handlers.Routes{
		Sessions:  sessions,
		Directory: dir,
		Cache:     local,
		RateLimit: cfg.RateLimit,
		Origins:   websocketOrigins(cfg.CORS),
	}

	switch cfg.Server.AuthProvider {
	case config.ProviderFirebase:
		verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Server.FirebaseProjectID, cfg.Server.CredentialsFile)
		if err != nil {
			return err
		}
		routes.Verifier = verifier
	default:
		if cfg.JWT.UsesDefaultSecret() {
			log.Warn("JWT_SECRET is not set; using the insecure development secret")
		}
		routes.Verifier = auth.NewJWTVerifier(cfg.JWT)
		routes.Accounts = auth.NewService(db, cfg.JWT, store)
	}

	healthOpts := []handlers.HealthOption{
		handlers.WithMonitor(monitor),
		handlers.WithSessions(sessions),
		handlers.WithDirectory(dir),
		handlers.WithCache(local),
	}
	if db != nil {
		healthOpts = append(healthOpts, handlers.WithDatabase(db))
	}
	routes.Health = handlers.NewHealthHandler(store, healthOpts...)

	// Set up Gin router (without default logger since we'll use our own)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.CORS))
	router.Use(middleware.RequestSizeLimit(cfg.Security.MaxRequestBodySize))
	router.Use(middleware.RequestLogger())
	router.Use(middleware.ErrorSanitizer())
	router.Use(middleware.GlobalRateLimiter(cfg.RateLimit))
	if err := router.SetTrustedProxies(cfg.Security.TrustedProxies); err != nil {
		return fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}
	routes.Register(router)

	return serve(ctx, cfg, router)
}

// openStore builds the configured document store
func openStore(ctx context.Context, cfg *config.Config, db *gorm.DB) (storage.Store, error) {
	log := logging.For("server")
	switch cfg.Server.StoreBackend {
	case config.BackendSQL:
		store := storage.NewSQLStore(db)
		if cfg.Database.Driver != database.DriverPostgres {
			if err := store.AutoMigrate(); err != nil {
				return nil, fmt.Errorf("failed to migrate document tables: %w", err)
			}
		}
		log.Infof("Using %s document store", cfg.Database.Driver)
		return store, nil
	case config.BackendFirestore:
		client, err := storage.NewFirestoreClient(ctx, cfg.Server.FirebaseProjectID, cfg.Server.CredentialsFile)
		if err != nil {
			return nil, err
		}
		log.WithField("project_id", cfg.Server.FirebaseProjectID).Info("Using Firestore document store")
		return storage.NewFirestoreStore(client), nil
	default:
		log.Warn("Using in-memory document store; data is lost on restart")
		return storage.NewMemoryStore(), nil
	}
}

// migrateSchema applies the embedded SQL migrations on postgres and
// AutoMigrate on sqlite
func migrateSchema(db *gorm.DB, dbConfig *database.Config) error {
	if dbConfig.Driver != database.DriverPostgres {
		return database.AutoMigrate(db)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	migrator, err := migration.NewWithDB(sqlDB)
	if err != nil {
		return err
	}
	defer migrator.Close()
	return migrator.Up()
}

func openCache(path string) (*cache.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	db, err := database.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	return cache.New(db)
}

// websocketOrigins reuses the CORS allow-list; a wildcard accepts any origin
func websocketOrigins(cors *middleware.CORSConfig) []string {
	if !cors.Enabled {
		return nil
	}
	for _, origin := range cors.AllowedOrigins {
		if origin == "*" {
			return nil
		}
	}
	return cors.AllowedOrigins
}

// serve runs the HTTP (or HTTPS plus redirect) servers until ctx is done
func serve(ctx context.Context, cfg *config.Config, router http.Handler) error {
	log := logging.For("server")
	servers := []*http.Server{}
	errCh := make(chan error, 2)

	start := func(srv *http.Server, listen func() error) {
		servers = append(servers, srv)
		go func() {
			if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	if cfg.TLS.Enabled {
		tlsConfig, err := cfg.TLS.CreateTLSConfig()
		if err != nil {
			return err
		}
		srv := &http.Server{Addr: ":" + cfg.TLS.Port, Handler: router, TLSConfig: tlsConfig, ReadHeaderTimeout: 10 * time.Second}
		log.Infof("Starting HTTPS server on port %s...", cfg.TLS.Port)
		start(srv, func() error { return srv.ListenAndServeTLS("", "") })

		if cfg.TLS.RedirectHTTP {
			redirect := &http.Server{Addr: ":" + cfg.TLS.HTTPPort, Handler: tls.HTTPSRedirectHandler(cfg.TLS.Port), ReadHeaderTimeout: 10 * time.Second}
			log.Infof("Redirecting HTTP on port %s to HTTPS", cfg.TLS.HTTPPort)
			start(redirect, redirect.ListenAndServe)
		}
	} else {
		srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: router, ReadHeaderTimeout: 10 * time.Second}
		log.Infof("Starting server on port %s...", cfg.Server.Port)
		start(srv, srv.ListenAndServe)
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Graceful shutdown failed")
		}
	}
	return runErr
}
