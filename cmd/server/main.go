package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/joho/godotenv/autoload"
	"github.com/maneesh/dropstream/internal/config"
	"github.com/maneesh/dropstream/internal/handlers"
	"github.com/maneesh/dropstream/internal/inspector"
	"github.com/maneesh/dropstream/internal/logging"
	"github.com/maneesh/dropstream/internal/storage"
	"github.com/maneesh/dropstream/internal/tracing"
	"github.com/maneesh/dropstream/internal/upload"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.Fatalf("Failed to configure logging: %v", err)
	}
	logger.WithFields(logrus.Fields{
		"service":   cfg.ServiceName,
		"port":      cfg.ServicePort,
		"downloads": cfg.DownloadsDir,
	}).Info("Starting dropstream service...")

	// Initialize OpenTelemetry tracing
	shutdownTracer, err := tracing.InitTracer(cfg.TracingEnabled, cfg.ServiceName, cfg.JaegerEndpoint)
	if err != nil {
		logger.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Errorf("Error shutting down tracer: %v", err)
		}
	}()

	if err := os.MkdirAll(cfg.DownloadsDir, 0o755); err != nil {
		logger.Fatalf("Failed to create downloads directory: %v", err)
	}

	// Initialize Redis progress channel
	logger.Info("Connecting to Redis...")
	redisClient, err := storage.NewRedisClient(cfg.GetRedisAddr(), cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("Failed to initialize Redis client: %v", err)
	}
	notifier := storage.NewRedisNotifier(redisClient, cfg.ChannelPrefix)
	defer notifier.Close()

	dispatcherCfg := handlers.DispatcherConfig{
		DownloadsDir:     cfg.DownloadsDir,
		Lister:           inspector.New(),
		Notifier:         notifier,
		Clock:            upload.SystemClock{},
		MessageTimeDelay: cfg.MessageTimeDelay,
		ChunkSize:        cfg.GetChunkSizeBytes(),
		Logger:           logger,
	}

	// Optional MinIO mirror
	if cfg.MirrorEnabled {
		logger.Info("Connecting to MinIO...")
		mirror, err := storage.NewMinioMirror(
			cfg.MinIOEndpoint,
			cfg.MinIOAccessKey,
			cfg.MinIOSecretKey,
			cfg.MinIOBucketName,
			cfg.MinIOUseSSL,
		)
		if err != nil {
			logger.Fatalf("Failed to initialize MinIO mirror: %v", err)
		}
		dispatcherCfg.Mirror = mirror
	}

	// Optional TiDB upload ledger
	if cfg.LedgerEnabled {
		logger.Info("Connecting to TiDB...")
		ledger, err := storage.NewTiDBLedger(cfg.GetDSN())
		if err != nil {
			logger.Fatalf("Failed to initialize TiDB ledger: %v", err)
		}
		defer ledger.Close()
		dispatcherCfg.Ledger = ledger
	}

	dispatcher := handlers.NewDispatcher(dispatcherCfg)
	socket := handlers.NewSocketHandler(notifier, logger)

	// Setup HTTP router
	router := mux.NewRouter()
	router.Use(handlers.AllowAnyOrigin)

	// Health check endpoint (no tracing needed)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	router.Handle("/socket", socket).Methods("GET")
	router.PathPrefix("/").Handler(otelhttp.NewHandler(dispatcher, "dispatch"))

	// Create HTTP server. Only the header read is timed; upload bodies are unbounded.
	srv := &http.Server{
		Addr:              ":" + cfg.ServicePort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server in a goroutine
	go func() {
		logger.Infof("Server listening on port %s", cfg.ServicePort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}
