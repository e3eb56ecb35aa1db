package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"aiva/api/internal/app"
	"aiva/api/internal/appconfig"
	"aiva/api/internal/blob"
	"aiva/api/internal/config"
	"aiva/api/internal/email"
	"aiva/api/internal/llm"
	"aiva/api/internal/metrics"
	"aiva/api/internal/search"
	"aiva/api/internal/session"
	"aiva/api/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	verbose bool
	cfg     config.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "aiva",
	Short: "AIVA chat backend",
	Long: `aiva serves the AIVA web chat API: chats, workspaces, files and
model completions.

Run without a subcommand to start the HTTP server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()

		zapConfig := zap.NewProductionConfig()
		level, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			level = zapcore.InfoLevel
		}
		if verbose {
			level = zapcore.DebugLevel
		}
		zapConfig.Level = zap.NewAtomicLevelAt(level)
		logger, err = zapConfig.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: serve,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  serve,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()
		logger.Info("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openDatabase(ctx context.Context) (*sql.DB, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := store.ApplyMigrations(ctx, db, store.MigrationsFS(cfg.MigrationsDir)); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	return db, nil
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	deps := app.Dependencies{
		Store:  store.NewPostgresStore(db),
		Email:  email.NewService(emailConfig(cfg)),
		Logger: logger,
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		deps.Sessions = redisStore
		logger.Info("refresh tokens stored in redis")
	} else {
		logger.Info("refresh tokens stored in postgres")
	}

	if strings.TrimSpace(cfg.BlobEndpoint) != "" {
		minioStore, err := blob.NewMinio(ctx, blob.MinioConfig{
			Endpoint:  cfg.BlobEndpoint,
			AccessKey: cfg.BlobAccessKey,
			SecretKey: cfg.BlobSecretKey,
			Bucket:    cfg.BlobContainer,
			UseSSL:    cfg.BlobUseSSL,
		})
		if err != nil {
			return fmt.Errorf("blob storage failed: %w", err)
		}
		deps.Blob = minioStore
	} else {
		logger.Warn("BLOB_ENDPOINT not set, uploads are kept in memory")
		deps.Blob = blob.NewMemory()
	}

	settingsSource, closeSettings, err := newSettingsSource(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSettings()
	deps.Settings = appconfig.New(settingsSource, cfg.AppConfigTTL, logger)

	client, err := llm.New(llm.Config{
		Provider:        cfg.LLMProvider,
		AzureEndpoint:   cfg.AzureOpenAIEndpoint,
		AzureKey:        cfg.AzureOpenAIKey,
		AzureDeployment: cfg.AzureOpenAIDeployment,
		AzureVersion:    cfg.AzureOpenAIVersion,
		OpenAIKey:       cfg.OpenAIKey,
		OpenAIModel:     cfg.OpenAIModel,
		Timeout:         cfg.LLMTimeout,
	})
	if err != nil {
		return fmt.Errorf("llm client: %w", err)
	}
	deps.LLM = client
	logger.Info("llm client ready", zap.String("model", client.Model()))

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
	}
	deps.Search = search.NewService(meiliClient, search.NewPostgres(db), logger)
	defer deps.Search.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewProm("aiva", registry)
	deps.Metrics = prom

	service := app.New(cfg, deps)
	service.Bootstrap(ctx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, prom.Handler())
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      cfg.LLMTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("AIVA API listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	return nil
}

// newSettingsSource picks the Redis-backed settings store, or in-memory defaults when none is configured.
func newSettingsSource(cfg config.Config, logger *zap.Logger) (appconfig.Source, func() error, error) {
	if strings.TrimSpace(cfg.AppConfigRedisURL) == "" {
		logger.Warn("APP_CONFIG_REDIS_URL not set, using default settings")
		return appconfig.NewMemory(nil), func() error { return nil }, nil
	}
	redisSource, err := appconfig.NewRedis(cfg.AppConfigRedisURL, cfg.AppConfigPrefix)
	if err != nil {
		return nil, nil, fmt.Errorf("app config connection failed: %w", err)
	}
	return redisSource, redisSource.Close, nil
}

func emailConfig(cfg config.Config) email.Config {
	return email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		AppURL:   cfg.AppURL,
	}
}
