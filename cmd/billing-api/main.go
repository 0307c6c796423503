package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/ledgerlink/billing/internal/di"
	domain "github.com/ledgerlink/billing/internal/domain"
	"github.com/ledgerlink/billing/internal/handlers"
	"github.com/ledgerlink/billing/internal/platform/config"
	"github.com/ledgerlink/billing/internal/platform/jobs"
	"github.com/ledgerlink/billing/internal/platform/observability"
	"github.com/ledgerlink/billing/internal/platform/secrets"
	platformstorage "github.com/ledgerlink/billing/internal/platform/storage"
	"github.com/ledgerlink/billing/internal/repositories"
	"github.com/ledgerlink/billing/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues["BILLING_LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("billing-api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	registry, err := di.OpenRegistry(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to open billing store", zap.Error(err), zap.String("driver", cfg.Store.Driver))
	}

	logEvent := observability.NewEventLogger(logger.Named("billing"))
	deps := di.Deps{
		Logger: logEvent,
		Build:  buildInfoFromEnv(envValues, cfg, startedAt),
	}

	if bucket := strings.TrimSpace(cfg.Storage.ExportsBucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		exporter, err := newReportExporter(storageClient, cfg.Storage, logEvent)
		if err != nil {
			logger.Fatal("failed to initialise report exporter", zap.Error(err))
		}
		deps.Exporter = exporter
		deps.HealthChecks = append(deps.HealthChecks, repositories.DependencyCheck{
			Name:    "storage",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				_, err := storageClient.Bucket(bucket).Attrs(ctx)
				return err
			},
		})
	}

	if projectID := strings.TrimSpace(cfg.PubSub.ProjectID); projectID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, projectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := pubsubClient.Topic(cfg.PubSub.ReportTopic)
		publisher, err := jobs.NewPubSubReportPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise report publisher", zap.Error(err))
		}
		defer publisher.Stop()
		deps.Notifier = publisher
		deps.HealthChecks = append(deps.HealthChecks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s does not exist", topic.ID())
				}
				return nil
			},
		})
	}

	container, err := di.NewContainer(ctx, cfg, registry, deps)
	if err != nil {
		logger.Fatal("failed to initialise dependency container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("billing store close error", zap.Error(err))
		}
	}()

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(deps.Build),
		handlers.WithHealthSystemService(container.Services.System),
	)
	reportHandlers := handlers.NewBillingReportHandlers(container.Services.Reports,
		handlers.WithDefaultReportFormat(domain.ReportFormat(cfg.Billing.DefaultFormat)),
		handlers.WithReportRateLimit(cfg.Billing.RateLimit, cfg.Billing.RateWindow, time.Now),
		handlers.WithReportLogger(logEvent),
	)
	ruleHandlers := handlers.NewRuleHandlers(container.Services.Rules)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithTimeout(cfg.Billing.ReportTimeout),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCustomerRoutes(reportHandlers.Routes),
		handlers.WithRuleRoutes(ruleHandlers.Routes),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("store", cfg.Store.Driver))
	go func() {
		serverLogger.Info("ledgerlink billing api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newReportExporter(client *cloudstorage.Client, cfg config.StorageConfig, logEvent observability.EventLogger) (*platformstorage.ReportExporter, error) {
	writer, err := platformstorage.NewGCSObjectWriter(client)
	if err != nil {
		return nil, err
	}
	deps := platformstorage.ReportExporterDeps{
		Writer: writer,
		Bucket: cfg.ExportsBucket,
		URLTTL: cfg.SignedURLTTL,
		Logger: logEvent,
	}
	if keyFile := strings.TrimSpace(cfg.SignerKeyFile); keyFile != "" {
		signer, err := platformstorage.NewServiceAccountSignerFromFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("load storage signer key: %w", err)
		}
		signed, err := platformstorage.NewClient(signer)
		if err != nil {
			return nil, err
		}
		deps.Signer = signed
	}
	return platformstorage.NewReportExporter(deps)
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["BILLING_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["BILLING_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firestore.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.PubSub.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("BILLING_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("BILLING_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("BILLING_FIRESTORE_PROJECT_ID")
	}
	if defaultProject == "" {
		defaultProject = lookup("GOOGLE_CLOUD_PROJECT")
	}
	fallbackPath := lookup("BILLING_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projectMap := parseKeyValueList(lookup("BILLING_SECRET_PROJECT_MAP")); len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := parseKeyValueList(lookup("BILLING_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentialsFile := lookup("BILLING_SECRET_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists config fields that must resolve before the server starts. The SQL
// drivers cannot run without a DSN.
func requiredSecretNames(env map[string]string) []string {
	switch strings.ToLower(strings.TrimSpace(env["BILLING_STORE_DRIVER"])) {
	case "postgres":
		return []string{"Store.DSN"}
	default:
		return nil
	}
}

// parseKeyValueList reads "key=value,key=value" lists. Entries without a key or value are ignored.
func parseKeyValueList(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	result := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}
