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

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/IBM/sarama"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hanko-field/checkout/internal/handlers"
	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/platform/config"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/platform/idempotency"
	"github.com/hanko-field/checkout/internal/platform/jobs"
	"github.com/hanko-field/checkout/internal/platform/observability"
	"github.com/hanko-field/checkout/internal/platform/secrets"
	"github.com/hanko-field/checkout/internal/repositories"
	firestoreRepo "github.com/hanko-field/checkout/internal/repositories/firestore"
	"github.com/hanko-field/checkout/internal/services"
)

const idempotencyCollection = "idempotencyKeys"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("checkout")
	ctx = observability.WithLogger(ctx, logger)
	eventLogger := observability.EventLogger(logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

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
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets("PSP.StripeAPIKey", "PSP.StripeWebhookSecret"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	intentRepo, err := firestoreRepo.NewPaymentIntentRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise payment intent repository", zap.Error(err))
	}
	couponRepo, err := firestoreRepo.NewCouponRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise coupon repository", zap.Error(err))
	}
	catalogRepo, err := firestoreRepo.NewCatalogRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise catalog repository", zap.Error(err))
	}
	cartRepo, err := firestoreRepo.NewCartRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise cart repository", zap.Error(err))
	}

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:    cfg.PSP.StripeAPIKey,
		AccountID: cfg.PSP.StripeAccountID,
		Logger:    payments.StripeLogger(eventLogger),
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe provider", zap.Error(err))
	}
	paymentManager, err := payments.NewManager(map[string]payments.Provider{"stripe": stripeProvider},
		payments.WithDefaultProvider("stripe"),
	)
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}

	publisher, closePublisher, err := newOrderEventPublisher(ctx, cfg.Events, logger)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}
	defer closePublisher()

	idGenerator := func() string { return ulid.Make().String() }

	ledger, err := services.NewOrderLedger(services.OrderLedgerDeps{
		Orders:      orderRepo,
		Events:      publisher,
		Clock:       time.Now,
		IDGenerator: idGenerator,
		Logger:      eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise order ledger", zap.Error(err))
	}
	resolver, err := services.NewProductResolver(services.ProductResolverDeps{
		Catalog:        catalogRepo,
		PriceTolerance: cfg.Checkout.PriceTolerance,
	})
	if err != nil {
		logger.Fatal("failed to initialise product resolver", zap.Error(err))
	}
	coupons, err := services.NewCouponValidator(services.CouponValidatorDeps{Coupons: couponRepo})
	if err != nil {
		logger.Fatal("failed to initialise coupon validator", zap.Error(err))
	}
	cartStore, err := services.NewCartService(services.CartServiceDeps{
		Carts:    cartRepo,
		Resolver: resolver,
		Catalog:  catalogRepo,
		Coupons:  coupons,
		Ledger:   ledger,
		Clock:    time.Now,
		Logger:   eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise cart service", zap.Error(err))
	}
	materializer, err := services.NewCartMaterializer(services.CartMaterializerDeps{
		Resolver:        resolver,
		Catalog:         catalogRepo,
		Coupons:         coupons,
		Ledger:          ledger,
		Carts:           cartStore,
		DefaultCurrency: cfg.Checkout.DefaultCurrency,
		Clock:           time.Now,
		Logger:          eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise cart materializer", zap.Error(err))
	}
	bridge, err := services.NewPaymentBridge(services.PaymentBridgeDeps{
		Ledger:          ledger,
		Intents:         intentRepo,
		Gateway:         paymentManager,
		ProviderTimeout: cfg.PSP.ProviderTimeout,
		Clock:           time.Now,
		IDGenerator:     idGenerator,
		Logger:          eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment bridge", zap.Error(err))
	}
	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Materializer: materializer,
		Ledger:       ledger,
		Payments:     bridge,
		Logger:       eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}

	systemService, err := newSystemService(firestoreClient, fetcher, buildInfo)
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}

	idempotencyStore, err := newIdempotencyStore(ctx, cfg, firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	idempotency.StartCleanup(cleanupCtx, idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithFallbackRole(auth.RoleBuyer))
	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg)

	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, checkoutService, coupons,
		handlers.WithCheckoutIdempotency(idempotencyMiddleware),
	)
	orderHandlers := handlers.NewOrderHandlers(authenticator, ledger, checkoutService, bridge,
		handlers.WithOrderIdempotency(idempotencyMiddleware),
	)
	webhookHandlers := handlers.NewPaymentWebhookHandlers(bridge, cfg.PSP.StripeWebhookSecret)
	internalHandlers := handlers.NewInternalPaymentHandlers(bridge)

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(buildInfo)}
	if systemService != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(systemService))
	}

	projectID := traceProjectID(cfg)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
		handlers.WithInternalMiddlewares(oidcMiddleware),
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

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("checkout api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")
	cleanupCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// newOrderEventPublisher selects the order event transport. The returned close func
// flushes and releases the underlying client.
func newOrderEventPublisher(ctx context.Context, cfg config.EventsConfig, logger *zap.Logger) (services.OrderEventPublisher, func(), error) {
	switch cfg.Backend {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub client: %w", err)
		}
		topic := client.Topic(cfg.Topic)
		topic.EnableMessageOrdering = true
		publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return publisher, func() {
			topic.Stop()
			if err := client.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}, nil
	case "kafka":
		producer, err := jobs.NewKafkaSyncProducer(cfg.KafkaBrokers)
		if err != nil {
			return nil, nil, fmt.Errorf("kafka producer: %w", err)
		}
		publisher, err := jobs.NewKafkaOrderEventPublisher(producer, cfg.Topic)
		if err != nil {
			_ = producer.Close()
			return nil, nil, err
		}
		return publisher, func() { closeKafka(producer, logger) }, nil
	case "none":
		logger.Warn("order events disabled")
		return nil, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported events backend %q", cfg.Backend)
	}
}

func closeKafka(producer sarama.SyncProducer, logger *zap.Logger) {
	if err := producer.Close(); err != nil {
		logger.Warn("kafka producer close error", zap.Error(err))
	}
}

func newIdempotencyStore(ctx context.Context, cfg config.Config, provider *pfirestore.Provider) (idempotency.Store, error) {
	switch cfg.Idempotency.Backend {
	case "firestore":
		return idempotency.NewFirestoreStore(provider, idempotencyCollection), nil
	case "redis":
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			return nil, errors.New("idempotency: redis backend requires API_REDIS_ADDR")
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("idempotency: redis ping: %w", err)
		}
		return idempotency.NewRedisStore(rdb), nil
	case "memory":
		return idempotency.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("idempotency: unsupported backend %q", cfg.Idempotency.Backend)
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
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

func newSystemService(client *firestore.Client, fetcher *secrets.Fetcher, build services.BuildInfo) (services.SystemService, error) {
	checks := make([]repositories.DependencyCheck, 0, 2)
	if client != nil {
		c := client
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := c.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	repo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Clock:            time.Now,
		Build:            build,
	})
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	adapter := observability.NewPrintfAdapter(logger)
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(adapter))
	validator := auth.NewOIDCValidator(cache, adapter)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projectMap := secretProjectMapFromEnv(lookup("API_SECRET_PROJECT_IDS")); len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// secretProjectMapFromEnv parses "env=project" pairs separated by commas.
func secretProjectMapFromEnv(raw string) map[string]string {
	projects := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		envLabel, project, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		envLabel = strings.ToLower(strings.TrimSpace(envLabel))
		project = strings.TrimSpace(project)
		if envLabel == "" || project == "" {
			continue
		}
		projects[envLabel] = project
	}
	return projects
}
