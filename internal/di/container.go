package di

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/payments"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/cache"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/config"
	pfirestore "github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/firestore"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/idempotency"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/jobs"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/observability"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/retry"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/storage"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/repositories"
	firestoreRepo "github.com/AFFWORLDT/ChicCOMET-sub001/internal/repositories/firestore"
	sqliteRepo "github.com/AFFWORLDT/ChicCOMET-sub001/internal/repositories/sqlite"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/services"
)

// Services bundles the service-layer contracts the handlers and the reconcile CLI rely upon.
type Services struct {
	Orders     services.OrderService
	Payments   services.PaymentService
	Webhooks   services.WebhookProcessor
	Dispatcher services.NotificationDispatcher
	Reconcile  services.ReconcileService
	System     services.SystemService
}

// Container wires the store, caches, provider clients and services for runtime use.
type Container struct {
	Config      config.Config
	Store       repositories.Store
	Redis       *redis.Client
	Idempotency idempotency.Store
	Reports     *storage.ReportArchive
	Executor    *retry.Executor
	Services    Services

	closers []func() error
}

// Option overrides a collaborator NewContainer would otherwise build from configuration.
type Option func(*overrides)

type overrides struct {
	store   repositories.Store
	gateway payments.Gateway
	sender  services.NotificationSender
	writer  storage.ObjectWriter
	sleep   func(ctx context.Context, d time.Duration) error
	clock   func() time.Time
}

// WithStore supplies an already opened order store.
func WithStore(store repositories.Store) Option {
	return func(o *overrides) { o.store = store }
}

// WithGateway supplies the payment gateway instead of dialling Stripe.
func WithGateway(gateway payments.Gateway) Option {
	return func(o *overrides) { o.gateway = gateway }
}

// WithNotificationSender supplies the notification transport.
func WithNotificationSender(sender services.NotificationSender) Option {
	return func(o *overrides) { o.sender = sender }
}

// WithObjectWriter supplies the object writer used for payload and report archives.
func WithObjectWriter(writer storage.ObjectWriter) Option {
	return func(o *overrides) { o.writer = writer }
}

// WithRetrySleep replaces the retry back-off sleep.
func WithRetrySleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *overrides) { o.sleep = sleep }
}

// WithClock overrides the clock handed to every service.
func WithClock(clock func() time.Time) Option {
	return func(o *overrides) { o.clock = clock }
}

// NewContainer constructs the runtime dependencies. Partially built resources are released when
// a later step fails.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, build services.BuildInfo, opts ...Option) (c *Container, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o overrides
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.clock == nil {
		o.clock = time.Now
	}

	c = &Container{Config: cfg}
	defer func() {
		if err != nil {
			_ = c.Close()
			c = nil
		}
	}()

	var provider *pfirestore.Provider
	c.Store = o.store
	if c.Store == nil {
		c.Store, provider, err = openStore(cfg)
		if err != nil {
			return c, err
		}
		c.closers = append(c.closers, c.Store.Close)
	}

	c.Redis = cache.NewRedisClient(cfg.Redis)
	if c.Redis != nil {
		c.closers = append(c.closers, c.Redis.Close)
	}
	eventCache := cache.NewAppliedEventCache(c.Redis, cfg.Redis.EventTTL)

	switch {
	case c.Redis != nil:
		c.Idempotency = idempotency.NewRedisStore(c.Redis)
	case provider != nil:
		c.Idempotency = idempotency.NewFirestoreStore(provider)
	default:
		c.Idempotency = idempotency.NewMemoryStore()
	}

	writer := o.writer
	if writer == nil && strings.TrimSpace(cfg.Storage.WebhookArchiveBucket) != "" {
		gcs, gcsErr := cloudstorage.NewClient(ctx)
		if gcsErr != nil {
			return c, fmt.Errorf("di: storage client: %w", gcsErr)
		}
		c.closers = append(c.closers, gcs.Close)
		writer = storage.NewGCSWriter(gcs)
	}
	archive, err := storage.NewWebhookArchive(writer, cfg.Storage.WebhookArchiveBucket)
	if err != nil {
		return c, err
	}
	c.Reports, err = storage.NewReportArchive(writer, cfg.Storage.WebhookArchiveBucket)
	if err != nil {
		return c, err
	}

	sender := o.sender
	if sender == nil {
		sender, err = c.notificationSender(ctx, cfg, logger)
		if err != nil {
			return c, err
		}
	}

	gateway := o.gateway
	if gateway == nil {
		gateway, err = payments.NewStripeGateway(payments.StripeGatewayConfig{
			APIKey:        cfg.PSP.StripeAPIKey,
			WebhookSecret: cfg.PSP.StripeWebhookSecret,
			Tolerance:     cfg.PSP.WebhookTolerance,
			Logger:        payments.StripeLogger(observability.ServiceLogger(logger, "stripe")),
		})
		if err != nil {
			return c, fmt.Errorf("di: stripe gateway: %w", err)
		}
	}

	retryOpts := []retry.Option{retry.WithLogger(observability.ServiceLogger(logger, "retry"))}
	if o.sleep != nil {
		retryOpts = append(retryOpts, retry.WithSleep(o.sleep))
	}
	c.Executor = retry.New(retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}, retryOpts...)

	c.Services, err = c.buildServices(cfg, logger, build, gateway, sender, eventCache, archive, o.clock)
	if err != nil {
		return c, err
	}
	return c, nil
}

func (c *Container) buildServices(cfg config.Config, logger *zap.Logger, build services.BuildInfo, gateway payments.Gateway, sender services.NotificationSender, eventCache services.AppliedEventCache, archive *storage.WebhookArchive, clock func() time.Time) (Services, error) {
	var svc Services

	dispatcher, err := services.NewNotificationDispatcher(services.NotificationDispatcherDeps{
		Sender:            sender,
		Outbox:            c.Store.Notifications(),
		Executor:          c.Executor,
		InternalRecipient: cfg.Notifications.InternalRecipient,
		Timeout:           cfg.Notifications.DispatchTimeout,
		Clock:             clock,
		Logger:            observability.ServiceLogger(logger, "notifications"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build notification dispatcher: %w", err)
	}
	svc.Dispatcher = dispatcher

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     c.Store.Orders(),
		Users:      c.Store.Users(),
		Counters:   c.Store.Counters(),
		Executor:   c.Executor,
		Dispatcher: dispatcher,
		Currency:   cfg.PSP.Currency,
		Pricing: domain.PricingRules{
			FreeShippingThreshold: domain.Money(cfg.Pricing.FreeShippingThreshold),
			FlatShipping:          domain.Money(cfg.Pricing.FlatShipping),
			TaxRate:               cfg.Pricing.TaxRate,
		},
		Clock:  clock,
		Logger: observability.ServiceLogger(logger, "orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:   c.Store.Orders(),
		Gateway:  gateway,
		Executor: c.Executor,
		Clock:    clock,
		Logger:   observability.ServiceLogger(logger, "payments"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	deps := services.WebhookProcessorDeps{
		Orders:     c.Store.Orders(),
		Gateway:    gateway,
		Executor:   c.Executor,
		Dispatcher: dispatcher,
		Cache:      eventCache,
		Clock:      clock,
		Logger:     observability.ServiceLogger(logger, "webhooks"),
	}
	if archive != nil {
		deps.Archive = archive
	}
	processor, err := services.NewWebhookProcessor(deps)
	if err != nil {
		return Services{}, fmt.Errorf("build webhook processor: %w", err)
	}
	svc.Webhooks = processor

	reconcile, err := services.NewReconcileService(services.ReconcileServiceDeps{
		Orders:    c.Store.Orders(),
		Gateway:   gateway,
		Processor: processor,
		Executor:  c.Executor,
		OlderThan: cfg.Reconcile.OlderThan,
		Limit:     cfg.Reconcile.BatchSize,
		Clock:     clock,
		Logger:    observability.ServiceLogger(logger, "reconcile"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build reconcile service: %w", err)
	}
	svc.Reconcile = reconcile

	health, err := repositories.NewDependencyHealthRepository(c.dependencyChecks(), repositories.WithDependencyClock(clock))
	if err != nil {
		return Services{}, fmt.Errorf("build health repository: %w", err)
	}
	system, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: health,
		Clock:            clock,
		Build:            build,
		Logger:           observability.ServiceLogger(logger, "system"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = system

	return svc, nil
}

func (c *Container) dependencyChecks() []repositories.DependencyCheck {
	checks := []repositories.DependencyCheck{{
		Name:    "orders",
		Timeout: 1500 * time.Millisecond,
		Check:   c.Store.Ping,
	}}
	if c.Redis != nil {
		rdb := c.Redis
		checks = append(checks, repositories.DependencyCheck{
			Name:     "redis",
			Timeout:  500 * time.Millisecond,
			Optional: true,
			Check: func(ctx context.Context) error {
				return cache.Ping(ctx, rdb)
			},
		})
	}
	return checks
}

func (c *Container) notificationSender(ctx context.Context, cfg config.Config, logger *zap.Logger) (services.NotificationSender, error) {
	topicName := strings.TrimSpace(cfg.PubSub.NotificationTopic)
	if topicName == "" {
		logger.Warn("notification topic not configured; notifications are logged only")
		return services.LogSender{Logger: observability.ServiceLogger(logger, "notifications")}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("di: pubsub client: %w", err)
	}
	topic := client.Topic(topicName)
	c.closers = append(c.closers, func() error {
		topic.Stop()
		return client.Close()
	})
	return jobs.NewPubSubNotificationSender(topic)
}

func openStore(cfg config.Config) (repositories.Store, *pfirestore.Provider, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverSQLite:
		if dir := filepath.Dir(cfg.Store.SQLitePath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("di: create sqlite dir: %w", err)
			}
		}
		store, err := sqliteRepo.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case config.StoreDriverFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		store, err := firestoreRepo.NewStore(provider)
		if err != nil {
			_ = provider.Close()
			return nil, nil, err
		}
		return store, provider, nil
	default:
		return nil, nil, fmt.Errorf("di: unsupported store driver %q", cfg.Store.Driver)
	}
}

// Drain waits for background notification and archive work started by request handlers.
func (c *Container) Drain() {
	if c == nil {
		return
	}
	if c.Services.Webhooks != nil {
		c.Services.Webhooks.Wait()
	}
	if c.Services.Dispatcher != nil {
		c.Services.Dispatcher.Wait()
	}
}

// Close releases clients in reverse order of construction.
func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
