package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appcheckout "github.com/sokoline/storefront/internal/application/checkout"
	appinventory "github.com/sokoline/storefront/internal/application/inventory"
	apporder "github.com/sokoline/storefront/internal/application/order"
	"github.com/sokoline/storefront/internal/config"
	dominventory "github.com/sokoline/storefront/internal/domain/inventory"
	domnotify "github.com/sokoline/storefront/internal/domain/notify"
	"github.com/sokoline/storefront/internal/infrastructure/id"
	"github.com/sokoline/storefront/internal/infrastructure/memory"
	"github.com/sokoline/storefront/internal/infrastructure/mpesa"
	notifyinfra "github.com/sokoline/storefront/internal/infrastructure/notify"
	"github.com/sokoline/storefront/internal/infrastructure/observability/oteltrace"
	"github.com/sokoline/storefront/internal/infrastructure/observability/prometrics"
	"github.com/sokoline/storefront/internal/infrastructure/observability/telemetry"
	"github.com/sokoline/storefront/internal/infrastructure/observability/zaplogger"
	"github.com/sokoline/storefront/internal/infrastructure/redisstore"
	"github.com/sokoline/storefront/internal/observability"
	httptransport "github.com/sokoline/storefront/internal/presentation/http"
	"github.com/sokoline/storefront/internal/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	baseZap := logging.MustNewLogger(cfg.ServiceName, cfg.Env)
	defer func() { _ = baseZap.Sync() }()
	zap.ReplaceGlobals(baseZap)

	systemZap := logging.WithTrace(baseZap, logging.SystemTraceID, logging.SystemSpanID)
	baseLogger := zaplogger.Wrap(baseZap)

	registry := prometrics.New(cfg.ServiceName, "")
	counters := map[observability.MetricKey]observability.Counter{
		observability.MUsecaseRequests: registry.Counter(
			string(observability.MUsecaseRequests),
			"Total number of use case invocations.",
			"use_case", "outcome",
		),
		observability.MHTTPRequests: registry.Counter(
			string(observability.MHTTPRequests),
			"Total number of HTTP requests.",
			"method", "route", "status",
		),
		observability.MExternalRequests: registry.Counter(
			string(observability.MExternalRequests),
			"Total number of outbound requests to external peers.",
			"peer", "endpoint", "outcome",
		),
	}
	histograms := map[observability.MetricKey]observability.Histogram{
		observability.MUsecaseDuration: registry.Histogram(
			string(observability.MUsecaseDuration),
			"Duration of use case execution in seconds.",
			prometheus.DefBuckets,
			"use_case",
		),
		observability.MHTTPRequestDuration: registry.Histogram(
			string(observability.MHTTPRequestDuration),
			"Duration of HTTP requests in seconds.",
			prometheus.DefBuckets,
			"method", "route", "status",
		),
		observability.MExternalRequestDuration: registry.Histogram(
			string(observability.MExternalRequestDuration),
			"Duration of outbound requests in seconds.",
			prometheus.DefBuckets,
			"peer", "endpoint",
		),
	}
	tel := telemetry.New(oteltrace.New(cfg.ServiceName), baseLogger, counters, histograms)

	orderRepo := memory.NewOrderRepository()

	var inventoryRepo dominventory.Repository
	switch cfg.InventoryStore {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		inventoryRepo = redisstore.NewInventoryRepository(client)
	default:
		inventoryRepo = memory.NewInventoryRepository()
	}

	gateway := mpesa.NewClient(mpesa.Config{
		BaseURL:        cfg.GatewayBaseURL,
		ConsumerKey:    cfg.GatewayConsumerKey,
		ConsumerSecret: cfg.GatewayConsumerSecret,
		ShortCode:      cfg.GatewayShortCode,
		Passkey:        cfg.GatewayPasskey,
		CallbackURL:    cfg.GatewayCallbackURL,
		Timeout:        cfg.GatewayTimeout,
	}, baseLogger)

	bus := notifyinfra.NewBus(baseLogger)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())
	bus.Subscribe(domnotify.OrderCompletedEvent{}.EventName(), func(ctx context.Context, e domnotify.Event) error {
		evt, ok := e.(domnotify.OrderCompletedEvent)
		if !ok {
			return nil
		}
		baseLogger.Info("order_completed",
			observability.F("order_id", evt.OrderID),
			observability.F("order_number", evt.OrderNumber),
			observability.F("amount", evt.Amount),
		)
		return nil
	})

	var notifier domnotify.Publisher = bus
	if len(cfg.NotifyBrokers) > 0 {
		kafkaNotifier := notifyinfra.NewKafkaNotifier(cfg.NotifyBrokers, cfg.NotifyTopic, baseLogger)
		defer func() { _ = kafkaNotifier.Close() }()
		notifier = kafkaNotifier
	}

	stockService := appinventory.NewService(inventoryRepo, tel)
	for productID, qty := range cfg.SeedStock {
		if err := stockService.Set(context.Background(), productID, qty); err != nil {
			systemZap.Error("stock_seed_failed",
				zap.String("product_id", productID),
				zap.Error(err),
			)
		}
	}

	orderRecorder := apporder.NewRecordUseCase(orderRepo, id.NewUUIDGenerator(), tel)
	checkoutUC := appcheckout.NewUseCase(
		gateway,
		gateway,
		orderRecorder,
		stockService,
		notifier,
		appcheckout.Config{
			MaxPollAttempts: cfg.MaxPollAttempts,
			PollInterval:    cfg.PollInterval,
		},
		tel,
	)

	handler := httptransport.NewHandler(gateway, gateway, orderRecorder, stockService, checkoutUC, baseLogger, tel)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		systemZap.Info("http_server_start",
			zap.String("addr", server.Addr),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			systemZap.Error("http_server_error",
				zap.Error(err),
			)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		systemZap.Error("http_server_shutdown_error",
			zap.Error(err),
		)
	} else {
		systemZap.Info("http_server_stopped")
	}
}
