package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pos-service/config"
	"pos-service/internal/api"
	"pos-service/internal/broker"
	"pos-service/internal/models"
	"pos-service/internal/notify"
	"pos-service/internal/redisclient"
	"pos-service/internal/service"
	"pos-service/internal/store"
	"pos-service/internal/store/memory"
	"pos-service/internal/util"
	"pos-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	logger, err := util.NewLogger(cfg.Server.Env)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger(logger)

	logger.Info("Starting POS service", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer("pos-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := util.NewMetrics(reg)

	var inventory store.InventoryStore
	checks := map[string]api.ReadinessCheck{}

	if cfg.Database.URL != "" {
		db, err := store.NewStore(cfg.Database.URL, store.Options{
			Isolation:    store.ParseIsolation(cfg.Database.Isolation),
			LockTimeout:  cfg.Database.LockTimeout,
			MaxOpenConns: cfg.Database.MaxOpenConns,
		})
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		if cfg.Database.AutoMigrate {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := db.Migrate(ctx)
			cancel()
			if err != nil {
				logger.Fatal("Failed to apply schema", zap.Error(err))
			}
		}
		logger.Info("Database connected", zap.String("isolation", cfg.Database.Isolation))
		inventory = db
		checks["database"] = db.Ping
	} else {
		mem := memory.New(cfg.Database.LockTimeout)
		seedDemoProducts(mem, logger)
		logger.Warn("DATABASE_URL not set, using in-memory store")
		inventory = mem
	}

	var snapshot service.StockSnapshot
	var redisClient *redisclient.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis, stock reads use the store", zap.Error(err))
		} else {
			defer redisClient.Close()
			logger.Info("Redis connected")
			snapshot = redisClient
			checks["redis"] = redisClient.Ping
		}
	}

	var events service.EventPublisher
	var smsNotifier notify.Notifier = notify.NewLogNotifier(logger)
	if len(cfg.Kafka.Brokers) > 0 {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicSales, logger)
		defer producer.Close()
		events = broker.NewEventPublisher(producer)

		smsProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, logger)
		defer smsProducer.Close()
		smsNotifier = notify.NewKafkaSMSNotifier(smsProducer)

		logger.Info("Kafka producers initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	} else {
		logger.Warn("KAFKA_BROKERS not set, events disabled and SMS written to the log")
	}

	dispatcher := notify.NewDispatcher(smsNotifier, logger, metrics, cfg.Business.NotificationTimeout)

	saleService := service.NewSaleService(inventory, events, dispatcher, metrics, logger, service.Options{
		PhoneCountryCode: cfg.Business.PhoneCountryCode,
		CurrencyCode:     cfg.Business.CurrencyCode,
	})
	stockReader := service.NewStockReader(snapshot, inventory, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var snapshotWorker *worker.StockSnapshotWorker
	if redisClient != nil && len(cfg.Kafka.Brokers) > 0 {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicSales, cfg.Kafka.ConsumerGroup, logger)
		snapshotWorker = worker.NewStockSnapshotWorker(consumer, redisClient, logger)
		go func() {
			if err := snapshotWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Stock snapshot worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(saleService, stockReader, metrics, reg, logger)
	for name, check := range checks {
		handler.AddReadinessCheck(name, check)
	}
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	var metricsSrv *http.Server
	if port := cfg.Observ.PrometheusPort; port != "" && port != cfg.Server.Port {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: fmt.Sprintf(":%s", port), Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server stopped", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server forced to shutdown", zap.Error(err))
		}
	}

	workerCancel()
	if snapshotWorker != nil {
		if err := snapshotWorker.Stop(); err != nil {
			logger.Error("Error stopping stock snapshot worker", zap.Error(err))
		}
	}

	// in-flight SMS sends finish before the producers close
	dispatcher.Wait()

	logger.Info("Server exited")
}

func seedDemoProducts(s *memory.Store, logger *zap.Logger) {
	demo := []models.Product{
		{Name: "Sugar 1kg", Price: decimal.RequireFromString("160.00"), Quantity: 50},
		{Name: "Maize flour 2kg", Price: decimal.RequireFromString("210.00"), Quantity: 40},
		{Name: "Cooking oil 1L", Price: decimal.RequireFromString("380.00"), Quantity: 25},
		{Name: "Milk 500ml", Price: decimal.RequireFromString("65.00"), Quantity: 100},
	}
	for i := range demo {
		if err := s.CreateProduct(context.Background(), &demo[i]); err != nil {
			logger.Fatal("Failed to seed product", zap.String("name", demo[i].Name), zap.Error(err))
		}
	}
	logger.Info("Seeded demo products", zap.Int("count", len(demo)))
}
