package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/contentworks/routing-engine/pkg/api"
	"github.com/contentworks/routing-engine/pkg/common/config"
	"github.com/contentworks/routing-engine/pkg/common/database"
	"github.com/contentworks/routing-engine/pkg/common/kafka"
	"github.com/contentworks/routing-engine/pkg/common/logger"
	"github.com/contentworks/routing-engine/pkg/common/models"
	"github.com/contentworks/routing-engine/pkg/configstore"
	"github.com/contentworks/routing-engine/pkg/gateway/middleware"
	"github.com/contentworks/routing-engine/pkg/ideastore"
	"github.com/contentworks/routing-engine/pkg/observability/metrics"
	"github.com/contentworks/routing-engine/pkg/router"
	"github.com/contentworks/routing-engine/pkg/scheduler"
	"github.com/contentworks/routing-engine/pkg/scorer"
	"github.com/contentworks/routing-engine/pkg/statuslog"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	configRepo := configstore.NewRepository(db)
	ideaRepo := ideastore.NewRepository(db)
	logRepo := statuslog.NewRepository(db)
	for name, migrate := range map[string]func() error{
		"configuration": configRepo.AutoMigrate,
		"idea routing":  ideaRepo.AutoMigrate,
		"status log":    logRepo.AutoMigrate,
	} {
		if err := migrate(); err != nil {
			logger.Log.WithError(err).Fatalf("failed to migrate %s tables", name)
		}
	}

	var publisher statuslog.EventPublisher
	var producer *kafka.Producer
	if cfg.RoutingEventsTopic != "" {
		producer = kafka.NewProducer(cfg.RoutingEventsTopic, "routing-engine")
		publisher = producer
	}
	recorder := statuslog.NewRecorder(logRepo, publisher)

	publications := models.PublicationSlugs{
		Core:     cfg.CorePublicationSlug,
		Beginner: cfg.BeginnerPublicationSlug,
		Video:    cfg.VideoPublicationSlug,
	}
	routerSvc := router.NewService(configRepo, ideaRepo, recorder)
	scorerSvc := scorer.NewService(configRepo, ideaRepo, recorder, publications)
	schedulerSvc := scheduler.NewService(configRepo, ideaRepo, ideaRepo, recorder, scheduler.Options{
		Publications: publications,
		HorizonDays:  cfg.SlotSearchHorizonDays,
		Location:     cfg.Location(),
	})

	handler := api.NewHandler(api.Services{
		Router:    routerSvc,
		Scorer:    scorerSvc,
		Scheduler: schedulerSvc,
		Routings:  ideaRepo,
		StatusLog: recorder,
		Config:    configRepo,
		Location:  cfg.Location(),
	})

	var limiterStore redis.Cmdable
	if client, err := database.GetRedis(); err == nil {
		limiterStore = client
	} else {
		logger.Log.Warn("Redis rate limiting disabled, using per-process limiter")
	}

	r := mux.NewRouter()
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.Actor)
	r.Use(middleware.CORS)
	r.Use(middleware.BodyLimit(cfg.MaxRequestBody))
	r.Use(middleware.RedisRateLimit(limiterStore, cfg.RateLimitRPS, time.Second,
		middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst)))

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	r.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := db.DB()
		if err != nil || sqlDB.PingContext(r.Context()) != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)
	r.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	handler.Register(r.PathPrefix("/api/v1/routing").Subrouter())

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var consumer *kafka.Consumer
	if cfg.IdeasInboundTopic != "" {
		consumer = kafka.NewConsumer(cfg.IdeasInboundTopic, cfg.KafkaGroupID)
		go func() {
			logger.Log.WithField("topic", cfg.IdeasInboundTopic).Info("Consuming inbound ideas")
			if err := consumer.Consume(ctx, routerSvc.HandleIdeaEvent); err != nil && ctx.Err() == nil {
				logger.Log.WithError(err).Error("Inbound idea consumer stopped")
			}
		}()
	}

	address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.RoutingServicePort)
	server := &http.Server{
		Addr:         address,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithField("addr", address).Info("Routing service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start routing service")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down routing service...")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("Routing service forced to shutdown")
	}
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Log.WithError(err).Warn("failed to close inbound consumer")
		}
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Log.WithError(err).Warn("failed to close event producer")
		}
	}
	_ = database.CloseRedis()
	_ = database.ClosePostgres()
	logger.Log.Info("Routing service stopped")
}
