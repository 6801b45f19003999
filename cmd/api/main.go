package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"skywatch/internal/config"
	"skywatch/internal/consumer"
	"skywatch/internal/database"
	"skywatch/internal/engine"
	"skywatch/internal/handler"
	"skywatch/internal/index"
	"skywatch/internal/middleware"
	"skywatch/internal/monitor"
	"skywatch/internal/notify"
	"skywatch/internal/push"
	"skywatch/internal/realtime"
	"skywatch/internal/redis"
	"skywatch/internal/repository"
	"skywatch/internal/settings"
	"skywatch/internal/utils"
	"skywatch/pkg/kafka"
	"skywatch/pkg/log"
)

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to load config")
	}
	config.GlobalConfig = cfg

	log.Init(log.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxAge:     cfg.Log.MaxAge,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
	})

	// database
	if err := database.Init(cfg); err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to initialize database")
	}
	defer database.Close()
	if err := database.AutoMigrate(database.GetDB()); err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to migrate database")
	}

	// redis, holds the flip settings documents
	if err := redis.Init(cfg); err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to initialize redis")
	}
	defer redis.Close()

	tracer, err := monitor.NewTracer(cfg.Tracing)
	if err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to initialize tracer")
	}

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := database.GetDB()
	userRepo := repository.NewUserRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)

	settingsStore := settings.NewStore(redis.GetClient())
	idx := index.New(&settings.IndexLoader{Store: settingsStore, Users: userRepo})

	producer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()

	dispatcher, err := notify.NewDispatcher(cfg, userRepo, deviceRepo, push.NewFCMTransport(cfg.Push), producer)
	if err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to create dispatcher")
	}
	dispatcher.Start(ctx)

	eng := engine.New(idx, notify.NewNotifier(dispatcher), subRepo)
	if err := eng.LoadFromStore(ctx, subRepo); err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to load subscriptions")
	}

	// live flip settings updates
	go func() {
		for upd := range settingsStore.Watch(ctx) {
			user, err := userRepo.GetByExternalID(ctx, upd.ExternalUserID)
			if err != nil {
				log.WithFields(map[string]interface{}{
					"user":  upd.ExternalUserID,
					"error": err.Error(),
				}).Warn("Settings update for unknown user")
				continue
			}
			eng.UpdateFlipSettings(user.ID, upd.Settings)
		}
	}()

	// event ingestion
	consumers := consumer.NewManager(cfg, eng)
	consumers.Start(ctx)
	defer consumers.Close()

	// realtime channel over the outbound topic
	hub := realtime.NewHub(cfg)
	hub.Start(ctx)
	defer hub.Close()

	router := setupRouter(cfg, userRepo, subRepo, deviceRepo, eng, settingsStore, hub, tracer)

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	go func() {
		log.WithFields(map[string]interface{}{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting HTTP server")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithFields(map[string]interface{}{
				"error": err.Error(),
			}).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Error("Server forced to shutdown")
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Failed to shut down tracer")
	}

	log.Info("Server exited")
}

func setupRouter(
	cfg *config.Config,
	userRepo repository.UserRepository,
	subRepo repository.SubscriptionRepository,
	deviceRepo repository.DeviceRepository,
	eng *engine.Engine,
	settingsStore *settings.Store,
	hub *realtime.Hub,
	tracer *monitor.Tracer,
) *gin.Engine {
	router := gin.New()

	router.Use(middleware.Logger())
	router.Use(middleware.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.Tracing(tracer))

	router.GET("/health", healthCheck)
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	subHandler := handler.NewSubscriptionHandler(userRepo, subRepo, deviceRepo, eng)
	settingsHandler := handler.NewSettingsHandler(settingsStore)

	api := router.Group("/api/v1")
	api.Use(middleware.RateLimit(100, 200))
	if cfg.Auth.Enabled {
		manager := utils.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Expire)
		api.Use(middleware.Auth(manager), middleware.RequireSelf("userId"))
	}
	{
		api.GET("/subscription/count", subHandler.Count)
		api.GET("/subscription/:userId", subHandler.Get)
		api.POST("/subscription/:userId", subHandler.Create)
		api.DELETE("/subscription/:userId", subHandler.Delete)
		api.GET("/subscription/:userId/device", subHandler.ListDevices)
		api.PUT("/subscription/:userId/device", subHandler.PutDevice)

		api.GET("/settings/:userId", settingsHandler.Get)
		api.PUT("/settings/:userId", settingsHandler.Put)

		api.GET("/ws/:userId", hub.Serve)
	}

	return router
}

func healthCheck(c *gin.Context) {
	services := map[string]interface{}{
		"database": serviceHealth(database.Health()),
		"redis":    serviceHealth(redis.Health()),
	}
	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"services":  services,
	}
	for _, s := range services {
		if !s.(map[string]interface{})["healthy"].(bool) {
			health["status"] = "error"
			c.JSON(http.StatusServiceUnavailable, health)
			return
		}
	}
	c.JSON(http.StatusOK, health)
}

func serviceHealth(err error) map[string]interface{} {
	if err != nil {
		return map[string]interface{}{"healthy": false, "error": err.Error()}
	}
	return map[string]interface{}{"healthy": true, "status": "connected"}
}
