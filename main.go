package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/docusign-alternative/platform/realtime-service/handlers"
	"github.com/docusign-alternative/platform/realtime-service/internal/config"
	"github.com/docusign-alternative/platform/realtime-service/internal/conflict"
	"github.com/docusign-alternative/platform/realtime-service/internal/pubsub"
	"github.com/docusign-alternative/platform/realtime-service/internal/realtime"
	"github.com/docusign-alternative/platform/realtime-service/internal/registry"
	"github.com/docusign-alternative/platform/realtime-service/pkg/logger"
	"github.com/docusign-alternative/platform/realtime-service/pkg/metrics"
	"github.com/docusign-alternative/platform/realtime-service/pkg/middleware"
)

var startTime = time.Now()

func main() {
	// logging first (LOG_LEVEL env: debug|info|warn|error|fatal)
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: redis=%v channel=%s conflict_window=%s", cfg.Redis.Host != "", cfg.Realtime.Channel, cfg.Realtime.ConflictWindow)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// Lightweight CORS for dev/test; production fronts this with the gateway.
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
			return
		}
		c.Next()
	})

	reg := registry.New(registry.Options{
		HeartbeatInterval: cfg.Realtime.HeartbeatInterval,
		SweepInterval:     cfg.Realtime.SweepInterval,
		StaleThreshold:    cfg.Realtime.StaleThreshold,
		Observer:          realtime.MetricsObserver{},
	})
	go reg.Start(ctx)

	resolver := conflict.New(conflict.Options{
		Window:    cfg.Realtime.ConflictWindow,
		Retention: cfg.Realtime.ChangeRetention,
	})

	// Cross-instance propagation is optional: a missing or unreachable Redis
	// degrades to single-instance operation, it never takes the process down.
	var bridge *pubsub.Bridge
	if cfg.Redis.Host != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		bridge, err = pubsub.New(ctx, client, cfg.Realtime.Channel)
		if err != nil {
			logger.Warnf("pubsub bridge unavailable (%s:%s): %v; running single-instance", cfg.Redis.Host, cfg.Redis.Port, err)
			bridge = nil
		}
	} else {
		logger.Warn("REDIS_HOST not set; cross-instance propagation disabled")
	}

	svc := realtime.NewService(reg, resolver, bridge)
	svc.StartBridge(ctx)

	var handshakeMW []gin.HandlerFunc
	if cfg.RateLimit.Enabled {
		handshakeMW = append(handshakeMW, middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}
	h := handlers.NewRealtimeHandler(cfg, reg, svc)
	h.Register(r, handshakeMW...)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	// ready when the core is wired; reports whether propagation is degraded
	r.GET("/ready", func(c *gin.Context) {
		deps := gin.H{
			"registry":    true,
			"propagation": bridge != nil,
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "deps": deps, "uptime": time.Since(startTime).String()})
	})

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		// no WriteTimeout: it would cut long-lived SSE streams
	}

	go func() {
		logger.Infof("Starting realtime service on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
