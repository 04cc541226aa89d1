// Command signalserver is the composition root for the signaling broker:
// it loads and validates configuration, wires the domain layer (room,
// peerconn, events, connsvc) to the gateway, and serves both the
// WebSocket signaling path and the §6.2 HTTP admin/health surface behind
// gin, following the teacher's cmd/v1/session/main.go shape.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	otelgin "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/nullwave/signalbroker/internal/v1/auth"
	"github.com/nullwave/signalbroker/internal/v1/bus"
	"github.com/nullwave/signalbroker/internal/v1/config"
	"github.com/nullwave/signalbroker/internal/v1/events"
	"github.com/nullwave/signalbroker/internal/v1/gateway"
	"github.com/nullwave/signalbroker/internal/v1/health"
	"github.com/nullwave/signalbroker/internal/v1/logging"
	"github.com/nullwave/signalbroker/internal/v1/middleware"
	"github.com/nullwave/signalbroker/internal/v1/peerconn"
	"github.com/nullwave/signalbroker/internal/v1/ratelimit"
	"github.com/nullwave/signalbroker/internal/v1/room"
	"github.com/nullwave/signalbroker/internal/v1/tracing"
)

func main() {
	// No .env in production deployments; environment variables carry config.
	_ = godotenv.Load()

	cfg, err := config.ValidateEnv()
	if err != nil {
		panic(err)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		panic(err)
	}
	logger := logging.GetLogger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if collectorAddr := os.Getenv("OTEL_COLLECTOR_ADDR"); collectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "signalbroker", collectorAddr)
		if err != nil {
			logger.Warn("failed to initialize tracer, continuing without tracing", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	var busSvc *bus.Service
	if cfg.RedisEnabled {
		busSvc, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logger.Error("failed to connect to redis, continuing without cross-instance mirroring", zap.Error(err))
			busSvc = nil
		}
	}

	var validator *auth.Validator
	if os.Getenv("SKIP_AUTH") != "true" {
		validator = auth.NewValidator(cfg.HandshakeSecret)
	} else {
		logger.Warn("authentication disabled for development, do not use in production")
	}

	limiter, err := ratelimit.New(cfg.RateLimitWsIP, cfg.RateLimitWsUser, busClient(busSvc))
	if err != nil {
		panic(err)
	}

	rooms := room.NewMemoryRepository()
	conns := peerconn.NewMemoryRepository()
	publisher := events.NewPublisher()

	allowedOrigins := allowedOriginsFromEnv(cfg.AllowedOrigins)
	hub := gateway.NewHub(cfg, rooms, conns, publisher, busSvc, limiter, validator, allowedOrigins)
	hub.Run(ctx)

	healthHandler := health.NewHandler(busSvc)

	gin.SetMode(ginMode(cfg.GoEnv))
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(otelgin.Middleware("signalbroker"))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	router.GET(cfg.WSPath, hub.ServeWS)

	roomRoutes := router.Group("/rooms")
	{
		roomRoutes.POST("", hub.CreateRoom)
		roomRoutes.GET("/:id", hub.GetRoom)
		roomRoutes.PATCH("/:id/rules", hub.PatchRules)
		roomRoutes.DELETE("/:id", hub.DeleteRoom)
	}

	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("signaling broker starting", zap.String("port", cfg.Port), zap.String("ws_path", cfg.WSPath))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := hub.Shutdown(shutdownCtx); err != nil {
		logger.Error("hub shutdown error", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server forced to shutdown", zap.Error(err))
	}

	logger.Info("exited")
}

func ginMode(goEnv string) string {
	if goEnv == "production" {
		return gin.ReleaseMode
	}
	return gin.DebugMode
}

func allowedOriginsFromEnv(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// busClient extracts the underlying Redis client from an optional bus
// Service so the rate limiter can share the same connection; nil when
// cross-instance mirroring is disabled (the limiter then falls back to an
// in-memory store).
func busClient(svc *bus.Service) *redis.Client {
	if svc == nil {
		return nil
	}
	return svc.Client()
}
