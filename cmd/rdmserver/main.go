// Command rdmserver runs the watch-together HTTP and signaling surface.
// Grounded on the teacher's cmd/v1/session/main.go: .env discovery across
// a handful of candidate paths, a gin router behind graceful shutdown on
// SIGINT/SIGTERM with a five-second drain window.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/ukunda/rdm/internal/v1/authtoken"
	"github.com/ukunda/rdm/internal/v1/blobstore"
	"github.com/ukunda/rdm/internal/v1/bus"
	"github.com/ukunda/rdm/internal/v1/config"
	"github.com/ukunda/rdm/internal/v1/health"
	"github.com/ukunda/rdm/internal/v1/httpapi"
	"github.com/ukunda/rdm/internal/v1/logging"
	"github.com/ukunda/rdm/internal/v1/ratelimit"
	"github.com/ukunda/rdm/internal/v1/registry"
	"github.com/ukunda/rdm/internal/v1/signaling"
	"github.com/ukunda/rdm/internal/v1/tracing"
)

// participantTokenTTL bounds how long a minted user_id stays valid. It only
// needs to outlive one signaling session, so it tracks the room expiry
// horizon rather than a fixed constant.
func participantTokenTTL(cfg *config.Config) time.Duration {
	return time.Duration(cfg.RoomExpirySeconds) * time.Second
}

func main() {
	envPaths := []string{".env", "../../.env", "../.env"}
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("loaded environment file", "path", path)
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("invalid environment configuration", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		slog.Error("failed to initialize logger", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "rdmserver", cfg.OtelCollectorAddr, cfg.OtelInsecureSkipVerify)
		if err != nil {
			logging.Warn(ctx, "tracing disabled: failed to initialize tracer")
		} else {
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	var busService *bus.Service
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Warn(ctx, "cross-instance bus disabled: failed to connect to redis")
		} else {
			defer busService.Close()
		}
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
	}

	joinLimiter, err := ratelimit.NewJoinLimiter(cfg.RateLimitJoin, redisClient)
	if err != nil {
		logging.Error(ctx, "failed to build join rate limiter")
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		logging.Error(ctx, "failed to create upload directory")
		os.Exit(1)
	}
	blobs := blobstore.New(cfg.UploadDir, cfg.MaxFileSizeBytes())

	reg := registry.New(time.Duration(cfg.RoomExpirySeconds)*time.Second, joinLimiter, busService, blobs)
	defer reg.Shutdown()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go reg.RunSweepLoop(sweepCtx, time.Minute)

	minter := authtoken.NewMinter(cfg.JWTSecret, participantTokenTTL(cfg))
	hub := signaling.NewHub(reg, minter)
	healthHandler := health.NewHandler(busService)

	router := httpapi.NewRouter(httpapi.Dependencies{
		Registry: reg,
		Blobs:    blobs,
		Minter:   minter,
		Hub:      hub,
		Health:   healthHandler,
	})

	srv := &http.Server{
		Addr:    cfg.Host + ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "rdmserver starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	stopSweep()
	logging.Info(ctx, "rdmserver exiting")
}
