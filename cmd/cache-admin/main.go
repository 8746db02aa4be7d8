package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/chordbook/cachekit/pkg/admin"
	"github.com/chordbook/cachekit/pkg/cache"
	"github.com/chordbook/cachekit/pkg/logging"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: getEnv("LOG_PRETTY", "false") == "true",
		Output: os.Stderr,
	})

	cfg := cache.DefaultConfig()
	cfg.KeyPrefix = getEnv("CACHE_KEY_PREFIX", cfg.KeyPrefix)
	if ttl := getEnvInt("CACHE_DEFAULT_TTL_SECONDS", 0); ttl > 0 {
		cfg.DefaultTTL = time.Duration(ttl) * time.Second
	}
	if ttl := getEnvInt("CACHE_MAX_TTL_SECONDS", 0); ttl > 0 {
		cfg.MaxTTL = time.Duration(ttl) * time.Second
	}

	// A missing Redis is a degraded start, not a failed one: the service
	// runs on the in-process tier until the remote comes back.
	var remote cache.RemoteStore
	redisURL := getEnv("REDIS_URL", "localhost:6379")
	redisClient := redis.NewClient(&redis.Options{
		Addr:        redisURL,
		DialTimeout: cfg.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", redisURL).Msg("Redis unreachable, starting on fallback tier only")
		redisClient.Close()
	} else {
		log.Info().Str("addr", redisURL).Msg("Connected to Redis")
		remote = cache.NewRedisStore(redisClient, cfg)
	}
	cancel()

	svc := cache.New(cfg, remote)
	defer svc.Close()

	handler := admin.NewHandler(svc)

	mux := http.NewServeMux()
	mux.Handle("/cache/", handler.Routes())
	mux.Handle("/metrics", promhttp.Handler())

	port := getEnv("PORT", "8080")
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting cache admin server")
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("Ignoring non-numeric environment variable")
		return defaultValue
	}
	return n
}
