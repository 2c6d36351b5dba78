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

	"github.com/joho/godotenv"

	"github.com/wolfman30/oncare-patient-gateway/internal/app/bootstrap"
	appconfig "github.com/wolfman30/oncare-patient-gateway/internal/config"
	"github.com/wolfman30/oncare-patient-gateway/pkg/logging"
)

// A confirm may retry a slow backend several times before it answers.
const writeTimeout = 90 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting oncare patient gateway",
		"env", cfg.Env,
		"port", cfg.Port,
		"patient_api", cfg.PatientAPIBaseURL,
	)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
		logger.Info("redis connected", "addr", cfg.RedisAddr)
	} else {
		logger.Info("redis disabled, sessions and caches are in memory")
	}

	gw, err := bootstrap.BuildGateway(bootstrap.Options{Config: cfg, Logger: logger, Redis: redisClient})
	if err != nil {
		logger.Error("failed to build gateway", "error", err)
		os.Exit(1)
	}
	gw.RunBackground(ctx)

	srv := newServer(cfg, gw.Handler)

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func newServer(cfg *appconfig.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
}
