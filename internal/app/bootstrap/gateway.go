package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/oncare-patient-gateway/internal/api/router"
	"github.com/wolfman30/oncare-patient-gateway/internal/appointments"
	"github.com/wolfman30/oncare-patient-gateway/internal/auth"
	"github.com/wolfman30/oncare-patient-gateway/internal/booking"
	appconfig "github.com/wolfman30/oncare-patient-gateway/internal/config"
	"github.com/wolfman30/oncare-patient-gateway/internal/documents"
	"github.com/wolfman30/oncare-patient-gateway/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/oncare-patient-gateway/internal/http/middleware"
	"github.com/wolfman30/oncare-patient-gateway/internal/observability/metrics"
	"github.com/wolfman30/oncare-patient-gateway/internal/patientapi"
	"github.com/wolfman30/oncare-patient-gateway/internal/retry"
	"github.com/wolfman30/oncare-patient-gateway/internal/slots"
	"github.com/wolfman30/oncare-patient-gateway/pkg/logging"
)

const (
	sweepInterval   = time.Minute
	limiterInterval = 5 * time.Minute
)

// Options are the runtime inputs to BuildGateway.
type Options struct {
	Config *appconfig.Config
	Logger *logging.Logger
	// Redis is optional; nil keeps sessions and caches in memory.
	Redis *redis.Client
	// Registerer and Gatherer default to the Prometheus globals.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	// HTTPClient overrides the patient API transport, mainly for tests.
	HTTPClient *http.Client
}

// Gateway is the wired patient gateway.
type Gateway struct {
	Handler   http.Handler
	Auth      *auth.Service
	Registry  *booking.Registry
	Documents *documents.Service
	Limiter   *httpmiddleware.RateLimiter
	Metrics   *metrics.GatewayMetrics
	logger    *logging.Logger
}

// BuildGateway wires the patient API client, login, booking and the HTTP
// surface from configuration.
func BuildGateway(opts Options) (*Gateway, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	loc, err := cfg.ClinicLocation()
	if err != nil {
		return nil, err
	}

	m := metrics.NewGatewayMetrics(opts.Registerer)
	policy := retry.Policy{
		MaxRetries: cfg.PatientAPIMaxRetries,
		Delay:      cfg.PatientAPIRetryDelay,
		Logger:     logger,
		Observer:   m,
	}

	// The client and the auth service refer to each other: the client reads
	// tokens from the service and reports rejected sessions back to it.
	var authSvc *auth.Service
	client := patientapi.New(patientapi.Config{
		BaseURL:    cfg.PatientAPIBaseURL,
		Timeout:    cfg.PatientAPITimeout,
		HTTPClient: opts.HTTPClient,
		Device: patientapi.DeviceInfo{
			Platform:   cfg.DevicePlatform,
			AppVersion: cfg.AppVersion,
			Model:      cfg.DeviceModel,
			OSVersion:  cfg.DeviceOSVersion,
		},
		Tokens: patientapi.TokenFunc(func(ctx context.Context) (string, error) {
			return authSvc.Token(ctx)
		}),
		OnUnauthorized:     func(ctx context.Context) { authSvc.ForceLogout(ctx) },
		StrictUnauthorized: !cfg.UnauthorizedOnAny4xx,
		Observer:           m,
		Logger:             logger,
	})

	secret := strings.TrimSpace(cfg.GatewayJWTSecret)
	if secret == "" {
		if cfg.IsProduction() {
			return nil, errors.New("bootstrap: GATEWAY_JWT_SECRET is required in production")
		}
		secret = uuid.NewString()
		logger.Warn("GATEWAY_JWT_SECRET not set; using an ephemeral secret, tokens will not survive a restart")
	}
	issuer, err := auth.NewIssuer(secret)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	sharedCache := BuildCache(opts.Redis)
	authSvc = auth.NewService(auth.Config{
		Backend:    client,
		Store:      BuildTokenStore(opts.Redis),
		Issuer:     issuer,
		Challenges: sharedCache,
		SessionTTL: cfg.GatewayTokenTTL,
		Logger:     logger,
	})

	registry := booking.NewRegistry(booking.Deps{
		Backend:  client,
		Slots:    slots.NewCatalog(client, policy, loc, logger),
		Policy:   policy,
		Location: loc,
		Logger:   logger.Component("booking"),
		Observer: m,
	}, cfg.BookingSessionTTL)
	docs := documents.NewService(client, sharedCache, cfg.DocumentsCacheTTL, policy, logger)
	appts := appointments.NewService(client, policy)
	directory := booking.NewDirectory(client, sharedCache, cfg.LocationsCacheTTL, policy)

	authSvc.OnLogout(registry.DropOwner)
	authSvc.OnLogout(docs.Forget)

	var metricsHandler http.Handler
	if opts.Gatherer != nil {
		metricsHandler = promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})
	} else {
		metricsHandler = promhttp.Handler()
	}
	limiter := httpmiddleware.NewRateLimiter(cfg.OTPRateLimitRPS, cfg.OTPRateLimitBurst)

	handler := router.New(&router.Config{
		Logger:             logger,
		AuthHandler:        handlers.NewAuthHandler(authSvc, logger),
		PatientHandler:     handlers.NewPatientHandler(client, docs, appts, logger),
		BookingHandler:     handlers.NewBookingHandler(registry, appts, directory, logger),
		Authenticator:      authSvc,
		OTPLimiter:         limiter,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	return &Gateway{
		Handler:   handler,
		Auth:      authSvc,
		Registry:  registry,
		Documents: docs,
		Limiter:   limiter,
		Metrics:   m,
		logger:    logger,
	}, nil
}

// RunBackground starts the session sweeper and limiter eviction until ctx
// is done.
func (g *Gateway) RunBackground(ctx context.Context) {
	go g.Registry.Run(ctx, sweepInterval)
	go g.Limiter.Run(ctx, limiterInterval)
	g.logger.Info("background sweepers started", "session_sweep_interval", sweepInterval.String())
}
