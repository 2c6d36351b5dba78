package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/oncare-patient-gateway/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/oncare-patient-gateway/internal/http/middleware"
	"github.com/wolfman30/oncare-patient-gateway/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	AuthHandler        *handlers.AuthHandler
	PatientHandler     *handlers.PatientHandler
	BookingHandler     *handlers.BookingHandler
	Authenticator      httpmiddleware.Authenticator
	OTPLimiter         *httpmiddleware.RateLimiter
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}
	r.Use(httpmiddleware.Device)

	r.Get("/health", handlers.Health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/v1", func(v1 chi.Router) {
		// Login endpoints are public; sending an OTP is rate limited per IP.
		v1.Group(func(public chi.Router) {
			if cfg.OTPLimiter != nil {
				public.With(cfg.OTPLimiter.Middleware).Post("/auth/otp", cfg.AuthHandler.SendOTP)
			} else {
				public.Post("/auth/otp", cfg.AuthHandler.SendOTP)
			}
			public.Post("/auth/verify", cfg.AuthHandler.VerifyOTP)
		})

		v1.Group(func(patient chi.Router) {
			patient.Use(httpmiddleware.PatientAuth(cfg.Authenticator, cfg.Logger))
			patient.Post("/auth/logout", cfg.AuthHandler.Logout)
			patient.Get("/patient", cfg.PatientHandler.GetPatient)
			patient.Get("/documents", cfg.PatientHandler.ListDocuments)
			patient.Get("/appointments", cfg.PatientHandler.ListAppointments)
			patient.Post("/push-token", cfg.PatientHandler.SavePushToken)
			patient.Get("/locations", cfg.BookingHandler.ListLocations)
			patient.Mount("/booking/sessions", cfg.BookingHandler.Routes())
			patient.Mount("/cancellations", cfg.BookingHandler.CancellationRoutes())
		})
	})

	return r
}
