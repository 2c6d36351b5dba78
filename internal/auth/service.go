// Package auth handles OTP login against the patient backend, keeps the
// backend token server-side and issues gateway tokens in its place.
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/oncare-patient-gateway/internal/apperr"
	"github.com/wolfman30/oncare-patient-gateway/internal/cache"
	"github.com/wolfman30/oncare-patient-gateway/internal/patientapi"
	"github.com/wolfman30/oncare-patient-gateway/pkg/logging"
)

const (
	challengeTTL         = 10 * time.Minute
	defaultSessionTTL    = 24 * time.Hour
	sendOTPFailedMessage = "Failed to send OTP"
)

// Backend is the slice of the patient API used for login.
type Backend interface {
	SendOTP(ctx context.Context, identifier, patientName string) (patientapi.OTPChallenge, error)
	VerifyOTP(ctx context.Context, req patientapi.VerifyOTPRequest) (patientapi.AccessToken, error)
	Logout(ctx context.Context, token string) error
}

// Challenge is what the presentation client needs to finish the login.
type Challenge struct {
	OTPID        string                   `json:"otp_id"`
	Mobile       string                   `json:"mobile"`
	HospitalUIDs []patientapi.HospitalUID `json:"hospital_uids,omitempty"`
	Message      string                   `json:"message,omitempty"`
}

// NeedsHospitalChoice reports whether the patient must pick a registration.
func (c Challenge) NeedsHospitalChoice() bool { return len(c.HospitalUIDs) > 1 }

// VerifyRequest completes a login.
type VerifyRequest struct {
	OTPID       string
	OTP         string
	HospitalUID string
}

// Login is the result of a successful verification.
type Login struct {
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
	HospitalUID string    `json:"hospital_uid,omitempty"`
}

// Config wires the Service.
type Config struct {
	Backend    Backend
	Store      TokenStore
	Issuer     *Issuer
	Challenges cache.Cache
	// SessionTTL bounds a gateway session when the backend does not report an
	// expiry of its own.
	SessionTTL time.Duration
	Logger     *logging.Logger
	Now        func() time.Time
}

// Service implements OTP login, logout and forced logout.
type Service struct {
	backend    Backend
	store      TokenStore
	issuer     *Issuer
	challenges cache.Cache
	ttl        time.Duration
	logger     *logging.Logger
	now        func() time.Time

	mu    sync.RWMutex
	hooks []func(sessionID string)
}

// NewService builds a Service.
func NewService(cfg Config) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Challenges == nil {
		cfg.Challenges = cache.NewMemoryCache()
	}
	return &Service{
		backend:    cfg.Backend,
		store:      cfg.Store,
		issuer:     cfg.Issuer,
		challenges: cfg.Challenges,
		ttl:        cfg.SessionTTL,
		logger:     cfg.Logger.Component("auth"),
		now:        cfg.Now,
	}
}

// OnLogout registers fn to run after any logout, forced or not.
func (s *Service) OnLogout(fn func(sessionID string)) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// SendOTP asks the backend to send a one-time password.
func (s *Service) SendOTP(ctx context.Context, identifier, patientName string) (Challenge, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Challenge{}, apperr.Validation("mobile number or hospital id is required")
	}
	res, err := s.backend.SendOTP(ctx, identifier, strings.TrimSpace(patientName))
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) && appErr.Kind == apperr.KindApplication && appErr.Message == "" {
			appErr.Message = sendOTPFailedMessage
		}
		return Challenge{}, err
	}
	if res.OTPID == "" {
		return Challenge{}, apperr.New(apperr.KindServerError, sendOTPFailedMessage)
	}
	ch := Challenge{OTPID: res.OTPID, Mobile: res.Mobile, HospitalUIDs: res.HospitalUIDs, Message: res.Message}
	if err := s.challenges.Set(ctx, challengeKey(ch.OTPID), ch, challengeTTL); err != nil {
		return Challenge{}, err
	}
	s.logger.Info("otp sent", "otp_id", ch.OTPID, "hospital_count", len(ch.HospitalUIDs))
	return ch, nil
}

// VerifyOTP exchanges an OTP for a gateway token. When the challenge lists
// several hospital registrations the request must name one of them; a single
// registration is chosen automatically.
func (s *Service) VerifyOTP(ctx context.Context, req VerifyRequest) (Login, error) {
	if strings.TrimSpace(req.OTP) == "" || strings.TrimSpace(req.OTPID) == "" {
		return Login{}, apperr.Validation("otp and otp_id are required")
	}
	var ch Challenge
	found, err := s.challenges.Get(ctx, challengeKey(req.OTPID), &ch)
	if err != nil {
		return Login{}, err
	}
	if !found {
		return Login{}, apperr.Validation("this code has expired, please request a new one")
	}
	hospitalUID, err := chooseHospital(ch.HospitalUIDs, strings.TrimSpace(req.HospitalUID))
	if err != nil {
		return Login{}, err
	}

	access, err := s.backend.VerifyOTP(ctx, patientapi.VerifyOTPRequest{
		Mobile:      ch.Mobile,
		OTP:         strings.TrimSpace(req.OTP),
		OTPID:       ch.OTPID,
		HospitalUID: hospitalUID,
	})
	if err != nil {
		return Login{}, err
	}
	if access.Token == "" {
		return Login{}, apperr.New(apperr.KindServerError, "login response carried no token")
	}

	now := s.now()
	expiresAt := access.Expiry()
	if expiresAt.IsZero() || !expiresAt.After(now) || expiresAt.Sub(now) > s.ttl {
		expiresAt = now.Add(s.ttl)
	}
	sessionID := uuid.NewString()
	if err := s.store.Save(ctx, sessionID, StoredToken{Token: access.Token, ExpiresAt: expiresAt, HospitalUID: hospitalUID}, expiresAt.Sub(now)); err != nil {
		return Login{}, err
	}
	token, err := s.issuer.Issue(sessionID, expiresAt)
	if err != nil {
		_ = s.store.Delete(ctx, sessionID)
		return Login{}, err
	}
	_ = s.challenges.Delete(ctx, challengeKey(ch.OTPID))
	s.logger.Info("patient logged in", "session_id", sessionID)
	return Login{Token: token, ExpiresAt: expiresAt, HospitalUID: hospitalUID}, nil
}

// Authenticate verifies a gateway token and checks the session is still live.
func (s *Service) Authenticate(ctx context.Context, gatewayToken string) (string, error) {
	sessionID, err := s.issuer.Parse(gatewayToken)
	if err != nil {
		return "", err
	}
	if _, err := s.store.Load(ctx, sessionID); err != nil {
		return "", err
	}
	return sessionID, nil
}

// Logout ends the backend session. The stored token is removed even when
// the backend call fails; that failure is still returned.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	tok, err := s.store.Load(ctx, sessionID)
	if errors.Is(err, ErrNoSession) {
		return apperr.Validation("no active session")
	}
	if err != nil {
		return err
	}
	backendErr := s.backend.Logout(ctx, tok.Token)
	if err := s.end(ctx, sessionID); err != nil {
		return err
	}
	if backendErr != nil {
		s.logger.Warn("backend logout failed", "session_id", sessionID, "error", backendErr)
		return backendErr
	}
	s.logger.Info("patient logged out", "session_id", sessionID)
	return nil
}

// ForceLogout tears down the session in ctx after the backend rejected its
// token. It matches patientapi.Config.OnUnauthorized.
func (s *Service) ForceLogout(ctx context.Context) {
	sessionID, ok := SessionFromContext(ctx)
	if !ok {
		return
	}
	// The request context may already be done; teardown must still happen.
	if err := s.end(context.WithoutCancel(ctx), sessionID); err != nil {
		s.logger.Error("force logout failed", "session_id", sessionID, "error", err)
		return
	}
	s.logger.Warn("session invalidated by backend", "session_id", sessionID)
}

// Token implements patientapi.TokenSource for the session in ctx.
func (s *Service) Token(ctx context.Context) (string, error) {
	sessionID, ok := SessionFromContext(ctx)
	if !ok {
		return "", patientapi.ErrNoToken
	}
	tok, err := s.store.Load(ctx, sessionID)
	if errors.Is(err, ErrNoSession) {
		return "", patientapi.ErrNoToken
	}
	if err != nil {
		return "", err
	}
	return tok.Token, nil
}

func (s *Service) end(ctx context.Context, sessionID string) error {
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	s.mu.RLock()
	hooks := append([]func(string){}, s.hooks...)
	s.mu.RUnlock()
	for _, fn := range hooks {
		fn(sessionID)
	}
	return nil
}

func chooseHospital(uids []patientapi.HospitalUID, requested string) (string, error) {
	switch len(uids) {
	case 0:
		return "", nil
	case 1:
		if requested != "" && requested != uids[0].UID {
			return "", apperr.Validation("hospital id %q is not registered for this number", requested)
		}
		return uids[0].UID, nil
	}
	if requested == "" {
		return "", apperr.Validation("several hospital registrations found, please choose one")
	}
	for _, h := range uids {
		if h.UID == requested {
			return requested, nil
		}
	}
	return "", apperr.Validation("hospital id %q is not registered for this number", requested)
}

func challengeKey(otpID string) string { return "otp:" + otpID }
