// Package patientapi is the transport client for the hospital's patient
// backend. Every call returns either a decoded payload or an *apperr.Error;
// callers never see the raw response envelope.
package patientapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/oncare-patient-gateway/internal/apperr"
	"github.com/wolfman30/oncare-patient-gateway/pkg/logging"
)

const maxErrorBody = 300

// ErrNoToken is returned by a TokenSource that has no token for the caller.
var ErrNoToken = errors.New("patientapi: no session token")

// TokenSource yields the session token for the request in ctx.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

// Token implements TokenSource.
func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// Observer records the outcome and latency of each upstream request.
type Observer interface {
	ObserveUpstream(path, outcome string, seconds float64)
}

// Config controls how the Client behaves.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Device     DeviceInfo
	Tokens     TokenSource
	// OnUnauthorized is invoked once for every response classified as
	// session-invalid, before the error is returned.
	OnUnauthorized func(ctx context.Context)
	// StrictUnauthorized limits session-invalid handling to 401 and 403.
	// Other 4xx statuses then surface as application errors.
	StrictUnauthorized bool
	Observer           Observer
	Logger             *logging.Logger
}

// Client performs one authenticated backend call at a time and normalizes
// the result.
type Client struct {
	baseURL            string
	httpClient         *http.Client
	device             DeviceInfo
	tokens             TokenSource
	onUnauthorized     func(ctx context.Context)
	strictUnauthorized bool
	observer           Observer
	logger             *logging.Logger
	tracer             trace.Tracer
}

// New creates a configured Client with sane defaults.
func New(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:            strings.TrimRight(baseURL, "/"),
		httpClient:         httpClient,
		device:             cfg.Device,
		tokens:             cfg.Tokens,
		onUnauthorized:     cfg.OnUnauthorized,
		strictUnauthorized: cfg.StrictUnauthorized,
		observer:           cfg.Observer,
		logger:             logger.Component("patientapi"),
		tracer:             otel.Tracer("oncare.internal.patientapi"),
	}
}

type callOptions struct {
	token          string
	skipAuth       bool
	idempotencyKey string
}

// CallOption customizes a single call.
type CallOption func(*callOptions)

// WithToken sends an explicit token instead of the TokenSource's.
func WithToken(token string) CallOption {
	return func(o *callOptions) { o.token = token }
}

// SkipAuth sends no token at all.
func SkipAuth() CallOption {
	return func(o *callOptions) { o.skipAuth = true }
}

// WithIdempotencyKey lets a deduplicating backend collapse repeated mutations.
func WithIdempotencyKey(key string) CallOption {
	return func(o *callOptions) { o.idempotencyKey = key }
}

// IdempotencyKeyOf returns the idempotency key opts would send, if any.
func IdempotencyKeyOf(opts ...CallOption) string {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o.idempotencyKey
}

// Invoke performs the call and returns the envelope when it signals success.
func (c *Client) Invoke(ctx context.Context, method, path string, body any, opts ...CallOption) (*Envelope, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := c.tracer.Start(ctx, "patientapi.invoke", trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("patientapi.path", path),
	))
	defer span.End()

	start := time.Now()
	env, outcome, err := c.invoke(ctx, method, path, body, o)
	if c.observer != nil {
		c.observer.ObserveUpstream(path, outcome, time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return nil, err
	}
	return env, nil
}

func (c *Client) invoke(ctx context.Context, method, path string, body any, o callOptions) (*Envelope, string, error) {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, "encode_error", apperr.Wrap(apperr.KindValidation, "invalid request payload", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), bodyReader)
	if err != nil {
		return nil, "encode_error", apperr.Wrap(apperr.KindValidation, "invalid request", err)
	}
	if err := c.setHeaders(ctx, req, o); err != nil {
		return nil, "token_error", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "canceled", ctx.Err()
		}
		return nil, "network", apperr.Wrap(apperr.KindNetwork, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "network", apperr.Wrap(apperr.KindNetwork, "read response", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		if c.sessionInvalid(resp.StatusCode) {
			c.logger.Warn("session invalid, forcing logout", "path", path, "status", resp.StatusCode)
			if c.onUnauthorized != nil {
				c.onUnauthorized(ctx)
			}
			return nil, "unauthorized", &apperr.Error{
				Kind:    apperr.KindUnauthorized,
				Message: "Session expired or unauthorized.",
				Detail:  truncate(string(respBody)),
			}
		}
		return nil, "application_error", &apperr.Error{
			Kind:    apperr.KindApplication,
			Message: messageFromBody(respBody, resp.StatusCode),
			Detail:  truncate(string(respBody)),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := truncate(string(respBody))
		c.logger.Warn("patient api non-2xx response", "path", path, "status", resp.StatusCode, "body", msg)
		return nil, "server_error", &apperr.Error{
			Kind:    apperr.KindServerError,
			Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
			Detail:  msg,
		}
	}

	var env Envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, "server_error", apperr.Wrap(apperr.KindServerError, "malformed response", unsafeToRepeat(method, err))
	}
	if !env.OK() {
		code := "missing"
		if env.Code != nil {
			code = strconv.Itoa(*env.Code)
		}
		return nil, "application_error", &apperr.Error{
			Kind:    apperr.KindApplication,
			Message: strings.TrimSpace(env.Message),
			Detail:  "response code " + code,
		}
	}
	return &env, "ok", nil
}

func (c *Client) setHeaders(ctx context.Context, req *http.Request, o callOptions) error {
	device := deviceFromContext(ctx, c.device)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderPlatform, device.Platform)
	req.Header.Set(HeaderAppVersion, device.AppVersion)
	req.Header.Set(HeaderModel, device.Model)
	req.Header.Set(HeaderOSVersion, device.OSVersion)
	if o.idempotencyKey != "" {
		req.Header.Set(HeaderIdempotencyKey, o.idempotencyKey)
	}
	if o.skipAuth {
		return nil
	}
	token := o.token
	if token == "" && c.tokens != nil {
		t, err := c.tokens.Token(ctx)
		if err != nil && !errors.Is(err, ErrNoToken) {
			return apperr.Wrap(apperr.KindUnauthorized, "session token unavailable", err)
		}
		token = t
	}
	if token != "" {
		req.Header.Set(HeaderToken, token)
	}
	return nil
}

func (c *Client) sessionInvalid(status int) bool {
	if !c.strictUnauthorized {
		return true
	}
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

func (c *Client) buildURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// decodeData unmarshals the envelope payload into T. A missing payload yields
// T's zero value.
func decodeData[T any](env *Envelope) (T, error) {
	var out T
	if env == nil || !env.HasData() {
		return out, nil
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return out, apperr.Wrap(apperr.KindServerError, "malformed response data", err)
	}
	return out, nil
}

func call[T any](ctx context.Context, c *Client, method, path string, body any, opts ...CallOption) (T, error) {
	env, err := c.Invoke(ctx, method, path, body, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	out, err := decodeData[T](env)
	if err != nil {
		return out, unsafeToRepeat(method, err)
	}
	return out, nil
}

// unsafeToRepeat tags err with apperr.ErrOutcomeUnknown for anything but a
// GET, whose 2xx reply means the backend has acted.
func unsafeToRepeat(method string, err error) error {
	if method == http.MethodGet {
		return err
	}
	return fmt.Errorf("%w: %w", apperr.ErrOutcomeUnknown, err)
}

func messageFromBody(body []byte, status int) string {
	var env Envelope
	if err := json.Unmarshal(body, &env); err == nil && strings.TrimSpace(env.Message) != "" {
		return strings.TrimSpace(env.Message)
	}
	return fmt.Sprintf("Request rejected (HTTP %d).", status)
}

// truncate caps s at maxErrorBody bytes without splitting a UTF-8 sequence.
func truncate(s string) string {
	if len(s) <= maxErrorBody {
		return s
	}
	cut := maxErrorBody
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
