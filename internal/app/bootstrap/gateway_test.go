package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/oncare-patient-gateway/internal/auth"
	"github.com/wolfman30/oncare-patient-gateway/internal/cache"
	appconfig "github.com/wolfman30/oncare-patient-gateway/internal/config"
)

type fakeHospital struct {
	rejectPatient atomic.Bool
	logouts       atomic.Int32
	lastToken     atomic.Value
	verifyBody    atomic.Value
}

func (f *fakeHospital) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/sendOTP", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":1,"message":"OTP sent","data":{"otp_id":"otp-9","mobile":"9999999999","hospitalUids":["H1"]}}`))
	})
	mux.HandleFunc("/verifyOTP", func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		f.verifyBody.Store(string(raw))
		_, _ = w.Write([]byte(`{"code":1,"data":{"access_token":"backend-tok"}}`))
	})
	mux.HandleFunc("/getPatientDetails", func(w http.ResponseWriter, r *http.Request) {
		f.lastToken.Store(r.Header.Get("token"))
		if f.rejectPatient.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"code":1,"data":{"patient_id":"P-1","patient_name":"Meera"}}`))
	})
	mux.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		f.logouts.Add(1)
		_, _ = w.Write([]byte(`{"code":1,"message":"Logged out"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL string) *appconfig.Config {
	return &appconfig.Config{
		Env:                  "test",
		PatientAPIBaseURL:    baseURL,
		PatientAPITimeout:    5 * time.Second,
		PatientAPIMaxRetries: 1,
		PatientAPIRetryDelay: time.Millisecond,
		UnauthorizedOnAny4xx: true,
		AppVersion:           "N/A",
		DevicePlatform:       "server",
		ClinicTimezone:       "UTC",
		GatewayJWTSecret:     "test-secret",
		GatewayTokenTTL:      time.Hour,
		BookingSessionTTL:    time.Minute,
		LocationsCacheTTL:    time.Minute,
		DocumentsCacheTTL:    time.Minute,
		OTPRateLimitRPS:      100,
		OTPRateLimitBurst:    100,
	}
}

func newGateway(t *testing.T, hospital *fakeHospital) *Gateway {
	t.Helper()
	srv := hospital.server(t)
	reg := prometheus.NewRegistry()
	gw, err := BuildGateway(Options{Config: testConfig(srv.URL), Registerer: reg, Gatherer: reg, HTTPClient: srv.Client()})
	require.NoError(t, err)
	return gw
}

func call(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := call(t, h, http.MethodPost, "/v1/auth/otp", "", map[string]string{"identifier": "9999999999", "patient_name": "Meera"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ch struct {
		OTPID               string `json:"otp_id"`
		NeedsHospitalChoice bool   `json:"needs_hospital_choice"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ch))
	require.Equal(t, "otp-9", ch.OTPID)
	require.False(t, ch.NeedsHospitalChoice)

	rec = call(t, h, http.MethodPost, "/v1/auth/verify", "", map[string]string{"otp_id": ch.OTPID, "otp": "1234"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var l auth.Login
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &l))
	require.NotEmpty(t, l.Token)
	return l.Token
}

func TestGatewayLoginAndForcedLogout(t *testing.T) {
	hospital := &fakeHospital{}
	gw := newGateway(t, hospital)
	h := gw.Handler

	token := login(t, h)
	assert.Contains(t, hospital.verifyBody.Load(), `"hospitalUid":"H1"`)

	rec := call(t, h, http.MethodGet, "/v1/patient", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "backend-tok", hospital.lastToken.Load())

	rec = call(t, h, http.MethodPost, "/v1/booking/sessions", token, map[string]string{"mode": "new"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var session struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))

	hospital.rejectPatient.Store(true)
	rec = call(t, h, http.MethodGet, "/v1/patient", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Your session has expired")

	rec = call(t, h, http.MethodGet, "/v1/booking/sessions/"+session.ID, token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(t, h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `oncare_upstream_requests_total{outcome="unauthorized",path="/getPatientDetails"} 1`)
}

func TestGatewayLogoutEndsSession(t *testing.T) {
	hospital := &fakeHospital{}
	gw := newGateway(t, hospital)
	h := gw.Handler

	token := login(t, h)
	rec := call(t, h, http.MethodPost, "/v1/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int32(1), hospital.logouts.Load())

	rec = call(t, h, http.MethodGet, "/v1/patient", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBuildGatewayRejectsMissingSecretInProduction(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Env = "production"
	cfg.GatewayJWTSecret = ""
	_, err := BuildGateway(Options{Config: cfg, Registerer: prometheus.NewRegistry()})
	assert.Error(t, err)

	_, err = BuildGateway(Options{})
	assert.Error(t, err)
}

func TestBuildRedisClient(t *testing.T) {
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{}, nil, true))

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, nil, true)
	require.NotNil(t, client)
	t.Cleanup(func() { _ = client.Close() })

	_, isRedis := BuildTokenStore(client).(*auth.RedisTokenStore)
	assert.True(t, isRedis)
	_, isMemory := BuildTokenStore(nil).(*auth.MemoryTokenStore)
	assert.True(t, isMemory)

	c := BuildCache(client)
	require.NoError(t, c.Set(context.Background(), "k", "v", time.Minute))
	assert.True(t, mr.Exists(cachePrefix+"k"))
	_, isMemCache := BuildCache(nil).(*cache.MemoryCache)
	assert.True(t, isMemCache)

	mr.Close()
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, nil, true))
}
