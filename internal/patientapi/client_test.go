package patientapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/oncare-patient-gateway/internal/apperr"
	"github.com/wolfman30/oncare-patient-gateway/internal/retry"
)

type recordingObserver struct {
	outcomes []string
}

func (o *recordingObserver) ObserveUpstream(path, outcome string, _ float64) {
	o.outcomes = append(o.outcomes, path+":"+outcome)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := Config{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Device:     DeviceInfo{Platform: "server", AppVersion: "1.4.0", Model: "unknown", OSVersion: "unknown"},
		Tokens: TokenFunc(func(context.Context) (string, error) {
			return "tok-123", nil
		}),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return New(cfg)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestInvokeSendsHeadersAndDecodesLocations(t *testing.T) {
	var got http.Header
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		assert.Equal(t, "/locations", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		writeJSON(w, map[string]any{
			"code": 1,
			"data": []map[string]any{{"id": 7, "name": "Downtown Clinic", "city": "Pune"}},
		})
	})

	locs, err := client.ListLocations(context.Background())
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, ID("7"), locs[0].ID)
	assert.Equal(t, "Downtown Clinic, Pune", locs[0].Label())

	assert.Equal(t, "tok-123", got.Get(HeaderToken))
	assert.Equal(t, "server", got.Get(HeaderPlatform))
	assert.Equal(t, "1.4.0", got.Get(HeaderAppVersion))
	assert.Equal(t, "application/json", got.Get("Content-Type"))
}

func TestInvokeDeviceFromContextOverridesDefaults(t *testing.T) {
	var got http.Header
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		writeJSON(w, map[string]any{"code": 1, "data": []any{}})
	})

	ctx := WithDevice(context.Background(), DeviceInfo{Platform: "android", Model: "Pixel 8"})
	_, err := client.ListLocations(ctx)
	require.NoError(t, err)
	assert.Equal(t, "android", got.Get(HeaderPlatform))
	assert.Equal(t, "Pixel 8", got.Get(HeaderModel))
	assert.Equal(t, "1.4.0", got.Get(HeaderAppVersion))
}

func TestInvokeUnauthorizedTriggersCallbackOnce(t *testing.T) {
	var calls int32
	obs := &recordingObserver{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"message":"token expired"}`)
	}, func(cfg *Config) {
		cfg.OnUnauthorized = func(context.Context) { atomic.AddInt32(&calls, 1) }
		cfg.Observer = obs
	})

	_, err := client.ListAppointments(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, []string{"/getPatientAppointments:unauthorized"}, obs.outcomes)
}

func TestInvokeAny4xxIsSessionInvalidByDefault(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}, func(cfg *Config) {
		cfg.OnUnauthorized = func(context.Context) { atomic.AddInt32(&calls, 1) }
	})

	_, err := client.ListSlots(context.Background(), SlotQuery{LocationID: "1", PractitionerID: "2", VisitTypeName: "Consultation", Date: "2025-01-10"})
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestInvokeStrictUnauthorizedMapsOther4xxToApplication(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"code":0,"message":"appointment not found"}`)
	}, func(cfg *Config) {
		cfg.StrictUnauthorized = true
		cfg.OnUnauthorized = func(context.Context) { atomic.AddInt32(&calls, 1) }
	})

	_, err := client.CancelAppointment(context.Background(), "55")
	assert.True(t, apperr.Is(err, apperr.KindApplication))
	assert.Equal(t, "appointment not found", apperr.UserMessage(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestInvokeServerErrorTruncatesBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, strings.Repeat("x", 1000))
	})

	_, err := client.ListLocations(context.Background())
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindServerError, appErr.Kind)
	assert.Equal(t, "HTTP 502", appErr.Message)
	assert.Len(t, appErr.Detail, maxErrorBody)
}

func TestInvokeServerErrorKeepsDetailValidUTF8(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "x"+strings.Repeat("é", 400))
	})

	_, err := client.ListLocations(context.Background())
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.True(t, utf8.ValidString(appErr.Detail))
	assert.Len(t, appErr.Detail, maxErrorBody-1)
}

func TestInvokeApplicationErrorCarriesServerMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"code": 0, "message": "Slot no longer available"})
	})

	_, err := client.CreateAppointment(context.Background(), CreateAppointmentRequest{PractitionerID: "2", LocationID: "1", DateTime: "2025-01-10T09:00:00Z", VisitTypeName: "Consultation"})
	assert.True(t, apperr.Is(err, apperr.KindApplication))
	assert.Equal(t, "Slot no longer available", apperr.UserMessage(err))
}

func TestInvokeMissingCodeIsApplicationError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": []any{}})
	})

	_, err := client.ListLocations(context.Background())
	assert.True(t, apperr.Is(err, apperr.KindApplication))
}

func TestInvokeNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := New(Config{BaseURL: url})
	_, err := client.ListLocations(context.Background())
	assert.True(t, apperr.Is(err, apperr.KindNetwork))
	assert.True(t, apperr.Retryable(err))
}

func TestMalformedReplyToMutationIsNotRetried(t *testing.T) {
	for name, reply := range map[string]string{
		"unreadable envelope": "<html>ok</html>",
		"unreadable data":     `{"code":1,"data":"booked"}`,
	} {
		t.Run(name, func(t *testing.T) {
			var calls int32
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				_, _ = io.WriteString(w, reply)
			})
			policy := retry.Policy{MaxRetries: 2, Delay: time.Millisecond}

			_, err := retry.Value(context.Background(), policy, "create-appointment", func(ctx context.Context) (AppointmentRef, error) {
				return client.CreateAppointment(ctx, CreateAppointmentRequest{PractitionerID: "2", LocationID: "1", DateTime: "2025-01-10T09:00:00Z", VisitTypeName: "Consultation"})
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrOutcomeUnknown)
			assert.True(t, apperr.Is(err, apperr.KindServerError))
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		})
	}
}

func TestMalformedReplyToReadIsRetryable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>gateway</html>")
	})

	_, err := client.ListLocations(context.Background())
	assert.True(t, apperr.Is(err, apperr.KindServerError))
	assert.NotErrorIs(t, err, apperr.ErrOutcomeUnknown)
	assert.True(t, apperr.Retryable(err))
}

func TestCreateAppointmentSendsBodyAndIdempotencyKey(t *testing.T) {
	var body map[string]any
	var key string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/book-appointment", r.URL.Path)
		key = r.Header.Get(HeaderIdempotencyKey)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, map[string]any{"code": 1, "data": map[string]any{"appointmentId": 991, "status": "pending"}})
	})

	ref, err := client.CreateAppointment(context.Background(), CreateAppointmentRequest{
		PractitionerID: "2",
		LocationID:     "1",
		DateTime:       "2025-01-10T09:00:00Z",
		VisitTypeName:  "Consultation",
	}, WithIdempotencyKey("key-1"))
	require.NoError(t, err)
	assert.Equal(t, ID("991"), ref.AppointmentID)
	assert.Equal(t, StatusPending, ref.Status)
	assert.Equal(t, "key-1", key)
	assert.Equal(t, float64(2), body["practitionerId"])
	assert.Equal(t, float64(1), body["locationId"])
	assert.Equal(t, "Consultation", body["visitTypeName"])
}

func TestListVisitTypesAcceptsStringsAndObjects(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"code":1,"data":["Consultation",{"name":"Follow-up"},""]}`)
	})

	got, err := client.ListVisitTypes(context.Background(), "1", "2")
	require.NoError(t, err)
	assert.Equal(t, []string{"Consultation", "Follow-up"}, got)
}

func TestSendOTPSkipsTokenAndParsesHospitals(t *testing.T) {
	var token string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		token = r.Header.Get(HeaderToken)
		_, _ = io.WriteString(w, `{"code":1,"message":"OTP sent","data":{"otp_id":"o-1","mobile":"98xxxx10","hospitalUids":["H1",{"hospitalUid":"H2","hospitalName":"Oncare Pune"}]}}`)
	})

	ch, err := client.SendOTP(context.Background(), "9812345610", "Asha")
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Equal(t, "o-1", ch.OTPID)
	assert.Equal(t, "OTP sent", ch.Message)
	require.Len(t, ch.HospitalUIDs, 2)
	assert.Equal(t, "H1", ch.HospitalUIDs[0].UID)
	assert.Equal(t, HospitalUID{UID: "H2", Name: "Oncare Pune"}, ch.HospitalUIDs[1])
}

func TestLogoutUsesExplicitToken(t *testing.T) {
	var token string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		token = r.Header.Get(HeaderToken)
		writeJSON(w, map[string]any{"code": 1, "message": "Logged out"})
	})

	require.NoError(t, client.Logout(context.Background(), "explicit"))
	assert.Equal(t, "explicit", token)
}

func TestMissingTokenSendsNoHeader(t *testing.T) {
	var present bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, present = r.Header[http.CanonicalHeaderKey(HeaderToken)]
		writeJSON(w, map[string]any{"code": 1})
	}, func(cfg *Config) {
		cfg.Tokens = TokenFunc(func(context.Context) (string, error) { return "", ErrNoToken })
	})

	docs, err := client.GetPatientDocuments(context.Background())
	require.NoError(t, err)
	assert.False(t, present)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)
}

func TestGetPatientDetailsFlexibleFields(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"code":1,"data":{"patient_id":"P-9","patient_name":"Asha Rao","age_yrs":54,"is_registered":true}}`)
	})

	p, err := client.GetPatientDetails(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Asha Rao", p.PatientName)
	assert.Equal(t, FlexString("54"), p.AgeYears)
	assert.Equal(t, FlexString("true"), p.IsRegistered)
}
