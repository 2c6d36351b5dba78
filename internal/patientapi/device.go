package patientapi

import (
	"context"
	"net/http"
	"strings"
)

// DeviceInfo is the device/app metadata attached to every backend request.
type DeviceInfo struct {
	Platform   string
	AppVersion string
	Model      string
	OSVersion  string
}

// Header names the backend reads device metadata from.
const (
	HeaderPlatform       = "platform"
	HeaderAppVersion     = "appversion"
	HeaderModel          = "model"
	HeaderOSVersion      = "osVersion"
	HeaderToken          = "token"
	HeaderIdempotencyKey = "Idempotency-Key"
)

type deviceKey struct{}

// WithDevice returns ctx carrying device metadata that overrides the client's
// configured defaults field by field.
func WithDevice(ctx context.Context, d DeviceInfo) context.Context {
	return context.WithValue(ctx, deviceKey{}, d)
}

// DeviceFromHeaders reads device metadata sent by the presentation client.
func DeviceFromHeaders(h http.Header) DeviceInfo {
	return DeviceInfo{
		Platform:   strings.TrimSpace(h.Get(HeaderPlatform)),
		AppVersion: strings.TrimSpace(h.Get(HeaderAppVersion)),
		Model:      strings.TrimSpace(h.Get(HeaderModel)),
		OSVersion:  strings.TrimSpace(h.Get(HeaderOSVersion)),
	}
}

func (d DeviceInfo) merge(override DeviceInfo) DeviceInfo {
	if override.Platform != "" {
		d.Platform = override.Platform
	}
	if override.AppVersion != "" {
		d.AppVersion = override.AppVersion
	}
	if override.Model != "" {
		d.Model = override.Model
	}
	if override.OSVersion != "" {
		d.OSVersion = override.OSVersion
	}
	return d
}

func deviceFromContext(ctx context.Context, defaults DeviceInfo) DeviceInfo {
	if d, ok := ctx.Value(deviceKey{}).(DeviceInfo); ok {
		return defaults.merge(d)
	}
	return defaults
}
