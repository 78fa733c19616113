package metadata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	id "vigil/pkg/domain"
	"vigil/pkg/requestcontext"
)

func captureContext(t *testing.T, decorate func(*http.Request)) *http.Request {
	t.Helper()
	var captured *http.Request
	h := ClientMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r
	}))

	req := httptest.NewRequest(http.MethodGet, "/audit/events", nil)
	if decorate != nil {
		decorate(req)
	}
	h.ServeHTTP(httptest.NewRecorder(), req)
	return captured
}

func TestClientMetadata_ForwardedFor(t *testing.T) {
	r := captureContext(t, func(req *http.Request) {
		req.Header.Set("X-Forwarded-For", "203.0.113.4, 10.0.0.1")
		req.Header.Set("User-Agent", "Mozilla/5.0")
	})

	assert.Equal(t, "203.0.113.4", requestcontext.ClientIP(r.Context()))
	assert.Equal(t, "Mozilla/5.0", requestcontext.UserAgent(r.Context()))
}

func TestClientMetadata_RemoteAddrFallback(t *testing.T) {
	r := captureContext(t, func(req *http.Request) {
		req.RemoteAddr = "192.0.2.7:51234"
	})

	assert.Equal(t, "192.0.2.7", requestcontext.ClientIP(r.Context()))
}

func TestClientMetadata_DeviceFingerprint(t *testing.T) {
	r := captureContext(t, func(req *http.Request) {
		req.Header.Set(HeaderDeviceFingerprint, "abc123")
	})

	assert.Equal(t, "abc123", requestcontext.DeviceFingerprint(r.Context()))
}

func TestClientMetadata_Geolocation(t *testing.T) {
	r := captureContext(t, func(req *http.Request) {
		req.Header.Set(HeaderGeoCountry, "de")
		req.Header.Set(HeaderGeoLatitude, "52.52")
		req.Header.Set(HeaderGeoLongitude, "13.405")
	})

	geo := requestcontext.Location(r.Context())
	assert.Equal(t, id.Geolocation{CountryCode: "DE", Latitude: 52.52, Longitude: 13.405}, geo)
}

func TestClientMetadata_GeolocationCountryOnly(t *testing.T) {
	r := captureContext(t, func(req *http.Request) {
		req.Header.Set(HeaderGeoCountry, "ES")
		req.Header.Set(HeaderGeoLatitude, "not-a-number")
	})

	geo := requestcontext.Location(r.Context())
	assert.Equal(t, "ES", geo.CountryCode)
	assert.Zero(t, geo.Latitude)
}

func TestClientMetadata_NoGeoHeaders(t *testing.T) {
	r := captureContext(t, nil)
	assert.True(t, requestcontext.Location(r.Context()).IsZero())
}
