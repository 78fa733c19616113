// Package metadata extracts client context from incoming requests: IP
// address, user agent, device fingerprint, and geolocation hints set by
// the edge proxy.
package metadata

import (
	"net/http"
	"strconv"
	"strings"

	id "vigil/pkg/domain"
	"vigil/pkg/requestcontext"
)

// Headers set by the edge. The geolocation headers come from the CDN's
// IP lookup; absent or unparsable values simply leave the location unset.
const (
	HeaderDeviceFingerprint = "X-Device-Fingerprint"
	HeaderGeoCountry        = "X-Geo-Country"
	HeaderGeoLatitude       = "X-Geo-Latitude"
	HeaderGeoLongitude      = "X-Geo-Longitude"
)

// ClientMetadata extracts client attributes from the request and adds
// them to the context for handlers and services. It should be applied
// early in the chain.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = requestcontext.WithClientMetadata(ctx, ClientIPFromRequest(r), r.Header.Get("User-Agent"))

		if fp := r.Header.Get(HeaderDeviceFingerprint); fp != "" {
			ctx = requestcontext.WithDeviceFingerprint(ctx, fp)
		}
		if geo, ok := geolocationFromHeaders(r); ok {
			ctx = requestcontext.WithLocation(ctx, geo)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func geolocationFromHeaders(r *http.Request) (id.Geolocation, bool) {
	country := strings.TrimSpace(r.Header.Get(HeaderGeoCountry))
	if country == "" {
		return id.Geolocation{}, false
	}
	geo := id.Geolocation{CountryCode: strings.ToUpper(country)}

	lat, latErr := strconv.ParseFloat(r.Header.Get(HeaderGeoLatitude), 64)
	lon, lonErr := strconv.ParseFloat(r.Header.Get(HeaderGeoLongitude), 64)
	if latErr == nil && lonErr == nil && lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180 {
		geo.Latitude = lat
		geo.Longitude = lon
	}
	return geo, true
}

// ClientIPFromRequest extracts the real client IP from the request, handling proxies and load balancers.
func ClientIPFromRequest(r *http.Request) string {
	// Check X-Forwarded-For header first (standard for proxied requests)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For can contain multiple IPs (client, proxy1, proxy2, ...)
		// Take the first IP which is the original client
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	// Check X-Real-IP header (used by nginx and other proxies)
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fall back to RemoteAddr (direct connection)
	// RemoteAddr is in format "ip:port", so we need to strip the port
	if addr := r.RemoteAddr; addr != "" {
		// For IPv6, format is [::1]:port
		// For IPv4, format is 127.0.0.1:port
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return addr[:idx]
		}
		return addr
	}

	return "unknown"
}
