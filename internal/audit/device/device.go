// Package device derives stable device identities from client hints.
// Fingerprints feed the known-device risk factor, so they must be
// deterministic and survive routine browser updates: minor version bumps
// keep the fingerprint, major version changes roll it.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mssola/useragent"
)

// Service computes device display names and fingerprints.
type Service struct {
	enabled bool
}

// NewService creates a device service. When disabled, fingerprints are
// empty and events carry no device signal.
func NewService(enabled bool) *Service {
	return &Service{enabled: enabled}
}

// Enabled reports whether fingerprinting is active.
func (s *Service) Enabled() bool { return s.enabled }

// ParseUserAgent produces a human-readable device name for audit detail
// payloads, like "Chrome on Intel Mac OS X 10_15_7" or "Safari on iPhone".
func ParseUserAgent(rawUA string) string {
	if rawUA == "" {
		return "Unknown Device"
	}

	ua := useragent.New(rawUA)
	browser, _ := ua.Browser()
	if browser == "" {
		browser = "Unknown Browser"
	}

	location := ua.OS()
	if ua.Mobile() && ua.Platform() != "" {
		location = ua.Platform()
	}
	if location == "" {
		location = "Unknown OS"
	}

	return strings.TrimSpace(browser + " on " + location)
}

// ComputeFingerprint hashes the normalized user agent into a SHA-256 hex
// fingerprint. Only the browser name, its major version, the OS, and the
// platform participate, so patch releases do not churn known-device sets.
func (s *Service) ComputeFingerprint(rawUA string) string {
	if !s.enabled || rawUA == "" {
		return ""
	}

	ua := useragent.New(rawUA)
	browser, version := ua.Browser()

	normalized := strings.Join([]string{
		browser,
		majorVersion(version),
		ua.OS(),
		ua.Platform(),
	}, "|")

	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func majorVersion(version string) string {
	if version == "" {
		return ""
	}
	if i := strings.IndexByte(version, '.'); i >= 0 {
		return version[:i]
	}
	return version
}
