package audit

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "vigil/pkg/domain"
)

func baseEvent() Event {
	return Event{
		ID:        id.NewEventID(),
		Type:      EventDataExported,
		Timestamp: time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC),
		SubjectID: id.SubjectID(uuid.New()),
		Category:  CategoryData,
		Severity:  SeverityHigh,
		Details:   map[string]any{"resource": "exports/q2.csv"},
		Version:   1,
	}
}

func TestEventType_ClassificationTables(t *testing.T) {
	tests := []struct {
		eventType EventType
		category  Category
		severity  Severity
	}{
		{EventFailedAuthentication, CategoryAuthentication, SeverityMedium},
		{EventPrivilegeEscalation, CategoryAuthorization, SeverityCritical},
		{EventDataExported, CategoryData, SeverityHigh},
		{EventSuspiciousLogin, CategorySecurity, SeverityHigh},
		{EventSystemStartup, CategorySystem, SeverityLow},
	}
	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			assert.Equal(t, tt.category, tt.eventType.Category())
			assert.Equal(t, tt.severity, tt.eventType.BaseSeverity())
		})
	}
}

func TestEventType_UnknownDefaults(t *testing.T) {
	unknown := EventType("quantum_entanglement")
	assert.Equal(t, CategorySystem, unknown.Category())
	assert.Equal(t, SeverityMedium, unknown.BaseSeverity())
	assert.Empty(t, unknown.ComplianceFlags())
	assert.False(t, unknown.EncryptionRequired())
	assert.Equal(t, 180*24*time.Hour, unknown.RetentionPeriod())
}

func TestWithTransforms_IncrementVersionAndCopy(t *testing.T) {
	ev := baseEvent()

	enriched := ev.WithSecurityAnalysis(SecurityAnalysis{RiskScore: 0.4})
	assert.Equal(t, 2, enriched.Version)
	assert.Equal(t, 1, ev.Version, "original event must be untouched")
	_, ok := ev.SecurityAnalysis()
	assert.False(t, ok)

	enriched = enriched.WithComplianceClassification(ComplianceClassification{
		Flags: []ComplianceFlag{FlagGDPRPersonalData},
	})
	assert.Equal(t, 3, enriched.Version)

	signed, err := enriched.WithSignature(SigningResult{Signature: "00ff", Algorithm: "HMAC-SHA256"})
	require.NoError(t, err)
	assert.Equal(t, 4, signed.Version)
	assert.Equal(t, "00ff", signed.Signature)

	final := signed.WithThreatDetection(ThreatDetection{ScannedAt: time.Now().UTC()})
	assert.Equal(t, 5, final.Version)
}

func TestWithTransforms_DeepCopyDetails(t *testing.T) {
	ev := baseEvent()
	enriched := ev.WithSecurityAnalysis(SecurityAnalysis{RiskScore: 0.4})

	enriched.Details["resource"] = "tampered"
	assert.Equal(t, "exports/q2.csv", ev.Details["resource"])
}

func TestWithSignature_RefusesSecondSignature(t *testing.T) {
	ev := baseEvent()
	signed, err := ev.WithSignature(SigningResult{Signature: "00ff"})
	require.NoError(t, err)

	_, err = signed.WithSignature(SigningResult{Signature: "11aa"})
	require.ErrorIs(t, err, ErrAlreadySigned)
}

func TestRequiresImmediateAlert(t *testing.T) {
	ev := baseEvent()
	assert.False(t, ev.RequiresImmediateAlert())

	critical := ev
	critical.Severity = SeverityCritical
	assert.True(t, critical.RequiresImmediateAlert())

	flagged := ev.WithThreatDetection(ThreatDetection{
		Indicators: []ThreatIndicator{{Type: "impossible_travel", Severity: SeverityHigh}},
	})
	assert.True(t, flagged.RequiresImmediateAlert())

	benign := ev.WithThreatDetection(ThreatDetection{
		Indicators: []ThreatIndicator{{Type: "off_hours_sensitive_access", Severity: SeverityMedium}},
	})
	assert.False(t, benign.RequiresImmediateAlert())
}

func TestRiskScore_ZeroBeforeAnalysis(t *testing.T) {
	ev := baseEvent()
	assert.Zero(t, ev.RiskScore())

	enriched := ev.WithSecurityAnalysis(SecurityAnalysis{RiskScore: 0.73})
	assert.InDelta(t, 0.73, enriched.RiskScore(), 1e-9)
}

func TestIsSystemEvent(t *testing.T) {
	ev := baseEvent()
	assert.False(t, ev.IsSystemEvent())

	ev.SubjectID = id.SubjectID{}
	assert.True(t, ev.IsSystemEvent())
}

func TestSeverity_AtLeast(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityHigh))
	assert.True(t, SeverityHigh.AtLeast(SeverityHigh))
	assert.False(t, SeverityMedium.AtLeast(SeverityHigh))
	assert.False(t, Severity("unknown").AtLeast(SeverityLow))
}
