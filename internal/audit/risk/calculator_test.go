package risk

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/audit"
	"vigil/internal/audit/baseline"
	id "vigil/pkg/domain"
)

type staticRecent struct {
	events []audit.Event
}

func (s staticRecent) ListBySubject(context.Context, id.SubjectID, time.Time, int) ([]audit.Event, error) {
	return s.events, nil
}

func businessHours(t *testing.T) time.Time {
	t.Helper()
	// A Tuesday at 10:00 UTC.
	return time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
}

func TestCalculate_UnknownSubjectFailedAuth(t *testing.T) {
	// A failed authentication from a subject with no baseline, no
	// geolocation, and no device fingerprint during business hours.
	calc, err := NewCalculator(baseline.NewInMemoryStore(), staticRecent{})
	require.NoError(t, err)

	ev := audit.Event{
		ID:        id.NewEventID(),
		Type:      audit.EventFailedAuthentication,
		Severity:  audit.SeverityMedium,
		Timestamp: businessHours(t),
		SubjectID: id.SubjectID(uuid.New()),
	}

	res := calc.Calculate(context.Background(), ev)

	assert.InDelta(t, 0.28, res.Score, 1e-9)
	assert.InDelta(t, 0.3, res.Factors[FactorSeverity], 1e-9)
	assert.InDelta(t, 0.5, res.Factors[FactorBehavioral], 1e-9, "unknown subject scores neutral")
	assert.InDelta(t, 0.1, res.Factors[FactorTemporal], 1e-9)
	assert.InDelta(t, 0.1, res.Factors[FactorGeographic], 1e-9)
	assert.InDelta(t, 0.1, res.Factors[FactorDevice], 1e-9)
	assert.InDelta(t, 0.2, res.Factors[FactorCompliance], 1e-9)
	assert.False(t, res.BaselineAvailable)
}

func TestCalculate_Deterministic(t *testing.T) {
	calc, err := NewCalculator(baseline.NewInMemoryStore(), staticRecent{})
	require.NoError(t, err)

	ev := audit.Event{
		ID:        id.NewEventID(),
		Type:      audit.EventDataExported,
		Severity:  audit.SeverityHigh,
		Timestamp: businessHours(t),
		SubjectID: id.SubjectID(uuid.New()),
		ComplianceFlags: []audit.ComplianceFlag{
			audit.FlagGDPRPersonalData,
		},
	}

	first := calc.Calculate(context.Background(), ev)
	for range 10 {
		assert.Equal(t, first, calc.Calculate(context.Background(), ev))
	}
}

func TestCalculate_Bounded(t *testing.T) {
	store := baseline.NewInMemoryStore()
	subjectID := id.SubjectID(uuid.New())
	require.NoError(t, store.Put(context.Background(), &baseline.Baseline{
		SubjectID:         subjectID,
		AvgEventsPerHour:  0.1,
		TypicalEventTypes: []audit.EventType{audit.EventSuccessfulAuthentication},
		TypicalHours:      []int{10, 11},
		TypicalCountries:  []string{"DE"},
		KnownDevices:      []string{"known-device"},
	}))

	calc, err := NewCalculator(store, staticRecent{})
	require.NoError(t, err)

	// Worst case on every factor: critical severity, night-time, unknown
	// country, unknown device, sensitive data, anomalous behavior.
	ev := audit.Event{
		ID:                id.NewEventID(),
		Type:              audit.EventPrivilegeEscalation,
		Severity:          audit.SeverityCritical,
		Timestamp:         time.Date(2025, 3, 4, 3, 0, 0, 0, time.UTC),
		SubjectID:         subjectID,
		Geolocation:       &id.Geolocation{CountryCode: "KP", Latitude: 39.0, Longitude: 125.7},
		DeviceFingerprint: "never-seen-device",
		ComplianceFlags:   []audit.ComplianceFlag{audit.FlagSensitiveDataAccess},
	}

	res := calc.Calculate(context.Background(), ev)

	assert.GreaterOrEqual(t, res.Score, 0.0)
	assert.LessOrEqual(t, res.Score, 1.0)
	assert.Greater(t, res.Score, 0.5, "worst-case event must score high")
	assert.True(t, res.BaselineAvailable)
	for f, v := range res.Factors {
		assert.GreaterOrEqual(t, v, 0.0, f)
		assert.LessOrEqual(t, v, 1.0, f)
	}
}

func TestCalculate_BaselineLowersGeoAndDevice(t *testing.T) {
	store := baseline.NewInMemoryStore()
	subjectID := id.SubjectID(uuid.New())
	require.NoError(t, store.Put(context.Background(), &baseline.Baseline{
		SubjectID:        subjectID,
		TypicalCountries: []string{"DE"},
		KnownDevices:     []string{"laptop-1"},
	}))

	calc, err := NewCalculator(store, staticRecent{})
	require.NoError(t, err)

	ev := audit.Event{
		ID:                id.NewEventID(),
		Type:              audit.EventSuccessfulAuthentication,
		Severity:          audit.SeverityLow,
		Timestamp:         businessHours(t),
		SubjectID:         subjectID,
		Geolocation:       &id.Geolocation{CountryCode: "DE"},
		DeviceFingerprint: "laptop-1",
	}
	res := calc.Calculate(context.Background(), ev)
	assert.InDelta(t, 0.1, res.Factors[FactorGeographic], 1e-9)
	assert.InDelta(t, 0.1, res.Factors[FactorDevice], 1e-9)

	ev.Geolocation = &id.Geolocation{CountryCode: "BR"}
	ev.DeviceFingerprint = "stolen-phone"
	res = calc.Calculate(context.Background(), ev)
	assert.InDelta(t, 0.7, res.Factors[FactorGeographic], 1e-9)
	assert.InDelta(t, 0.8, res.Factors[FactorDevice], 1e-9)
}

func TestTemporalFactor(t *testing.T) {
	tests := []struct {
		hour int
		want float64
	}{
		{hour: 9, want: 0.1},
		{hour: 13, want: 0.1},
		{hour: 17, want: 0.1},
		{hour: 18, want: 0.3},
		{hour: 22, want: 0.3},
		{hour: 23, want: 0.6},
		{hour: 0, want: 0.6},
		{hour: 3, want: 0.6},
		{hour: 8, want: 0.6},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, temporalFactor(tt.hour), 1e-9, "hour %d", tt.hour)
	}
}

func TestSeverityFactor_UnknownDefaultsLow(t *testing.T) {
	assert.InDelta(t, 0.2, severityFactor(audit.Severity("made-up")), 1e-9)
}

func TestComplianceFactor(t *testing.T) {
	assert.InDelta(t, 0.2, complianceFactor(nil), 1e-9)
	assert.InDelta(t, 0.2, complianceFactor([]audit.ComplianceFlag{audit.FlagSOXFinancialControls}), 1e-9)
	assert.InDelta(t, 0.6, complianceFactor([]audit.ComplianceFlag{
		audit.FlagSOXFinancialControls,
		audit.FlagCCPAPersonalInfo,
	}), 1e-9)
}

func TestNewCalculator_RejectsBadWeights(t *testing.T) {
	_, err := NewCalculator(nil, nil, WithWeights(Weights{
		FactorSeverity:   0.5,
		FactorBehavioral: 0.2,
	}))
	require.Error(t, err)

	_, err = NewCalculator(nil, nil, WithWeights(Weights{
		FactorSeverity: 1.5,
		FactorTemporal: -0.5,
	}))
	require.Error(t, err)
}
