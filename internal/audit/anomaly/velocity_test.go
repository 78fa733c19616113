package anomaly

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	id "vigil/pkg/domain"
)

var (
	berlin       = id.Geolocation{CountryCode: "DE", Latitude: 52.5200, Longitude: 13.4050}
	madrid       = id.Geolocation{CountryCode: "ES", Latitude: 40.4168, Longitude: -3.7038}
	berlinSuburb = id.Geolocation{CountryCode: "DE", Latitude: 52.5450, Longitude: 13.4550}
)

func TestHaversineKm(t *testing.T) {
	t.Run("zero distance for identical points", func(t *testing.T) {
		assert.Zero(t, HaversineKm(berlin, berlin))
	})

	t.Run("berlin to madrid is roughly 1870 km", func(t *testing.T) {
		d := HaversineKm(berlin, madrid)
		assert.InDelta(t, 1870, d, 30)
	})

	t.Run("symmetric", func(t *testing.T) {
		assert.InDelta(t, HaversineKm(berlin, madrid), HaversineKm(madrid, berlin), 1e-9)
	})
}

func TestVelocityKmh(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	t.Run("zero elapsed time yields zero, not infinity", func(t *testing.T) {
		assert.Zero(t, VelocityKmh(berlin, now, madrid, now))
	})

	t.Run("negative elapsed time yields zero", func(t *testing.T) {
		assert.Zero(t, VelocityKmh(berlin, now, madrid, now.Add(-time.Hour)))
	})

	t.Run("distance over one hour equals the distance", func(t *testing.T) {
		v := VelocityKmh(berlin, now, madrid, now.Add(time.Hour))
		assert.InDelta(t, HaversineKm(berlin, madrid), v, 1e-9)
	})
}

func TestImpossibleTravel(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	t.Run("1870 km in 10 minutes is impossible", func(t *testing.T) {
		impossible, v := ImpossibleTravel(berlin, now, madrid, now.Add(10*time.Minute), DefaultImpossibleTravelKmh)
		assert.True(t, impossible)
		assert.Greater(t, v, 1000.0)
	})

	t.Run("a few km in 10 minutes is fine", func(t *testing.T) {
		impossible, v := ImpossibleTravel(berlin, now, berlinSuburb, now.Add(10*time.Minute), DefaultImpossibleTravelKmh)
		assert.False(t, impossible)
		assert.Less(t, v, 100.0)
	})

	t.Run("non-positive threshold falls back to the default", func(t *testing.T) {
		impossible, _ := ImpossibleTravel(berlin, now, madrid, now.Add(10*time.Minute), 0)
		assert.True(t, impossible)
	})
}
