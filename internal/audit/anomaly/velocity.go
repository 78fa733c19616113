package anomaly

import (
	"math"
	"time"

	id "vigil/pkg/domain"
)

// DefaultImpossibleTravelKmh is the velocity above which consecutive
// geolocated events are physically implausible. Treated as configuration,
// not a tuned constant.
const DefaultImpossibleTravelKmh = 1000.0

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two points in
// kilometers.
func HaversineKm(a, b id.Geolocation) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon

	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// VelocityKmh returns the implied travel speed between two geolocated
// observations. Zero or negative elapsed time yields 0, never a division
// by zero.
func VelocityKmh(from id.Geolocation, fromAt time.Time, to id.Geolocation, toAt time.Time) float64 {
	elapsed := toAt.Sub(fromAt).Hours()
	if elapsed <= 0 {
		return 0
	}
	return HaversineKm(from, to) / elapsed
}

// ImpossibleTravel reports whether the implied velocity between two
// observations exceeds the threshold, along with the velocity itself.
func ImpossibleTravel(from id.Geolocation, fromAt time.Time, to id.Geolocation, toAt time.Time, thresholdKmh float64) (bool, float64) {
	if thresholdKmh <= 0 {
		thresholdKmh = DefaultImpossibleTravelKmh
	}
	v := VelocityKmh(from, fromAt, to, toAt)
	return v > thresholdKmh, v
}
