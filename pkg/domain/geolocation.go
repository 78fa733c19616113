package domain

// Geolocation is a resolved client location. Latitude/longitude are optional;
// a zero pair with an empty country means "no geolocation available".
type Geolocation struct {
	CountryCode string  `json:"country_code"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// IsZero reports whether no geolocation was resolved.
func (g Geolocation) IsZero() bool {
	return g.CountryCode == "" && g.Latitude == 0 && g.Longitude == 0
}
