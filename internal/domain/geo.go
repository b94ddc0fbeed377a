package domain

// Climate zones used by French thermal regulation
const (
	ZoneH1 = "H1"
	ZoneH2 = "H2"
	ZoneH3 = "H3"
)

// CityInfo represents a resolved municipality with its location
type CityInfo struct {
	City        string  `json:"city"`
	Department  string  `json:"department"`
	Latitude    float64 `json:"lat"`
	Longitude   float64 `json:"lon"`
	ClimateZone string  `json:"zone_climatique"`
}

// Elevation wraps an altitude lookup result
type Elevation struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Altitude  float64 `json:"altitude"`
}
