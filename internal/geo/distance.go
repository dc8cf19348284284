package geo

import "math"

// earthRadiusKm is the mean radius of the Earth in kilometers.
const earthRadiusKm = 6371.0

// Point is a geographic coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// HaversineKm computes the great-circle distance between two points in kilometers.
func HaversineKm(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)

	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// DecayScore converts a distance into a proximity score in [0, 1] using
// Gaussian decay: exp(-d² / (2·σ²)). A sigma of 50km gives ~0.61 at 50km
// and ~0.14 at 100km.
//
// Non-positive sigma returns 0 to avoid division by zero.
func DecayScore(distanceKm, sigmaKm float64) float64 {
	if sigmaKm <= 0 {
		return 0
	}
	if distanceKm < 0 {
		distanceKm = 0
	}
	return math.Exp(-(distanceKm * distanceKm) / (2 * sigmaKm * sigmaKm))
}
