package geo

import (
	"math"
	"time"
)

const earthRadiusKm = 6371.0

// Distance returns the great-circle distance in kilometers between two
// coordinates using the haversine formula.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// Estimator converts straight-line distances into travel time estimates
// using an average urban speed and a congestion multiplier.
type Estimator struct {
	AvgSpeedKmh      float64
	CongestionFactor float64
}

// TravelTime estimates how long driving distanceKm takes.
func (e Estimator) TravelTime(distanceKm float64) time.Duration {
	speed := e.AvgSpeedKmh
	if speed <= 0 {
		speed = 30
	}
	factor := e.CongestionFactor
	if factor <= 0 {
		factor = 1.2
	}
	hours := distanceKm / speed * factor
	return time.Duration(hours * float64(time.Hour))
}
