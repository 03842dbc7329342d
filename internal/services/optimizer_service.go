package services

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twpayne/go-geom"
	gjson "github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkb"
	"gorm.io/gorm"

	"install_planner/internal/config"
	geodist "install_planner/internal/geo"
	"install_planner/internal/models"
)

// RouteOptimizerService rebuilds one installer's daily itinerary: orders the
// stops with a nearest-neighbor pass seeded by priority, then computes
// arrival and departure times sequentially from the business-day start.
type RouteOptimizerService struct {
	db        *gorm.DB
	geocoder  geodist.Geocoder
	estimator geodist.Estimator
	settings  config.PlannerSettings

	// Rebuilds for the same (installer, date) must not interleave: the
	// reset-then-rebuild of route stops is not atomic for readers.
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewRouteOptimizerService creates a RouteOptimizerService instance.
func NewRouteOptimizerService(db *gorm.DB, geocoder geodist.Geocoder, settings config.PlannerSettings) *RouteOptimizerService {
	return &RouteOptimizerService{
		db:       db,
		geocoder: geocoder,
		estimator: geodist.Estimator{
			AvgSpeedKmh:      settings.AvgSpeedKmh,
			CongestionFactor: settings.CongestionFactor,
		},
		settings: settings,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *RouteOptimizerService) routeLock(installerID uint, day time.Time) *sync.Mutex {
	key := fmt.Sprintf("%d|%s", installerID, day.Format("2006-01-02"))
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if mu, ok := s.locks[key]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	s.locks[key] = mu
	return mu
}

// OptimizeDailyRoute recomputes the route plan for one installer and day.
// Returns (nil, nil) when the installer has no scheduled work that day.
// Re-running on unchanged data yields the same ordering and totals.
func (s *RouteOptimizerService) OptimizeDailyRoute(ctx context.Context, installerID uint, date time.Time) (*models.RoutePlan, error) {
	day := DateOnly(date)

	mu := s.routeLock(installerID, day)
	mu.Lock()
	defer mu.Unlock()

	var installer models.User
	if err := s.db.Where("id = ? AND role = ?", installerID, "installer").First(&installer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: installer %d", ErrNotFound, installerID)
		}
		return nil, err
	}

	var slots []models.ScheduleSlot
	err := s.db.
		Joins("JOIN schedule_assignments sa ON sa.schedule_slot_id = schedule_slots.id").
		Where("sa.user_id = ?", installerID).
		Where("schedule_slots.scheduled_date = ?", day).
		Where("schedule_slots.status = ?", models.ScheduleStatusScheduled).
		Preload("Order").
		Order("schedule_slots.start_time asc, schedule_slots.id asc").
		Find(&slots).Error
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return nil, nil
	}

	s.ensureCoordinates(ctx, slots)

	ordered := s.orderStops(slots)

	var plan models.RoutePlan
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where(models.RoutePlan{InstallerID: installerID, Date: day}).
			Attrs(models.RoutePlan{StartLocation: s.settings.StartLocation}).
			FirstOrCreate(&plan).Error; err != nil {
			return err
		}

		// Full rebuild: stops are recreated from scratch on every run
		if err := tx.Unscoped().Where("route_plan_id = ?", plan.ID).Delete(&models.RouteStop{}).Error; err != nil {
			return err
		}

		totalDistance, totalTravel, stops, err := s.buildStops(tx, plan.ID, day, ordered)
		if err != nil {
			return err
		}

		plan.TotalDistanceKm = totalDistance
		plan.TotalTravelTime = totalTravel
		plan.IsOptimized = true
		plan.Geometry = routeGeometry(ordered)
		if err := tx.Model(&models.RoutePlan{}).Where("id = ?", plan.ID).
			Updates(map[string]interface{}{
				"total_distance_km": plan.TotalDistanceKm,
				"total_travel_time": plan.TotalTravelTime,
				"is_optimized":      true,
				"geometry":          plan.Geometry,
			}).Error; err != nil {
			return err
		}
		plan.Stops = stops
		return nil
	})
	if err != nil {
		return nil, err
	}

	plan.Installer = installer

	Events.Publish(map[string]interface{}{
		"type":         "route_optimized",
		"installer_id": installerID,
		"date":         day.Format("2006-01-02"),
		"stops":        len(plan.Stops),
		"distance_km":  plan.TotalDistanceKm,
	})

	return &plan, nil
}

// ensureCoordinates geocodes any slot still missing coordinates and persists
// the result. A failed lookup leaves the slot coordinate-less; it is not an
// error for the run.
func (s *RouteOptimizerService) ensureCoordinates(ctx context.Context, slots []models.ScheduleSlot) {
	for i := range slots {
		if slots[i].HasCoordinates() {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lat, lon, ok := s.geocoder.Resolve(cctx, slots[i].Order.ClientAddress)
		cancel()
		if !ok {
			logrus.WithError(ErrExternalService).WithFields(logrus.Fields{
				"schedule_id": slots[i].ID,
				"address":     slots[i].Order.ClientAddress,
			}).Warn("ensureCoordinates: geocoding failed, stop will go to the route tail")
			continue
		}
		slots[i].Latitude = &lat
		slots[i].Longitude = &lon
		if err := s.db.Model(&models.ScheduleSlot{}).Where("id = ?", slots[i].ID).
			Updates(map[string]interface{}{"latitude": lat, "longitude": lon}).Error; err != nil {
			logrus.WithError(err).WithField("schedule_id", slots[i].ID).Error("ensureCoordinates: persisting coordinates failed")
		}
	}
}

// orderStops applies the nearest-neighbor heuristic to the geocoded subset,
// seeded by the highest-priority slot, and appends coordinate-less slots in
// their original order. Deliberately not TSP-optimal; an optional 2-opt pass
// trims the worst detours when enabled.
func (s *RouteOptimizerService) orderStops(slots []models.ScheduleSlot) []models.ScheduleSlot {
	withCoords := make([]models.ScheduleSlot, 0, len(slots))
	withoutCoords := make([]models.ScheduleSlot, 0)
	for _, slot := range slots {
		if slot.HasCoordinates() {
			withCoords = append(withCoords, slot)
		} else {
			withoutCoords = append(withoutCoords, slot)
		}
	}
	if len(withCoords) == 0 {
		return slots
	}

	// Seed: lowest priority rank wins, ties keep input order
	startIdx := 0
	for i := 1; i < len(withCoords); i++ {
		if models.PriorityRank(withCoords[i].Priority) < models.PriorityRank(withCoords[startIdx].Priority) {
			startIdx = i
		}
	}

	ordered := make([]models.ScheduleSlot, 0, len(slots))
	current := withCoords[startIdx]
	remaining := append([]models.ScheduleSlot{}, withCoords[:startIdx]...)
	remaining = append(remaining, withCoords[startIdx+1:]...)
	ordered = append(ordered, current)

	for len(remaining) > 0 {
		nearest := 0
		nearestDist := geodist.Distance(*current.Latitude, *current.Longitude, *remaining[0].Latitude, *remaining[0].Longitude)
		for i := 1; i < len(remaining); i++ {
			d := geodist.Distance(*current.Latitude, *current.Longitude, *remaining[i].Latitude, *remaining[i].Longitude)
			if d < nearestDist {
				nearest = i
				nearestDist = d
			}
		}
		current = remaining[nearest]
		ordered = append(ordered, current)
		remaining = append(remaining[:nearest], remaining[nearest+1:]...)
	}

	if s.settings.TwoOptPasses > 0 && len(ordered) >= 4 {
		ordered = improveTwoOpt(ordered, s.settings.TwoOptPasses)
	}

	return append(ordered, withoutCoords...)
}

// improveTwoOpt runs a bounded 2-opt pass over the geocoded stops, keeping
// the priority-seeded first stop fixed.
func improveTwoOpt(stops []models.ScheduleSlot, passes int) []models.ScheduleSlot {
	best := append([]models.ScheduleSlot{}, stops...)
	bestDist := pathDistance(best)
	n := len(best)

	for pass := 0; pass < passes; pass++ {
		improved := false
		for i := 1; i < n-1; i++ {
			for k := i + 1; k < n; k++ {
				candidate := append([]models.ScheduleSlot{}, best[:i]...)
				for j := k; j >= i; j-- {
					candidate = append(candidate, best[j])
				}
				candidate = append(candidate, best[k+1:]...)
				if d := pathDistance(candidate); d+1e-6 < bestDist {
					best = candidate
					bestDist = d
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	return best
}

func pathDistance(stops []models.ScheduleSlot) float64 {
	total := 0.0
	for i := 0; i < len(stops)-1; i++ {
		total += geodist.Distance(*stops[i].Latitude, *stops[i].Longitude, *stops[i+1].Latitude, *stops[i+1].Longitude)
	}
	return total
}

// buildStops walks the ordered slots sequentially from the business-day
// start, computing travel legs between consecutive geocoded stops and
// persisting sequence numbers and timings.
func (s *RouteOptimizerService) buildStops(tx *gorm.DB, planID uint, day time.Time, ordered []models.ScheduleSlot) (float64, time.Duration, []models.RouteStop, error) {
	totalDistance := 0.0
	totalTravel := time.Duration(0)
	stops := make([]models.RouteStop, 0, len(ordered))

	departure := day.Add(s.settings.WorkStart)

	for i := range ordered {
		slot := &ordered[i]
		arrival := departure
		hasLeg := false

		if i > 0 {
			prev := &ordered[i-1]
			if slot.HasCoordinates() && prev.HasCoordinates() {
				dist := geodist.Distance(*prev.Latitude, *prev.Longitude, *slot.Latitude, *slot.Longitude)
				travel := s.estimator.TravelTime(dist)

				totalDistance += dist
				totalTravel += travel
				arrival = departure.Add(travel)
				hasLeg = true

				if err := tx.Model(&models.ScheduleSlot{}).Where("id = ?", slot.ID).
					Updates(map[string]interface{}{
						"travel_distance_km": dist,
						"travel_time_to":     travel,
					}).Error; err != nil {
					return 0, 0, nil, err
				}
			}
		}

		// A stop that had a leg on a previous run may have none now, e.g.
		// after being promoted to the seed; clear the stale fields
		if !hasLeg {
			if err := tx.Model(&models.ScheduleSlot{}).Where("id = ?", slot.ID).
				Updates(map[string]interface{}{
					"travel_distance_km": nil,
					"travel_time_to":     nil,
				}).Error; err != nil {
				return 0, 0, nil, err
			}
		}

		duration := slot.EstimatedDuration
		if duration == 0 {
			duration = s.settings.DefaultDuration
		}
		departure = arrival.Add(duration)

		stop := models.RouteStop{
			RoutePlanID:    planID,
			ScheduleSlotID: slot.ID,
			Sequence:       i + 1,
			ArrivalTime:    arrival,
			DepartureTime:  departure,
		}
		if err := tx.Create(&stop).Error; err != nil {
			return 0, 0, nil, err
		}
		stops = append(stops, stop)
	}

	return totalDistance, totalTravel, stops, nil
}

// routeGeometry encodes the geocoded portion of the route as a WKB
// LineString; fewer than two points produce no geometry.
func routeGeometry(ordered []models.ScheduleSlot) []byte {
	coords := make([]geom.Coord, 0, len(ordered))
	for _, slot := range ordered {
		if slot.HasCoordinates() {
			coords = append(coords, geom.Coord{*slot.Longitude, *slot.Latitude})
		}
	}
	if len(coords) < 2 {
		return nil
	}
	ls := geom.NewLineString(geom.XY)
	if _, err := ls.SetCoords(coords); err != nil {
		logrus.WithError(err).Warn("routeGeometry: building linestring failed")
		return nil
	}
	out, err := wkb.Marshal(ls, binary.LittleEndian)
	if err != nil {
		logrus.WithError(err).Warn("routeGeometry: wkb encoding failed")
		return nil
	}
	return out
}

// RouteStopSummary is one itinerary entry with client info for display.
type RouteStopSummary struct {
	Sequence         int      `json:"sequence"`
	ArrivalTime      string   `json:"arrival_time"`
	DepartureTime    string   `json:"departure_time"`
	ClientName       string   `json:"client_name"`
	ClientAddress    string   `json:"client_address"`
	ClientPhone      string   `json:"client_phone"`
	OrderID          uint     `json:"order_id"`
	ScheduleID       uint     `json:"schedule_id"`
	Status           string   `json:"status"`
	Priority         string   `json:"priority"`
	TravelDistanceKm *float64 `json:"travel_distance_km,omitempty"`
	TravelTime       *string  `json:"travel_time,omitempty"`
}

// RouteSummary is the display view of one installer's daily route.
type RouteSummary struct {
	RouteID         uint               `json:"route_id"`
	Installer       string             `json:"installer"`
	Date            string             `json:"date"`
	TotalDistanceKm float64            `json:"total_distance_km"`
	TotalTravelTime string             `json:"total_travel_time"`
	IsOptimized     bool               `json:"is_optimized"`
	StartLocation   string             `json:"start_location"`
	Geometry        string             `json:"geometry,omitempty"` // GeoJSON LineString
	Stops           []RouteStopSummary `json:"stops"`
}

// GetRouteSummary assembles the route view for one installer and day.
func (s *RouteOptimizerService) GetRouteSummary(installerID uint, date time.Time) (*RouteSummary, error) {
	day := DateOnly(date)

	var plan models.RoutePlan
	err := s.db.
		Where("installer_id = ? AND date = ?", installerID, day).
		Preload("Installer").
		Preload("Stops", func(db *gorm.DB) *gorm.DB {
			return db.Order("route_stops.sequence asc")
		}).
		Preload("Stops.ScheduleSlot").
		Preload("Stops.ScheduleSlot.Order").
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: route for installer %d on %s", ErrNotFound, installerID, day.Format("2006-01-02"))
		}
		return nil, err
	}

	summary := &RouteSummary{
		RouteID:         plan.ID,
		Installer:       plan.Installer.Name,
		Date:            plan.Date.Format("2006-01-02"),
		TotalDistanceKm: plan.TotalDistanceKm,
		TotalTravelTime: plan.TotalTravelTime.String(),
		IsOptimized:     plan.IsOptimized,
		StartLocation:   plan.StartLocation,
		Geometry:        geometryToGeoJSON(plan.Geometry),
		Stops:           make([]RouteStopSummary, 0, len(plan.Stops)),
	}

	for _, stop := range plan.Stops {
		entry := RouteStopSummary{
			Sequence:         stop.Sequence,
			ArrivalTime:      stop.ArrivalTime.Format("15:04"),
			DepartureTime:    stop.DepartureTime.Format("15:04"),
			ClientName:       stop.ScheduleSlot.Order.ClientName,
			ClientAddress:    stop.ScheduleSlot.Order.ClientAddress,
			ClientPhone:      stop.ScheduleSlot.Order.ClientPhone,
			OrderID:          stop.ScheduleSlot.OrderID,
			ScheduleID:       stop.ScheduleSlotID,
			Status:           stop.ScheduleSlot.Status,
			Priority:         stop.ScheduleSlot.Priority,
			TravelDistanceKm: stop.ScheduleSlot.TravelDistanceKm,
		}
		if stop.ScheduleSlot.TravelTimeTo != nil {
			tt := stop.ScheduleSlot.TravelTimeTo.String()
			entry.TravelTime = &tt
		}
		summary.Stops = append(summary.Stops, entry)
	}

	return summary, nil
}

// geometryToGeoJSON converts a stored WKB geometry to its GeoJSON string.
func geometryToGeoJSON(wkbBytes []byte) string {
	if len(wkbBytes) == 0 {
		return ""
	}
	g, err := wkb.Unmarshal(wkbBytes)
	if err != nil {
		logrus.WithError(err).Warn("geometryToGeoJSON: wkb decoding failed")
		return ""
	}
	b, err := gjson.Marshal(g)
	if err != nil {
		logrus.WithError(err).Warn("geometryToGeoJSON: geojson encoding failed")
		return ""
	}
	return string(b)
}

// RouteRunResult reports one installer/day outcome of a batch optimization.
type RouteRunResult struct {
	InstallerID   uint    `json:"installer_id"`
	InstallerName string  `json:"installer_name"`
	Date          string  `json:"date"`
	Stops         int     `json:"stops"`
	DistanceKm    float64 `json:"distance_km"`
	Error         string  `json:"error,omitempty"`
}

// OptimizeAll rebuilds routes for every installer with scheduled work on
// each of the daysAhead days starting at startDate. Failures are isolated
// per installer/day.
func (s *RouteOptimizerService) OptimizeAll(ctx context.Context, startDate time.Time, daysAhead int) ([]RouteRunResult, error) {
	if daysAhead < 1 {
		daysAhead = 1
	}
	start := DateOnly(startDate)
	results := []RouteRunResult{}

	for offset := 0; offset < daysAhead; offset++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		day := start.AddDate(0, 0, offset)

		var installers []models.User
		err := s.db.Model(&models.User{}).
			Joins("JOIN schedule_assignments sa ON sa.user_id = users.id").
			Joins("JOIN schedule_slots ss ON ss.id = sa.schedule_slot_id").
			Where("ss.scheduled_date = ? AND ss.status = ? AND ss.deleted_at IS NULL", day, models.ScheduleStatusScheduled).
			Distinct().
			Find(&installers).Error
		if err != nil {
			return results, err
		}

		for _, installer := range installers {
			result := RouteRunResult{
				InstallerID:   installer.ID,
				InstallerName: installer.Name,
				Date:          day.Format("2006-01-02"),
			}
			plan, err := s.OptimizeDailyRoute(ctx, installer.ID, day)
			switch {
			case err != nil:
				result.Error = err.Error()
				logrus.WithError(err).WithFields(logrus.Fields{
					"installer_id": installer.ID,
					"date":         result.Date,
				}).Error("OptimizeAll: route optimization failed")
			case plan != nil:
				result.Stops = len(plan.Stops)
				result.DistanceKm = plan.TotalDistanceKm
			}
			results = append(results, result)
		}
	}

	return results, nil
}
