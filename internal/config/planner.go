package config

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"
)

// Planner is the globally accessible planner configuration, loaded once at
// startup by InitPlanner.
var Planner PlannerSettings

// InitPlanner loads the planner settings or aborts on malformed values.
func InitPlanner() {
	s, err := LoadPlannerSettings()
	if err != nil {
		log.Fatalf("invalid planner settings: %v", err)
	}
	Planner = s
}

// PlannerSettings holds every tunable the assigner and route optimizer use.
// Loaded once from the environment and passed into service constructors
// explicitly, never read ambiently.
type PlannerSettings struct {
	WorkStart       time.Duration // offset from midnight, e.g. 8h for 08:00
	WorkEnd         time.Duration
	DefaultDuration time.Duration // fallback per-job duration
	MaxPerDay       int           // installations per installer per day

	AvgSpeedKmh      float64
	CongestionFactor float64

	HorizonDays int // how far ahead the assigner searches

	GeocoderAPIKey string
	StartLocation  string // label for the route's origin (warehouse)

	TwoOptPasses int // 0 disables the 2-opt improvement pass
}

// LoadPlannerSettings reads planner tunables from the environment with the
// documented defaults.
func LoadPlannerSettings() (PlannerSettings, error) {
	s := PlannerSettings{
		DefaultDuration:  2 * time.Hour,
		MaxPerDay:        5,
		AvgSpeedKmh:      30,
		CongestionFactor: 1.2,
		HorizonDays:      14,
		GeocoderAPIKey:   getEnv("YANDEX_MAPS_API_KEY", ""),
		StartLocation:    getEnv("ROUTE_START_LOCATION", "warehouse"),
	}

	var err error
	if s.WorkStart, err = ParseClock(getEnv("WORK_START_TIME", "08:00")); err != nil {
		return s, fmt.Errorf("WORK_START_TIME: %w", err)
	}
	if s.WorkEnd, err = ParseClock(getEnv("WORK_END_TIME", "18:00")); err != nil {
		return s, fmt.Errorf("WORK_END_TIME: %w", err)
	}
	if v := getEnv("DEFAULT_INSTALLATION_HOURS", ""); v != "" {
		hours, convErr := strconv.Atoi(v)
		if convErr != nil {
			return s, fmt.Errorf("DEFAULT_INSTALLATION_HOURS: %w", convErr)
		}
		s.DefaultDuration = time.Duration(hours) * time.Hour
	}
	if v := getEnv("MAX_INSTALLATIONS_PER_DAY", ""); v != "" {
		if s.MaxPerDay, err = strconv.Atoi(v); err != nil {
			return s, fmt.Errorf("MAX_INSTALLATIONS_PER_DAY: %w", err)
		}
	}
	if v := getEnv("AVG_TRAVEL_SPEED_KMH", ""); v != "" {
		if s.AvgSpeedKmh, err = strconv.ParseFloat(v, 64); err != nil {
			return s, fmt.Errorf("AVG_TRAVEL_SPEED_KMH: %w", err)
		}
	}
	if v := getEnv("CONGESTION_FACTOR", ""); v != "" {
		if s.CongestionFactor, err = strconv.ParseFloat(v, 64); err != nil {
			return s, fmt.Errorf("CONGESTION_FACTOR: %w", err)
		}
	}
	if v := getEnv("SCHEDULE_HORIZON_DAYS", ""); v != "" {
		if s.HorizonDays, err = strconv.Atoi(v); err != nil {
			return s, fmt.Errorf("SCHEDULE_HORIZON_DAYS: %w", err)
		}
	}
	if v := getEnv("ROUTE_TWO_OPT_PASSES", ""); v != "" {
		if s.TwoOptPasses, err = strconv.Atoi(v); err != nil {
			return s, fmt.Errorf("ROUTE_TWO_OPT_PASSES: %w", err)
		}
	}

	return s, nil
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(v string) (time.Duration, error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q, expected HH:MM", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q: %w", v, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q: %w", v, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock value %q out of range", v)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}
