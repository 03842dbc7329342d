package models

import (
	"time"

	"gorm.io/gorm"
)

// RoutePlan is one installer's ordered itinerary for one day.
// Unique per (installer, date); rebuilt from scratch on every optimization run.
type RoutePlan struct {
	gorm.Model

	InstallerID uint      `json:"installer_id" gorm:"uniqueIndex:idx_route_installer_date"`
	Installer   User      `gorm:"foreignKey:InstallerID" json:"installer,omitempty"`
	Date        time.Time `json:"date" gorm:"uniqueIndex:idx_route_installer_date"`

	TotalDistanceKm float64       `json:"total_distance_km"`
	TotalTravelTime time.Duration `json:"total_travel_time"`

	StartLocation string `json:"start_location"`
	IsOptimized   bool   `json:"is_optimized" gorm:"default:false"`

	// Travel path stored as a WKB LINESTRING built from the ordered stop
	// coordinates; exposed as GeoJSON in API responses.
	Geometry []byte `gorm:"type:bytea" json:"-"`

	Stops []RouteStop `gorm:"foreignKey:RoutePlanID;constraint:OnDelete:CASCADE;" json:"stops,omitempty"`
}

// RouteStop places one schedule slot within a route plan.
// Sequence numbers form a contiguous 1..N ordering within the plan.
type RouteStop struct {
	gorm.Model

	RoutePlanID    uint         `json:"route_plan_id" gorm:"index"`
	ScheduleSlotID uint         `json:"schedule_slot_id"`
	ScheduleSlot   ScheduleSlot `gorm:"foreignKey:ScheduleSlotID" json:"schedule_slot,omitempty"`

	Sequence      int       `json:"sequence"`
	ArrivalTime   time.Time `json:"arrival_time"`
	DepartureTime time.Time `json:"departure_time"`
}
