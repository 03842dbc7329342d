// internal/models/schedule_slot.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// Schedule statuses
const (
	ScheduleStatusScheduled   = "scheduled"
	ScheduleStatusInProgress  = "in_progress"
	ScheduleStatusCompleted   = "completed"
	ScheduleStatusCancelled   = "cancelled"
	ScheduleStatusRescheduled = "rescheduled"
)

// Schedule priorities, ordered by PriorityRank
const (
	PriorityUrgent = "urgent"
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// PriorityRank maps a priority to its sort rank. Lower rank wins when the
// route optimizer picks its starting stop. Unknown values rank as normal.
func PriorityRank(priority string) int {
	switch priority {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	}
	return 2
}

// ScheduleSlot is one planned installation visit: an order, a date, a time
// window and the installers assigned to it.
type ScheduleSlot struct {
	gorm.Model

	OrderID uint  `json:"order_id" gorm:"uniqueIndex"`
	Order   Order `gorm:"foreignKey:OrderID" json:"order,omitempty"`

	ScheduledDate time.Time `json:"scheduled_date" gorm:"index"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`

	Installers []User `gorm:"many2many:schedule_assignments;" json:"installers,omitempty"`

	Status   string `json:"status" gorm:"default:'scheduled'"`
	Priority string `json:"priority" gorm:"default:'normal'"`

	EstimatedDuration time.Duration `json:"estimated_duration"`

	ActualStartTime *time.Time `json:"actual_start_time,omitempty"`
	ActualEndTime   *time.Time `json:"actual_end_time,omitempty"`

	Notes string `json:"notes"`

	// Routing fields, populated lazily by the route optimizer
	Latitude         *float64       `json:"latitude,omitempty"`
	Longitude        *float64       `json:"longitude,omitempty"`
	TravelDistanceKm *float64       `json:"travel_distance_km,omitempty"`
	TravelTimeTo     *time.Duration `json:"travel_time_to,omitempty"`
}

// HasCoordinates reports whether the slot was geocoded successfully.
func (s *ScheduleSlot) HasCoordinates() bool {
	return s.Latitude != nil && s.Longitude != nil
}

// Duration is the actual on-site duration, when both timestamps are known.
func (s *ScheduleSlot) Duration() *time.Duration {
	if s.ActualStartTime == nil || s.ActualEndTime == nil {
		return nil
	}
	d := s.ActualEndTime.Sub(*s.ActualStartTime)
	return &d
}

// IsOverdue reports whether the scheduled window has passed without the work
// being completed or cancelled.
func (s *ScheduleSlot) IsOverdue(now time.Time) bool {
	if s.Status == ScheduleStatusCompleted || s.Status == ScheduleStatusCancelled {
		return false
	}
	return now.After(s.EndTime)
}

// ScheduleAssignment is the explicit join entity between a slot and an
// installer. Kept as its own model so per-assignment metadata can be added
// without a schema rework.
type ScheduleAssignment struct {
	ScheduleSlotID uint      `json:"schedule_slot_id" gorm:"primaryKey"`
	UserID         uint      `json:"user_id" gorm:"primaryKey"`
	AssignedAt     time.Time `json:"assigned_at" gorm:"autoCreateTime"`
}
