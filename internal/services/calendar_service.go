package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"install_planner/internal/config"
	"install_planner/internal/geo"
	"install_planner/internal/models"
)

// Statuses that occupy an installer's time when checking availability.
var busyStatuses = []string{models.ScheduleStatusScheduled, models.ScheduleStatusInProgress}

// DateOnly truncates a timestamp to midnight UTC so slots and plans compare
// by calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CalendarService owns schedule slots: availability checks, creation with
// conflict re-validation, queries and status transitions.
type CalendarService struct {
	db       *gorm.DB
	geocoder geo.Geocoder
	settings config.PlannerSettings
}

// NewCalendarService creates a CalendarService instance.
func NewCalendarService(db *gorm.DB, geocoder geo.Geocoder, settings config.PlannerSettings) *CalendarService {
	return &CalendarService{db: db, geocoder: geocoder, settings: settings}
}

// CheckInstallerAvailability returns the names of installers whose existing
// scheduled or in-progress work overlaps the requested window. Touching
// boundaries (end == start) do not count as an overlap. An empty result
// means everyone is free; a non-empty result is advisory, not an error.
func (s *CalendarService) CheckInstallerAvailability(installerIDs []uint, date, start, end time.Time) ([]string, error) {
	day := DateOnly(date)
	conflicts := []string{}

	for _, id := range installerIDs {
		var installer models.User
		if err := s.db.First(&installer, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: installer %d", ErrNotFound, id)
			}
			return nil, err
		}

		var count int64
		err := s.db.Model(&models.ScheduleSlot{}).
			Joins("JOIN schedule_assignments sa ON sa.schedule_slot_id = schedule_slots.id").
			Where("sa.user_id = ?", id).
			Where("schedule_slots.scheduled_date = ?", day).
			Where("schedule_slots.status IN ?", busyStatuses).
			Where("schedule_slots.start_time < ? AND schedule_slots.end_time > ?", end, start).
			Count(&count).Error
		if err != nil {
			return nil, err
		}
		if count > 0 {
			conflicts = append(conflicts, installer.Name)
		}
	}

	return conflicts, nil
}

// CreateScheduleInput carries everything needed to schedule an order.
type CreateScheduleInput struct {
	OrderID           uint
	Date              time.Time
	Start             time.Time
	End               time.Time
	InstallerIDs      []uint
	Priority          string
	Notes             string
	EstimatedDuration time.Duration
}

// CreateSchedule creates a schedule slot for an order after re-validating
// installer availability. Geocoding is attempted at creation time; a failed
// lookup leaves the slot coordinate-less rather than failing the call.
// Slot and installer assignments are committed together or not at all.
func (s *CalendarService) CreateSchedule(ctx context.Context, input CreateScheduleInput) (*models.ScheduleSlot, error) {
	if !input.Start.Before(input.End) {
		return nil, fmt.Errorf("%w: start time must be before end time", ErrValidation)
	}

	var order models.Order
	if err := s.db.First(&order, input.OrderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: order %d", ErrNotFound, input.OrderID)
		}
		return nil, err
	}

	var installers []models.User
	if len(input.InstallerIDs) > 0 {
		if err := s.db.Where("id IN ? AND role = ?", input.InstallerIDs, "installer").Find(&installers).Error; err != nil {
			return nil, err
		}
		if len(installers) != len(input.InstallerIDs) {
			return nil, fmt.Errorf("%w: one or more installers", ErrNotFound)
		}
	}

	conflicts, err := s.CheckInstallerAvailability(input.InstallerIDs, input.Date, input.Start, input.End)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		return nil, fmt.Errorf("%w: installers busy: %s", ErrConflict, strings.Join(conflicts, ", "))
	}

	priority := input.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	duration := input.EstimatedDuration
	if duration == 0 {
		duration = input.End.Sub(input.Start)
	}

	slot := models.ScheduleSlot{
		OrderID:           order.ID,
		ScheduledDate:     DateOnly(input.Date),
		StartTime:         input.Start,
		EndTime:           input.End,
		Status:            models.ScheduleStatusScheduled,
		Priority:          priority,
		EstimatedDuration: duration,
		Notes:             input.Notes,
		Installers:        installers,
	}

	if lat, lon, ok := s.geocoder.Resolve(ctx, order.ClientAddress); ok {
		slot.Latitude = &lat
		slot.Longitude = &lon
	} else {
		logrus.WithFields(logrus.Fields{
			"order_id": order.ID,
			"address":  order.ClientAddress,
		}).Warn("CreateSchedule: geocoding failed, slot stays coordinate-less")
	}

	if err := s.db.Create(&slot).Error; err != nil {
		return nil, err
	}

	Events.Publish(map[string]interface{}{
		"type":        "schedule_created",
		"schedule_id": slot.ID,
		"order_id":    order.ID,
		"date":        slot.ScheduledDate.Format("2006-01-02"),
		"status":      slot.Status,
	})

	return &slot, nil
}

// GetSchedule loads one slot with its order and installers.
func (s *CalendarService) GetSchedule(id uint) (*models.ScheduleSlot, error) {
	var slot models.ScheduleSlot
	err := s.db.Preload("Order").Preload("Installers").First(&slot, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: schedule %d", ErrNotFound, id)
		}
		return nil, err
	}
	return &slot, nil
}

// UpdateScheduleInput holds the mutable slot fields; nil means unchanged.
type UpdateScheduleInput struct {
	Date     *time.Time
	Start    *time.Time
	End      *time.Time
	Status   *string
	Priority *string
	Notes    *string
}

// UpdateSchedule applies a partial update, re-validating the time window.
func (s *CalendarService) UpdateSchedule(id uint, input UpdateScheduleInput) (*models.ScheduleSlot, error) {
	slot, err := s.GetSchedule(id)
	if err != nil {
		return nil, err
	}

	if input.Date != nil {
		slot.ScheduledDate = DateOnly(*input.Date)
	}
	if input.Start != nil {
		slot.StartTime = *input.Start
	}
	if input.End != nil {
		slot.EndTime = *input.End
	}
	if input.Status != nil {
		slot.Status = *input.Status
	}
	if input.Priority != nil {
		slot.Priority = *input.Priority
	}
	if input.Notes != nil {
		slot.Notes = *input.Notes
	}

	if !slot.StartTime.Before(slot.EndTime) {
		return nil, fmt.Errorf("%w: start time must be before end time", ErrValidation)
	}

	if err := s.db.Save(slot).Error; err != nil {
		return nil, err
	}

	Events.Publish(map[string]interface{}{
		"type":        "schedule_updated",
		"schedule_id": slot.ID,
		"status":      slot.Status,
	})

	return slot, nil
}

// DeleteSchedule removes a slot and its assignments.
func (s *CalendarService) DeleteSchedule(id uint) error {
	slot, err := s.GetSchedule(id)
	if err != nil {
		return err
	}
	if err := s.db.Select("Installers").Delete(slot).Error; err != nil {
		return err
	}

	Events.Publish(map[string]interface{}{
		"type":        "schedule_deleted",
		"schedule_id": slot.ID,
		"order_id":    slot.OrderID,
	})

	return nil
}

// StartWork marks a scheduled installation as started by one of its
// installers and bumps a fresh order into progress.
func (s *CalendarService) StartWork(id, installerID uint) (*models.ScheduleSlot, error) {
	slot, err := s.GetSchedule(id)
	if err != nil {
		return nil, err
	}
	if !s.isAssigned(slot, installerID) {
		return nil, fmt.Errorf("%w: installer %d is not assigned to schedule %d", ErrValidation, installerID, id)
	}
	if slot.Status != models.ScheduleStatusScheduled {
		return nil, fmt.Errorf("%w: work already started or finished", ErrValidation)
	}

	now := time.Now()
	slot.Status = models.ScheduleStatusInProgress
	slot.ActualStartTime = &now

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(slot).Error; err != nil {
			return err
		}
		if slot.Order.Status == "new" {
			return tx.Model(&models.Order{}).Where("id = ?", slot.OrderID).
				Update("status", "in_progress").Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	Events.Publish(map[string]interface{}{
		"type":        "work_started",
		"schedule_id": slot.ID,
		"order_id":    slot.OrderID,
	})

	return slot, nil
}

// CompleteWork marks an in-progress installation as finished and completes
// the owning order.
func (s *CalendarService) CompleteWork(id, installerID uint) (*models.ScheduleSlot, error) {
	slot, err := s.GetSchedule(id)
	if err != nil {
		return nil, err
	}
	if !s.isAssigned(slot, installerID) {
		return nil, fmt.Errorf("%w: installer %d is not assigned to schedule %d", ErrValidation, installerID, id)
	}
	if slot.Status != models.ScheduleStatusInProgress {
		return nil, fmt.Errorf("%w: work was not started", ErrValidation)
	}

	now := time.Now()
	slot.Status = models.ScheduleStatusCompleted
	slot.ActualEndTime = &now

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(slot).Error; err != nil {
			return err
		}
		return tx.Model(&models.Order{}).Where("id = ?", slot.OrderID).
			Updates(map[string]interface{}{"status": "completed", "completed_at": now}).Error
	})
	if err != nil {
		return nil, err
	}

	Events.Publish(map[string]interface{}{
		"type":        "work_completed",
		"schedule_id": slot.ID,
		"order_id":    slot.OrderID,
	})

	return slot, nil
}

// CancelSchedule cancels a slot that has not been completed yet.
func (s *CalendarService) CancelSchedule(id uint) (*models.ScheduleSlot, error) {
	slot, err := s.GetSchedule(id)
	if err != nil {
		return nil, err
	}
	if slot.Status == models.ScheduleStatusCompleted {
		return nil, fmt.Errorf("%w: completed work cannot be cancelled", ErrValidation)
	}

	slot.Status = models.ScheduleStatusCancelled
	if err := s.db.Save(slot).Error; err != nil {
		return nil, err
	}

	Events.Publish(map[string]interface{}{
		"type":        "schedule_cancelled",
		"schedule_id": slot.ID,
	})

	return slot, nil
}

// GetInstallerSchedule lists an installer's slots in a date range, ordered
// chronologically, with order and client details preloaded.
func (s *CalendarService) GetInstallerSchedule(installerID uint, from, to time.Time) ([]models.ScheduleSlot, error) {
	var installer models.User
	if err := s.db.First(&installer, installerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: installer %d", ErrNotFound, installerID)
		}
		return nil, err
	}

	var slots []models.ScheduleSlot
	err := s.db.
		Joins("JOIN schedule_assignments sa ON sa.schedule_slot_id = schedule_slots.id").
		Where("sa.user_id = ?", installerID).
		Where("schedule_slots.scheduled_date BETWEEN ? AND ?", DateOnly(from), DateOnly(to)).
		Preload("Order").
		Order("schedule_slots.scheduled_date asc, schedule_slots.start_time asc").
		Find(&slots).Error
	if err != nil {
		return nil, err
	}
	return slots, nil
}

// CalendarFilter narrows the calendar range query.
type CalendarFilter struct {
	InstallerID uint // 0 = all installers
	ManagerID   uint // 0 = all managers
}

// CalendarRange lists all slots in a date range, optionally scoped to one
// installer or one manager's orders.
func (s *CalendarService) CalendarRange(from, to time.Time, filter CalendarFilter) ([]models.ScheduleSlot, error) {
	query := s.db.
		Where("schedule_slots.scheduled_date BETWEEN ? AND ?", DateOnly(from), DateOnly(to)).
		Preload("Order").
		Preload("Order.Manager").
		Preload("Installers").
		Order("schedule_slots.scheduled_date asc, schedule_slots.start_time asc")

	if filter.InstallerID != 0 {
		query = query.
			Joins("JOIN schedule_assignments sa ON sa.schedule_slot_id = schedule_slots.id").
			Where("sa.user_id = ?", filter.InstallerID)
	}
	if filter.ManagerID != 0 {
		query = query.
			Joins("JOIN orders ON orders.id = schedule_slots.order_id").
			Where("orders.manager_id = ?", filter.ManagerID)
	}

	var slots []models.ScheduleSlot
	if err := query.Find(&slots).Error; err != nil {
		return nil, err
	}
	return slots, nil
}

func (s *CalendarService) isAssigned(slot *models.ScheduleSlot, installerID uint) bool {
	for _, u := range slot.Installers {
		if u.ID == installerID {
			return true
		}
	}
	return false
}
