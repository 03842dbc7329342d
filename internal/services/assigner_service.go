package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"install_planner/internal/config"
	"install_planner/internal/models"
)

// AssignerService batch-assigns time slots to orders that have none yet.
type AssignerService struct {
	db       *gorm.DB
	calendar *CalendarService
	settings config.PlannerSettings
	now      func() time.Time
}

// NewAssignerService creates an AssignerService instance.
func NewAssignerService(db *gorm.DB, calendar *CalendarService, settings config.PlannerSettings) *AssignerService {
	return &AssignerService{db: db, calendar: calendar, settings: settings, now: time.Now}
}

// PlannedAssignment describes one slot the assigner picked for an order.
type PlannedAssignment struct {
	OrderID       uint      `json:"order_id"`
	ClientName    string    `json:"client_name"`
	InstallerID   uint      `json:"installer_id"`
	InstallerName string    `json:"installer_name"`
	Date          time.Time `json:"date"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Priority      string    `json:"priority"`
	ScheduleID    uint      `json:"schedule_id,omitempty"` // zero on dry runs
}

// AssignmentFailure records why one order could not be scheduled. A failure
// never aborts the rest of the batch.
type AssignmentFailure struct {
	OrderID uint   `json:"order_id"`
	Reason  string `json:"reason"`
}

// AssignmentReport summarizes one batch run.
type AssignmentReport struct {
	Planned  []PlannedAssignment `json:"planned"`
	Failures []AssignmentFailure `json:"failures"`
	Created  int                 `json:"created"`
	DryRun   bool                `json:"dry_run"`
}

// AssignPending finds a slot for every order without one, oldest first.
// startDate defaults to tomorrow when zero. With dryRun set, the report
// shows the plan without creating anything. Cancelling ctx stops the search
// between candidate checks; no partially written slot is left behind.
func (s *AssignerService) AssignPending(ctx context.Context, startDate time.Time, dryRun bool) (*AssignmentReport, error) {
	if startDate.IsZero() {
		startDate = DateOnly(s.now()).AddDate(0, 0, 1)
	} else {
		startDate = DateOnly(startDate)
	}

	var orders []models.Order
	err := s.db.
		Where("status IN ?", []string{"new", "in_progress"}).
		Where("NOT EXISTS (SELECT 1 FROM schedule_slots ss WHERE ss.order_id = orders.id AND ss.deleted_at IS NULL)").
		Order("created_at asc").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}

	report := &AssignmentReport{DryRun: dryRun, Planned: []PlannedAssignment{}, Failures: []AssignmentFailure{}}
	if len(orders) == 0 {
		return report, nil
	}

	var installers []models.User
	err = s.db.
		Where("role = ? AND is_active = ?", "installer", true).
		Order("id asc").
		Find(&installers).Error
	if err != nil {
		return nil, err
	}
	if len(installers) == 0 {
		for _, order := range orders {
			report.Failures = append(report.Failures, AssignmentFailure{OrderID: order.ID, Reason: "no active installers"})
		}
		return report, nil
	}

	for i := range orders {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		s.assignOrder(ctx, &orders[i], installers, startDate, dryRun, report)
	}

	logrus.WithFields(logrus.Fields{
		"orders":  len(orders),
		"created": report.Created,
		"failed":  len(report.Failures),
		"dry_run": dryRun,
	}).Info("AssignPending: batch run finished")

	return report, nil
}

// assignOrder walks the search horizon for one order; first fitting
// (day, installer, slot) wins.
func (s *AssignerService) assignOrder(ctx context.Context, order *models.Order, installers []models.User, startDate time.Time, dryRun bool, report *AssignmentReport) {
	priority := s.orderPriority(order)
	duration := installationDuration(order.ServiceCount)

	for dayOffset := 0; dayOffset < s.settings.HorizonDays; dayOffset++ {
		if err := ctx.Err(); err != nil {
			report.Failures = append(report.Failures, AssignmentFailure{OrderID: order.ID, Reason: "search cancelled"})
			return
		}

		day := startDate.AddDate(0, 0, dayOffset)
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}

		for _, installer := range installers {
			count, err := s.countDailySlots(installer.ID, day)
			if err != nil {
				report.Failures = append(report.Failures, AssignmentFailure{OrderID: order.ID, Reason: err.Error()})
				return
			}
			if count >= int64(s.settings.MaxPerDay) {
				continue
			}

			start, found, err := s.findFreeSlot(installer.ID, day, duration)
			if err != nil {
				report.Failures = append(report.Failures, AssignmentFailure{OrderID: order.ID, Reason: err.Error()})
				return
			}
			if !found {
				continue
			}
			end := start.Add(duration)

			planned := PlannedAssignment{
				OrderID:       order.ID,
				ClientName:    order.ClientName,
				InstallerID:   installer.ID,
				InstallerName: installer.Name,
				Date:          day,
				Start:         start,
				End:           end,
				Priority:      priority,
			}

			if dryRun {
				report.Planned = append(report.Planned, planned)
				return
			}

			slot, err := s.calendar.CreateSchedule(ctx, CreateScheduleInput{
				OrderID:           order.ID,
				Date:              day,
				Start:             start,
				End:               end,
				InstallerIDs:      []uint{installer.ID},
				Priority:          priority,
				EstimatedDuration: duration,
				Notes:             fmt.Sprintf("auto-scheduled (%d services)", order.ServiceCount),
			})
			if err != nil {
				if errors.Is(err, ErrConflict) {
					// Someone grabbed the slot between the scan and the
					// create; keep trying the next candidate.
					logrus.WithFields(logrus.Fields{
						"order_id":     order.ID,
						"installer_id": installer.ID,
						"date":         day.Format("2006-01-02"),
					}).Warn("assignOrder: slot taken concurrently, retrying next candidate")
					continue
				}
				report.Failures = append(report.Failures, AssignmentFailure{OrderID: order.ID, Reason: err.Error()})
				return
			}

			planned.ScheduleID = slot.ID
			report.Planned = append(report.Planned, planned)
			report.Created++
			return
		}
	}

	report.Failures = append(report.Failures, AssignmentFailure{
		OrderID: order.ID,
		Reason:  fmt.Sprintf("%v: searched %d days", ErrNoCapacity, s.settings.HorizonDays),
	})
}

// orderPriority buckets an order by age: stale orders get scheduled first.
func (s *AssignerService) orderPriority(order *models.Order) string {
	age := s.now().Sub(order.CreatedAt)
	switch {
	case age > 7*24*time.Hour:
		return models.PriorityHigh
	case age > 3*24*time.Hour:
		return models.PriorityNormal
	default:
		return models.PriorityLow
	}
}

// installationDuration maps the number of service items to an on-site
// duration.
func installationDuration(serviceCount int) time.Duration {
	switch {
	case serviceCount <= 1:
		return time.Hour
	case serviceCount <= 3:
		return 2 * time.Hour
	default:
		return 3 * time.Hour
	}
}

func (s *AssignerService) countDailySlots(installerID uint, day time.Time) (int64, error) {
	var count int64
	err := s.db.Model(&models.ScheduleSlot{}).
		Joins("JOIN schedule_assignments sa ON sa.schedule_slot_id = schedule_slots.id").
		Where("sa.user_id = ?", installerID).
		Where("schedule_slots.scheduled_date = ?", day).
		Where("schedule_slots.status IN ?", busyStatuses).
		Count(&count).Error
	return count, err
}

// findFreeSlot scans an installer's day for the first gap of at least
// duration, starting at business opening. The cursor advances past each
// existing slot until a gap fits or the business day ends.
func (s *AssignerService) findFreeSlot(installerID uint, day time.Time, duration time.Duration) (time.Time, bool, error) {
	var existing []models.ScheduleSlot
	err := s.db.
		Joins("JOIN schedule_assignments sa ON sa.schedule_slot_id = schedule_slots.id").
		Where("sa.user_id = ?", installerID).
		Where("schedule_slots.scheduled_date = ?", day).
		Where("schedule_slots.status IN ?", busyStatuses).
		Order("schedule_slots.start_time asc").
		Find(&existing).Error
	if err != nil {
		return time.Time{}, false, err
	}

	cursor := day.Add(s.settings.WorkStart)
	dayEnd := day.Add(s.settings.WorkEnd)

	for i := range existing {
		if !cursor.Add(duration).After(existing[i].StartTime) {
			return cursor, true, nil
		}
		cursor = existing[i].EndTime
	}

	if !cursor.Add(duration).After(dayEnd) {
		return cursor, true, nil
	}
	return time.Time{}, false, nil
}
