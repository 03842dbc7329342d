package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"install_planner/internal/middleware"
	"install_planner/internal/models"
	"install_planner/internal/services"
)

// scheduleEntry is the calendar display shape for one slot.
type scheduleEntry struct {
	ID                uint                `json:"id"`
	OrderID           uint                `json:"order_id"`
	ClientName        string              `json:"client_name"`
	ClientAddress     string              `json:"client_address"`
	ClientPhone       string              `json:"client_phone"`
	Manager           string              `json:"manager,omitempty"`
	StartTime         string              `json:"start_time"`
	EndTime           string              `json:"end_time"`
	Status            string              `json:"status"`
	Priority          string              `json:"priority"`
	Installers        []installerRef      `json:"installers"`
	Notes             string              `json:"notes"`
	IsOverdue         bool                `json:"is_overdue"`
	EstimatedDuration string              `json:"estimated_duration,omitempty"`
}

type installerRef struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

func toScheduleEntry(slot models.ScheduleSlot) scheduleEntry {
	entry := scheduleEntry{
		ID:            slot.ID,
		OrderID:       slot.OrderID,
		ClientName:    slot.Order.ClientName,
		ClientAddress: slot.Order.ClientAddress,
		ClientPhone:   slot.Order.ClientPhone,
		Manager:       slot.Order.Manager.Name,
		StartTime:     slot.StartTime.Format("15:04"),
		EndTime:       slot.EndTime.Format("15:04"),
		Status:        slot.Status,
		Priority:      slot.Priority,
		Notes:         slot.Notes,
		IsOverdue:     slot.IsOverdue(time.Now()),
		Installers:    []installerRef{},
	}
	if slot.EstimatedDuration > 0 {
		entry.EstimatedDuration = slot.EstimatedDuration.String()
	}
	for _, u := range slot.Installers {
		entry.Installers = append(entry.Installers, installerRef{ID: u.ID, Name: u.Name})
	}
	return entry
}

// GetCalendar returns all schedules in a date range, grouped by day.
// Installers only see their own work, managers only their own orders.
func GetCalendar(c *gin.Context) {
	startStr := c.Query("start_date")
	endStr := c.Query("end_date")
	if startStr == "" || endStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_date and end_date parameters are required"})
		return
	}
	start, err := parseDate(startStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date format, expected YYYY-MM-DD"})
		return
	}
	end, err := parseDate(endStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date format, expected YYYY-MM-DD"})
		return
	}

	filter := services.CalendarFilter{}
	if v := c.Query("installer_id"); v != "" {
		id, convErr := strconv.ParseUint(v, 10, 64)
		if convErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid installer_id"})
			return
		}
		filter.InstallerID = uint(id)
	}

	switch middleware.Role(c) {
	case "installer":
		filter.InstallerID = middleware.UserID(c)
	case "manager":
		filter.ManagerID = middleware.UserID(c)
	}

	slots, err := calendarService().CalendarRange(start, end, filter)
	if err != nil {
		logrus.WithError(err).Error("GetCalendar: range query failed")
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	calendar := map[string][]scheduleEntry{}
	for _, slot := range slots {
		key := slot.ScheduledDate.Format("2006-01-02")
		calendar[key] = append(calendar[key], toScheduleEntry(slot))
	}

	c.JSON(http.StatusOK, gin.H{
		"calendar":        calendar,
		"total_schedules": len(slots),
	})
}

type createScheduleInputJSON struct {
	OrderID           uint   `json:"order_id" binding:"required"`
	ScheduledDate     string `json:"scheduled_date" binding:"required"`
	StartTime         string `json:"start_time" binding:"required"`
	EndTime           string `json:"end_time" binding:"required"`
	InstallerIDs      []uint `json:"installer_ids"`
	Priority          string `json:"priority"`
	Notes             string `json:"notes"`
	EstimatedDuration string `json:"estimated_duration"` // "HH:MM"
}

// CreateSchedule creates a schedule slot for an order.
func CreateSchedule(c *gin.Context) {
	var input createScheduleInputJSON
	if err := c.ShouldBindJSON(&input); err != nil {
		logrus.WithError(err).Warn("CreateSchedule: invalid input payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}

	day, err := parseDate(input.ScheduledDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scheduled_date, expected YYYY-MM-DD"})
		return
	}
	start, err := parseTimeOnDay(day, input.StartTime)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_time: " + err.Error()})
		return
	}
	end, err := parseTimeOnDay(day, input.EndTime)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end_time: " + err.Error()})
		return
	}

	var estimated time.Duration
	if input.EstimatedDuration != "" {
		parts := strings.SplitN(input.EstimatedDuration, ":", 2)
		if len(parts) == 2 {
			h, _ := strconv.Atoi(parts[0])
			m, _ := strconv.Atoi(parts[1])
			estimated = time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
		}
	}

	svc := calendarService()

	// A manager may only schedule orders they manage
	if middleware.Role(c) == "manager" {
		var managerID uint
		err := managerOfOrder(input.OrderID, &managerID)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		if managerID != middleware.UserID(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not allowed to schedule this order"})
			return
		}
	}

	slot, err := svc.CreateSchedule(c.Request.Context(), services.CreateScheduleInput{
		OrderID:           input.OrderID,
		Date:              day,
		Start:             start,
		End:               end,
		InstallerIDs:      input.InstallerIDs,
		Priority:          input.Priority,
		Notes:             input.Notes,
		EstimatedDuration: estimated,
	})
	if err != nil {
		logrus.WithError(err).WithField("order_id", input.OrderID).Warn("CreateSchedule: creation failed")
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, slot)
}

// CheckAvailability reports which of the requested installers are busy in
// the given window.
func CheckAvailability(c *gin.Context) {
	var input struct {
		InstallerIDs []uint `json:"installer_ids" binding:"required"`
		Date         string `json:"date" binding:"required"`
		StartTime    string `json:"start_time" binding:"required"`
		EndTime      string `json:"end_time" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "all parameters are required: " + err.Error()})
		return
	}

	day, err := parseDate(input.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, expected YYYY-MM-DD"})
		return
	}
	start, err := parseTimeOnDay(day, input.StartTime)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_time: " + err.Error()})
		return
	}
	end, err := parseTimeOnDay(day, input.EndTime)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end_time: " + err.Error()})
		return
	}

	conflicts, err := calendarService().CheckInstallerAvailability(input.InstallerIDs, day, start, end)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	message := "all installers are available"
	if len(conflicts) > 0 {
		message = "conflicts: " + strings.Join(conflicts, ", ")
	}
	c.JSON(http.StatusOK, gin.H{
		"available": len(conflicts) == 0,
		"conflicts": conflicts,
		"message":   message,
	})
}
