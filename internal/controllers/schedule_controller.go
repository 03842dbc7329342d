package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"install_planner/internal/middleware"
	"install_planner/internal/services"
)

func scheduleID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule id"})
		return 0, false
	}
	return uint(id), true
}

// GetScheduleDetail returns one schedule with its order and installers.
func GetScheduleDetail(c *gin.Context) {
	id, ok := scheduleID(c)
	if !ok {
		return
	}

	slot, err := calendarService().GetSchedule(id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	switch middleware.Role(c) {
	case "installer":
		assigned := false
		for _, u := range slot.Installers {
			if u.ID == middleware.UserID(c) {
				assigned = true
				break
			}
		}
		if !assigned {
			c.JSON(http.StatusForbidden, gin.H{"error": "no access to this schedule"})
			return
		}
	case "manager":
		if slot.Order.ManagerID != middleware.UserID(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "no access to this schedule"})
			return
		}
	}

	c.JSON(http.StatusOK, slot)
}

type updateScheduleInputJSON struct {
	ScheduledDate *string `json:"scheduled_date"`
	StartTime     *string `json:"start_time"`
	EndTime       *string `json:"end_time"`
	Status        *string `json:"status"`
	Priority      *string `json:"priority"`
	Notes         *string `json:"notes"`
}

// UpdateSchedule applies a partial update to a schedule.
func UpdateSchedule(c *gin.Context) {
	id, ok := scheduleID(c)
	if !ok {
		return
	}

	var input updateScheduleInputJSON
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	svc := calendarService()
	current, err := svc.GetSchedule(id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if middleware.Role(c) == "manager" && current.Order.ManagerID != middleware.UserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed to change this schedule"})
		return
	}

	patch := services.UpdateScheduleInput{
		Status:   input.Status,
		Priority: input.Priority,
		Notes:    input.Notes,
	}

	day := current.ScheduledDate
	if input.ScheduledDate != nil {
		parsed, parseErr := parseDate(*input.ScheduledDate)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scheduled_date, expected YYYY-MM-DD"})
			return
		}
		day = parsed
		patch.Date = &parsed
	}
	if input.StartTime != nil {
		start, parseErr := parseTimeOnDay(day, *input.StartTime)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_time: " + parseErr.Error()})
			return
		}
		patch.Start = &start
	}
	if input.EndTime != nil {
		end, parseErr := parseTimeOnDay(day, *input.EndTime)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end_time: " + parseErr.Error()})
			return
		}
		patch.End = &end
	}

	slot, err := svc.UpdateSchedule(id, patch)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, slot)
}

// DeleteSchedule removes a schedule slot.
func DeleteSchedule(c *gin.Context) {
	id, ok := scheduleID(c)
	if !ok {
		return
	}

	svc := calendarService()
	current, err := svc.GetSchedule(id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if middleware.Role(c) == "manager" && current.Order.ManagerID != middleware.UserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed to delete this schedule"})
		return
	}

	if err := svc.DeleteSchedule(id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// StartWork marks the beginning of an installation.
func StartWork(c *gin.Context) {
	id, ok := scheduleID(c)
	if !ok {
		return
	}

	slot, err := calendarService().StartWork(id, middleware.UserID(c))
	if err != nil {
		logrus.WithError(err).WithField("schedule_id", id).Warn("StartWork: transition rejected")
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":           "work started",
		"actual_start_time": slot.ActualStartTime,
		"status":            slot.Status,
	})
}

// CompleteWork marks the end of an installation.
func CompleteWork(c *gin.Context) {
	id, ok := scheduleID(c)
	if !ok {
		return
	}

	slot, err := calendarService().CompleteWork(id, middleware.UserID(c))
	if err != nil {
		logrus.WithError(err).WithField("schedule_id", id).Warn("CompleteWork: transition rejected")
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{
		"message":         "work completed",
		"actual_end_time": slot.ActualEndTime,
		"status":          slot.Status,
	}
	if d := slot.Duration(); d != nil {
		resp["duration"] = d.String()
	}
	c.JSON(http.StatusOK, resp)
}

// CancelSchedule cancels a pending installation.
func CancelSchedule(c *gin.Context) {
	id, ok := scheduleID(c)
	if !ok {
		return
	}

	slot, err := calendarService().CancelSchedule(id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "schedule cancelled",
		"status":  slot.Status,
	})
}

// GetInstallerSchedule lists one installer's work for a date range,
// defaulting to the current week.
func GetInstallerSchedule(c *gin.Context) {
	installerID, err := strconv.ParseUint(c.Param("installer_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid installer id"})
		return
	}

	if middleware.Role(c) == "installer" && middleware.UserID(c) != uint(installerID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "no access to this schedule"})
		return
	}

	var from, to time.Time
	startStr := c.Query("start_date")
	endStr := c.Query("end_date")
	if startStr == "" || endStr == "" {
		// Default: current week, Monday through Sunday
		today := services.DateOnly(time.Now())
		weekday := (int(today.Weekday()) + 6) % 7
		from = today.AddDate(0, 0, -weekday)
		to = from.AddDate(0, 0, 6)
	} else {
		if from, err = parseDate(startStr); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date format, expected YYYY-MM-DD"})
			return
		}
		if to, err = parseDate(endStr); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date format, expected YYYY-MM-DD"})
			return
		}
	}

	slots, err := calendarService().GetInstallerSchedule(uint(installerID), from, to)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	entries := make([]scheduleEntry, 0, len(slots))
	for _, slot := range slots {
		entries = append(entries, toScheduleEntry(slot))
	}

	c.JSON(http.StatusOK, gin.H{
		"installer_id": installerID,
		"start_date":   from.Format("2006-01-02"),
		"end_date":     to.Format("2006-01-02"),
		"schedule":     entries,
	})
}
