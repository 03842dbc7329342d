package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"install_planner/internal/middleware"
)

// GetRoute returns the optimized route summary for an installer and day.
func GetRoute(c *gin.Context) {
	installerStr := c.Query("installer_id")
	dateStr := c.Query("date")
	if installerStr == "" || dateStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "installer_id and date parameters are required"})
		return
	}

	installerID, err := strconv.ParseUint(installerStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid installer_id"})
		return
	}
	date, err := parseDate(dateStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, expected YYYY-MM-DD"})
		return
	}

	if middleware.Role(c) == "installer" && middleware.UserID(c) != uint(installerID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "no access to this route"})
		return
	}

	summary, err := optimizerService().GetRouteSummary(uint(installerID), date)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// OptimizeRoute recomputes the route for one installer and day.
func OptimizeRoute(c *gin.Context) {
	var input struct {
		InstallerID uint   `json:"installer_id" binding:"required"`
		Date        string `json:"date" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "installer_id and date parameters are required"})
		return
	}

	date, err := parseDate(input.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, expected YYYY-MM-DD"})
		return
	}

	svc := optimizerService()
	plan, err := svc.OptimizeDailyRoute(c.Request.Context(), input.InstallerID, date)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"installer_id": input.InstallerID,
			"date":         input.Date,
		}).Error("OptimizeRoute: optimization failed")
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if plan == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "no schedules to optimize"})
		return
	}

	summary, err := svc.GetRouteSummary(input.InstallerID, date)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "route optimized",
		"route":   summary,
	})
}

// OptimizeAllRoutes rebuilds routes for every installer with scheduled work,
// optionally several days ahead.
func OptimizeAllRoutes(c *gin.Context) {
	var input struct {
		Date      string `json:"date"`
		DaysAhead int    `json:"days_ahead"`
	}
	if err := c.ShouldBindJSON(&input); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	date := tomorrow()
	if input.Date != "" {
		parsed, err := parseDate(input.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, expected YYYY-MM-DD"})
			return
		}
		date = parsed
	}

	results, err := optimizerService().OptimizeAll(c.Request.Context(), date, input.DaysAhead)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	optimized := 0
	for _, r := range results {
		if r.Error == "" && r.Stops > 0 {
			optimized++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"optimized": optimized,
		"results":   results,
	})
}

// AutoAssignSchedules batch-assigns slots to all unscheduled orders.
func AutoAssignSchedules(c *gin.Context) {
	var input struct {
		StartDate string `json:"start_date"`
		DryRun    bool   `json:"dry_run"`
	}
	if err := c.ShouldBindJSON(&input); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	startDate := tomorrow()
	if input.StartDate != "" {
		parsed, err := parseDate(input.StartDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_date, expected YYYY-MM-DD"})
			return
		}
		startDate = parsed
	}

	report, err := assignerService().AssignPending(c.Request.Context(), startDate, input.DryRun)
	if err != nil {
		logrus.WithError(err).Error("AutoAssignSchedules: batch run failed")
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}
