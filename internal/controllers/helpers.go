package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"gorm.io/gorm"

	"install_planner/internal/config"
	"install_planner/internal/geo"
	"install_planner/internal/models"
	"install_planner/internal/services"
)

var (
	optimizerOnce sync.Once
	optimizer     *services.RouteOptimizerService
)

func calendarService() *services.CalendarService {
	return services.NewCalendarService(config.DB, geo.NewGeocoder(config.Planner.GeocoderAPIKey), config.Planner)
}

func assignerService() *services.AssignerService {
	return services.NewAssignerService(config.DB, calendarService(), config.Planner)
}

// optimizerService is a singleton: its per-(installer,date) locks must be
// shared across requests.
func optimizerService() *services.RouteOptimizerService {
	optimizerOnce.Do(func() {
		optimizer = services.NewRouteOptimizerService(config.DB, geo.NewGeocoder(config.Planner.GeocoderAPIKey), config.Planner)
	})
	return optimizer
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrNoCapacity):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// managerOfOrder looks up the manager who owns an order.
func managerOfOrder(orderID uint, managerID *uint) error {
	var order models.Order
	if err := config.DB.First(&order, orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: order %d", services.ErrNotFound, orderID)
		}
		return err
	}
	*managerID = order.ManagerID
	return nil
}

func parseDate(v string) (time.Time, error) {
	return time.Parse("2006-01-02", v)
}

func tomorrow() time.Time {
	return services.DateOnly(time.Now()).AddDate(0, 0, 1)
}

// parseTimeOnDay parses "HH:MM" and anchors it on the given day.
func parseTimeOnDay(day time.Time, v string) (time.Time, error) {
	offset, err := config.ParseClock(v)
	if err != nil {
		return time.Time{}, err
	}
	return services.DateOnly(day).Add(offset), nil
}
