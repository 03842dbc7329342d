package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"install_planner/internal/config"
	"install_planner/internal/models"
)

// setupTestDB opens a fresh in-memory SQLite database named after the test
// so parallel tests never see each other's rows.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, config.Migrate(db))
	return db
}

func testSettings() config.PlannerSettings {
	return config.PlannerSettings{
		WorkStart:        8 * time.Hour,
		WorkEnd:          18 * time.Hour,
		DefaultDuration:  2 * time.Hour,
		MaxPerDay:        5,
		AvgSpeedKmh:      30,
		CongestionFactor: 1.2,
		HorizonDays:      14,
		StartLocation:    "warehouse",
	}
}

func makeUser(t *testing.T, db *gorm.DB, name, role string) models.User {
	t.Helper()
	u := models.User{Name: name, Email: name + "@test.local", Password: "x", Role: role, IsActive: true}
	require.NoError(t, db.Create(&u).Error)
	return u
}

func makeOrder(t *testing.T, db *gorm.DB, name, address string, serviceCount int) models.Order {
	t.Helper()
	o := models.Order{ClientName: name, ClientAddress: address, ServiceCount: serviceCount, Status: "new"}
	require.NoError(t, db.Create(&o).Error)
	return o
}

// makeSlot inserts a slot with its installer assignments directly, bypassing
// the availability checks, for tests that need a precise starting state.
func makeSlot(t *testing.T, db *gorm.DB, order models.Order, day time.Time, startHour, endHour int, installers ...models.User) models.ScheduleSlot {
	t.Helper()
	slot := models.ScheduleSlot{
		OrderID:           order.ID,
		ScheduledDate:     DateOnly(day),
		StartTime:         DateOnly(day).Add(time.Duration(startHour) * time.Hour),
		EndTime:           DateOnly(day).Add(time.Duration(endHour) * time.Hour),
		Status:            models.ScheduleStatusScheduled,
		Priority:          models.PriorityNormal,
		EstimatedDuration: time.Duration(endHour-startHour) * time.Hour,
		Installers:        installers,
	}
	require.NoError(t, db.Create(&slot).Error)
	return slot
}

func f64(v float64) *float64 { return &v }

// fixedGeocoder resolves from a static table; unknown addresses fail.
type fixedGeocoder struct {
	points map[string][2]float64
}

func (g fixedGeocoder) Resolve(_ context.Context, address string) (float64, float64, bool) {
	if p, ok := g.points[address]; ok {
		return p[0], p[1], true
	}
	return 0, 0, false
}

// failingGeocoder simulates a provider outage.
type failingGeocoder struct{}

func (failingGeocoder) Resolve(context.Context, string) (float64, float64, bool) {
	return 0, 0, false
}

// monday is a fixed reference workday so weekday logic is stable.
var monday = time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)

func clockOn(day time.Time, hour, min int) time.Time {
	return DateOnly(day).Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute)
}
