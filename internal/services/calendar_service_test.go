package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"install_planner/internal/geo"
	"install_planner/internal/models"
)

func TestCheckInstallerAvailability(t *testing.T) {
	db := setupTestDB(t)
	svc := NewCalendarService(db, geo.StubGeocoder{}, testSettings())

	installer := makeUser(t, db, "Ivan", "installer")
	order := makeOrder(t, db, "Client A", "ул. Ленина, 10", 2)
	makeSlot(t, db, order, monday, 10, 12, installer)

	// Touching boundary is not a conflict
	conflicts, err := svc.CheckInstallerAvailability([]uint{installer.ID}, monday, clockOn(monday, 9, 0), clockOn(monday, 10, 0))
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	// Half-hour overlap is
	conflicts, err = svc.CheckInstallerAvailability([]uint{installer.ID}, monday, clockOn(monday, 9, 30), clockOn(monday, 10, 30))
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "Ivan", conflicts[0])

	// Window fully after the slot is free again
	conflicts, err = svc.CheckInstallerAvailability([]uint{installer.ID}, monday, clockOn(monday, 12, 0), clockOn(monday, 13, 0))
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestCheckInstallerAvailabilityIgnoresCancelled(t *testing.T) {
	db := setupTestDB(t)
	svc := NewCalendarService(db, geo.StubGeocoder{}, testSettings())

	installer := makeUser(t, db, "Ivan", "installer")
	order := makeOrder(t, db, "Client A", "ул. Ленина, 10", 2)
	slot := makeSlot(t, db, order, monday, 10, 12, installer)
	require.NoError(t, db.Model(&slot).Update("status", models.ScheduleStatusCancelled).Error)

	conflicts, err := svc.CheckInstallerAvailability([]uint{installer.ID}, monday, clockOn(monday, 10, 0), clockOn(monday, 12, 0))
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestCheckInstallerAvailabilityUnknownInstaller(t *testing.T) {
	db := setupTestDB(t)
	svc := NewCalendarService(db, geo.StubGeocoder{}, testSettings())

	_, err := svc.CheckInstallerAvailability([]uint{999}, monday, clockOn(monday, 9, 0), clockOn(monday, 10, 0))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateScheduleRejectsInvertedWindow(t *testing.T) {
	db := setupTestDB(t)
	svc := NewCalendarService(db, geo.StubGeocoder{}, testSettings())
	order := makeOrder(t, db, "Client A", "ул. Ленина, 10", 1)

	_, err := svc.CreateSchedule(context.Background(), CreateScheduleInput{
		OrderID: order.ID,
		Date:    monday,
		Start:   clockOn(monday, 12, 0),
		End:     clockOn(monday, 10, 0),
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateScheduleUnknownOrder(t *testing.T) {
	db := setupTestDB(t)
	svc := NewCalendarService(db, geo.StubGeocoder{}, testSettings())

	_, err := svc.CreateSchedule(context.Background(), CreateScheduleInput{
		OrderID: 42,
		Date:    monday,
		Start:   clockOn(monday, 10, 0),
		End:     clockOn(monday, 12, 0),
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateScheduleConflict(t *testing.T) {
	db := setupTestDB(t)
	svc := NewCalendarService(db, geo.StubGeocoder{}, testSettings())

	installer := makeUser(t, db, "Ivan", "installer")
	first := makeOrder(t, db, "Client A", "ул. Ленина, 10", 1)
	second := makeOrder(t, db, "Client B", "пр. Мира, 25", 1)
	makeSlot(t, db, first, monday, 10, 12, installer)

	_, err := svc.CreateSchedule(context.Background(), CreateScheduleInput{
		OrderID:      second.ID,
		Date:         monday,
		Start:        clockOn(monday, 11, 0),
		End:          clockOn(monday, 13, 0),
		InstallerIDs: []uint{installer.ID},
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCreateSchedule(t *testing.T) {
	db := setupTestDB(t)
	svc := NewCalendarService(db, geo.StubGeocoder{}, testSettings())

	installer := makeUser(t, db, "Ivan", "installer")
	order := makeOrder(t, db, "Client A", "ул. Ленина, 10", 2)

	slot, err := svc.CreateSchedule(context.Background(), CreateScheduleInput{
		OrderID:      order.ID,
		Date:         monday,
		Start:        clockOn(monday, 10, 0),
		End:          clockOn(monday, 12, 0),
		InstallerIDs: []uint{installer.ID},
	})
	require.NoError(t, err)

	assert.Equal(t, models.ScheduleStatusScheduled, slot.Status)
	assert.Equal(t, models.PriorityNormal, slot.Priority)
	assert.Equal(t, 2*time.Hour, slot.EstimatedDuration)
	assert.True(t, slot.HasCoordinates(), "stub geocoder should resolve the address")

	loaded, err := svc.GetSchedule(slot.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Installers, 1)
	assert.Equal(t, installer.ID, loaded.Installers[0].ID)
	assert.Equal(t, "Client A", loaded.Order.ClientName)
}

func TestCreateScheduleRejectsNonInstaller(t *testing.T) {
	db := setupTestDB(t)
	svc := NewCalendarService(db, geo.StubGeocoder{}, testSettings())

	manager := makeUser(t, db, "Boss", "manager")
	order := makeOrder(t, db, "Client A", "ул. Ленина, 10", 1)

	_, err := svc.CreateSchedule(context.Background(), CreateScheduleInput{
		OrderID:      order.ID,
		Date:         monday,
		Start:        clockOn(monday, 10, 0),
		End:          clockOn(monday, 12, 0),
		InstallerIDs: []uint{manager.ID},
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateScheduleGeocodeFailureKeepsSlot(t *testing.T) {
	db := setupTestDB(t)
	svc := NewCalendarService(db, failingGeocoder{}, testSettings())

	order := makeOrder(t, db, "Client A", "", 1)

	slot, err := svc.CreateSchedule(context.Background(), CreateScheduleInput{
		OrderID: order.ID,
		Date:    monday,
		Start:   clockOn(monday, 10, 0),
		End:     clockOn(monday, 11, 0),
	})
	require.NoError(t, err)
	assert.False(t, slot.HasCoordinates())
}

func TestUpdateSchedule(t *testing.T) {
	db := setupTestDB(t)
	svc := NewCalendarService(db, geo.StubGeocoder{}, testSettings())

	installer := makeUser(t, db, "Ivan", "installer")
	order := makeOrder(t, db, "Client A", "ул. Ленина, 10", 1)
	slot := makeSlot(t, db, order, monday, 10, 12, installer)

	notes := "client asked to come after lunch"
	start := clockOn(monday, 13, 0)
	end := clockOn(monday, 15, 0)
	updated, err := svc.UpdateSchedule(slot.ID, UpdateScheduleInput{Start: &start, End: &end, Notes: &notes})
	require.NoError(t, err)
	assert.True(t, start.Equal(updated.StartTime))
	assert.Equal(t, notes, updated.Notes)

	// Inverted window rejected on update too
	bad := clockOn(monday, 12, 0)
	_, err = svc.UpdateSchedule(slot.ID, UpdateScheduleInput{Start: &end, End: &bad})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestStartAndCompleteWork(t *testing.T) {
	db := setupTestDB(t)
	svc := NewCalendarService(db, geo.StubGeocoder{}, testSettings())

	installer := makeUser(t, db, "Ivan", "installer")
	stranger := makeUser(t, db, "Petr", "installer")
	order := makeOrder(t, db, "Client A", "ул. Ленина, 10", 1)
	slot := makeSlot(t, db, order, monday, 10, 12, installer)

	_, err := svc.StartWork(slot.ID, stranger.ID)
	assert.ErrorIs(t, err, ErrValidation)

	started, err := svc.StartWork(slot.ID, installer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusInProgress, started.Status)
	require.NotNil(t, started.ActualStartTime)

	var o models.Order
	require.NoError(t, db.First(&o, order.ID).Error)
	assert.Equal(t, "in_progress", o.Status)

	// Double start rejected
	_, err = svc.StartWork(slot.ID, installer.ID)
	assert.ErrorIs(t, err, ErrValidation)

	completed, err := svc.CompleteWork(slot.ID, installer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusCompleted, completed.Status)
	require.NotNil(t, completed.ActualEndTime)
	require.NotNil(t, completed.Duration())

	require.NoError(t, db.First(&o, order.ID).Error)
	assert.Equal(t, "completed", o.Status)
	assert.NotNil(t, o.CompletedAt)
}

func TestCompleteWorkRequiresStart(t *testing.T) {
	db := setupTestDB(t)
	svc := NewCalendarService(db, geo.StubGeocoder{}, testSettings())

	installer := makeUser(t, db, "Ivan", "installer")
	order := makeOrder(t, db, "Client A", "ул. Ленина, 10", 1)
	slot := makeSlot(t, db, order, monday, 10, 12, installer)

	_, err := svc.CompleteWork(slot.ID, installer.ID)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCancelSchedule(t *testing.T) {
	db := setupTestDB(t)
	svc := NewCalendarService(db, geo.StubGeocoder{}, testSettings())

	installer := makeUser(t, db, "Ivan", "installer")
	order := makeOrder(t, db, "Client A", "ул. Ленина, 10", 1)
	slot := makeSlot(t, db, order, monday, 10, 12, installer)

	cancelled, err := svc.CancelSchedule(slot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusCancelled, cancelled.Status)

	// Completed work cannot be cancelled
	other := makeOrder(t, db, "Client B", "пр. Мира, 25", 1)
	done := makeSlot(t, db, other, monday, 13, 14, installer)
	require.NoError(t, db.Model(&done).Update("status", models.ScheduleStatusCompleted).Error)
	_, err = svc.CancelSchedule(done.ID)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDeleteSchedule(t *testing.T) {
	db := setupTestDB(t)
	svc := NewCalendarService(db, geo.StubGeocoder{}, testSettings())

	installer := makeUser(t, db, "Ivan", "installer")
	order := makeOrder(t, db, "Client A", "ул. Ленина, 10", 1)
	slot := makeSlot(t, db, order, monday, 10, 12, installer)

	require.NoError(t, svc.DeleteSchedule(slot.ID))

	_, err := svc.GetSchedule(slot.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	var assignments int64
	require.NoError(t, db.Model(&models.ScheduleAssignment{}).Where("schedule_slot_id = ?", slot.ID).Count(&assignments).Error)
	assert.Zero(t, assignments)
}

func TestDeleteSchedulePublishesEvent(t *testing.T) {
	db := setupTestDB(t)
	svc := NewCalendarService(db, geo.StubGeocoder{}, testSettings())

	installer := makeUser(t, db, "Ivan", "installer")
	order := makeOrder(t, db, "Client A", "ул. Ленина, 10", 1)
	slot := makeSlot(t, db, order, monday, 10, 12, installer)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	registered := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hubConn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		Events.RegisterClient(hubConn)
		registered <- hubConn
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	hubConn := <-registered
	defer func() {
		Events.UnregisterClient(hubConn)
		hubConn.Close()
	}()

	require.NoError(t, svc.DeleteSchedule(slot.ID))

	// The hub may still be draining events from earlier operations
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var event map[string]interface{}
		require.NoError(t, conn.ReadJSON(&event))
		if event["type"] == "schedule_deleted" {
			assert.Equal(t, float64(slot.ID), event["schedule_id"])
			assert.Equal(t, float64(order.ID), event["order_id"])
			break
		}
	}
}

func TestGetInstallerSchedule(t *testing.T) {
	db := setupTestDB(t)
	svc := NewCalendarService(db, geo.StubGeocoder{}, testSettings())

	installer := makeUser(t, db, "Ivan", "installer")
	other := makeUser(t, db, "Petr", "installer")

	a := makeOrder(t, db, "Client A", "ул. Ленина, 10", 1)
	b := makeOrder(t, db, "Client B", "пр. Мира, 25", 1)
	c := makeOrder(t, db, "Client C", "ул. Гагарина, 3", 1)

	tuesday := monday.AddDate(0, 0, 1)
	makeSlot(t, db, b, tuesday, 9, 10, installer)
	makeSlot(t, db, a, monday, 10, 12, installer)
	makeSlot(t, db, c, monday, 8, 9, other)

	slots, err := svc.GetInstallerSchedule(installer.ID, monday, tuesday)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, a.ID, slots[0].OrderID)
	assert.Equal(t, b.ID, slots[1].OrderID)
}

func TestCalendarRangeFilters(t *testing.T) {
	db := setupTestDB(t)
	svc := NewCalendarService(db, geo.StubGeocoder{}, testSettings())

	ivan := makeUser(t, db, "Ivan", "installer")
	petr := makeUser(t, db, "Petr", "installer")
	manager := makeUser(t, db, "Boss", "manager")

	a := makeOrder(t, db, "Client A", "ул. Ленина, 10", 1)
	require.NoError(t, db.Model(&a).Update("manager_id", manager.ID).Error)
	b := makeOrder(t, db, "Client B", "пр. Мира, 25", 1)

	makeSlot(t, db, a, monday, 10, 12, ivan)
	makeSlot(t, db, b, monday, 13, 14, petr)

	all, err := svc.CalendarRange(monday, monday, CalendarFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := svc.CalendarRange(monday, monday, CalendarFilter{InstallerID: ivan.ID})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, a.ID, mine[0].OrderID)

	managed, err := svc.CalendarRange(monday, monday, CalendarFilter{ManagerID: manager.ID})
	require.NoError(t, err)
	require.Len(t, managed, 1)
	assert.Equal(t, a.ID, managed[0].OrderID)
}
