package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPriorityRank(t *testing.T) {
	assert.Equal(t, 0, PriorityRank(PriorityUrgent))
	assert.Equal(t, 1, PriorityRank(PriorityHigh))
	assert.Equal(t, 2, PriorityRank(PriorityNormal))
	assert.Equal(t, 3, PriorityRank(PriorityLow))
	assert.Equal(t, 2, PriorityRank("whatever"))
}

func TestIsOverdue(t *testing.T) {
	end := time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC)
	slot := ScheduleSlot{Status: ScheduleStatusScheduled, EndTime: end}

	assert.False(t, slot.IsOverdue(end.Add(-time.Hour)))
	assert.True(t, slot.IsOverdue(end.Add(time.Hour)))

	slot.Status = ScheduleStatusCompleted
	assert.False(t, slot.IsOverdue(end.Add(time.Hour)))

	slot.Status = ScheduleStatusCancelled
	assert.False(t, slot.IsOverdue(end.Add(time.Hour)))
}

func TestDuration(t *testing.T) {
	var slot ScheduleSlot
	assert.Nil(t, slot.Duration())

	start := time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Minute)
	slot.ActualStartTime = &start
	slot.ActualEndTime = &end

	d := slot.Duration()
	assert.NotNil(t, d)
	assert.Equal(t, 90*time.Minute, *d)
}
