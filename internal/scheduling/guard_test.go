package scheduling

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeAppt(date Date, start TimeOfDay) Appointment {
	return Appointment{
		ID:              uuid.New(),
		DoctorID:        uuid.New(),
		PatientID:       uuid.New(),
		Date:            date,
		StartTime:       start,
		DurationMinutes: 30,
		Status:          StatusScheduled,
	}
}

func TestWindowShrank(t *testing.T) {
	w := makeWindow(Monday, NewTimeOfDay(9, 0), NewTimeOfDay(17, 0), 30)

	assert.False(t, windowShrank(&w, NewTimeOfDay(9, 0), NewTimeOfDay(17, 0)))
	assert.False(t, windowShrank(&w, NewTimeOfDay(8, 0), NewTimeOfDay(18, 0)))
	assert.True(t, windowShrank(&w, NewTimeOfDay(10, 0), NewTimeOfDay(17, 0)))
	assert.True(t, windowShrank(&w, NewTimeOfDay(9, 0), NewTimeOfDay(16, 0)))

	// Widening one end while tightening the other still shrinks.
	assert.True(t, windowShrank(&w, NewTimeOfDay(8, 0), NewTimeOfDay(16, 0)))
}

func TestOrphanedByShrink(t *testing.T) {
	w := makeWindow(Monday, NewTimeOfDay(9, 0), NewTimeOfDay(17, 0), 30)
	monday := NewDate(2026, time.March, 2)
	tuesday := monday.AddDays(1)

	appts := []Appointment{
		makeAppt(monday, NewTimeOfDay(9, 0)),   // stranded by the later start
		makeAppt(monday, NewTimeOfDay(12, 0)),  // stays inside
		makeAppt(monday, NewTimeOfDay(16, 30)), // stranded by the earlier end
		makeAppt(tuesday, NewTimeOfDay(9, 0)),  // other weekday, not this window's
		makeAppt(monday, NewTimeOfDay(18, 0)),  // already outside the old bounds
	}

	out := orphanedByShrink(&w, NewTimeOfDay(10, 0), NewTimeOfDay(16, 0), appts)

	require.Len(t, out, 2)
	assert.Equal(t, NewTimeOfDay(9, 0), out[0].StartTime)
	assert.Equal(t, NewTimeOfDay(16, 30), out[1].StartTime)
}

// An appointment starting exactly at the new end is stranded: bounds are
// half-open.
func TestOrphanedByShrink_HalfOpenBoundary(t *testing.T) {
	w := makeWindow(Monday, NewTimeOfDay(9, 0), NewTimeOfDay(17, 0), 30)
	monday := NewDate(2026, time.March, 2)
	appts := []Appointment{makeAppt(monday, NewTimeOfDay(16, 0))}

	out := orphanedByShrink(&w, NewTimeOfDay(9, 0), NewTimeOfDay(16, 0), appts)
	require.Len(t, out, 1)

	out = orphanedByShrink(&w, NewTimeOfDay(9, 0), NewTimeOfDay(16, 30), appts)
	assert.Empty(t, out)
}

func TestOrphanedByRemoval(t *testing.T) {
	w := makeWindow(Wednesday, NewTimeOfDay(9, 0), NewTimeOfDay(12, 0), 30)
	wednesday := NewDate(2026, time.March, 4)

	appts := []Appointment{
		makeAppt(wednesday, NewTimeOfDay(9, 0)),
		makeAppt(wednesday, NewTimeOfDay(11, 30)),
		makeAppt(wednesday, NewTimeOfDay(13, 0)),           // outside this window's hours
		makeAppt(wednesday.AddDays(1), NewTimeOfDay(9, 0)), // a Thursday
	}

	out := orphanedByRemoval(&w, appts)

	require.Len(t, out, 2)
	assert.Equal(t, NewTimeOfDay(9, 0), out[0].StartTime)
	assert.Equal(t, NewTimeOfDay(11, 30), out[1].StartTime)
}

func TestOrphanedByRemoval_NoAppointments(t *testing.T) {
	w := makeWindow(Monday, NewTimeOfDay(9, 0), NewTimeOfDay(17, 0), 30)

	assert.Empty(t, orphanedByRemoval(&w, nil))
}
