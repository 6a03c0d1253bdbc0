package scheduling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeOfDay_Parse(t *testing.T) {
	tod, err := ParseTimeOfDay("09:30")
	require.NoError(t, err)
	assert.Equal(t, NewTimeOfDay(9, 30), tod)
	assert.Equal(t, 9, tod.Hour())
	assert.Equal(t, 30, tod.Minute())
	assert.Equal(t, "09:30", tod.String())

	_, err = ParseTimeOfDay("25:00")
	require.Error(t, err)

	_, err = ParseTimeOfDay("9am")
	require.Error(t, err)
}

func TestTimeOfDay_Add(t *testing.T) {
	assert.Equal(t, NewTimeOfDay(17, 0), NewTimeOfDay(16, 30).Add(30))

	// Past midnight is representable but invalid as a window bound.
	assert.False(t, NewTimeOfDay(23, 45).Add(30).Valid())
	assert.True(t, NewTimeOfDay(23, 59).Valid())
}

func TestDate_Parse(t *testing.T) {
	d, err := ParseDate("2026-08-25")
	require.NoError(t, err)
	assert.Equal(t, NewDate(2026, time.August, 25), d)
	assert.Equal(t, "2026-08-25", d.String())

	_, err = ParseDate("25/08/2026")
	require.Error(t, err)
}

// TestDate_Weekday pins the Monday-is-zero numbering to known dates.
func TestDate_Weekday(t *testing.T) {
	assert.Equal(t, Monday, NewDate(2026, time.March, 2).Weekday())
	assert.Equal(t, Wednesday, NewDate(2026, time.March, 4).Weekday())
	assert.Equal(t, Sunday, NewDate(2026, time.March, 8).Weekday())
}

func TestDate_Arithmetic(t *testing.T) {
	d := NewDate(2026, time.January, 30)

	assert.Equal(t, NewDate(2026, time.February, 1), d.AddDays(2))
	assert.Equal(t, 2, d.DaysUntil(NewDate(2026, time.February, 1)))
	assert.Equal(t, -2, NewDate(2026, time.February, 1).DaysUntil(d))

	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.AddDays(1).After(d))
	assert.False(t, d.Before(d))
	assert.False(t, d.IsZero())
	assert.True(t, Date{}.IsZero())
}

func TestWeekday_String(t *testing.T) {
	assert.Equal(t, "Monday", Monday.String())
	assert.Equal(t, "Sunday", Sunday.String())
	assert.Equal(t, "Weekday(7)", Weekday(7).String())
}

func TestWorkingWindow_Validate(t *testing.T) {
	valid := WorkingWindow{
		DayOfWeek:           Tuesday,
		StartTime:           NewTimeOfDay(9, 0),
		EndTime:             NewTimeOfDay(17, 0),
		SlotDurationMinutes: 30,
	}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(w *WorkingWindow)
	}{
		{"day below range", func(w *WorkingWindow) { w.DayOfWeek = -1 }},
		{"day above range", func(w *WorkingWindow) { w.DayOfWeek = 7 }},
		{"start equals end", func(w *WorkingWindow) { w.EndTime = w.StartTime }},
		{"start after end", func(w *WorkingWindow) { w.StartTime = NewTimeOfDay(18, 0) }},
		{"zero duration", func(w *WorkingWindow) { w.SlotDurationMinutes = 0 }},
		{"negative duration", func(w *WorkingWindow) { w.SlotDurationMinutes = -15 }},
		{"negative start", func(w *WorkingWindow) { w.StartTime = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := valid
			tc.mutate(&w)
			assert.ErrorIs(t, w.Validate(), ErrInvalidBounds)
		})
	}
}

func TestWorkingWindow_Covers(t *testing.T) {
	w := WorkingWindow{
		DayOfWeek:           Monday,
		StartTime:           NewTimeOfDay(9, 0),
		EndTime:             NewTimeOfDay(17, 0),
		SlotDurationMinutes: 30,
		Active:              true,
	}

	assert.True(t, w.Covers(Monday, NewTimeOfDay(9, 0)))
	assert.True(t, w.Covers(Monday, NewTimeOfDay(16, 59)))

	// The end bound is exclusive.
	assert.False(t, w.Covers(Monday, NewTimeOfDay(17, 0)))
	assert.False(t, w.Covers(Tuesday, NewTimeOfDay(9, 0)))

	w.Active = false
	assert.False(t, w.Covers(Monday, NewTimeOfDay(9, 0)))
}
