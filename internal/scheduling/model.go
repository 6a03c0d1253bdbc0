package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Weekday numbers the days Monday = 0 through Sunday = 6, which is how
// working windows are keyed in storage.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [...]string{
	"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday",
}

func (d Weekday) Valid() bool {
	return d >= Monday && d <= Sunday
}

func (d Weekday) String() string {
	if !d.Valid() {
		return fmt.Sprintf("Weekday(%d)", int(d))
	}
	return weekdayNames[d]
}

const minutesPerDay = 24 * 60

// TimeOfDay is a wall-clock time with minute resolution, stored as minutes
// since midnight. Appointment times and window bounds carry no zone; the
// clinic's wall clock is authoritative.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay parses "15:04" formatted input.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return NewTimeOfDay(t.Hour(), t.Minute()), nil
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) Valid() bool {
	return t >= 0 && t < minutesPerDay
}

// Add returns the time shifted forward by the given number of minutes. The
// result may run past midnight; callers only ever compare it against window
// bounds, which sit within a single day.
func (t TimeOfDay) Add(minutes int) TimeOfDay {
	return t + TimeOfDay(minutes)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// Date is a civil calendar date with no clock or zone attached. It is
// comparable, so it can key maps and be checked with ==.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Year: year, Month: month, Day: day}
}

// DateOf truncates t to its civil date in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses "2006-01-02" formatted input.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// Time returns midnight UTC of the date. It exists for arithmetic and for
// encoding to SQL DATE columns; the instant itself means nothing.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) Weekday() Weekday {
	return Weekday((int(d.Time().Weekday()) + 6) % 7)
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// DaysUntil counts the calendar days from d to o, negative when o is
// earlier. Both dates resolve to UTC midnights, so the division is exact.
func (d Date) DaysUntil(o Date) int {
	return int(o.Time().Sub(d.Time()) / (24 * time.Hour))
}

func (d Date) Before(o Date) bool { return d.Time().Before(o.Time()) }
func (d Date) After(o Date) bool  { return d.Time().After(o.Time()) }

func (d Date) IsZero() bool {
	return d == Date{}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// Actor identifies the authenticated caller an operation runs for.
// Authentication happens upstream; the engine only enforces ownership.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefaultSlotMinutes is used when a window or booking does not name a
// duration.
const DefaultSlotMinutes = 30

// WorkingWindow is one recurring weekly block of bookable time for a
// doctor. Bounds are half-open: a 09:00-17:00 window covers a start at
// 09:00 but not at 17:00.
type WorkingWindow struct {
	ID                  uuid.UUID
	DoctorID            uuid.UUID
	DayOfWeek           Weekday
	StartTime           TimeOfDay
	EndTime             TimeOfDay
	SlotDurationMinutes int
	Active              bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Validate checks the window's own shape, not its relation to other
// windows.
func (w *WorkingWindow) Validate() error {
	if !w.DayOfWeek.Valid() {
		return fmt.Errorf("%w: day of week %d", ErrInvalidBounds, int(w.DayOfWeek))
	}
	if !w.StartTime.Valid() || !w.EndTime.Valid() {
		return fmt.Errorf("%w: times must fall within 00:00..23:59", ErrInvalidBounds)
	}
	if w.StartTime >= w.EndTime {
		return fmt.Errorf("%w: start %s is not before end %s", ErrInvalidBounds, w.StartTime, w.EndTime)
	}
	if w.SlotDurationMinutes <= 0 {
		return fmt.Errorf("%w: slot duration %d minutes", ErrInvalidBounds, w.SlotDurationMinutes)
	}
	return nil
}

// Covers reports whether a start time on the given weekday falls inside
// the window. The end bound is exclusive.
func (w *WorkingWindow) Covers(day Weekday, t TimeOfDay) bool {
	return w.Active && w.DayOfWeek == day && w.StartTime <= t && t < w.EndTime
}

// WindowChange is a partial update to a working window; nil fields keep
// their current value. DayOfWeek is deliberately absent: moving a window
// to another day is a remove plus a define.
type WindowChange struct {
	StartTime           *TimeOfDay
	EndTime             *TimeOfDay
	SlotDurationMinutes *int
	Active              *bool
}

type Appointment struct {
	ID              uuid.UUID
	DoctorID        uuid.UUID
	PatientID       uuid.UUID
	Date            Date
	StartTime       TimeOfDay
	DurationMinutes int
	Reason          *string
	Status          AppointmentStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SlotKey identifies one bookable instant within a single doctor's
// calendar.
type SlotKey struct {
	Date Date
	Time TimeOfDay
}

// AvailableSlot is one open slot produced by the availability listing.
type AvailableSlot struct {
	DoctorID        uuid.UUID
	Date            Date
	StartTime       TimeOfDay
	DurationMinutes int
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
