package scheduling

import (
	"iter"
	"slices"

	"github.com/google/uuid"
)

// availableSlots derives the open slots for one doctor between from and to
// inclusive. Slots come out ordered by date then start time, deduplicated
// across overlapping windows, with booked starts removed. The sequence
// materializes one day at a time and is safe to iterate more than once.
func availableSlots(doctorID uuid.UUID, windows []WorkingWindow, booked map[SlotKey]struct{}, from, to Date) iter.Seq[AvailableSlot] {
	return func(yield func(AvailableSlot) bool) {
		for d := from; !d.After(to); d = d.AddDays(1) {
			for _, slot := range daySlots(doctorID, windows, booked, d) {
				if !yield(slot) {
					return
				}
			}
		}
	}
}

// daySlots builds one day's open slots sorted by start time. Each window
// emits a slot every SlotDurationMinutes for as long as the slot start is
// strictly before the window's end; a start at or past the end is never
// emitted. When overlapping windows produce the same start, the first
// window in day-then-start order wins and sets the duration. A booked
// start is suppressed for every window that would produce it.
func daySlots(doctorID uuid.UUID, windows []WorkingWindow, booked map[SlotKey]struct{}, day Date) []AvailableSlot {
	weekday := day.Weekday()

	var out []AvailableSlot
	seen := make(map[TimeOfDay]struct{})

	for _, w := range windows {
		if !w.Active || w.DayOfWeek != weekday {
			continue
		}
		for t := w.StartTime; t < w.EndTime; t = t.Add(w.SlotDurationMinutes) {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			if _, taken := booked[SlotKey{Date: day, Time: t}]; taken {
				continue
			}
			out = append(out, AvailableSlot{
				DoctorID:        doctorID,
				Date:            day,
				StartTime:       t,
				DurationMinutes: w.SlotDurationMinutes,
			})
		}
	}

	slices.SortFunc(out, func(a, b AvailableSlot) int {
		return int(a.StartTime - b.StartTime)
	})

	return out
}
