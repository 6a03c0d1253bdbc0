package scheduling

// The mutation guard decides whether a window change may proceed. A change
// that would leave a future scheduled appointment outside the window's
// declared hours is rejected; the engine never cancels bookings as a side
// effect of editing availability.
//
// The scan is deliberately conservative: an appointment inside the old
// bounds counts as stranded even when another overlapping window would
// still cover it. Both repositories feed these functions appointments
// already filtered to scheduled status on or after today; weekday and time
// filtering happens here. Completed and cancelled appointments are
// history and never block a change.

// windowShrank reports whether the new bounds fail to cover the old ones.
// A pure widening can strand nothing and skips the scan entirely.
func windowShrank(old *WorkingWindow, newStart, newEnd TimeOfDay) bool {
	return newStart > old.StartTime || newEnd < old.EndTime
}

// orphanedByShrink filters appts down to those stranded by tightening the
// window's bounds: starts inside the old half-open interval but outside
// the new one.
func orphanedByShrink(w *WorkingWindow, newStart, newEnd TimeOfDay, appts []Appointment) []Appointment {
	var out []Appointment
	for _, a := range appts {
		if a.Date.Weekday() != w.DayOfWeek {
			continue
		}
		inOld := w.StartTime <= a.StartTime && a.StartTime < w.EndTime
		inNew := newStart <= a.StartTime && a.StartTime < newEnd
		if inOld && !inNew {
			out = append(out, a)
		}
	}
	return out
}

// orphanedByRemoval filters appts down to those stranded by deleting or
// deactivating the window: every start inside its bounds.
func orphanedByRemoval(w *WorkingWindow, appts []Appointment) []Appointment {
	var out []Appointment
	for _, a := range appts {
		if a.Date.Weekday() != w.DayOfWeek {
			continue
		}
		if w.StartTime <= a.StartTime && a.StartTime < w.EndTime {
			out = append(out, a)
		}
	}
	return out
}
