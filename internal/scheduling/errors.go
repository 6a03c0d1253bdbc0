package scheduling

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrWindowNotFound      = errors.New("working window not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	ErrSlotTaken       = errors.New("slot is already booked")
	ErrOutsideWindow   = errors.New("time falls outside the doctor's working hours")
	ErrPastDate        = errors.New("date is in the past")
	ErrDuplicateWindow = errors.New("an identical working window already exists")
	ErrInvalidBounds   = errors.New("invalid window bounds")
	ErrInvalidRange    = errors.New("invalid date range")

	ErrForbidden         = errors.New("operation not permitted for this actor")
	ErrInvalidTransition = errors.New("status transition not allowed")
)

// OrphanedAppointmentsError rejects a window mutation that would leave
// already-booked appointments outside any declared working hours. The
// engine never cancels bookings as a side effect; callers must cancel or
// move the listed appointments first.
type OrphanedAppointmentsError struct {
	WindowID     uuid.UUID
	Appointments []Appointment
}

func (e *OrphanedAppointmentsError) Error() string {
	return fmt.Sprintf("window %s has %d scheduled appointment(s) that would fall outside working hours",
		e.WindowID, len(e.Appointments))
}

// domainError reports whether err is one of the engine's typed errors, as
// opposed to an infrastructure failure worth wrapping with call context.
func domainError(err error) bool {
	var orphaned *OrphanedAppointmentsError
	if errors.As(err, &orphaned) {
		return true
	}
	for _, target := range []error{
		ErrDoctorNotFound,
		ErrPatientNotFound,
		ErrWindowNotFound,
		ErrAppointmentNotFound,
		ErrSlotTaken,
		ErrOutsideWindow,
		ErrPastDate,
		ErrDuplicateWindow,
		ErrInvalidBounds,
		ErrInvalidRange,
		ErrForbidden,
		ErrInvalidTransition,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
