package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// Repository contains all storage interactions needed by the service.
//
// Create methods assign the ID and timestamps on the model they are given.
// CreateAppointment and MoveAppointment are atomic claims: of two calls
// racing for the same (doctor, date, start time), exactly one may succeed
// while the earlier booking is not cancelled; the loser gets ErrSlotTaken.
// UpdateAppointmentStatus is a compare-and-set that reports
// ErrAppointmentNotFound when no row matches both id and the expected
// status, same as MoveAppointment when the appointment is no longer
// scheduled.
type Repository interface {
	// Directory
	CreateDoctor(ctx context.Context, d *Doctor) error
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	CreatePatient(ctx context.Context, p *Patient) error
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// Weekly availability. UpdateWindow and RemoveWindow run the orphan
	// guard against scheduled appointments on or after today before
	// touching the window.
	CreateWindow(ctx context.Context, w *WorkingWindow) error
	GetWindowByID(ctx context.Context, id uuid.UUID) (*WorkingWindow, error)
	ListActiveWindows(ctx context.Context, doctorID uuid.UUID) ([]WorkingWindow, error)
	UpdateWindow(ctx context.Context, id uuid.UUID, change WindowChange, today Date) (*WorkingWindow, error)
	RemoveWindow(ctx context.Context, id uuid.UUID, today Date) error

	// Booking ledger
	CreateAppointment(ctx context.Context, a *Appointment) error
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	MoveAppointment(ctx context.Context, id uuid.UUID, date Date, start TimeOfDay, reason *string) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
	ListBookedSlots(ctx context.Context, doctorID uuid.UUID, from, to Date) (map[SlotKey]struct{}, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error)
	ListDoctorAppointmentsOn(ctx context.Context, doctorID uuid.UUID, day Date) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
