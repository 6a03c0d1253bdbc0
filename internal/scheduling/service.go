package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	redisclient "github.com/clinicbase/appointment-engine/internal/redis"
)

const (
	EventSlotBooked             = "SLOT_BOOKED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventWindowDefined          = "WINDOW_DEFINED"
	EventWindowUpdated          = "WINDOW_UPDATED"
	EventWindowRemoved          = "WINDOW_REMOVED"
)

// listRangeCapDays bounds an availability listing to roughly one month.
const listRangeCapDays = 30

// Service wires the slot rules, the orphan guard and the booking ledger
// into the operations callers use. Listings are advisory; only the claim
// inside the repository decides who gets a slot.
type Service struct {
	repo   Repository
	locker redisclient.Locker
	log    *zap.Logger
	now    func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, log *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		log:    log,
		now:    time.Now,
	}
}

type BookingRequest struct {
	DoctorID        uuid.UUID
	PatientID       uuid.UUID
	Date            Date
	StartTime       TimeOfDay
	DurationMinutes int // 0 means DefaultSlotMinutes
	Reason          *string
}

// RescheduleRequest moves an appointment; nil fields keep their current
// value, so a reason-only update is a valid request.
type RescheduleRequest struct {
	NewDate      *Date
	NewStartTime *TimeOfDay
	Reason       *string
}

type WindowRequest struct {
	DoctorID            uuid.UUID
	DayOfWeek           Weekday
	StartTime           TimeOfDay
	EndTime             TimeOfDay
	SlotDurationMinutes int // 0 means DefaultSlotMinutes
}

// BookSlot claims one slot for a patient. The claim is atomic: of two
// callers racing for the same (doctor, date, start time), exactly one wins
// and the rest get ErrSlotTaken. The advisory slot lock narrows the race;
// the storage constraint settles it.
func (s *Service) BookSlot(ctx context.Context, req BookingRequest) (*Appointment, error) {
	duration := req.DurationMinutes
	if duration == 0 {
		duration = DefaultSlotMinutes
	}
	if duration < 0 {
		return nil, fmt.Errorf("%w: appointment duration %d minutes", ErrInvalidBounds, duration)
	}

	if req.Date.Before(DateOf(s.now())) {
		return nil, ErrPastDate
	}

	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		if domainError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if _, err := s.repo.GetDoctorByID(ctx, req.DoctorID); err != nil {
		if domainError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	if err := s.checkWithinWindow(ctx, req.DoctorID, req.Date, req.StartTime); err != nil {
		return nil, err
	}

	appt := &Appointment{
		DoctorID:        req.DoctorID,
		PatientID:       req.PatientID,
		Date:            req.Date,
		StartTime:       req.StartTime,
		DurationMinutes: duration,
		Reason:          req.Reason,
	}

	err := s.locker.WithLock(ctx, slotLockKey(req.DoctorID, req.Date, req.StartTime), func(lockCtx context.Context) error {
		return s.repo.CreateAppointment(lockCtx, appt)
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			// Someone else is claiming this slot right now; losing
			// the lock means losing the slot.
			return nil, ErrSlotTaken
		}
		if domainError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.logEvent(ctx, &appt.ID, EventSlotBooked, map[string]any{
		"doctor_id":  appt.DoctorID.String(),
		"patient_id": appt.PatientID.String(),
		"date":       appt.Date.String(),
		"start_time": appt.StartTime.String(),
	})
	s.log.Info("slot booked",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("doctor_id", appt.DoctorID.String()),
		zap.String("date", appt.Date.String()),
		zap.String("start_time", appt.StartTime.String()),
	)

	return appt, nil
}

// RescheduleAppointment moves a scheduled appointment to another slot, or
// just rewrites its reason when no new slot is given. Only the owning
// patient or the appointment's doctor may move it.
func (s *Service) RescheduleAppointment(ctx context.Context, id uuid.UUID, actor Actor, req RescheduleRequest) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if domainError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if err := ownershipCheck(actor, appt); err != nil {
		return nil, err
	}
	if appt.Status != StatusScheduled {
		return nil, ErrInvalidTransition
	}

	if req.NewDate == nil && req.NewStartTime == nil && req.Reason == nil {
		return appt, nil
	}

	newDate := appt.Date
	if req.NewDate != nil {
		newDate = *req.NewDate
	}
	newStart := appt.StartTime
	if req.NewStartTime != nil {
		newStart = *req.NewStartTime
	}

	if newDate != appt.Date || newStart != appt.StartTime {
		if newDate.Before(DateOf(s.now())) {
			return nil, ErrPastDate
		}
		if err := s.checkWithinWindow(ctx, appt.DoctorID, newDate, newStart); err != nil {
			return nil, err
		}
	}

	var moved *Appointment
	err = s.locker.WithLock(ctx, slotLockKey(appt.DoctorID, newDate, newStart), func(lockCtx context.Context) error {
		var err error
		moved, err = s.repo.MoveAppointment(lockCtx, id, newDate, newStart, req.Reason)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			return nil, ErrSlotTaken
		case errors.Is(err, ErrAppointmentNotFound):
			// The compare-and-set matched nothing: the appointment
			// was transitioned or removed since we loaded it.
			return nil, s.resolveMissedUpdate(ctx, id)
		case domainError(err):
			return nil, err
		default:
			return nil, fmt.Errorf("move appointment: %w", err)
		}
	}

	s.logEvent(ctx, &moved.ID, EventAppointmentRescheduled, map[string]any{
		"from_date": appt.Date.String(),
		"from_time": appt.StartTime.String(),
		"to_date":   moved.Date.String(),
		"to_time":   moved.StartTime.String(),
	})
	s.log.Info("appointment rescheduled",
		zap.String("appointment_id", moved.ID.String()),
		zap.String("from", appt.Date.String()+" "+appt.StartTime.String()),
		zap.String("to", moved.Date.String()+" "+moved.StartTime.String()),
	)

	return moved, nil
}

// SetAppointmentStatus drives the scheduled to completed/cancelled state
// machine. Completion is the doctor's call; either owner may cancel.
// Cancelling an already-cancelled appointment is a no-op.
func (s *Service) SetAppointmentStatus(ctx context.Context, id uuid.UUID, actor Actor, status AppointmentStatus) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if domainError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if err := ownershipCheck(actor, appt); err != nil {
		return nil, err
	}

	if status == StatusCancelled && appt.Status == StatusCancelled {
		return appt, nil
	}
	if appt.Status != StatusScheduled {
		return nil, ErrInvalidTransition
	}

	switch status {
	case StatusCompleted:
		if actor.Role != RoleDoctor {
			return nil, ErrForbidden
		}
	case StatusCancelled:
		// Either owner may cancel.
	default:
		return nil, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, StatusScheduled, status)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost a race with another transition.
			reloaded, rerr := s.repo.GetAppointmentByID(ctx, id)
			if rerr != nil {
				if domainError(rerr) {
					return nil, rerr
				}
				return nil, fmt.Errorf("reload appointment: %w", rerr)
			}
			if status == StatusCancelled && reloaded.Status == StatusCancelled {
				// Concurrent cancel; cancellation is idempotent.
				return reloaded, nil
			}
			return nil, ErrInvalidTransition
		}
		if domainError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	event := EventAppointmentCancelled
	if status == StatusCompleted {
		event = EventAppointmentCompleted
	}
	s.logEvent(ctx, &updated.ID, event, map[string]any{
		"doctor_id":  updated.DoctorID.String(),
		"patient_id": updated.PatientID.String(),
		"date":       updated.Date.String(),
		"start_time": updated.StartTime.String(),
	})
	s.log.Info("appointment status changed",
		zap.String("appointment_id", updated.ID.String()),
		zap.String("status", string(updated.Status)),
	)

	return updated, nil
}

// CancelAppointment releases the slot for rebooking. Sugar over
// SetAppointmentStatus.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	return s.SetAppointmentStatus(ctx, id, actor, StatusCancelled)
}

// ListAvailableSlots lists the open slots for a doctor between from and to
// inclusive, capped at listRangeCapDays. A doctor with no active windows,
// or an unknown doctor, simply has no slots.
func (s *Service) ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, from, to Date) ([]AvailableSlot, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: %s is after %s", ErrInvalidRange, from, to)
	}
	if from.DaysUntil(to) > listRangeCapDays {
		return nil, fmt.Errorf("%w: longer than %d days", ErrInvalidRange, listRangeCapDays)
	}

	windows, err := s.repo.ListActiveWindows(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	if len(windows) == 0 {
		return nil, nil
	}

	booked, err := s.repo.ListBookedSlots(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list booked slots: %w", err)
	}

	return slices.Collect(availableSlots(doctorID, windows, booked, from, to)), nil
}

// DefineWindow adds a recurring weekly window to a doctor's availability.
func (s *Service) DefineWindow(ctx context.Context, req WindowRequest) (*WorkingWindow, error) {
	duration := req.SlotDurationMinutes
	if duration == 0 {
		duration = DefaultSlotMinutes
	}

	w := &WorkingWindow{
		DoctorID:            req.DoctorID,
		DayOfWeek:           req.DayOfWeek,
		StartTime:           req.StartTime,
		EndTime:             req.EndTime,
		SlotDurationMinutes: duration,
		Active:              true,
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetDoctorByID(ctx, req.DoctorID); err != nil {
		if domainError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	if err := s.repo.CreateWindow(ctx, w); err != nil {
		if domainError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("create window: %w", err)
	}

	s.logEvent(ctx, nil, EventWindowDefined, map[string]any{
		"window_id": w.ID.String(),
		"doctor_id": w.DoctorID.String(),
		"day":       w.DayOfWeek.String(),
		"start":     w.StartTime.String(),
		"end":       w.EndTime.String(),
	})
	s.log.Info("working window defined",
		zap.String("window_id", w.ID.String()),
		zap.String("doctor_id", w.DoctorID.String()),
		zap.String("day", w.DayOfWeek.String()),
		zap.String("start", w.StartTime.String()),
		zap.String("end", w.EndTime.String()),
	)

	return w, nil
}

// UpdateWindow changes a window's bounds, slot duration or active flag for
// its owning doctor. A change that would strand scheduled appointments is
// rejected with *OrphanedAppointmentsError listing them.
func (s *Service) UpdateWindow(ctx context.Context, windowID, actorDoctorID uuid.UUID, change WindowChange) (*WorkingWindow, error) {
	w, err := s.repo.GetWindowByID(ctx, windowID)
	if err != nil {
		if domainError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("load window: %w", err)
	}
	if w.DoctorID != actorDoctorID {
		return nil, ErrForbidden
	}

	updated, err := s.repo.UpdateWindow(ctx, windowID, change, DateOf(s.now()))
	if err != nil {
		if domainError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("update window: %w", err)
	}

	s.logEvent(ctx, nil, EventWindowUpdated, map[string]any{
		"window_id": updated.ID.String(),
		"doctor_id": updated.DoctorID.String(),
		"start":     updated.StartTime.String(),
		"end":       updated.EndTime.String(),
		"active":    updated.Active,
	})
	s.log.Info("working window updated",
		zap.String("window_id", updated.ID.String()),
		zap.String("start", updated.StartTime.String()),
		zap.String("end", updated.EndTime.String()),
		zap.Bool("active", updated.Active),
	)

	return updated, nil
}

// RemoveWindow deletes a window outright. Booked history stays intact; the
// slots just stop being offered.
func (s *Service) RemoveWindow(ctx context.Context, windowID, actorDoctorID uuid.UUID) error {
	w, err := s.repo.GetWindowByID(ctx, windowID)
	if err != nil {
		if domainError(err) {
			return err
		}
		return fmt.Errorf("load window: %w", err)
	}
	if w.DoctorID != actorDoctorID {
		return ErrForbidden
	}

	if err := s.repo.RemoveWindow(ctx, windowID, DateOf(s.now())); err != nil {
		if domainError(err) {
			return err
		}
		return fmt.Errorf("remove window: %w", err)
	}

	s.logEvent(ctx, nil, EventWindowRemoved, map[string]any{
		"window_id": w.ID.String(),
		"doctor_id": w.DoctorID.String(),
	})
	s.log.Info("working window removed",
		zap.String("window_id", w.ID.String()),
		zap.String("doctor_id", w.DoctorID.String()),
	)

	return nil
}

// ListWindows returns a doctor's active windows ordered by day then start
// time.
func (s *Service) ListWindows(ctx context.Context, doctorID uuid.UUID) ([]WorkingWindow, error) {
	windows, err := s.repo.ListActiveWindows(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	return windows, nil
}

// GetAppointment returns one appointment, restricted to its two owners.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if domainError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if err := ownershipCheck(actor, appt); err != nil {
		return nil, err
	}
	return appt, nil
}

// ListAppointments returns the actor's own appointments, as patient or as
// doctor, ordered by date then start time.
func (s *Service) ListAppointments(ctx context.Context, actor Actor) ([]Appointment, error) {
	switch actor.Role {
	case RolePatient:
		appts, err := s.repo.ListAppointmentsByPatient(ctx, actor.ID)
		if err != nil {
			return nil, fmt.Errorf("list appointments by patient: %w", err)
		}
		return appts, nil
	case RoleDoctor:
		appts, err := s.repo.ListAppointmentsByDoctor(ctx, actor.ID)
		if err != nil {
			return nil, fmt.Errorf("list appointments by doctor: %w", err)
		}
		return appts, nil
	default:
		return nil, ErrForbidden
	}
}

// DaySheet returns the acting doctor's appointments for one calendar day.
func (s *Service) DaySheet(ctx context.Context, actor Actor, day Date) ([]Appointment, error) {
	if actor.Role != RoleDoctor {
		return nil, ErrForbidden
	}
	appts, err := s.repo.ListDoctorAppointmentsOn(ctx, actor.ID, day)
	if err != nil {
		return nil, fmt.Errorf("list day sheet: %w", err)
	}
	return appts, nil
}

// Helpers

// checkWithinWindow verifies the start time falls inside some active
// window of the doctor on that date's weekday.
func (s *Service) checkWithinWindow(ctx context.Context, doctorID uuid.UUID, date Date, start TimeOfDay) error {
	windows, err := s.repo.ListActiveWindows(ctx, doctorID)
	if err != nil {
		return fmt.Errorf("list windows: %w", err)
	}

	day := date.Weekday()
	for i := range windows {
		if windows[i].Covers(day, start) {
			return nil
		}
	}
	return ErrOutsideWindow
}

// resolveMissedUpdate distinguishes "row gone" from "status changed under
// us" after a compare-and-set matched zero rows.
func (s *Service) resolveMissedUpdate(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.GetAppointmentByID(ctx, id); err != nil {
		if domainError(err) {
			return err
		}
		return fmt.Errorf("reload appointment: %w", err)
	}
	return ErrInvalidTransition
}

func ownershipCheck(actor Actor, appt *Appointment) error {
	switch actor.Role {
	case RolePatient:
		if appt.PatientID != actor.ID {
			return ErrForbidden
		}
	case RoleDoctor:
		if appt.DoctorID != actor.ID {
			return ErrForbidden
		}
	default:
		return ErrForbidden
	}
	return nil
}

func slotLockKey(doctorID uuid.UUID, date Date, start TimeOfDay) string {
	return fmt.Sprintf("%s:%s:%s", doctorID, date, start)
}

func (s *Service) logEvent(ctx context.Context, appointmentID *uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("insert event log", zap.String("event_type", eventType), zap.Error(err))
	}
}
