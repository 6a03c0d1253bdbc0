package scheduling

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemRepository is an in-memory Repository with the same atomicity
// guarantees as PgRepository: a single mutex spans every
// read-check-write, so a slot claim can never interleave with another.
// It backs the test suite and lets the engine run without Postgres.
type MemRepository struct {
	mu sync.Mutex

	doctors      map[uuid.UUID]Doctor
	patients     map[uuid.UUID]Patient
	windows      map[uuid.UUID]WorkingWindow
	appointments map[uuid.UUID]Appointment
	slots        map[memSlotKey]uuid.UUID // non-cancelled claims
	events       []EventLog

	now func() time.Time
}

type memSlotKey struct {
	doctor uuid.UUID
	date   Date
	start  TimeOfDay
}

func NewMemRepository() *MemRepository {
	return &MemRepository{
		doctors:      make(map[uuid.UUID]Doctor),
		patients:     make(map[uuid.UUID]Patient),
		windows:      make(map[uuid.UUID]WorkingWindow),
		appointments: make(map[uuid.UUID]Appointment),
		slots:        make(map[memSlotKey]uuid.UUID),
		now:          time.Now,
	}
}

// Directory

func (r *MemRepository) CreateDoctor(ctx context.Context, d *Doctor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d.ID = uuid.New()
	now := r.now()
	d.CreatedAt = now
	d.UpdatedAt = now

	r.doctors[d.ID] = *d
	return nil
}

func (r *MemRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (r *MemRepository) CreatePatient(ctx context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p.ID = uuid.New()
	now := r.now()
	p.CreatedAt = now
	p.UpdatedAt = now

	r.patients[p.ID] = *p
	return nil
}

func (r *MemRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

// Weekly availability

func (r *MemRepository) CreateWindow(ctx context.Context, w *WorkingWindow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := w.Validate(); err != nil {
		return err
	}
	for _, other := range r.windows {
		if other.DoctorID == w.DoctorID &&
			other.DayOfWeek == w.DayOfWeek &&
			other.StartTime == w.StartTime &&
			other.EndTime == w.EndTime {
			return ErrDuplicateWindow
		}
	}

	w.ID = uuid.New()
	now := r.now()
	w.CreatedAt = now
	w.UpdatedAt = now

	r.windows[w.ID] = *w
	return nil
}

func (r *MemRepository) GetWindowByID(ctx context.Context, id uuid.UUID) (*WorkingWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[id]
	if !ok {
		return nil, ErrWindowNotFound
	}
	return &w, nil
}

func (r *MemRepository) ListActiveWindows(ctx context.Context, doctorID uuid.UUID) ([]WorkingWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []WorkingWindow
	for _, w := range r.windows {
		if w.DoctorID == doctorID && w.Active {
			out = append(out, w)
		}
	}
	slices.SortFunc(out, func(a, b WorkingWindow) int {
		if a.DayOfWeek != b.DayOfWeek {
			return int(a.DayOfWeek - b.DayOfWeek)
		}
		return int(a.StartTime - b.StartTime)
	})
	return out, nil
}

func (r *MemRepository) UpdateWindow(ctx context.Context, id uuid.UUID, change WindowChange, today Date) (*WorkingWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[id]
	if !ok {
		return nil, ErrWindowNotFound
	}

	updated := w
	if change.StartTime != nil {
		updated.StartTime = *change.StartTime
	}
	if change.EndTime != nil {
		updated.EndTime = *change.EndTime
	}
	if change.SlotDurationMinutes != nil {
		updated.SlotDurationMinutes = *change.SlotDurationMinutes
	}
	if change.Active != nil {
		updated.Active = *change.Active
	}

	if err := updated.Validate(); err != nil {
		return nil, err
	}

	if updated.StartTime != w.StartTime || updated.EndTime != w.EndTime {
		for _, other := range r.windows {
			if other.ID != w.ID &&
				other.DoctorID == w.DoctorID &&
				other.DayOfWeek == updated.DayOfWeek &&
				other.StartTime == updated.StartTime &&
				other.EndTime == updated.EndTime {
				return nil, ErrDuplicateWindow
			}
		}
	}

	deactivating := w.Active && !updated.Active
	if deactivating || windowShrank(&w, updated.StartTime, updated.EndTime) {
		future := r.futureScheduledLocked(w.DoctorID, today)
		var conflicts []Appointment
		if deactivating {
			conflicts = orphanedByRemoval(&w, future)
		} else {
			conflicts = orphanedByShrink(&w, updated.StartTime, updated.EndTime, future)
		}
		if len(conflicts) > 0 {
			return nil, &OrphanedAppointmentsError{WindowID: w.ID, Appointments: conflicts}
		}
	}

	updated.UpdatedAt = r.now()
	r.windows[id] = updated
	return &updated, nil
}

func (r *MemRepository) RemoveWindow(ctx context.Context, id uuid.UUID, today Date) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[id]
	if !ok {
		return ErrWindowNotFound
	}

	conflicts := orphanedByRemoval(&w, r.futureScheduledLocked(w.DoctorID, today))
	if len(conflicts) > 0 {
		return &OrphanedAppointmentsError{WindowID: w.ID, Appointments: conflicts}
	}

	delete(r.windows, id)
	return nil
}

// futureScheduledLocked collects the doctor's scheduled appointments on or
// after today. Callers hold mu.
func (r *MemRepository) futureScheduledLocked(doctorID uuid.UUID, today Date) []Appointment {
	var out []Appointment
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && a.Status == StatusScheduled && !a.Date.Before(today) {
			out = append(out, a)
		}
	}
	return out
}

// Booking ledger

func (r *MemRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := memSlotKey{doctor: a.DoctorID, date: a.Date, start: a.StartTime}
	if _, taken := r.slots[key]; taken {
		return ErrSlotTaken
	}

	a.ID = uuid.New()
	a.Status = StatusScheduled
	if a.Reason != nil {
		reason := *a.Reason
		a.Reason = &reason
	}
	now := r.now()
	a.CreatedAt = now
	a.UpdatedAt = now

	r.appointments[a.ID] = *a
	r.slots[key] = a.ID
	return nil
}

func (r *MemRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemRepository) MoveAppointment(ctx context.Context, id uuid.UUID, date Date, start TimeOfDay, reason *string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok || a.Status != StatusScheduled {
		// Mirrors the SQL compare-and-set matching zero rows.
		return nil, ErrAppointmentNotFound
	}

	oldKey := memSlotKey{doctor: a.DoctorID, date: a.Date, start: a.StartTime}
	newKey := memSlotKey{doctor: a.DoctorID, date: date, start: start}
	if newKey != oldKey {
		if _, taken := r.slots[newKey]; taken {
			return nil, ErrSlotTaken
		}
		delete(r.slots, oldKey)
		r.slots[newKey] = id
	}

	a.Date = date
	a.StartTime = start
	if reason != nil {
		v := *reason
		a.Reason = &v
	}
	a.UpdatedAt = r.now()

	r.appointments[id] = a
	return &a, nil
}

func (r *MemRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}

	a.Status = to
	a.UpdatedAt = r.now()
	if to == StatusCancelled {
		delete(r.slots, memSlotKey{doctor: a.DoctorID, date: a.Date, start: a.StartTime})
	}

	r.appointments[id] = a
	return &a, nil
}

func (r *MemRepository) ListBookedSlots(ctx context.Context, doctorID uuid.UUID, from, to Date) (map[SlotKey]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[SlotKey]struct{})
	for key := range r.slots {
		if key.doctor == doctorID && !key.date.Before(from) && !key.date.After(to) {
			out[SlotKey{Date: key.date, Time: key.start}] = struct{}{}
		}
	}
	return out, nil
}

func (r *MemRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Appointment
	for _, a := range r.appointments {
		if a.DoctorID == doctorID {
			out = append(out, a)
		}
	}
	sortAppointments(out)
	return out, nil
}

func (r *MemRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	sortAppointments(out)
	return out, nil
}

func (r *MemRepository) ListDoctorAppointmentsOn(ctx context.Context, doctorID uuid.UUID, day Date) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Appointment
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && a.Date == day {
			out = append(out, a)
		}
	}
	sortAppointments(out)
	return out, nil
}

func sortAppointments(appts []Appointment) {
	slices.SortFunc(appts, func(a, b Appointment) int {
		switch {
		case a.Date.Before(b.Date):
			return -1
		case b.Date.Before(a.Date):
			return 1
		default:
			return int(a.StartTime - b.StartTime)
		}
	})
}

// Event logging

func (r *MemRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a snapshot of the event log in insertion order.
func (r *MemRepository) Events() []EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.events)
}
