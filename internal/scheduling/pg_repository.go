package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Constraint names from the migrations. Postgres reports 23505 with the
// violated constraint, which is how storage conflicts become typed errors.
const (
	constraintActiveSlot  = "appointments_active_slot_idx"
	constraintWindowTuple = "working_windows_tuple_key"
)

const uniqueViolationCode = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const microsPerMinute = int64(time.Minute / time.Microsecond)

func encodeTimeOfDay(t TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * microsPerMinute, Valid: true}
}

func decodeTimeOfDay(t pgtype.Time) TimeOfDay {
	return TimeOfDay(t.Microseconds / microsPerMinute)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode && pgErr.ConstraintName == constraint
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Specialty,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanWindow(row pgx.Row) (*WorkingWindow, error) {
	var w WorkingWindow
	var day int16
	var start, end pgtype.Time

	err := row.Scan(
		&w.ID,
		&w.DoctorID,
		&day,
		&start,
		&end,
		&w.SlotDurationMinutes,
		&w.Active,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWindowNotFound
		}
		return nil, err
	}

	w.DayOfWeek = Weekday(day)
	w.StartTime = decodeTimeOfDay(start)
	w.EndTime = decodeTimeOfDay(end)
	return &w, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date time.Time
	var start pgtype.Time

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&date,
		&start,
		&a.DurationMinutes,
		&a.Reason,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = DateOf(date)
	a.StartTime = decodeTimeOfDay(start)
	return &a, nil
}

// Directory

func (r *PgRepository) CreateDoctor(ctx context.Context, d *Doctor) error {
	d.ID = uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO doctors (id, name, specialty, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING created_at, updated_at
	`, d.ID, d.Name, d.Specialty)

	if err := row.Scan(&d.CreatedAt, &d.UpdatedAt); err != nil {
		return fmt.Errorf("create doctor: %w", err)
	}
	return nil
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) CreatePatient(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO patients (id, name, email, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING created_at, updated_at
	`, p.ID, p.Name, p.Email)

	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return fmt.Errorf("create patient: %w", err)
	}
	return nil
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

// Weekly availability

func (r *PgRepository) CreateWindow(ctx context.Context, w *WorkingWindow) error {
	w.ID = uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO working_windows (id, doctor_id, day_of_week, start_time, end_time, slot_duration_minutes, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING created_at, updated_at
	`, w.ID, w.DoctorID, int16(w.DayOfWeek), encodeTimeOfDay(w.StartTime), encodeTimeOfDay(w.EndTime), w.SlotDurationMinutes, w.Active)

	if err := row.Scan(&w.CreatedAt, &w.UpdatedAt); err != nil {
		if isUniqueViolation(err, constraintWindowTuple) {
			return ErrDuplicateWindow
		}
		return fmt.Errorf("create window: %w", err)
	}
	return nil
}

func (r *PgRepository) GetWindowByID(ctx context.Context, id uuid.UUID) (*WorkingWindow, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, doctor_id, day_of_week, start_time, end_time, slot_duration_minutes, active, created_at, updated_at
		FROM working_windows
		WHERE id = $1
	`, id)
	return scanWindow(row)
}

func (r *PgRepository) ListActiveWindows(ctx context.Context, doctorID uuid.UUID) ([]WorkingWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, day_of_week, start_time, end_time, slot_duration_minutes, active, created_at, updated_at
		FROM working_windows
		WHERE doctor_id = $1
		  AND active
		ORDER BY day_of_week, start_time
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []WorkingWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *w)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// UpdateWindow merges the change into the current row under FOR UPDATE,
// validates the result, runs the orphan guard, and writes, all in one
// transaction.
func (r *PgRepository) UpdateWindow(ctx context.Context, id uuid.UUID, change WindowChange, today Date) (*WorkingWindow, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin window update: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT id, doctor_id, day_of_week, start_time, end_time, slot_duration_minutes, active, created_at, updated_at
		FROM working_windows
		WHERE id = $1
		FOR UPDATE
	`, id)
	w, err := scanWindow(row)
	if err != nil {
		return nil, err
	}

	updated := *w
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

	deactivating := w.Active && !updated.Active
	if deactivating || windowShrank(w, updated.StartTime, updated.EndTime) {
		future, err := futureScheduled(ctx, tx, w.DoctorID, today)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled appointments: %w", err)
		}
		var conflicts []Appointment
		if deactivating {
			conflicts = orphanedByRemoval(w, future)
		} else {
			conflicts = orphanedByShrink(w, updated.StartTime, updated.EndTime, future)
		}
		if len(conflicts) > 0 {
			return nil, &OrphanedAppointmentsError{WindowID: w.ID, Appointments: conflicts}
		}
	}

	row = tx.QueryRow(ctx, `
		UPDATE working_windows
		SET start_time = $2,
		    end_time = $3,
		    slot_duration_minutes = $4,
		    active = $5,
		    updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, w.ID, encodeTimeOfDay(updated.StartTime), encodeTimeOfDay(updated.EndTime), updated.SlotDurationMinutes, updated.Active)
	if err := row.Scan(&updated.UpdatedAt); err != nil {
		if isUniqueViolation(err, constraintWindowTuple) {
			return nil, ErrDuplicateWindow
		}
		return nil, fmt.Errorf("update window: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit window update: %w", err)
	}

	return &updated, nil
}

func (r *PgRepository) RemoveWindow(ctx context.Context, id uuid.UUID, today Date) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin window removal: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT id, doctor_id, day_of_week, start_time, end_time, slot_duration_minutes, active, created_at, updated_at
		FROM working_windows
		WHERE id = $1
		FOR UPDATE
	`, id)
	w, err := scanWindow(row)
	if err != nil {
		return err
	}

	future, err := futureScheduled(ctx, tx, w.DoctorID, today)
	if err != nil {
		return fmt.Errorf("scan scheduled appointments: %w", err)
	}
	if conflicts := orphanedByRemoval(w, future); len(conflicts) > 0 {
		return &OrphanedAppointmentsError{WindowID: w.ID, Appointments: conflicts}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM working_windows WHERE id = $1`, w.ID); err != nil {
		return fmt.Errorf("delete window: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit window removal: %w", err)
	}

	return nil
}

// futureScheduled loads the doctor's scheduled appointments on or after
// today, inside the caller's transaction. The guard narrows them by
// weekday and time.
func futureScheduled(ctx context.Context, tx pgx.Tx, doctorID uuid.UUID, today Date) ([]Appointment, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, doctor_id, patient_id, appointment_date, start_time, duration_minutes, reason, status, created_at, updated_at
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date >= $2
		  AND status = 'scheduled'
	`, doctorID, today.Time())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Booking ledger

// CreateAppointment claims the slot. The partial unique index over
// non-cancelled rows is the arbiter: of two racing inserts exactly one
// commits and the other surfaces as ErrSlotTaken.
func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, appointment_date, start_time, duration_minutes, reason, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'scheduled', now(), now())
		RETURNING status, created_at, updated_at
	`, a.ID, a.DoctorID, a.PatientID, a.Date.Time(), encodeTimeOfDay(a.StartTime), a.DurationMinutes, a.Reason)

	if err := row.Scan(&a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if isUniqueViolation(err, constraintActiveSlot) {
			return ErrSlotTaken
		}
		return fmt.Errorf("create appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, doctor_id, patient_id, appointment_date, start_time, duration_minutes, reason, status, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) MoveAppointment(ctx context.Context, id uuid.UUID, date Date, start TimeOfDay, reason *string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET appointment_date = $2,
		    start_time = $3,
		    reason = COALESCE($4, reason),
		    updated_at = now()
		WHERE id = $1
		  AND status = 'scheduled'
		RETURNING id, doctor_id, patient_id, appointment_date, start_time, duration_minutes, reason, status, created_at, updated_at
	`, id, date.Time(), encodeTimeOfDay(start), reason)

	a, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err, constraintActiveSlot) {
			return nil, ErrSlotTaken
		}
		return nil, err
	}
	return a, nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING id, doctor_id, patient_id, appointment_date, start_time, duration_minutes, reason, status, created_at, updated_at
	`, id, to, from)

	a, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err, constraintActiveSlot) {
			return nil, ErrSlotTaken
		}
		return nil, err
	}
	return a, nil
}

func (r *PgRepository) ListBookedSlots(ctx context.Context, doctorID uuid.UUID, from, to Date) (map[SlotKey]struct{}, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT appointment_date, start_time
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date BETWEEN $2 AND $3
		  AND status <> 'cancelled'
	`, doctorID, from.Time(), to.Time())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[SlotKey]struct{})
	for rows.Next() {
		var date time.Time
		var start pgtype.Time
		if err := rows.Scan(&date, &start); err != nil {
			return nil, err
		}
		out[SlotKey{Date: DateOf(date), Time: decodeTimeOfDay(start)}] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func (r *PgRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Appointment, error) {
	return r.listAppointments(ctx, `
		SELECT id, doctor_id, patient_id, appointment_date, start_time, duration_minutes, reason, status, created_at, updated_at
		FROM appointments
		WHERE doctor_id = $1
		ORDER BY appointment_date, start_time
	`, doctorID)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	return r.listAppointments(ctx, `
		SELECT id, doctor_id, patient_id, appointment_date, start_time, duration_minutes, reason, status, created_at, updated_at
		FROM appointments
		WHERE patient_id = $1
		ORDER BY appointment_date, start_time
	`, patientID)
}

func (r *PgRepository) ListDoctorAppointmentsOn(ctx context.Context, doctorID uuid.UUID, day Date) ([]Appointment, error) {
	return r.listAppointments(ctx, `
		SELECT id, doctor_id, patient_id, appointment_date, start_time, duration_minutes, reason, status, created_at, updated_at
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2
		ORDER BY start_time
	`, doctorID, day.Time())
}

func (r *PgRepository) listAppointments(ctx context.Context, query string, args ...any) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Event logging

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
