package main

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/clinicbase/appointment-engine/internal/config"
	"github.com/clinicbase/appointment-engine/internal/db"
	"github.com/clinicbase/appointment-engine/internal/logging"
	redisclient "github.com/clinicbase/appointment-engine/internal/redis"
	"github.com/clinicbase/appointment-engine/internal/scheduling"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("load config: " + err.Error())
	}

	logger := logging.New(cfg.Env)
	defer logger.Sync()

	logger.Info("seed starting")

	ctx := context.Background()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool); err != nil {
		logger.Fatal("run migrations", zap.Error(err))
	}

	gofakeit.Seed(time.Now().UnixNano())

	doctorCount := getInt("SEED_DOCTORS", 50)
	patientCount := getInt("SEED_PATIENTS", 2000)
	bookingCount := getInt("SEED_BOOKINGS", 1000)

	doctors, err := seedDoctors(ctx, pool, doctorCount, logger)
	if err != nil {
		logger.Fatal("seed doctors", zap.Error(err))
	}
	if err := seedPatients(ctx, pool, patientCount, logger); err != nil {
		logger.Fatal("seed patients", zap.Error(err))
	}

	repo := scheduling.NewPgRepository(pool)
	// The service logs every booking; seed keeps its output to summaries.
	svc := scheduling.NewService(repo, redisclient.NewNopLocker(), zap.NewNop())

	if err := seedWindows(ctx, svc, doctors, logger); err != nil {
		logger.Fatal("seed windows", zap.Error(err))
	}

	patients, err := loadPatientIDs(ctx, pool)
	if err != nil {
		logger.Fatal("load patient ids", zap.Error(err))
	}
	if err := seedBookings(ctx, svc, doctors, patients, bookingCount, logger); err != nil {
		logger.Fatal("seed bookings", zap.Error(err))
	}

	logger.Info("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int, logger *zap.Logger) ([]uuid.UUID, error) {
	logger.Info("seeding doctors", zap.Int("count", count))

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + gofakeit.Name()
		specialty := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, specialty)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	logger.Info("doctors seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int, logger *zap.Logger) error {
	logger.Info("seeding patients", zap.Int("count", count))

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, name, email)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		logger.Info("patients seeded", zap.Int("done", end), zap.Int("total", count))
	}

	return nil
}

// seedWindows gives every doctor a handful of weekday windows through the
// service, so duplicate tuples and bad bounds are rejected the same way
// they would be in production.
func seedWindows(ctx context.Context, svc *scheduling.Service, doctors []uuid.UUID, logger *zap.Logger) error {
	logger.Info("seeding working windows", zap.Int("doctors", len(doctors)))

	starts := []scheduling.TimeOfDay{
		scheduling.NewTimeOfDay(8, 0),
		scheduling.NewTimeOfDay(9, 0),
		scheduling.NewTimeOfDay(10, 0),
		scheduling.NewTimeOfDay(14, 0),
	}
	lengths := []int{120, 180, 240, 480} // minutes
	durations := []int{15, 20, 30, 60}

	created := 0
	for _, doctorID := range doctors {
		windows := gofakeit.Number(2, 4)
		for i := 0; i < windows; i++ {
			day := scheduling.Weekday(gofakeit.Number(0, 4)) // Monday..Friday
			start := starts[gofakeit.Number(0, len(starts)-1)]
			end := start.Add(lengths[gofakeit.Number(0, len(lengths)-1)])
			if end > scheduling.NewTimeOfDay(20, 0) {
				end = scheduling.NewTimeOfDay(20, 0)
			}

			_, err := svc.DefineWindow(ctx, scheduling.WindowRequest{
				DoctorID:            doctorID,
				DayOfWeek:           day,
				StartTime:           start,
				EndTime:             end,
				SlotDurationMinutes: durations[gofakeit.Number(0, len(durations)-1)],
			})
			if err != nil {
				if errors.Is(err, scheduling.ErrDuplicateWindow) {
					continue
				}
				return err
			}
			created++
		}
	}

	logger.Info("working windows seeded", zap.Int("created", created))
	return nil
}

// seedBookings books random open slots through the service. Conflicts are
// expected when two picks collide and simply retried with another slot.
func seedBookings(ctx context.Context, svc *scheduling.Service, doctors, patients []uuid.UUID, count int, logger *zap.Logger) error {
	logger.Info("seeding bookings", zap.Int("count", count))

	today := scheduling.DateOf(time.Now())
	horizon := today.AddDays(13)

	booked := 0
	attempts := 0
	maxAttempts := count * 10

	for booked < count && attempts < maxAttempts {
		attempts++

		doctorID := doctors[gofakeit.Number(0, len(doctors)-1)]
		patientID := patients[gofakeit.Number(0, len(patients)-1)]

		slots, err := svc.ListAvailableSlots(ctx, doctorID, today, horizon)
		if err != nil {
			return err
		}
		if len(slots) == 0 {
			continue
		}
		slot := slots[gofakeit.Number(0, len(slots)-1)]

		reason := gofakeit.Sentence(6)
		_, err = svc.BookSlot(ctx, scheduling.BookingRequest{
			DoctorID:        doctorID,
			PatientID:       patientID,
			Date:            slot.Date,
			StartTime:       slot.StartTime,
			DurationMinutes: slot.DurationMinutes,
			Reason:          &reason,
		})
		if err != nil {
			if errors.Is(err, scheduling.ErrSlotTaken) {
				continue
			}
			return err
		}
		booked++

		if booked%200 == 0 {
			logger.Info("bookings seeded", zap.Int("done", booked), zap.Int("total", count))
		}
	}

	logger.Info("bookings seeded", zap.Int("created", booked), zap.Int("attempts", attempts))
	return nil
}

func loadPatientIDs(ctx context.Context, pool *pgxpool.Pool) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, `SELECT id FROM patients`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
