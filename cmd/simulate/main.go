package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/clinicbase/appointment-engine/internal/config"
	"github.com/clinicbase/appointment-engine/internal/db"
	"github.com/clinicbase/appointment-engine/internal/logging"
	redisclient "github.com/clinicbase/appointment-engine/internal/redis"
	"github.com/clinicbase/appointment-engine/internal/scheduling"
)

type SimConfig struct {
	Duration        time.Duration
	Workers         int
	BookRatio       float64
	RescheduleRatio float64
	CancelRatio     float64
	ReadRatio       float64
	StormWorkers    int
	HorizonDays     int
	DoctorLimit     int
	PatientLimit    int
	PostgresDSN     string
}

type simAppointment struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	PatientID uuid.UUID
}

type DataPool struct {
	Doctors  []uuid.UUID
	Patients []uuid.UUID

	mu           sync.RWMutex
	appointments []simAppointment
}

func (dp *DataPool) AddAppointment(a simAppointment) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, a)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (simAppointment, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return simAppointment{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]

	p50Idx := len(latencies) * 50 / 100
	if p50Idx >= len(latencies) {
		p50Idx = len(latencies) - 1
	}
	p50 = latencies[p50Idx]

	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]

	return avg, min, max, p50, p95
}

type Metrics struct {
	Book       OperationMetrics
	Reschedule OperationMetrics
	Cancel     OperationMetrics
	ListSlots  OperationMetrics
}

type Simulator struct {
	config  SimConfig
	data    *DataPool
	svc     *scheduling.Service
	metrics Metrics
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		panic("load config: " + err.Error())
	}

	logger := logging.New(baseCfg.Env)
	defer logger.Sync()

	cfg := loadSimConfig(baseCfg.PostgresDSN)
	if err := validateConfig(cfg); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	logger.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("book", cfg.BookRatio),
		zap.Float64("reschedule", cfg.RescheduleRatio),
		zap.Float64("cancel", cfg.CancelRatio),
		zap.Float64("read", cfg.ReadRatio),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	locker := redisclient.NewNopLocker()
	if baseCfg.RedisAddr != "" {
		client, err := redisclient.NewRedisClient(baseCfg.RedisAddr, baseCfg.RedisUsername, baseCfg.RedisPassword)
		if err != nil {
			logger.Fatal("connect redis", zap.Error(err))
		}
		defer client.Close()
		locker = redisclient.NewSlotLocker(client, baseCfg.LockTTL)
		logger.Info("slot locking enabled", zap.String("addr", baseCfg.RedisAddr))
	}

	data, err := loadDataPool(context.Background(), pgPool, cfg)
	if err != nil {
		logger.Fatal("load data pool (run cmd/seed first)", zap.Error(err))
	}
	logger.Info("data pool loaded",
		zap.Int("doctors", len(data.Doctors)),
		zap.Int("patients", len(data.Patients)),
	)

	repo := scheduling.NewPgRepository(pgPool)
	// The service logs every operation; under load that would drown the
	// report, so the simulator keeps the logger to itself.
	svc := scheduling.NewService(repo, locker, zap.NewNop())

	sim := &Simulator{
		config: cfg,
		data:   data,
		svc:    svc,
	}

	sim.RunClaimStorm(context.Background(), logger)
	sim.Run(logger)
	sim.PrintReport()

	dupes, err := auditDoubleBookings(context.Background(), pgPool)
	if err != nil {
		logger.Fatal("audit double bookings", zap.Error(err))
	}
	fmt.Printf("Double-booked slots after simulation: %d\n", dupes)
	if dupes > 0 {
		logger.Error("uniqueness invariant violated", zap.Int("slots", dupes))
		os.Exit(1)
	}
}

func loadSimConfig(dsn string) SimConfig {
	cfg := SimConfig{
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 10),
		BookRatio:       getFloat("SIM_BOOK_RATIO", 0.4),
		RescheduleRatio: getFloat("SIM_RESCHEDULE_RATIO", 0.15),
		CancelRatio:     getFloat("SIM_CANCEL_RATIO", 0.15),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.3),
		StormWorkers:    getInt("SIM_STORM_WORKERS", 50),
		HorizonDays:     getInt("SIM_HORIZON_DAYS", 7),
		DoctorLimit:     getInt("SIM_DOCTOR_LIMIT", 50),
		PatientLimit:    getInt("SIM_PATIENT_LIMIT", 2000),
		PostgresDSN:     dsn,
	}

	// Normalize ratios
	total := cfg.BookRatio + cfg.RescheduleRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookRatio /= total
		cfg.RescheduleRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.HorizonDays < 0 || cfg.HorizonDays > 30 {
		return fmt.Errorf("SIM_HORIZON_DAYS must be within 0..30")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	data := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM doctors LIMIT $1`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		data.Doctors = append(data.Doctors, id)
	}

	rows, err = pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		data.Patients = append(data.Patients, id)
	}

	if len(data.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded")
	}
	if len(data.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}

	return data, nil
}

// RunClaimStorm races StormWorkers goroutines for one open slot before the
// mixed load starts. Exactly one claim must win; everything else has to
// surface as a conflict.
func (s *Simulator) RunClaimStorm(ctx context.Context, logger *zap.Logger) {
	if s.config.StormWorkers <= 0 {
		return
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	today := scheduling.DateOf(time.Now())

	var slot scheduling.AvailableSlot
	found := false
	for attempt := 0; attempt < 10 && !found; attempt++ {
		doctorID := s.data.Doctors[rng.Intn(len(s.data.Doctors))]
		slots, err := s.svc.ListAvailableSlots(ctx, doctorID, today, today.AddDays(s.config.HorizonDays))
		if err != nil || len(slots) == 0 {
			continue
		}
		slot = slots[rng.Intn(len(slots))]
		found = true
	}
	if !found {
		logger.Warn("claim storm skipped, no open slot found")
		return
	}

	logger.Info("claim storm",
		zap.Int("workers", s.config.StormWorkers),
		zap.String("doctor_id", slot.DoctorID.String()),
		zap.String("date", slot.Date.String()),
		zap.String("start_time", slot.StartTime.String()),
	)

	var wins, conflicts, failures int64
	var wg sync.WaitGroup
	for i := 0; i < s.config.StormWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			patientID := s.data.Patients[workerID%len(s.data.Patients)]
			appt, err := s.svc.BookSlot(ctx, scheduling.BookingRequest{
				DoctorID:  slot.DoctorID,
				PatientID: patientID,
				Date:      slot.Date,
				StartTime: slot.StartTime,
			})
			switch {
			case err == nil:
				atomic.AddInt64(&wins, 1)
				s.data.AddAppointment(simAppointment{ID: appt.ID, DoctorID: appt.DoctorID, PatientID: appt.PatientID})
			case errors.Is(err, scheduling.ErrSlotTaken):
				atomic.AddInt64(&conflicts, 1)
			default:
				atomic.AddInt64(&failures, 1)
			}
		}(i)
	}
	wg.Wait()

	logger.Info("claim storm finished",
		zap.Int64("winners", wins),
		zap.Int64("conflicts", conflicts),
		zap.Int64("failures", failures),
	)
	if wins != 1 {
		logger.Error("claim storm expected exactly one winner", zap.Int64("winners", wins))
	}
}

func (s *Simulator) Run(logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	logger.Info("starting mixed load",
		zap.Duration("duration", s.config.Duration),
		zap.Int("workers", s.config.Workers),
	)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	logger.Info("mixed load complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookRatio:
				s.doBook(ctx, rng)
			case r < s.config.BookRatio+s.config.RescheduleRatio:
				s.doReschedule(ctx, rng)
			case r < s.config.BookRatio+s.config.RescheduleRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			default:
				s.doListSlots(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doBook(ctx context.Context, rng *rand.Rand) {
	doctorID := s.data.Doctors[rng.Intn(len(s.data.Doctors))]
	patientID := s.data.Patients[rng.Intn(len(s.data.Patients))]
	today := scheduling.DateOf(time.Now())

	slots, err := s.svc.ListAvailableSlots(ctx, doctorID, today, today.AddDays(s.config.HorizonDays))
	if err != nil || len(slots) == 0 {
		return
	}
	slot := slots[rng.Intn(len(slots))]

	start := time.Now()
	appt, err := s.svc.BookSlot(ctx, scheduling.BookingRequest{
		DoctorID:        doctorID,
		PatientID:       patientID,
		Date:            slot.Date,
		StartTime:       slot.StartTime,
		DurationMinutes: slot.DurationMinutes,
	})
	latency := time.Since(start)

	switch {
	case err == nil:
		s.data.AddAppointment(simAppointment{ID: appt.ID, DoctorID: appt.DoctorID, PatientID: appt.PatientID})
		s.metrics.Book.Record(latency, true, false)
	case errors.Is(err, scheduling.ErrSlotTaken):
		// Another worker grabbed the slot between listing and claiming.
		s.metrics.Book.Record(latency, false, true)
	default:
		s.metrics.Book.Record(latency, false, false)
	}
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.data.GetRandomAppointment(rng)
	if !ok {
		return
	}

	today := scheduling.DateOf(time.Now())
	slots, err := s.svc.ListAvailableSlots(ctx, appt.DoctorID, today, today.AddDays(s.config.HorizonDays))
	if err != nil || len(slots) == 0 {
		return
	}
	slot := slots[rng.Intn(len(slots))]

	actor := scheduling.Actor{ID: appt.PatientID, Role: scheduling.RolePatient}

	start := time.Now()
	_, err = s.svc.RescheduleAppointment(ctx, appt.ID, actor, scheduling.RescheduleRequest{
		NewDate:      &slot.Date,
		NewStartTime: &slot.StartTime,
	})
	latency := time.Since(start)

	switch {
	case err == nil:
		s.metrics.Reschedule.Record(latency, true, false)
	case errors.Is(err, scheduling.ErrSlotTaken), errors.Is(err, scheduling.ErrInvalidTransition):
		// Slot raced away, or the appointment was cancelled under us.
		s.metrics.Reschedule.Record(latency, false, true)
	default:
		s.metrics.Reschedule.Record(latency, false, false)
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.data.GetRandomAppointment(rng)
	if !ok {
		return
	}

	actor := scheduling.Actor{ID: appt.PatientID, Role: scheduling.RolePatient}

	start := time.Now()
	_, err := s.svc.CancelAppointment(ctx, appt.ID, actor)
	latency := time.Since(start)

	switch {
	case err == nil:
		// Includes repeat cancels; cancellation is idempotent.
		s.metrics.Cancel.Record(latency, true, false)
	case errors.Is(err, scheduling.ErrInvalidTransition):
		s.metrics.Cancel.Record(latency, false, true)
	default:
		s.metrics.Cancel.Record(latency, false, false)
	}
}

func (s *Simulator) doListSlots(ctx context.Context, rng *rand.Rand) {
	doctorID := s.data.Doctors[rng.Intn(len(s.data.Doctors))]
	today := scheduling.DateOf(time.Now())

	start := time.Now()
	_, err := s.svc.ListAvailableSlots(ctx, doctorID, today, today.AddDays(s.config.HorizonDays))
	latency := time.Since(start)

	s.metrics.ListSlots.Record(latency, err == nil, false)
}

// auditDoubleBookings counts slots holding more than one live appointment.
// The partial unique index should make the answer zero, always.
func auditDoubleBookings(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	row := pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM (
			SELECT doctor_id, appointment_date, start_time
			FROM appointments
			WHERE status <> 'cancelled'
			GROUP BY doctor_id, appointment_date, start_time
			HAVING COUNT(*) > 1
		) dup
	`)

	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Book", &s.metrics.Book)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("List slots", &s.metrics.ListSlots)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
