package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/interval"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	ConfirmRatio float64
	CancelRatio  float64
	ReadRatio    float64
	Days         int // bookings target the next Days days
	SlotMinutes  int
	HotRatio     float64 // share of bookings aimed at one shared slot
}

type DataPool struct {
	Doctors      []string
	Patients     []string
	mu           sync.RWMutex
	appointments []string // Thread-safe list of created appointment IDs
}

func (dp *DataPool) AddAppointment(id string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (string, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return "", false
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
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking   OperationMetrics
	Confirm   OperationMetrics
	Cancel    OperationMetrics
	ReadByID  OperationMetrics
	ListByDoc OperationMetrics
	FindSlots OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	hotSlot time.Time
	log     zerolog.Logger
}

func main() {
	log := logging.New(getEnv("APP_ENV", "dev"), getEnv("LOG_LEVEL", "info"))
	log.Info().Msg("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("confirm", cfg.ConfirmRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("read", cfg.ReadRatio).
		Msg("config")

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pool, err := sim.loadDataPool(ctx)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}
	sim.pool = pool
	sim.hotSlot = nextWeekday(time.Now().UTC(), time.Tuesday).Add(10 * time.Hour)

	log.Info().Int("doctors", len(pool.Doctors)).Int("patients", len(pool.Patients)).Msg("loaded registry")

	sim.Run()
	sim.PrintReport()

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	overlaps, err := sim.checkNoDoubleBooking(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("verify bookings")
	}
	if overlaps > 0 {
		log.Fatal().Int("overlaps", overlaps).Msg("double bookings detected")
	}
	log.Info().Msg("no double bookings")
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.45),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.15),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		Days:         getInt("SIM_DAYS", 10),
		SlotMinutes:  getInt("SIM_SLOT_MINUTES", 30),
		HotRatio:     getFloat("SIM_HOT_RATIO", 0.1),
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.ConfirmRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ConfirmRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Days <= 0 || cfg.SlotMinutes <= 0 {
		return fmt.Errorf("SIM_DAYS and SIM_SLOT_MINUTES must be > 0")
	}
	return nil
}

func (s *Simulator) loadDataPool(ctx context.Context) (*DataPool, error) {
	var people []struct {
		ID string `json:"id"`
	}
	dataPool := &DataPool{}

	if err := s.getJSON(ctx, "/doctors", &people); err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	for _, p := range people {
		dataPool.Doctors = append(dataPool.Doctors, p.ID)
	}

	people = nil
	if err := s.getJSON(ctx, "/patients", &people); err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for _, p := range people {
		dataPool.Patients = append(dataPool.Patients, p.ID)
	}

	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded")
	}
	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
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
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.ConfirmRatio:
				s.doTransition(ctx, rng, "confirm", &s.metrics.Confirm)
			case r < s.config.BookingRatio+s.config.ConfirmRatio+s.config.CancelRatio:
				s.doTransition(ctx, rng, "cancel", &s.metrics.Cancel)
			default:
				switch rng.Intn(3) {
				case 0:
					s.doReadByID(ctx, rng)
				case 1:
					s.doListByDoctor(ctx, rng)
				case 2:
					s.doFindSlots(ctx, rng)
				}
			}
		}
	}
}

// randomStart picks a grid-aligned start inside clinic hours over the next few days.
func (s *Simulator) randomStart(rng *rand.Rand) time.Time {
	day := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, 1+rng.Intn(s.config.Days))
	slotsPerDay := (10 * 60) / s.config.SlotMinutes
	return day.Add(8*time.Hour + time.Duration(rng.Intn(slotsPerDay)*s.config.SlotMinutes)*time.Minute)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	start := s.randomStart(rng)
	if rng.Float64() < s.config.HotRatio {
		doctorID, start = s.pool.Doctors[0], s.hotSlot
	}

	body := map[string]any{
		"patient_id":       s.pool.Patients[rng.Intn(len(s.pool.Patients))],
		"doctor_id":        doctorID,
		"start":            start,
		"duration_minutes": s.config.SlotMinutes,
	}

	began := time.Now()
	status, raw, err := s.send(ctx, http.MethodPost, "/appointments", body)
	latency := time.Since(began)

	success := err == nil && status == http.StatusCreated
	conflict := err == nil && status == http.StatusConflict
	if success {
		var resp struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(raw, &resp) == nil && resp.ID != "" {
			s.pool.AddAppointment(resp.ID)
		}
	}
	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doTransition(ctx context.Context, rng *rand.Rand, action string, om *OperationMetrics) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	began := time.Now()
	status, _, err := s.send(ctx, http.MethodPost, "/appointments/"+url.PathEscape(apptID)+"/"+action, nil)
	om.Record(time.Since(began), err == nil && status == http.StatusOK, err == nil && status == http.StatusConflict)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	began := time.Now()
	status, _, err := s.send(ctx, http.MethodGet, "/appointments/"+url.PathEscape(apptID), nil)
	s.metrics.ReadByID.Record(time.Since(began), err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doListByDoctor(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	began := time.Now()
	status, _, err := s.send(ctx, http.MethodGet, "/appointments?doctor_id="+url.QueryEscape(doctorID), nil)
	s.metrics.ListByDoc.Record(time.Since(began), err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doFindSlots(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	path := fmt.Sprintf("/doctors/%s/slots?duration_minutes=%d&limit=5", url.PathEscape(doctorID), s.config.SlotMinutes)
	began := time.Now()
	status, _, err := s.send(ctx, http.MethodGet, path, nil)
	s.metrics.FindSlots.Record(time.Since(began), err == nil && status == http.StatusOK, false)
}

// checkNoDoubleBooking lists every active appointment and counts overlapping pairs per doctor.
func (s *Simulator) checkNoDoubleBooking(ctx context.Context) (int, error) {
	var resp struct {
		Appointments []struct {
			ID       string    `json:"id"`
			DoctorID string    `json:"doctor_id"`
			Start    time.Time `json:"start"`
			End      time.Time `json:"end"`
		} `json:"appointments"`
	}
	if err := s.getJSON(ctx, "/appointments?status=scheduled,confirmed,completed", &resp); err != nil {
		return 0, err
	}

	byDoctor := make(map[string][]interval.Interval)
	for _, a := range resp.Appointments {
		byDoctor[a.DoctorID] = append(byDoctor[a.DoctorID], interval.Interval{Start: a.Start, End: a.End})
	}

	overlaps := 0
	for doctorID, ivs := range byDoctor {
		sort.Slice(ivs, func(i, j int) bool { return ivs[i].Start.Before(ivs[j].Start) })
		for i := 1; i < len(ivs); i++ {
			if interval.Overlaps(ivs[i-1], ivs[i]) {
				overlaps++
				s.log.Error().Str("doctor_id", doctorID).Stringer("a", ivs[i-1]).Stringer("b", ivs[i]).Msg("overlap")
			}
		}
	}
	s.log.Info().Int("active", len(resp.Appointments)).Int("doctors", len(byDoctor)).Msg("verified bookings")
	return overlaps, nil
}

func (s *Simulator) send(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, rd)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	return resp.StatusCode, raw, err
}

func (s *Simulator) getJSON(ctx context.Context, path string, v any) error {
	status, raw, err := s.send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("GET %s: HTTP %d: %s", path, status, bytes.TrimSpace(raw))
	}
	return json.Unmarshal(raw, v)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Doctor", &s.metrics.ListByDoc)
	printOperationReport("Find Slots", &s.metrics.FindSlots)
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

func nextWeekday(from time.Time, wd time.Weekday) time.Time {
	day := from.Truncate(24 * time.Hour).AddDate(0, 0, 1)
	for day.Weekday() != wd {
		day = day.AddDate(0, 0, 1)
	}
	return day
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

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
