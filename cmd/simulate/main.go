// Booking load simulator. Hammers the API with concurrent book, cancel and
// read traffic against seeded patients and slots, then reports success,
// conflict and latency stats. Conflicts are expected under contention; any
// double-booked slot is a bug.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinickit/clinic-scheduling/internal/config"
	"github.com/clinickit/clinic-scheduling/internal/db"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	CancelRatio  float64
	PatientLimit int
	SlotLimit    int
}

type DataPool struct {
	Patients []int64
	Slots    []int64

	mu           sync.RWMutex
	appointments []int64
}

func (dp *DataPool) AddAppointment(id int64) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) TakeRandomAppointment() (int64, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return 0, false
	}
	idx := rand.Intn(len(dp.appointments))
	id := dp.appointments[idx]
	dp.appointments = append(dp.appointments[:idx], dp.appointments[idx+1:]...)
	return id, true
}

type OperationMetrics struct {
	Total    int64
	Success  int64
	Conflict int64
	Error    int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict || status == http.StatusServiceUnavailable:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.latencies))
	copy(latencies, om.latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	return avg, p50, p95
}

func main() {
	sim := SimConfig{
		APIBaseURL:   envOr("SIM_API_URL", "http://127.0.0.1:8080"),
		Duration:     30 * time.Second,
		Workers:      20,
		CancelRatio:  0.2,
		PatientLimit: 200,
		SlotLimit:    500,
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres connection error: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	data := &DataPool{}
	if data.Patients, err = loadIDs(pool, "patients", sim.PatientLimit); err != nil {
		fmt.Fprintf(os.Stderr, "load patients: %v\n", err)
		os.Exit(1)
	}
	if data.Slots, err = loadAvailableSlots(pool, sim.SlotLimit); err != nil {
		fmt.Fprintf(os.Stderr, "load slots: %v\n", err)
		os.Exit(1)
	}
	if len(data.Patients) == 0 || len(data.Slots) == 0 {
		fmt.Fprintln(os.Stderr, "no seeded patients or available slots, run cmd/seed first")
		os.Exit(1)
	}

	fmt.Printf("simulating: workers=%d duration=%s patients=%d slots=%d\n",
		sim.Workers, sim.Duration, len(data.Patients), len(data.Slots))

	bookMetrics := &OperationMetrics{}
	cancelMetrics := &OperationMetrics{}

	runCtx, stop := context.WithTimeout(context.Background(), sim.Duration)
	defer stop()

	client := &http.Client{Timeout: 10 * time.Second}
	var wg sync.WaitGroup
	for i := 0; i < sim.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(runCtx, client, sim, data, bookMetrics, cancelMetrics)
		}()
	}
	wg.Wait()

	report("book", bookMetrics)
	report("cancel", cancelMetrics)
}

func worker(ctx context.Context, client *http.Client, sim SimConfig, data *DataPool, book, cancelM *OperationMetrics) {
	for ctx.Err() == nil {
		if rand.Float64() < sim.CancelRatio {
			if id, ok := data.TakeRandomAppointment(); ok {
				doCancel(ctx, client, sim.APIBaseURL, id, cancelM)
				continue
			}
		}
		doBook(ctx, client, sim.APIBaseURL, data, book)
	}
}

func doBook(ctx context.Context, client *http.Client, baseURL string, data *DataPool, m *OperationMetrics) {
	patient := data.Patients[rand.Intn(len(data.Patients))]
	slot := data.Slots[rand.Intn(len(data.Slots))]

	body, _ := json.Marshal(map[string]int64{"patient_id": patient, "slot_id": slot})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/appointments", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	m.Record(time.Since(start), resp.StatusCode)

	if resp.StatusCode == http.StatusCreated {
		var created struct {
			ID int64 `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&created); err == nil {
			data.AddAppointment(created.ID)
		}
	} else {
		io.Copy(io.Discard, resp.Body)
	}
}

func doCancel(ctx context.Context, client *http.Client, baseURL string, appointmentID int64, m *OperationMetrics) {
	body, _ := json.Marshal(map[string]any{"reason": "simulated cancellation"})
	url := fmt.Sprintf("%s/appointments/%d/cancel", baseURL, appointmentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	m.Record(time.Since(start), resp.StatusCode)
}

func report(name string, m *OperationMetrics) {
	avg, p50, p95 := m.Stats()
	fmt.Printf("%-7s total=%d success=%d conflict=%d error=%d avg=%s p50=%s p95=%s\n",
		name, m.Total, m.Success, m.Conflict, m.Error, avg, p50, p95)
}

func loadIDs(pool *pgxpool.Pool, table string, limit int) ([]int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows, err := pool.Query(ctx, fmt.Sprintf("SELECT id FROM %s ORDER BY id LIMIT $1", table), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func loadAvailableSlots(pool *pgxpool.Pool, limit int) ([]int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows, err := pool.Query(ctx, `
		SELECT id FROM appointment_slots
		WHERE is_available
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
