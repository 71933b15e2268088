// README: Bench cases for the ambulance API; env, migration, booking, payment race and throughput checks.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"ambulance/internal/http/middleware"
	"ambulance/internal/infra"
)

const (
	StatusPass    = "PASS"
	StatusFail    = "FAIL"
	StatusPending = "PENDING"
	StatusSkip    = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	run      string
	admin    string
	patient  string
	bookings map[string]string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name  string
	Focus string
	Run   func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) (*Runner, error) {
	r := &Runner{
		cfg:      cfg,
		httpc:    &http.Client{Timeout: 10 * time.Second},
		run:      uuid.NewString()[:8],
		bookings: map[string]string{},
	}
	if cfg.JWTSecret == "" {
		return r, nil
	}
	signer, err := infra.NewJWTVerifier(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	if r.admin, err = signer.Issue("bench-admin-"+r.run, middleware.RoleAdmin, time.Hour); err != nil {
		return nil, err
	}
	if r.patient, err = signer.Issue("bench-patient-"+r.run, middleware.RolePatient, time.Hour); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{
			Name:  "Env: Postgres connect",
			Focus: "DB reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.cfg.DSN == "" {
					return Result{Status: StatusSkip, Note: "dsn not configured"}
				}
				if r.db == nil {
					return Result{Status: StatusFail, Note: "invalid dsn"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name:  "Env: Redis connect",
			Focus: "Redis reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: StatusSkip, Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name:  "Migration: apply (optional)",
			Focus: "apply migration SQL",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: StatusSkip, Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: StatusFail, Note: "db not configured"}
				}
				sql, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				for _, s := range splitSQL(string(sql)) {
					if _, err := r.db.Exec(ctx, s); err != nil {
						return Result{Status: StatusFail, Note: err.Error()}
					}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name:  "Migration: tables exist",
			Focus: "tables from the migration file are present",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: StatusSkip, Note: "db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: StatusFail, Note: err.Error()}
					}
					if !exists {
						return Result{Status: StatusFail, Note: "missing table: " + t}
					}
				}
				return Result{Status: StatusPass, Note: fmt.Sprintf("tables=%d", len(tables))}
			},
		},

		httpCase("API: health", http.MethodGet, "/health", "", nil, []int{200}),
		httpCase("Auth: missing token -> 401", http.MethodGet, "/api/bookings/none", "", nil, []int{401}),

		{
			Name:  "Pricing: scheduled quote",
			Focus: "quote for 3.2 km",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.patient == "" {
					return Result{Status: StatusSkip, Note: "jwt secret not configured"}
				}
				res, out := r.call(ctx, http.MethodGet, "/api/pricing/quote?distance_km=3.2&type=scheduled", r.patient, nil)
				if res.Status != StatusPass {
					return res
				}
				res.Note = fmt.Sprintf("total=%v downpayment=%v", out["total_amount"], out["downpayment_amount"])
				return res
			},
		},

		authedCase("Booking: create emergency", func(ctx context.Context, r *Runner) Result {
			res, out := r.call(ctx, http.MethodPost, "/api/bookings", r.patient, emergencyBody(), 201)
			if id, ok := out["id"].(string); ok {
				r.bookings["emergency"] = id
			}
			return res
		}),
		authedCase("Booking: missing type -> 400", func(ctx context.Context, r *Runner) Result {
			res, _ := r.call(ctx, http.MethodPost, "/api/bookings", r.patient, map[string]any{
				"patient": map[string]any{"name": "Bench"},
			}, 400)
			return res
		}),
		authedCase("Booking: get + history", func(ctx context.Context, r *Runner) Result {
			id := r.bookings["emergency"]
			if id == "" {
				return Result{Status: StatusSkip, Note: "no booking created"}
			}
			if res, _ := r.call(ctx, http.MethodGet, "/api/bookings/"+id, r.patient, nil, 200); res.Status != StatusPass {
				return res
			}
			res, _ := r.call(ctx, http.MethodGet, "/api/bookings/"+id+"/history", r.patient, nil, 200)
			return res
		}),
		authedCase("Booking: unknown id -> 404", func(ctx context.Context, r *Runner) Result {
			res, _ := r.call(ctx, http.MethodGet, "/api/bookings/missing-"+r.run, r.admin, nil, 404)
			return res
		}),

		// Concurrency
		{
			Name:  "Concurrency: one driver, many bookings",
			Focus: "a pair is held by at most one booking",
			Run:   concurrentAssign,
		},
		{
			Name:  "Concurrency: duplicate downpayment",
			Focus: "one live downpayment per booking",
			Run:   concurrentDownpayment,
		},

		{
			Name:  "Callback: missing token -> 401",
			Focus: "gateway callback guard",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.cfg.CallbackToken == "" {
					return Result{Status: StatusSkip, Note: "callback token not configured"}
				}
				res, _ := r.call(ctx, http.MethodPost, "/api/payments/callback", "", map[string]any{
					"transaction_id": "bench", "status": "paid",
				}, 401)
				return res
			},
		},

		// Performance
		authedCase("Perf: quote throughput", func(ctx context.Context, r *Runner) Result {
			return perfLoad(ctx, r, "/api/pricing/quote?distance_km=7.5", r.patient)
		}),
	}
}

func authedCase(name string, run func(ctx context.Context, r *Runner) Result) TestCase {
	return TestCase{
		Name:  name,
		Focus: "HTTP API",
		Run: func(ctx context.Context, r *Runner) Result {
			if r.admin == "" {
				return Result{Status: StatusSkip, Note: "jwt secret not configured"}
			}
			return run(ctx, r)
		},
	}
}

func httpCase(name, method, path, token string, body any, okStatuses []int) TestCase {
	return TestCase{
		Name:  name,
		Focus: "HTTP API",
		Run: func(ctx context.Context, r *Runner) Result {
			res, _ := r.call(ctx, method, path, token, body, okStatuses...)
			return res
		},
	}
}

// call sends one request and decodes a JSON object body when there is one.
// With no okStatuses any 2xx passes.
func (r *Runner) call(ctx context.Context, method, path, token string, body any, okStatuses ...int) (Result, map[string]any) {
	status, raw, latency, err := r.send(ctx, method, path, token, body)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}, nil
	}
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	note := fmt.Sprintf("status=%d", status)
	ok := status >= 200 && status < 300
	if len(okStatuses) > 0 {
		ok = contains(okStatuses, status)
	}
	switch {
	case ok:
		return Result{Status: StatusPass, Latency: latency, Note: note}, out
	case status == http.StatusNotImplemented:
		return Result{Status: StatusPending, Latency: latency, Note: note}, out
	default:
		if msg, _ := out["error"].(string); msg != "" {
			note += " " + msg
		}
		return Result{Status: StatusFail, Latency: latency, Note: note}, out
	}
}

func (r *Runner) send(ctx context.Context, method, path, token string, body any) (int, []byte, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	return resp.StatusCode, raw, time.Since(start), err
}

func emergencyBody() map[string]any {
	return map[string]any{
		"type":        "emergency",
		"priority":    "urgent",
		"patient":     map[string]any{"name": "Bench Patient", "age": 40},
		"pickup":      map[string]any{"address": "Jl. Asia Afrika 8"},
		"destination": map[string]any{"address": "RS Hasan Sadikin"},
		"contact":     map[string]any{"phone": "081200000000"},
		"distance_km": 5.1,
	}
}

func scheduledBody() map[string]any {
	return map[string]any{
		"type":         "scheduled",
		"patient":      map[string]any{"name": "Bench Patient", "age": 70},
		"pickup":       map[string]any{"address": "Jl. Dago 12"},
		"destination":  map[string]any{"address": "RS Hasan Sadikin"},
		"contact":      map[string]any{"phone": "081200000000"},
		"scheduled_at": time.Now().UTC().Add(72 * time.Hour).Format(time.RFC3339),
		"distance_km":  3.2,
	}
}

// race fires fn from cfg.Concurrency goroutines and tallies the statuses.
func race(r *Runner, fn func(i int) int) map[int]int {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		counts = map[int]int{}
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := fn(i)
			mu.Lock()
			counts[status]++
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	return counts
}

func successes(counts map[int]int) int {
	n := 0
	for status, c := range counts {
		if status >= 200 && status < 300 {
			n += c
		}
	}
	return n
}

func concurrentAssign(ctx context.Context, r *Runner) Result {
	if r.admin == "" {
		return Result{Status: StatusSkip, Note: "jwt secret not configured"}
	}
	ids := make([]string, r.cfg.Concurrency)
	for i := range ids {
		res, out := r.call(ctx, http.MethodPost, "/api/bookings", r.patient, emergencyBody(), 201)
		if res.Status != StatusPass {
			return res
		}
		ids[i], _ = out["id"].(string)
	}

	// Registered last so the server's dispatch loop has little time to take the pair first.
	amb, drv := "bench-amb-"+r.run, "bench-drv-"+r.run
	if res, _ := r.call(ctx, http.MethodPut, "/api/ambulances/"+amb, r.admin, map[string]any{
		"plate_number": "B " + r.run, "type": "BLS",
	}); res.Status != StatusPass {
		return res
	}
	if res, _ := r.call(ctx, http.MethodPut, "/api/drivers/"+drv, r.admin, map[string]any{
		"name": "Bench Driver", "hire_date": "2020-01-01T00:00:00Z", "ambulance_id": amb,
	}); res.Status != StatusPass {
		return res
	}

	start := time.Now()
	counts := race(r, func(i int) int {
		status, _, _, err := r.send(ctx, http.MethodPost, "/api/bookings/"+ids[i]+"/assign", r.admin, map[string]any{
			"driver_id": drv, "ambulance_id": amb,
		})
		if err != nil {
			return 0
		}
		return status
	})
	latency := time.Since(start)
	note := fmt.Sprintf("statuses=%v", counts)
	if successes(counts) == 1 && counts[0] == 0 {
		return Result{Status: StatusPass, Latency: latency, Note: note}
	}
	return Result{Status: StatusFail, Latency: latency, Note: note}
}

func concurrentDownpayment(ctx context.Context, r *Runner) Result {
	if r.patient == "" {
		return Result{Status: StatusSkip, Note: "jwt secret not configured"}
	}
	res, out := r.call(ctx, http.MethodPost, "/api/bookings", r.patient, scheduledBody(), 201)
	if res.Status != StatusPass {
		return res
	}
	id, _ := out["id"].(string)

	start := time.Now()
	counts := race(r, func(int) int {
		status, _, _, err := r.send(ctx, http.MethodPost, "/api/bookings/"+id+"/payments", r.patient, map[string]any{
			"payment_type": "downpayment", "method": "va",
		})
		if err != nil {
			return 0
		}
		return status
	})
	latency := time.Since(start)
	note := fmt.Sprintf("statuses=%v", counts)
	if successes(counts) == 1 && counts[http.StatusConflict] == r.cfg.Concurrency-1 {
		return Result{Status: StatusPass, Latency: latency, Note: note}
	}
	return Result{Status: StatusFail, Latency: latency, Note: note}
}

func perfLoad(ctx context.Context, r *Runner, path, token string) Result {
	end := time.Now().Add(r.cfg.Duration)
	var (
		count    int64
		errCount int64
		mu       sync.Mutex
		wg       sync.WaitGroup
	)

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				status, _, _, err := r.send(ctx, http.MethodGet, path, token, nil)
				mu.Lock()
				if err != nil || status >= 500 {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: StatusFail, Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: StatusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func contains(list []int, v int) bool {
	for _, i := range list {
		if i == v {
			return true
		}
	}
	return false
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
