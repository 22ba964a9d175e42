// README: Benchmark cases: API smoke flow, persistence checks and concurrent in-process assignment.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"dispatch/internal/config"
	"dispatch/internal/modules/assignment"
	"dispatch/internal/modules/geo"
	"dispatch/internal/modules/order"
	"dispatch/internal/modules/preptime"
	"dispatch/internal/modules/rider"
	"dispatch/internal/modules/zone"
	"dispatch/internal/types"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
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
		{Name: "api health", Run: caseHealth},
		{Name: "api order assign and release", Run: caseAssignFlow},
		{Name: "db assignment log", Run: caseAssignmentLog},
		{Name: "redis rider geo index", Run: caseRiderGeoIndex},
		{Name: "in-process concurrent assignment", Run: caseConcurrentAssignment},
	}
}

func pass(start time.Time, note string) Result {
	return Result{Status: "PASS", Latency: time.Since(start), Note: note}
}

func fail(note string, args ...any) Result {
	return Result{Status: "FAIL", Note: fmt.Sprintf(note, args...)}
}

func skip(note string) Result {
	return Result{Status: "SKIP", Note: note}
}

func (r *Runner) do(ctx context.Context, method, path string, body any, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.Token)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %q: %w", raw, err)
		}
	}
	return resp.StatusCode, nil
}

func caseHealth(ctx context.Context, r *Runner) Result {
	if r.cfg.BaseURL == "" {
		return skip("no base url")
	}
	start := time.Now()
	code, err := r.do(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return fail("request: %v", err)
	}
	if code != http.StatusOK {
		return fail("status %d", code)
	}
	return pass(start, "")
}

// caseAssignFlow expects the sample zone from config/zones.yaml (central Pune) to be loaded.
func caseAssignFlow(ctx context.Context, r *Runner) Result {
	if r.cfg.BaseURL == "" {
		return skip("no base url")
	}
	start := time.Now()
	riderID := "bench-" + uuid.NewString()[:8]
	pickup := map[string]float64{"lat": 18.52, "lng": 73.85}
	dropoff := map[string]float64{"lat": 18.53, "lng": 73.86}

	code, err := r.do(ctx, http.MethodPost, "/api/riders", map[string]any{"id": riderID, "name": "bench", "position": pickup}, nil)
	if err != nil || code != http.StatusCreated {
		return fail("register rider: %d %v", code, err)
	}
	code, err = r.do(ctx, http.MethodPost, "/api/riders/"+riderID+"/availability", map[string]string{"availability": "available"}, nil)
	if err != nil || code != http.StatusOK {
		return fail("rider online: %d %v", code, err)
	}

	var created struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	}
	code, err = r.do(ctx, http.MethodPost, "/api/orders", map[string]any{
		"customer_id": "bench-customer",
		"pickup":      pickup,
		"dropoff":     dropoff,
		"items":       map[string]int{"burger": 1},
	}, &created)
	if err != nil || code != http.StatusCreated {
		return fail("create order: %d %v", code, err)
	}
	if created.Status != string(order.StatusPending) {
		return fail("order not pending after intake: %s (is the dropoff inside a zone?)", created.Status)
	}

	var out struct {
		Status  string `json:"status"`
		RiderID string `json:"rider_id"`
		Reason  string `json:"reason"`
	}
	code, err = r.do(ctx, http.MethodPost, "/api/orders/"+created.OrderID+"/assign", nil, &out)
	if err != nil || code != http.StatusOK {
		return fail("assign: %d %v", code, err)
	}
	if out.Status != string(order.StatusAssigned) {
		return fail("not assigned: %s %s", out.Status, out.Reason)
	}
	code, err = r.do(ctx, http.MethodPost, "/api/orders/"+created.OrderID+"/release", nil, nil)
	if err != nil || code != http.StatusOK {
		return fail("release: %d %v", code, err)
	}
	_, _ = r.do(ctx, http.MethodPost, "/api/riders/"+riderID+"/availability", map[string]string{"availability": "offline"}, nil)
	return pass(start, "rider "+out.RiderID)
}

func caseAssignmentLog(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return skip("no dsn")
	}
	start := time.Now()
	var n int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM assignments`).Scan(&n); err != nil {
		return fail("query assignments: %v", err)
	}
	return pass(start, fmt.Sprintf("%d rows", n))
}

func caseRiderGeoIndex(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return skip("no redis")
	}
	start := time.Now()
	n, err := r.redis.ZCard(ctx, "riders:geo").Result()
	if err != nil {
		return fail("zcard: %v", err)
	}
	return pass(start, fmt.Sprintf("%d riders indexed", n))
}

// caseConcurrentAssignment drives the engine and coordinator in-process with memory
// stores and haversine travel, then checks that no rider holds two orders.
func caseConcurrentAssignment(ctx context.Context, r *Runner) Result {
	start := time.Now()
	zones, err := zone.NewRegistry([]zone.Zone{{
		ID:   "bench",
		Ring: []types.Point{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 0.2}, {Lat: 0.2, Lng: 0.2}, {Lat: 0.2, Lng: 0}},
	}})
	if err != nil {
		return fail("zones: %v", err)
	}
	profile, err := preptime.NewProfile(map[string]time.Duration{"burger": 10 * time.Minute, "fries": 5 * time.Minute})
	if err != nil {
		return fail("profile: %v", err)
	}
	pool := rider.NewMemoryPool()
	rnd := rand.New(rand.NewSource(1))
	point := func() types.Point { return types.Point{Lat: rnd.Float64() * 0.2, Lng: rnd.Float64() * 0.2} }
	for i := 0; i < r.cfg.Riders; i++ {
		id := types.ID(fmt.Sprintf("r%04d", i))
		if err := pool.Register(ctx, rider.Rider{ID: id, Position: point(), Availability: rider.Available}); err != nil {
			return fail("register: %v", err)
		}
	}
	orders := order.NewService(order.NewMemoryStore(), zones)
	ids := make([]types.ID, 0, r.cfg.Orders)
	for i := 0; i < r.cfg.Orders; i++ {
		o, err := orders.Create(ctx, order.CreateCommand{CustomerID: "bench", Pickup: point(), Dropoff: point(), Items: map[string]int{"burger": 1, "fries": 2}})
		if err != nil {
			return fail("create: %v", err)
		}
		ids = append(ids, o.ID)
	}
	engine := assignment.NewEngine(zones, preptime.NewLookup(profile), geo.NewHaversine(25), pool, config.AssignmentConfig{
		RadiusKm:       10,
		RankTimeout:    2 * time.Second,
		GeoMaxAttempts: 1,
		GeoConcurrency: 8,
	}, nil)
	coord := assignment.NewCoordinator(orders, engine, pool, assignment.NewFanOut(nil), nil)

	var (
		mu        sync.Mutex
		latencies []time.Duration
		holders   = map[types.ID]types.ID{}
		dupes     int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			t0 := time.Now()
			out, err := coord.AssignOrder(gctx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			latencies = append(latencies, time.Since(t0))
			if out.IsAssigned() {
				if _, taken := holders[out.Assigned.RiderID]; taken {
					dupes++
				}
				holders[out.Assigned.RiderID] = id
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fail("assign: %v", err)
	}
	if dupes > 0 {
		return fail("%d riders assigned twice", dupes)
	}
	want := min(r.cfg.Riders, r.cfg.Orders)
	if len(holders) > want {
		return fail("assigned %d orders with %d riders", len(holders), r.cfg.Riders)
	}
	if len(latencies) == 0 {
		return pass(start, "no orders")
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	p99 := latencies[len(latencies)*99/100]
	return pass(start, fmt.Sprintf("assigned=%d/%d p99=%s", len(holders), len(ids), p99))
}
