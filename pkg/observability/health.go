package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const readinessTimeout = 5 * time.Second

// errPoolExhausted marks a reachable database with no free connections
var errPoolExhausted = errors.New("connection pool exhausted")

// Probe checks one dependency. A failing Critical probe makes the service
// unready; any other failure only degrades it.
type Probe struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// DatabaseProbe is a critical probe that round-trips SELECT 1
func DatabaseProbe(db *sql.DB) Probe {
	return Probe{
		Name:     "database",
		Critical: true,
		Check: func(ctx context.Context) error {
			var one int
			if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
				return err
			}
			if stats := db.Stats(); stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
				return errPoolExhausted
			}
			return nil
		},
	}
}

// RedisProbe pings the shared cache. Permission checks fall back to the
// database without it.
func RedisProbe(client *redis.Client) Probe {
	return Probe{
		Name: "redis",
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}

// HealthStatus is the readiness response body
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is the outcome of one probe
type DependencyStatus struct {
	Status    string  `json:"status"`
	Message   string  `json:"message,omitempty"`
	LatencyMS float64 `json:"latencyMs"`
}

// HealthChecker runs probes concurrently and folds them into one status
type HealthChecker struct {
	probes  []Probe
	version string
}

func NewHealthChecker(probes ...Probe) *HealthChecker {
	version := "devel"
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		version = info.Main.Version
	}
	return &HealthChecker{probes: probes, version: version}
}

// Check runs every probe and reports the worst outcome
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	results := make([]DependencyStatus, len(h.probes))

	var wg sync.WaitGroup
	for i, p := range h.probes {
		wg.Add(1)
		go func(i int, p Probe) {
			defer wg.Done()
			results[i] = runProbe(ctx, p)
		}(i, p)
	}
	wg.Wait()

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(h.probes)),
	}
	for i, p := range h.probes {
		res := results[i]
		status.Dependencies[p.Name] = res
		switch {
		case res.Status == StatusUnhealthy && p.Critical:
			status.Status = StatusUnhealthy
		case res.Status != StatusHealthy && status.Status == StatusHealthy:
			status.Status = StatusDegraded
		}
	}
	return status
}

func runProbe(ctx context.Context, p Probe) DependencyStatus {
	start := time.Now()
	err := p.Check(ctx)
	res := DependencyStatus{
		Status:    StatusHealthy,
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	switch {
	case errors.Is(err, errPoolExhausted):
		res.Status = StatusDegraded
		res.Message = err.Error()
	case err != nil:
		res.Status = StatusUnhealthy
		res.Message = err.Error()
	}
	return res
}

// Liveness answers 200 for as long as the process can serve HTTP
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	})
}

// Readiness answers 503 only when a critical probe fails
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

func writeHealth(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/health", checker.Readiness).Methods(http.MethodGet)
	router.HandleFunc("/health/live", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", checker.Readiness).Methods(http.MethodGet)
}
