package health

import (
	"context"
	"runtime"
	"time"

	"simorchestrator/internal/run"
	"simorchestrator/internal/scheduler"
	"simorchestrator/pkg/circuitbreaker"
)

// Activity exposes scheduler occupancy.
type Activity interface {
	Stats() scheduler.Stats
	Snapshots() []*run.Run
}

// StoreStatus exposes run store reachability.
type StoreStatus interface {
	Available() bool
	BreakerState() circuitbreaker.State
}

// Report is the aggregate orchestrator health snapshot.
type Report struct {
	Status              Status               `json:"status"`
	ActiveCount         int                  `json:"activeCount"`
	Capacity            int                  `json:"capacity"`
	PerRunStates        map[string]run.State `json:"perRunStates"`
	WorkerPoolSaturated bool                 `json:"workerPoolSaturated"`
	Workers             int                  `json:"workers"`
	BusyWorkers         int                  `json:"busyWorkers"`
	Queued              int                  `json:"queued"`
	Rejected            uint64               `json:"rejected"`
	Store               StoreReport          `json:"store"`
	Resources           Resources            `json:"resources"`
	Timestamp           time.Time            `json:"timestamp"`
}

// StoreReport describes the run store connection.
type StoreReport struct {
	Available bool   `json:"available"`
	Breaker   string `json:"breaker"`
}

// Resources describes process resource usage.
type Resources struct {
	Goroutines  int     `json:"goroutines"`
	HeapAllocMB float64 `json:"heapAllocMb"`
	SysMB       float64 `json:"sysMb"`
}

// Aggregator builds Reports. It never changes orchestrator state.
type Aggregator struct {
	activity Activity
	store    StoreStatus
	now      func() time.Time
}

// NewAggregator creates an aggregator. store may be nil.
func NewAggregator(activity Activity, store StoreStatus) *Aggregator {
	return &Aggregator{
		activity: activity,
		store:    store,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Report returns the current health snapshot.
func (a *Aggregator) Report(ctx context.Context) Report {
	stats := a.activity.Stats()
	snapshots := a.activity.Snapshots()

	perRun := make(map[string]run.State, len(snapshots))
	for _, r := range snapshots {
		perRun[r.ID] = r.State
	}

	storeReport := StoreReport{Available: true, Breaker: circuitbreaker.Closed.String()}
	if a.store != nil {
		storeReport = StoreReport{
			Available: a.store.Available(),
			Breaker:   a.store.BreakerState().String(),
		}
	}

	status := StatusHealthy
	switch {
	case !storeReport.Available:
		status = StatusUnhealthy
	case stats.Saturated:
		status = StatusDegraded
	}

	return Report{
		Status:              status,
		ActiveCount:         stats.Active,
		Capacity:            stats.Capacity,
		PerRunStates:        perRun,
		WorkerPoolSaturated: stats.Saturated,
		Workers:             stats.Workers,
		BusyWorkers:         stats.BusyWorkers,
		Queued:              stats.Queued,
		Rejected:            stats.Rejected,
		Store:               storeReport,
		Resources:           sampleResources(),
		Timestamp:           a.now(),
	}
}

func sampleResources() Resources {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Resources{
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(ms.HeapAlloc) / (1 << 20),
		SysMB:       float64(ms.Sys) / (1 << 20),
	}
}
