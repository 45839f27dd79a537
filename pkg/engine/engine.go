package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/rmax-ai/quotascope/pkg/adapter"
	"github.com/rmax-ai/quotascope/pkg/store"
	redisstore "github.com/rmax-ai/quotascope/pkg/store/redis"
	"github.com/rmax-ai/quotascope/pkg/usage"
)

// DefaultInterval is the polling cadence when the config names none.
const DefaultInterval = 60 * time.Second

// Engine owns the adapter registry and the latest-usage cache. The
// registry is fixed once Run starts; the enabled set is re-read from
// the config file on every cycle, so services can be toggled without
// a restart.
type Engine struct {
	adapters map[usage.ServiceID]adapter.Adapter
	order    []usage.ServiceID

	configPath string
	interval   time.Duration

	store  *store.Store
	mirror *redisstore.Mirror

	mu    sync.RWMutex
	cache map[usage.ServiceID]usage.ServiceUsage

	// locks serializes refreshes per service ID. Two concurrent
	// refreshes of different services never contend; two for the same
	// service commit in sequence, last one wins.
	locksMu sync.Mutex
	locks   map[usage.ServiceID]*sync.Mutex
}

// Options configure a new engine
type Options struct {
	ConfigPath string
	Interval   time.Duration
	Store      *store.Store
	Mirror     *redisstore.Mirror
}

// New creates an engine with an empty registry
func New(opts Options) *Engine {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Engine{
		adapters:   make(map[usage.ServiceID]adapter.Adapter),
		configPath: opts.ConfigPath,
		interval:   interval,
		store:      opts.Store,
		mirror:     opts.Mirror,
		cache:      make(map[usage.ServiceID]usage.ServiceUsage),
		locks:      make(map[usage.ServiceID]*sync.Mutex),
	}
}

// Register adds an adapter to the registry. Call before Run.
func (e *Engine) Register(a adapter.Adapter) {
	id := a.Identity().ID
	if _, exists := e.adapters[id]; exists {
		log.Printf("adapter %s registered twice, keeping the first", id)
		return
	}
	e.adapters[id] = a
	e.order = append(e.order, id)
}

// WarmStart seeds the cache from the last persisted snapshots so
// consumers see stale-but-real data before the first cycle completes.
func (e *Engine) WarmStart(ctx context.Context) {
	if e.store == nil {
		return
	}
	snapshots, err := e.store.LoadSnapshots(ctx)
	if err != nil {
		log.Printf("warm start: failed to load snapshots: %v", err)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, record := range snapshots {
		if _, registered := e.adapters[id]; !registered {
			continue
		}
		e.cache[id] = record
	}
	log.Printf("warm start: restored %d snapshots", len(e.cache))
}

// Run refreshes immediately and then on every tick until ctx ends.
// The tick cadence follows the config file: an interval change is
// picked up after the next cycle, like the enabled set.
func (e *Engine) Run(ctx context.Context) {
	log.Printf("engine started, polling every %s", e.interval)
	interval := e.refreshAll(ctx).Interval(e.interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("engine stopping due to context cancellation")
			return
		case <-ticker.C:
			next := e.refreshAll(ctx).Interval(e.interval)
			if next != interval {
				log.Printf("refresh interval changed from %s to %s", interval, next)
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// RefreshAll fans out one refresh per enabled service and joins them.
// Every enabled service gets a cache entry this cycle, error or not.
func (e *Engine) RefreshAll(ctx context.Context) {
	e.refreshAll(ctx)
}

// refreshAll runs one cycle and returns the config it was driven by so
// Run can honor a changed interval.
func (e *Engine) refreshAll(ctx context.Context) *Config {
	cfg := e.loadConfig()

	var wg sync.WaitGroup
	for _, id := range e.order {
		if !cfg.IsEnabled(string(id)) {
			continue
		}
		wg.Add(1)
		go func(id usage.ServiceID, a adapter.Adapter) {
			defer wg.Done()
			e.refresh(ctx, id, a)
		}(id, e.adapters[id])
	}
	wg.Wait()
	return cfg
}

// RefreshOne refreshes a single service on demand
func (e *Engine) RefreshOne(ctx context.Context, id usage.ServiceID) (usage.ServiceUsage, error) {
	a, ok := e.adapters[id]
	if !ok {
		return usage.ServiceUsage{}, fmt.Errorf("unknown service %q", id)
	}
	return e.refresh(ctx, id, a), nil
}

// GetUsage returns a copy of the cached record for one service
func (e *Engine) GetUsage(id usage.ServiceID) (usage.ServiceUsage, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	record, ok := e.cache[id]
	return record, ok
}

// GetLatestUsage returns copies of every cached record, sorted by ID
func (e *Engine) GetLatestUsage() []usage.ServiceUsage {
	e.mu.RLock()
	records := make([]usage.ServiceUsage, 0, len(e.cache))
	for _, record := range e.cache {
		records = append(records, record)
	}
	e.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].ServiceID < records[j].ServiceID
	})
	return records
}

// ListServices returns the registered identities in registration order
func (e *Engine) ListServices() []usage.ServiceIdentity {
	ids := make([]usage.ServiceIdentity, 0, len(e.order))
	for _, id := range e.order {
		ids = append(ids, e.adapters[id].Identity())
	}
	return ids
}

// GetService returns a registered adapter by ID
func (e *Engine) GetService(id usage.ServiceID) (adapter.Adapter, bool) {
	a, ok := e.adapters[id]
	return a, ok
}

// loadConfig re-reads the config file; errors keep everything enabled
func (e *Engine) loadConfig() *Config {
	if e.configPath == "" {
		return nil
	}
	cfg, err := LoadConfig(e.configPath)
	if err != nil {
		log.Printf("config reload failed, keeping all services enabled: %v", err)
		return nil
	}
	return cfg
}

// refresh fetches one service and commits the result under its lock
func (e *Engine) refresh(ctx context.Context, id usage.ServiceID, a adapter.Adapter) usage.ServiceUsage {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	record := e.fetch(ctx, id, a)
	e.commit(ctx, record)
	return record
}

// fetch calls the adapter, converting an escaping panic into an error
// record so one broken adapter cannot take the daemon down.
func (e *Engine) fetch(ctx context.Context, id usage.ServiceID, a adapter.Adapter) (record usage.ServiceUsage) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("%s: adapter panicked: %v", id, r)
			record = usage.ErrorRecord(a.Identity(), fmt.Sprintf("internal error: %v", r), false)
		}
	}()
	return a.FetchUsage(ctx)
}

// commit stores the record in the cache and pushes it to the metrics,
// snapshot and mirror sinks.
func (e *Engine) commit(ctx context.Context, record usage.ServiceUsage) {
	e.mu.Lock()
	e.cache[record.ServiceID] = record
	e.mu.Unlock()

	e.observe(record)

	if e.store != nil {
		if err := e.store.SaveSnapshot(ctx, record); err != nil {
			log.Printf("%s: failed to persist snapshot: %v", record.ServiceID, err)
		}
	}
	if e.mirror != nil {
		e.mirror.Publish(ctx, record)
	}
}

// observe updates the Prometheus gauges for one record
func (e *Engine) observe(record usage.ServiceUsage) {
	id := string(record.ServiceID)

	if record.Error != "" {
		QuotascopeFetchErrorsTotal.WithLabelValues(id).Inc()
	}

	needsLogin := 0.0
	if record.NeedsLogin {
		needsLogin = 1
	}
	QuotascopeNeedsLogin.WithLabelValues(id).Set(needsLogin)
	QuotascopeLastRefresh.WithLabelValues(id).Set(float64(record.UpdatedAt.Unix()))

	slots := []struct {
		window *usage.RateWindow
		name   string
	}{
		{record.Primary, "primary"},
		{record.Secondary, "secondary"},
		{record.Tertiary, "tertiary"},
	}
	for _, slot := range slots {
		if slot.window == nil {
			continue
		}
		label := slot.window.Label
		if label == "" {
			// Unlabeled windows take their slot name so two of
			// them never share a gauge.
			label = slot.name
		}
		QuotascopeUsagePercent.WithLabelValues(id, label).Set(slot.window.UsedPercent)
	}
}

func (e *Engine) lockFor(id usage.ServiceID) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	lock, ok := e.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[id] = lock
	}
	return lock
}
