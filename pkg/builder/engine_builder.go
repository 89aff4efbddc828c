// Package builder assembles the engine from its configuration.
package builder

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"shelter-engine/pkg/broadcast"
	"shelter-engine/pkg/cache"
	"shelter-engine/pkg/config"
	"shelter-engine/pkg/diagnostics"
	"shelter-engine/pkg/errors"
	"shelter-engine/pkg/executor"
	"shelter-engine/pkg/health"
	ophttp "shelter-engine/pkg/http"
	"shelter-engine/pkg/logger"
	"shelter-engine/pkg/mapper"
	"shelter-engine/pkg/mapping"
	"shelter-engine/pkg/metrics"
	"shelter-engine/pkg/queue"
	"shelter-engine/pkg/resolver"
	"shelter-engine/pkg/scheduler"
	"shelter-engine/pkg/services"
	"shelter-engine/pkg/store"
	"shelter-engine/pkg/transport"
)

// EngineBuilder provides a fluent interface for constructing Engine instances.
// Anything not supplied is built from the configuration.
type EngineBuilder struct {
	config    *config.Config
	table     *mapping.Table
	transport transport.Transport
	store     store.Store
	sinks     []broadcast.Sink
	log       logger.ILogger
	version   string
}

// NewEngineBuilder creates a new builder for cfg
func NewEngineBuilder(cfg *config.Config) *EngineBuilder {
	return &EngineBuilder{config: cfg, version: config.CurrentVersion}
}

// WithTable sets the mapping table instead of loading mapping.file
func (b *EngineBuilder) WithTable(table *mapping.Table) *EngineBuilder {
	b.table = table
	return b
}

// WithTransport sets a custom field link
func (b *EngineBuilder) WithTransport(t transport.Transport) *EngineBuilder {
	b.transport = t
	return b
}

// WithStore sets a custom persistence backend
func (b *EngineBuilder) WithStore(s store.Store) *EngineBuilder {
	b.store = s
	return b
}

// WithSink adds a broadcast sink next to the configured ones
func (b *EngineBuilder) WithSink(s broadcast.Sink) *EngineBuilder {
	b.sinks = append(b.sinks, s)
	return b
}

// WithLogger sets the logger handed to every component
func (b *EngineBuilder) WithLogger(log logger.ILogger) *EngineBuilder {
	b.log = log
	return b
}

// WithVersion sets the version reported by the health endpoint
func (b *EngineBuilder) WithVersion(version string) *EngineBuilder {
	b.version = version
	return b
}

func (b *EngineBuilder) loggerFor(component string) logger.ILogger {
	if b.log != nil {
		return b.log
	}
	return logger.NewComponentLogger(component)
}

// Build constructs the Engine with all dependencies
func (b *EngineBuilder) Build(ctx context.Context) (*Engine, error) {
	if b.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := b.config
	e := &Engine{
		config:  cfg,
		metrics: metrics.NewPrometheusMetrics(),
		log:     b.loggerFor("engine"),
	}

	var err error
	if e.table = b.table; e.table == nil {
		if e.table, err = mapping.LoadTable(cfg.Mapping.File, config.ValidateFormula); err != nil {
			return nil, errors.NewConfigError("load mapping", err, "mapping.file")
		}
	}

	if e.store = b.store; e.store == nil {
		if e.store, err = openStore(ctx, cfg.Storage); err != nil {
			return nil, err
		}
		e.closers = append(e.closers, e.store.Close)
	}
	if cfg.Storage.SeedFromMapping {
		added, err := store.Seed(ctx, e.store, e.table)
		if err != nil {
			e.Close()
			return nil, err
		}
		if added > 0 {
			e.log.LogInfo("🌱 Seeded %d units from the mapping table", added)
		}
	}

	if e.transport = b.transport; e.transport == nil {
		if e.transport, err = transport.New(cfg, b.loggerFor("transport")); err != nil {
			e.Close()
			return nil, err
		}
	}

	sinks := append([]broadcast.Sink(nil), b.sinks...)
	bs := config.NewBroadcastSettings(cfg)
	if bs.MQTT {
		e.mqttSink = broadcast.NewMQTTSink(config.NewMQTTSettings(cfg), bs, b.loggerFor("broadcast"))
		sinks = append(sinks, e.mqttSink)
	}
	if bs.Journal != "" {
		journal, err := broadcast.NewJournalSink(bs.Journal)
		if err != nil {
			e.Close()
			return nil, errors.NewConfigError("open journal", err, "broadcast.journal")
		}
		sinks = append(sinks, journal)
		e.closers = append(e.closers, journal.Close)
	}
	e.sink = broadcast.NewMultiSink(sinks...)
	e.errors = errors.NewErrorHandler(broadcast.Diagnostics{Sink: e.sink, Service: "engine"}, b.loggerFor("errors"))

	polling := config.NewPollingSettings(cfg)
	e.cache = cache.New()
	e.resolver = resolver.New(e.table, e.cache, b.loggerFor("resolver"))
	e.link = health.NewLinkMonitor(polling.ErrorGracePeriod, e.sink, e.metrics, b.loggerFor("link"))
	e.queue = queue.New(e.transport, config.NewQueueSettings(cfg), b.loggerFor("queue"),
		queue.WithMetrics(e.metrics), queue.WithLinkObserver(e.link))
	e.mapper = mapper.New(e.resolver, e.store, b.loggerFor("mapper"))
	e.executor = executor.New(e.resolver, e.queue, e.mapper, e.store, e.sink, b.loggerFor("executor"),
		executor.WithMetrics(e.metrics))

	e.control = services.NewRuntimeControl(polling.Enabled, polling.Interval, b.loggerFor("control"))
	e.units = diagnostics.NewUnitTracker(diagnostics.DefaultThresholds, e.sink, b.loggerFor("diagnostics"))
	e.scheduler = scheduler.New(e.store, e.store, e.resolver, e.queue, e.mapper, e.cache, e.sink, polling,
		b.loggerFor("scheduler"),
		scheduler.WithControl(e.control),
		scheduler.WithMetrics(e.metrics),
		scheduler.WithTracker(metrics.NewPerformanceTracker(polling.SummaryInterval, b.loggerFor("performance"))),
		scheduler.WithUnitObserver(e.units),
	)
	if polling.HeartbeatInterval > 0 {
		e.heartbeat = services.NewHeartbeatService(e.sink, e.link, polling.HeartbeatInterval, b.loggerFor("heartbeat"))
	}
	if cfg.HTTP.Port > 0 {
		e.server = ophttp.NewServer(cfg.HTTP.Port,
			ophttp.NewHealthHandler(e.link, e.units, e.control, b.version), e.metrics)
	}
	e.resolverSettings = config.NewResolverSettings(cfg)

	return e, nil
}

func openStore(ctx context.Context, sc config.StorageConfig) (store.Store, error) {
	switch sc.Driver {
	case config.StorageMemory:
		return store.NewMemoryStore(), nil
	case config.StorageSQLite:
		s, err := store.OpenSQLite(ctx, sc.Path)
		if err != nil {
			return nil, errors.NewConfigError("open store", err, "storage.path")
		}
		return s, nil
	default:
		return nil, errors.NewConfigError("open store", fmt.Errorf("unknown driver %q", sc.Driver), "storage.driver")
	}
}

// Engine is the assembled shelter control engine
type Engine struct {
	config           *config.Config
	resolverSettings config.ResolverSettings
	table            *mapping.Table
	store            store.Store
	transport        transport.Transport
	mqttSink         *broadcast.MQTTSink
	sink             broadcast.Sink
	errors           *errors.ErrorHandler
	metrics          *metrics.PrometheusMetrics
	cache            *cache.Store
	resolver         *resolver.Resolver
	link             *health.LinkMonitor
	queue            *queue.Queue
	mapper           *mapper.Mapper
	executor         *executor.Executor
	control          *services.RuntimeControl
	units            *diagnostics.UnitTracker
	scheduler        *scheduler.Scheduler
	heartbeat        *services.HeartbeatService
	server           *http.Server
	closers          []func() error
	closeOnce        sync.Once
	log              logger.ILogger
}

// Run connects the link and the broadcast broker, then runs polling and
// the background loops until ctx is done. Detached command batches still
// in flight are drained before the queue stops.
func (e *Engine) Run(ctx context.Context) error {
	e.log.LogInfo("🚀 Starting shelter engine...")
	if err := e.connect(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	run := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}

	run(func() { e.resolver.RunCleanup(ctx, e.resolverSettings.CleanupInterval) })
	run(func() { e.link.Run(ctx) })
	run(func() { e.units.Run(ctx, e.control) })
	if e.heartbeat != nil {
		run(func() { e.heartbeat.Start(ctx) })
	}
	if e.server != nil {
		run(func() {
			if err := ophttp.Serve(ctx, e.server, e.log); err != nil {
				e.log.LogError("❌ Ops server error: %v", err)
			}
		})
	}
	run(func() { e.scheduler.Start(ctx) })

	e.log.LogInfo("✅ Shelter engine running (%d units mapped, polling every %v)",
		len(e.table.Units()), e.control.Interval())

	<-ctx.Done()
	e.log.LogInfo("🛑 Shutting down shelter engine...")
	e.scheduler.Stop()
	wg.Wait()

	drainStart := time.Now()
	e.executor.Wait()
	if d := time.Since(drainStart); d > time.Second {
		e.log.LogInfo("⏳ Detached commands drained in %v", d)
	}
	e.queue.Stop()
	return nil
}

// connect opens the link and the broadcast broker and starts the
// dispatcher. The dispatcher outlives ctx so detached batches can finish.
func (e *Engine) connect(ctx context.Context) error {
	if err := e.transport.Connect(ctx); err != nil {
		e.errors.Handle(ctx, err)
		return fmt.Errorf("error connecting transport: %w", err)
	}
	if e.mqttSink != nil {
		if err := e.mqttSink.Connect(ctx); err != nil {
			return fmt.Errorf("error connecting broadcast sink: %w", err)
		}
	}
	e.queue.Start(context.WithoutCancel(ctx))
	return nil
}

// RunOnce connects, runs a single polling cycle and stops the dispatcher
func (e *Engine) RunOnce(ctx context.Context) (scheduler.Report, error) {
	if err := e.connect(ctx); err != nil {
		return scheduler.Report{}, err
	}
	defer e.queue.Stop()
	return e.scheduler.RunCycle(ctx)
}

// ExecuteOnce connects, runs one command and stops the dispatcher
func (e *Engine) ExecuteOnce(ctx context.Context, req executor.Request) (*executor.Outcome, error) {
	if err := e.connect(ctx); err != nil {
		return nil, err
	}
	defer e.queue.Stop()
	return e.Execute(ctx, req)
}

// Execute runs one command and waits for its outcome
func (e *Engine) Execute(ctx context.Context, req executor.Request) (*executor.Outcome, error) {
	out, err := e.executor.Execute(ctx, req)
	if err != nil {
		e.errors.Handle(ctx, err)
	}
	return out, err
}

// ExecuteDetached accepts a batch of commands and returns their log ids
// before any of them runs
func (e *Engine) ExecuteDetached(ctx context.Context, reqs []executor.Request) ([]string, error) {
	return e.executor.ExecuteDetached(ctx, reqs)
}

// RunCycle runs one polling cycle now
func (e *Engine) RunCycle(ctx context.Context) (scheduler.Report, error) {
	return e.scheduler.RunCycle(ctx)
}

// Control returns the runtime polling switches
func (e *Engine) Control() *services.RuntimeControl { return e.control }

// Store returns the persistence backend
func (e *Engine) Store() store.Store { return e.store }

// Metrics returns the engine metrics
func (e *Engine) Metrics() *metrics.PrometheusMetrics { return e.metrics }

// Link returns the link health monitor
func (e *Engine) Link() *health.LinkMonitor { return e.link }

// Close releases the link, the broadcast connections and the store
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		if e.transport != nil {
			if err := e.transport.Close(); err != nil {
				e.log.LogWarn("⚠️ Error closing transport: %v", err)
			}
		}
		if e.mqttSink != nil {
			_ = e.mqttSink.Close()
		}
		for i := len(e.closers) - 1; i >= 0; i-- {
			if err := e.closers[i](); err != nil {
				e.log.LogWarn("⚠️ Error during close: %v", err)
			}
		}
	})
}
