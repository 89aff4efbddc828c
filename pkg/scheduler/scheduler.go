// Package scheduler runs the periodic polling cycle: every unit of the
// catalog is read through the command queue at low priority and the results
// are handed to the mapper.
package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"shelter-engine/pkg/broadcast"
	"shelter-engine/pkg/cache"
	"shelter-engine/pkg/config"
	"shelter-engine/pkg/logger"
	"shelter-engine/pkg/mapper"
	"shelter-engine/pkg/mapping"
	"shelter-engine/pkg/metrics"
	"shelter-engine/pkg/modbus"
	"shelter-engine/pkg/queue"
	"shelter-engine/pkg/recovery"
	"shelter-engine/pkg/resolver"
	"shelter-engine/pkg/store"
	"shelter-engine/pkg/transport"
)

const (
	service = "polling"

	// unitsKey caches the catalog unit list between cycles
	unitsKey = "scheduler:units"
)

// ErrCycleRunning is returned by RunCycle while another cycle is in progress
var ErrCycleRunning = stderrors.New("polling cycle already running")

// Submitter is the queue admission point used for reads
type Submitter interface {
	Submit(ctx context.Context, p queue.Priority, req transport.Request) (*transport.Response, error)
}

// Control exposes the runtime switches of the polling loop
type Control interface {
	Enabled() bool
	Interval() time.Duration
}

// UnitObserver receives the outcome of every polled unit
type UnitObserver interface {
	RecordUnit(ref store.UnitRef, ok, failed int, elapsed time.Duration, lastErr error)
}

// Report summarizes one polling cycle
type Report struct {
	Units         int
	UnitsOK       int
	UnitsFailed   int
	UnitsPartial  int
	UnitsSkipped  int
	Actions       int
	ActionsFailed int
	Duration      time.Duration
	Stopped       bool
}

type staticControl struct {
	interval time.Duration
}

func (c staticControl) Enabled() bool           { return true }
func (c staticControl) Interval() time.Duration { return c.interval }

// Scheduler drives polling cycles. At most one cycle runs at a time; a tick
// arriving while a cycle is in progress is dropped.
type Scheduler struct {
	catalog  store.Catalog
	data     store.UnitData
	resolver *resolver.Resolver
	queue    Submitter
	mapper   *mapper.Mapper
	cache    *cache.Store
	sink     broadcast.Sink
	settings config.PollingSettings
	control  Control
	metrics  metrics.MetricsCollector
	tracker  *metrics.PerformanceTracker
	observer UnitObserver
	log      logger.ILogger

	running  atomic.Bool
	stopping atomic.Bool
	wg       sync.WaitGroup
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithControl sets the runtime control consulted at every tick
func WithControl(c Control) Option {
	return func(s *Scheduler) { s.control = c }
}

// WithMetrics sets the metrics collector
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithTracker sets the performance tracker fed with action outcomes
func WithTracker(t *metrics.PerformanceTracker) Option {
	return func(s *Scheduler) { s.tracker = t }
}

// WithUnitObserver sets the per-unit outcome observer
func WithUnitObserver(o UnitObserver) Option {
	return func(s *Scheduler) { s.observer = o }
}

// New creates a scheduler. data is used for health status only; field
// values are written by the mapper.
func New(
	catalog store.Catalog,
	data store.UnitData,
	r *resolver.Resolver,
	q Submitter,
	m *mapper.Mapper,
	c *cache.Store,
	sink broadcast.Sink,
	settings config.PollingSettings,
	log logger.ILogger,
	opts ...Option,
) *Scheduler {
	if settings.RetryAttempts <= 0 {
		settings.RetryAttempts = 1
	}
	s := &Scheduler{
		catalog:  catalog,
		data:     data,
		resolver: r,
		queue:    q,
		mapper:   m,
		cache:    c,
		sink:     sink,
		settings: settings,
		control:  staticControl{interval: settings.Interval},
		metrics:  metrics.NewNullMetrics(),
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the polling loop until ctx is done. Interval changes are picked
// up at the next tick.
func (s *Scheduler) Start(ctx context.Context) {
	s.stopping.Store(false)
	interval := s.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.LogInfo("🔄 Polling scheduler started with interval: %v", interval)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.log.LogDebug("🔄 Polling scheduler stopped")
			return
		case <-ticker.C:
			if next := s.interval(); next != interval {
				s.log.LogInfo("⏱️ Polling interval changed: %v → %v", interval, next)
				interval = next
				ticker.Reset(interval)
			}
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) interval() time.Duration {
	if d := s.control.Interval(); d > 0 {
		return d
	}
	return 10 * time.Second
}

// tick starts a cycle in the background unless one is already running
func (s *Scheduler) tick(ctx context.Context) {
	if !s.control.Enabled() {
		s.log.LogDebug("⏸️ Polling disabled - skipping tick")
		return
	}
	if s.stopping.Load() {
		s.log.LogDebug("🛑 Polling stopped - skipping tick")
		return
	}
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.IncrementCyclesSkipped()
		s.log.LogDebug("⏭️ Polling cycle still running - skipping tick")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.cycle(ctx)
	}()
}

// Stop asks a running cycle to finish after the current unit. Ticks start
// no new cycle until Start or RunCycle is called again.
func (s *Scheduler) Stop() {
	s.stopping.Store(true)
}

// Running reports whether a cycle is in progress
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// RunCycle runs one cycle synchronously. It returns ErrCycleRunning if a
// cycle is already in progress.
func (s *Scheduler) RunCycle(ctx context.Context) (Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.IncrementCyclesSkipped()
		return Report{}, ErrCycleRunning
	}
	defer s.running.Store(false)
	s.stopping.Store(false)
	return s.cycle(ctx)
}

func (s *Scheduler) cycle(ctx context.Context) (Report, error) {
	start := time.Now()
	var report Report

	units, err := s.units(ctx)
	if err != nil {
		s.log.LogError("❌ Polling cycle aborted: %v", err)
		s.publish(ctx, broadcast.LevelError, fmt.Sprintf("polling cycle aborted: %v", err), nil)
		return report, err
	}

	s.log.LogDebug("🔄 Polling cycle started - %d units", len(units))
	s.publish(ctx, broadcast.LevelInfo, "polling cycle started", map[string]interface{}{"units": len(units)})

	for _, ref := range units {
		if s.stopping.Load() || ctx.Err() != nil {
			report.Stopped = true
			s.log.LogInfo("🛑 Polling cycle stopped after %d of %d units", report.Units, len(units))
			break
		}
		report.Units++

		ok, failed, skipped := s.pollUnit(ctx, ref)
		report.Actions += ok + failed
		report.ActionsFailed += failed
		switch {
		case skipped:
			report.UnitsSkipped++
		case ok == 0 && failed > 0:
			report.UnitsFailed++
		case failed > 0:
			report.UnitsPartial++
		default:
			report.UnitsOK++
		}
	}

	report.Duration = time.Since(start)
	s.metrics.ObserveCycle(report.Duration, report.UnitsOK, report.UnitsFailed)
	if s.tracker != nil {
		s.tracker.PrintSummaryIfNeeded()
	}

	s.log.LogDebug("✅ Polling cycle finished in %v (ok %d, failed %d, partial %d, skipped %d)",
		report.Duration, report.UnitsOK, report.UnitsFailed, report.UnitsPartial, report.UnitsSkipped)
	s.publish(ctx, broadcast.LevelInfo, "polling cycle finished", map[string]interface{}{
		"units":          report.Units,
		"units_failed":   report.UnitsFailed,
		"actions":        report.Actions,
		"actions_failed": report.ActionsFailed,
		"duration_ms":    report.Duration.Milliseconds(),
	})
	return report, nil
}

// units returns the catalog unit list, cached for UnitCacheTTL
func (s *Scheduler) units(ctx context.Context) ([]store.UnitRef, error) {
	if units, ok := cache.Get[[]store.UnitRef](s.cache, unitsKey); ok {
		return units, nil
	}
	units, err := s.catalog.ListUnits(ctx)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	if s.settings.UnitCacheTTL > 0 {
		s.cache.SetWithTTL(unitsKey, units, s.settings.UnitCacheTTL)
	}
	return units, nil
}

// InvalidateUnits drops the cached unit list
func (s *Scheduler) InvalidateUnits() {
	s.cache.Delete(unitsKey)
}

// pollUnit runs every poll action of one unit and updates its health
func (s *Scheduler) pollUnit(ctx context.Context, ref store.UnitRef) (ok, failed int, skipped bool) {
	target := ref.Target()

	capable, err := s.resolver.ProtocolCapable(target)
	if err != nil {
		s.log.LogWarn("⚠️ Unit %s not in mapping table: %v", ref, err)
		return 0, 0, true
	}
	if !capable {
		return 0, 0, true
	}
	actions, err := s.resolver.PollActions(target)
	if err != nil || len(actions) == 0 {
		return 0, 0, true
	}

	start := time.Now()
	var lastErr error
	for _, cmd := range actions {
		if err := s.pollAction(ctx, ref, cmd); err != nil {
			failed++
			lastErr = err
			s.log.LogDebug("❌ %s %s: %v", ref, cmd.Key(), err)
			continue
		}
		ok++
	}
	elapsed := time.Since(start)
	if ctx.Err() != nil {
		return ok, failed, false
	}

	if s.tracker != nil {
		s.tracker.RecordBatch(ok, failed)
	}
	if s.observer != nil {
		s.observer.RecordUnit(ref, ok, failed, elapsed, lastErr)
	}
	s.updateHealth(ctx, ref, ok, failed, lastErr)
	return ok, failed, false
}

func (s *Scheduler) pollAction(ctx context.Context, ref store.UnitRef, cmd mapping.Command) error {
	target := ref.Target()

	if _, composite := cmd.(mapping.TimeCommand); composite {
		hourDesc, minuteDesc, err := s.resolver.ResolvePair(target, cmd.Key())
		if err != nil {
			return err
		}
		hour, err := s.read(ctx, hourDesc)
		if err != nil {
			return err
		}
		minute, err := s.read(ctx, minuteDesc)
		if err != nil {
			return err
		}
		if len(hour.Values) == 0 || len(minute.Values) == 0 {
			return fmt.Errorf("empty response for %s", cmd.Key())
		}
		hhmm := mapper.FormatTime(int(hour.Values[0]), int(minute.Values[0]))
		if _, err := s.mapper.ApplyTime(ctx, ref, cmd.Key(), hhmm); err != nil {
			s.log.LogWarn("⚠️ %s %s: %v", ref, cmd.Key(), err)
		}
		return nil
	}

	desc, err := s.resolver.Resolve(target, cmd.Key())
	if err != nil {
		return err
	}
	resp, err := s.read(ctx, desc)
	if err != nil {
		return err
	}
	if _, err := s.mapper.Apply(ctx, ref, cmd.Key(), resp.Values); err != nil {
		s.log.LogWarn("⚠️ %s %s: %v", ref, cmd.Key(), err)
	}
	return nil
}

// read submits one low-priority read with the polling retry budget
func (s *Scheduler) read(ctx context.Context, desc modbus.Descriptor) (*transport.Response, error) {
	var resp *transport.Response
	policy := recovery.RetryPolicy{Attempts: s.settings.RetryAttempts, Backoff: s.settings.RetryBackoff}
	err := recovery.Retry(ctx, policy, func(attempt int) error {
		if attempt > 1 {
			s.log.LogDebug("🔁 Retry %d/%d for %s", attempt, policy.Attempts, desc)
		}
		r, err := s.queue.Submit(ctx, queue.Low, transport.Request{Descriptor: desc})
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	return resp, err
}

// updateHealth flips a unit to error when every action failed and clears a
// prior error when none did. Partial failure leaves the status alone.
func (s *Scheduler) updateHealth(ctx context.Context, ref store.UnitRef, ok, failed int, lastErr error) {
	switch {
	case ok == 0 && failed > 0:
		if err := s.data.SetStatus(ctx, ref, store.HealthError); err != nil {
			s.log.LogError("❌ Error setting health of %s: %v", ref, err)
		}
		s.log.LogWarn("🔴 Unit %s: all %d actions failed: %v", ref, failed, lastErr)
		s.publish(ctx, broadcast.LevelError, fmt.Sprintf("unit %s communication failed", ref), map[string]interface{}{
			"device_id": ref.DeviceID,
			"unit_id":   ref.UnitID,
			"failed":    failed,
			"error":     fmt.Sprint(lastErr),
		})

	case failed > 0:
		s.log.LogDebug("🟡 Unit %s: %d of %d actions failed", ref, failed, ok+failed)
		s.publish(ctx, broadcast.LevelWarn, fmt.Sprintf("unit %s partially failed", ref), map[string]interface{}{
			"device_id": ref.DeviceID,
			"unit_id":   ref.UnitID,
			"failed":    failed,
			"ok":        ok,
		})

	default:
		unit, err := s.data.GetUnit(ctx, ref)
		if err != nil || unit.Status != store.HealthError {
			return
		}
		if err := s.data.SetStatus(ctx, ref, store.HealthNormal); err != nil {
			s.log.LogError("❌ Error clearing health of %s: %v", ref, err)
			return
		}
		s.log.LogInfo("🟢 Unit %s communication restored", ref)
		s.publish(ctx, broadcast.LevelInfo, fmt.Sprintf("unit %s communication restored", ref), map[string]interface{}{
			"device_id": ref.DeviceID,
			"unit_id":   ref.UnitID,
		})
	}
}

func (s *Scheduler) publish(ctx context.Context, level broadcast.Level, msg string, data map[string]interface{}) {
	err := s.sink.PublishLog(ctx, broadcast.NewLogEvent(level, service, msg, data))
	s.metrics.IncrementBroadcasts(err)
	if err != nil {
		s.log.LogDebug("⚠️ Error broadcasting polling event: %v", err)
	}
}
