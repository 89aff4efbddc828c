// Package executor runs operator commands against a single unit: it
// resolves the action, writes a command log entry, submits the transaction
// through the queue and reports the outcome.
package executor

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"shelter-engine/pkg/broadcast"
	"shelter-engine/pkg/errors"
	"shelter-engine/pkg/logger"
	"shelter-engine/pkg/mapper"
	"shelter-engine/pkg/mapping"
	"shelter-engine/pkg/metrics"
	"shelter-engine/pkg/modbus"
	"shelter-engine/pkg/queue"
	"shelter-engine/pkg/resolver"
	"shelter-engine/pkg/store"
	"shelter-engine/pkg/transport"
)

// Submitter is the queue admission point used for commands
type Submitter interface {
	Submit(ctx context.Context, p queue.Priority, req transport.Request) (*transport.Response, error)
}

// Request is one operator command
type Request struct {
	SiteID     string
	DeviceID   string
	UnitID     string
	DeviceType string
	Action     string
	// Value is the operator value of a SET action without a fixed value
	Value interface{}
	// LogID reuses an existing waiting log entry; it is created when absent
	LogID string
}

// Ref returns the unit the request targets
func (r Request) Ref() store.UnitRef {
	return store.UnitRef{SiteID: r.SiteID, DeviceID: r.DeviceID, UnitID: r.UnitID, DeviceType: r.DeviceType}
}

// Outcome is the terminal state of one command
type Outcome struct {
	LogID   string
	Status  store.LogStatus
	Result  string
	Values  []uint16
	Updates []mapper.Update
}

// Executor runs control-path commands. It is safe for concurrent use; the
// queue serializes the actual transactions.
type Executor struct {
	resolver *resolver.Resolver
	queue    Submitter
	mapper   *mapper.Mapper
	logs     store.CommandLog
	sink     broadcast.Sink
	metrics  metrics.MetricsCollector
	log      logger.ILogger

	wg sync.WaitGroup
}

// Option configures an Executor
type Option func(*Executor)

// WithMetrics sets the metrics collector
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(e *Executor) { e.metrics = m }
}

// New creates an executor
func New(r *resolver.Resolver, q Submitter, m *mapper.Mapper, logs store.CommandLog, sink broadcast.Sink, log logger.ILogger, opts ...Option) *Executor {
	e := &Executor{
		resolver: r,
		queue:    q,
		mapper:   m,
		logs:     logs,
		sink:     sink,
		metrics:  metrics.NewNullMetrics(),
		log:      log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one command and waits for its outcome. The command log entry
// is finalized before Execute returns, whatever the result.
func (e *Executor) Execute(ctx context.Context, req Request) (*Outcome, error) {
	target := req.Ref().Target()

	cmd, err := e.resolver.Classify(target, req.Action)
	if err != nil {
		return e.reject(ctx, req, err)
	}
	capable, err := e.resolver.ProtocolCapable(target)
	if err != nil {
		return e.reject(ctx, req, err)
	}
	if !capable {
		return e.reject(ctx, req, errors.NewValidationErrorKind(errors.ValidationUnsupportedUnitType,
			"device_type", "unit with a register interface", req.DeviceType))
	}

	if c, ok := cmd.(mapping.TimeCommand); ok {
		return e.executeTime(ctx, req, c)
	}
	return e.executePlain(ctx, req)
}

func (e *Executor) executePlain(ctx context.Context, req Request) (*Outcome, error) {
	ref := req.Ref()

	desc, err := e.resolver.Resolve(ref.Target(), req.Action)
	if err != nil {
		return e.reject(ctx, req, err)
	}

	var values []uint16
	priority := queue.Normal
	if desc.Intent() == modbus.IntentWrite {
		priority = queue.High
		if !desc.HasFixedValue() {
			if missing(req.Value) {
				return e.reject(ctx, req, errors.NewValidationErrorKind(errors.ValidationMissingValue, req.Action, "a value", nil))
			}
			if values, err = e.mapper.Encode(ref, req.Action, req.Value); err != nil {
				return e.reject(ctx, req, err)
			}
		}
	}

	id, err := e.open(ctx, req)
	if err != nil {
		return nil, err
	}
	out := &Outcome{LogID: id}

	txReq := transport.Request{Descriptor: desc, Values: values}
	resp, err := e.queue.Submit(ctx, priority, txReq)
	if err != nil {
		e.finish(ctx, req, out, store.LogFail, err)
		return out, err
	}

	out.Values = resp.Values
	if len(out.Values) == 0 {
		out.Values = txReq.WriteValues()
	}
	out.Updates = e.apply(ctx, ref, req.Action, out.Values)
	out.Result = describe(out.Updates, out.Values)
	e.finish(ctx, req, out, store.LogSuccess, nil)
	return out, nil
}

// executeTime runs a time-composite command as its HOUR then MINUTE
// transactions under a single log entry
func (e *Executor) executeTime(ctx context.Context, req Request, c mapping.TimeCommand) (*Outcome, error) {
	ref := req.Ref()

	var hour, minute int
	if c.Verb() == mapping.VerbSet {
		if missing(req.Value) {
			return e.reject(ctx, req, errors.NewValidationErrorKind(errors.ValidationMissingValue, req.Action, "HH:MM", nil))
		}
		var err error
		if hour, minute, err = mapper.ParseTime(req.Action, req.Value); err != nil {
			return e.reject(ctx, req, err)
		}
	}

	hourDesc, minuteDesc, err := e.resolver.ResolvePair(ref.Target(), req.Action)
	if err != nil {
		return e.reject(ctx, req, err)
	}

	id, err := e.open(ctx, req)
	if err != nil {
		return nil, err
	}
	out := &Outcome{LogID: id}

	steps := []struct {
		key   string
		desc  modbus.Descriptor
		value int
	}{
		{c.HourKey(), hourDesc, hour},
		{c.MinuteKey(), minuteDesc, minute},
	}

	priority := queue.Normal
	if c.Verb() == mapping.VerbSet {
		priority = queue.High
	}

	var completed []string
	for i, step := range steps {
		txReq := transport.Request{Descriptor: step.desc}
		if c.Verb() == mapping.VerbSet {
			txReq.Values = []uint16{uint16(step.value)}
		}
		resp, err := e.queue.Submit(ctx, priority, txReq)
		if err == nil && c.Verb() == mapping.VerbGet && len(resp.Values) == 0 {
			err = fmt.Errorf("empty response for %s", step.key)
		}
		if err != nil {
			cerr := errors.NewCompositeError(req.Action, completed, step.key, err)
			e.finish(ctx, req, out, store.LogFail, cerr)
			return out, cerr
		}
		word := uint16(step.value)
		if c.Verb() == mapping.VerbGet {
			word = resp.Values[0]
			if i == 0 {
				hour = int(word)
			} else {
				minute = int(word)
			}
		}
		completed = append(completed, step.key)
		out.Values = append(out.Values, word)
	}

	hhmm := mapper.FormatTime(hour, minute)
	updates, err := e.mapper.ApplyTime(ctx, ref, req.Action, hhmm)
	if err != nil {
		e.log.LogWarn("⚠️ %s %s: %v", ref, req.Action, err)
	}
	out.Updates = updates
	out.Result = hhmm
	e.finish(ctx, req, out, store.LogSuccess, nil)
	return out, nil
}

// ExecuteDetached creates a waiting log entry for every request and runs
// the batch in the background, in order. It returns the log ids; outcomes
// are observable only through the command log and broadcast events.
func (e *Executor) ExecuteDetached(ctx context.Context, reqs []Request) ([]string, error) {
	ids := make([]string, 0, len(reqs))
	batch := make([]Request, 0, len(reqs))
	for _, req := range reqs {
		id, err := e.open(ctx, req)
		if err != nil {
			for i, created := range ids {
				e.finish(ctx, batch[i], &Outcome{LogID: created}, store.LogFail, fmt.Errorf("batch aborted: %w", err))
			}
			return nil, err
		}
		req.LogID = id
		ids = append(ids, id)
		batch = append(batch, req)
	}

	detached := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for _, req := range batch {
			if _, err := e.Execute(detached, req); err != nil {
				e.log.LogDebug("❌ Detached %s on %s failed: %v", req.Action, req.Ref(), err)
			}
		}
		e.log.LogDebug("✅ Detached batch of %d commands finished", len(batch))
	}()
	return ids, nil
}

// Wait blocks until every detached batch has finished
func (e *Executor) Wait() {
	e.wg.Wait()
}

// open returns the log id for req, creating a waiting entry when needed.
// A supplied id that is already terminal is refused.
func (e *Executor) open(ctx context.Context, req Request) (string, error) {
	if req.LogID != "" {
		entry, err := e.logs.Get(ctx, req.LogID)
		switch {
		case err == nil:
			if entry.Status != store.LogWaiting {
				return "", fmt.Errorf("command log %s is already %s", req.LogID, entry.Status)
			}
			return req.LogID, nil
		case !stderrors.Is(err, store.ErrNotFound):
			return "", fmt.Errorf("get command log %s: %w", req.LogID, err)
		}
	}

	id := req.LogID
	if id == "" {
		id = uuid.NewString()
	}
	entry := store.LogEntry{
		ID:        id,
		SiteID:    req.SiteID,
		DeviceID:  req.DeviceID,
		UnitID:    req.UnitID,
		Action:    req.Action,
		Value:     valueString(req.Value),
		CreatedAt: time.Now(),
	}
	if err := e.logs.Create(ctx, entry); err != nil {
		return "", fmt.Errorf("create command log: %w", err)
	}
	return id, nil
}

// reject fails a command before any transaction. A supplied log id is
// finalized; without one nothing is recorded.
func (e *Executor) reject(ctx context.Context, req Request, cause error) (*Outcome, error) {
	e.log.LogWarn("⚠️ Command %s on %s rejected: %v", req.Action, req.Ref(), cause)
	out := &Outcome{Status: store.LogFail}
	if req.LogID == "" {
		e.metrics.IncrementCommands("rejected")
		return out, cause
	}

	id, err := e.open(ctx, req)
	if err != nil {
		e.log.LogError("❌ Cannot record rejected command %s: %v", req.Action, err)
		return out, cause
	}
	out.LogID = id
	e.finish(ctx, req, out, store.LogFail, cause)
	return out, cause
}

// finish finalizes the log entry and broadcasts the outcome once
func (e *Executor) finish(ctx context.Context, req Request, out *Outcome, status store.LogStatus, cause error) {
	out.Status = status
	var errMsg string
	if cause != nil {
		errMsg = cause.Error()
	}

	// Finalization must happen even when the caller gave up
	ctx = context.WithoutCancel(ctx)
	applied, err := e.logs.Finalize(ctx, out.LogID, status, out.Result, errMsg)
	if err != nil {
		e.log.LogError("❌ Error finalizing command log %s: %v", out.LogID, err)
		return
	}
	if !applied {
		e.log.LogWarn("⚠️ Command log %s was already finalized", out.LogID)
		return
	}
	e.metrics.IncrementCommands(string(status))

	if status == store.LogSuccess {
		e.log.LogInfo("✅ Command %s on %s: %s", req.Action, req.Ref(), out.Result)
	} else {
		e.log.LogError("❌ Command %s on %s failed: %v", req.Action, req.Ref(), cause)
	}

	event := broadcast.CommandEvent{
		LogID:     out.LogID,
		SiteID:    req.SiteID,
		DeviceID:  req.DeviceID,
		UnitID:    req.UnitID,
		Action:    req.Action,
		Status:    string(status),
		Value:     out.Result,
		Error:     errMsg,
		Timestamp: time.Now(),
	}
	err = e.sink.PublishCommand(ctx, event)
	e.metrics.IncrementBroadcasts(err)
	if err != nil {
		e.log.LogDebug("⚠️ Error broadcasting command %s: %v", out.LogID, err)
	}
}

// apply hands a successful transaction to the mapper. A mapping failure is
// logged and does not fail the command.
func (e *Executor) apply(ctx context.Context, ref store.UnitRef, action string, values []uint16) []mapper.Update {
	if len(values) == 0 {
		return nil
	}
	updates, err := e.mapper.Apply(ctx, ref, action, values)
	if err != nil {
		var me *errors.MappingError
		if stderrors.As(err, &me) && me.Kind == errors.MappingUnknownField {
			e.log.LogDebug("No field mapped for %s", action)
			return nil
		}
		e.log.LogWarn("⚠️ %s %s: %v", ref, action, err)
		return nil
	}
	return updates
}

func describe(updates []mapper.Update, values []uint16) string {
	if len(updates) == 0 {
		return fmt.Sprint(values)
	}
	parts := make([]string, 0, len(updates))
	for _, u := range updates {
		parts = append(parts, fmt.Sprintf("%s=%v", u.Field, u.Value))
	}
	return strings.Join(parts, ",")
}

func missing(v interface{}) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func valueString(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
