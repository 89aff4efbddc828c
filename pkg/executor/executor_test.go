package executor_test

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelter-engine/pkg/broadcast/broadcasttest"
	"shelter-engine/pkg/cache"
	"shelter-engine/pkg/errors"
	"shelter-engine/pkg/executor"
	"shelter-engine/pkg/logger"
	"shelter-engine/pkg/mapper"
	"shelter-engine/pkg/mapping/mappingtest"
	"shelter-engine/pkg/queue"
	"shelter-engine/pkg/resolver"
	"shelter-engine/pkg/store"
	"shelter-engine/pkg/transport"
	"shelter-engine/pkg/transport/transporttest"
)

// recordingSubmitter sends straight to the fake link and keeps the
// priority of every submission
type recordingSubmitter struct {
	fake       *transporttest.Fake
	mu         sync.Mutex
	priorities []queue.Priority
}

func (r *recordingSubmitter) Submit(ctx context.Context, p queue.Priority, req transport.Request) (*transport.Response, error) {
	r.mu.Lock()
	r.priorities = append(r.priorities, p)
	r.mu.Unlock()
	return r.fake.Execute(ctx, req)
}

func (r *recordingSubmitter) Priorities() []queue.Priority {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]queue.Priority(nil), r.priorities...)
}

type testEnv struct {
	fake  *transporttest.Fake
	sub   *recordingSubmitter
	data  *store.MemoryStore
	sink  *broadcasttest.Recorder
	exec  *executor.Executor
	unit1 store.UnitRef
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.NewMockLogger()
	table := mappingtest.Table(t)
	data := store.NewMemoryStore()
	r := resolver.New(table, cache.New(), log)

	env := &testEnv{
		fake:  transporttest.New(),
		data:  data,
		sink:  &broadcasttest.Recorder{},
		unit1: store.UnitRef{SiteID: "c0101", DeviceID: "d0101", UnitID: "u001", DeviceType: "cooler"},
	}
	env.sub = &recordingSubmitter{fake: env.fake}
	env.fake.SetRegister(1, 120, 220)
	env.exec = executor.New(r, env.sub, mapper.New(r, data, log), data, env.sink, log)
	return env
}

func cooler(unit, action string, value interface{}) executor.Request {
	return executor.Request{SiteID: "c0101", DeviceID: "d0101", UnitID: unit, DeviceType: "cooler", Action: action, Value: value}
}

func (e *testEnv) entry(t *testing.T, id string) *store.LogEntry {
	t.Helper()
	entry, err := e.data.Get(context.Background(), id)
	require.NoError(t, err)
	return entry
}

func (e *testEnv) field(t *testing.T, name string) interface{} {
	t.Helper()
	v, ok, err := e.data.GetField(context.Background(), e.unit1, name)
	require.NoError(t, err)
	require.True(t, ok, "field %s not set", name)
	return v
}

func TestExecuteRead(t *testing.T) {
	env := newEnv(t)

	out, err := env.exec.Execute(context.Background(), cooler("u001", "GET_CUR_TEMP", nil))
	require.NoError(t, err)
	assert.Equal(t, store.LogSuccess, out.Status)
	assert.Equal(t, []uint16{220}, out.Values)
	assert.Equal(t, "cur_temp=22", out.Result)
	assert.Equal(t, 22.0, env.field(t, "cur_temp"))
	assert.Equal(t, []queue.Priority{queue.Normal}, env.sub.Priorities())

	entry := env.entry(t, out.LogID)
	assert.Equal(t, store.LogSuccess, entry.Status)
	assert.Equal(t, "GET_CUR_TEMP", entry.Action)

	events := env.sink.Commands()
	require.Len(t, events, 1)
	assert.Equal(t, out.LogID, events[0].LogID)
	assert.Equal(t, "success", events[0].Status)
	assert.Equal(t, "u001", events[0].UnitID)
}

func TestExecuteWrite(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	out, err := env.exec.Execute(ctx, cooler("u001", "SET_TARGET_TEMP", "21.5"))
	require.NoError(t, err)
	assert.Equal(t, uint16(215), env.fake.Register(1, 121))
	assert.Equal(t, 21.5, env.field(t, "target_temp"))
	assert.Equal(t, "21.5", env.entry(t, out.LogID).Value)

	// Fixed-value write needs no operator value
	_, err = env.exec.Execute(ctx, cooler("u001", "SET_POWER_ON", nil))
	require.NoError(t, err)
	assert.True(t, env.fake.Bit(1, 0))
	assert.Equal(t, true, env.field(t, "power"))

	assert.Equal(t, []queue.Priority{queue.High, queue.High}, env.sub.Priorities())
}

func TestExecuteRejections(t *testing.T) {
	tests := []struct {
		name    string
		req     executor.Request
		checkFn func(t *testing.T, err error)
	}{
		{
			name: "missing value",
			req:  cooler("u001", "SET_TARGET_TEMP", nil),
			checkFn: func(t *testing.T, err error) {
				var ve *errors.ValidationError
				require.True(t, stderrors.As(err, &ve))
				assert.Equal(t, errors.ValidationMissingValue, ve.Kind)
			},
		},
		{
			name: "unit without register interface",
			req:  executor.Request{SiteID: "c0101", DeviceID: "d0101", UnitID: "door1", DeviceType: "door", Action: "GET_OPEN"},
			checkFn: func(t *testing.T, err error) {
				var ve *errors.ValidationError
				require.True(t, stderrors.As(err, &ve))
				assert.Equal(t, errors.ValidationUnsupportedUnitType, ve.Kind)
			},
		},
		{
			name: "unknown unit",
			req:  cooler("u404", "GET_CUR_TEMP", nil),
			checkFn: func(t *testing.T, err error) {
				var me *errors.MappingError
				require.True(t, stderrors.As(err, &me))
				assert.Equal(t, errors.MappingUnknownUnit, me.Kind)
			},
		},
		{
			name: "unsupported action",
			req:  cooler("u001", "SET_FAN_SPEED", 3),
			checkFn: func(t *testing.T, err error) {
				var me *errors.MappingError
				require.True(t, stderrors.As(err, &me))
				assert.Equal(t, errors.MappingUnsupportedCommand, me.Kind)
			},
		},
		{
			name: "malformed time",
			req:  cooler("u001", "SET_START_TIME_1", "25:99"),
			checkFn: func(t *testing.T, err error) {
				var ve *errors.ValidationError
				require.True(t, stderrors.As(err, &ve))
				assert.Equal(t, errors.ValidationMalformedTime, ve.Kind)
			},
		},
		{
			name: "hour half out of range",
			req:  cooler("u001", "SET_START_TIME_1_HOUR", 24),
			checkFn: func(t *testing.T, err error) {
				var ve *errors.ValidationError
				require.True(t, stderrors.As(err, &ve))
				assert.Equal(t, errors.ValidationMalformedTime, ve.Kind)
			},
		},
		{
			name: "hour half beyond register width",
			req:  cooler("u001", "SET_START_TIME_1_HOUR", 65543),
			checkFn: func(t *testing.T, err error) {
				var ve *errors.ValidationError
				require.True(t, stderrors.As(err, &ve))
				assert.Equal(t, errors.ValidationMalformedTime, ve.Kind)
			},
		},
		{
			name: "minute half out of range",
			req:  cooler("u001", "SET_START_TIME_1_MINUTE", "60"),
			checkFn: func(t *testing.T, err error) {
				var ve *errors.ValidationError
				require.True(t, stderrors.As(err, &ve))
				assert.Equal(t, errors.ValidationMalformedTime, ve.Kind)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t)
			out, err := env.exec.Execute(context.Background(), tt.req)
			require.Error(t, err)
			tt.checkFn(t, err)
			assert.Equal(t, store.LogFail, out.Status)
			assert.Empty(t, out.LogID, "no log entry without a supplied id")
			assert.Empty(t, env.fake.Calls(), "rejected before any transaction")
		})
	}
}

func TestRejectFinalizesSuppliedLog(t *testing.T) {
	env := newEnv(t)
	req := cooler("u001", "SET_START_TIME_1", "25:99")
	req.LogID = "log-1"

	out, err := env.exec.Execute(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, "log-1", out.LogID)

	entry := env.entry(t, "log-1")
	assert.Equal(t, store.LogFail, entry.Status)
	assert.Contains(t, entry.Error, "malformed time")
	assert.Empty(t, env.fake.Calls())
}

func TestExecuteLinkFailure(t *testing.T) {
	env := newEnv(t)

	// Slave 2 never answers
	out, err := env.exec.Execute(context.Background(), cooler("u002", "GET_CUR_TEMP", nil))
	var te *errors.TransactionError
	require.True(t, stderrors.As(err, &te))
	assert.Equal(t, store.LogFail, env.entry(t, out.LogID).Status)

	events := env.sink.Commands()
	require.Len(t, events, 1)
	assert.Equal(t, "fail", events[0].Status)
	assert.NotEmpty(t, events[0].Error)
}

func TestExecuteTimeComposite(t *testing.T) {
	for _, value := range []interface{}{"07:30", 730, "7:30"} {
		env := newEnv(t)

		out, err := env.exec.Execute(context.Background(), cooler("u001", "SET_START_TIME_1", value))
		require.NoError(t, err, "value %v", value)
		assert.Equal(t, "07:30", out.Result)
		assert.Equal(t, uint16(7), env.fake.Register(1, 130))
		assert.Equal(t, uint16(30), env.fake.Register(1, 131))
		assert.Equal(t, "07:30", env.field(t, "start_time_1"))
		assert.Equal(t, 7, env.field(t, "start_time_1_hour"))
		assert.Equal(t, 30, env.field(t, "start_time_1_minute"))

		// Both halves share the log entry
		calls := env.fake.Calls()
		require.Len(t, calls, 2)
		assert.Equal(t, uint16(130), calls[0].Descriptor.Address)
		assert.Equal(t, uint16(131), calls[1].Descriptor.Address)
		assert.Len(t, env.sink.Commands(), 1)
		assert.Equal(t, store.LogSuccess, env.entry(t, out.LogID).Status)
	}
}

func TestExecuteTimeCompositeRead(t *testing.T) {
	env := newEnv(t)
	env.fake.SetRegister(1, 130, 18)
	env.fake.SetRegister(1, 131, 5)

	out, err := env.exec.Execute(context.Background(), cooler("u001", "GET_START_TIME_1", nil))
	require.NoError(t, err)
	assert.Equal(t, "18:05", out.Result)
	assert.Equal(t, []uint16{18, 5}, out.Values)
	assert.Equal(t, "18:05", env.field(t, "start_time_1"))
	assert.Equal(t, []queue.Priority{queue.Normal, queue.Normal}, env.sub.Priorities())
}

func TestExecuteTimeCompositePartialFailure(t *testing.T) {
	env := newEnv(t)
	env.fake.FailWhen(func(req transport.Request) error {
		if req.Descriptor.Address == 131 {
			return transporttest.LinkDown(req)
		}
		return nil
	})

	out, err := env.exec.Execute(context.Background(), cooler("u001", "SET_START_TIME_1", "07:30"))
	var ce *errors.CompositeError
	require.True(t, stderrors.As(err, &ce))
	assert.Equal(t, []string{"SET_START_TIME_1_HOUR"}, ce.Completed)
	assert.Equal(t, "SET_START_TIME_1_MINUTE", ce.Failed)

	assert.Equal(t, uint16(7), env.fake.Register(1, 130))
	assert.Equal(t, store.LogFail, env.entry(t, out.LogID).Status)
	_, ok, _ := env.data.GetField(context.Background(), env.unit1, "start_time_1")
	assert.False(t, ok, "composite field is not written on failure")
}

func TestLogReuseFinalizesOnce(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	require.NoError(t, env.data.Create(ctx, store.LogEntry{ID: "log-7", SiteID: "c0101", DeviceID: "d0101", UnitID: "u001", Action: "GET_CUR_TEMP"}))

	req := cooler("u001", "GET_CUR_TEMP", nil)
	req.LogID = "log-7"
	out, err := env.exec.Execute(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "log-7", out.LogID)
	assert.Equal(t, store.LogSuccess, env.entry(t, "log-7").Status)

	// A terminal entry is never executed or finalized again
	_, err = env.exec.Execute(ctx, req)
	require.Error(t, err)
	assert.Len(t, env.fake.Calls(), 1)
	assert.Len(t, env.sink.Commands(), 1)
	assert.Equal(t, store.LogSuccess, env.entry(t, "log-7").Status)
}

func TestExecuteDetached(t *testing.T) {
	env := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	ids, err := env.exec.ExecuteDetached(ctx, []executor.Request{
		cooler("u001", "SET_TARGET_TEMP", 20),
		cooler("u001", "GET_CUR_TEMP", nil),
		cooler("u002", "GET_CUR_TEMP", nil),
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)

	// Entries exist as soon as the call returns, and the batch outlives ctx
	for _, id := range ids {
		_, err := env.data.Get(context.Background(), id)
		require.NoError(t, err)
	}
	cancel()
	env.exec.Wait()

	assert.Equal(t, store.LogSuccess, env.entry(t, ids[0]).Status)
	assert.Equal(t, store.LogSuccess, env.entry(t, ids[1]).Status)
	assert.Equal(t, store.LogFail, env.entry(t, ids[2]).Status)

	events := env.sink.Commands()
	require.Len(t, events, 3)
	for i, id := range ids {
		assert.Equal(t, id, events[i].LogID)
	}
	assert.Equal(t, uint16(200), env.fake.Register(1, 121))
}
