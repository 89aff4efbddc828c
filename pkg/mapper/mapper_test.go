package mapper_test

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelter-engine/pkg/cache"
	"shelter-engine/pkg/errors"
	"shelter-engine/pkg/logger"
	"shelter-engine/pkg/mapper"
	"shelter-engine/pkg/mapping"
	"shelter-engine/pkg/mapping/mappingtest"
	"shelter-engine/pkg/resolver"
	"shelter-engine/pkg/store"
)

var (
	cooler = store.UnitRef{SiteID: "c0101", DeviceID: "d0101", UnitID: "u001", DeviceType: "cooler"}
	sensor = store.UnitRef{SiteID: "c0101", DeviceID: "d0101", UnitID: "s001", DeviceType: "sensor"}
)

func newMapper(t *testing.T) (*mapper.Mapper, *store.MemoryStore) {
	t.Helper()
	data := store.NewMemoryStore()
	r := resolver.New(mappingtest.Table(t), cache.New(), logger.NewMockLogger())
	return mapper.New(r, data, logger.NewMockLogger()), data
}

func field(t *testing.T, s *store.MemoryStore, ref store.UnitRef, name string) interface{} {
	t.Helper()
	v, ok, err := s.GetField(context.Background(), ref, name)
	require.NoError(t, err)
	require.True(t, ok, "field %s not set", name)
	return v
}

func TestApplyTemperature(t *testing.T) {
	m, data := newMapper(t)

	updates, err := m.Apply(context.Background(), cooler, "GET_CUR_TEMP", []uint16{220})
	require.NoError(t, err)
	assert.Equal(t, []mapper.Update{{Field: "cur_temp", Value: 22.0}}, updates)
	assert.Equal(t, 22.0, field(t, data, cooler, "cur_temp"))

	// Fixed-point temperatures are signed
	_, err = m.Apply(context.Background(), cooler, "GET_CUR_TEMP", []uint16{0xFFEC})
	require.NoError(t, err)
	assert.Equal(t, -2.0, field(t, data, cooler, "cur_temp"))
}

func TestApplyTransforms(t *testing.T) {
	m, data := newMapper(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		ref    store.UnitRef
		action string
		raw    uint16
		field  string
		want   interface{}
	}{
		{"bool on", cooler, "GET_POWER", 1, "power", true},
		{"bool off", cooler, "GET_AUTO_MODE", 0, "auto_mode", false},
		{"write echo through field override", cooler, "SET_POWER_ON", 1, "power", true},
		{"none", cooler, "GET_FAN_SPEED", 3, "fan_speed", 3},
		{"scale", sensor, "GET_HUMIDITY", 455, "humidity", 45.5},
		{"formula", sensor, "GET_VOLTAGE", 1200, "voltage", 13.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Apply(ctx, tt.ref, tt.action, []uint16{tt.raw})
			require.NoError(t, err)
			assert.Equal(t, tt.want, field(t, data, tt.ref, tt.field))
		})
	}
}

func TestApplyUnknownField(t *testing.T) {
	m, _ := newMapper(t)

	_, err := m.Apply(context.Background(), cooler, "GET_NOTHING", []uint16{1})
	var me *errors.MappingError
	require.True(t, stderrors.As(err, &me))
	assert.Equal(t, errors.MappingUnknownField, me.Kind)
}

func TestApplyHalfRecomputesComposite(t *testing.T) {
	m, data := newMapper(t)
	ctx := context.Background()

	// Unknown sibling counts as zero
	updates, err := m.Apply(ctx, cooler, "SET_START_TIME_1_HOUR", []uint16{7})
	require.NoError(t, err)
	assert.Equal(t, []mapper.Update{
		{Field: "start_time_1_hour", Value: 7},
		{Field: "start_time_1", Value: "07:00"},
	}, updates)

	_, err = m.Apply(ctx, cooler, "SET_START_TIME_1_MINUTE", []uint16{30})
	require.NoError(t, err)
	assert.Equal(t, "07:30", field(t, data, cooler, "start_time_1"))
	assert.Equal(t, 30, field(t, data, cooler, "start_time_1_minute"))

	_, err = m.Apply(ctx, cooler, "GET_START_TIME_1_HOUR", []uint16{18})
	require.NoError(t, err)
	assert.Equal(t, "18:30", field(t, data, cooler, "start_time_1"))
}

func TestApplyTimeWritesAllThreeFields(t *testing.T) {
	m, data := newMapper(t)

	updates, err := m.ApplyTime(context.Background(), cooler, "GET_START_TIME_1", "06:05")
	require.NoError(t, err)
	assert.Len(t, updates, 3)
	assert.Equal(t, "06:05", field(t, data, cooler, "start_time_1"))
	assert.Equal(t, 6, field(t, data, cooler, "start_time_1_hour"))
	assert.Equal(t, 5, field(t, data, cooler, "start_time_1_minute"))

	_, err = m.ApplyTime(context.Background(), cooler, "GET_CUR_TEMP", "06:05")
	assert.Error(t, err)
}

func TestEncode(t *testing.T) {
	m, _ := newMapper(t)

	tests := []struct {
		name   string
		action string
		value  interface{}
		want   uint16
	}{
		{"temperature string", "SET_TARGET_TEMP", "21.5", 215},
		{"temperature number", "SET_TARGET_TEMP", 18.0, 180},
		{"negative temperature", "SET_TARGET_TEMP", -2, 0xFFEC},
		{"bool word", "SET_AUTO_MODE", "on", 1},
		{"bool false", "SET_AUTO_MODE", false, 0},
		{"time half", "SET_START_TIME_1_MINUTE", 45, 45},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			words, err := m.Encode(cooler, tt.action, tt.value)
			require.NoError(t, err)
			assert.Equal(t, []uint16{tt.want}, words)
		})
	}

	_, err := m.Encode(cooler, "SET_TARGET_TEMP", "warm")
	var ve *errors.ValidationError
	require.True(t, stderrors.As(err, &ve))
	assert.Equal(t, errors.ValidationBadValue, ve.Kind)
}

func TestEncodeTimeHalfBounds(t *testing.T) {
	m, _ := newMapper(t)

	tests := []struct {
		action string
		value  interface{}
	}{
		{"SET_START_TIME_1_HOUR", 24},
		{"SET_START_TIME_1_HOUR", 65543},
		{"SET_START_TIME_1_MINUTE", 60},
	}
	for _, tt := range tests {
		_, err := m.Encode(cooler, tt.action, tt.value)
		var ve *errors.ValidationError
		require.True(t, stderrors.As(err, &ve), "%s=%v", tt.action, tt.value)
		assert.Equal(t, errors.ValidationMalformedTime, ve.Kind)
	}

	words, err := m.Encode(cooler, "SET_START_TIME_1_HOUR", 23)
	require.NoError(t, err)
	assert.Equal(t, []uint16{23}, words)
}

func TestTransformScaleRounds(t *testing.T) {
	spec := mapping.FieldSpec{Name: "humidity", Transform: mapping.TransformScale, Factor: 0.1}
	v, err := mapper.Transform(spec, []uint16{455})
	require.NoError(t, err)
	assert.Equal(t, 45.5, v)
}
