// Package mapper turns raw transaction results into semantic unit fields.
// It is the only writer of unit data; polling and control both go through it.
package mapper

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"shelter-engine/pkg/errors"
	"shelter-engine/pkg/logger"
	"shelter-engine/pkg/mapping"
	"shelter-engine/pkg/resolver"
	"shelter-engine/pkg/store"
)

// Update is one field written on a unit
type Update struct {
	Field string      `json:"field"`
	Value interface{} `json:"value"`
}

// Mapper applies results to the unit data store
type Mapper struct {
	resolver *resolver.Resolver
	data     store.UnitData
	log      logger.ILogger
}

// New creates a mapper that reads field mappings through the resolver
func New(r *resolver.Resolver, data store.UnitData, log logger.ILogger) *Mapper {
	if log == nil {
		log = logger.NewStandardLogger()
	}
	return &Mapper{resolver: r, data: data, log: log}
}

func (m *Mapper) field(ref store.UnitRef, action string) (mapping.FieldRef, error) {
	dt, unit, err := m.resolver.Lookup(ref.Target())
	if err != nil {
		return mapping.FieldRef{}, err
	}
	f, ok := dt.FieldFor(unit, action)
	if !ok {
		return mapping.FieldRef{}, errors.NewMappingError(errors.MappingUnknownField,
			ref.SiteID, ref.DeviceType, ref.UnitID, action)
	}
	return f, nil
}

// Apply maps the words of one plain transaction onto the action's field.
// An HOUR or MINUTE action also rewrites the HH:MM composite using the
// sibling half's last known value.
func (m *Mapper) Apply(ctx context.Context, ref store.UnitRef, action string, words []uint16) ([]Update, error) {
	if len(words) == 0 {
		return nil, errors.NewValidationErrorKind(errors.ValidationBadValue, action, "at least one word", words)
	}
	f, err := m.field(ref, action)
	if err != nil {
		return nil, err
	}

	if f.Half != mapping.HalfNone {
		return m.applyHalf(ctx, ref, f, int(words[0]))
	}

	value, err := Transform(f.Spec, words)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", ref, action, err)
	}
	if err := m.data.SetField(ctx, ref, f.Spec.Name, value); err != nil {
		return nil, fmt.Errorf("write %s of %s: %w", f.Spec.Name, ref, err)
	}
	m.log.LogDebug("📝 %s %s = %v (%s)", ref, f.Spec.Name, value, action)
	return []Update{{Field: f.Spec.Name, Value: value}}, nil
}

func (m *Mapper) applyHalf(ctx context.Context, ref store.UnitRef, f mapping.FieldRef, value int) ([]Update, error) {
	if err := m.data.SetField(ctx, ref, f.Name(), value); err != nil {
		return nil, fmt.Errorf("write %s of %s: %w", f.Name(), ref, err)
	}

	sibling := 0
	if v, ok, err := m.data.GetField(ctx, ref, f.SiblingName()); err != nil {
		return nil, fmt.Errorf("read %s of %s: %w", f.SiblingName(), ref, err)
	} else if ok {
		if n, convOK := toInt(v); convOK {
			sibling = n
		}
	}

	hour, minute := value, sibling
	if f.Half == mapping.HalfMinute {
		hour, minute = sibling, value
	}
	composite := FormatTime(hour, minute)
	if err := m.data.SetField(ctx, ref, f.Spec.Name, composite); err != nil {
		return nil, fmt.Errorf("write %s of %s: %w", f.Spec.Name, ref, err)
	}
	return []Update{{Field: f.Name(), Value: value}, {Field: f.Spec.Name, Value: composite}}, nil
}

// ApplyTime writes a recombined HH:MM value read by a composite action,
// together with both of its halves
func (m *Mapper) ApplyTime(ctx context.Context, ref store.UnitRef, action, hhmm string) ([]Update, error) {
	f, err := m.field(ref, action)
	if err != nil {
		return nil, err
	}
	if !f.Spec.IsTime() || f.Half != mapping.HalfNone {
		return nil, errors.NewMappingError(errors.MappingUnsupportedCommand, ref.SiteID, ref.DeviceType, ref.UnitID, action)
	}
	hour, minute, err := ParseTime(f.Spec.Name, hhmm)
	if err != nil {
		return nil, err
	}

	updates := []Update{
		{Field: f.Spec.Name + "_" + mapping.HalfHour.String(), Value: hour},
		{Field: f.Spec.Name + "_" + mapping.HalfMinute.String(), Value: minute},
		{Field: f.Spec.Name, Value: FormatTime(hour, minute)},
	}
	for _, u := range updates {
		if err := m.data.SetField(ctx, ref, u.Field, u.Value); err != nil {
			return nil, fmt.Errorf("write %s of %s: %w", u.Field, ref, err)
		}
	}
	return updates, nil
}

// Encode converts an operator value into the words written by action.
// It is the inverse of Transform for the action's field.
func (m *Mapper) Encode(ref store.UnitRef, action string, value interface{}) ([]uint16, error) {
	f, err := m.field(ref, action)
	if err != nil {
		// Writes without a mapped field carry raw register values
		var me *errors.MappingError
		if !stderrors.As(err, &me) || me.Kind != errors.MappingUnknownField {
			return nil, err
		}
		f = mapping.FieldRef{Spec: mapping.FieldSpec{Name: action}}
	}

	if f.Half != mapping.HalfNone {
		n, ok := toInt(value)
		if !ok || n < 0 {
			return nil, errors.NewValidationErrorKind(errors.ValidationBadValue, f.Name(), "integer", value)
		}
		limit := 59
		if f.Half == mapping.HalfHour {
			limit = 23
		}
		if n > limit {
			return nil, errors.NewValidationErrorKind(errors.ValidationMalformedTime, f.Name(), fmt.Sprintf("0-%d", limit), value)
		}
		return []uint16{uint16(n)}, nil
	}

	word, err := encodeWord(f.Spec, value)
	if err != nil {
		return nil, err
	}
	return []uint16{word}, nil
}

// Transform applies a field's numeric transform to the raw words
func Transform(spec mapping.FieldSpec, words []uint16) (interface{}, error) {
	raw := words[0]
	switch spec.Transform {
	case mapping.TransformTemperature:
		return float64(int16(raw)) / 10, nil
	case mapping.TransformBool:
		return raw != 0, nil
	case mapping.TransformScale:
		return round(float64(raw) * spec.Factor), nil
	case mapping.TransformFormula:
		v, err := EvaluateFormula(spec.Formula, float64(raw))
		if err != nil {
			return nil, err
		}
		return round(v), nil
	case "", mapping.TransformNone:
		if len(words) > 1 {
			out := make([]int, len(words))
			for i, w := range words {
				out[i] = int(w)
			}
			return out, nil
		}
		return int(raw), nil
	default:
		return nil, fmt.Errorf("unknown transform %q", spec.Transform)
	}
}

func encodeWord(spec mapping.FieldSpec, value interface{}) (uint16, error) {
	bad := func(expected string) error {
		return errors.NewValidationErrorKind(errors.ValidationBadValue, spec.Name, expected, value)
	}

	if spec.Transform == mapping.TransformBool {
		b, ok := toBool(value)
		if !ok {
			return 0, bad("boolean")
		}
		if b {
			return 1, nil
		}
		return 0, nil
	}

	f, ok := toFloat(value)
	if !ok {
		return 0, bad("number")
	}

	switch spec.Transform {
	case mapping.TransformTemperature:
		scaled := math.Round(f * 10)
		if scaled < math.MinInt16 || scaled > math.MaxInt16 {
			return 0, bad("temperature within register range")
		}
		return uint16(int16(scaled)), nil
	case mapping.TransformScale:
		f = math.Round(f / spec.Factor)
	default:
		// Formula fields are not invertible; the value is taken as raw
		f = math.Round(f)
	}
	if f < 0 || f > math.MaxUint16 {
		return 0, bad("value within register range")
	}
	return uint16(f), nil
}

func round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint16:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toInt(v interface{}) (int, bool) {
	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func toBool(v interface{}) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "1", "true", "on":
			return true, true
		case "0", "false", "off":
			return false, true
		}
		return false, false
	}
	if f, ok := toFloat(v); ok {
		return f != 0, true
	}
	return false, false
}
