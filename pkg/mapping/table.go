package mapping

import (
	"fmt"
	"sort"

	"shelter-engine/pkg/modbus"
)

// Field kinds
const (
	KindValue = "value"
	KindTime  = "time"
)

// Transform names
const (
	TransformNone        = "none"
	TransformTemperature = "temperature"
	TransformBool        = "bool"
	TransformScale       = "scale"
	TransformFormula     = "formula"
)

// ProtocolNone marks a device type that has no register interface
const ProtocolNone = "none"

// Target addresses one unit within the mapping table
type Target struct {
	SiteID     string
	DeviceType string
	UnitID     string
}

// String returns site/type/unit
func (t Target) String() string {
	return t.SiteID + "/" + t.DeviceType + "/" + t.UnitID
}

// Table is the immutable per-site port mapping loaded at startup
type Table struct {
	Version string           `yaml:"version"`
	Sites   map[string]*Site `yaml:"sites"`
}

// Site groups the device types installed in one shelter
type Site struct {
	Name        string                 `yaml:"name"`
	DeviceTypes map[string]*DeviceType `yaml:"device_types"`
}

// DeviceType describes how every unit of one kind is addressed
type DeviceType struct {
	Protocol string                 `yaml:"protocol"`
	Fields   map[string]FieldSpec   `yaml:"fields"`
	Commands map[string]CommandSpec `yaml:"commands"`
	Units    map[string]*Unit       `yaml:"units"`
}

// Unit is one addressable unit; its commands override the device type's
type Unit struct {
	DeviceID string                 `yaml:"device"`
	SlaveID  uint8                  `yaml:"slave_id"`
	Commands map[string]CommandSpec `yaml:"commands"`
}

// CommandSpec is the table form of a transaction descriptor
type CommandSpec struct {
	FunctionCode uint8   `yaml:"function_code"`
	Address      uint16  `yaml:"address"`
	Length       uint16  `yaml:"length"`
	Value        *uint16 `yaml:"value,omitempty"`
	Field        string  `yaml:"field,omitempty"`
}

// FieldSpec maps a command base to a unit data field
type FieldSpec struct {
	Name      string  `yaml:"name"`
	Kind      string  `yaml:"kind"`
	Transform string  `yaml:"transform"`
	Factor    float64 `yaml:"factor"`
	Formula   string  `yaml:"formula"`
}

// IsTime reports whether the field is a composite HH:MM value
func (f FieldSpec) IsTime() bool {
	return f.Kind == KindTime
}

// FieldRef is the resolved destination of a command result
type FieldRef struct {
	Spec FieldSpec
	Base string
	Half TimeHalf
}

// Name returns the unit data field written by the command
func (r FieldRef) Name() string {
	if r.Half == HalfNone {
		return r.Spec.Name
	}
	return r.Spec.Name + "_" + r.Half.String()
}

// SiblingName returns the other half's field name for time sub-fields
func (r FieldRef) SiblingName() string {
	return r.Spec.Name + "_" + r.Half.Sibling().String()
}

// ProtocolCapable reports whether units of this type accept register transactions
func (dt *DeviceType) ProtocolCapable() bool {
	return dt.Protocol != ProtocolNone
}

// Classify turns a command key into the tagged command model
func (dt *DeviceType) Classify(key string) (Command, bool) {
	verb, base, ok := SplitKey(key)
	if !ok {
		return nil, false
	}
	if spec, exists := dt.Fields[base]; exists && spec.IsTime() {
		return TimeCommand{key: key, verb: verb, base: base}, true
	}
	return PlainCommand{key: key, verb: verb, base: base}, true
}

// commandSpec returns the unit override or the device type default
func (dt *DeviceType) commandSpec(unit *Unit, key string) (CommandSpec, bool) {
	if unit != nil {
		if spec, ok := unit.Commands[key]; ok {
			return spec, true
		}
	}
	spec, ok := dt.Commands[key]
	return spec, ok
}

// HasCommand reports whether a unit supports a command key
func (dt *DeviceType) HasCommand(unit *Unit, key string) bool {
	_, ok := dt.commandSpec(unit, key)
	return ok
}

// Descriptor builds the transaction descriptor of key for unit
func (dt *DeviceType) Descriptor(unit *Unit, key string) (modbus.Descriptor, bool) {
	spec, ok := dt.commandSpec(unit, key)
	if !ok {
		return modbus.Descriptor{}, false
	}
	var slaveID uint8
	if unit != nil {
		slaveID = unit.SlaveID
	}
	return spec.descriptor(slaveID), true
}

func (s CommandSpec) descriptor(slaveID uint8) modbus.Descriptor {
	d := modbus.Descriptor{
		SlaveID:      slaveID,
		FunctionCode: modbus.FunctionCode(s.FunctionCode),
		Address:      s.Address,
		Length:       max(s.Length, 1),
	}
	if s.Value != nil {
		d.FixedValue = modbus.Uint16(*s.Value)
	}
	return d
}

// FieldFor resolves which field a command writes, following a command's
// field override and the _HOUR/_MINUTE convention for time fields
func (dt *DeviceType) FieldFor(unit *Unit, key string) (FieldRef, bool) {
	_, base, ok := SplitKey(key)
	if !ok {
		return FieldRef{}, false
	}
	if spec, exists := dt.commandSpec(unit, key); exists && spec.Field != "" {
		base = spec.Field
	}

	if spec, exists := dt.Fields[base]; exists {
		return FieldRef{Spec: spec, Base: base}, true
	}

	parent, half := splitHalf(base)
	if half != HalfNone {
		if spec, exists := dt.Fields[parent]; exists && spec.IsTime() {
			return FieldRef{Spec: spec, Base: parent, Half: half}, true
		}
	}
	return FieldRef{}, false
}

// PollActions lists the GET actions of a unit in key order, with time
// sub-commands collapsed into their composite command
func (dt *DeviceType) PollActions(unit *Unit) []Command {
	keys := make(map[string]struct{})
	for key := range dt.Commands {
		keys[key] = struct{}{}
	}
	if unit != nil {
		for key := range unit.Commands {
			keys[key] = struct{}{}
		}
	}

	seen := make(map[string]bool)
	actions := make([]Command, 0, len(keys))
	for _, key := range sortedKeys(keys) {
		verb, base, ok := SplitKey(key)
		if !ok || verb != VerbGet {
			continue
		}
		parent, half := splitHalf(base)
		if half != HalfNone {
			if spec, exists := dt.Fields[parent]; exists && spec.IsTime() {
				composite := TimeCommand{key: "GET_" + parent, verb: VerbGet, base: parent}
				if !seen[composite.key] && dt.HasCommand(unit, composite.HourKey()) && dt.HasCommand(unit, composite.MinuteKey()) {
					seen[composite.key] = true
					actions = append(actions, composite)
				}
				continue
			}
		}
		if !seen[key] {
			seen[key] = true
			actions = append(actions, PlainCommand{key: key, verb: verb, base: base})
		}
	}
	return actions
}

// UnitEntry is a flattened unit listing used to seed the unit catalog
type UnitEntry struct {
	Target   Target
	DeviceID string
}

// Units lists every unit in the table in a stable order
func (t *Table) Units() []UnitEntry {
	var out []UnitEntry
	for _, siteID := range sortedKeys(t.Sites) {
		site := t.Sites[siteID]
		for _, typeName := range sortedKeys(site.DeviceTypes) {
			dt := site.DeviceTypes[typeName]
			for _, unitID := range sortedKeys(dt.Units) {
				unit := dt.Units[unitID]
				deviceID := unit.DeviceID
				if deviceID == "" {
					deviceID = siteID
				}
				out = append(out, UnitEntry{
					Target:   Target{SiteID: siteID, DeviceType: typeName, UnitID: unitID},
					DeviceID: deviceID,
				})
			}
		}
	}
	return out
}

// LookupResult reports how far a table walk got
type LookupResult int

const (
	MissingSite LookupResult = iota
	MissingDeviceType
	MissingUnit
	Found
)

// Lookup walks site, device type and unit in that order
func (t *Table) Lookup(target Target) (*DeviceType, *Unit, LookupResult) {
	site, ok := t.Sites[target.SiteID]
	if !ok || site == nil {
		return nil, nil, MissingSite
	}
	dt, ok := site.DeviceTypes[target.DeviceType]
	if !ok || dt == nil {
		return nil, nil, MissingDeviceType
	}
	unit, ok := dt.Units[target.UnitID]
	if !ok || unit == nil {
		return dt, nil, MissingUnit
	}
	return dt, unit, Found
}

// DeviceType returns a site's device type
func (t *Table) DeviceType(siteID, deviceType string) (*DeviceType, bool) {
	site, ok := t.Sites[siteID]
	if !ok || site == nil {
		return nil, false
	}
	dt, ok := site.DeviceTypes[deviceType]
	return dt, ok && dt != nil
}

// Validate checks every command and field in the table
func (t *Table) Validate(validateFormula FormulaValidator) error {
	if len(t.Sites) == 0 {
		return fmt.Errorf("mapping table has no sites")
	}

	for _, siteID := range sortedKeys(t.Sites) {
		site := t.Sites[siteID]
		if site == nil {
			return fmt.Errorf("site %s: empty definition", siteID)
		}
		for _, typeName := range sortedKeys(site.DeviceTypes) {
			dt := site.DeviceTypes[typeName]
			if dt == nil {
				return fmt.Errorf("site %s: device type %s: empty definition", siteID, typeName)
			}
			if err := dt.validate(validateFormula); err != nil {
				return fmt.Errorf("site %s: device type %s: %w", siteID, typeName, err)
			}
		}
	}
	return nil
}

func (dt *DeviceType) validate(validateFormula FormulaValidator) error {
	for base, field := range dt.Fields {
		if field.Name == "" {
			return fmt.Errorf("field %s: name is required", base)
		}
		switch field.Kind {
		case "", KindValue, KindTime:
		default:
			return fmt.Errorf("field %s: unknown kind %q", base, field.Kind)
		}
		switch field.Transform {
		case "", TransformNone, TransformTemperature, TransformBool:
		case TransformScale:
			if field.Factor == 0 {
				return fmt.Errorf("field %s: scale transform needs a non-zero factor", base)
			}
		case TransformFormula:
			if validateFormula == nil {
				break
			}
			vars, err := validateFormula(field.Formula)
			if err != nil {
				return fmt.Errorf("field %s: %w", base, err)
			}
			for _, v := range vars {
				if v != "x" {
					return fmt.Errorf("field %s: formula may only reference x, found %q", base, v)
				}
			}
		default:
			return fmt.Errorf("field %s: unknown transform %q", base, field.Transform)
		}
	}

	check := func(scope string, commands map[string]CommandSpec) error {
		for key, spec := range commands {
			if _, _, ok := SplitKey(key); !ok {
				return fmt.Errorf("%scommand %s: key must start with GET_ or SET_", scope, key)
			}
			if err := spec.descriptor(0).Validate(); err != nil {
				return fmt.Errorf("%scommand %s: %w", scope, key, err)
			}
		}
		return nil
	}

	if err := check("", dt.Commands); err != nil {
		return err
	}
	for _, unitID := range sortedKeys(dt.Units) {
		unit := dt.Units[unitID]
		if unit == nil {
			return fmt.Errorf("unit %s: empty definition", unitID)
		}
		if err := check("unit "+unitID+": ", unit.Commands); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
