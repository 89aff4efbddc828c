// Package resolver turns (site, device type, unit, command key) into a
// transaction descriptor using the site mapping table, memoizing positive
// and negative results in the shared cache.
package resolver

import (
	"context"
	"time"

	"shelter-engine/pkg/cache"
	"shelter-engine/pkg/errors"
	"shelter-engine/pkg/logger"
	"shelter-engine/pkg/mapping"
	"shelter-engine/pkg/modbus"
)

// Namespace prefixes every cache key owned by the resolver
const Namespace = "resolve:"

// resolution is the cached outcome of one descriptor lookup
type resolution struct {
	descriptor modbus.Descriptor
	found      bool
}

// Resolver maps abstract command keys to descriptors
type Resolver struct {
	table *mapping.Table
	cache *cache.Store
	log   logger.ILogger
}

// New creates a resolver over an immutable mapping table
func New(table *mapping.Table, c *cache.Store, log logger.ILogger) *Resolver {
	if c == nil {
		c = cache.New()
	}
	if log == nil {
		log = logger.NewStandardLogger()
	}
	return &Resolver{table: table, cache: c, log: log}
}

func siteKey(t mapping.Target) string { return Namespace + "site:" + t.SiteID }
func typeKey(t mapping.Target) string { return Namespace + "type:" + t.SiteID + "/" + t.DeviceType }
func unitKey(t mapping.Target) string { return Namespace + "unit:" + t.String() }
func descKey(t mapping.Target, key string) string {
	return Namespace + "desc:" + t.String() + "/" + key
}

// exists consults the memoized existence flag for key, computing and
// storing it on a miss
func (r *Resolver) exists(key string, walk func() bool) bool {
	if ok, cached := cache.Get[bool](r.cache, key); cached {
		return ok
	}
	ok := walk()
	r.cache.Set(key, ok)
	return ok
}

// Lookup validates the target against the table and returns its device
// type and unit. Failures are MappingErrors of the first missing level.
func (r *Resolver) Lookup(target mapping.Target) (*mapping.DeviceType, *mapping.Unit, error) {
	if !r.exists(siteKey(target), func() bool {
		_, _, res := r.table.Lookup(target)
		return res != mapping.MissingSite
	}) {
		return nil, nil, errors.NewMappingError(errors.MappingUnknownSite, target.SiteID, "", "", "")
	}
	if !r.exists(typeKey(target), func() bool {
		_, ok := r.table.DeviceType(target.SiteID, target.DeviceType)
		return ok
	}) {
		return nil, nil, errors.NewMappingError(errors.MappingUnknownDeviceType, target.SiteID, target.DeviceType, "", "")
	}

	if !r.exists(unitKey(target), func() bool {
		_, _, res := r.table.Lookup(target)
		return res == mapping.Found
	}) {
		return nil, nil, errors.NewMappingError(errors.MappingUnknownUnit, target.SiteID, target.DeviceType, target.UnitID, "")
	}
	dt, unit, _ := r.table.Lookup(target)
	return dt, unit, nil
}

// Classify returns the tagged form of key for the target's device type
func (r *Resolver) Classify(target mapping.Target, key string) (mapping.Command, error) {
	dt, _, err := r.Lookup(target)
	if err != nil {
		return nil, err
	}
	cmd, ok := dt.Classify(key)
	if !ok {
		return nil, r.unsupported(target, key)
	}
	return cmd, nil
}

// Resolve returns the descriptor of a plain command. Time-composite keys
// are rejected; resolve their pair with ResolvePair instead.
func (r *Resolver) Resolve(target mapping.Target, key string) (modbus.Descriptor, error) {
	cmd, err := r.Classify(target, key)
	if err != nil {
		return modbus.Descriptor{}, err
	}
	if _, composite := cmd.(mapping.TimeCommand); composite {
		return modbus.Descriptor{}, errors.NewMappingError(errors.MappingCompositeCommand,
			target.SiteID, target.DeviceType, target.UnitID, key)
	}
	return r.descriptor(target, key)
}

// ResolvePair returns the HOUR and MINUTE descriptors of a composite key
func (r *Resolver) ResolvePair(target mapping.Target, key string) (hour, minute modbus.Descriptor, err error) {
	cmd, err := r.Classify(target, key)
	if err != nil {
		return modbus.Descriptor{}, modbus.Descriptor{}, err
	}
	tc, ok := cmd.(mapping.TimeCommand)
	if !ok {
		return modbus.Descriptor{}, modbus.Descriptor{}, r.unsupported(target, key)
	}

	if hour, err = r.descriptor(target, tc.HourKey()); err != nil {
		return modbus.Descriptor{}, modbus.Descriptor{}, err
	}
	if minute, err = r.descriptor(target, tc.MinuteKey()); err != nil {
		return modbus.Descriptor{}, modbus.Descriptor{}, err
	}
	return hour, minute, nil
}

// PollActions lists the GET actions the scheduler reads for a unit
func (r *Resolver) PollActions(target mapping.Target) ([]mapping.Command, error) {
	dt, unit, err := r.Lookup(target)
	if err != nil {
		return nil, err
	}
	return dt.PollActions(unit), nil
}

// ProtocolCapable reports whether the target's device type accepts
// register transactions
func (r *Resolver) ProtocolCapable(target mapping.Target) (bool, error) {
	dt, _, err := r.Lookup(target)
	if err != nil {
		return false, err
	}
	return dt.ProtocolCapable(), nil
}

// descriptor serves a single sub-command key from cache or the table.
// Concurrent misses may both walk the table; the results are identical.
func (r *Resolver) descriptor(target mapping.Target, key string) (modbus.Descriptor, error) {
	ck := descKey(target, key)
	if res, ok := cache.Get[resolution](r.cache, ck); ok {
		if !res.found {
			return modbus.Descriptor{}, r.unsupported(target, key)
		}
		return res.descriptor, nil
	}

	dt, unit, err := r.Lookup(target)
	if err != nil {
		return modbus.Descriptor{}, err
	}
	d, found := dt.Descriptor(unit, key)
	r.cache.Set(ck, resolution{descriptor: d, found: found})
	if !found {
		r.log.LogDebug("No mapping for %s %s", target, key)
		return modbus.Descriptor{}, r.unsupported(target, key)
	}
	return d, nil
}

func (r *Resolver) unsupported(target mapping.Target, key string) error {
	return errors.NewMappingError(errors.MappingUnsupportedCommand, target.SiteID, target.DeviceType, target.UnitID, key)
}

// RunCleanup clears the resolver namespace every interval until ctx is done
func (r *Resolver) RunCleanup(ctx context.Context, interval time.Duration) {
	r.cache.RunSweeper(ctx, Namespace, interval, r.log)
}
