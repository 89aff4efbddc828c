// Package store defines the persistence boundary of the engine: the unit
// catalog, the per-unit field map and health, and the command log.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shelter-engine/pkg/mapping"
)

var (
	// ErrNotFound is returned when a unit or log entry does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when creating a log entry whose id already exists
	ErrDuplicate = errors.New("duplicate id")
)

// UnitRef is the stable identity of one unit plus its device-type tag
type UnitRef struct {
	SiteID     string `json:"site_id"`
	DeviceID   string `json:"device_id"`
	UnitID     string `json:"unit_id"`
	DeviceType string `json:"device_type"`
}

// Target returns the mapping table coordinates of the unit
func (u UnitRef) Target() mapping.Target {
	return mapping.Target{SiteID: u.SiteID, DeviceType: u.DeviceType, UnitID: u.UnitID}
}

func (u UnitRef) String() string {
	return fmt.Sprintf("%s/%s/%s", u.SiteID, u.DeviceID, u.UnitID)
}

// HealthStatus is the communication health of a unit
type HealthStatus string

const (
	HealthNormal  HealthStatus = "normal"
	HealthWarning HealthStatus = "warning"
	HealthError   HealthStatus = "error"
)

// LogStatus is the state of a command log entry
type LogStatus string

const (
	LogWaiting LogStatus = "waiting"
	LogSuccess LogStatus = "success"
	LogFail    LogStatus = "fail"
)

// Unit is the persisted data record of one unit
type Unit struct {
	UnitRef
	Status    HealthStatus           `json:"status"`
	Fields    map[string]interface{} `json:"fields"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// LogEntry is one control-path command execution
type LogEntry struct {
	ID         string    `json:"id"`
	SiteID     string    `json:"site_id"`
	DeviceID   string    `json:"device_id"`
	UnitID     string    `json:"unit_id"`
	Action     string    `json:"action"`
	Value      string    `json:"value,omitempty"`
	Status     LogStatus `json:"status"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Catalog lists the registered units
type Catalog interface {
	ListUnits(ctx context.Context) ([]UnitRef, error)
	// UpsertUnit registers a unit, keeping its fields and status if it exists
	UpsertUnit(ctx context.Context, ref UnitRef) error
}

// UnitData is the per-unit field map and health status
type UnitData interface {
	GetField(ctx context.Context, ref UnitRef, field string) (interface{}, bool, error)
	// SetField is a single-field partial update
	SetField(ctx context.Context, ref UnitRef, field string, value interface{}) error
	SetStatus(ctx context.Context, ref UnitRef, status HealthStatus) error
	GetUnit(ctx context.Context, ref UnitRef) (*Unit, error)
}

// CommandLog records control-path command executions
type CommandLog interface {
	// Create inserts a new entry; Status is forced to waiting
	Create(ctx context.Context, entry LogEntry) error
	Get(ctx context.Context, id string) (*LogEntry, error)
	// Finalize moves a waiting entry to status. It reports false, without
	// error, when the entry was already terminal.
	Finalize(ctx context.Context, id string, status LogStatus, result, errMsg string) (bool, error)
}

// Store is the full persistence boundary
type Store interface {
	Catalog
	UnitData
	CommandLog
	Close() error
}

// Seed registers every unit of the mapping table when the catalog is empty.
// It returns the number of units added.
func Seed(ctx context.Context, c Catalog, table *mapping.Table) (int, error) {
	existing, err := c.ListUnits(ctx)
	if err != nil {
		return 0, fmt.Errorf("list units: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	added := 0
	for _, u := range table.Units() {
		ref := UnitRef{SiteID: u.Target.SiteID, DeviceID: u.DeviceID, UnitID: u.Target.UnitID, DeviceType: u.Target.DeviceType}
		if err := c.UpsertUnit(ctx, ref); err != nil {
			return added, fmt.Errorf("seed unit %s: %w", ref, err)
		}
		added++
	}
	return added, nil
}

func validFinalStatus(status LogStatus) error {
	if status != LogSuccess && status != LogFail {
		return fmt.Errorf("invalid terminal status %q", status)
	}
	return nil
}
