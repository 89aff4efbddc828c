package errors

import (
	"fmt"
	"strings"
)

// ErrorSeverity defines the severity level of an error
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the string representation of the severity
func (s ErrorSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Diagnostic codes published alongside errors
const (
	CodeConfig      = 1
	CodeTransport   = 2
	CodeTransaction = 3
	CodeBroadcast   = 4
	CodeValidation  = 5
	CodeMapping     = 6
	CodeComposite   = 7
	CodeGeneric     = 99
)

// EngineError is the base error type for all engine errors
type EngineError struct {
	Op       string        // Operation that failed
	Err      error         // Underlying error
	Severity ErrorSeverity // Error severity
	Code     int           // Diagnostic code
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Severity, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Severity, e.Op)
}

// Unwrap returns the underlying error
func (e *EngineError) Unwrap() error {
	return e.Err
}

// TransportError represents a failure of the shared link itself
// (broker unreachable, serial port closed, circuit open)
type TransportError struct {
	EngineError
	Endpoint string
}

// NewTransportError creates a new transport error
func NewTransportError(op string, err error, endpoint string) *TransportError {
	return &TransportError{
		EngineError: EngineError{
			Op:       op,
			Err:      err,
			Severity: SeverityError,
			Code:     CodeTransport,
		},
		Endpoint: endpoint,
	}
}

// Error implements the error interface
func (e *TransportError) Error() string {
	return fmt.Sprintf("[%s] Transport %s: %s: %v", e.Severity, e.Endpoint, e.Op, e.Err)
}

// TransactionError represents a failed or timed out register transaction
type TransactionError struct {
	EngineError
	SlaveID      uint8
	FunctionCode uint8
	Address      uint16
	UnitID       string
}

// NewTransactionError creates a new transaction error
func NewTransactionError(op string, err error, slaveID, functionCode uint8, address uint16) *TransactionError {
	return &TransactionError{
		EngineError: EngineError{
			Op:       op,
			Err:      err,
			Severity: SeverityError,
			Code:     CodeTransaction,
		},
		SlaveID:      slaveID,
		FunctionCode: functionCode,
		Address:      address,
	}
}

// Error implements the error interface
func (e *TransactionError) Error() string {
	if e.UnitID != "" {
		return fmt.Sprintf("[%s] Unit '%s' (slave %d, fc %d, addr %d): %s: %v",
			e.Severity, e.UnitID, e.SlaveID, e.FunctionCode, e.Address, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] Slave %d (fc %d, addr %d): %s: %v",
		e.Severity, e.SlaveID, e.FunctionCode, e.Address, e.Op, e.Err)
}

// BroadcastError represents errors from the real-time fan-out sinks
type BroadcastError struct {
	EngineError
	Sink  string
	Topic string
}

// NewBroadcastError creates a new broadcast error
func NewBroadcastError(op string, err error, sink string) *BroadcastError {
	return &BroadcastError{
		EngineError: EngineError{
			Op:       op,
			Err:      err,
			Severity: SeverityWarning,
			Code:     CodeBroadcast,
		},
		Sink: sink,
	}
}

// Error implements the error interface
func (e *BroadcastError) Error() string {
	if e.Topic != "" {
		return fmt.Sprintf("[%s] Broadcast sink '%s' (topic: %s): %s: %v",
			e.Severity, e.Sink, e.Topic, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] Broadcast sink '%s': %s: %v", e.Severity, e.Sink, e.Op, e.Err)
}

// ConfigError represents configuration errors
type ConfigError struct {
	EngineError
	Field string
	Value interface{}
}

// NewConfigError creates a new configuration error
func NewConfigError(op string, err error, field string) *ConfigError {
	return &ConfigError{
		EngineError: EngineError{
			Op:       op,
			Err:      err,
			Severity: SeverityCritical, // Config errors are critical
			Code:     CodeConfig,
		},
		Field: field,
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] Configuration field '%s': %s: %v",
			e.Severity, e.Field, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] Configuration: %s: %v",
		e.Severity, e.Op, e.Err)
}

// ValidationKind classifies a rejected command request
type ValidationKind int

const (
	ValidationGeneric ValidationKind = iota
	ValidationUnsupportedUnitType
	ValidationMissingValue
	ValidationMalformedTime
	ValidationBadValue
)

// String returns the string representation of the kind
func (k ValidationKind) String() string {
	switch k {
	case ValidationUnsupportedUnitType:
		return "unsupported unit type"
	case ValidationMissingValue:
		return "missing value"
	case ValidationMalformedTime:
		return "malformed time"
	case ValidationBadValue:
		return "bad value"
	default:
		return "validation failed"
	}
}

// ValidationError represents validation errors
type ValidationError struct {
	EngineError
	Kind     ValidationKind
	Field    string
	Expected interface{}
	Actual   interface{}
}

// NewValidationError creates a new validation error
func NewValidationError(field string, expected, actual interface{}) *ValidationError {
	return NewValidationErrorKind(ValidationGeneric, field, expected, actual)
}

// NewValidationErrorKind creates a validation error of a specific kind
func NewValidationErrorKind(kind ValidationKind, field string, expected, actual interface{}) *ValidationError {
	return &ValidationError{
		EngineError: EngineError{
			Op:       "validation",
			Err:      fmt.Errorf("%s", kind),
			Severity: SeverityWarning,
			Code:     CodeValidation,
		},
		Kind:     kind,
		Field:    field,
		Expected: expected,
		Actual:   actual,
	}
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s for '%s': expected %v, got %v",
		e.Severity, e.Kind, e.Field, e.Expected, e.Actual)
}

// MappingKind identifies which lookup in the site mapping table failed
type MappingKind int

const (
	MappingUnknownSite MappingKind = iota
	MappingUnknownDeviceType
	MappingUnknownUnit
	MappingUnsupportedCommand
	MappingCompositeCommand
	MappingUnknownField
)

// String returns the string representation of the kind
func (k MappingKind) String() string {
	switch k {
	case MappingUnknownSite:
		return "unknown site"
	case MappingUnknownDeviceType:
		return "unknown device type for site"
	case MappingUnknownUnit:
		return "unknown unit for device type"
	case MappingUnsupportedCommand:
		return "unsupported command for unit"
	case MappingCompositeCommand:
		return "time-composite command used directly"
	case MappingUnknownField:
		return "no field mapped for action"
	default:
		return "mapping error"
	}
}

// MappingError is a terminal resolution failure; it is never retried
type MappingError struct {
	EngineError
	Kind       MappingKind
	SiteID     string
	DeviceType string
	UnitID     string
	Command    string
}

// NewMappingError creates a new mapping error
func NewMappingError(kind MappingKind, siteID, deviceType, unitID, command string) *MappingError {
	return &MappingError{
		EngineError: EngineError{
			Op:       "resolve",
			Err:      fmt.Errorf("%s", kind),
			Severity: SeverityWarning,
			Code:     CodeMapping,
		},
		Kind:       kind,
		SiteID:     siteID,
		DeviceType: deviceType,
		UnitID:     unitID,
		Command:    command,
	}
}

// Error implements the error interface
func (e *MappingError) Error() string {
	path := strings.TrimRight(strings.Join([]string{e.SiteID, e.DeviceType, e.UnitID}, "/"), "/")
	if e.Command != "" {
		return fmt.Sprintf("[%s] %s: %s %s", e.Severity, e.Kind, path, e.Command)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Severity, e.Kind, path)
}

// CompositeError reports a time-composite command whose sub-commands did
// not all succeed
type CompositeError struct {
	EngineError
	Command   string
	Completed []string
	Failed    string
}

// NewCompositeError creates a new composite error
func NewCompositeError(command string, completed []string, failed string, err error) *CompositeError {
	return &CompositeError{
		EngineError: EngineError{
			Op:       "composite",
			Err:      err,
			Severity: SeverityError,
			Code:     CodeComposite,
		},
		Command:   command,
		Completed: completed,
		Failed:    failed,
	}
}

// Error implements the error interface
func (e *CompositeError) Error() string {
	if len(e.Completed) > 0 {
		return fmt.Sprintf("[%s] %s partially applied (done: %s, failed: %s): %v",
			e.Severity, e.Command, strings.Join(e.Completed, ","), e.Failed, e.Err)
	}
	return fmt.Sprintf("[%s] %s failed at %s: %v", e.Severity, e.Command, e.Failed, e.Err)
}
