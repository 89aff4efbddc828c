package errors

import (
	"context"
	stderrors "errors"
	"fmt"

	"shelter-engine/pkg/logger"
)

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	diagnosticPublisher DiagnosticPublisher
	log                 logger.ILogger
}

// DiagnosticPublisher interface for publishing diagnostics
type DiagnosticPublisher interface {
	PublishDiagnostic(ctx context.Context, code int, message string) error
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(publisher DiagnosticPublisher, log logger.ILogger) *ErrorHandler {
	if log == nil {
		log = logger.NewStandardLogger()
	}
	return &ErrorHandler{
		diagnosticPublisher: publisher,
		log:                 log,
	}
}

// Handle processes an error with appropriate logging and diagnostics
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil {
		return
	}

	var (
		mappingErr     *MappingError
		validationErr  *ValidationError
		compositeErr   *CompositeError
		transactionErr *TransactionError
		transportErr   *TransportError
		broadcastErr   *BroadcastError
		configErr      *ConfigError
	)

	switch {
	case stderrors.As(err, &mappingErr):
		h.logBySeverity("Mapping", mappingErr.Severity, err)
		h.publish(ctx, mappingErr.Code, fmt.Sprintf("%s: %s", mappingErr.Kind, mappingErr.Command))
	case stderrors.As(err, &validationErr):
		h.logBySeverity("Validation", validationErr.Severity, err)
		h.publish(ctx, validationErr.Code, fmt.Sprintf("Validation failed for '%s': %s", validationErr.Field, validationErr.Kind))
	case stderrors.As(err, &compositeErr):
		h.logBySeverity("Composite", compositeErr.Severity, err)
		h.publish(ctx, compositeErr.Code, fmt.Sprintf("%s failed at %s", compositeErr.Command, compositeErr.Failed))
	case stderrors.As(err, &transactionErr):
		h.logBySeverity("Transaction", transactionErr.Severity, err)
		h.publish(ctx, transactionErr.Code, fmt.Sprintf("Slave %d fc %d addr %d: %s",
			transactionErr.SlaveID, transactionErr.FunctionCode, transactionErr.Address, transactionErr.Op))
	case stderrors.As(err, &transportErr):
		h.logBySeverity("Transport", transportErr.Severity, err)
		h.publish(ctx, transportErr.Code, fmt.Sprintf("Transport %s: %s", transportErr.Endpoint, transportErr.Op))
	case stderrors.As(err, &broadcastErr):
		// Never publish broadcast failures through the broadcast path
		h.logBySeverity("Broadcast", broadcastErr.Severity, err)
	case stderrors.As(err, &configErr):
		h.log.LogError("🔴 CRITICAL Configuration Error: %s", err.Error())
		h.publish(ctx, configErr.Code, fmt.Sprintf("Config field '%s': %s", configErr.Field, configErr.Op))
	default:
		h.log.LogError("❌ Untyped Error: %v", err)
		h.publish(ctx, CodeGeneric, err.Error())
	}
}

func (h *ErrorHandler) logBySeverity(kind string, severity ErrorSeverity, err error) {
	switch severity {
	case SeverityCritical:
		h.log.LogError("🔴 CRITICAL %s Error: %s", kind, err.Error())
	case SeverityError:
		h.log.LogError("❌ %s Error: %s", kind, err.Error())
	case SeverityWarning:
		h.log.LogWarn("⚠️ %s Warning: %s", kind, err.Error())
	default:
		h.log.LogInfo("ℹ️ %s Info: %s", kind, err.Error())
	}
}

func (h *ErrorHandler) publish(ctx context.Context, code int, message string) {
	if h.diagnosticPublisher == nil {
		return
	}
	if publishErr := h.diagnosticPublisher.PublishDiagnostic(ctx, code, message); publishErr != nil {
		h.log.LogDebug("Failed to publish diagnostic %d: %v", code, publishErr)
	}
}

// IsRetryable reports whether a failed action may be attempted again.
// Mapping, validation and configuration errors are terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) {
		return false
	}

	var (
		mappingErr    *MappingError
		validationErr *ValidationError
		compositeErr  *CompositeError
		configErr     *ConfigError
		engineErr     *EngineError
	)
	switch {
	case stderrors.As(err, &mappingErr), stderrors.As(err, &validationErr),
		stderrors.As(err, &compositeErr), stderrors.As(err, &configErr):
		return false
	case stderrors.As(err, &engineErr):
		return engineErr.Severity != SeverityCritical
	}
	return true
}

// GetDiagnosticCode extracts the diagnostic code from an error
func GetDiagnosticCode(err error) int {
	if err == nil {
		return 0
	}

	var (
		mappingErr     *MappingError
		validationErr  *ValidationError
		compositeErr   *CompositeError
		transactionErr *TransactionError
		transportErr   *TransportError
		broadcastErr   *BroadcastError
		configErr      *ConfigError
		engineErr      *EngineError
	)
	switch {
	case stderrors.As(err, &mappingErr):
		return mappingErr.Code
	case stderrors.As(err, &validationErr):
		return validationErr.Code
	case stderrors.As(err, &compositeErr):
		return compositeErr.Code
	case stderrors.As(err, &transactionErr):
		return transactionErr.Code
	case stderrors.As(err, &transportErr):
		return transportErr.Code
	case stderrors.As(err, &broadcastErr):
		return broadcastErr.Code
	case stderrors.As(err, &configErr):
		return configErr.Code
	case stderrors.As(err, &engineErr):
		return engineErr.Code
	default:
		return CodeGeneric
	}
}
