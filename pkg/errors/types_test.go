package errors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"shelter-engine/pkg/logger"
)

// TestTransactionErrorCreation tests creating TransactionError
func TestTransactionErrorCreation(t *testing.T) {
	baseErr := fmt.Errorf("timeout reading register")
	txErr := NewTransactionError("read", baseErr, 7, 0x03, 120)
	txErr.UnitID = "u001"

	if txErr.SlaveID != 7 {
		t.Errorf("Expected SlaveID 7, got %d", txErr.SlaveID)
	}
	if txErr.FunctionCode != 0x03 {
		t.Errorf("Expected FunctionCode 0x03, got 0x%02X", txErr.FunctionCode)
	}
	if txErr.Address != 120 {
		t.Errorf("Expected Address 120, got %d", txErr.Address)
	}

	errMsg := txErr.Error()
	if errMsg == "" {
		t.Error("Expected non-empty error message")
	}
	t.Logf("TransactionError message: %s", errMsg)
}

// TestErrorUnwrapping tests error unwrapping
func TestErrorUnwrapping(t *testing.T) {
	baseErr := fmt.Errorf("base error")
	txErr := NewTransactionError("test", baseErr, 1, 3, 0)

	if errors.Unwrap(txErr) != baseErr {
		t.Error("Expected to unwrap to base error")
	}

	wrapped := fmt.Errorf("poll u001: %w", txErr)
	var target *TransactionError
	if !errors.As(wrapped, &target) {
		t.Fatal("Expected errors.As to find TransactionError through wrapping")
	}
	if target.SlaveID != 1 {
		t.Errorf("Expected SlaveID 1, got %d", target.SlaveID)
	}
}

// TestMappingErrorKinds tests mapping error messages name the failed lookup
func TestMappingErrorKinds(t *testing.T) {
	tests := []struct {
		kind MappingKind
		want string
	}{
		{MappingUnknownSite, "unknown site"},
		{MappingUnknownDeviceType, "unknown device type for site"},
		{MappingUnknownUnit, "unknown unit for device type"},
		{MappingUnsupportedCommand, "unsupported command for unit"},
		{MappingCompositeCommand, "time-composite command used directly"},
	}

	for _, tt := range tests {
		err := NewMappingError(tt.kind, "c0101", "cooler", "u001", "GET_X")
		if err.Kind.String() != tt.want {
			t.Errorf("Expected kind %q, got %q", tt.want, err.Kind)
		}
		if err.Code != CodeMapping {
			t.Errorf("Expected Code %d, got %d", CodeMapping, err.Code)
		}
	}
}

// TestErrorSeverity tests error severity levels
func TestErrorSeverity(t *testing.T) {
	txErr := NewTransactionError("test", fmt.Errorf("test error"), 1, 3, 0)
	if txErr.Severity != SeverityError {
		t.Errorf("Expected SeverityError, got %s", txErr.Severity)
	}

	configErr := NewConfigError("test", fmt.Errorf("test error"), "field")
	if configErr.Severity != SeverityCritical {
		t.Errorf("Expected SeverityCritical, got %s", configErr.Severity)
	}

	validationErr := NewValidationErrorKind(ValidationMissingValue, "SET_TEMP", "value", nil)
	if validationErr.Severity != SeverityWarning {
		t.Errorf("Expected SeverityWarning, got %s", validationErr.Severity)
	}
}

// TestIsRetryable tests which failures the polling retry wrapper repeats
func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transaction", NewTransactionError("read", fmt.Errorf("timeout"), 1, 3, 0), true},
		{"transport", NewTransportError("send", fmt.Errorf("closed"), "tcp://plc"), true},
		{"mapping", NewMappingError(MappingUnknownUnit, "s", "t", "u", ""), false},
		{"validation", NewValidationErrorKind(ValidationMalformedTime, "time", "HH:MM", "25:99"), false},
		{"config", NewConfigError("load", fmt.Errorf("bad"), "polling"), false},
		{"canceled", fmt.Errorf("submit: %w", context.Canceled), false},
		{"untyped", fmt.Errorf("boom"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestErrorCodes tests diagnostic error codes
func TestErrorCodes(t *testing.T) {
	if code := GetDiagnosticCode(NewConfigError("test", fmt.Errorf("test"), "field")); code != CodeConfig {
		t.Errorf("Expected Code %d, got %d", CodeConfig, code)
	}
	if code := GetDiagnosticCode(NewTransactionError("test", fmt.Errorf("test"), 1, 3, 0)); code != CodeTransaction {
		t.Errorf("Expected Code %d, got %d", CodeTransaction, code)
	}
	composite := NewCompositeError("SET_START_TIME_1", []string{"SET_START_TIME_1_HOUR"}, "SET_START_TIME_1_MINUTE", fmt.Errorf("timeout"))
	if code := GetDiagnosticCode(composite); code != CodeComposite {
		t.Errorf("Expected Code %d, got %d", CodeComposite, code)
	}
	if code := GetDiagnosticCode(fmt.Errorf("plain")); code != CodeGeneric {
		t.Errorf("Expected Code %d, got %d", CodeGeneric, code)
	}
}

type recordingPublisher struct {
	mu    sync.Mutex
	codes []int
}

func (p *recordingPublisher) PublishDiagnostic(ctx context.Context, code int, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codes = append(p.codes, code)
	return nil
}

// TestErrorHandlerPublishesDiagnostics tests the handler routes typed errors
func TestErrorHandlerPublishesDiagnostics(t *testing.T) {
	publisher := &recordingPublisher{}
	mockLog := logger.NewMockLogger()
	handler := NewErrorHandler(publisher, mockLog)

	handler.Handle(context.Background(), nil)
	handler.Handle(context.Background(), NewMappingError(MappingUnknownSite, "x", "", "", ""))
	handler.Handle(context.Background(), NewBroadcastError("publish", fmt.Errorf("offline"), "mqtt"))
	handler.Handle(context.Background(), fmt.Errorf("wrapped: %w", NewTransactionError("read", fmt.Errorf("timeout"), 2, 3, 10)))

	if len(publisher.codes) != 2 {
		t.Fatalf("Expected 2 diagnostics, got %d (%v)", len(publisher.codes), publisher.codes)
	}
	if publisher.codes[0] != CodeMapping || publisher.codes[1] != CodeTransaction {
		t.Errorf("Unexpected diagnostic codes: %v", publisher.codes)
	}
	if !mockLog.HasErrorMessage() || !mockLog.HasWarnMessage() {
		t.Error("Expected both warning and error log lines")
	}
}
