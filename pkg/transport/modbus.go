package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gomodbus "github.com/goburrow/modbus"

	"shelter-engine/pkg/config"
	engineerrors "shelter-engine/pkg/errors"
	"shelter-engine/pkg/logger"
	"shelter-engine/pkg/modbus"
)

// clientHandler is a goburrow handler with an explicit lifecycle
type clientHandler interface {
	gomodbus.ClientHandler
	Connect() error
	Close() error
}

// ModbusTransport talks to units directly over Modbus TCP or RTU
type ModbusTransport struct {
	settings config.TransportSettings
	log      logger.ILogger

	mu        sync.Mutex
	handler   clientHandler
	client    gomodbus.Client
	setSlave  func(slaveID uint8)
	connected bool
}

// NewModbusTransport creates a direct Modbus transport; call Connect before use
func NewModbusTransport(settings config.TransportSettings, log logger.ILogger) (*ModbusTransport, error) {
	t := &ModbusTransport{settings: settings, log: log}
	if err := t.buildHandler(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *ModbusTransport) buildHandler() error {
	timeout := t.settings.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	switch t.settings.Mode {
	case config.TransportModbusTCP:
		h := gomodbus.NewTCPClientHandler(t.settings.Address)
		h.Timeout = timeout
		t.handler = h
		t.setSlave = func(id uint8) { h.SlaveId = id }

	case config.TransportModbusRTU:
		serial := t.settings.Serial
		if strings.TrimSpace(serial.Device) == "" {
			return engineerrors.NewConfigError("build rtu handler", fmt.Errorf("serial device is required"), "transport.serial.device")
		}
		h := gomodbus.NewRTUClientHandler(serial.Device)
		h.BaudRate = serial.BaudRate
		h.DataBits = serial.DataBits
		h.StopBits = serial.StopBits
		h.Parity = strings.ToUpper(serial.Parity)
		h.Timeout = timeout
		t.handler = h
		t.setSlave = func(id uint8) { h.SlaveId = id }

	default:
		return engineerrors.NewConfigError("build modbus handler",
			fmt.Errorf("mode %q is not a direct modbus mode", t.settings.Mode), "transport.mode")
	}

	t.client = gomodbus.NewClient(t.handler)
	return nil
}

// Connect opens the TCP socket or serial port, retrying until ctx is done
func (t *ModbusTransport) Connect(ctx context.Context) error {
	attempt := 1
	for {
		t.mu.Lock()
		err := t.handler.Connect()
		if err == nil {
			t.connected = true
		}
		t.mu.Unlock()

		if err == nil {
			t.log.LogInfo("Connected to %s after %d attempts", t.Endpoint(), attempt)
			return nil
		}

		t.log.LogError("Connection to %s failed (attempt %d): %v", t.Endpoint(), attempt, err)
		select {
		case <-ctx.Done():
			return engineerrors.NewTransportError("connect", ctx.Err(), t.Endpoint())
		case <-time.After(time.Second):
			attempt++
		}
	}
}

// Execute performs one transaction. ctx cancellation is honoured before the
// frame is sent; once on the wire the handler timeout bounds the exchange.
func (t *ModbusTransport) Execute(ctx context.Context, req Request) (*Response, error) {
	d := req.Descriptor
	if err := d.Validate(); err != nil {
		return nil, engineerrors.NewTransactionError("validate request", err, d.SlaveID, uint8(d.FunctionCode), d.Address)
	}
	if err := ctx.Err(); err != nil {
		return nil, engineerrors.NewTransactionError("execute", err, d.SlaveID, uint8(d.FunctionCode), d.Address)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.setSlave(d.SlaveID)
	raw, err := t.call(d, req.WriteValues())
	if err != nil {
		return nil, t.wrapError(d, err)
	}

	var values []uint16
	if d.Intent() == modbus.IntentRead {
		values, err = modbus.DecodeRead(d, raw)
		if err != nil {
			return nil, engineerrors.NewTransactionError("decode response", err, d.SlaveID, uint8(d.FunctionCode), d.Address)
		}
	} else {
		values = req.WriteValues()
	}

	t.log.LogDebug("%s -> %v", d, values)
	return &Response{Values: values, Raw: raw}, nil
}

func (t *ModbusTransport) call(d modbus.Descriptor, values []uint16) ([]byte, error) {
	switch d.FunctionCode {
	case modbus.ReadCoils:
		return t.client.ReadCoils(d.Address, d.Length)
	case modbus.ReadDiscreteInputs:
		return t.client.ReadDiscreteInputs(d.Address, d.Length)
	case modbus.ReadHoldingRegisters:
		return t.client.ReadHoldingRegisters(d.Address, d.Length)
	case modbus.ReadInputRegisters:
		return t.client.ReadInputRegisters(d.Address, d.Length)
	case modbus.WriteSingleCoil:
		if len(values) != 1 {
			return nil, fmt.Errorf("%s needs exactly one value, got %d", d.FunctionCode, len(values))
		}
		var coil uint16
		if values[0] != 0 {
			coil = 0xFF00
		}
		return t.client.WriteSingleCoil(d.Address, coil)
	case modbus.WriteSingleRegister:
		if len(values) != 1 {
			return nil, fmt.Errorf("%s needs exactly one value, got %d", d.FunctionCode, len(values))
		}
		return t.client.WriteSingleRegister(d.Address, values[0])
	case modbus.WriteMultipleCoils:
		return t.client.WriteMultipleCoils(d.Address, uint16(len(values)), modbus.PackBits(values))
	case modbus.WriteMultipleRegisters:
		return t.client.WriteMultipleRegisters(d.Address, uint16(len(values)), modbus.EncodeRegisters(values))
	}
	return nil, fmt.Errorf("unsupported function code %s", d.FunctionCode)
}

// wrapError separates device exceptions from link failures so the circuit
// breaker only counts the latter
func (t *ModbusTransport) wrapError(d modbus.Descriptor, err error) error {
	var mbErr *gomodbus.ModbusError
	if errors.As(err, &mbErr) {
		exception := &modbus.ExceptionError{FunctionCode: d.FunctionCode, Code: mbErr.ExceptionCode}
		return engineerrors.NewTransactionError("execute", exception, d.SlaveID, uint8(d.FunctionCode), d.Address)
	}
	return engineerrors.NewTransactionError("execute",
		engineerrors.NewTransportError("exchange", err, t.Endpoint()), d.SlaveID, uint8(d.FunctionCode), d.Address)
}

// IsConnected reports whether Connect has succeeded and Close not been called
func (t *ModbusTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Endpoint returns the TCP address or serial device
func (t *ModbusTransport) Endpoint() string {
	return t.settings.Endpoint
}

// Close closes the underlying handler
func (t *ModbusTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	return t.handler.Close()
}
