// Package transporttest provides an in-memory bank of simulated units
// behind the transport.Transport interface.
package transporttest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	engineerrors "shelter-engine/pkg/errors"
	"shelter-engine/pkg/modbus"
	"shelter-engine/pkg/transport"
)

type device struct {
	registers map[uint16]uint16
	bits      map[uint16]bool
}

// Fake answers transactions from per-slave register and bit maps.
// Slaves that were never touched do not answer and time out.
type Fake struct {
	mu      sync.Mutex
	devices map[uint8]*device
	calls   []transport.Request
	failFn  func(transport.Request) error

	// Delay is held inside every Execute, to widen overlap windows
	Delay time.Duration

	inflight    atomic.Int32
	maxInflight atomic.Int32
	connected   atomic.Bool
}

var _ transport.Transport = (*Fake)(nil)

// New creates an empty, connected fake
func New() *Fake {
	f := &Fake{devices: make(map[uint8]*device)}
	f.connected.Store(true)
	return f
}

func (f *Fake) device(slave uint8) *device {
	d, ok := f.devices[slave]
	if !ok {
		d = &device{registers: make(map[uint16]uint16), bits: make(map[uint16]bool)}
		f.devices[slave] = d
	}
	return d
}

// SetRegister stores a register word on a slave
func (f *Fake) SetRegister(slave uint8, addr, value uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.device(slave).registers[addr] = value
}

// Register returns a register word from a slave
func (f *Fake) Register(slave uint8, addr uint16) uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.device(slave).registers[addr]
}

// SetBit stores a coil or discrete input on a slave
func (f *Fake) SetBit(slave uint8, addr uint16, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.device(slave).bits[addr] = on
}

// Bit returns a coil or discrete input from a slave
func (f *Fake) Bit(slave uint8, addr uint16) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.device(slave).bits[addr]
}

// FailWhen installs a hook that can fail requests before they are served
func (f *Fake) FailWhen(fn func(transport.Request) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFn = fn
}

// Calls returns every request seen so far, in order
func (f *Fake) Calls() []transport.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transport.Request, len(f.calls))
	copy(out, f.calls)
	return out
}

// MaxInFlight returns the highest number of concurrent Execute calls observed
func (f *Fake) MaxInFlight() int {
	return int(f.maxInflight.Load())
}

// SetConnected flips the link state reported by IsConnected
func (f *Fake) SetConnected(v bool) { f.connected.Store(v) }

// LinkDown returns a transport-level failure as a real link would produce it
func LinkDown(req transport.Request) error {
	d := req.Descriptor
	return engineerrors.NewTransactionError("execute",
		engineerrors.NewTransportError("exchange", fmt.Errorf("link down"), "fake"),
		d.SlaveID, uint8(d.FunctionCode), d.Address)
}

// Connect implements transport.Transport
func (f *Fake) Connect(context.Context) error {
	f.connected.Store(true)
	return nil
}

// Execute implements transport.Transport
func (f *Fake) Execute(ctx context.Context, req transport.Request) (*transport.Response, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		peak := f.maxInflight.Load()
		if n <= peak || f.maxInflight.CompareAndSwap(peak, n) {
			break
		}
	}

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)

	if f.failFn != nil {
		if err := f.failFn(req); err != nil {
			return nil, err
		}
	}

	d := req.Descriptor
	dev, ok := f.devices[d.SlaveID]
	if !ok {
		return nil, engineerrors.NewTransactionError("execute",
			engineerrors.NewTransportError("wait response", fmt.Errorf("timeout: slave %d does not answer", d.SlaveID), "fake"),
			d.SlaveID, uint8(d.FunctionCode), d.Address)
	}

	values := make([]uint16, 0, d.Length)
	switch d.FunctionCode {
	case modbus.ReadCoils, modbus.ReadDiscreteInputs:
		for i := uint16(0); i < d.Length; i++ {
			var v uint16
			if dev.bits[d.Address+i] {
				v = 1
			}
			values = append(values, v)
		}
	case modbus.ReadHoldingRegisters, modbus.ReadInputRegisters:
		for i := uint16(0); i < d.Length; i++ {
			values = append(values, dev.registers[d.Address+i])
		}
	case modbus.WriteSingleCoil, modbus.WriteMultipleCoils:
		values = req.WriteValues()
		for i, v := range values {
			dev.bits[d.Address+uint16(i)] = v != 0
		}
	case modbus.WriteSingleRegister, modbus.WriteMultipleRegisters:
		values = req.WriteValues()
		for i, v := range values {
			dev.registers[d.Address+uint16(i)] = v
		}
	default:
		return nil, &modbus.ExceptionError{FunctionCode: d.FunctionCode, Code: 0x01}
	}
	return &transport.Response{Values: values}, nil
}

// IsConnected implements transport.Transport
func (f *Fake) IsConnected() bool { return f.connected.Load() }

// Endpoint implements transport.Transport
func (f *Fake) Endpoint() string { return "fake" }

// Close implements transport.Transport
func (f *Fake) Close() error {
	f.connected.Store(false)
	return nil
}
