package modbus

import (
	"fmt"
)

// FunctionCode is a register protocol function code
type FunctionCode uint8

const (
	ReadCoils              FunctionCode = 0x01
	ReadDiscreteInputs     FunctionCode = 0x02
	ReadHoldingRegisters   FunctionCode = 0x03
	ReadInputRegisters     FunctionCode = 0x04
	WriteSingleCoil        FunctionCode = 0x05
	WriteSingleRegister    FunctionCode = 0x06
	WriteMultipleCoils     FunctionCode = 0x0F
	WriteMultipleRegisters FunctionCode = 0x10
)

// String returns a short name for the function code
func (fc FunctionCode) String() string {
	switch fc {
	case ReadCoils:
		return "read-coils"
	case ReadDiscreteInputs:
		return "read-discrete-inputs"
	case ReadHoldingRegisters:
		return "read-holding-registers"
	case ReadInputRegisters:
		return "read-input-registers"
	case WriteSingleCoil:
		return "write-single-coil"
	case WriteSingleRegister:
		return "write-single-register"
	case WriteMultipleCoils:
		return "write-multiple-coils"
	case WriteMultipleRegisters:
		return "write-multiple-registers"
	default:
		return fmt.Sprintf("fc-0x%02X", uint8(fc))
	}
}

// Supported reports whether the engine knows how to execute the function code
func (fc FunctionCode) Supported() bool {
	switch fc {
	case ReadCoils, ReadDiscreteInputs, ReadHoldingRegisters, ReadInputRegisters,
		WriteSingleCoil, WriteSingleRegister, WriteMultipleCoils, WriteMultipleRegisters:
		return true
	}
	return false
}

// IsWrite reports whether the function code modifies device state
func (fc FunctionCode) IsWrite() bool {
	switch fc {
	case WriteSingleCoil, WriteSingleRegister, WriteMultipleCoils, WriteMultipleRegisters:
		return true
	}
	return false
}

// IsBitAccess reports whether the function code addresses single-bit data
func (fc FunctionCode) IsBitAccess() bool {
	switch fc {
	case ReadCoils, ReadDiscreteInputs, WriteSingleCoil, WriteMultipleCoils:
		return true
	}
	return false
}

// Intent is the direction of a transaction
type Intent int

const (
	IntentRead Intent = iota
	IntentWrite
)

// String returns the string representation of the intent
func (i Intent) String() string {
	if i == IntentWrite {
		return "write"
	}
	return "read"
}

// Descriptor is the immutable, resolved form of one transaction against a unit
type Descriptor struct {
	SlaveID      uint8
	FunctionCode FunctionCode
	Address      uint16
	Length       uint16
	FixedValue   *uint16
}

// Intent derives the transaction direction from the function code
func (d Descriptor) Intent() Intent {
	if d.FunctionCode.IsWrite() {
		return IntentWrite
	}
	return IntentRead
}

// HasFixedValue reports whether the write value is baked into the descriptor
func (d Descriptor) HasFixedValue() bool {
	return d.FixedValue != nil
}

// Validate checks the descriptor against protocol limits
func (d Descriptor) Validate() error {
	if !d.FunctionCode.Supported() {
		return fmt.Errorf("unsupported function code 0x%02X", uint8(d.FunctionCode))
	}
	if d.Length == 0 {
		return fmt.Errorf("length must be at least 1")
	}
	maxLength := uint16(125)
	if d.FunctionCode.IsBitAccess() {
		maxLength = 2000
	}
	if d.Length > maxLength {
		return fmt.Errorf("length %d exceeds %d for %s", d.Length, maxLength, d.FunctionCode)
	}
	if (d.FunctionCode == WriteSingleCoil || d.FunctionCode == WriteSingleRegister) && d.Length != 1 {
		return fmt.Errorf("%s requires length 1, got %d", d.FunctionCode, d.Length)
	}
	if uint32(d.Address)+uint32(d.Length) > 0x10000 {
		return fmt.Errorf("address range %d+%d overflows register space", d.Address, d.Length)
	}
	return nil
}

// String returns a compact description for logs
func (d Descriptor) String() string {
	if d.FixedValue != nil {
		return fmt.Sprintf("slave=%d fc=%d addr=%d len=%d value=%d",
			d.SlaveID, uint8(d.FunctionCode), d.Address, d.Length, *d.FixedValue)
	}
	return fmt.Sprintf("slave=%d fc=%d addr=%d len=%d", d.SlaveID, uint8(d.FunctionCode), d.Address, d.Length)
}

// Uint16 returns a pointer to v, for building descriptors with fixed values
func Uint16(v uint16) *uint16 {
	return &v
}
