package modbus

import (
	"encoding/binary"
	"fmt"
)

// CRC16 calculates the Modbus RTU CRC-16 checksum for the given data
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)

	for _, b := range data {
		crc ^= uint16(b)

		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc >>= 1
				crc ^= 0xA001
			} else {
				crc >>= 1
			}
		}
	}

	return crc
}

// AppendCRC appends the CRC-16 checksum to the data
// The CRC is appended in little-endian format (low byte first, high byte second)
func AppendCRC(data []byte) []byte {
	crc := CRC16(data)

	result := make([]byte, len(data)+2)
	copy(result, data)
	result[len(data)] = byte(crc & 0xFF)
	result[len(data)+1] = byte((crc >> 8) & 0xFF)

	return result
}

// VerifyCRC verifies the CRC16 checksum of an RTU frame
func VerifyCRC(data []byte) bool {
	if len(data) < 4 {
		return false
	}

	calculated := CRC16(data[:len(data)-2])
	received := uint16(data[len(data)-2]) | (uint16(data[len(data)-1]) << 8)

	return calculated == received
}

// BuildRequestFrame builds a complete RTU request frame with CRC.
// values carries the register words (or 0/1 bits) for write function codes.
func BuildRequestFrame(d Descriptor, values []uint16) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	frame := make([]byte, 6, 8+2*len(values))
	frame[0] = d.SlaveID
	frame[1] = byte(d.FunctionCode)
	binary.BigEndian.PutUint16(frame[2:4], d.Address)

	switch d.FunctionCode {
	case ReadCoils, ReadDiscreteInputs, ReadHoldingRegisters, ReadInputRegisters:
		binary.BigEndian.PutUint16(frame[4:6], d.Length)

	case WriteSingleCoil:
		if len(values) != 1 {
			return nil, fmt.Errorf("%s needs exactly one value, got %d", d.FunctionCode, len(values))
		}
		if values[0] != 0 {
			binary.BigEndian.PutUint16(frame[4:6], 0xFF00)
		}

	case WriteSingleRegister:
		if len(values) != 1 {
			return nil, fmt.Errorf("%s needs exactly one value, got %d", d.FunctionCode, len(values))
		}
		binary.BigEndian.PutUint16(frame[4:6], values[0])

	case WriteMultipleCoils:
		if len(values) != int(d.Length) {
			return nil, fmt.Errorf("%s needs %d values, got %d", d.FunctionCode, d.Length, len(values))
		}
		binary.BigEndian.PutUint16(frame[4:6], d.Length)
		packed := PackBits(values)
		frame = append(frame, byte(len(packed)))
		frame = append(frame, packed...)

	case WriteMultipleRegisters:
		if len(values) != int(d.Length) {
			return nil, fmt.Errorf("%s needs %d values, got %d", d.FunctionCode, d.Length, len(values))
		}
		binary.BigEndian.PutUint16(frame[4:6], d.Length)
		frame = append(frame, byte(2*len(values)))
		for _, v := range values {
			frame = binary.BigEndian.AppendUint16(frame, v)
		}
	}

	return AppendCRC(frame), nil
}

// ExceptionError is a device-side protocol exception response
type ExceptionError struct {
	FunctionCode FunctionCode
	Code         byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("device exception 0x%02X for %s", e.Code, e.FunctionCode)
}

// ExpectedResponseLength returns the full RTU response length for a request,
// or 0 when it depends on a byte count not yet received
func ExpectedResponseLength(d Descriptor) int {
	switch d.FunctionCode {
	case ReadCoils, ReadDiscreteInputs:
		return 5 + int((d.Length+7)/8)
	case ReadHoldingRegisters, ReadInputRegisters:
		return 5 + 2*int(d.Length)
	case WriteSingleCoil, WriteSingleRegister, WriteMultipleCoils, WriteMultipleRegisters:
		return 8
	}
	return 0
}

// ParseResponseFrame validates an RTU response against its request and
// returns the decoded values (registers, or 0/1 per bit for bit reads).
// Write acknowledgements return the echoed value or quantity.
func ParseResponseFrame(d Descriptor, frame []byte) ([]uint16, error) {
	if len(frame) < 5 {
		return nil, fmt.Errorf("response too short: %d bytes", len(frame))
	}
	if !VerifyCRC(frame) {
		return nil, fmt.Errorf("response CRC mismatch")
	}
	if frame[0] != d.SlaveID {
		return nil, fmt.Errorf("response from slave %d, expected %d", frame[0], d.SlaveID)
	}
	if frame[1] == byte(d.FunctionCode)|0x80 {
		return nil, &ExceptionError{FunctionCode: d.FunctionCode, Code: frame[2]}
	}
	if frame[1] != byte(d.FunctionCode) {
		return nil, fmt.Errorf("response function code 0x%02X, expected 0x%02X", frame[1], uint8(d.FunctionCode))
	}

	body := frame[:len(frame)-2]
	switch d.FunctionCode {
	case ReadCoils, ReadDiscreteInputs, ReadHoldingRegisters, ReadInputRegisters:
		byteCount := int(body[2])
		if len(body) != 3+byteCount {
			return nil, fmt.Errorf("byte count %d does not match payload of %d bytes", byteCount, len(body)-3)
		}
		return DecodeRead(d, body[3:])
	default:
		if len(body) != 6 {
			return nil, fmt.Errorf("write acknowledgement has %d bytes, expected 6", len(body))
		}
		if binary.BigEndian.Uint16(body[2:4]) != d.Address {
			return nil, fmt.Errorf("acknowledged address %d, expected %d", binary.BigEndian.Uint16(body[2:4]), d.Address)
		}
		value := binary.BigEndian.Uint16(body[4:6])
		if d.FunctionCode == WriteSingleCoil && value == 0xFF00 {
			value = 1
		}
		return []uint16{value}, nil
	}
}

// DecodeRead turns a read payload into values. Registers decode big-endian;
// bits decode least-significant bit first, truncated to the descriptor length.
func DecodeRead(d Descriptor, payload []byte) ([]uint16, error) {
	if d.FunctionCode.IsBitAccess() {
		need := int((d.Length + 7) / 8)
		if len(payload) < need {
			return nil, fmt.Errorf("bit payload has %d bytes, expected %d", len(payload), need)
		}
		values := make([]uint16, d.Length)
		for i := range values {
			if payload[i/8]&(1<<(uint(i)%8)) != 0 {
				values[i] = 1
			}
		}
		return values, nil
	}

	if len(payload) < 2*int(d.Length) {
		return nil, fmt.Errorf("register payload has %d bytes, expected %d", len(payload), 2*d.Length)
	}
	values := make([]uint16, d.Length)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(payload[2*i : 2*i+2])
	}
	return values, nil
}

// PackBits packs 0/1 values into bytes, least-significant bit first
func PackBits(values []uint16) []byte {
	packed := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v != 0 {
			packed[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return packed
}

// EncodeRegisters encodes register words big-endian
func EncodeRegisters(values []uint16) []byte {
	out := make([]byte, 0, 2*len(values))
	for _, v := range values {
		out = binary.BigEndian.AppendUint16(out, v)
	}
	return out
}
