package transport

import (
	"context"

	"shelter-engine/pkg/modbus"
)

// Request is a single Modbus transaction against one slave
type Request struct {
	Descriptor modbus.Descriptor
	// Values are the words to write; ignored for reads. A write with no
	// values falls back to the descriptor's fixed value.
	Values []uint16
}

// WriteValues returns the words a write request carries
func (r Request) WriteValues() []uint16 {
	if len(r.Values) > 0 {
		return r.Values
	}
	if r.Descriptor.FixedValue != nil {
		return []uint16{*r.Descriptor.FixedValue}
	}
	return nil
}

// Response carries the decoded words of a completed transaction.
// Bit reads yield one word (0 or 1) per bit; writes echo the written values.
type Response struct {
	Values []uint16
	Raw    []byte
}

// Transport executes Modbus transactions on the shared link.
// Implementations are not required to be safe for concurrent Execute calls;
// the command queue serializes them.
type Transport interface {
	// Connect opens the link, blocking until ready or ctx is done
	Connect(ctx context.Context) error

	// Execute performs one request/response transaction
	Execute(ctx context.Context, req Request) (*Response, error)

	// IsConnected checks whether the link is currently usable
	IsConnected() bool

	// Endpoint names the link for logs and errors
	Endpoint() string

	// Close releases the link
	Close() error
}
