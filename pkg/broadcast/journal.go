package broadcast

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"shelter-engine/pkg/errors"
)

// journalEncMode writes deterministic records with RFC3339Nano timestamps
var journalEncMode cbor.EncMode

func init() {
	var err error
	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	journalEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create journal CBOR encoder mode: %v", err))
	}
}

// Record is one journal entry; exactly one of Log or Command is set
type Record struct {
	Log     *LogEvent     `cbor:"1,keyasint,omitempty"`
	Command *CommandEvent `cbor:"2,keyasint,omitempty"`
}

// JournalSink appends every event to a CBOR file, so the live stream can be
// replayed after the fact. It is safe for concurrent use.
type JournalSink struct {
	mu      sync.Mutex
	file    *os.File
	encoder *cbor.Encoder
	closed  bool
}

// NewJournalSink opens (appending) or creates the journal at path
func NewJournalSink(path string) (*JournalSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.NewBroadcastError("open journal", err, path)
	}
	return &JournalSink{file: f, encoder: journalEncMode.NewEncoder(f)}, nil
}

func (j *JournalSink) write(rec Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return errors.NewBroadcastError("write journal", os.ErrClosed, j.file.Name())
	}
	if err := j.encoder.Encode(rec); err != nil {
		return errors.NewBroadcastError("write journal", err, j.file.Name())
	}
	return nil
}

// PublishLog implements Sink
func (j *JournalSink) PublishLog(_ context.Context, event LogEvent) error {
	return j.write(Record{Log: &event})
}

// PublishCommand implements Sink
func (j *JournalSink) PublishCommand(_ context.Context, event CommandEvent) error {
	return j.write(Record{Command: &event})
}

// Close closes the journal file. Later publishes fail.
func (j *JournalSink) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	return j.file.Close()
}

// ReadJournal decodes every record of a journal file in order
func ReadJournal(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []Record
	dec := cbor.NewDecoder(f)
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if stderrors.Is(err, io.EOF) {
				return records, nil
			}
			return records, fmt.Errorf("decode journal %s: %w", path, err)
		}
		records = append(records, rec)
	}
}

var _ Sink = (*JournalSink)(nil)
