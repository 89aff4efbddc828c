package broadcast

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelter-engine/pkg/config"
	"shelter-engine/pkg/errors"
	"shelter-engine/pkg/logger"
)

type doneToken struct{ err error }

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Error() error                   { return t.err }
func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu        sync.Mutex
	connected bool
	messages  []published
}

func (c *fakeClient) Connect() paho.Token { return &doneToken{} }
func (c *fakeClient) Disconnect(uint)     { c.connected = false }
func (c *fakeClient) IsConnected() bool   { return c.connected }
func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	case string:
		data = []byte(p)
	}
	c.messages = append(c.messages, published{topic: topic, retained: retained, payload: data})
	return &doneToken{}
}

func newTestSink(client *fakeClient) *MQTTSink {
	s := newMQTTSink(config.MQTTSettings{Broker: "test", Port: 1883}, config.BroadcastSettings{TopicPrefix: "shelters/c0101/"}, logger.NewMockLogger())
	s.client = client
	return s
}

func TestMQTTSinkTopics(t *testing.T) {
	client := &fakeClient{connected: true}
	s := newTestSink(client)
	ctx := context.Background()

	require.NoError(t, s.PublishLog(ctx, NewLogEvent(LevelInfo, "polling", "cycle started", nil)))
	require.NoError(t, s.PublishCommand(ctx, CommandEvent{DeviceID: "d0101", UnitID: "u001", Action: "SET_POWER_ON", Status: "success"}))

	require.Len(t, client.messages, 2)
	assert.Equal(t, "shelters/c0101/log", client.messages[0].topic)
	assert.Equal(t, "shelters/c0101/command/d0101/u001", client.messages[1].topic)

	var cmd CommandEvent
	require.NoError(t, json.Unmarshal(client.messages[1].payload, &cmd))
	assert.Equal(t, "SET_POWER_ON", cmd.Action)
	assert.Equal(t, "success", cmd.Status)

	require.NoError(t, s.Close())
	last := client.messages[len(client.messages)-1]
	assert.Equal(t, "shelters/c0101/status", last.topic)
	assert.True(t, last.retained)
	assert.Equal(t, "offline", string(last.payload))
}

func TestMQTTSinkNotConnected(t *testing.T) {
	s := newTestSink(&fakeClient{})

	err := s.PublishLog(context.Background(), NewLogEvent(LevelWarn, "polling", "x", nil))
	var be *errors.BroadcastError
	require.True(t, stderrors.As(err, &be))
}

type failingSink struct{ NullSink }

func (failingSink) PublishLog(context.Context, LogEvent) error { return stderrors.New("down") }

func TestMultiSinkPublishesToAll(t *testing.T) {
	journalPath := filepath.Join(t.TempDir(), "events.cbor")
	journal, err := NewJournalSink(journalPath)
	require.NoError(t, err)

	multi := NewMultiSink(failingSink{}, journal)
	err = multi.PublishLog(context.Background(), NewLogEvent(LevelInfo, "engine", "hello", nil))
	assert.EqualError(t, err, "down")
	require.NoError(t, multi.PublishCommand(context.Background(), CommandEvent{UnitID: "u001", Status: "fail"}))
	require.NoError(t, journal.Close())

	records, err := ReadJournal(journalPath)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.NotNil(t, records[0].Log)
	assert.Equal(t, "hello", records[0].Log.Message)
	require.NotNil(t, records[1].Command)
	assert.Equal(t, "fail", records[1].Command.Status)
}

func TestJournalAppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.cbor")
	ts := time.Date(2026, 3, 1, 7, 30, 0, 123456789, time.UTC)

	for _, msg := range []string{"first", "second"} {
		j, err := NewJournalSink(path)
		require.NoError(t, err)
		require.NoError(t, j.PublishLog(context.Background(), LogEvent{Level: LevelInfo, Service: "engine", Message: msg, Timestamp: ts}))
		require.NoError(t, j.Close())
	}

	records, err := ReadJournal(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "second", records[1].Log.Message)
	assert.True(t, ts.Equal(records[0].Log.Timestamp))

	j, err := NewJournalSink(path)
	require.NoError(t, err)
	require.NoError(t, j.Close())
	assert.Error(t, j.PublishLog(context.Background(), LogEvent{}))
}

func TestDiagnosticsAdapter(t *testing.T) {
	client := &fakeClient{connected: true}
	d := Diagnostics{Sink: newTestSink(client), Service: "engine"}

	require.NoError(t, d.PublishDiagnostic(context.Background(), errors.CodeMapping, "unknown site"))
	require.Len(t, client.messages, 1)

	var ev LogEvent
	require.NoError(t, json.Unmarshal(client.messages[0].payload, &ev))
	assert.Equal(t, LevelError, ev.Level)
	assert.Contains(t, ev.Message, "unknown site")
}
