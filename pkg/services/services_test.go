package services

import (
	"context"
	"testing"
	"time"

	"shelter-engine/pkg/broadcast"
	"shelter-engine/pkg/broadcast/broadcasttest"
	"shelter-engine/pkg/logger"
)

type fixedLink bool

func (l fixedLink) IsOnline() bool { return bool(l) }

func TestHeartbeatOnlyWhileOnline(t *testing.T) {
	sink := &broadcasttest.Recorder{}
	log := logger.NewMockLogger()

	if NewHeartbeatService(sink, fixedLink(false), time.Second, log).SendHeartbeat(context.Background()) {
		t.Error("heartbeat should be skipped while offline")
	}
	if len(sink.Logs()) != 0 {
		t.Fatalf("expected no events, got %d", len(sink.Logs()))
	}

	if !NewHeartbeatService(sink, fixedLink(true), time.Second, log).SendHeartbeat(context.Background()) {
		t.Error("heartbeat should be sent while online")
	}
	if !sink.HasLog(broadcast.LevelInfo, "engine running") {
		t.Error("expected an engine running event")
	}
}

func TestHeartbeatLoop(t *testing.T) {
	sink := &broadcasttest.Recorder{}
	s := NewHeartbeatService(sink, fixedLink(true), 5*time.Millisecond, logger.NewMockLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	if len(sink.Logs()) == 0 {
		t.Error("expected heartbeats during the loop")
	}
}

func TestRuntimeControl(t *testing.T) {
	log := logger.NewMockLogger()
	c := NewRuntimeControl(true, 10*time.Second, log)

	if !c.Enabled() || c.Interval() != 10*time.Second {
		t.Fatalf("unexpected defaults: %v %v", c.Enabled(), c.Interval())
	}

	if err := c.RequestInterval(time.Millisecond); err == nil {
		t.Error("expected an interval below the minimum to be refused")
	}
	if c.Interval() != 10*time.Second {
		t.Error("refused request must not change the interval")
	}

	if err := c.RequestInterval(2 * time.Second); err != nil {
		t.Fatal(err)
	}
	if c.Interval() != 2*time.Second {
		t.Errorf("expected 2s, got %v", c.Interval())
	}

	c.SetEnabled(false)
	if c.Enabled() {
		t.Error("expected polling disabled")
	}
	if !log.Contains("Polling disabled") {
		t.Error("expected the switch to be logged")
	}
}
