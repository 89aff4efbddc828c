// Package services holds the long-running helpers around the polling loop.
package services

import (
	"context"
	"time"

	"shelter-engine/pkg/broadcast"
	"shelter-engine/pkg/logger"
)

// LinkState reports whether the shared link is online
type LinkState interface {
	IsOnline() bool
}

// HeartbeatService broadcasts a periodic "engine running" log event while
// the link is online
type HeartbeatService struct {
	sink     broadcast.Sink
	link     LinkState
	interval time.Duration
	log      logger.ILogger
	started  time.Time
}

// NewHeartbeatService creates a new heartbeat service
func NewHeartbeatService(sink broadcast.Sink, link LinkState, interval time.Duration, log logger.ILogger) *HeartbeatService {
	return &HeartbeatService{
		sink:     sink,
		link:     link,
		interval: interval,
		log:      log,
		started:  time.Now(),
	}
}

// Start begins the heartbeat loop
func (s *HeartbeatService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.LogInfo("💓 Heartbeat service started with interval: %v", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.log.LogDebug("🔇 Heartbeat service stopped")
			return
		case <-ticker.C:
			s.SendHeartbeat(ctx)
		}
	}
}

// SendHeartbeat publishes one heartbeat if the link is online. It reports
// whether a heartbeat was sent.
func (s *HeartbeatService) SendHeartbeat(ctx context.Context) bool {
	if !s.link.IsOnline() {
		s.log.LogDebug("💔 Skipping heartbeat - link is offline")
		return false
	}

	event := broadcast.NewLogEvent(broadcast.LevelInfo, "engine", "engine running", map[string]interface{}{
		"uptime_s": int64(time.Since(s.started).Seconds()),
	})
	if err := s.sink.PublishLog(ctx, event); err != nil {
		s.log.LogError("⚠️ Heartbeat failed: %v", err)
		return false
	}

	s.log.LogDebug("💓 Heartbeat sent")
	return true
}
