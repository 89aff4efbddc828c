// Package http serves the engine's health and metrics endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"shelter-engine/pkg/diagnostics"
	"shelter-engine/pkg/logger"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status          string                   `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp       time.Time                `json:"timestamp"`
	Uptime          string                   `json:"uptime"`
	LinkOnline      bool                     `json:"link_online"`
	LastTransaction string                   `json:"last_successful_transaction"`
	ErrorCount      int                      `json:"error_count"`
	SuccessCount    int                      `json:"success_count"`
	PollingEnabled  bool                     `json:"polling_enabled"`
	PollingInterval string                   `json:"polling_interval,omitempty"`
	Units           []diagnostics.UnitStatus `json:"units,omitempty"`
	Version         string                   `json:"version,omitempty"`
}

// HealthChecker provides link health information
type HealthChecker interface {
	IsOnline() bool
	GetLastSuccessTime() time.Time
	GetErrorCount() int
	GetSuccessCount() int
}

// UnitReporter provides per-unit diagnostics
type UnitReporter interface {
	Snapshot() []diagnostics.UnitStatus
}

// PollingReporter provides the runtime polling switches
type PollingReporter interface {
	Enabled() bool
	Interval() time.Duration
}

// HealthHandler provides HTTP health check endpoint
type HealthHandler struct {
	startTime     time.Time
	healthChecker HealthChecker
	units         UnitReporter
	polling       PollingReporter
	version       string
}

// NewHealthHandler creates a new health check handler. units and polling
// may be nil.
func NewHealthHandler(healthChecker HealthChecker, units UnitReporter, polling PollingReporter, version string) *HealthHandler {
	return &HealthHandler{
		startTime:     time.Now(),
		healthChecker: healthChecker,
		units:         units,
		polling:       polling,
		version:       version,
	}
}

// ServeHTTP implements http.Handler interface for /health endpoint
func (hh *HealthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	status := hh.getHealthStatus()

	w.Header().Set("Content-Type", "application/json")
	statusCode := http.StatusOK
	if status.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	w.WriteHeader(statusCode)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(status); err != nil {
		http.Error(w, fmt.Sprintf("Failed to encode health status: %v", err), http.StatusInternalServerError)
	}
}

// getHealthStatus determines current health status
func (hh *HealthHandler) getHealthStatus() HealthStatus {
	now := time.Now()

	isOnline := hh.healthChecker.IsOnline()
	errorCount := hh.healthChecker.GetErrorCount()
	successCount := hh.healthChecker.GetSuccessCount()

	lastTx := "never"
	if last := hh.healthChecker.GetLastSuccessTime(); !last.IsZero() {
		lastTx = formatDuration(now.Sub(last)) + " ago"
	}

	status := "healthy"
	if !isOnline {
		status = "unhealthy"
	} else if total := errorCount + successCount; errorCount > 0 && total > 0 {
		errorRate := float64(errorCount) / float64(total) * 100.0
		if errorRate > 50.0 {
			status = "unhealthy"
		} else if errorRate > 20.0 {
			status = "degraded"
		}
	}

	hs := HealthStatus{
		Status:          status,
		Timestamp:       now,
		Uptime:          formatDuration(now.Sub(hh.startTime)),
		LinkOnline:      isOnline,
		LastTransaction: lastTx,
		ErrorCount:      errorCount,
		SuccessCount:    successCount,
		Version:         hh.version,
	}
	if hh.polling != nil {
		hs.PollingEnabled = hh.polling.Enabled()
		hs.PollingInterval = hh.polling.Interval().String()
	}
	if hh.units != nil {
		hs.Units = hh.units.Snapshot()
		for _, u := range hs.Units {
			if status == "healthy" && (u.State == diagnostics.StateError || u.State == diagnostics.StateOffline) {
				hs.Status = "degraded"
			}
		}
	}
	return hs
}

// formatDuration formats a duration in human-readable form
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours %d minutes", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%d days %d hours", int(d.Hours())/24, int(d.Hours())%24)
	}
}

// NewServer builds the ops server: /health, and /metrics when a metrics
// handler is given
func NewServer(port int, health http.Handler, metrics http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/health", health)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html>
<head><title>Shelter Engine</title></head>
<body>
<h1>Shelter Engine</h1>
<ul>
<li><a href="/health">Health Check</a></li>
<li><a href="/metrics">Metrics</a></li>
</ul>
</body>
</html>`)
	})

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Serve runs server until ctx is done, then shuts it down gracefully
func Serve(ctx context.Context, server *http.Server, log logger.ILogger) error {
	errCh := make(chan error, 1)
	go func() {
		log.LogInfo("🌐 Ops server listening on %s", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
