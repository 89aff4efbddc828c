package transport

import (
	"fmt"

	"shelter-engine/pkg/config"
	engineerrors "shelter-engine/pkg/errors"
	"shelter-engine/pkg/logger"
	"shelter-engine/pkg/recovery"
)

// New builds the transport selected by cfg.Transport.Mode, wrapped in a
// circuit breaker when enabled
func New(cfg *config.Config, log logger.ILogger) (Transport, error) {
	settings := config.NewTransportSettings(cfg)

	var t Transport
	switch settings.Mode {
	case config.TransportModbusTCP, config.TransportModbusRTU:
		mt, err := NewModbusTransport(settings, log)
		if err != nil {
			return nil, err
		}
		t = mt
	case config.TransportMQTTGateway:
		t = NewMQTTGateway(config.NewMQTTSettings(cfg), config.NewGatewaySettings(cfg), settings.Timeout, log)
	default:
		return nil, engineerrors.NewConfigError("build transport", fmt.Errorf("unknown mode %q", settings.Mode), "transport.mode")
	}

	if !settings.Breaker.Enabled {
		return t, nil
	}
	return NewCircuitBreakerTransport(t, recovery.CircuitBreakerConfig{
		MaxFailures:      settings.Breaker.MaxFailures,
		Timeout:          settings.BreakerTimeout(),
		HalfOpenMaxTries: settings.Breaker.HalfOpenMaxTries,
	}, log), nil
}
