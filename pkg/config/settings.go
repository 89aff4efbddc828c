package config

import (
	"fmt"
	"time"
)

// TransportSettings contains only transport-specific configuration
// Used for dependency injection to avoid coupling to full Config
type TransportSettings struct {
	Mode     string
	Address  string
	Serial   SerialConfig
	Timeout  time.Duration
	Breaker  CircuitBreakerConfig
	Endpoint string
}

// NewTransportSettings extracts transport settings from full config
func NewTransportSettings(cfg *Config) TransportSettings {
	endpoint := cfg.Transport.Address
	switch cfg.Transport.Mode {
	case TransportModbusRTU:
		endpoint = cfg.Transport.Serial.Device
	case TransportMQTTGateway:
		endpoint = fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Broker, cfg.MQTT.Port)
	}
	return TransportSettings{
		Mode:     cfg.Transport.Mode,
		Address:  cfg.Transport.Address,
		Serial:   cfg.Transport.Serial,
		Timeout:  time.Duration(cfg.Transport.Timeout) * time.Millisecond,
		Breaker:  cfg.Transport.CircuitBreaker,
		Endpoint: endpoint,
	}
}

// BreakerTimeout returns the open-state timeout as a duration
func (s TransportSettings) BreakerTimeout() time.Duration {
	return time.Duration(s.Breaker.Timeout) * time.Second
}

// MQTTSettings contains only MQTT-specific configuration
// Used for dependency injection to avoid coupling to full Config
type MQTTSettings struct {
	Broker      string
	Port        int
	Username    string
	Password    string
	ClientID    string
	RetryDelay  time.Duration
	KeepAlive   time.Duration
	TopicPrefix string
}

// BrokerURL returns the paho broker address
func (s MQTTSettings) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", s.Broker, s.Port)
}

// NewMQTTSettings extracts MQTT settings from full config
func NewMQTTSettings(cfg *Config) MQTTSettings {
	return MQTTSettings{
		Broker:      cfg.MQTT.Broker,
		Port:        cfg.MQTT.Port,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		ClientID:    cfg.MQTT.ClientID,
		RetryDelay:  time.Duration(cfg.MQTT.RetryDelay) * time.Millisecond,
		KeepAlive:   time.Duration(cfg.MQTT.KeepAlive) * time.Second,
		TopicPrefix: cfg.MQTT.TopicPrefix,
	}
}

// GatewaySettings contains only gateway-specific configuration
// Used for dependency injection to avoid coupling to full Config
type GatewaySettings struct {
	MAC       string
	CmdTopic  string
	DataTopic string
}

// NewGatewaySettings extracts gateway settings from full config
func NewGatewaySettings(cfg *Config) GatewaySettings {
	return GatewaySettings{
		MAC:       cfg.MQTT.Gateway.MAC,
		CmdTopic:  cfg.MQTT.Gateway.CmdTopic,
		DataTopic: cfg.MQTT.Gateway.DataTopic,
	}
}

// QueueSettings contains command queue configuration
type QueueSettings struct {
	TransactionTimeout time.Duration
	InterFrameDelay    time.Duration
}

// NewQueueSettings extracts queue settings from full config
func NewQueueSettings(cfg *Config) QueueSettings {
	return QueueSettings{
		TransactionTimeout: time.Duration(cfg.Transport.Timeout) * time.Millisecond,
		InterFrameDelay:    time.Duration(cfg.Queue.InterFrameDelay) * time.Millisecond,
	}
}

// PollingSettings contains polling loop configuration
// Used for dependency injection to avoid coupling to full Config
type PollingSettings struct {
	Enabled           bool
	Interval          time.Duration
	RetryAttempts     int
	RetryBackoff      time.Duration
	UnitCacheTTL      time.Duration
	ErrorGracePeriod  time.Duration
	HeartbeatInterval time.Duration
	SummaryInterval   time.Duration
}

// NewPollingSettings extracts polling settings from full config
func NewPollingSettings(cfg *Config) PollingSettings {
	return PollingSettings{
		Enabled:           cfg.PollingEnabled(),
		Interval:          time.Duration(cfg.Polling.Interval) * time.Millisecond,
		RetryAttempts:     cfg.Polling.RetryAttempts,
		RetryBackoff:      time.Duration(cfg.Polling.RetryBackoff) * time.Millisecond,
		UnitCacheTTL:      time.Duration(cfg.Polling.UnitCacheTTL) * time.Second,
		ErrorGracePeriod:  time.Duration(cfg.Polling.ErrorGracePeriod) * time.Second,
		HeartbeatInterval: time.Duration(cfg.Polling.HeartbeatInterval) * time.Second,
		SummaryInterval:   time.Duration(cfg.Polling.SummaryInterval) * time.Second,
	}
}

// ResolverSettings contains address resolver configuration
type ResolverSettings struct {
	CleanupInterval time.Duration
}

// NewResolverSettings extracts resolver settings from full config
func NewResolverSettings(cfg *Config) ResolverSettings {
	return ResolverSettings{
		CleanupInterval: time.Duration(cfg.Resolver.CleanupInterval) * time.Second,
	}
}

// BroadcastSettings contains fan-out configuration
type BroadcastSettings struct {
	MQTT        bool
	QoS         byte
	TopicPrefix string
	Journal     string
}

// NewBroadcastSettings extracts broadcast settings from full config
func NewBroadcastSettings(cfg *Config) BroadcastSettings {
	return BroadcastSettings{
		MQTT:        cfg.Broadcast.MQTT,
		QoS:         cfg.Broadcast.QoS,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		Journal:     cfg.Broadcast.Journal,
	}
}
