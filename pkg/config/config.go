package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"shelter-engine/pkg/logger"
)

// Transport modes
const (
	TransportModbusTCP   = "modbus-tcp"
	TransportModbusRTU   = "modbus-rtu"
	TransportMQTTGateway = "mqtt-gateway"
)

// Storage drivers
const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// Config represents the complete engine configuration
type Config struct {
	Version   string               `yaml:"version"`
	Logging   logger.LoggingConfig `yaml:"logging"`
	Transport TransportConfig      `yaml:"transport"`
	MQTT      MQTTConfig           `yaml:"mqtt"`
	Queue     QueueConfig          `yaml:"queue"`
	Polling   PollingConfig        `yaml:"polling"`
	Resolver  ResolverConfig       `yaml:"resolver"`
	Storage   StorageConfig        `yaml:"storage"`
	Broadcast BroadcastConfig      `yaml:"broadcast"`
	HTTP      HTTPConfig           `yaml:"http"`
	Mapping   MappingConfig        `yaml:"mapping"`
}

// TransportConfig selects and tunes the shared field link
type TransportConfig struct {
	Mode           string               `yaml:"mode"`
	Address        string               `yaml:"address"` // host:port for modbus-tcp
	Serial         SerialConfig         `yaml:"serial"`
	Timeout        int                  `yaml:"timeout"` // Milliseconds per transaction
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// SerialConfig contains RTU line settings
type SerialConfig struct {
	Device   string `yaml:"device"`
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	Parity   string `yaml:"parity"`
	StopBits int    `yaml:"stop_bits"`
}

// CircuitBreakerConfig contains the link circuit breaker settings
type CircuitBreakerConfig struct {
	Enabled          bool `yaml:"enabled"`
	MaxFailures      int  `yaml:"max_failures"`
	Timeout          int  `yaml:"timeout"` // Seconds before a half-open probe
	HalfOpenMaxTries int  `yaml:"half_open_max_tries"`
}

// MQTTConfig contains MQTT broker settings, shared by the gateway
// transport and the broadcast sink
type MQTTConfig struct {
	Broker      string        `yaml:"broker"`
	Port        int           `yaml:"port"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	ClientID    string        `yaml:"client_id"`
	RetryDelay  int           `yaml:"retry_delay"` // Milliseconds between connection retries
	KeepAlive   int           `yaml:"keep_alive"`  // Seconds
	TopicPrefix string        `yaml:"topic_prefix"`
	Gateway     GatewayConfig `yaml:"gateway"`
}

// GatewayConfig contains USR-DR164 style RTU-over-MQTT gateway settings
type GatewayConfig struct {
	MAC       string `yaml:"mac"`
	CmdTopic  string `yaml:"cmd_topic"`
	DataTopic string `yaml:"data_topic"`
}

// QueueConfig tunes the command queue dispatcher
type QueueConfig struct {
	InterFrameDelay int `yaml:"inter_frame_delay"` // Milliseconds of bus silence between transactions
}

// PollingConfig contains the polling scheduler settings
type PollingConfig struct {
	Enabled           *bool `yaml:"enabled"`
	Interval          int   `yaml:"interval"`           // Milliseconds between cycle starts
	RetryAttempts     int   `yaml:"retry_attempts"`     // Attempts per action, first try included
	RetryBackoff      int   `yaml:"retry_backoff"`      // Milliseconds between attempts
	UnitCacheTTL      int   `yaml:"unit_cache_ttl"`     // Seconds the unit list is cached
	ErrorGracePeriod  int   `yaml:"error_grace_period"` // Seconds before the link is reported offline
	HeartbeatInterval int   `yaml:"heartbeat_interval"` // Seconds, 0 disables
	SummaryInterval   int   `yaml:"summary_interval"`   // Seconds between performance summaries
}

// ResolverConfig contains the address resolver cache settings
type ResolverConfig struct {
	CleanupInterval int `yaml:"cleanup_interval"` // Seconds between wholesale cache sweeps
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Driver          string `yaml:"driver"`
	Path            string `yaml:"path"`
	SeedFromMapping bool   `yaml:"seed_from_mapping"`
}

// BroadcastConfig selects the real-time fan-out sinks
type BroadcastConfig struct {
	MQTT    bool   `yaml:"mqtt"`
	QoS     byte   `yaml:"qos"`
	Journal string `yaml:"journal"` // CBOR event journal path, empty disables
}

// HTTPConfig contains the health and metrics endpoint settings
type HTTPConfig struct {
	Port int `yaml:"port"` // 0 disables the server
}

// MappingConfig locates the site mapping table
type MappingConfig struct {
	File string `yaml:"file"`
}

// PollingEnabled returns the configured polling flag, defaulting to true
func (c *Config) PollingEnabled() bool {
	return c.Polling.Enabled == nil || *c.Polling.Enabled
}

// LoadConfig loads configuration from specified file with version detection
func LoadConfig(configPath string) (*Config, error) {
	// Try to find configuration file in different locations
	paths := []string{
		configPath,
		"/etc/shelter-engine/config.yaml",
		"/etc/shelter-engine.yaml",
		"./config.yaml",
	}

	var data []byte
	var err error
	var usedPath string

	for _, path := range paths {
		if path == "" {
			continue
		}
		// #nosec G304 - Paths are from a hardcoded list of safe configuration file locations
		data, err = os.ReadFile(path)
		if err == nil {
			usedPath = path
			break
		}
	}

	if err != nil {
		return nil, fmt.Errorf("cannot read configuration file from any of the locations: %v. Last error: %w", paths, err)
	}

	config, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", usedPath, err)
	}

	logger.LogInfo("✅ Configuration loaded successfully from %s (version: %s)", usedPath, config.Version)
	return config, nil
}

// LoadConfigFromString loads configuration from a YAML string (for testing)
func LoadConfigFromString(yamlContent string) (*Config, error) {
	return parse([]byte(yamlContent))
}

func parse(data []byte) (*Config, error) {
	// First, parse just the version to validate compatibility
	var versionCheck VersionInfo
	if err := yaml.Unmarshal(data, &versionCheck); err != nil {
		return nil, fmt.Errorf("error parsing configuration version: %w", err)
	}
	if err := ValidateVersion(versionCheck.Version); err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = logger.LogLevelInfo
	}
	if c.Transport.Timeout == 0 {
		c.Transport.Timeout = 2000
	}
	if c.Transport.CircuitBreaker.MaxFailures == 0 {
		c.Transport.CircuitBreaker.MaxFailures = 5
	}
	if c.Transport.CircuitBreaker.Timeout == 0 {
		c.Transport.CircuitBreaker.Timeout = 30
	}
	if c.Transport.CircuitBreaker.HalfOpenMaxTries == 0 {
		c.Transport.CircuitBreaker.HalfOpenMaxTries = 1
	}
	if c.Transport.Serial.BaudRate == 0 {
		c.Transport.Serial.BaudRate = 9600
	}
	if c.Transport.Serial.DataBits == 0 {
		c.Transport.Serial.DataBits = 8
	}
	if c.Transport.Serial.Parity == "" {
		c.Transport.Serial.Parity = "N"
	}
	if c.Transport.Serial.StopBits == 0 {
		c.Transport.Serial.StopBits = 1
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "shelter-engine"
	}
	if c.MQTT.RetryDelay == 0 {
		c.MQTT.RetryDelay = 5000
	}
	if c.MQTT.KeepAlive == 0 {
		c.MQTT.KeepAlive = 60
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "shelter"
	}
	if c.Polling.Interval == 0 {
		c.Polling.Interval = 10000
	}
	if c.Polling.RetryAttempts == 0 {
		c.Polling.RetryAttempts = 3
	}
	if c.Polling.RetryBackoff == 0 {
		c.Polling.RetryBackoff = 200
	}
	if c.Polling.UnitCacheTTL == 0 {
		c.Polling.UnitCacheTTL = 60
	}
	if c.Polling.ErrorGracePeriod == 0 {
		c.Polling.ErrorGracePeriod = 15
	}
	if c.Polling.SummaryInterval == 0 {
		c.Polling.SummaryInterval = 300
	}
	if c.Resolver.CleanupInterval == 0 {
		c.Resolver.CleanupInterval = 3600
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageSQLite
	}
	if c.Storage.Path == "" && c.Storage.Driver == StorageSQLite {
		c.Storage.Path = "shelter.db"
	}
	if c.Mapping.File == "" {
		c.Mapping.File = "mapping.yaml"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, ok := logger.ParseLevel(c.Logging.Level); !ok {
		return fmt.Errorf("logging.level %q is not one of error, warn, info, debug, trace", c.Logging.Level)
	}

	switch c.Transport.Mode {
	case TransportModbusTCP:
		if c.Transport.Address == "" {
			return fmt.Errorf("transport.address is required for %s", TransportModbusTCP)
		}
	case TransportModbusRTU:
		if c.Transport.Serial.Device == "" {
			return fmt.Errorf("transport.serial.device is required for %s", TransportModbusRTU)
		}
		switch c.Transport.Serial.Parity {
		case "N", "E", "O":
		default:
			return fmt.Errorf("transport.serial.parity must be N, E or O")
		}
	case TransportMQTTGateway:
		if c.MQTT.Gateway.CmdTopic == "" || c.MQTT.Gateway.DataTopic == "" {
			return fmt.Errorf("mqtt.gateway.cmd_topic and mqtt.gateway.data_topic are required for %s", TransportMQTTGateway)
		}
	case "":
		return fmt.Errorf("transport.mode is not specified")
	default:
		return fmt.Errorf("transport.mode %q is not supported", c.Transport.Mode)
	}
	if c.Transport.Timeout < 0 {
		return fmt.Errorf("transport.timeout must be positive")
	}

	if (c.Transport.Mode == TransportMQTTGateway || c.Broadcast.MQTT) && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is not specified")
	}
	if c.MQTT.Port <= 0 {
		return fmt.Errorf("mqtt.port must be positive")
	}
	if c.Broadcast.QoS > 2 {
		return fmt.Errorf("broadcast.qos must be 0, 1 or 2")
	}

	if c.Queue.InterFrameDelay < 0 {
		return fmt.Errorf("queue.inter_frame_delay must be non-negative")
	}
	if c.Polling.Interval < 0 {
		return fmt.Errorf("polling.interval must be positive")
	}
	if c.Polling.RetryAttempts < 1 {
		return fmt.Errorf("polling.retry_attempts must be at least 1")
	}
	if c.Polling.RetryBackoff < 0 {
		return fmt.Errorf("polling.retry_backoff must be non-negative")
	}

	switch c.Storage.Driver {
	case StorageSQLite, StorageMemory:
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}

	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 0 and 65535")
	}

	return nil
}
