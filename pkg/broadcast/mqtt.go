package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"shelter-engine/pkg/config"
	"shelter-engine/pkg/errors"
	"shelter-engine/pkg/logger"
)

// publishClient is the part of the paho client the sink uses
type publishClient interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// MQTTSink publishes engine events as JSON on the broker:
//
//	<prefix>/status                       online / offline (retained)
//	<prefix>/log                          LogEvent
//	<prefix>/command/<device>/<unit>      CommandEvent
type MQTTSink struct {
	client   publishClient
	settings config.MQTTSettings
	qos      byte
	prefix   string
	timeout  time.Duration
	log      logger.ILogger
}

// NewMQTTSink creates a sink with its own broker connection
func NewMQTTSink(settings config.MQTTSettings, bs config.BroadcastSettings, log logger.ILogger) *MQTTSink {
	s := newMQTTSink(settings, bs, log)

	opts := paho.NewClientOptions()
	opts.AddBroker(settings.BrokerURL())
	opts.SetClientID(settings.ClientID + "_broadcast")
	opts.SetUsername(settings.Username)
	opts.SetPassword(settings.Password)
	opts.SetAutoReconnect(true)
	keepAlive := settings.KeepAlive
	if keepAlive == 0 {
		keepAlive = 60 * time.Second
	}
	opts.SetKeepAlive(keepAlive)
	opts.SetPingTimeout(10 * time.Second)

	// Subscribers see the engine go offline even on an unclean exit
	opts.SetWill(s.StatusTopic(), "offline", 1, true)

	opts.SetOnConnectHandler(func(client paho.Client) {
		s.log.LogInfo("Broadcast sink connected to MQTT broker")
		if token := client.Publish(s.StatusTopic(), 1, true, "online"); token.Wait() && token.Error() != nil {
			s.log.LogWarn("Error publishing online status on connect: %v", token.Error())
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.log.LogError("Broadcast sink disconnected: %v", err)
	})

	s.client = paho.NewClient(opts)
	return s
}

func newMQTTSink(settings config.MQTTSettings, bs config.BroadcastSettings, log logger.ILogger) *MQTTSink {
	prefix := strings.TrimSuffix(bs.TopicPrefix, "/")
	if prefix == "" {
		prefix = "shelter"
	}
	return &MQTTSink{
		settings: settings,
		qos:      bs.QoS,
		prefix:   prefix,
		timeout:  5 * time.Second,
		log:      log,
	}
}

// StatusTopic is the retained online/offline topic
func (s *MQTTSink) StatusTopic() string { return s.prefix + "/status" }

// LogTopic carries LogEvents
func (s *MQTTSink) LogTopic() string { return s.prefix + "/log" }

// CommandTopic carries CommandEvents of one unit
func (s *MQTTSink) CommandTopic(deviceID, unitID string) string {
	return fmt.Sprintf("%s/command/%s/%s", s.prefix, deviceID, unitID)
}

// Connect connects to the broker, retrying until ctx is done
func (s *MQTTSink) Connect(ctx context.Context) error {
	retryDelay := s.settings.RetryDelay
	if retryDelay == 0 {
		retryDelay = 5 * time.Second
	}

	for attempt := 1; ; attempt++ {
		token := s.client.Connect()
		if token.Wait() && token.Error() == nil {
			s.log.LogInfo("✅ Broadcast sink connected after %d attempts", attempt)
			return nil
		}
		s.log.LogError("❌ Broadcast sink connection failed (attempt %d): %v", attempt, token.Error())

		select {
		case <-ctx.Done():
			return errors.NewBroadcastError("connect", ctx.Err(), s.settings.BrokerURL())
		case <-time.After(retryDelay):
		}
	}
}

func (s *MQTTSink) publish(ctx context.Context, topic string, retained bool, v interface{}) error {
	if !s.client.IsConnected() {
		return errors.NewBroadcastError("publish", fmt.Errorf("client is not connected"), topic)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.NewBroadcastError("marshal", err, topic)
	}

	token := s.client.Publish(topic, s.qos, retained, payload)
	done := make(chan struct{})
	go func() {
		token.WaitTimeout(s.timeout)
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.NewBroadcastError("publish", ctx.Err(), topic)
	}
	if token.Error() != nil {
		return errors.NewBroadcastError("publish", token.Error(), topic)
	}
	return nil
}

// PublishLog implements Sink
func (s *MQTTSink) PublishLog(ctx context.Context, event LogEvent) error {
	return s.publish(ctx, s.LogTopic(), false, event)
}

// PublishCommand implements Sink
func (s *MQTTSink) PublishCommand(ctx context.Context, event CommandEvent) error {
	s.log.LogDebug("📤 Command %s on %s/%s → %s", event.Action, event.DeviceID, event.UnitID, event.Status)
	return s.publish(ctx, s.CommandTopic(event.DeviceID, event.UnitID), false, event)
}

// Close publishes offline status and disconnects
func (s *MQTTSink) Close() error {
	if s.client.IsConnected() {
		if token := s.client.Publish(s.StatusTopic(), 1, true, "offline"); token.WaitTimeout(time.Second) && token.Error() != nil {
			s.log.LogWarn("Error publishing offline status: %v", token.Error())
		}
		s.client.Disconnect(250)
	}
	return nil
}

var _ Sink = (*MQTTSink)(nil)
