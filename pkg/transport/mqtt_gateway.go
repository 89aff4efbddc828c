package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"shelter-engine/pkg/config"
	engineerrors "shelter-engine/pkg/errors"
	"shelter-engine/pkg/logger"
	"shelter-engine/pkg/modbus"
)

// mqttClient is the part of the paho client the gateway uses
type mqttClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// MQTTGateway tunnels RTU frames through an MQTT-to-serial gateway:
// requests are published on the command topic, responses arrive on the data topic
type MQTTGateway struct {
	client   mqttClient
	settings config.MQTTSettings
	gateway  config.GatewaySettings
	timeout  time.Duration
	log      logger.ILogger

	responseChan chan []byte
	mu           sync.RWMutex
	connected    bool

	// expected identifies the in-flight request for onMessage filtering
	expectedMu sync.Mutex
	expected   *modbus.Descriptor
}

// NewMQTTGateway creates a gateway transport backed by a paho client
func NewMQTTGateway(settings config.MQTTSettings, gw config.GatewaySettings, timeout time.Duration, log logger.ILogger) *MQTTGateway {
	g := newMQTTGateway(settings, gw, timeout, log)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(settings.BrokerURL())
	opts.SetClientID(settings.ClientID + "_gateway")
	opts.SetUsername(settings.Username)
	opts.SetPassword(settings.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(settings.KeepAlive)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(g.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		g.setConnected(false)
		g.log.LogError("Gateway disconnected: %v", err)
	})

	g.client = mqtt.NewClient(opts)
	return g
}

func newMQTTGateway(settings config.MQTTSettings, gw config.GatewaySettings, timeout time.Duration, log logger.ILogger) *MQTTGateway {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &MQTTGateway{
		settings:     settings,
		gateway:      gw,
		timeout:      timeout,
		log:          log,
		responseChan: make(chan []byte, 10),
	}
}

func (g *MQTTGateway) onConnect(client mqtt.Client) {
	g.setConnected(true)
	g.log.LogInfo("Gateway connected to MQTT broker")

	if token := client.Subscribe(g.gateway.DataTopic, 0, g.onMessage); token.Wait() && token.Error() != nil {
		g.log.LogError("Error subscribing to %s: %v", g.gateway.DataTopic, token.Error())
	} else {
		g.log.LogInfo("Gateway subscribed to: %s", g.gateway.DataTopic)
	}
}

func (g *MQTTGateway) setConnected(v bool) {
	g.mu.Lock()
	g.connected = v
	g.mu.Unlock()
}

// Connect connects to the broker, retrying until ctx is done
func (g *MQTTGateway) Connect(ctx context.Context) error {
	retryDelay := g.settings.RetryDelay
	if retryDelay == 0 {
		retryDelay = 5 * time.Second
	}

	attempt := 1
	for {
		g.log.LogDebug("Attempting to connect gateway to MQTT broker (attempt %d)...", attempt)

		token := g.client.Connect()
		if token.Wait() && token.Error() == nil && g.waitEstablished(ctx) {
			g.log.LogInfo("Gateway connected to %s after %d attempts", g.Endpoint(), attempt)
			return nil
		}
		if token.Error() != nil {
			g.log.LogError("Gateway connection failed (attempt %d): %v", attempt, token.Error())
		} else {
			g.log.LogWarn("Gateway connection establishment timeout (attempt %d)", attempt)
			if g.client.IsConnected() {
				g.client.Disconnect(250)
			}
		}

		select {
		case <-ctx.Done():
			return engineerrors.NewTransportError("connect", ctx.Err(), g.Endpoint())
		case <-time.After(retryDelay):
			attempt++
		}
	}
}

// waitEstablished waits for the on-connect handler to run
func (g *MQTTGateway) waitEstablished(ctx context.Context) bool {
	for i := 0; i < 50; i++ {
		if g.IsConnected() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
	return false
}

// IsConnected checks if the gateway is connected
func (g *MQTTGateway) IsConnected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.connected && g.client != nil && g.client.IsConnected()
}

// Endpoint returns the broker URL and command topic
func (g *MQTTGateway) Endpoint() string {
	return fmt.Sprintf("%s/%s", g.settings.BrokerURL(), g.gateway.CmdTopic)
}

// Execute publishes one request frame and waits for the matching response.
// Responses from another slave or function code are ignored; a late reply
// to a timed out request is drained before returning.
func (g *MQTTGateway) Execute(ctx context.Context, req Request) (*Response, error) {
	d := req.Descriptor
	fail := func(op string, err error) error {
		return engineerrors.NewTransactionError(op, err, d.SlaveID, uint8(d.FunctionCode), d.Address)
	}

	frame, err := modbus.BuildRequestFrame(d, req.WriteValues())
	if err != nil {
		return nil, fail("build frame", err)
	}
	if !g.IsConnected() {
		return nil, fail("execute", engineerrors.NewTransportError("publish", fmt.Errorf("gateway is not connected"), g.Endpoint()))
	}

	g.drainStale("before new request")
	g.expect(&d)
	defer g.expect(nil)

	g.log.LogDebug("Gateway sending frame %02X to %s", frame, g.gateway.CmdTopic)
	token := g.client.Publish(g.gateway.CmdTopic, 0, false, frame)
	if !token.WaitTimeout(g.timeout) {
		return nil, fail("execute", engineerrors.NewTransportError("publish", fmt.Errorf("publish timeout"), g.Endpoint()))
	}
	if token.Error() != nil {
		return nil, fail("execute", engineerrors.NewTransportError("publish", token.Error(), g.Endpoint()))
	}

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case raw := <-g.responseChan:
		values, err := modbus.ParseResponseFrame(d, raw)
		if err != nil {
			return nil, fail("parse response", err)
		}
		if d.Intent() == modbus.IntentWrite {
			values = req.WriteValues()
		}
		return &Response{Values: values, Raw: raw}, nil

	case <-timer.C:
		g.drainLate()
		return nil, fail("execute", engineerrors.NewTransportError("wait response",
			fmt.Errorf("timeout waiting for response (%s)", g.timeout), g.Endpoint()))

	case <-ctx.Done():
		g.drainLate()
		return nil, fail("execute", ctx.Err())
	}
}

func (g *MQTTGateway) expect(d *modbus.Descriptor) {
	g.expectedMu.Lock()
	g.expected = d
	g.expectedMu.Unlock()
}

func (g *MQTTGateway) drainStale(when string) {
	select {
	case <-g.responseChan:
		g.log.LogWarn("Cleared stale response from channel %s", when)
	default:
	}
}

// drainLate gives onMessage a moment to deliver a reply that raced the timeout
func (g *MQTTGateway) drainLate() {
	time.Sleep(50 * time.Millisecond)
	g.drainStale("after timeout")
}

// onMessage filters incoming frames by CRC, slave and function code
func (g *MQTTGateway) onMessage(_ mqtt.Client, msg mqtt.Message) {
	data := msg.Payload()

	if len(data) < 5 {
		g.log.LogWarn("Received message too short (len=%d), ignoring: %02X", len(data), data)
		return
	}
	if !modbus.VerifyCRC(data) {
		g.log.LogWarn("Received message with invalid CRC, ignoring: %02X", data)
		return
	}

	g.expectedMu.Lock()
	expected := g.expected
	g.expectedMu.Unlock()

	if expected == nil {
		g.log.LogWarn("Received unsolicited response from slave %d, ignoring", data[0])
		return
	}
	fc := data[1] &^ 0x80
	if data[0] != expected.SlaveID || fc != byte(expected.FunctionCode) {
		g.log.LogWarn("Received unexpected response (Slave=%d, Func=0x%02X) but expecting (Slave=%d, Func=0x%02X), ignoring",
			data[0], data[1], expected.SlaveID, uint8(expected.FunctionCode))
		return
	}

	frame := make([]byte, len(data))
	copy(frame, data)
	select {
	case g.responseChan <- frame:
	default:
		g.log.LogWarn("Response channel full, response ignored (Slave=%d)", data[0])
	}
}

// Close disconnects from the broker
func (g *MQTTGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.connected {
		g.connected = false
		if g.client != nil && g.client.IsConnected() {
			g.client.Disconnect(250)
		}
	}
	return nil
}
