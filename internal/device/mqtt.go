package device

import (
	"context"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// MQTTCommander publishes device commands to a zigbee2mqtt-style broker:
// one message per device on "<base_topic>/<friendly name>/set".
type MQTTCommander struct {
	client    paho.Client
	baseTopic string
	qos       byte

	// Bridges drop messages when flooded; publishes are paced.
	limiter *rate.Limiter
}

// MQTTOptions configures the commander connection
type MQTTOptions struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	BaseTopic   string
	QoS         int
	CommandRate float64 // publishes per second
}

// NewMQTTCommander connects to the broker. The client ID is suffixed with a
// random token so a restarted instance never fights its old session.
func NewMQTTCommander(o MQTTOptions) (*MQTTCommander, error) {
	clientID := fmt.Sprintf("%s-%s", o.ClientID, uuid.NewString()[:8])

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost, reconnecting")
	})
	opts.SetOnConnectHandler(func(_ paho.Client) {
		log.Info().Str("broker", o.Broker).Str("client_id", clientID).Msg("MQTT connected")
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connect to broker %s: timeout", o.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker %s: %w", o.Broker, err)
	}

	cr := o.CommandRate
	if cr <= 0 {
		cr = 4.0
	}

	return &MQTTCommander{
		client:    client,
		baseTopic: o.BaseTopic,
		qos:       byte(o.QoS),
		limiter:   rate.NewLimiter(rate.Limit(cr), 1),
	}, nil
}

// Send publishes the command to every group member. The first transport
// error is returned after all members were attempted; partial delivery is
// acceptable since the next scheduled occurrence self-corrects.
func (c *MQTTCommander) Send(ctx context.Context, members []string, action Action, brightness int) error {
	payload, err := encodeCommand(action, brightness)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}

	var firstErr error
	for _, name := range members {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		topic := fmt.Sprintf("%s/%s/set", c.baseTopic, name)
		token := c.client.Publish(topic, c.qos, false, payload)
		if !token.WaitTimeout(publishTimeout) {
			err = fmt.Errorf("publish to %s: timeout", topic)
		} else {
			err = token.Error()
		}

		if err != nil {
			log.Error().Err(err).Str("device", name).Stringer("action", action).Msg("Device command failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		log.Debug().Str("device", name).Stringer("action", action).Msg("Device command sent")
	}

	return firstErr
}

// Close disconnects from the broker
func (c *MQTTCommander) Close() error {
	c.client.Disconnect(1000)
	return nil
}
