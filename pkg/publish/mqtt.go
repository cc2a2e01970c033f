package publish

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const mqttTimeout = 5 * time.Second

type MQTT struct {
	client mqtt.Client
	qos    byte
}

var _ Sink = &MQTT{}

func NewMQTT(broker, clientID string) (*MQTT, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(mqttTimeout).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logrus.WithError(err).WithField("mqttBroker", broker).Warn("lost connection to MQTT broker")
		})

	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, pkgerrors.Wrapf(token.Error(), "failed to connect to MQTT broker %s", broker)
	}
	logrus.WithField("mqttBroker", broker).Info("connected to MQTT broker")

	return &MQTT{client: c, qos: 1}, nil
}

func (m *MQTT) Separator() string { return "/" }

func (m *MQTT) Publish(topic string, data []byte) error {
	token := m.client.Publish(topic, m.qos, false, data)
	if !token.WaitTimeout(mqttTimeout) {
		return pkgerrors.Errorf("timed out publishing to %s", topic)
	}
	return token.Error()
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
