package publish

import (
	"time"

	nats "github.com/nats-io/nats.go"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type NATS struct {
	nc *nats.Conn
}

var _ Sink = &NATS{}

func NewNATS(url string) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("fridgecal"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			logrus.WithField("natsURL", url).Warn("disconnected from NATS")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logrus.WithField("natsURL", url).Info("reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to connect to NATS at %s", url)
	}
	logrus.WithField("natsURL", url).Info("connected to NATS")

	return &NATS{nc: nc}, nil
}

func (n *NATS) Publish(subject string, data []byte) error {
	return n.nc.Publish(subject, data)
}

func (n *NATS) Close() error {
	if err := n.nc.Flush(); err != nil {
		logrus.WithError(err).Warn("failed to flush NATS connection")
	}
	n.nc.Close()
	return nil
}
