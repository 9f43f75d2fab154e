package notify

import (
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

type natsTransport struct {
	nc  *nats.Conn
	url string
}

func dialNATS(url string, timeout time.Duration) (*natsTransport, error) {
	nc, err := nats.Connect(url,
		nats.Name("stream-record"),
		nats.Timeout(timeout),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "notify: connect to NATS at %s", url)
	}
	return &natsTransport{nc: nc, url: url}, nil
}

func (t *natsTransport) publish(subject string, data []byte) error {
	return t.nc.Publish(subject, data)
}

// close drains so buffered events reach the server
func (t *natsTransport) close() {
	if err := t.nc.Drain(); err != nil {
		t.nc.Close()
	}
}

func (t *natsTransport) String() string { return t.url }
