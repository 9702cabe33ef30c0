package events

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes events to a subject. objio-gateway uses it as one of
// its event sinks; the CCS publishes no events.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

func NewNATSSink(url, subject string) (*NATSSink, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &NATSSink{conn: conn, subject: subject}, nil
}

func (n *NATSSink) Name() string { return "nats" }

func (n *NATSSink) Publish(_ context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return n.conn.Publish(n.subject, payload)
}

func (n *NATSSink) Close() error {
	n.conn.Close()
	return nil
}
