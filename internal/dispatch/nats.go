package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NatsTransport implements Transport over a raw *nats.Conn, grounded
// directly on api/pkg/pubsub.Nats's own Publish/PublishWithHeader/
// Request bodies, re-targeted at this package's narrower Transport
// shape instead of pubsub's full subscribe/stream surface — a display
// worker's dispatcher only ever needs to send, not subscribe
// (subscriptions for replies are set up once by the caller and fed
// into Dispatcher.Complete).
type NatsTransport struct {
	conn *nats.Conn
}

func NewNatsTransport(conn *nats.Conn) *NatsTransport {
	return &NatsTransport{conn: conn}
}

var _ Transport = (*NatsTransport)(nil)

func (t *NatsTransport) Publish(_ context.Context, topic string, payload []byte) error {
	return t.conn.Publish(topic, payload)
}

func (t *NatsTransport) PublishWithHeader(_ context.Context, topic string, header map[string]string, payload []byte) error {
	hdr := nats.Header{}
	for k, v := range header {
		hdr.Set(k, v)
	}
	return t.conn.PublishMsg(&nats.Msg{Subject: topic, Data: payload, Header: hdr})
}

func (t *NatsTransport) Request(ctx context.Context, subject string, header map[string]string, payload []byte, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hdr := nats.Header{}
	for k, v := range header {
		hdr.Set(k, v)
	}
	msg := &nats.Msg{Subject: subject, Data: payload, Header: hdr}

	reply, err := t.conn.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("dispatch: nats request %s: %w", subject, err)
	}
	return reply.Data, nil
}
