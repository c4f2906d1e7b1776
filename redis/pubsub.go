package redis

import (
	"context"
	"fmt"

	campaign "github.com/jakekausler/campaign-manager-sub010"
	"github.com/jakekausler/campaign-manager-sub010/encoding"
)

type publisher struct {
	conn *Connection
}

// NewPublisher returns a Publisher that emits on the pub/sub connection
// (database 0). Payloads are serialized as JSON.
func NewPublisher() campaign.Publisher {
	return &publisher{conn: connection}
}

func (p *publisher) Publish(ctx context.Context, topic string, payload any) error {
	if p.conn == nil || p.conn.PubSubClient == nil {
		return fmt.Errorf("Redis connection is not open, 'can't publish")
	}
	ba, err := encoding.DefaultMarshaler.Marshal(payload)
	if err != nil {
		return err
	}
	return p.conn.PubSubClient.Publish(ctx, topic, ba).Err()
}
