package messaging

import (
	"context"
	"time"

	"github.com/matst80/woof/pkg/types"
	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 5 * time.Second

func Connect(url string) (*amqp.Connection, error) {
	return amqp.Dial(url)
}

// AmqpNotifier publishes source changes and new samples on the woof topics.
type AmqpNotifier struct {
	*Publisher
	conn *amqp.Connection
}

func NewAmqpNotifier(conn *amqp.Connection, prefix string) (*AmqpNotifier, error) {
	p, err := NewPublisher(conn, prefix)
	if err != nil {
		return nil, err
	}
	return &AmqpNotifier{Publisher: p, conn: conn}, nil
}

func (n *AmqpNotifier) publish(topic ChangeTopic, data any) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return n.Publish(ctx, topic, data)
}

func (n *AmqpNotifier) SourceChanged(change types.SourceChange) error {
	return n.publish(SourceChanged, change)
}

func (n *AmqpNotifier) SamplesAdded(samples []types.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	return n.publish(SampleAdded, samples)
}

// Close closes the publishing channel and the connection.
func (n *AmqpNotifier) Close() error {
	if err := n.Publisher.Close(); err != nil {
		n.conn.Close()
		return err
	}
	return n.conn.Close()
}
