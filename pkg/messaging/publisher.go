package messaging

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matst80/woof/pkg/common/jsoncompat"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrClosed = errors.New("publisher closed")

var published = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "woof_published_messages_total",
	Help: "Messages published, by topic",
}, []string{"topic"})

// Publisher keeps one channel open for sending. Channels must not be shared
// between concurrent publishers so sends are serialized.
type Publisher struct {
	// Origin is set as AppId on everything this publisher sends.
	Origin string

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	prefix string
	closed bool
}

func NewPublisher(conn *amqp.Connection, prefix string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := DeclareTopics(ch, prefix, AllTopics...); err != nil {
		ch.Close()
		return nil, err
	}
	return &Publisher{
		Origin: uuid.NewString(),
		conn:   conn,
		ch:     ch,
		prefix: prefix,
	}, nil
}

// channel reopens the channel when the broker closed it after an error.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.closed {
		return nil, ErrClosed
	}
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, err
	}
	p.ch = ch
	return ch, nil
}

func (p *Publisher) Publish(ctx context.Context, topic ChangeTopic, data any) error {
	body, err := jsoncompat.Marshal(data)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel()
	if err != nil {
		return err
	}
	name := Exchange(p.prefix, topic)
	err = ch.PublishWithContext(ctx, name, name, false, false, amqp.Publishing{
		ContentType: "application/json",
		AppId:       p.Origin,
		Timestamp:   time.Now(),
		Body:        body,
	})
	if err == nil {
		published.WithLabelValues(string(topic)).Inc()
	}
	return err
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.ch == nil || p.ch.IsClosed() {
		return nil
	}
	return p.ch.Close()
}
