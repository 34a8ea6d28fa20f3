package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/matst80/woof/pkg/common/jsoncompat"
	"github.com/matst80/woof/pkg/messaging"
	"github.com/matst80/woof/pkg/poller"
	"github.com/matst80/woof/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	ErrUnknownSource = errors.New("unknown feed source")
	ErrNotFeed       = errors.New("source is not a feed")
)

const feedPrefetch = 32

var feedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "woof_feed_messages_total",
	Help: "Feed messages received, by outcome",
}, []string{"outcome"})

type SourceGetter interface {
	Get(id string) (types.Source, bool)
}

// Ingester extracts samples from bodies pushed for feed sources.
type Ingester struct {
	sources   SourceGetter
	extractor *poller.Extractor
	sink      poller.Sink
	now       func() time.Time
}

func New(sources SourceGetter, extractor *poller.Extractor, sink poller.Sink) *Ingester {
	if extractor == nil {
		extractor = poller.NewExtractor(nil)
	}
	return &Ingester{
		sources:   sources,
		extractor: extractor,
		sink:      sink,
		now:       time.Now,
	}
}

func (i *Ingester) Handle(msg types.FeedMessage) ([]types.Sample, error) {
	source, ok := i.sources.Get(msg.SourceId)
	if !ok {
		feedMessages.WithLabelValues("unknown").Inc()
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, msg.SourceId)
	}
	if source.Kind != types.FeedSource {
		feedMessages.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %s", ErrNotFeed, msg.SourceId)
	}
	ts := msg.Timestamp
	if ts == 0 {
		ts = i.now().UnixMilli()
	}
	samples, err := i.extractor.Samples(source, msg.Body, ts)
	if err != nil {
		feedMessages.WithLabelValues("error").Inc()
		return nil, err
	}
	feedMessages.WithLabelValues("ok").Inc()
	if i.sink != nil && len(samples) > 0 {
		return samples, i.sink.Add(samples...)
	}
	return samples, nil
}

func (i *Ingester) handleDelivery(d amqp.Delivery) error {
	var msg types.FeedMessage
	if err := jsoncompat.Unmarshal(d.Body, &msg); err != nil {
		feedMessages.WithLabelValues("error").Inc()
		return err
	}
	_, err := i.Handle(msg)
	return err
}

// Listen consumes the shared feed queue, so each message is ingested by one
// instance only.
func (i *Ingester) Listen(conn *amqp.Connection, prefix string) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	if err := messaging.Share(ch, prefix, messaging.FeedIngest, feedPrefetch, i.handleDelivery); err != nil {
		ch.Close()
		return err
	}
	return nil
}
