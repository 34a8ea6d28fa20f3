package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/matst80/woof/pkg/extract"
	"github.com/matst80/woof/pkg/types"
	amqp "github.com/rabbitmq/amqp091-go"
)

type sourceMap map[string]types.Source

func (m sourceMap) Get(id string) (types.Source, bool) {
	s, ok := m[id]
	return s, ok
}

type countingSink struct {
	samples []types.Sample
}

func (c *countingSink) Add(samples ...types.Sample) error {
	c.samples = append(c.samples, samples...)
	return nil
}

func testSources() sourceMap {
	return sourceMap{
		"feed": {
			Id:      "feed",
			Kind:    types.FeedSource,
			Fields:  []extract.Field{{Field: 1, Name: "power"}},
			Pattern: `^[^ ]* (.*?) .*?$`,
		},
		"poll": {Id: "poll", Kind: types.PollSource},
	}
}

func TestHandle(t *testing.T) {
	sink := &countingSink{}
	i := New(testSources(), nil, sink)
	i.now = func() time.Time { return time.UnixMilli(5000) }

	samples, err := i.Handle(types.FeedMessage{SourceId: "feed", Body: "power 230 W"})
	if err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	if len(samples) != 1 || samples[0].Value != 230 || samples[0].Field != 1 {
		t.Errorf("Unexpected samples %+v", samples)
	}
	if samples[0].Timestamp != 5000 {
		t.Errorf("Expected receive time when message has none, got %d", samples[0].Timestamp)
	}
	if len(sink.samples) != 1 {
		t.Errorf("Expected sample in sink")
	}

	samples, _ = i.Handle(types.FeedMessage{SourceId: "feed", Body: "power 12 W", Timestamp: 42})
	if samples[0].Timestamp != 42 {
		t.Errorf("Expected message timestamp, got %d", samples[0].Timestamp)
	}
}

func TestHandleRejects(t *testing.T) {
	i := New(testSources(), nil, nil)
	if _, err := i.Handle(types.FeedMessage{SourceId: "nope"}); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("Expected ErrUnknownSource, got %v", err)
	}
	if _, err := i.Handle(types.FeedMessage{SourceId: "poll"}); !errors.Is(err, ErrNotFeed) {
		t.Errorf("Expected ErrNotFeed, got %v", err)
	}
	if err := i.handleDelivery(amqp.Delivery{Body: []byte("{")}); err == nil {
		t.Errorf("Expected decode error")
	}
}
