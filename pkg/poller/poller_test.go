package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matst80/woof/pkg/extract"
	"github.com/matst80/woof/pkg/types"
)

type fakeFetcher struct {
	bodies map[string]string
}

func (f fakeFetcher) Body(ctx context.Context, url string) (string, error) {
	body, ok := f.bodies[url]
	if !ok {
		return "", errors.New("not found")
	}
	return body, nil
}

type fakeSources []types.Source

func (f fakeSources) ByKind(kind types.SourceKind) []types.Source {
	ret := []types.Source{}
	for _, s := range f {
		if s.Kind == kind {
			ret = append(ret, s)
		}
	}
	return ret
}

type collectingSink struct {
	mu      sync.Mutex
	samples []types.Sample
}

func (c *collectingSink) Add(samples ...types.Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, samples...)
	return nil
}

func (c *collectingSink) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

func weatherSource() types.Source {
	return types.Source{
		Id:   "w",
		Url:  "http://weather",
		Kind: types.PollSource,
		Fields: []extract.Field{
			{Field: 0, Name: "temp"},
			{Field: 2, Name: "hum"},
			{Field: 3, Name: "wind"},
		},
		Pattern: `^(.*?):[^:]*:(.*?):(.*?)$`,
	}
}

func TestExtractorSamples(t *testing.T) {
	e := NewExtractor(nil)
	samples, err := e.Samples(weatherSource(), "21,5:ok:40:n/a\n", 1000)
	if err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("Expected placeholder to be skipped, got %+v", samples)
	}
	if samples[0].Field != 0 || samples[0].Value != 21.5 || samples[1].Field != 2 || samples[1].Value != 40 {
		t.Errorf("Unexpected samples %+v", samples)
	}
	if samples[0].Timestamp != 1000 || samples[0].SourceId != "w" {
		t.Errorf("Expected source id and timestamp, got %+v", samples[0])
	}
}

func TestExtractorErrors(t *testing.T) {
	e := NewExtractor(nil)
	if _, err := e.Samples(weatherSource(), "no colons here", 0); !errors.Is(err, extract.ErrNoMatch) {
		t.Errorf("Expected ErrNoMatch, got %v", err)
	}
	s := weatherSource()
	s.Fields = s.Fields[:2]
	if _, err := e.Samples(s, "1:x:2:3", 0); !errors.Is(err, ErrGroupMismatch) {
		t.Errorf("Expected ErrGroupMismatch, got %v", err)
	}
}

func TestPollNow(t *testing.T) {
	sink := &collectingSink{}
	fetcher := fakeFetcher{bodies: map[string]string{"http://weather": "1:x:2:3"}}
	p := New(fetcher, fakeSources{weatherSource()}, nil, sink, time.Hour, 1)

	samples, err := p.PollNow(context.Background(), weatherSource())
	if err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	if len(samples) != 3 || sink.Len() != 3 {
		t.Errorf("Expected 3 samples delivered, got %d and %d", len(samples), sink.Len())
	}

	missing := weatherSource()
	missing.Url = "http://gone"
	if _, err := p.PollNow(context.Background(), missing); err == nil {
		t.Errorf("Expected fetch error")
	}
}

func TestPollerRunsOnStart(t *testing.T) {
	sink := &collectingSink{}
	feed := weatherSource()
	feed.Id = "feed"
	feed.Kind = types.FeedSource
	fetcher := fakeFetcher{bodies: map[string]string{"http://weather": "1:x:2:3"}}
	p := New(fetcher, fakeSources{weatherSource(), feed}, nil, sink, time.Hour, 2)
	p.Start()
	defer p.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for sink.Len() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.Len() != 3 {
		t.Errorf("Expected only the poll source to be polled, got %d samples", sink.Len())
	}
}

func TestMultiSink(t *testing.T) {
	a, b := &collectingSink{}, &collectingSink{}
	failing := SinkFunc(func(...types.Sample) error { return errors.New("down") })
	err := MultiSink{a, failing, nil, b}.Add(types.Sample{SourceId: "x"})
	if err == nil {
		t.Errorf("Expected first error to be returned")
	}
	if a.Len() != 1 || b.Len() != 1 {
		t.Errorf("Expected every sink to receive the sample")
	}
}
