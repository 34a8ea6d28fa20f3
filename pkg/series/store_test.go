package series

import (
	"errors"
	"testing"
	"time"

	"github.com/matst80/woof/pkg/conversion"
	"github.com/matst80/woof/pkg/types"
)

type memoryBackend struct {
	samples []types.Sample
	pruned  int64
}

func (m *memoryBackend) AppendSamples(samples []types.Sample) error {
	m.samples = append(m.samples, samples...)
	return nil
}

func (m *memoryBackend) LoadSamples(from, to int64, handle func(types.Sample)) error {
	for _, s := range m.samples {
		if s.Timestamp >= from && s.Timestamp < to {
			handle(s)
		}
	}
	return nil
}

func (m *memoryBackend) PruneSamples(before int64) error {
	m.pruned = before
	return nil
}

func (m *memoryBackend) Close() error { return nil }

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

func minutes(n int64) int64 {
	return base + n*time.Minute.Milliseconds()
}

func sample(ts int64, v float64) types.Sample {
	return types.Sample{SourceId: "src", Field: 2, Value: v, Timestamp: ts}
}

func TestQueryAggregations(t *testing.T) {
	store := NewStore(nil)
	store.Add(
		sample(minutes(0), 1),
		sample(minutes(10), 3),
		sample(minutes(70), 10),
		sample(minutes(65), 20),
	)
	id := types.NewSeriesId("src", 2)
	cases := []struct {
		agg  Aggregation
		want []float64
	}{
		{Average, []float64{2, 15}},
		{Min, []float64{1, 10}},
		{Max, []float64{3, 20}},
		{Sum, []float64{4, 30}},
		{Count, []float64{2, 2}},
		{Last, []float64{3, 10}},
	}
	for _, c := range cases {
		points, err := store.Query(Query{SeriesId: id, From: base, To: minutes(120), Aggregation: c.agg, Interval: Hour})
		if err != nil {
			t.Fatalf("Unexpected error %v", err)
		}
		if len(points) != len(c.want) {
			t.Fatalf("%s: expected %d points, got %+v", c.agg, len(c.want), points)
		}
		for i, p := range points {
			if p.Value != c.want[i] {
				t.Errorf("%s: point %d = %v, expected %v", c.agg, i, p.Value, c.want[i])
			}
		}
		if points[1].Timestamp != minutes(60) {
			t.Errorf("Expected second bucket to start at the hour, got %d", points[1].Timestamp)
		}
	}
}

func TestQueryRawWithConversion(t *testing.T) {
	store := NewStore(nil)
	store.Add(sample(minutes(1), 212), sample(minutes(2), 32))
	points, err := store.Query(Query{
		SeriesId:   types.NewSeriesId("src", 2),
		From:       base,
		To:         minutes(5),
		Interval:   Raw,
		Conversion: string(conversion.F2C),
	})
	if err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	if len(points) != 2 || points[0].Value != 100 || points[1].Value != 0 {
		t.Errorf("Expected converted raw points, got %+v", points)
	}
}

func TestQueryRejectsBadInput(t *testing.T) {
	store := NewStore(nil)
	id := types.NewSeriesId("src", 2)
	if _, err := store.Query(Query{SeriesId: id, From: 10, To: 10}); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("Expected ErrInvalidRange, got %v", err)
	}
	if _, err := store.Query(Query{SeriesId: id, From: 0, To: 10, Aggregation: "median"}); !errors.Is(err, ErrUnknownAggregation) {
		t.Errorf("Expected ErrUnknownAggregation, got %v", err)
	}
	if _, err := store.Query(Query{SeriesId: id, From: 0, To: 10, Interval: "month"}); !errors.Is(err, ErrUnknownInterval) {
		t.Errorf("Expected ErrUnknownInterval, got %v", err)
	}
	if _, err := store.Query(Query{SeriesId: id, From: 0, To: 10, Conversion: "x"}); !errors.Is(err, conversion.ErrUnknownConversion) {
		t.Errorf("Expected ErrUnknownConversion, got %v", err)
	}
}

func TestIntervalForRange(t *testing.T) {
	cases := []struct {
		minutes int64
		want    Interval
	}{
		{60, Minute},
		{7 * 24 * 60, Hour},
		{30 * 24 * 60, Day},
		{6 * 30 * 24 * 60, Week},
		{365 * 24 * 60, Week},
	}
	for _, c := range cases {
		if got := IntervalForRange(c.minutes); got != c.want {
			t.Errorf("IntervalForRange(%d) = %s, expected %s", c.minutes, got, c.want)
		}
	}
}

func TestAddOutOfOrderAndRecent(t *testing.T) {
	store := NewStore(nil)
	store.Add(sample(minutes(3), 3), sample(minutes(1), 1), sample(minutes(2), 2), sample(minutes(2), 22))
	id := types.NewSeriesId("src", 2)
	recent := store.Recent(id, 2)
	if len(recent) != 2 || recent[0].Value != 22 || recent[1].Value != 3 {
		t.Errorf("Expected [22 3], got %+v", recent)
	}
	if all := store.Recent(id, 10); len(all) != 3 {
		t.Errorf("Expected 3 samples after replacing a duplicate, got %d", len(all))
	}
}

func TestLoadAndPrune(t *testing.T) {
	backend := &memoryBackend{}
	backend.samples = []types.Sample{sample(minutes(1), 1), sample(minutes(2), 2), sample(minutes(3), 3)}
	store := NewStore(backend)
	if err := store.Load(0, minutes(10)); err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	id := types.NewSeriesId("src", 2)
	if len(store.Recent(id, 10)) != 3 {
		t.Fatalf("Expected 3 loaded samples")
	}
	store.Add(sample(minutes(4), 4))
	if len(backend.samples) != 4 {
		t.Errorf("Expected sample to be written through")
	}
	if err := store.Prune(minutes(3)); err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	if got := store.Recent(id, 10); len(got) != 2 || got[0].Value != 3 {
		t.Errorf("Expected samples from minute 3 on, got %+v", got)
	}
	if backend.pruned != minutes(3) {
		t.Errorf("Expected backend prune at %d, got %d", minutes(3), backend.pruned)
	}
	store.Drop("src", 2)
	if store.Len() != 0 {
		t.Errorf("Expected series to be dropped")
	}
}
