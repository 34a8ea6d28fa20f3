package series

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/matst80/woof/pkg/conversion"
	"github.com/matst80/woof/pkg/types"
)

var (
	ErrUnknownAggregation = errors.New("unknown aggregation")
	ErrUnknownInterval    = errors.New("unknown interval")
	ErrInvalidRange       = errors.New("from must be before to")
)

type Aggregation string

const (
	Average = Aggregation("average")
	Min     = Aggregation("min")
	Max     = Aggregation("max")
	Sum     = Aggregation("sum")
	Count   = Aggregation("count")
	Last    = Aggregation("last")
)

type Interval string

const (
	Raw    = Interval("raw")
	Minute = Interval("minute")
	Hour   = Interval("hour")
	Day    = Interval("day")
	Week   = Interval("week")
)

func (i Interval) Duration() (time.Duration, error) {
	switch i {
	case Raw:
		return 0, nil
	case Minute:
		return time.Minute, nil
	case Hour:
		return time.Hour, nil
	case Day:
		return 24 * time.Hour, nil
	case Week:
		return 7 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownInterval, i)
}

// IntervalForRange picks the bucket size for a range of the given length in
// minutes.
func IntervalForRange(minutes int64) Interval {
	switch {
	case minutes >= 6*30*24*60:
		return Week
	case minutes >= 30*24*60:
		return Day
	case minutes >= 7*24*60:
		return Hour
	}
	return Minute
}

type Query struct {
	SeriesId    types.SeriesId
	From        int64
	To          int64
	Aggregation Aggregation
	Interval    Interval
	Conversion  string
}

type Point struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

type bucket struct {
	start int64
	sum   float64
	min   float64
	max   float64
	last  float64
	count int
}

func (b *bucket) add(v float64) {
	if b.count == 0 {
		b.min, b.max = v, v
	}
	b.sum += v
	b.min = math.Min(b.min, v)
	b.max = math.Max(b.max, v)
	b.last = v
	b.count++
}

func (b *bucket) value(agg Aggregation) float64 {
	switch agg {
	case Min:
		return b.min
	case Max:
		return b.max
	case Sum:
		return b.sum
	case Count:
		return float64(b.count)
	case Last:
		return b.last
	}
	return b.sum / float64(b.count)
}

func validAggregation(a Aggregation) bool {
	switch a {
	case Average, Min, Max, Sum, Count, Last:
		return true
	}
	return false
}

// aggregate folds time ordered samples into points. Buckets start at multiples
// of the interval counted from the unix epoch.
func aggregate(samples []types.Sample, q Query) ([]Point, error) {
	if q.Aggregation == "" {
		q.Aggregation = Average
	}
	if !validAggregation(q.Aggregation) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAggregation, q.Aggregation)
	}
	if q.Interval == "" {
		q.Interval = IntervalForRange((q.To - q.From) / time.Minute.Milliseconds())
	}
	size, err := q.Interval.Duration()
	if err != nil {
		return nil, err
	}
	if !conversion.Valid(q.Conversion) {
		return nil, fmt.Errorf("%w: %s", conversion.ErrUnknownConversion, q.Conversion)
	}
	convert := func(v float64) float64 {
		ret, _ := conversion.Apply(q.Conversion, v)
		return ret
	}

	ret := make([]Point, 0)
	if size == 0 {
		for _, s := range samples {
			ret = append(ret, Point{Timestamp: s.Timestamp, Value: convert(s.Value)})
		}
		return ret, nil
	}

	step := size.Milliseconds()
	var current *bucket
	for _, s := range samples {
		start := s.Timestamp - s.Timestamp%step
		if current == nil || current.start != start {
			if current != nil {
				ret = append(ret, Point{Timestamp: current.start, Value: current.value(q.Aggregation)})
			}
			current = &bucket{start: start}
		}
		current.add(convert(s.Value))
	}
	if current != nil {
		ret = append(ret, Point{Timestamp: current.start, Value: current.value(q.Aggregation)})
	}
	return ret, nil
}
