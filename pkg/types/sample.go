package types

type Sample struct {
	SourceId  string  `json:"sourceId"`
	Field     int     `json:"field"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"ts"`
}

func (s Sample) SeriesId() SeriesId {
	return NewSeriesId(s.SourceId, s.Field)
}

// FeedMessage is a body pushed for a feed source.
type FeedMessage struct {
	SourceId  string `json:"sourceId"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp,omitempty"`
}
