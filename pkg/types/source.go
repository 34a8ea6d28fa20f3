package types

import (
	"fmt"

	"github.com/matst80/woof/pkg/extract"
)

type SourceKind string

const (
	// PollSource is fetched from its url on every poll tick.
	PollSource = SourceKind("poll")
	// FeedSource receives bodies pushed on the ingest topic.
	FeedSource = SourceKind("feed")
)

type Source struct {
	Id      string          `json:"id"`
	Url     string          `json:"url"`
	Name    string          `json:"name"`
	Kind    SourceKind      `json:"kind"`
	Fields  []extract.Field `json:"fields"`
	Pattern string          `json:"pattern"`
	Created int64           `json:"created"`
	Updated int64           `json:"updated"`
}

// FieldByGroup returns the field bound to capture group i (0 based).
func (s *Source) FieldByGroup(i int) (extract.Field, bool) {
	if i < 0 || i >= len(s.Fields) {
		return extract.Field{}, false
	}
	return s.Fields[i], true
}

func (s *Source) FieldByIndex(field int) (extract.Field, bool) {
	for _, f := range s.Fields {
		if f.Field == field {
			return f, true
		}
	}
	return extract.Field{}, false
}

// SeriesId identifies the samples of one field of one source.
type SeriesId string

func NewSeriesId(sourceId string, field int) SeriesId {
	return SeriesId(fmt.Sprintf("%s_%d", sourceId, field))
}

// Woof is one selectable series in the chart picker.
type Woof struct {
	Id         SeriesId `json:"id"`
	SourceId   string   `json:"sourceId"`
	Name       string   `json:"name"`
	DataType   string   `json:"dataType"`
	Field      int      `json:"field"`
	Conversion string   `json:"conversion,omitempty"`
}

func (s *Source) Woofs() []Woof {
	ret := make([]Woof, 0, len(s.Fields))
	for _, f := range s.Fields {
		ret = append(ret, Woof{
			Id:         NewSeriesId(s.Id, f.Field),
			SourceId:   s.Id,
			Name:       s.Name,
			DataType:   f.Name,
			Field:      f.Field,
			Conversion: f.Conversion,
		})
	}
	return ret
}

type ChangeAction string

const (
	SourceUpserted = ChangeAction("upsert")
	SourceDeleted  = ChangeAction("delete")
)

type SourceChange struct {
	Action ChangeAction `json:"action"`
	Id     string       `json:"id"`
	Source *Source      `json:"source,omitempty"`
}
