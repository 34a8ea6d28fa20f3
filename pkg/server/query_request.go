package server

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/schema"
	"github.com/matst80/woof/pkg/series"
	"github.com/matst80/woof/pkg/types"
)

var ErrMissingWoof = errors.New("woofId is required")

const (
	defaultRange = 24 * time.Hour
	cacheStep    = int64(30 * time.Second / time.Millisecond)
)

// QueryRequest is the query string of /api/query. Times are unix millis.
type QueryRequest struct {
	WoofId      string `schema:"woofId"`
	From        int64  `schema:"from"`
	To          int64  `schema:"to"`
	Aggregation string `schema:"aggregation,default:average"`
	Interval    string `schema:"interval"`
	Conversion  string `schema:"conversion"`
}

var queryDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

func QueryRequestFromValues(values url.Values, now time.Time) (QueryRequest, error) {
	req := QueryRequest{}
	if err := queryDecoder.Decode(&req, values); err != nil {
		return req, err
	}
	if req.WoofId == "" {
		return req, ErrMissingWoof
	}
	if req.To <= 0 {
		req.To = now.UnixMilli()
	}
	if req.From <= 0 {
		req.From = req.To - defaultRange.Milliseconds()
	}
	if req.To <= req.From {
		return req, series.ErrInvalidRange
	}
	// snap to the cache step so repeated dashboard refreshes share entries
	req.From -= req.From % cacheStep
	if rem := req.To % cacheStep; rem != 0 {
		req.To += cacheStep - rem
	}
	if req.Interval == "" {
		req.Interval = string(series.IntervalForRange((req.To - req.From) / 60000))
	}
	return req, nil
}

// Query builds the store query, defaulting the conversion to the one stored
// on the field.
func (q QueryRequest) Query(woof types.Woof) series.Query {
	conv := q.Conversion
	if conv == "" {
		conv = woof.Conversion
	}
	return series.Query{
		SeriesId:    woof.Id,
		From:        q.From,
		To:          q.To,
		Aggregation: series.Aggregation(q.Aggregation),
		Interval:    series.Interval(q.Interval),
		Conversion:  conv,
	}
}

func queryCachePrefix(sourceId string) string {
	return "woof:query:" + sourceId + ":"
}

func (q QueryRequest) CacheKey(woof types.Woof) string {
	return fmt.Sprintf("%s%s:%d:%d:%s:%s:%s", queryCachePrefix(woof.SourceId), woof.Id, q.From, q.To, q.Aggregation, q.Interval, q.Conversion)
}
