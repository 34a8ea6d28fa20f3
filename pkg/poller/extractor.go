package poller

import (
	"errors"
	"fmt"
	"log"
	"slices"

	"github.com/matst80/woof/pkg/extract"
	"github.com/matst80/woof/pkg/types"
)

var ErrGroupMismatch = errors.New("capture groups do not match fields")

// Extractor turns a fetched body into samples using the stored pattern of a
// source. Capture group i belongs to field i.
type Extractor struct {
	Matcher   *extract.Matcher
	Tokenizer *extract.Tokenizer
}

func NewExtractor(tokenizer *extract.Tokenizer) *Extractor {
	if tokenizer == nil {
		tokenizer = extract.NewTokenizer()
	}
	return &Extractor{
		Matcher:   extract.NewMatcher(512),
		Tokenizer: tokenizer,
	}
}

func (e *Extractor) Samples(source types.Source, body string, ts int64) ([]types.Sample, error) {
	groups, err := e.Matcher.Match(source.Pattern, body)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", source.Id, err)
	}
	if len(groups) != len(source.Fields) {
		return nil, fmt.Errorf("source %s: %w: %d groups, %d fields", source.Id, ErrGroupMismatch, len(groups), len(source.Fields))
	}
	ret := make([]types.Sample, 0, len(groups))
	for i, raw := range groups {
		field, _ := source.FieldByGroup(i)
		if slices.Contains(e.Tokenizer.Placeholders, raw) {
			continue
		}
		value, ok := extract.ParseValue(raw)
		if !ok {
			log.Printf("source %s field %s: %q is not a number", source.Id, field.Name, raw)
			continue
		}
		ret = append(ret, types.Sample{
			SourceId:  source.Id,
			Field:     field.Field,
			Value:     value,
			Timestamp: ts,
		})
	}
	return ret, nil
}
