package poller

import (
	"log"

	"github.com/matst80/woof/pkg/types"
)

type Sink interface {
	Add(samples ...types.Sample) error
}

type SinkFunc func(samples ...types.Sample) error

func (f SinkFunc) Add(samples ...types.Sample) error {
	return f(samples...)
}

// MultiSink hands samples to every sink, logging failures.
type MultiSink []Sink

func (m MultiSink) Add(samples ...types.Sample) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Add(samples...); err != nil {
			log.Printf("sample sink failed: %v", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
