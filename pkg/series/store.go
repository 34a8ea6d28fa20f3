package series

import (
	"cmp"
	"log"
	"slices"
	"sync"

	"github.com/matst80/woof/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	samplesStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "woof_samples_stored_total",
		Help: "The total number of samples added to the series store",
	})
	seriesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "woof_series",
		Help: "Number of series held in memory",
	})
)

// Store keeps every series in memory ordered by timestamp and writes added
// samples through to the backend.
type Store struct {
	mu      sync.RWMutex
	series  map[types.SeriesId][]types.Sample
	backend types.SampleStorage
}

func NewStore(backend types.SampleStorage) *Store {
	return &Store{
		series:  make(map[types.SeriesId][]types.Sample),
		backend: backend,
	}
}

// Load reads the backend into memory for samples in [from, to).
func (s *Store) Load(from, to int64) error {
	if s.backend == nil {
		return nil
	}
	loaded := 0
	err := s.backend.LoadSamples(from, to, func(sample types.Sample) {
		s.mu.Lock()
		s.insert(sample)
		s.mu.Unlock()
		loaded++
	})
	log.Printf("loaded %d samples into %d series", loaded, s.Len())
	return err
}

func (s *Store) insert(sample types.Sample) {
	id := sample.SeriesId()
	list := s.series[id]
	if len(list) == 0 || list[len(list)-1].Timestamp < sample.Timestamp {
		s.series[id] = append(list, sample)
		return
	}
	idx, found := slices.BinarySearchFunc(list, sample.Timestamp, func(e types.Sample, ts int64) int {
		return cmp.Compare(e.Timestamp, ts)
	})
	if found {
		list[idx] = sample
		return
	}
	s.series[id] = slices.Insert(list, idx, sample)
}

func (s *Store) Add(samples ...types.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	s.mu.Lock()
	for _, sample := range samples {
		s.insert(sample)
	}
	seriesGauge.Set(float64(len(s.series)))
	s.mu.Unlock()
	samplesStored.Add(float64(len(samples)))
	if s.backend != nil {
		return s.backend.AppendSamples(samples)
	}
	return nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series)
}

func (s *Store) window(id types.SeriesId, from, to int64) []types.Sample {
	list := s.series[id]
	cmpTs := func(e types.Sample, ts int64) int {
		return cmp.Compare(e.Timestamp, ts)
	}
	start, _ := slices.BinarySearchFunc(list, from, cmpTs)
	end, _ := slices.BinarySearchFunc(list, to, cmpTs)
	return list[start:end]
}

func (s *Store) Query(q Query) ([]Point, error) {
	if q.To <= q.From {
		return nil, ErrInvalidRange
	}
	s.mu.RLock()
	samples := slices.Clone(s.window(q.SeriesId, q.From, q.To))
	s.mu.RUnlock()
	return aggregate(samples, q)
}

// Recent returns up to n of the newest samples of a series, oldest first.
func (s *Store) Recent(id types.SeriesId, n int) []types.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.series[id]
	if n <= 0 {
		return []types.Sample{}
	}
	return slices.Clone(list[max(0, len(list)-n):])
}

// Drop removes the series of a source from memory.
func (s *Store) Drop(sourceId string, fields ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range fields {
		delete(s.series, types.NewSeriesId(sourceId, f))
	}
	seriesGauge.Set(float64(len(s.series)))
}

// Prune forgets samples older than before, in memory and in the backend.
func (s *Store) Prune(before int64) error {
	s.mu.Lock()
	for id, list := range s.series {
		idx, _ := slices.BinarySearchFunc(list, before, func(e types.Sample, ts int64) int {
			return cmp.Compare(e.Timestamp, ts)
		})
		if idx == len(list) {
			delete(s.series, id)
			continue
		}
		s.series[id] = slices.Clone(list[idx:])
	}
	seriesGauge.Set(float64(len(s.series)))
	s.mu.Unlock()
	if s.backend != nil {
		return s.backend.PruneSamples(before)
	}
	return nil
}

func (s *Store) Close() error {
	if s.backend != nil {
		return s.backend.Close()
	}
	return nil
}
