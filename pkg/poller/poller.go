package poller

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/matst80/woof/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "woof_poll_queue_size",
		Help: "The current number of sources waiting to be polled",
	})
	pollTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "woof_polls_total",
		Help: "The total number of source polls",
	})
	pollErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "woof_poll_errors_total",
		Help: "The total number of failed source polls",
	})
	samplesExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "woof_samples_extracted_total",
		Help: "The total number of samples extracted from sources",
	})
	pollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "woof_poll_duration_seconds",
		Help:    "Time spent fetching and extracting one source",
		Buckets: prometheus.DefBuckets,
	})
)

type BodyFetcher interface {
	Body(ctx context.Context, url string) (string, error)
}

type SourceLister interface {
	ByKind(kind types.SourceKind) []types.Source
}

type pollJob struct {
	Source   types.Source
	QueuedAt time.Time
}

// Poller fetches every poll source on a fixed interval using a bounded pool
// of workers.
type Poller struct {
	fetcher     BodyFetcher
	sources     SourceLister
	extractor   *Extractor
	sink        Sink
	interval    time.Duration
	timeout     time.Duration
	workerCount int
	queue       chan pollJob
	wg          sync.WaitGroup
	stopCh      chan struct{}
	stopOnce    sync.Once
	now         func() time.Time
}

func New(fetcher BodyFetcher, sources SourceLister, extractor *Extractor, sink Sink, interval time.Duration, workerCount int) *Poller {
	if workerCount <= 0 {
		workerCount = 2
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if extractor == nil {
		extractor = NewExtractor(nil)
	}
	return &Poller{
		fetcher:     fetcher,
		sources:     sources,
		extractor:   extractor,
		sink:        sink,
		interval:    interval,
		timeout:     30 * time.Second,
		workerCount: workerCount,
		queue:       make(chan pollJob, 256),
		stopCh:      make(chan struct{}),
		now:         time.Now,
	}
}

func (p *Poller) Start() {
	p.wg.Add(p.workerCount + 1)
	for i := 0; i < p.workerCount; i++ {
		go p.worker(i)
	}
	go p.tick()
	log.Printf("started poller with %d workers every %v", p.workerCount, p.interval)
}

func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.wg.Wait()
		log.Println("poller stopped")
	})
}

func (p *Poller) tick() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.QueueAll()
	for {
		select {
		case <-ticker.C:
			p.QueueAll()
		case <-p.stopCh:
			return
		}
	}
}

// QueueAll queues every poll source and returns how many were accepted.
func (p *Poller) QueueAll() int {
	sources := p.sources.ByKind(types.PollSource)
	queued := 0
	for _, s := range sources {
		if p.Queue(s) {
			queued++
		}
	}
	if queued < len(sources) {
		log.Printf("queued %d/%d sources (poll queue full)", queued, len(sources))
	}
	return queued
}

// Queue adds a source without blocking. It returns false when the queue is full.
func (p *Poller) Queue(source types.Source) bool {
	select {
	case p.queue <- pollJob{Source: source, QueuedAt: p.now()}:
		pollQueueSize.Inc()
		return true
	default:
		return false
	}
}

func (p *Poller) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.queue:
			pollQueueSize.Dec()
			ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
			if _, err := p.PollNow(ctx, job.Source); err != nil {
				log.Printf("worker %d: poll of %s failed: %v", id, job.Source.Id, err)
			}
			cancel()
		case <-p.stopCh:
			return
		}
	}
}

// PollNow fetches and extracts one source immediately and hands the samples to
// the sink.
func (p *Poller) PollNow(ctx context.Context, source types.Source) ([]types.Sample, error) {
	start := p.now()
	pollTotal.Inc()
	defer func() {
		pollDuration.Observe(time.Since(start).Seconds())
	}()

	body, err := p.fetcher.Body(ctx, source.Url)
	if err != nil {
		pollErrorsTotal.Inc()
		return nil, err
	}
	samples, err := p.extractor.Samples(source, body, start.UnixMilli())
	if err != nil {
		pollErrorsTotal.Inc()
		return nil, err
	}
	samplesExtracted.Add(float64(len(samples)))
	if p.sink != nil && len(samples) > 0 {
		if err := p.sink.Add(samples...); err != nil {
			return samples, err
		}
	}
	return samples, nil
}

func (p *Poller) QueueLength() int {
	return len(p.queue)
}

func (p *Poller) Status() map[string]interface{} {
	return map[string]interface{}{
		"workerCount":   p.workerCount,
		"interval":      p.interval.String(),
		"queueLength":   len(p.queue),
		"queueCapacity": cap(p.queue),
		"timestamp":     time.Now().Format(time.RFC3339),
	}
}
