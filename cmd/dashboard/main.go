package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/matst80/woof/pkg/common"
	"github.com/matst80/woof/pkg/config"
	"github.com/matst80/woof/pkg/extract"
	"github.com/matst80/woof/pkg/messaging"
	"github.com/matst80/woof/pkg/peek"
	"github.com/matst80/woof/pkg/poller"
	"github.com/matst80/woof/pkg/registry"
	"github.com/matst80/woof/pkg/series"
	"github.com/matst80/woof/pkg/server"
	"github.com/matst80/woof/pkg/storage"
	"github.com/matst80/woof/pkg/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	enableProfiling = flag.Bool("profiling", false, "Enable pprof on the debug server")
	enablePolling   = flag.Bool("poll", true, "Poll sources. Instances that do not poll follow published samples")
)

type app struct {
	prefix    string
	conn      *amqp.Connection
	notifier  *messaging.AmqpNotifier
	registry  *registry.Registry
	extractor *poller.Extractor
	// localSink feeds this instance, sink also publishes
	localSink poller.Sink
	sink      poller.Sink
	published *common.QueueHandler[types.Sample]
}

func (a *app) changeNotifier() types.ChangeNotifier {
	if a.notifier == nil {
		return types.NoopNotifier{}
	}
	return a.notifier
}

// publishSink batches samples before they go out on the bus.
func (a *app) publishSink() poller.Sink {
	if a.notifier == nil {
		return nil
	}
	a.published = common.NewQueueHandler[types.Sample](func(samples []types.Sample) {
		if err := a.notifier.SamplesAdded(samples); err != nil {
			log.Printf("Failed to publish %d samples: %v", len(samples), err)
		}
	}, 500, time.Second)
	return poller.SinkFunc(func(samples ...types.Sample) error {
		a.published.Add(samples...)
		return nil
	})
}

func sampleStorage(cfg *config.Config, disk *storage.DiskStorage) types.SampleStorage {
	if cfg.SamplePgDsn == "" {
		return disk
	}
	pg, err := storage.NewPostgresSampleStore(cfg.SamplePgDsn)
	if err != nil {
		log.Fatalf("Failed to connect to sample database: %v", err)
	}
	log.Println("Storing samples in postgres")
	return pg
}

func newAuth(cfg config.AuthConfig) server.AuthHandler {
	auth, err := server.NewTokenAuth(cfg)
	if err != nil {
		log.Printf("Admin api is not protected: %v", err)
		return server.OpenAuth{}
	}
	return auth
}

func main() {
	flag.Parse()
	cfg := config.Load()
	a := &app{prefix: cfg.RabbitPrefix}

	if amqpUrl := cfg.AmqpUrl(); amqpUrl != "" {
		if err := a.ConnectAmqp(amqpUrl); err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
	}

	tokenizer := extract.NewTokenizer(cfg.Placeholders...)
	diskStorage := storage.NewDiskStorage(cfg.DataDir)
	store := series.NewStore(sampleStorage(cfg, diskStorage))
	now := time.Now()
	if err := store.Load(now.Add(-cfg.Retention()).UnixMilli(), now.Add(time.Hour).UnixMilli()); err != nil {
		log.Printf("Could not load samples: %v", err)
	}

	a.registry = registry.New(diskStorage, a.changeNotifier(), tokenizer)
	if err := a.registry.Load(); err != nil {
		log.Printf("Could not load sources: %v", err)
	}
	a.extractor = poller.NewExtractor(tokenizer)

	fetcher := peek.NewFetcher(cfg.PeekTimeout)
	cache := server.NewCache(cfg.RedisUrl, cfg.RedisPassword, 0)
	ws := server.NewWebServer(a.registry, store, fetcher, nil, cache, newAuth(cfg.Auth))
	ws.Tokenizer = tokenizer

	a.localSink = poller.MultiSink{store, ws.Live}
	a.sink = poller.MultiSink{store, ws.Live, a.publishSink()}

	sourcePoller := poller.New(fetcher, a.registry, a.extractor, a.sink, cfg.PollInterval, cfg.PollWorkers)
	ws.Poller = sourcePoller

	if a.conn != nil {
		a.ConnectSourceChanges()
		a.ConnectFeeds()
		if !*enablePolling {
			a.ConnectSamples()
		}
	}
	if *enablePolling {
		sourcePoller.Start()
	}

	stopPrune := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				before := time.Now().Add(-cfg.Retention()).UnixMilli()
				if err := store.Prune(before); err != nil {
					log.Printf("Failed to prune samples: %v", err)
				}
			case <-stopPrune:
				return
			}
		}
	}()

	debugMux := http.NewServeMux()
	debugMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	debugMux.HandleFunc("/poller", func(w http.ResponseWriter, r *http.Request) {
		common.WriteJson(w, http.StatusOK, sourcePoller.Status())
	})
	debugMux.Handle("/metrics", promhttp.Handler())
	if *enableProfiling {
		log.Println("Profiling enabled")
		debugMux.HandleFunc("/debug/pprof/", pprof.Index)
		debugMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		debugMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		debugMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		debugMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	timeouts := common.LoadTimeoutConfig(common.TimeoutConfig{
		ReadHeader: 5 * time.Second,
		Read:       15 * time.Second,
		Idle:       60 * time.Second,
		Shutdown:   20 * time.Second,
		Hook:       5 * time.Second,
	})
	servers := []*http.Server{
		common.NewServer(cfg.ListenAddress, ws.Handler(), timeouts),
		common.NewServer(cfg.DebugAddress, debugMux, timeouts),
	}

	common.RunServersWithShutdown(servers, "woof dashboard", timeouts,
		func(ctx context.Context) error {
			close(stopPrune)
			sourcePoller.Stop()
			return nil
		},
		func(ctx context.Context) error {
			if a.published != nil {
				a.published.Close()
			}
			return nil
		},
		func(ctx context.Context) error {
			return store.Close()
		},
		func(ctx context.Context) error {
			return cache.Close()
		},
		func(ctx context.Context) error {
			if a.notifier == nil {
				return nil
			}
			return a.notifier.Close()
		},
	)
}
