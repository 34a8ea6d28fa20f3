package server

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matst80/woof/pkg/conversion"
	"github.com/matst80/woof/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	liveWriteWait = 10 * time.Second
	livePongWait  = 60 * time.Second
	livePingEvery = (livePongWait * 9) / 10
	liveBuffer    = 64
)

var (
	liveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "woof_live_clients",
		Help: "Connected live update clients",
	})
	liveDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "woof_live_dropped_total",
		Help: "Live updates dropped for slow clients",
	})
)

var liveUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// LivePoint is a converted sample as shown on a chart.
type LivePoint struct {
	WoofId    types.SeriesId `json:"woofId"`
	Timestamp int64          `json:"timestamp"`
	Value     float64        `json:"value"`
}

type liveMessage struct {
	Type   string      `json:"type"`
	Points []LivePoint `json:"points,omitempty"`
}

type WoofLookup func(id types.SeriesId) (types.Woof, bool)

type liveClient struct {
	send   chan liveMessage
	filter map[types.SeriesId]struct{}
}

func (c *liveClient) wants(id types.SeriesId) bool {
	if len(c.filter) == 0 {
		return true
	}
	_, ok := c.filter[id]
	return ok
}

// LiveHub pushes new samples to websocket clients. It is used as a sample sink.
type LiveHub struct {
	mu      sync.RWMutex
	clients map[*liveClient]struct{}
	lookup  WoofLookup
}

func NewLiveHub(lookup WoofLookup) *LiveHub {
	return &LiveHub{
		clients: make(map[*liveClient]struct{}),
		lookup:  lookup,
	}
}

func (h *LiveHub) subscribe(ids ...string) *liveClient {
	c := &liveClient{
		send:   make(chan liveMessage, liveBuffer),
		filter: make(map[types.SeriesId]struct{}),
	}
	for _, id := range ids {
		c.filter[types.SeriesId(id)] = struct{}{}
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	liveClients.Inc()
	return c
}

func (h *LiveHub) unsubscribe(c *liveClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		liveClients.Dec()
	}
}

func (h *LiveHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *LiveHub) points(samples []types.Sample) []LivePoint {
	ret := make([]LivePoint, 0, len(samples))
	for _, s := range samples {
		id := s.SeriesId()
		value := s.Value
		if h.lookup != nil {
			woof, ok := h.lookup(id)
			if !ok {
				continue
			}
			converted, err := conversion.Apply(woof.Conversion, value)
			if err != nil {
				continue
			}
			value = converted
		}
		ret = append(ret, LivePoint{WoofId: id, Timestamp: s.Timestamp, Value: value})
	}
	return ret
}

// Add broadcasts samples without blocking. Clients with a full buffer miss
// the update.
func (h *LiveHub) Add(samples ...types.Sample) error {
	if h.Clients() == 0 {
		return nil
	}
	points := h.points(samples)
	if len(points) == 0 {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		msg := liveMessage{Type: "points", Points: make([]LivePoint, 0, len(points))}
		for _, p := range points {
			if c.wants(p.WoofId) {
				msg.Points = append(msg.Points, p)
			}
		}
		if len(msg.Points) == 0 {
			continue
		}
		select {
		case c.send <- msg:
		default:
			liveDropped.Inc()
		}
	}
	return nil
}

// ServeHTTP upgrades to a websocket. Repeated woofId query values limit the
// series pushed to the client.
func (h *LiveHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := liveUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	client := h.subscribe(r.URL.Query()["woofId"]...)
	defer h.unsubscribe(client)

	if err := conn.SetReadDeadline(time.Now().Add(livePongWait)); err != nil {
		log.Printf("live set read deadline failed: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(livePingEvery)
	defer ticker.Stop()
	client.send <- liveMessage{Type: "subscribed"}
	for {
		select {
		case <-done:
			return
		case msg := <-client.send:
			if err := conn.SetWriteDeadline(time.Now().Add(liveWriteWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(liveWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
