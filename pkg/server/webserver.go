package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/matst80/woof/pkg/common"
	"github.com/matst80/woof/pkg/conversion"
	"github.com/matst80/woof/pkg/extract"
	"github.com/matst80/woof/pkg/peek"
	"github.com/matst80/woof/pkg/registry"
	"github.com/matst80/woof/pkg/series"
	"github.com/matst80/woof/pkg/types"
)

const (
	queryCacheTime     = 30 * time.Second
	peekSessionCookie  = "woof-peek"
	peekSessionHeader  = "X-Peek-Session"
	maxPeekSessions    = 256
	defaultSyncHistory = "10"
)

type SamplePoller interface {
	PollNow(ctx context.Context, source types.Source) ([]types.Sample, error)
}

type WebServer struct {
	Registry  *registry.Registry
	Series    *series.Store
	Fetcher   *peek.Fetcher
	Poller    SamplePoller
	Tokenizer *extract.Tokenizer
	Matcher   *extract.Matcher
	Cache     *Cache
	Live      *LiveHub
	Auth      AuthHandler

	queries  *CacheHelper[[]series.Point]
	sessions *lru.Cache[string, *peek.Session]
	now      func() time.Time
}

func NewWebServer(reg *registry.Registry, store *series.Store, fetcher *peek.Fetcher, poller SamplePoller, cache *Cache, auth AuthHandler) *WebServer {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if auth == nil {
		auth = OpenAuth{}
	}
	sessions, err := lru.New[string, *peek.Session](maxPeekSessions)
	if err != nil {
		panic(err)
	}
	ws := &WebServer{
		Registry:  reg,
		Series:    store,
		Fetcher:   fetcher,
		Poller:    poller,
		Tokenizer: extract.NewTokenizer(),
		Matcher:   extract.NewMatcher(128),
		Cache:     cache,
		Live:      NewLiveHub(reg.Woof),
		Auth:      auth,
		queries:   NewCacheHelper[[]series.Point](cache, queryCacheTime),
		sessions:  sessions,
		now:       time.Now,
	}
	reg.OnChange(ws.sourceChanged)
	return ws
}

func (ws *WebServer) sourceChanged(change types.SourceChange) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ws.Cache.Invalidate(ctx, queryCachePrefix(change.Id)); err != nil {
		log.Printf("failed to invalidate query cache for %s: %v", change.Id, err)
	}
	if change.Action == types.SourceDeleted && change.Source != nil && ws.Series != nil {
		fields := make([]int, len(change.Source.Fields))
		for i, f := range change.Source.Fields {
			fields[i] = f.Field
		}
		ws.Series.Drop(change.Id, fields...)
	}
}

// peekSession returns the preview session of the calling editor, creating one
// when the request carries no known id.
func (ws *WebServer) peekSession(w http.ResponseWriter, r *http.Request) *peek.Session {
	id := r.Header.Get(peekSessionHeader)
	if id == "" {
		if c, err := r.Cookie(peekSessionCookie); err == nil {
			id = c.Value
		}
	}
	if id != "" {
		if s, ok := ws.sessions.Get(id); ok {
			return s
		}
	} else {
		id = uuid.NewString()
	}
	s := &peek.Session{}
	ws.sessions.Add(id, s)
	w.Header().Set(peekSessionHeader, id)
	http.SetCookie(w, &http.Cookie{
		Name:     peekSessionCookie,
		Value:    id,
		Path:     "/admin",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	return s
}

// statusFor maps domain errors onto http statuses.
func statusFor(err error) error {
	var fetchErr *peek.FetchError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, peek.ErrInvalidUrl),
		errors.Is(err, registry.ErrInvalidSource),
		errors.Is(err, extract.ErrUnsortedSelections),
		errors.Is(err, extract.ErrDuplicateSelection),
		errors.Is(err, extract.ErrUnknownToken),
		errors.Is(err, extract.ErrNotExtractable),
		errors.Is(err, series.ErrUnknownAggregation),
		errors.Is(err, series.ErrUnknownInterval),
		errors.Is(err, series.ErrInvalidRange),
		errors.Is(err, conversion.ErrUnknownConversion),
		errors.Is(err, ErrMissingWoof),
		errors.Is(err, ErrInvalidHistory):
		return common.WithStatus(http.StatusBadRequest, err)
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, ErrUnknownWoof):
		return common.WithStatus(http.StatusNotFound, err)
	case errors.As(err, &fetchErr):
		return common.WithStatus(http.StatusBadGateway, err)
	}
	return err
}

func (ws *WebServer) ClientHandler() *http.ServeMux {
	srv := http.NewServeMux()
	srv.HandleFunc("GET /woofs", common.JsonHandler(ws.Woofs))
	srv.HandleFunc("GET /query", common.JsonHandler(ws.Query))
	srv.HandleFunc("GET /conversions", common.JsonHandler(ws.Conversions))
	srv.Handle("GET /live", ws.Live)
	srv.HandleFunc("OPTIONS /", common.RespondToOptions)
	return srv
}

func (ws *WebServer) AdminHandler() *http.ServeMux {
	srv := http.NewServeMux()
	auth := ws.Auth.Middleware

	srv.HandleFunc("GET /user", ws.Auth.User)

	srv.HandleFunc("POST /peek", auth(common.JsonHandler(ws.Peek)))
	srv.HandleFunc("POST /preview", auth(common.JsonHandler(ws.Preview)))
	srv.HandleFunc("POST /compile", auth(common.JsonHandler(ws.Compile)))
	srv.HandleFunc("GET /sources", auth(common.JsonHandler(ws.Sources)))
	srv.HandleFunc("POST /sources", auth(common.JsonHandler(ws.CreateSource)))
	srv.HandleFunc("GET /sources/{id}", auth(common.JsonHandler(ws.GetSource)))
	srv.HandleFunc("PUT /sources/{id}", auth(common.JsonHandler(ws.UpdateSource)))
	srv.HandleFunc("DELETE /sources/{id}", auth(common.JsonHandler(ws.DeleteSource)))
	srv.HandleFunc("GET /sources/{id}/edit", auth(common.JsonHandler(ws.EditSource)))
	srv.HandleFunc("POST /sources/{id}/sync", auth(common.JsonHandler(ws.SyncSource)))
	srv.HandleFunc("OPTIONS /", common.RespondToOptions)
	return srv
}

// Handler mounts the client api under /api and the admin api under /admin.
func (ws *WebServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", http.StripPrefix("/api", ws.ClientHandler()))
	mux.Handle("/admin/", http.StripPrefix("/admin", ws.AdminHandler()))
	return mux
}
