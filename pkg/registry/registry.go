package registry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matst80/woof/pkg/conversion"
	"github.com/matst80/woof/pkg/extract"
	"github.com/matst80/woof/pkg/peek"
	"github.com/matst80/woof/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ErrNotFound      = errors.New("source not found")
	ErrInvalidSource = errors.New("invalid source")
)

var sourceGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "woof_sources",
	Help: "Number of registered sources",
})

// SourceRequest is the body of a create or update call.
type SourceRequest struct {
	Url     string           `json:"url"`
	Name    string           `json:"name"`
	Kind    types.SourceKind `json:"kind,omitempty"`
	Fields  []extract.Field  `json:"fields"`
	Pattern string           `json:"pattern"`
}

type Previewer interface {
	Fetch(ctx context.Context, url string) (peek.Response, error)
}

type Registry struct {
	mu        sync.RWMutex
	sources   map[string]*types.Source
	storage   types.SourceStorage
	notifier  types.ChangeNotifier
	listeners []func(types.SourceChange)
	tokenizer *extract.Tokenizer
	now       func() time.Time
}

func New(storage types.SourceStorage, notifier types.ChangeNotifier, tokenizer *extract.Tokenizer) *Registry {
	if notifier == nil {
		notifier = types.NoopNotifier{}
	}
	if tokenizer == nil {
		tokenizer = extract.NewTokenizer()
	}
	return &Registry{
		sources:   make(map[string]*types.Source),
		storage:   storage,
		notifier:  notifier,
		tokenizer: tokenizer,
		now:       time.Now,
	}
}

// OnChange registers fn to be called after every local or remote change.
func (r *Registry) OnChange(fn func(types.SourceChange)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Registry) Load() error {
	if r.storage == nil {
		return nil
	}
	sources, err := r.storage.LoadSources()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range sources {
		s := sources[i]
		r.sources[s.Id] = &s
	}
	sourceGauge.Set(float64(len(r.sources)))
	log.Printf("loaded %d sources", len(r.sources))
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSource, fmt.Sprintf(format, args...))
}

// Validate normalises req and checks that its pattern yields one capture
// group per field. Fields are sorted by token index, the order of the groups.
func Validate(req *SourceRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	req.Url = strings.TrimSpace(req.Url)
	if req.Kind == "" {
		req.Kind = types.PollSource
	}
	if req.Name == "" {
		return invalid("name is required")
	}
	switch req.Kind {
	case types.PollSource:
		if _, err := peek.ValidateUrl(req.Url); err != nil {
			return invalid("%v", err)
		}
	case types.FeedSource:
	default:
		return invalid("unknown kind %q", req.Kind)
	}
	if len(req.Fields) == 0 {
		return invalid("at least one field is required")
	}
	req.Fields = slices.Clone(req.Fields)
	slices.SortStableFunc(req.Fields, func(a, b extract.Field) int {
		return cmp.Compare(a.Field, b.Field)
	})
	for i, f := range req.Fields {
		if f.Field < 0 {
			return invalid("field index %d is negative", f.Field)
		}
		if i > 0 && req.Fields[i-1].Field == f.Field {
			return invalid("field index %d used twice", f.Field)
		}
		req.Fields[i].Name = strings.TrimSpace(f.Name)
		if req.Fields[i].Name == "" {
			return invalid("field %d has no name", f.Field)
		}
		if f.Conversion == string(conversion.Identity) {
			req.Fields[i].Conversion = ""
		} else if !conversion.Valid(f.Conversion) {
			return invalid("field %q: unknown conversion %q", f.Name, f.Conversion)
		}
	}
	re, err := regexp.Compile(req.Pattern)
	if err != nil {
		return invalid("pattern: %v", err)
	}
	if re.NumSubexp() != len(req.Fields) {
		return invalid("pattern has %d groups for %d fields", re.NumSubexp(), len(req.Fields))
	}
	if req.Pattern == extract.NumericPattern && req.Fields[0].Field != 0 {
		return invalid("a whole value pattern captures field 0, not %d", req.Fields[0].Field)
	}
	return nil
}

func (r *Registry) Create(ctx context.Context, req SourceRequest) (types.Source, error) {
	if err := Validate(&req); err != nil {
		return types.Source{}, err
	}
	now := r.now().UnixMilli()
	source := &types.Source{
		Id:      uuid.New().String(),
		Url:     req.Url,
		Name:    req.Name,
		Kind:    req.Kind,
		Fields:  req.Fields,
		Pattern: req.Pattern,
		Created: now,
		Updated: now,
	}
	apply := func() error {
		r.sources[source.Id] = source
		return nil
	}
	if err := r.commit(ctx, apply, func() { delete(r.sources, source.Id) }); err != nil {
		return types.Source{}, err
	}
	r.changed(types.SourceChange{Action: types.SourceUpserted, Id: source.Id, Source: source})
	return *source, nil
}

func (r *Registry) Update(ctx context.Context, id string, req SourceRequest) (types.Source, error) {
	if err := Validate(&req); err != nil {
		return types.Source{}, err
	}
	source := &types.Source{
		Id:      id,
		Url:     req.Url,
		Name:    req.Name,
		Kind:    req.Kind,
		Fields:  req.Fields,
		Pattern: req.Pattern,
		Updated: r.now().UnixMilli(),
	}
	var existing *types.Source
	apply := func() error {
		var ok bool
		if existing, ok = r.sources[id]; !ok {
			return ErrNotFound
		}
		source.Created = existing.Created
		r.sources[id] = source
		return nil
	}
	if err := r.commit(ctx, apply, func() { r.sources[id] = existing }); err != nil {
		return types.Source{}, err
	}
	r.changed(types.SourceChange{Action: types.SourceUpserted, Id: id, Source: source})
	return *source, nil
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	var existing *types.Source
	apply := func() error {
		var ok bool
		if existing, ok = r.sources[id]; !ok {
			return ErrNotFound
		}
		delete(r.sources, id)
		return nil
	}
	if err := r.commit(ctx, apply, func() { r.sources[id] = existing }); err != nil {
		return err
	}
	r.changed(types.SourceChange{Action: types.SourceDeleted, Id: id, Source: existing})
	return nil
}

// commit applies a change under the write lock and persists the whole set,
// undoing the change when saving fails. Nothing is saved when apply fails.
func (r *Registry) commit(ctx context.Context, apply func() error, undo func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := apply(); err != nil {
		return err
	}
	if r.storage == nil {
		return nil
	}
	if err := r.storage.SaveSources(r.listLocked()); err != nil {
		undo()
		return fmt.Errorf("save sources: %w", err)
	}
	sourceGauge.Set(float64(len(r.sources)))
	return nil
}

func (r *Registry) changed(change types.SourceChange) {
	if err := r.notifier.SourceChanged(change); err != nil {
		log.Printf("failed to notify source change %s: %v", change.Id, err)
	}
	r.dispatch(change)
}

func (r *Registry) dispatch(change types.SourceChange) {
	r.mu.RLock()
	listeners := slices.Clone(r.listeners)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(change)
	}
}

// ApplyChange mirrors a change made by another instance. Nothing is persisted
// or re-published.
func (r *Registry) ApplyChange(change types.SourceChange) {
	r.mu.Lock()
	switch change.Action {
	case types.SourceDeleted:
		if _, ok := r.sources[change.Id]; !ok {
			r.mu.Unlock()
			return
		}
		delete(r.sources, change.Id)
	case types.SourceUpserted:
		if change.Source == nil {
			r.mu.Unlock()
			return
		}
		if current, ok := r.sources[change.Id]; ok && current.Updated >= change.Source.Updated {
			r.mu.Unlock()
			return
		}
		s := *change.Source
		r.sources[change.Id] = &s
	}
	sourceGauge.Set(float64(len(r.sources)))
	r.mu.Unlock()
	r.dispatch(change)
}

func (r *Registry) Get(id string) (types.Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[id]
	if !ok {
		return types.Source{}, false
	}
	return *s, true
}

func (r *Registry) listLocked() []types.Source {
	ret := make([]types.Source, 0, len(r.sources))
	for _, s := range r.sources {
		ret = append(ret, *s)
	}
	slices.SortFunc(ret, func(a, b types.Source) int {
		if c := cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return cmp.Compare(a.Id, b.Id)
	})
	return ret
}

// List returns all sources ordered by name.
func (r *Registry) List() []types.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *Registry) ByKind(kind types.SourceKind) []types.Source {
	ret := make([]types.Source, 0)
	for _, s := range r.List() {
		if s.Kind == kind {
			ret = append(ret, s)
		}
	}
	return ret
}

func (r *Registry) Woofs() []types.Woof {
	ret := make([]types.Woof, 0)
	for _, s := range r.List() {
		ret = append(ret, s.Woofs()...)
	}
	return ret
}

// Woof finds the chart entry of a series.
func (r *Registry) Woof(id types.SeriesId) (types.Woof, bool) {
	for _, w := range r.Woofs() {
		if w.Id == id {
			return w, true
		}
	}
	return types.Woof{}, false
}
