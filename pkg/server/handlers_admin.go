package server

import (
	"cmp"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"github.com/matst80/woof/pkg/common"
	"github.com/matst80/woof/pkg/extract"
	"github.com/matst80/woof/pkg/peek"
	"github.com/matst80/woof/pkg/poller"
	"github.com/matst80/woof/pkg/registry"
	"github.com/matst80/woof/pkg/types"
)

var (
	ErrSuperseded     = errors.New("superseded by a newer preview")
	ErrInvalidHistory = errors.New("history must be a whole number")
	ErrMissingPayload = errors.New("url or response is required")
)

type PeekRequest struct {
	Url string `json:"url"`
}

type PreviewResponse struct {
	Url         string            `json:"url"`
	Response    peek.Response     `json:"response"`
	Tokens      extract.Tokenized `json:"tokens"`
	Extractable bool              `json:"extractable"`
}

type CompileRequest struct {
	Url        string              `json:"url,omitempty"`
	Response   *peek.Response      `json:"response,omitempty"`
	Selections []extract.Selection `json:"selections"`
}

type CompileResponse struct {
	Pattern string          `json:"pattern"`
	Fields  []extract.Field `json:"fields"`
	Values  []string        `json:"values"`
}

type SyncRequest struct {
	History string `json:"history"`
}

type SyncResponse struct {
	Source types.Source                      `json:"source"`
	Polled int                               `json:"polled"`
	Recent map[types.SeriesId][]types.Sample `json:"recent"`
}

func (ws *WebServer) peek(w http.ResponseWriter, r *http.Request) (peek.Preview, error) {
	req := PeekRequest{}
	if err := common.DecodeJson(r, &req); err != nil {
		return peek.Preview{}, err
	}
	preview, ok := ws.peekSession(w, r).Peek(r.Context(), ws.Fetcher, req.Url)
	if !ok {
		return preview, common.WithStatus(http.StatusConflict, ErrSuperseded)
	}
	if preview.Err != nil {
		return preview, statusFor(preview.Err)
	}
	return preview, nil
}

// Peek fetches a url and classifies its first line. Only the newest request of
// an editor session gets an answer, older ones fail with 409.
func (ws *WebServer) Peek(w http.ResponseWriter, r *http.Request) (any, error) {
	preview, err := ws.peek(w, r)
	if err != nil {
		return nil, err
	}
	noCacheHeaders(w, r)
	return preview.Response, nil
}

func (ws *WebServer) Preview(w http.ResponseWriter, r *http.Request) (any, error) {
	preview, err := ws.peek(w, r)
	if err != nil {
		return nil, err
	}
	tokens := ws.Tokenizer.Tokenize(preview.Response.Payload())
	noCacheHeaders(w, r)
	return PreviewResponse{
		Url:         preview.Url,
		Response:    preview.Response,
		Tokens:      tokens,
		Extractable: tokens.HasExtractable(),
	}, nil
}

// Compile builds the pattern for a set of selections and shows what it
// captures from the payload.
func (ws *WebServer) Compile(w http.ResponseWriter, r *http.Request) (any, error) {
	req := CompileRequest{}
	if err := common.DecodeJson(r, &req); err != nil {
		return nil, err
	}
	var res peek.Response
	switch {
	case req.Url != "":
		fetched, err := ws.Fetcher.Fetch(r.Context(), req.Url)
		if err != nil {
			return nil, statusFor(err)
		}
		res = fetched
	case req.Response != nil:
		res = *req.Response
	default:
		return nil, common.WithStatus(http.StatusBadRequest, ErrMissingPayload)
	}
	payload := res.Payload()
	tokens := ws.Tokenizer.Tokenize(payload)
	selections := slices.Clone(req.Selections)
	slices.SortStableFunc(selections, func(a, b extract.Selection) int {
		return cmp.Compare(a.TokenIndex, b.TokenIndex)
	})
	pattern, err := tokens.Compile(selections)
	if err != nil {
		return nil, statusFor(err)
	}
	values, err := ws.Matcher.Match(pattern, payload.Raw())
	if err != nil {
		values = []string{}
	}
	noCacheHeaders(w, r)
	return CompileResponse{
		Pattern: pattern,
		Fields:  extract.FieldsFromSelections(selections),
		Values:  values,
	}, nil
}

func (ws *WebServer) Sources(w http.ResponseWriter, r *http.Request) (any, error) {
	noCacheHeaders(w, r)
	return ws.Registry.List(), nil
}

func (ws *WebServer) GetSource(w http.ResponseWriter, r *http.Request) (any, error) {
	source, ok := ws.Registry.Get(r.PathValue("id"))
	if !ok {
		return nil, statusFor(registry.ErrNotFound)
	}
	noCacheHeaders(w, r)
	return source, nil
}

func (ws *WebServer) CreateSource(w http.ResponseWriter, r *http.Request) (any, error) {
	req := registry.SourceRequest{}
	if err := common.DecodeJson(r, &req); err != nil {
		return nil, err
	}
	source, err := ws.Registry.Create(r.Context(), req)
	if err != nil {
		return nil, statusFor(err)
	}
	noCacheHeaders(w, r)
	return common.Status{Code: http.StatusCreated, Data: source}, nil
}

func (ws *WebServer) UpdateSource(w http.ResponseWriter, r *http.Request) (any, error) {
	req := registry.SourceRequest{}
	if err := common.DecodeJson(r, &req); err != nil {
		return nil, err
	}
	source, err := ws.Registry.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		return nil, statusFor(err)
	}
	noCacheHeaders(w, r)
	return source, nil
}

func (ws *WebServer) DeleteSource(w http.ResponseWriter, r *http.Request) (any, error) {
	if err := ws.Registry.Delete(r.Context(), r.PathValue("id")); err != nil {
		return nil, statusFor(err)
	}
	return nil, nil
}

// EditSource reopens a stored source against a fresh preview of its url.
func (ws *WebServer) EditSource(w http.ResponseWriter, r *http.Request) (any, error) {
	seed, err := ws.Registry.EditSeed(r.Context(), r.PathValue("id"), ws.Fetcher)
	if err != nil {
		return nil, statusFor(err)
	}
	noCacheHeaders(w, r)
	return seed, nil
}

// SyncSource polls a source right away and returns the newest samples of
// each of its fields.
func (ws *WebServer) SyncSource(w http.ResponseWriter, r *http.Request) (any, error) {
	req := SyncRequest{}
	if r.ContentLength != 0 {
		if err := common.DecodeJson(r, &req); err != nil {
			return nil, err
		}
	}
	if req.History == "" {
		req.History = defaultSyncHistory
	}
	if !extract.IsInt(req.History) {
		return nil, statusFor(fmt.Errorf("%w: %q", ErrInvalidHistory, req.History))
	}
	history, err := strconv.Atoi(req.History)
	if err != nil {
		return nil, statusFor(fmt.Errorf("%w: %q", ErrInvalidHistory, req.History))
	}
	source, ok := ws.Registry.Get(r.PathValue("id"))
	if !ok {
		return nil, statusFor(registry.ErrNotFound)
	}

	ret := SyncResponse{
		Source: source,
		Recent: make(map[types.SeriesId][]types.Sample, len(source.Fields)),
	}
	if source.Kind == types.PollSource && ws.Poller != nil {
		samples, err := ws.Poller.PollNow(r.Context(), source)
		if errors.Is(err, extract.ErrNoMatch) || errors.Is(err, poller.ErrGroupMismatch) {
			return nil, common.WithStatus(http.StatusUnprocessableEntity, err)
		}
		if err != nil {
			return nil, statusFor(err)
		}
		ret.Polled = len(samples)
	}
	for _, f := range source.Fields {
		id := types.NewSeriesId(source.Id, f.Field)
		ret.Recent[id] = ws.Series.Recent(id, history)
	}
	noCacheHeaders(w, r)
	return ret, nil
}
