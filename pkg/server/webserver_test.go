package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matst80/woof/pkg/extract"
	"github.com/matst80/woof/pkg/peek"
	"github.com/matst80/woof/pkg/poller"
	"github.com/matst80/woof/pkg/registry"
	"github.com/matst80/woof/pkg/series"
	"github.com/matst80/woof/pkg/types"
)

type testEnv struct {
	ws       *WebServer
	handler  http.Handler
	upstream *httptest.Server
	store    *series.Store
	arrived  chan struct{}
	release  chan struct{}

	mu   sync.Mutex
	body string
}

func (e *testEnv) setBody(body string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.body = body
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		body:    "21:ok:40:12\n",
		arrived: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/weather", func(w http.ResponseWriter, r *http.Request) {
		env.mu.Lock()
		defer env.mu.Unlock()
		fmt.Fprint(w, env.body)
	})
	mux.HandleFunc("/number", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "42")
	})
	mux.HandleFunc("/down", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		env.arrived <- struct{}{}
		<-env.release
		fmt.Fprint(w, "1 2 3")
	})
	env.upstream = httptest.NewServer(mux)
	t.Cleanup(env.upstream.Close)

	reg := registry.New(nil, nil, nil)
	env.store = series.NewStore(nil)
	fetcher := peek.NewFetcher(2 * time.Second)
	p := poller.New(fetcher, reg, nil, env.store, time.Hour, 1)
	env.ws = NewWebServer(reg, env.store, fetcher, p, nil, nil)
	env.handler = env.ws.Handler()
	return env
}

func (e *testEnv) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("Failed to decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func weatherRequest(url string) registry.SourceRequest {
	return registry.SourceRequest{
		Url:  url,
		Name: "Weather",
		Fields: []extract.Field{
			{Field: 0, Name: "temp"},
			{Field: 3, Name: "wind", Conversion: "kph2mph"},
		},
		Pattern: `^(.*?):(?:[^:]*:){2}(.*?)$`,
	}
}

func TestPeek(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/admin/peek", PeekRequest{Url: env.upstream.URL + "/number"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 but got %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[peek.Response](t, rec)
	if res.Type != peek.TypeNumeric || res.Number != "42" {
		t.Errorf("Expected numeric preview, got %+v", res)
	}
	if rec.Header().Get(peekSessionHeader) == "" {
		t.Errorf("Expected a peek session id to be issued")
	}

	cases := []struct {
		url    string
		status int
	}{
		{env.upstream.URL + "/down", http.StatusBadGateway},
		{"ftp://example.com", http.StatusBadRequest},
		{"", http.StatusBadRequest},
	}
	for _, c := range cases {
		rec := env.do(http.MethodPost, "/admin/peek", PeekRequest{Url: c.url})
		if rec.Code != c.status {
			t.Errorf("Expected %d for %q but got %d", c.status, c.url, rec.Code)
		}
	}
}

func TestPeekSupersededRequest(t *testing.T) {
	env := newTestEnv(t)
	first := env.do(http.MethodPost, "/admin/peek", PeekRequest{Url: env.upstream.URL + "/number"})
	session := first.Header().Get(peekSessionHeader)

	slow := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		slow <- env.do(http.MethodPost, "/admin/peek", PeekRequest{Url: env.upstream.URL + "/slow"}, peekSessionHeader, session)
	}()
	<-env.arrived

	rec := env.do(http.MethodPost, "/admin/peek", PeekRequest{Url: env.upstream.URL + "/number"}, peekSessionHeader, session)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected newest peek to succeed, got %d", rec.Code)
	}
	close(env.release)
	if rec := <-slow; rec.Code != http.StatusConflict {
		t.Errorf("Expected superseded peek to get 409, got %d", rec.Code)
	}
}

func TestPreview(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/admin/preview", PeekRequest{Url: env.upstream.URL + "/weather"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 but got %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[PreviewResponse](t, rec)
	if res.Tokens.Delimiter != extract.Colon || res.Tokens.Len() != 4 {
		t.Errorf("Expected 4 colon separated tokens, got %+v", res.Tokens)
	}
	if !res.Extractable || res.Tokens.Tokens[1].Extractable {
		t.Errorf("Expected only numeric tokens to be extractable, got %+v", res.Tokens.Tokens)
	}
}

func TestCompile(t *testing.T) {
	env := newTestEnv(t)
	req := CompileRequest{
		Response: &peek.Response{Type: peek.TypeText, Text: "21:ok:40:12"},
		Selections: []extract.Selection{
			{TokenIndex: 3, FieldName: "wind"},
			{TokenIndex: 0, FieldName: "temp"},
		},
	}
	rec := env.do(http.MethodPost, "/admin/compile", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 but got %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[CompileResponse](t, rec)
	if res.Pattern != `^(.*?):(?:[^:]*:){2}(.*?)$` {
		t.Errorf("Unexpected pattern %s", res.Pattern)
	}
	if len(res.Values) != 2 || res.Values[0] != "21" || res.Values[1] != "12" {
		t.Errorf("Expected captured values [21 12], got %v", res.Values)
	}
	if res.Fields[0].Name != "temp" || res.Fields[1].Field != 3 {
		t.Errorf("Expected fields in token order, got %+v", res.Fields)
	}

	req.Selections = []extract.Selection{{TokenIndex: 1, FieldName: "status"}}
	if rec := env.do(http.MethodPost, "/admin/compile", req); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a text token, got %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/admin/compile", CompileRequest{}); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without payload, got %d", rec.Code)
	}
}

func TestCompileNumericSelections(t *testing.T) {
	env := newTestEnv(t)
	req := CompileRequest{
		Response: &peek.Response{Type: peek.TypeNumeric, Number: "42"},
		Selections: []extract.Selection{
			{TokenIndex: 4, FieldName: "a"},
			{TokenIndex: 2, FieldName: "b"},
		},
	}
	if rec := env.do(http.MethodPost, "/admin/compile", req); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for selections beyond a number, got %d: %s", rec.Code, rec.Body.String())
	}

	req.Selections = []extract.Selection{{TokenIndex: 0, FieldName: "value"}}
	rec := env.do(http.MethodPost, "/admin/compile", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 but got %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[CompileResponse](t, rec)
	if res.Pattern != extract.NumericPattern || len(res.Fields) != 1 || res.Fields[0].Field != 0 {
		t.Errorf("Expected one field for the whole number, got %s %+v", res.Pattern, res.Fields)
	}
	if len(res.Values) != 1 || res.Values[0] != "42" {
		t.Errorf("Expected [42], got %v", res.Values)
	}
}

func TestCompileUsesFirstLine(t *testing.T) {
	env := newTestEnv(t)
	req := CompileRequest{
		Response: &peek.Response{Type: peek.TypeText, Text: "1:2:3\n4:5:6"},
		Selections: []extract.Selection{
			{TokenIndex: 0, FieldName: "a"},
			{TokenIndex: 2, FieldName: "b"},
		},
	}
	rec := env.do(http.MethodPost, "/admin/compile", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 but got %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[CompileResponse](t, rec)
	if res.Pattern != `^(.*?):[^:]*:(.*?)$` {
		t.Errorf("Unexpected pattern %s", res.Pattern)
	}
	if len(res.Values) != 2 || res.Values[0] != "1" || res.Values[1] != "3" {
		t.Errorf("Expected [1 3] from the first line, got %v", res.Values)
	}
}

func TestSourceLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/admin/sources", weatherRequest(env.upstream.URL+"/weather"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201 but got %d: %s", rec.Code, rec.Body.String())
	}
	source := decode[types.Source](t, rec)

	if rec := env.do(http.MethodPost, "/admin/sources", registry.SourceRequest{Name: "x"}); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid source, got %d", rec.Code)
	}

	list := decode[[]types.Source](t, env.do(http.MethodGet, "/admin/sources", nil))
	if len(list) != 1 || list[0].Id != source.Id {
		t.Errorf("Expected created source in list, got %+v", list)
	}

	rec = env.do(http.MethodPost, "/admin/sources/"+source.Id+"/sync", SyncRequest{History: "2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from sync but got %d: %s", rec.Code, rec.Body.String())
	}
	synced := decode[SyncResponse](t, rec)
	temp := types.NewSeriesId(source.Id, 0)
	if synced.Polled != 2 || len(synced.Recent[temp]) != 1 || synced.Recent[temp][0].Value != 21 {
		t.Errorf("Unexpected sync result %+v", synced)
	}
	if rec := env.do(http.MethodPost, "/admin/sources/"+source.Id+"/sync", SyncRequest{History: "ten"}); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a non integer history, got %d", rec.Code)
	}

	woofs := decode[[]types.Woof](t, env.do(http.MethodGet, "/api/woofs", nil))
	if len(woofs) != 2 || woofs[0].Id != temp {
		t.Errorf("Expected one woof per field, got %+v", woofs)
	}

	rec = env.do(http.MethodGet, "/api/query?woofId="+string(temp), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from query but got %d: %s", rec.Code, rec.Body.String())
	}
	points := decode[[]series.Point](t, rec)
	if len(points) != 1 || points[0].Value != 21 {
		t.Errorf("Expected the synced sample, got %+v", points)
	}

	update := weatherRequest(env.upstream.URL + "/weather")
	update.Name = "Roof"
	rec = env.do(http.MethodPut, "/admin/sources/"+source.Id, update)
	if rec.Code != http.StatusOK || decode[types.Source](t, rec).Name != "Roof" {
		t.Errorf("Expected update to rename the source, got %d %s", rec.Code, rec.Body.String())
	}

	if rec := env.do(http.MethodDelete, "/admin/sources/"+source.Id, nil); rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204 from delete, got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/admin/sources/"+source.Id, nil); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", rec.Code)
	}
	if len(env.store.Recent(temp, 10)) != 0 {
		t.Errorf("Expected series to be dropped with the source")
	}
}

func TestSyncReportsMismatch(t *testing.T) {
	env := newTestEnv(t)
	source := decode[types.Source](t, env.do(http.MethodPost, "/admin/sources", weatherRequest(env.upstream.URL+"/weather")))
	env.setBody("no colons at all")
	if rec := env.do(http.MethodPost, "/admin/sources/"+source.Id+"/sync", nil); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 when the body no longer matches, got %d", rec.Code)
	}
}

func TestEditSource(t *testing.T) {
	env := newTestEnv(t)
	source := decode[types.Source](t, env.do(http.MethodPost, "/admin/sources", weatherRequest(env.upstream.URL+"/weather")))

	rec := env.do(http.MethodGet, "/admin/sources/"+source.Id+"/edit", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 but got %d: %s", rec.Code, rec.Body.String())
	}
	seed := decode[registry.EditSeed](t, rec)
	if len(seed.Selections) != 2 || seed.Pattern != source.Pattern || seed.Drift != "" {
		t.Errorf("Expected stored fields to reseed cleanly, got %+v", seed)
	}

	env.setBody("1:2")
	seed = decode[registry.EditSeed](t, env.do(http.MethodGet, "/admin/sources/"+source.Id+"/edit", nil))
	if seed.Drift == "" {
		t.Errorf("Expected drift when the body lost tokens")
	}
	if rec := env.do(http.MethodGet, "/admin/sources/nope/edit", nil); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown source, got %d", rec.Code)
	}
}

func TestQueryErrors(t *testing.T) {
	env := newTestEnv(t)
	source := decode[types.Source](t, env.do(http.MethodPost, "/admin/sources", weatherRequest(env.upstream.URL+"/weather")))
	id := string(types.NewSeriesId(source.Id, 0))

	cases := []struct {
		query  string
		status int
	}{
		{"", http.StatusBadRequest},
		{"woofId=missing_0", http.StatusNotFound},
		{"woofId=" + id + "&aggregation=median", http.StatusBadRequest},
		{"woofId=" + id + "&interval=fortnight", http.StatusBadRequest},
		{"woofId=" + id + "&from=2000&to=1000", http.StatusBadRequest},
		{"woofId=" + id + "&from=abc", http.StatusBadRequest},
		{"woofId=" + id + "&conversion=bogus", http.StatusBadRequest},
	}
	for _, c := range cases {
		if rec := env.do(http.MethodGet, "/api/query?"+c.query, nil); rec.Code != c.status {
			t.Errorf("Expected %d for %q but got %d: %s", c.status, c.query, rec.Code, rec.Body.String())
		}
	}
}

func TestQueryCacheInvalidatedOnSourceChange(t *testing.T) {
	env := newTestEnv(t)
	now := time.UnixMilli(1_700_000_000_000)
	env.ws.now = func() time.Time { return now }
	source := decode[types.Source](t, env.do(http.MethodPost, "/admin/sources", weatherRequest(env.upstream.URL+"/weather")))
	id := types.NewSeriesId(source.Id, 0)
	path := "/api/query?interval=raw&woofId=" + string(id)

	env.store.Add(types.Sample{SourceId: source.Id, Field: 0, Value: 1, Timestamp: now.Add(-time.Hour).UnixMilli()})
	if points := decode[[]series.Point](t, env.do(http.MethodGet, path, nil)); len(points) != 1 {
		t.Fatalf("Expected one point, got %+v", points)
	}

	env.store.Add(types.Sample{SourceId: source.Id, Field: 0, Value: 2, Timestamp: now.Add(-time.Minute).UnixMilli()})
	if points := decode[[]series.Point](t, env.do(http.MethodGet, path, nil)); len(points) != 1 {
		t.Errorf("Expected cached result, got %+v", points)
	}

	env.do(http.MethodPut, "/admin/sources/"+source.Id, weatherRequest(env.upstream.URL+"/weather"))
	if points := decode[[]series.Point](t, env.do(http.MethodGet, path, nil)); len(points) != 2 {
		t.Errorf("Expected fresh result after source change, got %+v", points)
	}
}

func TestConversions(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/api/conversions", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"f2c"`) {
		t.Errorf("Expected conversion list, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestCorsPreflight(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodOptions, "/admin/sources", nil, "Origin", "http://localhost:3000")
	if rec.Code != http.StatusAccepted {
		t.Errorf("Expected 202 for preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Errorf("Expected origin to be allowed")
	}
}
