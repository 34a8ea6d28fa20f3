package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/matst80/woof/pkg/extract"
	"github.com/matst80/woof/pkg/peek"
	"github.com/matst80/woof/pkg/registry"
	"github.com/matst80/woof/pkg/server"
	"github.com/matst80/woof/pkg/types"
)

type fakeApi struct {
	tokens  extract.Tokenized
	created []registry.SourceRequest
	failing error
}

func (f *fakeApi) Preview(ctx context.Context, url string) (previewResult, error) {
	return previewResult{Url: url, Tokens: f.tokens}, nil
}

func (f *fakeApi) EditSeed(ctx context.Context, id string) (registry.EditSeed, error) {
	return registry.EditSeed{}, errors.New("not used")
}

func (f *fakeApi) Create(ctx context.Context, req registry.SourceRequest) (types.Source, error) {
	if f.failing != nil {
		return types.Source{}, f.failing
	}
	f.created = append(f.created, req)
	return types.Source{Id: "abc", Name: req.Name}, nil
}

func (f *fakeApi) Update(ctx context.Context, id string, req registry.SourceRequest) (types.Source, error) {
	return types.Source{}, errors.New("not used")
}

func run(t *testing.T, s *session, lines ...string) {
	t.Helper()
	for _, line := range lines {
		if err := s.Run(context.Background(), line); err != nil {
			t.Fatalf("Expected %q to succeed but got %v", line, err)
		}
	}
}

func TestSessionCreatesSource(t *testing.T) {
	api := &fakeApi{tokens: extract.Tokenize(extract.Text{Body: "21:ok:40:12"})}
	out := &bytes.Buffer{}
	s := newSession(api, out)

	run(t, s, "peek http://example.com/w", "select 2", "name outside", "add", "select 0", "name inside", "conv f2c", "add")
	run(t, s, "create Weather station")

	if len(api.created) != 1 {
		t.Fatalf("Expected one create but got %d", len(api.created))
	}
	req := api.created[0]
	if req.Name != "Weather station" {
		t.Errorf("Expected name Weather station but got %q", req.Name)
	}
	if req.Pattern != "^(.*?):[^:]*:(.*?):.*?$" {
		t.Errorf("Expected pattern ^(.*?):[^:]*:(.*?):.*?$ but got %s", req.Pattern)
	}
	if len(req.Fields) != 2 || req.Fields[0].Field != 0 || req.Fields[0].Conversion != "f2c" {
		t.Errorf("Expected the inside field first but got %+v", req.Fields)
	}
	if !strings.Contains(out.String(), "created Weather station (abc)") {
		t.Errorf("Expected a created message but got %s", out.String())
	}
	if s.builder.Tokens().Len() != 0 {
		t.Errorf("Expected the builder to be reset after create")
	}
}

func TestSessionKeepsSelectionsWhenCreateFails(t *testing.T) {
	api := &fakeApi{
		tokens:  extract.Tokenize(extract.Text{Body: "1 2"}),
		failing: errors.New("boom"),
	}
	s := newSession(api, &bytes.Buffer{})
	run(t, s, "peek http://example.com", "select 1", "name b", "add")

	if err := s.Run(context.Background(), "create things"); err == nil {
		t.Fatalf("Expected create to fail")
	}
	if !s.builder.IsSelected(1) {
		t.Errorf("Expected token 1 to stay selected")
	}
}

func TestSessionRejects(t *testing.T) {
	api := &fakeApi{tokens: extract.Tokenize(extract.Text{Body: "temp 12"})}
	s := newSession(api, &bytes.Buffer{})

	cases := []string{
		"create early",
		"select x",
		"name nothing chosen",
		"bogus",
		"update",
	}
	for _, line := range cases {
		if err := s.Run(context.Background(), line); err == nil {
			t.Errorf("Expected %q to fail", line)
		}
	}

	run(t, s, "peek http://example.com")
	if err := s.Run(context.Background(), "select 0"); err == nil {
		t.Errorf("Expected a literal token to be rejected")
	}
	run(t, s, "select 1")
	if err := s.Run(context.Background(), "conv furlongs"); err == nil {
		t.Errorf("Expected an unknown conversion to be rejected")
	}
	if err := s.Run(context.Background(), "add"); err == nil {
		t.Errorf("Expected add without a name to fail")
	}
	run(t, s, "cancel")
	if _, ok := s.builder.Pending(); ok {
		t.Errorf("Expected cancel to drop the draft")
	}
	if err := s.Run(context.Background(), "quit"); !errors.Is(err, errQuit) {
		t.Errorf("Expected quit but got %v", err)
	}
}

func TestSessionSelectTogglesField(t *testing.T) {
	api := &fakeApi{tokens: extract.Tokenize(extract.Text{Body: "1 2 3"})}
	s := newSession(api, &bytes.Buffer{})
	run(t, s, "peek http://example.com", "select 1", "name mid", "add", "select 1")

	if s.builder.IsSelected(1) {
		t.Errorf("Expected second select to remove the field")
	}
	run(t, s, "select 2", "name last", "add", "remove 2")
	if len(s.builder.Selections()) != 0 {
		t.Errorf("Expected no selections but got %v", s.builder.Selections())
	}
}

func TestSessionAgainstDashboard(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "21:ok:40:12\n")
	}))
	defer upstream.Close()

	reg := registry.New(nil, nil, nil)
	ws := server.NewWebServer(reg, nil, peek.NewFetcher(2*time.Second), nil, nil, nil)
	dashboard := httptest.NewServer(ws.Handler())
	defer dashboard.Close()

	client := newAdminClient(dashboard.URL, "")
	out := &bytes.Buffer{}
	s := newSession(client, out)

	run(t, s, "peek "+upstream.URL, "select 3", "name wind", "add", "create Station")
	if client.session == "" {
		t.Errorf("Expected the client to keep the peek session id")
	}
	sources := reg.List()
	if len(sources) != 1 {
		t.Fatalf("Expected one source but got %d", len(sources))
	}
	if sources[0].Pattern != "^(?:[^:]*:){3}(.*?)$" {
		t.Errorf("Expected pattern for the last token but got %s", sources[0].Pattern)
	}

	run(t, s, "edit "+sources[0].Id, "select 0", "name temp", "add", "update")
	updated, _ := reg.Get(sources[0].Id)
	if updated.Name != "Station" {
		t.Errorf("Expected the name to be kept but got %s", updated.Name)
	}
	if len(updated.Fields) != 2 {
		t.Errorf("Expected two fields after update but got %+v", updated.Fields)
	}

	err := s.Run(context.Background(), "edit missing")
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Errorf("Expected a 404 from the api but got %v", err)
	}
}
