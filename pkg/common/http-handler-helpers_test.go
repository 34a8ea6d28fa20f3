package common

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestJsonHandler(t *testing.T) {
	h := JsonHandler(func(w http.ResponseWriter, r *http.Request) (any, error) {
		switch r.URL.Query().Get("case") {
		case "bad":
			return nil, WithStatus(http.StatusBadRequest, errors.New("nope"))
		case "fail":
			return nil, errors.New("boom")
		case "empty":
			return nil, nil
		}
		return map[string]int{"n": 1}, nil
	})

	cases := []struct {
		query  string
		status int
		body   string
	}{
		{"", http.StatusOK, `{"n":1}`},
		{"case=bad", http.StatusBadRequest, "nope"},
		{"case=fail", http.StatusInternalServerError, "boom"},
		{"case=empty", http.StatusNoContent, ""},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/?"+c.query, nil))
		if rec.Code != c.status {
			t.Errorf("Expected status %d for %q but got %d", c.status, c.query, rec.Code)
		}
		if strings.TrimSpace(rec.Body.String()) != c.body {
			t.Errorf("Expected body %q for %q but got %q", c.body, c.query, rec.Body.String())
		}
	}
}

func TestJsonHandlerOptions(t *testing.T) {
	called := false
	h := JsonHandler(func(w http.ResponseWriter, r *http.Request) (any, error) {
		called = true
		return nil, nil
	})
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h(rec, req)
	if called {
		t.Errorf("Expected handler not to run for OPTIONS")
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Errorf("Expected origin to be echoed, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestDecodeJson(t *testing.T) {
	var v struct {
		Url string `json:"url"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"url":"http://x"}`))
	if err := DecodeJson(req, &v); err != nil || v.Url != "http://x" {
		t.Errorf("Expected decoded body, got %+v %v", v, err)
	}
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	if err := DecodeJson(req, &v); StatusOf(err) != http.StatusBadRequest {
		t.Errorf("Expected 400 for broken json, got %v", err)
	}
}

func TestJsonHandlerStatus(t *testing.T) {
	h := JsonHandler(func(w http.ResponseWriter, r *http.Request) (any, error) {
		return Status{Code: http.StatusCreated, Data: []string{"a"}}, nil
	})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusCreated {
		t.Errorf("Expected 201 but got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `["a"]` {
		t.Errorf("Unexpected body %s", rec.Body.String())
	}
}
