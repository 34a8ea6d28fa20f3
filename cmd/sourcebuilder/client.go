package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/matst80/woof/pkg/common/jsoncompat"
	"github.com/matst80/woof/pkg/registry"
	"github.com/matst80/woof/pkg/server"
	"github.com/matst80/woof/pkg/types"
)

const peekSessionHeader = "X-Peek-Session"

type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("admin api answered %d", e.Status)
	}
	return fmt.Sprintf("admin api answered %d: %s", e.Status, e.Body)
}

// adminClient talks to the /admin api of a dashboard and keeps the peek
// session id the server hands out.
type adminClient struct {
	base    string
	key     string
	session string
	client  *http.Client
}

func newAdminClient(base, key string) *adminClient {
	return &adminClient{
		base:   strings.TrimSuffix(base, "/"),
		key:    key,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *adminClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := jsoncompat.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+"/admin"+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != "" {
		req.Header.Set("Authorization", c.key)
	}
	if c.session != "" {
		req.Header.Set(peekSessionHeader, c.session)
	}
	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if id := res.Header.Get(peekSessionHeader); id != "" {
		c.session = id
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &apiError{Status: res.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return jsoncompat.Unmarshal(data, out)
}

func (c *adminClient) Preview(ctx context.Context, url string) (previewResult, error) {
	ret := server.PreviewResponse{}
	if err := c.do(ctx, http.MethodPost, "/preview", server.PeekRequest{Url: url}, &ret); err != nil {
		return previewResult{}, err
	}
	return previewResult{Url: ret.Url, Tokens: ret.Tokens}, nil
}

func (c *adminClient) EditSeed(ctx context.Context, id string) (registry.EditSeed, error) {
	ret := registry.EditSeed{}
	err := c.do(ctx, http.MethodGet, "/sources/"+id+"/edit", nil, &ret)
	return ret, err
}

func (c *adminClient) Create(ctx context.Context, req registry.SourceRequest) (types.Source, error) {
	ret := types.Source{}
	err := c.do(ctx, http.MethodPost, "/sources", req, &ret)
	return ret, err
}

func (c *adminClient) Update(ctx context.Context, id string, req registry.SourceRequest) (types.Source, error) {
	ret := types.Source{}
	err := c.do(ctx, http.MethodPut, "/sources/"+id, req, &ret)
	return ret, err
}
