package peek

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/matst80/woof/pkg/extract"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ErrInvalidUrl = errors.New("invalid url")
	ErrStatus     = errors.New("unexpected status")
)

var (
	peekCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "woof_peek_total",
		Help: "The total number of preview fetches",
	})
	peekErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "woof_peek_errors_total",
		Help: "The total number of failed preview fetches",
	})
)

const (
	TypeNumeric = "NUMERIC"
	TypeText    = "TEXT"
)

// Response is the wire shape of a preview.
type Response struct {
	Type   string `json:"typ"`
	Number string `json:"number,omitempty"`
	Text   string `json:"text,omitempty"`
}

// Payload reads the response the way extraction does, first line only.
func (r Response) Payload() extract.Payload {
	if r.Type == TypeNumeric {
		return extract.ParsePayload(r.Type, extract.FirstLine(r.Number))
	}
	return extract.ParsePayload(r.Type, extract.FirstLine(r.Text))
}

func ResponseFor(p extract.Payload) Response {
	if p.Kind() == extract.KindNumeric {
		return Response{Type: TypeNumeric, Number: p.Raw()}
	}
	return Response{Type: TypeText, Text: p.Raw()}
}

// FetchError wraps every failure to retrieve a preview body.
type FetchError struct {
	Url    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: %v %d", e.Url, e.Err, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.Url, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type Fetcher struct {
	Client *http.Client
	// MaxBytes caps how much of a body is read.
	MaxBytes int64
}

func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{
		Client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 5 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		},
		MaxBytes: 64 * 1024,
	}
}

func ValidateUrl(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidUrl)
	}
	parsed, err := neturl.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidUrl, raw)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: url must use http or https", ErrInvalidUrl)
	}
	return raw, nil
}

// Body returns the raw response body of url.
func (f *Fetcher) Body(ctx context.Context, url string) (string, error) {
	clean, err := ValidateUrl(url)
	if err != nil {
		return "", &FetchError{Url: url, Err: err}
	}
	url = clean
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &FetchError{Url: url, Err: err}
	}
	res, err := f.Client.Do(req)
	if err != nil {
		return "", &FetchError{Url: url, Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", &FetchError{Url: url, Status: res.StatusCode, Err: ErrStatus}
	}
	var reader io.Reader = res.Body
	if f.MaxBytes > 0 {
		reader = io.LimitReader(res.Body, f.MaxBytes)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", &FetchError{Url: url, Err: err}
	}
	return string(data), nil
}

// Fetch retrieves url and classifies the first line of the body.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Response, error) {
	peekCount.Inc()
	body, err := f.Body(ctx, url)
	if err != nil {
		peekErrors.Inc()
		return Response{}, err
	}
	return ResponseFor(extract.Classify(body)), nil
}
