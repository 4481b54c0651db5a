// internal/probe/probe.go
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

const (
	maxBodyBytes   = 1 << 20
	maxExcerptSize = 512
)

// Request describes one call against a watched service.
type Request struct {
	URL    string
	Method string
	Body   []byte
	Header map[string]string
	// APIKey is sent as a Bearer token when set.
	APIKey string
}

type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	Duration   time.Duration
}

// Failure is returned by Fetch for every unsuccessful outcome. StatusCode is
// zero when no HTTP response was obtained.
type Failure struct {
	StatusCode int
	Body       string
	Err        error
}

func (f *Failure) Error() string {
	if f.StatusCode > 0 {
		return fmt.Sprintf("api failure: status %d: %s", f.StatusCode, f.Body)
	}
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Body, f.Err)
	}
	return f.Body
}

func (f *Failure) Unwrap() error { return f.Err }

type Options struct {
	ReachTimeout time.Duration
	FetchTimeout time.Duration
	Retries      int
	RetryDelay   time.Duration
	Client       *http.Client
}

type Prober struct {
	client       *http.Client
	reachTimeout time.Duration
	fetchTimeout time.Duration
	retries      int
	retryDelay   time.Duration
}

// New creates a prober, filling unset options with the standard policy of a
// 5s reachability timeout and three 10s attempts spaced 1s apart.
func New(opts Options) *Prober {
	p := &Prober{
		client:       opts.Client,
		reachTimeout: opts.ReachTimeout,
		fetchTimeout: opts.FetchTimeout,
		retries:      opts.Retries,
		retryDelay:   opts.RetryDelay,
	}
	if p.client == nil {
		p.client = &http.Client{}
	}
	if p.reachTimeout <= 0 {
		p.reachTimeout = 5 * time.Second
	}
	if p.fetchTimeout <= 0 {
		p.fetchTimeout = 10 * time.Second
	}
	if p.retries < 1 {
		p.retries = 3
	}
	if p.retryDelay <= 0 {
		p.retryDelay = time.Second
	}
	return p
}

// Reachable performs a single GET without retry. Any non-2xx answer counts
// as unreachable.
func (p *Prober) Reachable(ctx context.Context, req Request) (bool, string) {
	req.Method = http.MethodGet
	req.Body = nil

	resp, err := p.do(ctx, req, p.reachTimeout)
	if err != nil {
		return false, err.Error()
	}
	if !success(resp.StatusCode) {
		return false, fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return true, fmt.Sprintf("HTTP %d in %s", resp.StatusCode, resp.Duration.Round(time.Millisecond))
}

// Fetch performs the request with bounded retry. Only timeouts and transport
// errors are retried; a non-2xx response fails immediately.
func (p *Prober) Fetch(ctx context.Context, req Request) (*Response, error) {
	var result *Response
	attempt := 0

	backoff := retry.WithMaxRetries(uint64(p.retries-1), retry.NewConstant(p.retryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		resp, err := p.do(ctx, req, p.fetchTimeout)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"url":     req.URL,
				"attempt": attempt,
			}).WithError(err).Debug("Fetch attempt failed")
			return retry.RetryableError(err)
		}
		if !success(resp.StatusCode) {
			return &Failure{StatusCode: resp.StatusCode, Body: excerpt(resp.Body)}
		}
		result = resp
		return nil
	})
	if err == nil {
		return result, nil
	}

	var failure *Failure
	if errors.As(err, &failure) {
		return nil, failure
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, &Failure{Body: "fetch cancelled", Err: ctxErr}
	}
	return nil, &Failure{Body: "retries exhausted", Err: err}
}

func (p *Prober) do(ctx context.Context, req Request, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", "fleetwatch/1.0")
	if len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	}
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Body:       data,
		Header:     httpResp.Header,
		Duration:   time.Since(start),
	}, nil
}

func success(code int) bool {
	return code >= 200 && code < 300
}

func excerpt(body []byte) string {
	s := string(bytes.TrimSpace(body))
	if len(s) > maxExcerptSize {
		return s[:maxExcerptSize] + "..."
	}
	return s
}
