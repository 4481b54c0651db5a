// internal/probe/probe_test.go
package probe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestProber(client *http.Client) *Prober {
	return New(Options{
		ReachTimeout: time.Second,
		FetchTimeout: time.Second,
		Retries:      3,
		RetryDelay:   time.Millisecond,
		Client:       client,
	})
}

func TestReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/up":
			_, _ = io.WriteString(w, "ok")
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	p := newTestProber(srv.Client())

	if ok, msg := p.Reachable(context.Background(), Request{URL: srv.URL + "/up"}); !ok {
		t.Fatalf("expected reachable, got %q", msg)
	}

	ok, msg := p.Reachable(context.Background(), Request{URL: srv.URL + "/down"})
	if ok {
		t.Fatal("expected 503 to count as unreachable")
	}
	if msg != "HTTP 503" {
		t.Fatalf("message = %q", msg)
	}
}

func TestReachableTransportError(t *testing.T) {
	var calls int32
	p := newTestProber(&http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("connection refused")
	})})

	ok, msg := p.Reachable(context.Background(), Request{URL: "http://service.invalid"})
	if ok || !strings.Contains(msg, "connection refused") {
		t.Fatalf("got ok=%v msg=%q", ok, msg)
	}
	if calls != 1 {
		t.Fatalf("reachability retried: %d calls", calls)
	}
}

func TestFetchDoesNotRetryHTTPErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "boom")
	}))
	defer srv.Close()

	_, err := newTestProber(srv.Client()).Fetch(context.Background(), Request{URL: srv.URL})

	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("expected *Failure, got %v", err)
	}
	if failure.StatusCode != http.StatusInternalServerError || failure.Body != "boom" {
		t.Fatalf("failure = %+v", failure)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestFetchRetriesTransportErrors(t *testing.T) {
	var calls int32
	p := newTestProber(&http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errors.New("connection reset")
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"status":"success"}`)),
			Header:     make(http.Header),
		}, nil
	})})

	resp, err := p.Fetch(context.Background(), Request{URL: "http://crawler.local/status"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(resp.Body) != `{"status":"success"}` {
		t.Fatalf("body = %q", resp.Body)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestFetchRetriesExhausted(t *testing.T) {
	var calls int32
	p := newTestProber(&http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("no route to host")
	})})

	_, err := p.Fetch(context.Background(), Request{URL: "http://crawler.local/status"})

	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("expected *Failure, got %v", err)
	}
	if failure.StatusCode != 0 || failure.Body != "retries exhausted" {
		t.Fatalf("failure = %+v", failure)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestFetchSendsCredentialsAndBody(t *testing.T) {
	var gotAuth, gotMethod, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = io.WriteString(w, "{}")
	}))
	defer srv.Close()

	_, err := newTestProber(srv.Client()).Fetch(context.Background(), Request{
		URL:    srv.URL,
		Method: http.MethodPost,
		Body:   []byte(`{"q":1}`),
		APIKey: "secret",
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotAuth != "Bearer secret" || gotMethod != http.MethodPost || gotBody != `{"q":1}` {
		t.Fatalf("auth=%q method=%q body=%q", gotAuth, gotMethod, gotBody)
	}
}
