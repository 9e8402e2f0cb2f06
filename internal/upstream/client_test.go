package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/dephost/dephost/internal/config"
)

func testClient() *Client {
	return NewClient(&config.Config{
		Global: config.GlobalConfig{UpstreamTimeout: config.Duration(5 * time.Second)},
	})
}

func sourceFor(t *testing.T, rawURL string) Source {
	t.Helper()
	base, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url error: %v", err)
	}
	if base.Path == "" {
		base.Path = "/"
	}
	return Source{Ecosystem: "pypi", BaseURL: base}
}

func TestFetchReturnsBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/packages/requests/2.28.1/requests-2.28.1.tar.gz" {
			t.Errorf("unexpected upstream path: %s", r.URL.Path)
		}
		w.Header().Set("Last-Modified", "Wed, 01 Jun 2022 10:00:00 GMT")
		_, _ = w.Write([]byte("tarball"))
	}))
	defer upstream.Close()

	result, err := testClient().Fetch(context.Background(), sourceFor(t, upstream.URL), "packages/requests/2.28.1/requests-2.28.1.tar.gz")
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	defer result.Body.Close()

	body, _ := io.ReadAll(result.Body)
	if string(body) != "tarball" {
		t.Fatalf("unexpected body: %s", string(body))
	}
	if result.ModTime.IsZero() {
		t.Fatalf("expected Last-Modified to be parsed")
	}
}

func TestFetchNotFoundIsDefinitive(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer upstream.Close()

	_, err := testClient().Fetch(context.Background(), sourceFor(t, upstream.URL), "simple/missing/")
	if !errors.Is(err, ErrNotFoundAtSource) {
		t.Fatalf("expected ErrNotFoundAtSource, got %v", err)
	}
}

func TestFetchServerErrorIsTransient(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	_, err := testClient().Fetch(context.Background(), sourceFor(t, upstream.URL), "simple/requests/")
	if err == nil || errors.Is(err, ErrNotFoundAtSource) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestFetchTimesOut(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer upstream.Close()

	client := NewClient(&config.Config{
		Global: config.GlobalConfig{UpstreamTimeout: config.Duration(50 * time.Millisecond)},
	})
	_, err := client.Fetch(context.Background(), sourceFor(t, upstream.URL), "simple/slow/")
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}
