package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dephost/dephost/internal/cache"
	"github.com/dephost/dephost/internal/config"
	"github.com/dephost/dephost/internal/upstream"

	_ "github.com/dephost/dephost/internal/ecosystem/pypi"
)

func testKey() cache.Key {
	return cache.Key{
		Ecosystem: "pypi",
		Package:   "requests",
		Version:   "2.28.1",
		Variant:   "requests-2.28.1.tar.gz",
	}
}

func newTestCoordinator(t *testing.T, opts Options, sourceURLs ...string) (*Coordinator, cache.Store) {
	t.Helper()

	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store error: %v", err)
	}

	configs := make([]config.SourceConfig, len(sourceURLs))
	for i, u := range sourceURLs {
		configs[i] = config.SourceConfig{Ecosystem: "pypi", URL: u, Priority: i + 1}
	}
	registry, err := upstream.NewRegistry(configs)
	if err != nil {
		t.Fatalf("registry error: %v", err)
	}

	prober := upstream.NewProber(registry, 5*time.Minute)
	client := upstream.NewClient(&config.Config{
		Global: config.GlobalConfig{UpstreamTimeout: config.Duration(5 * time.Second)},
	})

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return NewCoordinator(store, prober, client, logger, opts), store
}

func readBody(t *testing.T, result *Result) string {
	t.Helper()
	defer result.Read.Reader.Close()
	body, err := io.ReadAll(result.Read.Reader)
	if err != nil {
		t.Fatalf("read body error: %v", err)
	}
	return string(body)
}

func TestGetCoalescesConcurrentRequests(t *testing.T) {
	var hits atomic.Int64
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write([]byte("tarball-bytes"))
	}))
	defer upstreamSrv.Close()

	coordinator, _ := newTestCoordinator(t, Options{Retention: time.Hour}, upstreamSrv.URL)

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := coordinator.Get(context.Background(), testKey())
			if err != nil {
				t.Errorf("get error: %v", err)
				return
			}
			if got := readBody(t, result); got != "tarball-bytes" {
				t.Errorf("unexpected body: %s", got)
			}
		}()
	}
	wg.Wait()

	if hits.Load() != 1 {
		t.Fatalf("expected exactly one upstream request, got %d", hits.Load())
	}
}

func TestGetFailsOverToNextSource(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("from-mirror-b"))
	}))
	defer healthy.Close()

	coordinator, store := newTestCoordinator(t, Options{Retention: time.Hour}, broken.URL, healthy.URL)

	result, err := coordinator.Get(context.Background(), testKey())
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got := readBody(t, result); got != "from-mirror-b" {
		t.Fatalf("unexpected body: %s", got)
	}
	if !strings.HasPrefix(result.Read.Entry.SourceURL, healthy.URL) {
		t.Fatalf("entry must record the serving mirror, got %s", result.Read.Entry.SourceURL)
	}

	exists, err := store.Exists(context.Background(), testKey())
	if err != nil || !exists {
		t.Fatalf("entry must be durable after the fetch, exists=%v err=%v", exists, err)
	}
}

func TestGetAllSourcesNotFound(t *testing.T) {
	notFound := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer notFound.Close()
	alsoNotFound := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer alsoNotFound.Close()

	coordinator, _ := newTestCoordinator(t, Options{Retention: time.Hour}, notFound.URL, alsoNotFound.URL)

	_, err := coordinator.Get(context.Background(), testKey())
	if !errors.Is(err, ErrNotFoundUpstream) {
		t.Fatalf("expected ErrNotFoundUpstream, got %v", err)
	}
}

func TestGetMixedFailuresAreExhaustedNotMissing(t *testing.T) {
	notFound := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer notFound.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	coordinator, _ := newTestCoordinator(t, Options{Retention: time.Hour}, notFound.URL, broken.URL)

	// One mirror timing out or erroring means absence cannot be asserted.
	_, err := coordinator.Get(context.Background(), testKey())
	if !errors.Is(err, ErrUpstreamExhausted) {
		t.Fatalf("expected ErrUpstreamExhausted, got %v", err)
	}
	if errors.Is(err, ErrNotFoundUpstream) {
		t.Fatalf("mixed failures must not be reported as missing")
	}
}

func putStaleEntry(t *testing.T, store cache.Store, age time.Duration) {
	t.Helper()
	_, err := store.Put(context.Background(), testKey(), strings.NewReader("stale-bytes"), cache.PutOptions{
		SourceURL: "https://old.example/requests-2.28.1.tar.gz",
		FetchedAt: time.Now().Add(-age).UTC(),
	})
	if err != nil {
		t.Fatalf("put error: %v", err)
	}
}

func TestGetServesStaleWhenEnabled(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	coordinator, store := newTestCoordinator(t, Options{Retention: time.Hour, ServeStaleOnError: true}, broken.URL)
	putStaleEntry(t, store, 2*time.Hour)

	result, err := coordinator.Get(context.Background(), testKey())
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if !result.Stale {
		t.Fatalf("expected stale fallback to be flagged")
	}
	if got := readBody(t, result); got != "stale-bytes" {
		t.Fatalf("unexpected body: %s", got)
	}
}

func TestGetStaleFallbackDisabledByDefault(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	coordinator, store := newTestCoordinator(t, Options{Retention: time.Hour}, broken.URL)
	putStaleEntry(t, store, 2*time.Hour)

	_, err := coordinator.Get(context.Background(), testKey())
	if !errors.Is(err, ErrUpstreamExhausted) {
		t.Fatalf("expected ErrUpstreamExhausted with fallback disabled, got %v", err)
	}
}

func TestGetFreshHitSkipsNetwork(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("fresh hit must not reach upstream")
	}))
	defer upstreamSrv.Close()

	coordinator, store := newTestCoordinator(t, Options{Retention: time.Hour}, upstreamSrv.URL)
	putStaleEntry(t, store, time.Minute)

	result, err := coordinator.Get(context.Background(), testKey())
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if !result.CacheHit {
		t.Fatalf("expected cache hit")
	}
	if got := readBody(t, result); got != "stale-bytes" {
		t.Fatalf("unexpected body: %s", got)
	}
}

func TestGetUnknownEcosystemIsNotFound(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, Options{Retention: time.Hour})

	key := cache.Key{Ecosystem: "npm", Package: "left-pad", Version: "1.3.0", Variant: "left-pad-1.3.0.tgz"}
	_, err := coordinator.Get(context.Background(), key)
	if !errors.Is(err, ErrNotFoundUpstream) {
		t.Fatalf("expected ErrNotFoundUpstream for unknown ecosystem, got %v", err)
	}
}

func TestActiveReflectsInFlightFetch(t *testing.T) {
	release := make(chan struct{})
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte("slow-bytes"))
	}))
	defer upstreamSrv.Close()

	coordinator, _ := newTestCoordinator(t, Options{Retention: time.Hour}, upstreamSrv.URL)

	done := make(chan struct{})
	go func() {
		defer close(done)
		result, err := coordinator.Get(context.Background(), testKey())
		if err != nil {
			t.Errorf("get error: %v", err)
			return
		}
		result.Read.Reader.Close()
	}()

	deadline := time.After(2 * time.Second)
	for !coordinator.Active(testKey()) {
		select {
		case <-deadline:
			t.Fatalf("fetch never became active")
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(release)
	<-done
	if coordinator.Active(testKey()) {
		t.Fatalf("completed fetch must not stay active")
	}
}
