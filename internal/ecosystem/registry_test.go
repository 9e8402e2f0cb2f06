package ecosystem

import (
	"testing"

	"github.com/dephost/dephost/internal/cache"
)

func testMetadata(key string) Metadata {
	return Metadata{
		Key:          key,
		Description:  "test ecosystem",
		ParsePath:    func(string) (cache.Key, bool) { return cache.Key{}, false },
		UpstreamPath: func(cache.Key) string { return "" },
	}
}

func TestRegisterAndResolve(t *testing.T) {
	r := newRegistry()
	if err := r.register(testMetadata("Test-Eco")); err != nil {
		t.Fatalf("register error: %v", err)
	}

	meta, ok := r.resolve("test-eco")
	if !ok {
		t.Fatalf("expected normalized key to resolve")
	}
	if meta.Key != "test-eco" {
		t.Fatalf("expected lowercase key, got %s", meta.Key)
	}

	if _, ok := r.resolve("missing"); ok {
		t.Fatalf("expected missing key to fail resolution")
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := newRegistry()
	if err := r.register(testMetadata("dup")); err != nil {
		t.Fatalf("first register error: %v", err)
	}
	if err := r.register(testMetadata("DUP")); err == nil {
		t.Fatalf("expected duplicate key to be rejected")
	}
}

func TestRegisterRequiresCallbacks(t *testing.T) {
	r := newRegistry()
	if err := r.register(Metadata{Key: "incomplete"}); err == nil {
		t.Fatalf("expected metadata without callbacks to be rejected")
	}
}

func TestListIsSorted(t *testing.T) {
	r := newRegistry()
	for _, key := range []string{"zeta", "alpha", "mid"} {
		if err := r.register(testMetadata(key)); err != nil {
			t.Fatalf("register %s error: %v", key, err)
		}
	}
	items := r.list()
	if len(items) != 3 {
		t.Fatalf("expected three entries, got %d", len(items))
	}
	if items[0].Key != "alpha" || items[2].Key != "zeta" {
		t.Fatalf("expected sorted keys, got %s..%s", items[0].Key, items[2].Key)
	}
}
