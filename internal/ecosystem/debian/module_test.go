package debian

import (
	"testing"

	"github.com/dephost/dephost/internal/cache"
)

func TestParsePathDistsIndex(t *testing.T) {
	key, ok := parsePath("/dists/jammy/main/binary-amd64/Packages.gz")
	if !ok {
		t.Fatalf("expected dists path to parse")
	}
	if key.Package != "jammy" || key.Version != cache.VersionIndex {
		t.Fatalf("unexpected key: %+v", key)
	}
	if key.Variant != "dists/jammy/main/binary-amd64/Packages.gz" {
		t.Fatalf("variant should keep the full relative path, got %s", key.Variant)
	}
}

func TestParsePathPoolPackage(t *testing.T) {
	key, ok := parsePath("/pool/main/n/nginx/nginx_1.18.0-0ubuntu1_amd64.deb")
	if !ok {
		t.Fatalf("expected pool path to parse")
	}
	if key.Package != "nginx" {
		t.Fatalf("unexpected package: %s", key.Package)
	}
	if key.Version != "1.18.0-0ubuntu1" {
		t.Fatalf("unexpected version: %s", key.Version)
	}
}

func TestParsePathRejectsShortPaths(t *testing.T) {
	for _, p := range []string{"/", "/dists", "/pool/main/n", "/other/thing"} {
		if _, ok := parsePath(p); ok {
			t.Fatalf("expected %s to be rejected", p)
		}
	}
}

func TestUpstreamPathKeepsOriginalLayout(t *testing.T) {
	key, _ := parsePath("/pool/main/n/nginx/nginx_1.18.0-0ubuntu1_amd64.deb")
	if got := upstreamPath(key); got != "pool/main/n/nginx/nginx_1.18.0-0ubuntu1_amd64.deb" {
		t.Fatalf("unexpected upstream path: %s", got)
	}
}

func TestContentType(t *testing.T) {
	if got := contentType("pool/main/n/nginx/nginx_1.18.0_amd64.deb"); got != "application/vnd.debian.binary-package" {
		t.Fatalf("unexpected content type for deb: %s", got)
	}
	if got := contentType("dists/jammy/InRelease"); got != "text/plain" {
		t.Fatalf("unexpected content type for InRelease: %s", got)
	}
	if got := contentType("dists/jammy/main/binary-amd64/Packages.gz"); got != "application/gzip" {
		t.Fatalf("unexpected content type for Packages.gz: %s", got)
	}
}
