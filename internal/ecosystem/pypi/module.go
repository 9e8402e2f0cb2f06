// Package pypi 聚焦 PyPI simple index 与分发包的路径约定。
package pypi

import (
	"strings"

	"github.com/dephost/dephost/internal/cache"
	"github.com/dephost/dephost/internal/ecosystem"
)

const indexVariant = "index.html"

func init() {
	ecosystem.MustRegister(ecosystem.Metadata{
		Key:          "pypi",
		Description:  "PyPI simple index and package files",
		ParsePath:    parsePath,
		UpstreamPath: upstreamPath,
		ContentType:  contentType,
	})
}

// parsePath 识别两类请求：
//
//	/simple/<name>/                      → 包索引页
//	/packages/<name>/<version>/<file>    → 具体分发文件
func parsePath(requestPath string) (cache.Key, bool) {
	segments := splitPath(requestPath)

	switch {
	case len(segments) == 2 && segments[0] == "simple":
		name := NormalizeName(segments[1])
		if name == "" {
			return cache.Key{}, false
		}
		return cache.Key{
			Ecosystem: "pypi",
			Package:   name,
			Version:   cache.VersionIndex,
			Variant:   indexVariant,
		}, true

	case len(segments) == 4 && segments[0] == "packages":
		name := NormalizeName(segments[1])
		version := segments[2]
		filename := NormalizeFilename(segments[3])
		if name == "" || version == "" || filename == "" {
			return cache.Key{}, false
		}
		return cache.Key{
			Ecosystem: "pypi",
			Package:   name,
			Version:   version,
			Variant:   filename,
		}, true
	}

	return cache.Key{}, false
}

func upstreamPath(key cache.Key) string {
	if key.Version == cache.VersionIndex {
		return "simple/" + key.Package + "/"
	}
	return "packages/" + key.Package + "/" + key.Version + "/" + key.Variant
}

func contentType(variant string) string {
	switch {
	case variant == indexVariant:
		return "text/html"
	case strings.HasSuffix(variant, ".whl"), strings.HasSuffix(variant, ".egg"):
		return "application/octet-stream"
	case strings.HasSuffix(variant, ".zip"):
		return "application/zip"
	case strings.HasSuffix(variant, ".tar.gz"), strings.HasSuffix(variant, ".tar.bz2"):
		return "application/x-tar"
	}
	return ""
}

// NormalizeName 标准化包名：小写并将下划线/空格折叠为连字符（PEP 503）。
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "_", "-")
	name = strings.ReplaceAll(name, " ", "-")
	return name
}

// NormalizeFilename 标准化文件名：仅替换扩展名之前部分的下划线，
// 保证 requests_2.28.1.tar.gz 与 requests-2.28.1.tar.gz 指向同一条目。
func NormalizeFilename(filename string) string {
	parts := strings.SplitN(filename, ".", 2)
	if len(parts) == 2 {
		return strings.ReplaceAll(parts[0], "_", "-") + "." + parts[1]
	}
	return strings.ReplaceAll(filename, "_", "-")
}

func splitPath(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
