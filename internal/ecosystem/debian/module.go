// Package debian registers path conventions for Debian/Ubuntu APT mirrors.
package debian

import (
	"strings"

	"github.com/dephost/dephost/internal/cache"
	"github.com/dephost/dephost/internal/ecosystem"
)

func init() {
	ecosystem.MustRegister(ecosystem.Metadata{
		Key:          "ubuntu",
		Description:  "Ubuntu/Debian APT dists indexes and pool packages",
		ParsePath:    parsePath,
		UpstreamPath: upstreamPath,
		ContentType:  contentType,
	})
}

// parsePath 识别 APT 仓库的两类路径：
//
//	dists/<suite>/...                          → 索引文件（Release、Packages.gz 等）
//	pool/<component>/<prefix>/<pkg>/<file>.deb → 包体
//
// Variant 保留完整的上游相对路径，落盘时展开为子目录，回源时原样拼接。
func parsePath(requestPath string) (cache.Key, bool) {
	segments := splitPath(requestPath)
	if len(segments) < 2 {
		return cache.Key{}, false
	}
	rel := strings.Join(segments, "/")

	switch segments[0] {
	case "dists":
		return cache.Key{
			Ecosystem: "ubuntu",
			Package:   segments[1],
			Version:   cache.VersionIndex,
			Variant:   rel,
		}, true

	case "pool":
		if len(segments) < 5 {
			return cache.Key{}, false
		}
		pkg := segments[len(segments)-2]
		file := segments[len(segments)-1]
		return cache.Key{
			Ecosystem: "ubuntu",
			Package:   pkg,
			Version:   packageVersion(file),
			Variant:   rel,
		}, true
	}

	return cache.Key{}, false
}

func upstreamPath(key cache.Key) string {
	return key.Variant
}

func contentType(variant string) string {
	switch {
	case strings.HasSuffix(variant, ".deb"), strings.HasSuffix(variant, ".ddeb"):
		return "application/vnd.debian.binary-package"
	case strings.HasSuffix(variant, ".gz"):
		return "application/gzip"
	case strings.HasSuffix(variant, ".xz"):
		return "application/x-xz"
	case strings.HasSuffix(variant, "Release"), strings.HasSuffix(variant, "InRelease"):
		return "text/plain"
	case strings.HasSuffix(variant, "Packages"), strings.HasSuffix(variant, "Sources"):
		return "text/plain"
	}
	return ""
}

// packageVersion 从 deb 文件名 <name>_<version>_<arch>.deb 中取版本段，
// 解析不出来时落到 "unknown"，仅影响磁盘分组，不影响回源。
func packageVersion(file string) string {
	parts := strings.Split(file, "_")
	if len(parts) >= 2 && parts[1] != "" {
		return parts[1]
	}
	return "unknown"
}

func splitPath(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
