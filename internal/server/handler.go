package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/dephost/dephost/internal/cache"
	"github.com/dephost/dephost/internal/ecosystem"
	"github.com/dephost/dephost/internal/fetch"
	"github.com/dephost/dephost/internal/logging"
)

// ArtifactFetcher describes the component that satisfies a package request.
// It allows injecting fake coordinators during tests.
type ArtifactFetcher interface {
	Get(ctx context.Context, key cache.Key) (*fetch.Result, error)
}

// ArtifactHandler 是 HTTP 侧的薄适配层：解析请求路径为 ArtifactKey，
// 调用 Coordinator 并把结构化错误映射为协议状态码。核心本身与协议无关。
type ArtifactHandler struct {
	fetcher ArtifactFetcher
	store   cache.Store
	logger  *logrus.Logger
}

// NewArtifactHandler constructs the artifact route handler.
func NewArtifactHandler(fetcher ArtifactFetcher, store cache.Store, logger *logrus.Logger) *ArtifactHandler {
	return &ArtifactHandler{
		fetcher: fetcher,
		store:   store,
		logger:  logger,
	}
}

// Serve 处理 GET/HEAD 制品请求：/<ecosystem>/<生态内路径>。
func (h *ArtifactHandler) Serve(c fiber.Ctx) error {
	started := time.Now()
	method := c.Method()
	if method != http.MethodGet && method != http.MethodHead {
		return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{"error": "method_not_allowed"})
	}

	meta, key, ok := resolveArtifact(string(c.Request().URI().Path()))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_artifact_path"})
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := h.fetcher.Get(ctx, key)
	if err != nil {
		return h.writeError(c, key, started, err)
	}
	defer result.Read.Reader.Close()

	entry := result.Read.Entry
	if ct := resolveContentType(meta, key.Variant); ct != "" {
		c.Set("Content-Type", ct)
	}
	if entry.SizeBytes > 0 {
		c.Response().Header.SetContentLength(int(entry.SizeBytes))
	}
	if entry.SourceURL != "" {
		c.Set("X-Dephost-Source", entry.SourceURL)
	}
	c.Set("X-Dephost-Cache-Hit", fmt.Sprintf("%t", result.CacheHit))
	if result.Stale {
		c.Set("X-Dephost-Stale", "true")
	}
	c.Status(fiber.StatusOK)

	if method == http.MethodHead {
		h.logResult(c, key, result, started, nil)
		return nil
	}

	_, copyErr := io.Copy(c.Response().BodyWriter(), result.Read.Reader)
	h.logResult(c, key, result, started, copyErr)
	if copyErr != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("read cache failed: %v", copyErr))
	}
	return nil
}

// Invalidate 处理管理端显式失效：DELETE /-/cache/<ecosystem>/<生态内路径>。
// 删除不存在的条目同样返回成功。
func (h *ArtifactHandler) Invalidate(c fiber.Ctx) error {
	_, key, ok := resolveArtifact("/" + c.Params("*"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_artifact_path"})
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := h.store.Remove(ctx, key); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"action": "invalidate",
			"key":    key.String(),
		}).Error("invalidate_failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage_failed"})
	}

	h.logger.WithFields(logrus.Fields{
		"action": "invalidate",
		"key":    key.String(),
	}).Info("invalidate_complete")
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"removed": key.String()})
}

// writeError 将核心的结构化错误映射为少量协议状态码。
func (h *ArtifactHandler) writeError(c fiber.Ctx, key cache.Key, started time.Time, err error) error {
	status := fiber.StatusInternalServerError
	code := "internal_error"

	var storageErr *cache.StorageError
	switch {
	case errors.Is(err, fetch.ErrNotFoundUpstream), errors.Is(err, cache.ErrNotFound):
		status = fiber.StatusNotFound
		code = "not_found"
	case errors.Is(err, fetch.ErrUpstreamExhausted):
		status = fiber.StatusBadGateway
		code = "upstream_failed"
	case errors.As(err, &storageErr):
		status = fiber.StatusInternalServerError
		code = "storage_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = fiber.StatusRequestTimeout
		code = "request_cancelled"
	}

	fields := logging.RequestFields(key.Ecosystem, key.String(), false)
	fields["action"] = "artifact"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if reqID := RequestID(c); reqID != "" {
		fields["request_id"] = reqID
	}
	h.logger.WithError(err).WithFields(fields).Warn("artifact_failed")

	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *ArtifactHandler) logResult(c fiber.Ctx, key cache.Key, result *fetch.Result, started time.Time, err error) {
	fields := logging.RequestFields(key.Ecosystem, key.String(), result.CacheHit)
	fields["action"] = "artifact"
	fields["stale"] = result.Stale
	fields["size_bytes"] = result.Read.Entry.SizeBytes
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if reqID := RequestID(c); reqID != "" {
		fields["request_id"] = reqID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("artifact_stream_failed")
		return
	}
	h.logger.WithFields(fields).Info("artifact_complete")
}

// resolveArtifact 拆出首段作为生态键，剩余部分交给生态模块解析。
func resolveArtifact(requestPath string) (ecosystem.Metadata, cache.Key, bool) {
	trimmed := strings.TrimPrefix(requestPath, "/")
	eco, rest, _ := strings.Cut(trimmed, "/")
	if eco == "" || rest == "" {
		return ecosystem.Metadata{}, cache.Key{}, false
	}

	meta, ok := ecosystem.Resolve(eco)
	if !ok {
		return ecosystem.Metadata{}, cache.Key{}, false
	}

	key, ok := meta.ParsePath("/" + rest)
	if !ok || key.IsZero() {
		return ecosystem.Metadata{}, cache.Key{}, false
	}
	return meta, key, true
}

func resolveContentType(meta ecosystem.Metadata, variant string) string {
	if meta.ContentType == nil {
		return ""
	}
	return meta.ContentType(variant)
}
