package server

import (
	"context"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/dephost/dephost/internal/cache"
	"github.com/dephost/dephost/internal/ecosystem"
	"github.com/dephost/dephost/internal/upstream"
	"github.com/dephost/dephost/internal/version"
)

// StatusHandler 暴露 /-/ 下的诊断端点：存活探测与运行状态摘要。
type StatusHandler struct {
	store  cache.Store
	prober *upstream.Prober
	logger *logrus.Logger
}

// NewStatusHandler constructs the diagnostics handler.
func NewStatusHandler(store cache.Store, prober *upstream.Prober, logger *logrus.Logger) *StatusHandler {
	return &StatusHandler{
		store:  store,
		prober: prober,
		logger: logger,
	}
}

// Healthz 仅报告进程存活，不触碰磁盘与网络。
func (s *StatusHandler) Healthz(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "version": version.Full()})
}

// Status 汇总已注册生态、上游健康估计与缓存占用。
// 缓存统计基于一次 List 快照，允许与并发写入存在轻微偏差。
func (s *StatusHandler) Status(c fiber.Ctx) error {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var totalBytes int64
	entryCount := 0
	entries, err := s.store.List(ctx)
	if err != nil {
		s.logger.WithError(err).WithField("action", "status").Warn("status_list_failed")
	} else {
		entryCount = len(entries)
		for _, entry := range entries {
			totalBytes += entry.SizeBytes
		}
	}

	return c.JSON(fiber.Map{
		"version":       version.Full(),
		"ecosystems":    ecosystem.Keys(),
		"sources":       s.prober.Snapshot(),
		"cache_entries": entryCount,
		"cache_bytes":   totalBytes,
	})
}
