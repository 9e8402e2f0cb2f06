package cache

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// ActiveFunc 查询某个 Key 当前是否存在 in-flight 回源，清理时跳过这些条目，
// 避免刚写入/正在写入的字节被立刻回收。
type ActiveFunc func(Key) bool

// SweeperOptions 描述一次清理的边界条件。
type SweeperOptions struct {
	// Retention 是条目自 fetchedAt 起的最长存活时间。
	Retention time.Duration
	// MaxBytes 是缓存目录的总容量预算，超出部分按 LRU 回收。
	MaxBytes int64
	// Interval 是 Run 循环的触发周期。
	Interval time.Duration
}

// Sweeper 周期性扫描缓存目录：先淘汰过期条目，再按最久未访问裁剪到容量预算内。
// 单条删除失败只记日志，不中断整轮清理。
type Sweeper struct {
	store  Store
	active ActiveFunc
	logger *logrus.Logger
	opts   SweeperOptions
	now    func() time.Time
}

// NewSweeper 构造清理器；active 为空时视为没有任何 in-flight 条目。
func NewSweeper(store Store, active ActiveFunc, logger *logrus.Logger, opts SweeperOptions) *Sweeper {
	if active == nil {
		active = func(Key) bool { return false }
	}
	return &Sweeper{
		store:  store,
		active: active,
		logger: logger,
		opts:   opts,
		now:    time.Now,
	}
}

// Run 按固定间隔触发 Sweep，直到 ctx 取消。独立于请求流量运行。
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep 执行一轮完整清理并返回删除的条目数。
func (s *Sweeper) Sweep(ctx context.Context) int {
	started := s.now()

	entries, err := s.store.List(ctx)
	if err != nil {
		s.logger.WithError(err).WithField("action", "sweep").Warn("sweep_list_failed")
		return 0
	}

	removed := 0
	var kept []Entry
	cutoff := started.Add(-s.opts.Retention)

	for _, entry := range entries {
		if entry.FetchedAt.After(cutoff) || s.active(entry.Key) {
			kept = append(kept, entry)
			continue
		}
		if s.removeEntry(ctx, entry, "expired") {
			removed++
		} else {
			kept = append(kept, entry)
		}
	}

	removed += s.trimToBudget(ctx, kept)

	s.logger.WithFields(logrus.Fields{
		"action":     "sweep",
		"scanned":    len(entries),
		"removed":    removed,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}).Info("sweep_complete")

	return removed
}

// trimToBudget 按 lastAccessedAt 从旧到新删除，直到总量落回预算内。
func (s *Sweeper) trimToBudget(ctx context.Context, entries []Entry) int {
	if s.opts.MaxBytes <= 0 {
		return 0
	}

	var total int64
	for _, entry := range entries {
		total += entry.SizeBytes
	}
	if total <= s.opts.MaxBytes {
		return 0
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccessedAt.Before(entries[j].LastAccessedAt)
	})

	removed := 0
	for _, entry := range entries {
		if total <= s.opts.MaxBytes {
			break
		}
		if s.active(entry.Key) {
			continue
		}
		if s.removeEntry(ctx, entry, "over_budget") {
			total -= entry.SizeBytes
			removed++
		}
	}
	return removed
}

func (s *Sweeper) removeEntry(ctx context.Context, entry Entry, reason string) bool {
	if err := s.store.Remove(ctx, entry.Key); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"action": "sweep",
			"key":    entry.Key.String(),
			"reason": reason,
		}).Warn("sweep_remove_failed")
		return false
	}
	s.logger.WithFields(logrus.Fields{
		"action":     "sweep",
		"key":        entry.Key.String(),
		"reason":     reason,
		"size_bytes": entry.SizeBytes,
	}).Debug("sweep_removed")
	return true
}
