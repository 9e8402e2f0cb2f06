package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dephost/dephost/internal/cache"
	"github.com/dephost/dephost/internal/ecosystem"
	"github.com/dephost/dephost/internal/upstream"
)

// Options 控制 Coordinator 的时效与回退行为。
type Options struct {
	// Retention 内的缓存条目视为新鲜，命中后不触网。
	Retention time.Duration
	// ServeStaleOnError 开启后，所有上游瞬态失败时允许返回过期缓存副本。
	ServeStaleOnError bool
}

// Result 组合一次 Get 的正文流与命中信息。
type Result struct {
	Read *cache.ReadResult
	// CacheHit 表示正文直接来自新鲜缓存，本次未触网。
	CacheHit bool
	// Stale 表示正文是上游全部失败后回退的过期副本。
	Stale bool
}

// Coordinator 编排"缓存命中 → 单飞回源 → 落盘放行"的全流程。
// 对同一 Key 的并发请求，任意时刻至多只有一次上游回源在进行；
// 注册竞争通过 flightTable 的窄临界区完成，网络与磁盘 I/O 均在锁外。
type Coordinator struct {
	store   cache.Store
	prober  *upstream.Prober
	client  *upstream.Client
	logger  *logrus.Logger
	opts    Options
	flights *flightTable
	now     func() time.Time
}

// NewCoordinator 构造协调器，进程内复用一份实例。
func NewCoordinator(
	store cache.Store,
	prober *upstream.Prober,
	client *upstream.Client,
	logger *logrus.Logger,
	opts Options,
) *Coordinator {
	return &Coordinator{
		store:   store,
		prober:  prober,
		client:  client,
		logger:  logger,
		opts:    opts,
		flights: newFlightTable(),
		now:     time.Now,
	}
}

// Active 查询 key 是否有 in-flight 回源，供清理协程跳过正在写入的条目。
func (c *Coordinator) Active(key cache.Key) bool {
	return c.flights.active(key.String())
}

// Get 返回 key 对应的制品：新鲜缓存直接命中；否则发起或等待一次单飞回源。
// 失败时返回 ErrNotFoundUpstream / ErrUpstreamExhausted，或磁盘写入的 StorageError。
func (c *Coordinator) Get(ctx context.Context, key cache.Key) (*Result, error) {
	// 热路径：新鲜缓存直接返回，不触网。
	if result, ok := c.lookupFresh(ctx, key); ok {
		return result, nil
	}

	token := key.String()
	fl, leader := c.flights.acquire(token)

	if !leader {
		// 等待被本地 ctx 取消时，回源继续为其余 waiter 和缓存服务。
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-fl.done:
		}
		if fl.err != nil {
			return nil, fl.err
		}
		return c.open(ctx, key, fl.stale)
	}

	// leader 路径：回源与落盘使用独立 ctx，请求方断开不中断其余 waiter 的获取。
	err, stale := c.fetchOnce(key)
	c.flights.complete(token, fl, err, stale)
	if err != nil {
		return nil, err
	}
	return c.open(ctx, key, stale)
}

// lookupFresh 尝试以新鲜缓存命中；过期条目视为未命中但不删除（删除属于清理协程）。
func (c *Coordinator) lookupFresh(ctx context.Context, key cache.Key) (*Result, bool) {
	read, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"action": "cache_get",
				"key":    key.String(),
			}).Warn("cache_get_failed")
		}
		return nil, false
	}

	if read.Entry.Age(c.now()) <= c.opts.Retention {
		return &Result{Read: read, CacheHit: true}, true
	}
	read.Reader.Close()
	return nil, false
}

// fetchOnce 执行一次完整的多镜像回源。成功时条目已落盘；
// stale 为 true 表示上游全失败但过期副本可用且回退已开启。
func (c *Coordinator) fetchOnce(key cache.Key) (err error, stale bool) {
	fetchErr := c.fetchFromSources(key)
	if fetchErr == nil {
		return nil, false
	}

	if c.opts.ServeStaleOnError && errors.Is(fetchErr, ErrUpstreamExhausted) {
		exists, existsErr := c.store.Exists(context.Background(), key)
		if existsErr == nil && exists {
			c.logger.WithFields(logrus.Fields{
				"action": "fetch",
				"key":    key.String(),
			}).Warn("serving_stale_after_upstream_failure")
			return nil, true
		}
	}
	return fetchErr, false
}

// fetchFromSources 依 Prober 排序逐个尝试镜像：瞬态失败前进到下一个；
// 确定性 404 先记下、仍继续尝试其余镜像（某个镜像缺包不代表全网缺包）。
// 成功后先写缓存再返回，保证 waiter 释放时 Exists 必然为真。
func (c *Coordinator) fetchFromSources(key cache.Key) error {
	meta, ok := ecosystem.Resolve(key.Ecosystem)
	if !ok {
		return fmt.Errorf("%w: unknown ecosystem %s", ErrNotFoundUpstream, key.Ecosystem)
	}
	relPath := meta.UpstreamPath(key)

	sources := c.prober.Ranked(key.Ecosystem)
	if len(sources) == 0 {
		return fmt.Errorf("%w: no sources configured for %s", ErrUpstreamExhausted, key.Ecosystem)
	}

	notFound := 0
	var lastErr error

	for _, source := range sources {
		started := c.now()
		fetched, err := c.client.Fetch(context.Background(), source, relPath)
		rtt := time.Since(started)

		switch {
		case err == nil:
			c.prober.Report(source, rtt, false)
			return c.persist(key, source, fetched, started)

		case errors.Is(err, upstream.ErrNotFoundAtSource):
			// 404 是镜像的正常回应，不降级该镜像。
			c.prober.Report(source, rtt, false)
			notFound++

		default:
			c.prober.Report(source, rtt, true)
			lastErr = err
			c.logger.WithError(err).WithFields(logrus.Fields{
				"action": "fetch",
				"key":    key.String(),
				"source": source.Name(),
			}).Warn("fetch_attempt_failed")
		}
	}

	// 只有在没有任何瞬态失败干扰时，才能断言制品全网不存在。
	if notFound == len(sources) {
		return ErrNotFoundUpstream
	}
	return fmt.Errorf("%w: %v", ErrUpstreamExhausted, lastErr)
}

// persist 将上游正文写入缓存。写入失败立即向调用方暴露 StorageError，
// 不做内存兜底；in-flight 记录由 Get 负责清理，后续请求可以重试。
func (c *Coordinator) persist(key cache.Key, source upstream.Source, fetched *upstream.FetchResult, started time.Time) error {
	defer fetched.Body.Close()

	entry, err := c.store.Put(context.Background(), key, fetched.Body, cache.PutOptions{
		SourceURL: fetched.URL,
		FetchedAt: c.now().UTC(),
	})
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"action": "fetch",
			"key":    key.String(),
			"source": source.Name(),
		}).Error("cache_write_failed")
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"action":     "fetch",
		"key":        key.String(),
		"source":     fetched.URL,
		"size_bytes": entry.SizeBytes,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}).Info("fetch_complete")
	return nil
}

// open 在回源完成后重新从 Store 打开条目；此时条目必然可见。
func (c *Coordinator) open(ctx context.Context, key cache.Key, stale bool) (*Result, error) {
	read, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return &Result{Read: read, Stale: stale}, nil
}
