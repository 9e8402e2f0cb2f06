package upstream

import (
	"sort"
	"sync"
	"time"
)

// emaWeight 控制新样本在滚动平均中的权重。
const emaWeight = 0.3

// health 是单个上游的响应性估计快照。
type health struct {
	// rtt 是指数滑动平均后的往返时延，0 表示还没有样本（冷启动）。
	rtt time.Duration
	// lastFailure 记录最近一次失败时刻，在冷却期内该上游排在所有健康上游之后。
	lastFailure time.Time
}

// Prober 被动收集每次真实回源的结果，维护各上游的时延估计，
// 并据此对 Registry 的配置顺序做动态重排。没有独立心跳。
type Prober struct {
	registry *Registry
	cooldown time.Duration
	now      func() time.Time

	mu    sync.Mutex
	stats map[string]health
}

// NewProber 构造 Prober；cooldown 是失败上游被降级的时长。
func NewProber(registry *Registry, cooldown time.Duration) *Prober {
	return &Prober{
		registry: registry,
		cooldown: cooldown,
		now:      time.Now,
		stats:    make(map[string]health),
	}
}

// Report 记录一次真实回源的结果。失败（超时、连接错误、5xx）触发冷却降级；
// 成功样本按指数滑动平均并入时延估计。
func (p *Prober) Report(source Source, rtt time.Duration, failed bool) {
	name := source.Name()
	if name == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	h := p.stats[name]
	if failed {
		h.lastFailure = p.now()
	} else {
		if h.rtt == 0 {
			h.rtt = rtt
		} else {
			h.rtt = time.Duration(float64(h.rtt)*(1-emaWeight) + float64(rtt)*emaWeight)
		}
		h.lastFailure = time.Time{}
	}
	p.stats[name] = h
}

// Ranked 返回指定生态的上游列表，按最近观测到的响应性从好到坏排序。
func (p *Prober) Ranked(ecosystem string) []Source {
	sources := p.registry.SourcesFor(ecosystem)
	if len(sources) <= 1 {
		return sources
	}
	return rank(sources, p.snapshot(), p.cooldown, p.now())
}

// Snapshot 输出当前健康估计，供诊断端展示。
func (p *Prober) Snapshot() map[string]Health {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := make(map[string]Health, len(p.stats))
	for name, h := range p.stats {
		result[name] = Health{
			RTT:         h.rtt,
			LastFailure: h.lastFailure,
		}
	}
	return result
}

// Health 是对外暴露的健康估计只读视图。
type Health struct {
	RTT         time.Duration `json:"rtt_ms"`
	LastFailure time.Time     `json:"last_failure,omitempty"`
}

func (p *Prober) snapshot() map[string]health {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := make(map[string]health, len(p.stats))
	for name, h := range p.stats {
		result[name] = h
	}
	return result
}

// rank 是纯排序函数：冷却期内失败过的上游排在所有健康上游之后；
// 健康上游按时延估计升序；无样本或估计相同时保持配置优先级（稳定排序）。
func rank(sources []Source, stats map[string]health, cooldown time.Duration, now time.Time) []Source {
	ranked := make([]Source, len(sources))
	copy(ranked, sources)

	demoted := func(s Source) bool {
		h, ok := stats[s.Name()]
		if !ok || h.lastFailure.IsZero() {
			return false
		}
		return now.Sub(h.lastFailure) < cooldown
	}
	estimate := func(s Source) time.Duration {
		return stats[s.Name()].rtt
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		di, dj := demoted(ranked[i]), demoted(ranked[j])
		if di != dj {
			return !di
		}
		ri, rj := estimate(ranked[i]), estimate(ranked[j])
		if ri == 0 || rj == 0 || ri == rj {
			// 冷启动或估计相同：回落到配置优先级。
			return false
		}
		return ri < rj
	})

	return ranked
}
