package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/dephost/dephost/internal/config"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// ErrNotFoundAtSource 表示该上游明确回应制品不存在（404/410）。
// 与超时/5xx 等瞬态失败不同，它不会触发冷却降级。
var ErrNotFoundAtSource = errors.New("artifact not found at source")

// FetchResult 携带一次成功回源的正文流与来源信息。
type FetchResult struct {
	// Body 由调用方负责 Close。
	Body io.ReadCloser
	// URL 是实际命中的完整上游地址。
	URL string
	// ModTime 取自 Last-Modified，缺失时为零值。
	ModTime time.Time
}

// Client 对单个上游执行一次带超时的 GET，按 Source 的代理配置路由请求。
// 重试与多镜像轮转属于 fetch.Coordinator 的职责，这里只做单次尝试。
type Client struct {
	client *http.Client
}

// NewClient 返回共享 http.Client 的回源客户端，超时取全局配置。
func NewClient(cfg *config.Config) *Client {
	timeout := 30 * time.Second
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.Global.UpstreamTimeout.DurationValue()
	}

	return &Client{
		client: &http.Client{
			Timeout:   timeout,
			Transport: defaultTransport.Clone(),
		},
	}
}

// Fetch 向 source 请求 relPath 指向的制品。
// 返回 ErrNotFoundAtSource 表示确定性不存在；其余错误一律视为瞬态失败。
func (c *Client) Fetch(ctx context.Context, source Source, relPath string) (*FetchResult, error) {
	target := source.Resolve(relPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "dephost")

	resp, err := c.do(req, source)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return &FetchResult{
			Body:    resp.Body,
			URL:     target.String(),
			ModTime: extractModTime(resp.Header),
		}, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		drainAndClose(resp.Body)
		return nil, ErrNotFoundAtSource
	default:
		drainAndClose(resp.Body)
		return nil, fmt.Errorf("fetch %s: unexpected status %d", target, resp.StatusCode)
	}
}

// do 在 Source 配置了专属代理时克隆 Transport 并改写 Proxy，否则直接复用共享 client。
func (c *Client) do(req *http.Request, source Source) (*http.Response, error) {
	if source.ProxyURL == nil {
		return c.client.Do(req)
	}
	transport := http.Transport{}
	if base, ok := c.client.Transport.(*http.Transport); ok && base != nil {
		transport = *base.Clone()
	}
	transport.Proxy = http.ProxyURL(source.ProxyURL)
	client := *c.client
	client.Transport = &transport
	return client.Do(req)
}

func extractModTime(header http.Header) time.Time {
	if last := header.Get("Last-Modified"); last != "" {
		if parsed, err := http.ParseTime(last); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

// drainAndClose 读空残余正文以便连接复用。
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4*1024))
	body.Close()
}
