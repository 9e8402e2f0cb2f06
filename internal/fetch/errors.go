package fetch

import "errors"

var (
	// ErrNotFoundUpstream 表示所有配置的上游都明确回应制品不存在，
	// 由路由层映射为 404。
	ErrNotFoundUpstream = errors.New("artifact not found at any upstream")

	// ErrUpstreamExhausted 表示所有上游在瞬态失败中耗尽（超时、5xx、连接错误），
	// 由路由层映射为 502/504；开启 stale 回退时可能被缓存副本吸收。
	ErrUpstreamExhausted = errors.New("all upstream sources failed")
)
