package ecosystem

import "github.com/dephost/dephost/internal/cache"

// ParsePathFunc 将客户端请求路径（去掉生态前缀后）解析为 ArtifactKey。
// 无法识别的路径返回 ok = false，由路由层转为 404。
type ParsePathFunc func(requestPath string) (cache.Key, bool)

// UpstreamPathFunc 根据 Key 还原相对上游 BaseURL 的请求路径。
type UpstreamPathFunc func(key cache.Key) string

// ContentTypeFunc 根据文件变体推断响应 Content-Type，返回空串表示未知。
type ContentTypeFunc func(variant string) string

// Metadata 记录一个生态模块的静态信息，供配置校验、路由与诊断端使用。
type Metadata struct {
	Key          string
	Description  string
	ParsePath    ParsePathFunc
	UpstreamPath UpstreamPathFunc
	ContentType  ContentTypeFunc
}
