package upstream

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/dephost/dephost/internal/config"
)

// Source 描述一个已解析完成的上游镜像，加载后只读。
type Source struct {
	Ecosystem string
	BaseURL   *url.URL
	ProxyURL  *url.URL
	Priority  int
}

// Name 返回便于日志输出的镜像标识。
func (s Source) Name() string {
	if s.BaseURL == nil {
		return ""
	}
	return s.BaseURL.String()
}

// Resolve 将相对路径拼接到 BaseURL 上，得到最终回源地址。
func (s Source) Resolve(relPath string) *url.URL {
	relative := &url.URL{Path: relPath}
	return s.BaseURL.ResolveReference(relative)
}

// Registry 持有按生态分组、按优先级排序的上游列表。纯查询，无任何网络行为。
type Registry struct {
	sources map[string][]Source
}

// NewRegistry 在启动阶段解析配置中的全部上游；任何 URL 解析失败都会阻止启动。
func NewRegistry(configs []config.SourceConfig) (*Registry, error) {
	registry := &Registry{sources: make(map[string][]Source)}

	for i, sc := range configs {
		baseURL, err := url.Parse(sc.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid source url %s: %w", sc.URL, err)
		}
		// 统一以 "/" 结尾，保证 ResolveReference 拼接相对路径时不丢最后一段。
		if !strings.HasSuffix(baseURL.Path, "/") {
			baseURL.Path += "/"
		}

		var proxyURL *url.URL
		if sc.Proxy != "" {
			proxyURL, err = url.Parse(sc.Proxy)
			if err != nil {
				return nil, fmt.Errorf("invalid proxy url for source %s: %w", sc.URL, err)
			}
		}

		priority := sc.Priority
		if priority == 0 {
			priority = i + 1
		}

		eco := strings.ToLower(strings.TrimSpace(sc.Ecosystem))
		registry.sources[eco] = append(registry.sources[eco], Source{
			Ecosystem: eco,
			BaseURL:   baseURL,
			ProxyURL:  proxyURL,
			Priority:  priority,
		})
	}

	for eco := range registry.sources {
		list := registry.sources[eco]
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Priority < list[j].Priority
		})
	}

	return registry, nil
}

// SourcesFor 返回指定生态配置顺序（优先级）下的上游副本。
func (r *Registry) SourcesFor(ecosystem string) []Source {
	list := r.sources[strings.ToLower(strings.TrimSpace(ecosystem))]
	if len(list) == 0 {
		return nil
	}
	result := make([]Source, len(list))
	copy(result, list)
	return result
}

// Ecosystems 返回注册表中出现过的生态键，按字典序排列。
func (r *Registry) Ecosystems() []string {
	keys := make([]string, 0, len(r.sources))
	for eco := range r.sources {
		keys = append(keys, eco)
	}
	sort.Strings(keys)
	return keys
}
