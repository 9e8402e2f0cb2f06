package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/dephost/dephost/internal/ecosystem"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.MaxCacheSize <= 0 {
		return newFieldError("Global.MaxCacheSize", "必须大于 0")
	}
	if g.Retention.DurationValue() <= 0 {
		return newFieldError("Global.Retention", "必须大于 0")
	}
	if g.SweepInterval.DurationValue() <= 0 {
		return newFieldError("Global.SweepInterval", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.ProbeCooldown.DurationValue() <= 0 {
		return newFieldError("Global.ProbeCooldown", "必须大于 0")
	}

	if len(c.Sources) == 0 {
		return errors.New("至少需要配置一个 Source")
	}

	seenURLs := map[string]struct{}{}
	for i := range c.Sources {
		src := &c.Sources[i]
		if src.Ecosystem == "" {
			return newFieldError(sourceField("", "Ecosystem"), "不能为空")
		}
		if _, ok := ecosystem.Resolve(src.Ecosystem); !ok {
			return newFieldError(
				sourceField(src.URL, "Ecosystem"),
				fmt.Sprintf("未注册生态: %s（支持 %s）", src.Ecosystem, strings.Join(ecosystem.Keys(), "|")),
			)
		}

		if err := validateUpstream(src.URL); err != nil {
			return fmt.Errorf("%s: %w", sourceField(src.URL, "URL"), err)
		}
		dedupeKey := src.Ecosystem + "::" + src.URL
		if _, exists := seenURLs[dedupeKey]; exists {
			return newFieldError(sourceField(src.URL, "URL"), "重复")
		}
		seenURLs[dedupeKey] = struct{}{}

		if src.Proxy != "" {
			if err := validateUpstream(src.Proxy); err != nil {
				return fmt.Errorf("%s: %w", sourceField(src.URL, "Proxy"), err)
			}
		}
		if src.Priority < 0 {
			return newFieldError(sourceField(src.URL, "Priority"), "不能为负数")
		}
	}

	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("URL 非法: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("仅支持 http/https")
	}
	if parsed.Host == "" {
		return errors.New("缺少主机名")
	}
	return nil
}
