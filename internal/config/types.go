package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，所有生态共享同一份参数。
type GlobalConfig struct {
	ListenPort        int      `mapstructure:"ListenPort"`
	LogLevel          string   `mapstructure:"LogLevel"`
	LogFilePath       string   `mapstructure:"LogFilePath"`
	LogMaxSize        int      `mapstructure:"LogMaxSize"`
	LogMaxBackups     int      `mapstructure:"LogMaxBackups"`
	LogCompress       bool     `mapstructure:"LogCompress"`
	StoragePath       string   `mapstructure:"StoragePath"`
	MaxCacheSize      int64    `mapstructure:"MaxCacheSize"`
	Retention         Duration `mapstructure:"Retention"`
	SweepInterval     Duration `mapstructure:"SweepInterval"`
	UpstreamTimeout   Duration `mapstructure:"UpstreamTimeout"`
	ProbeCooldown     Duration `mapstructure:"ProbeCooldown"`
	ServeStaleOnError bool     `mapstructure:"ServeStaleOnError"`
}

// SourceConfig 决定单个上游镜像如何被访问，加载后不再修改。
type SourceConfig struct {
	Ecosystem string `mapstructure:"Ecosystem"`
	URL       string `mapstructure:"URL"`
	Proxy     string `mapstructure:"Proxy"`
	Priority  int    `mapstructure:"Priority"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig   `mapstructure:",squash"`
	Sources []SourceConfig `mapstructure:"Source"`
}

// Ecosystems 返回配置中出现过的生态键列表，按首次出现顺序去重。
func (c *Config) Ecosystems() []string {
	seen := map[string]struct{}{}
	var result []string
	for _, src := range c.Sources {
		key := strings.ToLower(strings.TrimSpace(src.Ecosystem))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, key)
	}
	return result
}

// SourceSummaries 返回所有上游的摘要，例如 pypi:https://pypi.org/simple/，供日志字段使用。
func SourceSummaries(sources []SourceConfig) []string {
	if len(sources) == 0 {
		return nil
	}
	result := make([]string, len(sources))
	for i, src := range sources {
		result[i] = fmt.Sprintf("%s:%s", src.Ecosystem, src.URL)
	}
	return result
}
