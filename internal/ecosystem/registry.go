package ecosystem

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var globalRegistry = newRegistry()

type registry struct {
	mu      sync.RWMutex
	modules map[string]Metadata
}

func newRegistry() *registry {
	return &registry{modules: make(map[string]Metadata)}
}

// Register 将生态元数据加入全局注册表，重复键会返回错误。
func Register(meta Metadata) error {
	return globalRegistry.register(meta)
}

// MustRegister 在注册失败时 panic，适合生态包 init() 中调用。
func MustRegister(meta Metadata) {
	if err := Register(meta); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的生态元数据。
func Resolve(key string) (Metadata, bool) {
	return globalRegistry.resolve(key)
}

// List 返回按键排序的生态元数据列表。
func List() []Metadata {
	return globalRegistry.list()
}

// Keys 返回所有已注册生态的键值，供配置报错与诊断使用。
func Keys() []string {
	items := List()
	result := make([]string, len(items))
	for i, meta := range items {
		result[i] = meta.Key
	}
	return result
}

func (r *registry) normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *registry) register(meta Metadata) error {
	key := r.normalizeKey(meta.Key)
	if key == "" {
		return fmt.Errorf("ecosystem key is required")
	}
	if meta.ParsePath == nil || meta.UpstreamPath == nil {
		return fmt.Errorf("ecosystem %s must provide ParsePath and UpstreamPath", key)
	}
	meta.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[key]; exists {
		return fmt.Errorf("ecosystem %s already registered", key)
	}
	r.modules[key] = meta
	return nil
}

func (r *registry) resolve(key string) (Metadata, bool) {
	if key == "" {
		return Metadata{}, false
	}
	normalized := r.normalizeKey(key)

	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.modules[normalized]
	return meta, ok
}

func (r *registry) list() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.modules) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.modules))
	for key := range r.modules {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Metadata, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.modules[key])
	}
	return result
}
