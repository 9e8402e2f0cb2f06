package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/<ecosystem>/<package>/<version>/<variant>       # 实际正文
//	<StoragePath>/<ecosystem>/<package>/<version>/<variant>.meta  # 元数据 sidecar
//
// 正文通过临时文件 + rename 原子落盘，sidecar 在 rename 成功后写入，
// 因此读取方要么看到完整条目，要么什么都看不到。
type Store interface {
	// Exists 仅当完整提交的条目存在时返回 true。
	Exists(ctx context.Context, key Key) (bool, error)

	// Get 返回一个可流式读取的缓存条目并刷新 lastAccessedAt。
	// 若不存在则返回 ErrNotFound。
	Get(ctx context.Context, key Key) (*ReadResult, error)

	// Put 将上游响应写入缓存，并产出新的 Entry 描述。实现需通过临时文件 + rename
	// 保证写入原子性，并在失败时清理临时文件。
	Put(ctx context.Context, key Key, body io.Reader, opts PutOptions) (*Entry, error)

	// Remove 删除正文与 sidecar；删除不存在的条目不算错误。
	Remove(ctx context.Context, key Key) error

	// List 枚举所有完整条目的元数据快照，供清理协程做容量/时效核算。
	// 快照允许与并发写入存在轻微偏差。
	List(ctx context.Context) ([]Entry, error)
}

// PutOptions 记录写入时随条目持久化的来源信息。
type PutOptions struct {
	SourceURL string
	FetchedAt time.Time
}

// Entry 表示一条已提交的缓存记录及其 sidecar 元数据。
type Entry struct {
	Key            Key       `json:"-"`
	FilePath       string    `json:"-"`
	SizeBytes      int64     `json:"size_bytes"`
	FetchedAt      time.Time `json:"fetched_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	SourceURL      string    `json:"source_url"`
	ContentHash    string    `json:"content_hash,omitempty"`
}

// Age 返回条目距离上次成功回源的时长。
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// ReadResult 组合 Entry 与正文 Reader，便于适配层直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// StorageError 包装本地磁盘故障；调用方据此与"上游不存在"区分开。
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
