package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const metaSuffix = ".meta"

// NewStore 以 basePath 为根目录构建磁盘缓存，整个进程复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
		now:      time.Now,
	}, nil
}

// fileStore 通过 entryLock 避免同一 Key 的并发写入/删除互相踩踏，同时复用 basePath。
type fileStore struct {
	basePath string
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// metaRecord 是 sidecar 文件的持久化形式，Key 字段随记录一起落盘，
// 方便 List 在遍历时直接还原 Entry。
type metaRecord struct {
	Ecosystem      string    `json:"ecosystem"`
	Package        string    `json:"package"`
	Version        string    `json:"version"`
	Variant        string    `json:"variant"`
	SizeBytes      int64     `json:"size_bytes"`
	FetchedAt      time.Time `json:"fetched_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	SourceURL      string    `json:"source_url"`
	ContentHash    string    `json:"content_hash,omitempty"`
}

func (s *fileStore) Exists(ctx context.Context, key Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	filePath, err := s.entryPath(key)
	if err != nil {
		return false, err
	}

	// 正文与 sidecar 同时存在才算完整提交。
	if _, err := os.Stat(filePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, storageErr("stat", err)
	}
	if _, err := os.Stat(filePath + metaSuffix); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, storageErr("stat", err)
	}
	return true, nil
}

func (s *fileStore) Get(ctx context.Context, key Key) (*ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := s.entryPath(key)
	if err != nil {
		return nil, err
	}

	meta, err := s.readMeta(filePath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, storageErr("stat", err)
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, storageErr("open", err)
	}

	// 命中即刷新 lastAccessedAt；刷新失败不影响本次读取。
	meta.LastAccessedAt = s.now().UTC()
	_ = s.writeMeta(filePath, meta)

	entry := entryFromMeta(key, filePath, meta)
	entry.SizeBytes = info.Size()

	return &ReadResult{
		Entry:  entry,
		Reader: f,
	}, nil
}

func (s *fileStore) Put(ctx context.Context, key Key, body io.Reader, opts PutOptions) (*Entry, error) {
	unlock := s.lockEntry(key)
	defer unlock()

	filePath, err := s.entryPath(key)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, storageErr("mkdir", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".cache-*")
	if err != nil {
		return nil, storageErr("create temp", err)
	}
	tempName := tempFile.Name()

	hasher := sha256.New()
	written, err := copyWithContext(ctx, io.MultiWriter(tempFile, hasher), body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return nil, storageErr("write body", err)
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return nil, storageErr("publish", err)
	}

	fetchedAt := opts.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = s.now().UTC()
	}
	meta := metaRecord{
		Ecosystem:      key.Ecosystem,
		Package:        key.Package,
		Version:        key.Version,
		Variant:        key.Variant,
		SizeBytes:      written,
		FetchedAt:      fetchedAt,
		LastAccessedAt: fetchedAt,
		SourceURL:      opts.SourceURL,
		ContentHash:    hex.EncodeToString(hasher.Sum(nil)),
	}
	if err := s.writeMeta(filePath, meta); err != nil {
		os.Remove(filePath)
		return nil, err
	}

	entry := entryFromMeta(key, filePath, meta)
	return &entry, nil
}

func (s *fileStore) Remove(ctx context.Context, key Key) error {
	unlock := s.lockEntry(key)
	defer unlock()

	filePath, err := s.entryPath(key)
	if err != nil {
		return err
	}
	// 先删 sidecar 再删正文：中间态表现为"不完整"而非"幽灵条目"。
	if err := os.Remove(filePath + metaSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storageErr("remove meta", err)
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storageErr("remove body", err)
	}
	return nil
}

func (s *fileStore) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry

	err := filepath.WalkDir(s.basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !strings.HasSuffix(p, metaSuffix) {
			return nil
		}

		filePath := strings.TrimSuffix(p, metaSuffix)
		meta, readErr := s.readMeta(filePath)
		if readErr != nil {
			// 不完整或损坏的条目跳过，留给下次 Put 覆盖。
			return nil
		}
		key := Key{
			Ecosystem: meta.Ecosystem,
			Package:   meta.Package,
			Version:   meta.Version,
			Variant:   meta.Variant,
		}
		entries = append(entries, entryFromMeta(key, filePath, meta))
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, storageErr("list", err)
	}
	return entries, nil
}

// readMeta 读取 sidecar；正文在而 sidecar 不在视为条目不存在。
func (s *fileStore) readMeta(filePath string) (metaRecord, error) {
	raw, err := os.ReadFile(filePath + metaSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return metaRecord{}, ErrNotFound
		}
		return metaRecord{}, storageErr("read meta", err)
	}
	var meta metaRecord
	if err := json.Unmarshal(raw, &meta); err != nil {
		return metaRecord{}, storageErr("decode meta", err)
	}
	return meta, nil
}

// writeMeta 通过临时文件 + rename 更新 sidecar，保证并发读不会看到半截 JSON。
func (s *fileStore) writeMeta(filePath string, meta metaRecord) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return storageErr("encode meta", err)
	}
	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".meta-*")
	if err != nil {
		return storageErr("create temp", err)
	}
	tempName := tempFile.Name()
	_, err = tempFile.Write(raw)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return storageErr("write meta", err)
	}
	if err := os.Rename(tempName, filePath+metaSuffix); err != nil {
		os.Remove(tempName)
		return storageErr("publish meta", err)
	}
	return nil
}

func (s *fileStore) lockEntry(key Key) func() {
	token := key.String()
	s.mu.Lock()
	lock := s.locks[token]
	if lock == nil {
		lock = &entryLock{}
		s.locks[token] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, token)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) entryPath(key Key) (string, error) {
	if key.IsZero() {
		return "", errors.New("incomplete cache key")
	}

	rel := filepath.FromSlash(key.RelPath())
	filePath := filepath.Join(s.basePath, rel)
	if !strings.HasPrefix(filePath, s.basePath+string(filepath.Separator)) {
		return "", errors.New("invalid cache path")
	}
	return filePath, nil
}

func entryFromMeta(key Key, filePath string, meta metaRecord) Entry {
	return Entry{
		Key:            key,
		FilePath:       filePath,
		SizeBytes:      meta.SizeBytes,
		FetchedAt:      meta.FetchedAt,
		LastAccessedAt: meta.LastAccessedAt,
		SourceURL:      meta.SourceURL,
		ContentHash:    meta.ContentHash,
	}
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
