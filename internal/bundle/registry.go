package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"barn/internal/logger"

	"github.com/fsnotify/fsnotify"
)

// Registry 是 bundle 注册表服务对象：内存映射 + 原子持久化
// （写临时文件再 rename）。所有读写都经过它，不存在散落的文件编辑。
type Registry struct {
	path string

	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry 加载（或初始化）注册表文件。
func NewRegistry(path string) (*Registry, error) {
	if path == "" {
		return nil, fmt.Errorf("registry 路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	r := &Registry{path: path, entries: make(map[string]Entry)}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) reload() error {
	raw, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("读取 registry 失败: %w", err)
	}
	entries := make(map[string]Entry)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return fmt.Errorf("解析 registry 失败 (%s): %w", r.path, err)
		}
	}
	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
	return nil
}

// persist 假定调用方已持有写锁。
func (r *Registry) persist() error {
	raw, err := json.MarshalIndent(r.entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

// Upsert 写入或更新一条记录并立即持久化。
func (r *Registry) Upsert(name string, entry Entry) error {
	if name == "" {
		return fmt.Errorf("bundle 名称不能为空")
	}
	if entry.RegisteredAt == 0 {
		entry.RegisteredAt = time.Now().UnixMilli()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = entry
	return r.persist()
}

// Get 查询一条记录。
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Names 返回注册的 bundle 名（排序后）。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Watch 监听注册表文件变更并重载，常驻的前置检查服务借此看到
// 其他进程的重新摄取结果。ctx 取消后退出。
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return err
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != filepath.Clean(r.path) {
					continue
				}
				if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
					continue
				}
				if err := r.reload(); err != nil {
					logger.Errorf("registry 重载失败: %v", err)
					continue
				}
				logger.Debugf("registry 已重载 (%s)", filepath.Base(r.path))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warnf("registry watcher 错误: %v", err)
			}
		}
	}()
	return nil
}
