// Package session caches one retrieval session per repository version
// directory. Concurrent requests for the same directory share a single build;
// requests for different directories never wait on each other.
package session

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/repochat/repochat/internal/repoerr"
	"github.com/repochat/repochat/internal/retrieval"
)

// Cache 以版本目录的规范路径为键保存已构建的会话。
type Cache struct {
	builder retrieval.Builder
	logger  *logrus.Logger

	group singleflight.Group

	mu      sync.Mutex
	entries *lru.Cache
	keys    map[string]struct{}
	closed  bool
}

// Option 调整 Cache 行为。
type Option func(*Cache)

// WithCapacity 限制缓存的会话数，超出时淘汰最久未使用的会话；0 表示不限。
func WithCapacity(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.entries.MaxEntries = n
		}
	}
}

// WithLogger 注入日志实例。
func WithLogger(logger *logrus.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCache 返回空缓存，builder 是 Invoke 构建缺失会话时使用的默认 builder。
func NewCache(builder retrieval.Builder, opts ...Option) *Cache {
	c := &Cache{
		builder: builder,
		logger:  logrus.StandardLogger(),
		entries: lru.New(0),
		keys:    make(map[string]struct{}),
	}
	c.entries.OnEvicted = c.onEvicted
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// onEvicted 在持有 c.mu 时被 lru 回调。
func (c *Cache) onEvicted(key lru.Key, value interface{}) {
	path, _ := key.(string)
	delete(c.keys, path)
	closeSession(c.logger, path, value)
}

func closeSession(logger *logrus.Logger, path string, value interface{}) {
	closer, ok := value.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		logger.WithError(err).WithField("path", path).Warn("session_close_failed")
	}
}

func (c *Cache) lookup(path string) (retrieval.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.entries.Get(path)
	if !ok {
		return nil, false
	}
	return value.(retrieval.Session), true
}

func (c *Cache) store(path string, session retrieval.Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.entries.Add(path, session)
	c.keys[path] = struct{}{}
	return true
}

// GetOrCreate 返回 path 对应的会话，缺失时用 build（为 nil 时用缓存默认的 builder）构建并缓存。
// 同一 path 的并发调用共享一次构建；构建失败返回 SessionInitFailed 且不缓存。
// 构建在脱离调用方取消的 context 上执行，调用方放弃等待不会打断其他共享者。
func (c *Cache) GetOrCreate(ctx context.Context, path string, build retrieval.Builder) (retrieval.Session, error) {
	if session, ok := c.lookup(path); ok {
		return session, nil
	}
	if build == nil {
		build = c.builder
	}
	if build == nil {
		return nil, repoerr.New(repoerr.SessionInitFailed, "no session builder configured")
	}

	ch := c.group.DoChan(path, func() (interface{}, error) {
		if session, ok := c.lookup(path); ok {
			return session, nil
		}
		session, err := build(context.WithoutCancel(ctx), path)
		if err != nil {
			return nil, err
		}
		if session == nil {
			return nil, repoerr.New(repoerr.SessionInitFailed, "builder returned nil session")
		}
		if !c.store(path, session) {
			closeSession(c.logger, path, session)
			return nil, repoerr.New(repoerr.SessionInitFailed, "session cache closed")
		}
		c.logger.WithFields(logrus.Fields{"action": "session_build", "path": path}).Info("session ready")
		return session, nil
	})

	select {
	case <-ctx.Done():
		return nil, repoerr.Wrap(ctx.Err(), repoerr.SessionInitFailed, "wait for session")
	case res := <-ch:
		if res.Err != nil {
			if repoerr.Is(res.Err, repoerr.SessionInitFailed) {
				return nil, res.Err
			}
			return nil, repoerr.Wrapf(res.Err, repoerr.SessionInitFailed, "build session for %s", path)
		}
		return res.Val.(retrieval.Session), nil
	}
}

// Invoke 用默认 builder 获取（或构建）会话并提交查询；查询失败返回 SessionQueryFailed，不淘汰会话。
func (c *Cache) Invoke(ctx context.Context, path, query string) (retrieval.Answer, error) {
	session, err := c.GetOrCreate(ctx, path, nil)
	if err != nil {
		return retrieval.Answer{}, err
	}
	answer, err := session.Invoke(ctx, query)
	if err != nil {
		return retrieval.Answer{}, repoerr.Wrapf(err, repoerr.SessionQueryFailed, "query session for %s", path)
	}
	return answer, nil
}

// Keys 返回当前缓存的版本目录，按字典序排列。
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.keys))
	for key := range c.keys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len 返回缓存的会话数。
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Close 清空缓存并关闭实现了 io.Closer 的会话；之后构建的会话不再入缓存。
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.entries.Clear()
	return nil
}
