package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/repochat/repochat/internal/repoerr"
	"github.com/repochat/repochat/internal/retrieval"
)

type fakeSession struct {
	path   string
	err    error
	closed atomic.Bool
}

func (s *fakeSession) Invoke(ctx context.Context, query string) (retrieval.Answer, error) {
	if s.err != nil {
		return retrieval.Answer{}, s.err
	}
	return retrieval.Answer{Answer: s.path + ":" + query}, nil
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

func TestGetOrCreateBuildsOncePerKey(t *testing.T) {
	var builds int32
	build := func(ctx context.Context, path string) (retrieval.Session, error) {
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&builds, 1)
		return &fakeSession{path: path}, nil
	}
	cache := NewCache(nil)

	var wg sync.WaitGroup
	sessions := make([]retrieval.Session, 50)
	errs := make([]error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i], errs[i] = cache.GetOrCreate(context.Background(), "/data/demo_1", build)
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&builds); got != 1 {
		t.Fatalf("builder 应只执行一次, got %d", got)
	}
	for i := range sessions {
		if errs[i] != nil {
			t.Fatalf("call %d error: %v", i, errs[i])
		}
		if sessions[i] != sessions[0] {
			t.Fatalf("所有调用方应拿到同一个会话")
		}
	}
}

func TestGetOrCreateDoesNotCacheFailures(t *testing.T) {
	var calls int32
	build := func(ctx context.Context, path string) (retrieval.Session, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.New("index missing")
		}
		return &fakeSession{path: path}, nil
	}
	cache := NewCache(build)

	_, err := cache.GetOrCreate(context.Background(), "/data/demo_1", nil)
	if !repoerr.Is(err, repoerr.SessionInitFailed) {
		t.Fatalf("expected SessionInitFailed, got %v", err)
	}
	if cache.Len() != 0 {
		t.Fatalf("失败的构建不应被缓存")
	}

	if _, err := cache.GetOrCreate(context.Background(), "/data/demo_1", nil); err != nil {
		t.Fatalf("second attempt should rebuild: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 builder calls, got %d", calls)
	}
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	release := make(chan struct{})
	build := func(ctx context.Context, path string) (retrieval.Session, error) {
		if path == "/data/slow_1" {
			<-release
		}
		return &fakeSession{path: path}, nil
	}
	cache := NewCache(build)
	defer close(release)

	go func() {
		_, _ = cache.GetOrCreate(context.Background(), "/data/slow_1", nil)
	}()

	done := make(chan error, 1)
	go func() {
		_, err := cache.GetOrCreate(context.Background(), "/data/fast_1", nil)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("fast key error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("不同 key 的构建不应互相阻塞")
	}
}

func TestCallerCancellationDoesNotAbortBuild(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var buildCtxErr atomic.Value
	build := func(ctx context.Context, path string) (retrieval.Session, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			buildCtxErr.Store(err)
		}
		return &fakeSession{path: path}, nil
	}
	cache := NewCache(build)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := cache.GetOrCreate(ctx, "/data/demo_1", nil)
		errCh <- err
	}()
	<-started
	cancel()
	if err := <-errCh; !repoerr.Is(err, repoerr.SessionInitFailed) {
		t.Fatalf("取消等待应返回 SessionInitFailed, got %v", err)
	}
	close(release)

	if _, err := cache.GetOrCreate(context.Background(), "/data/demo_1", nil); err != nil {
		t.Fatalf("get after build: %v", err)
	}
	if v := buildCtxErr.Load(); v != nil {
		t.Fatalf("构建 context 不应随调用方取消, got %v", v)
	}
}

func TestInvokeQueryFailureKeepsSession(t *testing.T) {
	queryErr := errors.New("rate limited")
	var builds int32
	build := func(ctx context.Context, path string) (retrieval.Session, error) {
		atomic.AddInt32(&builds, 1)
		return &fakeSession{path: path, err: queryErr}, nil
	}
	cache := NewCache(build)

	for i := 0; i < 2; i++ {
		_, err := cache.Invoke(context.Background(), "/data/demo_1", "hello")
		if !repoerr.Is(err, repoerr.SessionQueryFailed) {
			t.Fatalf("expected SessionQueryFailed, got %v", err)
		}
		if !errors.Is(err, queryErr) {
			t.Fatalf("应保留原始错误链, got %v", err)
		}
	}
	if builds != 1 || cache.Len() != 1 {
		t.Fatalf("查询失败不应淘汰会话: builds=%d len=%d", builds, cache.Len())
	}
}

func TestInvokeReturnsAnswer(t *testing.T) {
	cache := NewCache(func(ctx context.Context, path string) (retrieval.Session, error) {
		return &fakeSession{path: path}, nil
	})
	answer, err := cache.Invoke(context.Background(), "/data/demo_1", "hi")
	if err != nil {
		t.Fatalf("invoke error: %v", err)
	}
	if answer.Answer != "/data/demo_1:hi" {
		t.Fatalf("unexpected answer %q", answer.Answer)
	}
}

func TestCapacityEvictsAndClosesOldest(t *testing.T) {
	built := make(map[string]*fakeSession)
	var mu sync.Mutex
	cache := NewCache(func(ctx context.Context, path string) (retrieval.Session, error) {
		s := &fakeSession{path: path}
		mu.Lock()
		built[path] = s
		mu.Unlock()
		return s, nil
	}, WithCapacity(2))

	for _, path := range []string{"/a", "/b", "/c"} {
		if _, err := cache.GetOrCreate(context.Background(), path, nil); err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
	}
	if cache.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", cache.Len())
	}
	if !built["/a"].closed.Load() {
		t.Fatalf("被淘汰的会话应被关闭")
	}
	keys := cache.Keys()
	if len(keys) != 2 || keys[0] != "/b" || keys[1] != "/c" {
		t.Fatalf("unexpected keys %v", keys)
	}

	if err := cache.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}
	if !built["/b"].closed.Load() || !built["/c"].closed.Load() || cache.Len() != 0 {
		t.Fatalf("Close 应关闭并清空所有会话")
	}
}

func TestNoBuilderConfigured(t *testing.T) {
	cache := NewCache(nil)
	if _, err := cache.GetOrCreate(context.Background(), "/a", nil); !repoerr.Is(err, repoerr.SessionInitFailed) {
		t.Fatalf("expected SessionInitFailed, got %v", err)
	}
}
