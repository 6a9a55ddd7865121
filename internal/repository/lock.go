package repository

import "sync"

// nameLock 串行化同一名称的 Create，避免同一秒内的并发上传争抢版本目录；refs 归零即回收。
type nameLock struct {
	mu   sync.Mutex
	refs int
}

func (s *Store) lockName(name string) func() {
	s.mu.Lock()
	lock := s.locks[name]
	if lock == nil {
		lock = &nameLock{}
		s.locks[name] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, name)
		}
		s.mu.Unlock()
	}
}
