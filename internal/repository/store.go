package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/repochat/repochat/internal/naming"
	"github.com/repochat/repochat/internal/pathguard"
	"github.com/repochat/repochat/internal/repoerr"
	"github.com/repochat/repochat/internal/upload"
)

// maxVersionAttempts 限制同一秒冲突时向后顺延的次数。
const maxVersionAttempts = 5

// Store 管理 StoragePath 下的版本目录，整站复用一份实例。
type Store struct {
	guard     *pathguard.Guard
	validator *upload.Validator
	logger    *logrus.Logger
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*nameLock
}

// Option 调整 Store 的可选依赖。
type Option func(*Store)

// WithClock 注入时钟，测试中用于构造确定的版本号。
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger 注入日志实例，未注入时使用 logrus 标准 logger。
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore 以 basePath 为根目录构建仓库存储，目录不存在时自动创建。
func NewStore(basePath string, validator *upload.Validator, opts ...Option) (*Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	if validator == nil {
		return nil, errors.New("upload validator required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	guard, err := pathguard.New(abs)
	if err != nil {
		return nil, err
	}

	s := &Store{
		guard:     guard,
		validator: validator,
		logger:    logrus.StandardLogger(),
		now:       time.Now,
		locks:     make(map[string]*nameLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root 返回规范化后的存储根目录。
func (s *Store) Root() string {
	return s.guard.Root()
}

// Create 清洗名称、预检上传、创建新的版本目录并写入文件。
// 任一步骤失败都会回滚已创建的目录，并返回原始错误种类。
func (s *Store) Create(ctx context.Context, rawName string, f upload.File) (Record, error) {
	name, err := naming.Normalize(rawName)
	if err != nil {
		return Record{}, err
	}
	prepared, err := s.validator.Prepare(f)
	if err != nil {
		return Record{}, err
	}

	unlock := s.lockName(name)
	defer unlock()

	scope, version, err := s.createVersionDir(name)
	if err != nil {
		return Record{}, err
	}
	defer scope.Release()

	if _, err := s.validator.Place(ctx, s.guard, scope.name, f, prepared); err != nil {
		return Record{}, err
	}

	record, err := s.newRecord(name, version)
	if err != nil {
		return Record{}, err
	}
	scope.Commit()

	s.logger.WithFields(logrus.Fields{
		"action":  "repository_create",
		"name":    record.Name,
		"version": record.Version,
		"file":    prepared.StoredName,
		"bytes":   prepared.Size,
	}).Info("repository stored")
	return record, nil
}

// createVersionDir 以当前时间生成版本号并原子创建目录；同名目录已存在时顺延一秒重试。
func (s *Store) createVersionDir(name string) (*dirScope, string, error) {
	stamp := s.now().UTC()
	for attempt := 0; attempt < maxVersionAttempts; attempt++ {
		version := stamp.Add(time.Duration(attempt) * time.Second).Format(VersionLayout)
		entry := dirName(name, version)
		path, err := s.guard.Join(entry)
		if err != nil {
			return nil, "", err
		}

		err = os.Mkdir(path, 0o755)
		if err == nil {
			return &dirScope{path: path, name: entry, logger: s.logger}, version, nil
		}
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		return nil, "", repoerr.Wrap(err, repoerr.IOFailure, "create repository directory")
	}
	return nil, "", repoerr.Newf(repoerr.RepositoryConflict, "no free version slot for %s after %d attempts", name, maxVersionAttempts)
}

// newRecord 每次构造 Record 都重新经过 path guard 校验存储路径。
func (s *Store) newRecord(name, version string) (Record, error) {
	path, err := s.guard.Join(dirName(name, version))
	if err != nil {
		return Record{}, err
	}
	if path == s.guard.Root() {
		return Record{}, repoerr.New(repoerr.PathTraversal, "record resolves to storage root")
	}
	return Record{Name: name, Version: version, StoragePath: path}, nil
}

// List 枚举根目录下的版本目录；无法解析或未通过校验的条目被静默跳过。
func (s *Store) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, repoerr.Wrap(err, repoerr.IOFailure, "list repositories")
	}

	entries, err := os.ReadDir(s.guard.Root())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, repoerr.Wrap(err, repoerr.IOFailure, "read storage root")
	}

	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		record, ok := s.recordFromEntry(entry.Name())
		if !ok {
			continue
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Name != records[j].Name {
			return records[i].Name < records[j].Name
		}
		return records[i].Version < records[j].Version
	})
	return records, nil
}

func (s *Store) recordFromEntry(entry string) (Record, bool) {
	name, version, ok := ParseDirName(entry)
	if !ok {
		return Record{}, false
	}
	record, err := s.newRecord(name, version)
	if err != nil {
		return Record{}, false
	}
	info, err := os.Stat(record.StoragePath)
	if err != nil || !info.IsDir() {
		return Record{}, false
	}
	return record, true
}

// ResolveLatest 返回名称对应的最新版本目录。
// 候选目录的名称部分必须与清洗后的名称完全相同，取版本号最大者；版本相同则取完整目录名最大者。
func (s *Store) ResolveLatest(ctx context.Context, rawName string) (string, error) {
	name, err := naming.Normalize(rawName)
	if err != nil {
		return "", err
	}
	records, err := s.List(ctx)
	if err != nil {
		return "", err
	}

	var (
		latest Record
		found  bool
	)
	for _, record := range records {
		if record.Name != name {
			continue
		}
		if !found || record.newer(latest) {
			latest = record
			found = true
		}
	}
	if !found {
		return "", repoerr.Newf(repoerr.RepositoryNotFound, "no versions stored for %s", name)
	}
	return latest.StoragePath, nil
}
