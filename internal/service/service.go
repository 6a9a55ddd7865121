// Package service exposes the three boundary operations the transport layer
// calls: create a repository version, list versions, and chat against the
// latest version of a repository. Every error leaving this package carries a
// repoerr kind; anything unclassified is reclassified here and logged in full.
package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/repochat/repochat/internal/logging"
	"github.com/repochat/repochat/internal/repoerr"
	"github.com/repochat/repochat/internal/repository"
	"github.com/repochat/repochat/internal/session"
	"github.com/repochat/repochat/internal/upload"
)

var (
	createKinds = kindSet(
		repoerr.InvalidName, repoerr.NoExtension, repoerr.ExtensionNotAllowed,
		repoerr.FileTooLarge, repoerr.InvalidContent, repoerr.PathTraversal,
		repoerr.RepositoryConflict, repoerr.IOFailure,
	)
	listKinds = kindSet(repoerr.IOFailure)
	chatKinds = kindSet(
		repoerr.InvalidName, repoerr.RepositoryNotFound,
		repoerr.SessionInitFailed, repoerr.SessionQueryFailed,
	)
)

func kindSet(kinds ...repoerr.Kind) map[repoerr.Kind]struct{} {
	set := make(map[repoerr.Kind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return set
}

// Service 组合仓库存储与会话缓存。
type Service struct {
	store    *repository.Store
	sessions *session.Cache
	logger   *logrus.Logger
}

// New 构建 Service，所有依赖均为必填。
func New(store *repository.Store, sessions *session.Cache, logger *logrus.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("repository store is required")
	}
	if sessions == nil {
		return nil, errors.New("session cache is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{store: store, sessions: sessions, logger: logger}, nil
}

// CreateRepository 保存一次上传并返回新版本记录。
func (s *Service) CreateRepository(ctx context.Context, rawName string, f upload.File) (repository.Record, error) {
	record, err := s.store.Create(ctx, rawName, f)
	if err != nil {
		return repository.Record{}, s.boundary(logging.RepositoryFields("create", rawName, f.Name), err, createKinds, repoerr.IOFailure)
	}
	return record, nil
}

// ListRepositories 返回所有有效的版本记录。
func (s *Service) ListRepositories(ctx context.Context) ([]repository.Record, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return nil, s.boundary(logging.RepositoryFields("list", "", ""), err, listKinds, repoerr.IOFailure)
	}
	if records == nil {
		records = []repository.Record{}
	}
	return records, nil
}

// Chat 针对仓库最新版本提问。
func (s *Service) Chat(ctx context.Context, rawName, query string) (string, error) {
	fields := logging.RepositoryFields("chat", rawName, "")
	path, err := s.store.ResolveLatest(ctx, rawName)
	if err != nil {
		return "", s.boundary(fields, err, chatKinds, repoerr.SessionQueryFailed)
	}
	answer, err := s.sessions.Invoke(ctx, path, query)
	if err != nil {
		fields["path"] = path
		return "", s.boundary(fields, err, chatKinds, repoerr.SessionQueryFailed)
	}
	return answer.Answer, nil
}

// boundary 记录完整错误链，并把不在 allowed 中的种类重新归类为 fallback。
func (s *Service) boundary(fields logrus.Fields, err error, allowed map[repoerr.Kind]struct{}, fallback repoerr.Kind) error {
	kind := repoerr.KindOf(err)
	if _, ok := allowed[kind]; !ok {
		err = repoerr.Wrap(err, fallback, "unclassified failure")
		kind = fallback
	}

	entry := s.logger.WithFields(fields).WithError(err).WithField("kind", string(kind))
	switch repoerr.CategoryOf(kind) {
	case repoerr.CategoryInput, repoerr.CategoryNotFound, repoerr.CategoryConflict:
		entry.Warn("request_rejected")
	default:
		entry.Error("request_failed")
	}
	return err
}
