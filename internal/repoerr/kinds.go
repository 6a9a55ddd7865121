// Package repoerr defines the error kinds surfaced by the repository storage,
// upload validation and session cache layers. Every kind is a platform error
// code; callers switch on KindOf(err) instead of inspecting message text, and
// the transport maps CategoryOf(kind) to an HTTP status.
package repoerr

import (
	platformerrors "github.com/jmgilman/go/errors"
)

// Kind 即错误种类，直接复用 platform error code，便于序列化与日志检索。
type Kind = platformerrors.ErrorCode

const (
	InvalidName         Kind = "INVALID_NAME"
	NoExtension         Kind = "NO_EXTENSION"
	ExtensionNotAllowed Kind = "EXTENSION_NOT_ALLOWED"
	FileTooLarge        Kind = "FILE_TOO_LARGE"
	InvalidContent      Kind = "INVALID_CONTENT"
	PathTraversal       Kind = "PATH_TRAVERSAL"

	RepositoryNotFound Kind = "REPOSITORY_NOT_FOUND"
	RepositoryConflict Kind = "REPOSITORY_CONFLICT"

	SessionInitFailed  Kind = "SESSION_INIT_FAILED"
	SessionQueryFailed Kind = "SESSION_QUERY_FAILED"

	IOFailure Kind = "IO_FAILURE"
)

// Category 将错误种类归并为对调用方有意义的几个大类。
type Category string

const (
	CategoryInput      Category = "input"
	CategoryNotFound   Category = "not_found"
	CategoryConflict   Category = "conflict"
	CategoryDependency Category = "dependency"
	CategoryIO         Category = "io"
)

type kindInfo struct {
	category  Category
	message   string
	retryable bool
}

// 公开消息是固定文案，绝不拼接内部错误细节。
var kinds = map[Kind]kindInfo{
	InvalidName:         {CategoryInput, "Invalid repository name", false},
	NoExtension:         {CategoryInput, "File has no extension", false},
	ExtensionNotAllowed: {CategoryInput, "File extension not allowed", false},
	FileTooLarge:        {CategoryInput, "File too large", false},
	InvalidContent:      {CategoryInput, "File content is not readable text", false},
	PathTraversal:       {CategoryInput, "Invalid path", false},
	RepositoryNotFound:  {CategoryNotFound, "Repository not found", false},
	RepositoryConflict:  {CategoryConflict, "Repository version already exists", false},
	SessionInitFailed:   {CategoryDependency, "Internal server error", true},
	SessionQueryFailed:  {CategoryDependency, "Internal server error", false},
	IOFailure:           {CategoryIO, "Internal server error", true},
}

// New 构造指定种类的错误，detail 仅用于日志，不会出现在 PublicMessage 中。
func New(kind Kind, detail string) error {
	return classify(platformerrors.New(kind, detail), kind)
}

// Newf 与 New 相同，但支持格式化 detail。
func Newf(kind Kind, format string, args ...interface{}) error {
	return classify(platformerrors.Newf(kind, format, args...), kind)
}

// Wrap 以指定种类包装底层错误，保留 errors.Is/As 链。
func Wrap(err error, kind Kind, detail string) error {
	if err == nil {
		return nil
	}
	return classify(platformerrors.Wrap(err, kind, detail), kind)
}

// Wrapf 与 Wrap 相同，但支持格式化 detail。
func Wrapf(err error, kind Kind, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return classify(platformerrors.Wrapf(err, kind, format, args...), kind)
}

func classify(err platformerrors.PlatformError, kind Kind) error {
	if info, ok := kinds[kind]; ok && info.retryable {
		return platformerrors.WithClassification(err, platformerrors.ClassificationRetryable)
	}
	return platformerrors.WithClassification(err, platformerrors.ClassificationPermanent)
}

// KindOf 返回错误链上最外层的种类；非本包错误返回空字符串。
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	code := platformerrors.GetCode(err)
	if _, ok := kinds[code]; ok {
		return code
	}
	return ""
}

// Is 判断 err 是否属于给定种类。
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// CategoryOf 返回种类所属的大类；未知种类视为 io。
func CategoryOf(kind Kind) Category {
	if info, ok := kinds[kind]; ok {
		return info.category
	}
	return CategoryIO
}

// PublicMessage 返回可以直接回显给调用方的固定文案。
func PublicMessage(err error) string {
	if info, ok := kinds[KindOf(err)]; ok {
		return info.message
	}
	return "Internal server error"
}

// IsRetryable 报告该错误是否值得调用方重试。
func IsRetryable(err error) bool {
	return platformerrors.IsRetryable(err)
}
