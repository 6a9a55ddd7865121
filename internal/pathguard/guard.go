// Package pathguard is the single chokepoint for building filesystem paths
// from untrusted segments. Every result is canonicalised (absolute, cleaned,
// symlinks of the existing prefix resolved) before it is compared against the
// canonical root, so `..`, trailing separators and symlink redirection cannot
// escape the root.
package pathguard

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/repochat/repochat/internal/repoerr"
)

var errDanglingLink = errors.New("dangling symlink")

// Guard 缓存规范化后的根目录，所有拼接都以它为前缀校验。
type Guard struct {
	root string
}

// New 规范化 root（绝对路径 + 解析符号链接），root 必须已经存在。
func New(root string) (*Guard, error) {
	canonical, err := canonicalRoot(root)
	if err != nil {
		return nil, err
	}
	return &Guard{root: canonical}, nil
}

// Root 返回规范化后的根目录。
func (g *Guard) Root() string {
	return g.root
}

// Join 在根目录下拼接 segments，结果逃逸出根目录时返回 PathTraversal。
func (g *Guard) Join(segments ...string) (string, error) {
	for _, seg := range segments {
		if strings.ContainsRune(seg, 0) {
			return "", repoerr.New(repoerr.PathTraversal, "path segment contains NUL byte")
		}
	}

	candidate := filepath.Join(append([]string{g.root}, segments...)...)
	resolved, err := resolveExisting(candidate)
	if errors.Is(err, errDanglingLink) {
		return "", repoerr.Wrap(err, repoerr.PathTraversal, "resolve path")
	}
	if err != nil {
		return "", repoerr.Wrap(err, repoerr.IOFailure, "resolve path")
	}
	if !g.Contains(resolved) {
		return "", repoerr.Newf(repoerr.PathTraversal, "%q escapes storage root", filepath.Join(segments...))
	}
	return resolved, nil
}

// Contains 报告已规范化的 path 是否为根目录本身或其后代。
func (g *Guard) Contains(path string) bool {
	if path == g.root {
		return true
	}
	prefix := g.root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}

// Join 是一次性调用的便捷形式，等价于 New(root) 后再 Join。
func Join(root string, segments ...string) (string, error) {
	g, err := New(root)
	if err != nil {
		return "", err
	}
	return g.Join(segments...)
}

func canonicalRoot(root string) (string, error) {
	if root == "" {
		return "", errors.New("storage root required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve storage root: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve storage root: %w", err)
	}
	return canonical, nil
}

// resolveExisting 解析 path 中已存在的最长前缀的符号链接，再拼回尚不存在的尾部。
// path 必须是已经 Clean 过的绝对路径，因此尾部不会包含 "..".
func resolveExisting(path string) (string, error) {
	var tail []string
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			parts := append([]string{resolved}, reverse(tail)...)
			return filepath.Join(parts...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		// 目录项存在但目标不存在：悬空符号链接，写入时会跟随到未知位置。
		if _, lerr := os.Lstat(current); lerr == nil {
			return "", fmt.Errorf("%w: %s", errDanglingLink, current)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		tail = append(tail, filepath.Base(current))
		current = parent
	}
}

func reverse(items []string) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[len(items)-1-i] = item
	}
	return out
}
