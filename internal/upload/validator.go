package upload

import (
	"errors"
	"io"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/repochat/repochat/internal/naming"
	"github.com/repochat/repochat/internal/repoerr"
)

// DefaultMaxSize 是默认的单文件大小上限（10 MiB）。
const DefaultMaxSize int64 = 10 << 20

// chunkSize 是大小检查时每次读取的块大小。
const chunkSize = 32 * 1024

// DefaultExtensions 是默认允许上传的源码/配置/文本后缀。
var DefaultExtensions = []string{
	".php", ".html", ".js", ".cs", ".csproj", ".sln", ".json", ".md", ".yml", ".yaml",
	".xml", ".sh", ".py", ".css", ".sql", ".vbp", ".frm", ".bas", ".cls", ".abap",
	".asddls", ".asbdef", ".module", ".inc",
}

var extensionPattern = regexp.MustCompile(`^\.[A-Za-z0-9]+$`)

// File 描述一次上传：客户端给出的原始文件名与可回绕的正文。
type File struct {
	Name string
	Body io.ReadSeeker
}

// Prepared 是预检通过后的结果，供落盘阶段使用。
type Prepared struct {
	StoredName string
	Size       int64
}

// Validator 持有大小上限与后缀白名单，可被多个请求并发复用。
type Validator struct {
	maxSize int64
	allowed map[string]struct{}
}

// NewValidator 构建校验器；maxSize<=0 时使用默认上限，extensions 为空时使用默认白名单。
func NewValidator(maxSize int64, extensions []string) *Validator {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	allowed := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		if normalized := normalizeExtension(ext); normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}
	return &Validator{maxSize: maxSize, allowed: allowed}
}

// MaxSize 返回生效的大小上限。
func (v *Validator) MaxSize() int64 {
	return v.maxSize
}

// AllowedExtensions 返回排序后的白名单，便于诊断输出。
func (v *Validator) AllowedExtensions() []string {
	out := make([]string, 0, len(v.allowed))
	for ext := range v.allowed {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Prepare 依次执行大小检查、后缀检查与存储文件名推导，遇到第一个失败即返回。
func (v *Validator) Prepare(f File) (Prepared, error) {
	if f.Body == nil {
		return Prepared{}, repoerr.New(repoerr.InvalidContent, "upload body missing")
	}
	size, err := v.CheckSize(f.Body)
	if err != nil {
		return Prepared{}, err
	}
	stored, err := v.StoredName(f.Name)
	if err != nil {
		return Prepared{}, err
	}
	return Prepared{StoredName: stored, Size: size}, nil
}

// CheckSize 分块读取 r 并累计字节数，一旦超过上限立即返回 FileTooLarge。
// 无论成功与否都会把读取位置重置到开头，后续读取仍能看到完整内容。
func (v *Validator) CheckSize(r io.ReadSeeker) (size int64, err error) {
	defer func() {
		if _, seekErr := r.Seek(0, io.SeekStart); seekErr != nil && err == nil {
			err = repoerr.Wrap(seekErr, repoerr.IOFailure, "rewind upload")
		}
	}()

	buf := make([]byte, chunkSize)
	for {
		n, readErr := r.Read(buf)
		size += int64(n)
		if size > v.maxSize {
			return size, repoerr.Newf(repoerr.FileTooLarge, "upload exceeds %d bytes", v.maxSize)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return size, nil
			}
			return size, repoerr.Wrap(readErr, repoerr.IOFailure, "read upload")
		}
	}
}

// StoredName 校验原始文件名的后缀并返回 Sanitize(stem) + 原始后缀。
func (v *Validator) StoredName(filename string) (string, error) {
	base := baseName(filename)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if ext == "" || ext == "." || stem == "" {
		return "", repoerr.Newf(repoerr.NoExtension, "filename %q has no extension", filename)
	}
	if _, ok := v.allowed[strings.ToLower(ext)]; !ok || !extensionPattern.MatchString(ext) {
		return "", repoerr.Newf(repoerr.ExtensionNotAllowed, "extension %q not allowed", ext)
	}
	stored := naming.Sanitize(stem)
	if limit := naming.MaxLength - len(ext); len(stored) > limit && limit > 0 {
		stored = stored[:limit]
	}
	return stored + ext, nil
}

// baseName 同时处理 '/' 与 '\' 分隔的客户端文件名，只保留最后一段。
func baseName(filename string) string {
	name := strings.ReplaceAll(filename, "\\", "/")
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	return strings.TrimSpace(name)
}

func normalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
