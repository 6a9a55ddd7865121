// Package naming turns untrusted text into repository name tokens that are
// safe to embed in a single path component.
package naming

import (
	"regexp"
	"strings"

	"github.com/repochat/repochat/internal/repoerr"
)

const (
	// MaxLength 是单个路径分量的最大字节数（清洗后全部为 ASCII，字符数即字节数）。
	MaxLength = 255
	// VersionSuffixLength 是目录名中 "_20060102_150405" 版本后缀的长度。
	VersionSuffixLength = len("_20060102_150405")
	// MaxNameLength 是仓库名称的最大字符数，为版本后缀预留空间后
	// "{name}_{version}" 仍不超过 MaxLength。
	MaxNameLength = MaxLength - VersionSuffixLength
)

var validName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Sanitize 将 [A-Za-z0-9_-] 以外的每个字符替换为 '_'，再截断到 MaxNameLength。
// 该函数总是成功，且对自身输出幂等。
func Sanitize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	n := 0
	for _, r := range raw {
		if n == MaxNameLength {
			break
		}
		if isAllowed(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
		n++
	}
	return b.String()
}

// Validate 判断 name 是否已经是合法名称，不做任何清洗。
func Validate(name string) bool {
	return len(name) <= MaxNameLength && validName.MatchString(name)
}

// IsMeaningful 要求名称合法且至少包含一个非 '_' 字符；
// 全是下划线的结果等价于空名称。
func IsMeaningful(name string) bool {
	return Validate(name) && strings.Trim(name, "_") != ""
}

// IsFixedPoint 报告 name 再次清洗后是否保持不变，用于校验从目录名解析出的名称。
func IsFixedPoint(name string) bool {
	return name != "" && Sanitize(name) == name
}

// Normalize 清洗原始输入并拒绝等价于空的结果。
func Normalize(raw string) (string, error) {
	name := Sanitize(raw)
	if !IsMeaningful(name) {
		return "", repoerr.Newf(repoerr.InvalidName, "name %q sanitizes to %q", raw, name)
	}
	return name, nil
}

func isAllowed(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-':
		return true
	}
	return false
}
