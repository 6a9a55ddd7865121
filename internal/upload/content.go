package upload

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"

	"github.com/repochat/repochat/internal/repoerr"
)

const (
	// sampleSize 是编码探测读取的前缀长度。
	sampleSize = 4096
	// maxSuspiciousPercent 是解码后替换字符与控制字符占比的上限。
	maxSuspiciousPercent = 10
)

// CheckContent 探测文件开头的文本编码并解码整段样本。
// 空文件、非 UTF-16 文本中出现 NUL 字节、或解码结果中替换字符与控制字符
// 超过 maxSuspiciousPercent 时返回 InvalidContent。
func CheckContent(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return repoerr.Wrap(err, repoerr.IOFailure, "open uploaded file")
	}
	defer f.Close()

	sample := make([]byte, sampleSize)
	n, err := io.ReadFull(f, sample)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return repoerr.Wrap(err, repoerr.IOFailure, "read uploaded file")
	}
	sample = sample[:n]
	if len(sample) == 0 {
		return repoerr.New(repoerr.InvalidContent, "empty file")
	}
	if n == sampleSize {
		sample = trimPartialRune(sample)
	}

	enc, name, _ := charset.DetermineEncoding(sample, "text/plain")
	if !strings.HasPrefix(name, "utf-16") && bytes.IndexByte(sample, 0) >= 0 {
		return repoerr.Newf(repoerr.InvalidContent, "binary content (detected %s)", name)
	}

	total, suspicious, err := scanRunes(transform.NewReader(bytes.NewReader(sample), enc.NewDecoder()))
	if err != nil {
		return repoerr.Wrapf(err, repoerr.InvalidContent, "decode as %s", name)
	}
	if total == 0 || suspicious*100 > total*maxSuspiciousPercent {
		return repoerr.Newf(repoerr.InvalidContent, "binary content (%d of %d characters unprintable as %s)", suspicious, total, name)
	}
	return nil
}

// scanRunes 统计解码后的字符总数与可疑字符数。
func scanRunes(r io.Reader) (total, suspicious int, err error) {
	br := bufio.NewReader(r)
	for {
		ch, _, err := br.ReadRune()
		if errors.Is(err, io.EOF) {
			return total, suspicious, nil
		}
		if err != nil {
			return total, suspicious, err
		}
		total++
		if isSuspicious(ch) {
			suspicious++
		}
	}
}

// isSuspicious 把替换字符、C0/C1 控制字符和 DEL 视为二进制迹象，常见空白除外。
func isSuspicious(r rune) bool {
	switch r {
	case '\t', '\n', '\r', '\f', '\v':
		return false
	case utf8.RuneError, 0x7F:
		return true
	}
	return r < 0x20 || (r >= 0x80 && r <= 0x9F)
}

// trimPartialRune 去掉样本末尾被截断的 UTF-8 多字节字符，避免合法 UTF-8 被误判。
func trimPartialRune(sample []byte) []byte {
	for i := len(sample) - 1; i >= 0 && i >= len(sample)-utf8.UTFMax; i-- {
		if utf8.RuneStart(sample[i]) {
			if !utf8.FullRune(sample[i:]) {
				return sample[:i]
			}
			break
		}
	}
	return sample
}
