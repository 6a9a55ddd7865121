package upload

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/repochat/repochat/internal/pathguard"
	"github.com/repochat/repochat/internal/repoerr"
)

// Place 将已预检的上传写入 guard 根目录下的 dir 中，随后执行内容检查。
// 写入通过临时文件 + rename 保证原子性；内容检查失败时删除刚写入的文件。
func (v *Validator) Place(ctx context.Context, guard *pathguard.Guard, dir string, f File, prepared Prepared) (string, error) {
	target, err := guard.Join(dir, prepared.StoredName)
	if err != nil {
		return "", err
	}
	if _, err := f.Body.Seek(0, io.SeekStart); err != nil {
		return "", repoerr.Wrap(err, repoerr.IOFailure, "rewind upload")
	}

	tempFile, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", repoerr.Wrap(err, repoerr.IOFailure, "create temp file")
	}
	tempName := tempFile.Name()

	// 预检之后正文仍可能变化，这里再限制一次，多读 1 字节用于判断是否超限。
	written, err := copyWithContext(ctx, tempFile, io.LimitReader(f.Body, v.maxSize+1))
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", repoerr.Wrap(err, repoerr.IOFailure, "upload interrupted")
		}
		return "", repoerr.Wrap(err, repoerr.IOFailure, "write upload")
	}
	if written > v.maxSize {
		os.Remove(tempName)
		return "", repoerr.Newf(repoerr.FileTooLarge, "upload grew beyond %d bytes while writing", v.maxSize)
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return "", repoerr.Wrap(err, repoerr.IOFailure, "finalize upload")
	}

	if err := CheckContent(target); err != nil {
		os.Remove(target)
		return "", err
	}
	return target, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
