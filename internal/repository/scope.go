package repository

import (
	"os"

	"github.com/sirupsen/logrus"
)

// dirScope 表示一次已创建、尚未提交的版本目录。
// Release 在未 Commit 时尽力删除整个目录，删除失败只记录日志，不覆盖原始错误。
type dirScope struct {
	path      string
	name      string
	committed bool
	logger    *logrus.Logger
}

func (d *dirScope) Commit() {
	d.committed = true
}

func (d *dirScope) Release() {
	if d == nil || d.committed {
		return
	}
	if err := os.RemoveAll(d.path); err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{
			"action": "repository_rollback",
			"dir":    d.name,
		}).Warn("cleanup_failed")
	}
}
