package repository

import (
	"regexp"
	"strings"

	"github.com/repochat/repochat/internal/naming"
)

// VersionLayout 是版本号的时间格式，字典序与时间先后一致。
const VersionLayout = "20060102_150405"

var versionSuffix = regexp.MustCompile(`_([0-9]{8}_[0-9]{6})$`)

// Record 表示一次上传对应的仓库版本。
type Record struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	StoragePath string `json:"storage_path"`
}

// DirName 返回磁盘上的目录名 "{name}_{version}"。
func (r Record) DirName() string {
	return dirName(r.Name, r.Version)
}

// newer 报告 r 是否应当排在 other 之后：先比较版本，再比较完整目录名。
func (r Record) newer(other Record) bool {
	if r.Version != other.Version {
		return r.Version > other.Version
	}
	return r.DirName() > other.DirName()
}

func dirName(name, version string) string {
	return name + "_" + version
}

// ParseDirName 从目录名中拆出名称与版本。
// 以时间戳形态结尾时按时间戳拆分，否则按最后一个 '_' 拆分（版本格式不做校验）。
// 名称部分必须是清洗的不动点且有意义，否则 ok 为 false。
func ParseDirName(entry string) (name, version string, ok bool) {
	if m := versionSuffix.FindStringSubmatchIndex(entry); m != nil {
		name, version = entry[:m[0]], entry[m[2]:m[3]]
	} else {
		idx := strings.LastIndex(entry, "_")
		if idx < 0 {
			return "", "", false
		}
		name, version = entry[:idx], entry[idx+1:]
	}
	if version == "" || !naming.IsFixedPoint(name) || !naming.IsMeaningful(name) {
		return "", "", false
	}
	return name, version, true
}
