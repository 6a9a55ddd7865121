package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RepositoryFields 提供仓库操作日志的公共字段，空值字段会被省略。
func RepositoryFields(action, name, file string) logrus.Fields {
	fields := logrus.Fields{"action": action}
	if name != "" {
		fields["repository"] = name
	}
	if file != "" {
		fields["file"] = file
	}
	return fields
}

// RequestFields 提供 HTTP 请求日志字段。
func RequestFields(requestID, method, path string, status int, latencyMS int64) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"method":     method,
		"path":       path,
		"status":     status,
		"latency_ms": latencyMS,
	}
}
