package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/repochat/repochat/internal/config"
	"github.com/repochat/repochat/internal/version"
)

const (
	// ServiceName 会写入每条日志的 service 字段。
	ServiceName = "repochat"

	defaultMaxSizeMB = 100
)

// InitLogger 根据全局配置初始化 JSON 结构化日志。
// 日志文件不可写时降级到 stdout，并记录一条 logger_fallback 警告。
func InitLogger(cfg config.GlobalConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	output, outErr := openOutput(cfg)
	if outErr != nil {
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", outErr)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(output)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	logger.AddHook(serviceHook{version: version.Version})

	// 仍使用全局 logrus 的第三方代码与服务日志保持同一格式和输出
	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.GetLevel())

	if outErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).Warn(outErr.Error())
	}
	return logger, nil
}

// CloseOutput 关闭日志文件输出；stdout 等非文件输出直接忽略。
func CloseOutput(logger *logrus.Logger) error {
	if logger == nil {
		return nil
	}
	rotator, ok := logger.Out.(*lumberjack.Logger)
	if !ok {
		return nil
	}
	return rotator.Close()
}

// openOutput 创建日志输出，并在启动时确认文件可写；失败时返回 stdout 与原因。
func openOutput(cfg config.GlobalConfig) (io.Writer, error) {
	if cfg.LogFilePath == "" {
		return os.Stdout, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
		return os.Stdout, fmt.Errorf("创建日志目录失败: %w", err)
	}

	rotator := newRotator(cfg)
	// lumberjack 在首次写入时才打开文件，空写入用于提前暴露权限问题
	if _, err := rotator.Write(nil); err != nil {
		return os.Stdout, fmt.Errorf("打开日志文件失败: %w", err)
	}
	return rotator, nil
}

func newRotator(cfg config.GlobalConfig) *lumberjack.Logger {
	maxSize := cfg.LogMaxSize
	if maxSize <= 0 {
		maxSize = defaultMaxSizeMB
	}
	backups := cfg.LogMaxBackups
	if backups < 0 {
		backups = 0
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    maxSize,
		MaxBackups: backups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}
}

// serviceHook 为每条日志补充 service 与 version 字段，调用方显式设置的值优先。
type serviceHook struct {
	version string
}

func (serviceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h serviceHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["service"]; !ok {
		entry.Data["service"] = ServiceName
	}
	if _, ok := entry.Data["version"]; !ok {
		entry.Data["version"] = h.version
	}
	return nil
}
