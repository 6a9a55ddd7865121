package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// ByteSize 支持 "10MiB"、"512KB"、"1048576" 等写法，单位按 1024 进位。
type ByteSize int64

var byteUnits = []struct {
	suffix string
	factor int64
}{
	{"KIB", 1 << 10}, {"MIB", 1 << 20}, {"GIB", 1 << 30},
	{"KB", 1 << 10}, {"MB", 1 << 20}, {"GB", 1 << 30},
	{"K", 1 << 10}, {"M", 1 << 20}, {"G", 1 << 30},
	{"B", 1},
}

// UnmarshalText 解析带单位的字节数。
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := parseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Int64 返回字节数。
func (b ByteSize) Int64() int64 {
	return int64(b)
}

func parseByteSize(raw string) (ByteSize, error) {
	value := strings.ToUpper(strings.TrimSpace(raw))
	if value == "" {
		return 0, nil
	}
	factor := int64(1)
	for _, unit := range byteUnits {
		if strings.HasSuffix(value, unit.suffix) {
			factor = unit.factor
			value = strings.TrimSpace(strings.TrimSuffix(value, unit.suffix))
			break
		}
	}
	n, err := parseInt(value)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size: %s", raw)
	}
	return ByteSize(n * factor), nil
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述服务进程的运行参数。
type GlobalConfig struct {
	ListenPort        int      `mapstructure:"ListenPort"`
	LogLevel          string   `mapstructure:"LogLevel"`
	LogFilePath       string   `mapstructure:"LogFilePath"`
	LogMaxSize        int      `mapstructure:"LogMaxSize"`
	LogMaxBackups     int      `mapstructure:"LogMaxBackups"`
	LogCompress       bool     `mapstructure:"LogCompress"`
	StoragePath       string   `mapstructure:"StoragePath"`
	MaxUploadSize     ByteSize `mapstructure:"MaxUploadSize"`
	AllowedExtensions []string `mapstructure:"AllowedExtensions"`
	SessionCacheSize  int      `mapstructure:"SessionCacheSize"`
	CORSAllowOrigins  []string `mapstructure:"CORSAllowOrigins"`
}

// RetrievalConfig 描述 embeddings / chat 端点与检索参数。
type RetrievalConfig struct {
	BaseURL        string   `mapstructure:"BaseURL"`
	APIKey         string   `mapstructure:"APIKey"`
	APIType        string   `mapstructure:"APIType"`
	APIVersion     string   `mapstructure:"APIVersion"`
	ChatModel      string   `mapstructure:"ChatModel"`
	EmbeddingModel string   `mapstructure:"EmbeddingModel"`
	IndexFile      string   `mapstructure:"IndexFile"`
	RequestTimeout Duration `mapstructure:"RequestTimeout"`
	Temperature    float64  `mapstructure:"Temperature"`
	K              int      `mapstructure:"K"`
	FetchK         int      `mapstructure:"FetchK"`
	Lambda         float64  `mapstructure:"Lambda"`
}

// HasAPIKey 表示是否配置了上游凭证，供启动日志使用。
func (r RetrievalConfig) HasAPIKey() bool {
	return r.APIKey != ""
}

// AuthMode 输出 `credentialed` 或 `anonymous`，供日志字段使用。
func (r RetrievalConfig) AuthMode() string {
	if r.HasAPIKey() {
		return "credentialed"
	}
	return "anonymous"
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global    GlobalConfig    `mapstructure:",squash"`
	Retrieval RetrievalConfig `mapstructure:"Retrieval"`
}
