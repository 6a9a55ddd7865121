package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadValidConfig(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	cfg, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.MaxUploadSize.Int64() != 5<<20 {
		t.Fatalf("MaxUploadSize 应解析为 5MiB, got %d", cfg.Global.MaxUploadSize)
	}
	want := []string{".py", ".go", ".md"}
	if len(cfg.Global.AllowedExtensions) != len(want) {
		t.Fatalf("unexpected extensions %v", cfg.Global.AllowedExtensions)
	}
	for i, ext := range want {
		if cfg.Global.AllowedExtensions[i] != ext {
			t.Fatalf("后缀应被规范化为小写带点形式, got %v", cfg.Global.AllowedExtensions)
		}
	}
	if cfg.Global.SessionCacheSize != 16 || len(cfg.Global.CORSAllowOrigins) != 2 {
		t.Fatalf("unexpected global config %+v", cfg.Global)
	}
	if cfg.Retrieval.RequestTimeout.DurationValue() != 45*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.Retrieval.RequestTimeout.DurationValue())
	}
	if cfg.Retrieval.BaseURL != "https://api.openai.com/v1" {
		t.Fatalf("BaseURL 末尾斜杠应被去除, got %s", cfg.Retrieval.BaseURL)
	}
	if cfg.Retrieval.K != 10 || cfg.Retrieval.FetchK != 25 || cfg.Retrieval.Lambda != 0.7 {
		t.Fatalf("unexpected retrieval config %+v", cfg.Retrieval)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	cfg, err := Load(writeTempConfig(t, "LogLevel = \"info\"\n"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.ListenPort != 8000 {
		t.Fatalf("ListenPort 默认应为 8000, got %d", cfg.Global.ListenPort)
	}
	if cfg.Global.MaxUploadSize.Int64() != 10<<20 {
		t.Fatalf("MaxUploadSize 默认应为 10MiB, got %d", cfg.Global.MaxUploadSize)
	}
	if cfg.Global.StoragePath == "" {
		t.Fatalf("StoragePath 应该被填充")
	}
	if len(cfg.Global.CORSAllowOrigins) != 1 || cfg.Global.CORSAllowOrigins[0] != "http://localhost:5173" {
		t.Fatalf("unexpected CORS defaults %v", cfg.Global.CORSAllowOrigins)
	}
	r := cfg.Retrieval
	if r.APIType != "openai" || r.IndexFile != "index.cbor" || r.K != 20 || r.FetchK != 30 || r.Lambda != 0.5 {
		t.Fatalf("unexpected retrieval defaults %+v", r)
	}
	if r.RequestTimeout.DurationValue() != time.Minute {
		t.Fatalf("RequestTimeout 默认应为 60s")
	}
}

func TestAPIKeyFromEnvironment(t *testing.T) {
	t.Setenv(APIKeyEnv, "sk-from-env")
	cfg, err := Load(writeTempConfig(t, "LogLevel = \"info\"\n"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Retrieval.APIKey != "sk-from-env" || cfg.Retrieval.AuthMode() != "credentialed" {
		t.Fatalf("环境变量应覆盖 APIKey, got %q", cfg.Retrieval.APIKey)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	var fieldErr FieldError
	if err := cfg.Validate(); !errors.As(err, &fieldErr) || fieldErr.Field != "Global.ListenPort" {
		t.Fatalf("ListenPort 超出范围应当报错, got %v", err)
	}
}

func TestRetrievalValidation(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*RetrievalConfig)
		field  string
	}{
		{"unsupported type", func(r *RetrievalConfig) { r.APIType = "bedrock" }, "Retrieval.APIType"},
		{"azure without url", func(r *RetrievalConfig) { r.APIType = "azure"; r.BaseURL = "" }, "Retrieval.BaseURL"},
		{"fetch below k", func(r *RetrievalConfig) { r.FetchK = 5 }, "Retrieval.FetchK"},
		{"lambda out of range", func(r *RetrievalConfig) { r.Lambda = 1.5 }, "Retrieval.Lambda"},
		{"lambda zero", func(r *RetrievalConfig) { r.Lambda = 0 }, "Retrieval.Lambda"},
		{"missing chat model", func(r *RetrievalConfig) { r.ChatModel = " " }, "Retrieval.ChatModel"},
		{"temperature", func(r *RetrievalConfig) { r.Temperature = 3 }, "Retrieval.Temperature"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg.Retrieval)
			var fieldErr FieldError
			if err := cfg.Validate(); !errors.As(err, &fieldErr) || fieldErr.Field != tc.field {
				t.Fatalf("expected field error on %s, got %v", tc.field, err)
			}
		})
	}
}

func TestValidateRejectsIndexFilePath(t *testing.T) {
	for _, name := range []string{"", "../index.cbor", "sub/index.cbor", ".."} {
		cfg := validConfig()
		cfg.Retrieval.IndexFile = name
		if err := cfg.Validate(); err == nil {
			t.Fatalf("IndexFile %q 应被拒绝", name)
		}
	}
}

func TestValidateRejectsBadExtensionsAndOrigins(t *testing.T) {
	cfg := validConfig()
	cfg.Global.AllowedExtensions = []string{".p y"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("非法后缀应报错")
	}

	cfg = validConfig()
	cfg.Global.CORSAllowOrigins = []string{"localhost:5173"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("缺少协议的 origin 应报错")
	}

	cfg = validConfig()
	cfg.Global.CORSAllowOrigins = []string{"*"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("通配 origin 应允许: %v", err)
	}
}

func TestByteSizeParsing(t *testing.T) {
	cases := map[string]int64{
		"":      0,
		"1024":  1024,
		"512KB": 512 << 10,
		"10MiB": 10 << 20,
		"2 g":   2 << 30,
		"0x10":  16,
		"100b":  100,
	}
	for raw, want := range cases {
		got, err := parseByteSize(raw)
		if err != nil {
			t.Fatalf("%q: %v", raw, err)
		}
		if got.Int64() != want {
			t.Fatalf("%q: want %d, got %d", raw, want, got)
		}
	}
	if _, err := parseByteSize("ten megs"); err == nil {
		t.Fatalf("非法字节大小应报错")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:    8000,
			StoragePath:   "./db",
			MaxUploadSize: ByteSize(10 << 20),
		},
		Retrieval: RetrievalConfig{
			APIType:        "openai",
			ChatModel:      "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
			IndexFile:      "index.cbor",
			RequestTimeout: Duration(time.Minute),
			K:              20,
			FetchK:         30,
			Lambda:         0.5,
		},
	}
}
