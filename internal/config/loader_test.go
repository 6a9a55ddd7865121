package config

import "testing"

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"

[Retrieval]
RequestTimeout = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadRejectsInvalidByteSize(t *testing.T) {
	path := writeTempConfig(t, "MaxUploadSize = \"huge\"\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("无效字节大小应失败")
	}
}

func TestLoadAcceptsNumericSizes(t *testing.T) {
	path := writeTempConfig(t, "MaxUploadSize = 2048\n\n[Retrieval]\nRequestTimeout = 5\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.MaxUploadSize.Int64() != 2048 {
		t.Fatalf("unexpected size %d", cfg.Global.MaxUploadSize)
	}
	if cfg.Retrieval.RequestTimeout.DurationValue().Seconds() != 5 {
		t.Fatalf("纯数字超时应按秒解析")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(testConfigPath(t, "absent.toml")); err == nil {
		t.Fatalf("缺失配置文件应返回错误")
	}
}
