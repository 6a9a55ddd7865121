package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

var supportedAPITypes = map[string]struct{}{
	"openai": {},
	"azure":  {},
}

var extensionPattern = regexp.MustCompile(`^\.[a-z0-9]+$`)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}
	if err := c.Global.validate(); err != nil {
		return err
	}
	return c.Retrieval.validate()
}

func (g GlobalConfig) validate() error {
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.MaxUploadSize <= 0 {
		return newFieldError("Global.MaxUploadSize", "必须大于 0")
	}
	for _, ext := range g.AllowedExtensions {
		if !extensionPattern.MatchString(ext) {
			return newFieldError("Global.AllowedExtensions", fmt.Sprintf("非法后缀: %s", ext))
		}
	}
	if g.SessionCacheSize < 0 {
		return newFieldError("Global.SessionCacheSize", "不能为负数")
	}
	for _, origin := range g.CORSAllowOrigins {
		if origin == "*" {
			continue
		}
		if err := validateUpstream(origin); err != nil {
			return fmt.Errorf("Global.CORSAllowOrigins: %w", err)
		}
	}
	return nil
}

func (r RetrievalConfig) validate() error {
	if _, ok := supportedAPITypes[r.APIType]; !ok {
		return newFieldError(retrievalField("APIType"), "仅支持 openai/azure")
	}
	if r.BaseURL != "" {
		if err := validateUpstream(r.BaseURL); err != nil {
			return fmt.Errorf("%s: %w", retrievalField("BaseURL"), err)
		}
	} else if r.APIType == "azure" {
		return newFieldError(retrievalField("BaseURL"), "azure 模式下不能为空")
	}
	if strings.TrimSpace(r.ChatModel) == "" {
		return newFieldError(retrievalField("ChatModel"), "不能为空")
	}
	if strings.TrimSpace(r.EmbeddingModel) == "" {
		return newFieldError(retrievalField("EmbeddingModel"), "不能为空")
	}
	if err := validateIndexFile(r.IndexFile); err != nil {
		return fmt.Errorf("%s: %w", retrievalField("IndexFile"), err)
	}
	if r.RequestTimeout.DurationValue() <= 0 {
		return newFieldError(retrievalField("RequestTimeout"), "必须大于 0")
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return newFieldError(retrievalField("Temperature"), "必须在 0-2")
	}
	if r.K <= 0 {
		return newFieldError(retrievalField("K"), "必须大于 0")
	}
	if r.FetchK < r.K {
		return newFieldError(retrievalField("FetchK"), "不能小于 K")
	}
	if !(r.Lambda > 0 && r.Lambda <= 1) {
		return newFieldError(retrievalField("Lambda"), "必须在 (0, 1] 内")
	}
	return nil
}

// validateIndexFile 要求索引文件名是版本目录下的单个文件名。
func validateIndexFile(name string) error {
	if name == "" {
		return errors.New("不能为空")
	}
	if name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("只能是文件名: %s", name)
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}
