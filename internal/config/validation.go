package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	switch g.StorageDriver {
	case StorageDriverFS, StorageDriverLevelDB:
	default:
		return newFieldError("Global.StorageDriver", "仅支持 fs/leveldb")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.InstallTimeout.DurationValue() <= 0 {
		return newFieldError("Global.InstallTimeout", "必须大于 0")
	}
	if g.MaxCacheableSize <= 0 {
		return newFieldError("Global.MaxCacheableSize", "必须大于 0")
	}
	if g.HistoryLimit < 0 {
		return newFieldError("Global.HistoryLimit", "不能为负数")
	}

	if len(c.Sites) == 0 {
		return errors.New("至少需要配置一个 Site")
	}

	seenNames := map[string]struct{}{}
	for idx := range c.Sites {
		site := &c.Sites[idx]
		if site.Name == "" {
			return newFieldError(siteField(idx, "", "Name"), "不能为空")
		}
		if err := validateSegment(site.Name); err != nil {
			return wrapFieldError(siteField(idx, site.Name, "Name"), err)
		}
		if _, exists := seenNames[site.Name]; exists {
			return newFieldError(siteField(idx, site.Name, "Name"), "重复")
		}
		seenNames[site.Name] = struct{}{}

		if err := validateDomain(site.Domain); err != nil {
			return wrapFieldError(siteField(idx, site.Name, "Domain"), err)
		}
		if err := validateOrigin(site.Origin); err != nil {
			return wrapFieldError(siteField(idx, site.Name, "Origin"), err)
		}
		if site.BasePath == "" {
			return newFieldError(siteField(idx, site.Name, "BasePath"), "为必填项")
		}
		if err := validateBasePath(site.BasePath); err != nil {
			return wrapFieldError(siteField(idx, site.Name, "BasePath"), err)
		}
		if strings.ContainsAny(site.Shell, "?#") {
			return newFieldError(siteField(idx, site.Name, "Shell"), "不允许包含查询参数或片段")
		}

		site.CacheVersion = strings.TrimSpace(site.CacheVersion)
		if site.CacheVersion == "" {
			return newFieldError(siteField(idx, site.Name, "CacheVersion"), "不能为空")
		}
		if err := validateSegment(site.CacheVersion); err != nil {
			return wrapFieldError(siteField(idx, site.Name, "CacheVersion"), err)
		}

		for assetIdx, asset := range site.Assets {
			if !strings.HasPrefix(asset, "/") {
				return newFieldError(siteField(idx, site.Name, fmt.Sprintf("Assets[%d]", assetIdx)), "必须是以 / 开头的站内路径")
			}
		}

		switch site.ShareMatch {
		case ShareMatchPath, ShareMatchQuery, ShareMatchAny:
		default:
			return newFieldError(siteField(idx, site.Name, "ShareMatch"), "仅支持 path/query/any")
		}
		if site.ShareMatch != ShareMatchQuery && !strings.HasPrefix(site.SharePath, "/") {
			return newFieldError(siteField(idx, site.Name, "SharePath"), "必须以 / 开头")
		}
		switch site.ShareStrategy {
		case ShareStrategyServe, ShareStrategyRedirect:
		default:
			return newFieldError(siteField(idx, site.Name, "ShareStrategy"), "仅支持 serve/redirect")
		}
	}

	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少源站地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，源站: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("源站缺少 Host: %s", raw)
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return fmt.Errorf("源站不允许包含路径，请改用 BasePath: %s", raw)
	}
	return nil
}

// validateBasePath 要求部署路径以 / 开头并以 / 结尾，例如 / 或 /playground/。
func validateBasePath(base string) error {
	if base == "" {
		return errors.New("BasePath 为必填项")
	}
	if !strings.HasPrefix(base, "/") || !strings.HasSuffix(base, "/") {
		return errors.New("BasePath 必须以 / 开头并以 / 结尾")
	}
	if strings.ContainsAny(base, "?# ") {
		return errors.New("BasePath 不允许包含查询参数、片段或空格")
	}
	return nil
}

// validateSegment 保证名称可以安全地作为目录名或存储键前缀。
func validateSegment(value string) error {
	if value == "." || value == ".." || strings.HasPrefix(value, ".") {
		return errors.New("不能以 . 开头")
	}
	if strings.ContainsAny(value, "/\\\x00 ") {
		return errors.New("不允许包含路径分隔符或空白")
	}
	return nil
}
