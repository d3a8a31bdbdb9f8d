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

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// 站点级共享目标识别方式。
const (
	ShareMatchPath  = "path"
	ShareMatchQuery = "query"
	ShareMatchAny   = "any"
)

// 共享目标请求的解析策略。
const (
	ShareStrategyServe    = "serve"
	ShareStrategyRedirect = "redirect"
)

// 缓存存储驱动。
const (
	StorageDriverFS      = "fs"
	StorageDriverLevelDB = "leveldb"
)

// GlobalConfig 描述全局运行时行为，所有站点共享同一份参数。
type GlobalConfig struct {
	ListenPort       int      `mapstructure:"ListenPort"`
	LogLevel         string   `mapstructure:"LogLevel"`
	LogFilePath      string   `mapstructure:"LogFilePath"`
	LogMaxSize       int      `mapstructure:"LogMaxSize"`
	LogMaxBackups    int      `mapstructure:"LogMaxBackups"`
	LogCompress      bool     `mapstructure:"LogCompress"`
	StoragePath      string   `mapstructure:"StoragePath"`
	StorageDriver    string   `mapstructure:"StorageDriver"`
	UpstreamTimeout  Duration `mapstructure:"UpstreamTimeout"`
	InstallTimeout   Duration `mapstructure:"InstallTimeout"`
	MaxCacheableSize int64    `mapstructure:"MaxCacheableSize"`
	HistoryLimit     int      `mapstructure:"HistoryLimit"`
}

// SiteConfig 描述一个被代理的 Web Share Target 应用部署。
type SiteConfig struct {
	Name          string   `mapstructure:"Name"`
	Domain        string   `mapstructure:"Domain"`
	Origin        string   `mapstructure:"Origin"`
	BasePath      string   `mapstructure:"BasePath"`
	Shell         string   `mapstructure:"Shell"`
	CacheVersion  string   `mapstructure:"CacheVersion"`
	Assets        []string `mapstructure:"Assets"`
	ShareMatch    string   `mapstructure:"ShareMatch"`
	SharePath     string   `mapstructure:"SharePath"`
	ShareStrategy string   `mapstructure:"ShareStrategy"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Sites  []SiteConfig `mapstructure:"Site"`
}

// ShellPath 返回站点外壳文档的绝对路径，例如 /app/index.html。
func (s SiteConfig) ShellPath() string {
	return s.BasePath + strings.TrimPrefix(s.Shell, "/")
}

// SiteVersions 返回所有站点的缓存版本摘要，例如 share:web-share-target-v1。
func SiteVersions(sites []SiteConfig) []string {
	if len(sites) == 0 {
		return nil
	}
	result := make([]string, len(sites))
	for i, site := range sites {
		result[i] = fmt.Sprintf("%s:%s", site.Name, site.CacheVersion)
	}
	return result
}
