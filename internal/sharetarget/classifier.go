package sharetarget

import (
	"net/url"
	"strings"

	"github.com/share-gate/share-gate/internal/config"
)

// Classifier 判定请求是否为共享目标请求，识别方式由站点配置决定。
type Classifier struct {
	Mode      string
	BasePath  string
	Shell     string
	SharePath string
}

// NewClassifier 根据站点配置构造 Classifier。
func NewClassifier(site config.SiteConfig) Classifier {
	return Classifier{
		Mode:      site.ShareMatch,
		BasePath:  site.BasePath,
		Shell:     site.Shell,
		SharePath: site.SharePath,
	}
}

// IsShareTarget 对 path 与 query 进行判定，path 为未带查询串的请求路径。
func (c Classifier) IsShareTarget(path string, query url.Values) bool {
	switch c.Mode {
	case config.ShareMatchPath:
		return c.matchPath(path)
	case config.ShareMatchQuery:
		return c.matchQuery(path, query)
	default:
		return c.matchPath(path) || c.matchQuery(path, query)
	}
}

func (c Classifier) matchPath(path string) bool {
	return c.SharePath != "" && strings.Contains(path, c.SharePath)
}

func (c Classifier) matchQuery(path string, query url.Values) bool {
	if !hasAny(query) {
		return false
	}
	return c.AtBasePath(path)
}

// AtBasePath 接受 BasePath、去掉结尾斜杠的 BasePath 以及外壳文档路径。
// 共享跳转的目标总是落在这些路径上。
func (c Classifier) AtBasePath(path string) bool {
	if c.BasePath == "" {
		return false
	}
	if path == c.BasePath {
		return true
	}
	if trimmed := strings.TrimSuffix(c.BasePath, "/"); trimmed != "" && path == trimmed {
		return true
	}
	if c.Shell != "" && path == c.BasePath+strings.TrimPrefix(c.Shell, "/") {
		return true
	}
	return false
}
