// Package sharetarget 负责 Web Share Target 请求的识别、参数解析、
// 重定向地址构造以及最近共享记录的维护。
package sharetarget

import (
	"fmt"
	"net/url"
	"strings"
)

// 共享目标识别的查询参数名。
const (
	ParamURL   = "url"
	ParamTitle = "title"
	ParamText  = "text"
)

// Params 表示一次共享携带的三个可选字段，缺失时为空字符串。
type Params struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// ParseParams 从查询参数中读取共享字段，从不拒绝请求。
func ParseParams(query url.Values) Params {
	return Params{
		URL:   query.Get(ParamURL),
		Title: query.Get(ParamTitle),
		Text:  query.Get(ParamText),
	}
}

// Empty 表示三个字段均为空。
func (p Params) Empty() bool {
	return p.URL == "" && p.Title == "" && p.Text == ""
}

// Values 只包含非空字段，避免出现 "text=" 这类空值参数。
func (p Params) Values() url.Values {
	values := url.Values{}
	if p.Title != "" {
		values.Set(ParamTitle, p.Title)
	}
	if p.Text != "" {
		values.Set(ParamText, p.Text)
	}
	if p.URL != "" {
		values.Set(ParamURL, p.URL)
	}
	return values
}

// RedirectTarget 构造 302 目标：站点基础路径 + 非空共享字段。
func (p Params) RedirectTarget(basePath string) (string, error) {
	if !strings.HasPrefix(basePath, "/") {
		return "", fmt.Errorf("base path must be absolute: %q", basePath)
	}
	target, err := url.Parse(basePath)
	if err != nil {
		return "", fmt.Errorf("parse base path: %w", err)
	}
	if target.IsAbs() || target.Host != "" {
		return "", fmt.Errorf("base path must be origin-relative: %q", basePath)
	}
	target.RawQuery = p.Values().Encode()
	return target.String(), nil
}

// hasAny 判断查询中是否出现过任一识别参数（即便值为空）。
func hasAny(query url.Values) bool {
	for _, name := range []string{ParamURL, ParamTitle, ParamText} {
		if query.Has(name) {
			return true
		}
	}
	return false
}
