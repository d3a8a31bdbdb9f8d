package config

import "fmt"

// FieldError 提供字段路径与错误原因，便于 CLI 向用户反馈。
// Err 保存底层校验错误，Reason 为空时以 Err 的描述代替。
type FieldError struct {
	Field  string
	Reason string
	Err    error
}

func (e FieldError) Error() string {
	reason := e.Reason
	if reason == "" && e.Err != nil {
		reason = e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Field, reason)
}

func (e FieldError) Unwrap() error {
	return e.Err
}

func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// wrapFieldError 把 validateXxx 返回的错误挂到字段路径上。
func wrapFieldError(field string, err error) error {
	return FieldError{Field: field, Err: err}
}

// siteField 输出 Site[name].Field；名称缺失时退回 Site[#index].Field，便于定位第几个站点块。
func siteField(index int, name, field string) string {
	if name == "" {
		return fmt.Sprintf("Site[#%d].%s", index, field)
	}
	return fmt.Sprintf("Site[%s].%s", name, field)
}
