package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供站点/版本/缓存结果字段，供请求日志复用。
func RequestFields(site, domain, version, cacheState string) logrus.Fields {
	return logrus.Fields{
		"site":    site,
		"domain":  domain,
		"version": version,
		"cache":   cacheState,
	}
}

// GenerationFields 描述缓存代际生命周期日志的公共字段。
func GenerationFields(action, site, version string) logrus.Fields {
	return logrus.Fields{
		"action":  action,
		"site":    site,
		"version": version,
	}
}
