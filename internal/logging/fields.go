package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供请求级字段，供 HTTP 接口日志复用。
func RequestFields(requestID, path string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"path":       path,
		"cache_hit":  cacheHit,
	}
}
