package config

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("LogLevel", "不是合法的日志级别")
	}
	if g.CacheTTL.DurationValue() <= 0 {
		return newFieldError("CacheTTL", "必须大于 0")
	}
	if g.ScanTimeout.DurationValue() <= 0 {
		return newFieldError("ScanTimeout", "必须大于 0")
	}
	if g.ProgressInterval.DurationValue() <= 0 {
		return newFieldError("ProgressInterval", "必须大于 0")
	}
	if g.DuPath == "" {
		return newFieldError("DuPath", "不能为空")
	}
	if g.LogMaxSize < 0 || g.LogMaxBackups < 0 {
		return newFieldError("LogMaxSize/LogMaxBackups", "不能为负数")
	}

	return nil
}
