package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别 "30s"、"5m" 或纯数字秒值等写法。
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

// GlobalConfig 描述守护进程的全部运行时行为。
type GlobalConfig struct {
	ListenPort       int      `mapstructure:"ListenPort"`
	LogLevel         string   `mapstructure:"LogLevel"`
	LogFilePath      string   `mapstructure:"LogFilePath"`
	LogMaxSize       int      `mapstructure:"LogMaxSize"`
	LogMaxBackups    int      `mapstructure:"LogMaxBackups"`
	LogCompress      bool     `mapstructure:"LogCompress"`
	CacheTTL         Duration `mapstructure:"CacheTTL"`
	ScanTimeout      Duration `mapstructure:"ScanTimeout"`
	ProgressInterval Duration `mapstructure:"ProgressInterval"`
	DuPath           string   `mapstructure:"DuPath"`
	WatchInvalidate  bool     `mapstructure:"WatchInvalidate"`
}

// Config 是 TOML 配置文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
}
