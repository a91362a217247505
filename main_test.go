package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// configFixture writes a TOML config into a temp dir and returns its path.
func configFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return path
}

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("DISK_LENS_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
}

func TestParseCLIFlagsDefault(t *testing.T) {
	t.Setenv("DISK_LENS_CONFIG", "")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "config.toml" {
		t.Fatalf("默认配置路径应为 config.toml，得到 %s", opts.configPath)
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	path := configFixture(t, `
ListenPort = 5600
CacheTTL = 3600
ScanTimeout = "10m"
`)
	code := run(cliOptions{configPath: path, checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: filepath.Join(t.TempDir(), "missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "ListenPort = -1"), checkOnly: true})
	if code == 0 {
		t.Fatalf("非法端口应导致非零退出码")
	}
	if !strings.Contains(stdErr.(*bytes.Buffer).String(), "ListenPort") {
		t.Fatalf("错误输出应指向 ListenPort 字段")
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOut.(*bytes.Buffer).String(), "disk-lens") {
		t.Fatalf("version 输出应包含 disk-lens 标识")
	}
}
