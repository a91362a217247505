package scan

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/disk-lens/disk-lens/internal/sizecache"
)

const (
	// DefaultTimeout 是整棵子树扫描的硬超时，超过即强制终止子进程。
	DefaultTimeout = 600 * time.Second

	// DefaultProgressInterval 是两次进度回调之间的最小间隔。
	DefaultProgressInterval = time.Second

	// 解析缓冲：初始 64KB，单行上限 1MB。超长路径极少见，
	// 触顶更可能说明输出本身异常，按容量失败处理。
	initialBufSize = 64 * 1024
	maxLineSize    = 1024 * 1024
)

// Progress 描述一次扫描的即时进度。回调在解析协程上执行，
// 实现必须足够便宜（只做内存更新，不做 I/O），否则会拖慢解析。
type Progress struct {
	ProcessedFiles int
	CurrentPath    string
	Complete       bool
}

// Runner 负责启动 du 子进程并流式解析其 stdout。
// Runner 不关心模式选择：includeFiles 的降级重试由调用方决定。
type Runner struct {
	duPath           string
	timeout          time.Duration
	progressInterval time.Duration
}

// NewRunner 构造扫描器；空 duPath 回退到 PATH 中的 du，
// 非正的超时与节流间隔回退到默认值。
func NewRunner(duPath string, timeout, progressInterval time.Duration) *Runner {
	if duPath == "" {
		duPath = "du"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if progressInterval <= 0 {
		progressInterval = DefaultProgressInterval
	}
	return &Runner{
		duPath:           duPath,
		timeout:          timeout,
		progressInterval: progressInterval,
	}
}

// Run 对 root 执行一次整棵子树扫描并返回累积映射。
// includeFiles 为真时传 -ak（文件+目录），否则传 -k（仅目录），单位均为 KB。
// 输出逐行到达逐行解析，不会整体缓冲；正常退出时未换行的尾行
// 也会作为最后一条记录写入映射，并补发一次 Complete 进度事件。
func (r *Runner) Run(ctx context.Context, root string, includeFiles bool, onProgress func(Progress)) (sizecache.SizeMapping, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	mode := "-k"
	if includeFiles {
		mode = "-ak"
	}

	cmd := exec.CommandContext(ctx, r.duPath, mode, root)
	// 超时强杀后若有遗留子进程占着管道，Wait 最多再等这么久就放手
	cmd.WaitDelay = 5 * time.Second
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	mapping := make(sizecache.SizeMapping)
	processed := 0
	lastPath := ""
	lastEmit := time.Now()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, initialBufSize), maxLineSize)
	for scanner.Scan() {
		path, size, ok := parseRecord(scanner.Text())
		if !ok {
			continue
		}
		mapping[sizecache.Normalize(path)] = size
		processed++
		lastPath = path

		if onProgress != nil && time.Since(lastEmit) >= r.progressInterval {
			lastEmit = time.Now()
			onProgress(Progress{ProcessedFiles: processed, CurrentPath: lastPath})
		}
	}
	readErr := scanner.Err()
	if readErr != nil {
		// 读侧先失败时 du 还在往写满的管道里灌数据，
		// 不先杀掉子进程 Wait 会一直阻塞到硬超时
		cancel()
	}

	waitErr := cmd.Wait()
	if errors.Is(readErr, bufio.ErrTooLong) {
		return nil, ErrOutputOverflow
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s", ErrTimeout, r.timeout)
	}
	if readErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, readErr)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return nil, &ProcessError{Code: exitErr.ExitCode()}
		}
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, waitErr)
	}

	if onProgress != nil {
		onProgress(Progress{ProcessedFiles: processed, CurrentPath: lastPath, Complete: true})
	}
	return mapping, nil
}

// parseRecord 解析一行 `<sizeKB>\t<path>` 记录并换算为字节数。
// 字段不足两个或大小非法时整行静默跳过。
func parseRecord(line string) (string, int64, bool) {
	fields := strings.SplitN(line, "\t", 2)
	if len(fields) < 2 || fields[1] == "" {
		return "", 0, false
	}
	kb, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil || kb < 0 {
		return "", 0, false
	}
	return fields[1], kb * 1024, true
}
