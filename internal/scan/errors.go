package scan

import (
	"errors"
	"fmt"
)

// 扫描失败的哨兵错误，调用方通过 errors.Is 区分处理策略。
var (
	// ErrSpawnFailed 表示子进程根本没能启动或输出流读取中断。
	ErrSpawnFailed = errors.New("scan process spawn failed")

	// ErrTimeout 表示子进程超过硬超时后被强制终止。
	ErrTimeout = errors.New("scan process timed out")

	// ErrOutputOverflow 表示单行输出超过解析缓冲上限，通常意味着
	// 子树条目规模过大，应改用仅目录模式重扫。
	ErrOutputOverflow = errors.New("scan output exceeded line buffer")
)

// ProcessError 表示 du 以非零状态码退出。
type ProcessError struct {
	Code int
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("scan process exited with code %d", e.Code)
}

// IsVolumeFailure 判断错误是否由输出规模引起（超时或缓冲溢出），
// 这类失败值得用 includeFiles=false 的降级模式再试一次。
func IsVolumeFailure(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrOutputOverflow)
}
