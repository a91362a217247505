package usage

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/disk-lens/disk-lens/internal/sizecache"
)

// ErrProtectedPath 表示目标命中系统保护清单，删除被硬性拒绝。
// 这是安全不变式，不属于可降级的失败。
var ErrProtectedPath = errors.New("refusing to delete protected system path")

// deniedRoots 绝不允许删除的系统路径，另加用户主目录本身。
var deniedRoots = map[string]struct{}{
	"/":     {},
	"/bin":  {},
	"/boot": {},
	"/dev":  {},
	"/etc":  {},
	"/home": {},
	"/lib":  {},
	"/opt":  {},
	"/proc": {},
	"/root": {},
	"/sbin": {},
	"/sys":  {},
	"/usr":  {},
	"/var":  {},
}

// DeleteEntry 删除文件或整棵目录，并使其路径相关的缓存记录失效。
func (s *Service) DeleteEntry(path string) error {
	target := sizecache.Normalize(path)
	if isProtected(target) {
		return fmt.Errorf("%w: %s", ErrProtectedPath, target)
	}

	if err := os.RemoveAll(target); err != nil {
		return err
	}

	removed := s.store.Invalidate(target)
	s.logger.WithFields(logrus.Fields{
		"action":        "delete_entry",
		"path":          target,
		"cache_records": removed,
	}).Info("entry deleted")
	return nil
}

func isProtected(target string) bool {
	if _, ok := deniedRoots[target]; ok {
		return true
	}
	if home, err := os.UserHomeDir(); err == nil && sizecache.Normalize(home) == target {
		return true
	}
	return false
}
