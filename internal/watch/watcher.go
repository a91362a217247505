package watch

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/disk-lens/disk-lens/internal/sizecache"
)

// Watcher 监听已扫描根目录的文件系统事件，发现变更时让
// 对应缓存记录失效，作为显式失效调用之外的兜底。
// 只监听扫描根本身这一层：深层变更最终会经由删除/刷新接口
// 触发显式失效，这里不做递归 watch 以控制 fd 占用。
type Watcher struct {
	store   *sizecache.Store
	logger  *logrus.Logger
	watcher *fsnotify.Watcher

	mu    sync.Mutex
	roots map[string]struct{}
}

// New 创建监听器并启动事件循环。
func New(store *sizecache.Store, logger *logrus.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		store:   store,
		logger:  logger,
		watcher: fw,
		roots:   make(map[string]struct{}),
	}
	go w.loop()
	return w, nil
}

// Register 把扫描根加入监听，重复注册为幂等操作；
// 注册失败只记警告，不影响扫描结果本身。
func (w *Watcher) Register(root string) {
	key := sizecache.Normalize(root)

	w.mu.Lock()
	if _, ok := w.roots[key]; ok {
		w.mu.Unlock()
		return
	}
	w.roots[key] = struct{}{}
	w.mu.Unlock()

	if err := w.watcher.Add(key); err != nil {
		w.logger.WithError(err).WithFields(logrus.Fields{
			"action": "watch_register",
			"root":   key,
		}).Warn("watch registration failed")
	}
}

// Close 停止监听并释放底层资源。
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if removed := w.store.Invalidate(ev.Name); removed > 0 {
				w.logger.WithFields(logrus.Fields{
					"action":        "watch_invalidate",
					"path":          ev.Name,
					"op":            ev.Op.String(),
					"cache_records": removed,
				}).Info("cache invalidated by filesystem event")
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).WithFields(logrus.Fields{
				"action": "watch_error",
			}).Warn("filesystem watcher error")
		}
	}
}
