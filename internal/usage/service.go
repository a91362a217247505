package usage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/disk-lens/disk-lens/internal/scan"
	"github.com/disk-lens/disk-lens/internal/sizecache"
)

// ScanRunner 抽象 du 扫描器，便于测试注入伪实现。
type ScanRunner interface {
	Run(ctx context.Context, root string, includeFiles bool, onProgress func(scan.Progress)) (sizecache.SizeMapping, error)
}

// Service 把缓存、扫描器与文件系统拼装成一层目录树。
// 扫描级失败一律降级为空映射（目录显示 0 字节），不会向调用方抛错，
// 系统整体取可用性优先于精确性。
type Service struct {
	store      *sizecache.Store
	runner     ScanRunner
	logger     *logrus.Logger
	group      singleflight.Group
	onScanDone func(root string)

	subMu     sync.Mutex
	subs      map[string]map[int]func(scan.Progress)
	nextSubID int
}

// NewService 构造物化服务。
func NewService(store *sizecache.Store, runner ScanRunner, logger *logrus.Logger) *Service {
	return &Service{
		store:  store,
		runner: runner,
		logger: logger,
		subs:   make(map[string]map[int]func(scan.Progress)),
	}
}

// WithScanHook 注册扫描成功后的回调（当前用于把扫描根交给文件系统监听器），
// 返回自身方便链式装配。
func (s *Service) WithScanHook(fn func(root string)) *Service {
	s.onScanDone = fn
	return s
}

// DiskUsage 物化 dirPath 的一层目录树：确保存在覆盖映射、
// 列出直接子项并逐个挂上大小。目录大小取直接子项之和，
// 与可视化层实际渲染的内容保持一致，而非映射中自身的总量。
// 第二个返回值指示映射是否来自缓存命中（未触发新扫描）。
func (s *Service) DiskUsage(ctx context.Context, dirPath string, onProgress func(scan.Progress)) (*Node, bool, error) {
	target := sizecache.Normalize(dirPath)

	info, err := os.Stat(target)
	if err != nil {
		return nil, false, err
	}
	node := &Node{
		Name: filepath.Base(target),
		Path: target,
		Type: TypeDirectory,
	}
	if !info.IsDir() {
		// 防御性兜底：非目录按零大小目录节点返回，而非类型错误
		return node, false, nil
	}

	mapping, hit := s.ensureMapping(ctx, target, onProgress)

	entries, err := os.ReadDir(target)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"action": "list_children",
			"path":   target,
		}).Warn("directory listing failed")
		return node, hit, nil
	}

	node.Children = make([]*Node, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		childPath := filepath.Join(target, name)

		if entry.IsDir() {
			// 映射缺失（如扫描期间权限不足的子树）时默认为 0
			child := &Node{
				Name: name,
				Path: childPath,
				Size: mapping[childPath],
				Type: TypeDirectory,
			}
			node.Children = append(node.Children, child)
			node.Size += child.Size
			continue
		}

		fi, err := entry.Info()
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"action": "stat_child",
				"path":   childPath,
			}).Warn("child stat failed, skipped")
			continue
		}
		child := &Node{
			Name: name,
			Path: childPath,
			Size: fi.Size(),
			Type: TypeFile,
		}
		node.Children = append(node.Children, child)
		node.Size += child.Size
	}
	return node, hit, nil
}

// mappingResult 区分映射来源，供调用方记录缓存命中情况。
type mappingResult struct {
	mapping sizecache.SizeMapping
	hit     bool
}

// ensureMapping 保证 target 存在覆盖映射：优先复用最具体的已缓存扫描根，
// 缺失时以 target 本身为根发起新扫描，范围既不比请求更宽，也不比覆盖所需更窄。
// 同一扫描根的并发未命中请求通过 singleflight 合并为一次 du 进程。
func (s *Service) ensureMapping(ctx context.Context, target string, onProgress func(scan.Progress)) (sizecache.SizeMapping, bool) {
	root := target
	if covering, ok := s.store.FindCoveringRoot(target); ok {
		root = covering
	}
	if mapping, ok := s.store.Get(root); ok {
		return mapping, true
	}

	// 合流进同一次扫描的请求也要各自收到进度，先挂到同根的广播列表上
	unsubscribe := s.subscribe(root, onProgress)
	defer unsubscribe()

	v, _, _ := s.group.Do(root, func() (interface{}, error) {
		// 等锁期间可能已有同根扫描完成
		if mapping, ok := s.store.Get(root); ok {
			return mappingResult{mapping: mapping, hit: true}, nil
		}

		broadcast := func(p scan.Progress) { s.broadcast(root, p) }
		mapping, err := s.runner.Run(ctx, root, true, broadcast)
		if err != nil && scan.IsVolumeFailure(err) {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"action": "scan_fallback",
				"root":   root,
			}).Warn("full scan overflowed, retrying directories only")
			mapping, err = s.runner.Run(ctx, root, false, broadcast)
		}
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"action": "scan_failed",
				"root":   root,
			}).Warn("scan failed, serving zero-sized directories")
			return mappingResult{mapping: sizecache.SizeMapping{}}, nil
		}

		s.store.Put(root, mapping)
		if s.onScanDone != nil {
			s.onScanDone(root)
		}
		return mappingResult{mapping: mapping}, nil
	})
	res := v.(mappingResult)
	return res.mapping, res.hit
}

// subscribe 把进度回调挂到 root 的广播列表并返回解除函数；nil 回调为空操作。
func (s *Service) subscribe(root string, fn func(scan.Progress)) func() {
	if fn == nil {
		return func() {}
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()

	set, ok := s.subs[root]
	if !ok {
		set = make(map[int]func(scan.Progress))
		s.subs[root] = set
	}
	id := s.nextSubID
	s.nextSubID++
	set[id] = fn

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(set, id)
		if len(set) == 0 {
			delete(s.subs, root)
		}
	}
}

// broadcast 把一条进度事件分发给 root 的全部订阅者。
// 回调在锁外执行，订阅者侧只做内存更新。
func (s *Service) broadcast(root string, p scan.Progress) {
	s.subMu.Lock()
	fns := make([]func(scan.Progress), 0, len(s.subs[root]))
	for _, fn := range s.subs[root] {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(p)
	}
}
