package sizecache

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultTTL 是缓存记录的默认有效期，超过后在下一次访问时被清除。
const DefaultTTL = time.Hour

// SizeMapping 保存一次扫描得出的 归一化路径→字节数 映射，
// 覆盖扫描根及其下全部条目；扫描完成后不再修改。
type SizeMapping map[string]int64

// record 是单个扫描根的内部缓存条目。
type record struct {
	mapping   SizeMapping
	timestamp time.Time
}

// RootInfo 描述一个缓存根的诊断视图，供 /-/cache 接口输出。
type RootInfo struct {
	Root    string
	Entries int
	Age     time.Duration
	Bytes   int64
}

// Store 以扫描根为键管理 SizeMapping。过期采用懒惰策略：
// 只在访问时检查并顺手清除，不存在后台清理协程。
// 所有可变状态都由互斥锁保护，可被 Fiber handler 并发访问。
type Store struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	records map[string]*record
}

// NewStore 构造空缓存；ttl 非正时回退到 DefaultTTL。
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		ttl:     ttl,
		now:     time.Now,
		records: make(map[string]*record),
	}
}

// WithClock 注入时钟，便于测试伪造当前时间；返回自身方便链式调用。
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Normalize 把路径解析为绝对形式并去除末尾分隔符；
// 根目录归一化为分隔符本身而非空串。结果可重复归一化而不变。
func Normalize(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = p
	}
	return filepath.Clean(abs)
}

// covers 判断 root 是否为 path 的祖先或与之相同。
// 前缀比较必须携带分隔符，否则 /ab 会被误判为落在根 /a 之下。
func covers(root, path string) bool {
	if root == path {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}

// Get 返回 root 对应的有效映射；记录过期时顺手清除并返回未命中。
func (s *Store) Get(root string) (SizeMapping, bool) {
	key := Normalize(root)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, false
	}
	if s.expiredLocked(rec) {
		delete(s.records, key)
		return nil, false
	}
	return rec.mapping, true
}

// Put 记录一次成功扫描的结果，同一扫描根只保留最新一条。
func (s *Store) Put(root string, mapping SizeMapping) {
	key := Normalize(root)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key] = &record{
		mapping:   mapping,
		timestamp: s.now(),
	}
}

// FindCoveringRoot 在全部有效记录中查找 path 的最长祖先或同路径扫描根，
// 即最具体的覆盖扫描；遍历中发现的过期记录顺手清除。
func (s *Store) FindCoveringRoot(path string) (string, bool) {
	target := Normalize(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	best := ""
	found := false
	for key, rec := range s.records {
		if s.expiredLocked(rec) {
			delete(s.records, key)
			continue
		}
		if !covers(key, target) {
			continue
		}
		if !found || len(key) > len(best) {
			best = key
			found = true
		}
	}
	return best, found
}

// Invalidate 移除与 target 相同、为其祖先或为其后代的全部记录，
// 返回移除条数；target 无匹配记录时为无副作用的空操作。
// 两个方向都要检查：删除缓存根下任意路径会使整棵映射失真，
// 删除缓存根自身也会连带波及更窄的嵌套扫描。
func (s *Store) Invalidate(path string) int {
	target := Normalize(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.records {
		if covers(key, target) || covers(target, key) {
			delete(s.records, key)
			removed++
		}
	}
	return removed
}

// Clear 清空全部缓存记录。
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*record)
}

// Snapshot 输出全部有效记录的诊断信息，按扫描根排序。
func (s *Store) Snapshot() []RootInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]RootInfo, 0, len(s.records))
	for key, rec := range s.records {
		if s.expiredLocked(rec) {
			delete(s.records, key)
			continue
		}
		infos = append(infos, RootInfo{
			Root:    key,
			Entries: len(rec.mapping),
			Age:     s.now().Sub(rec.timestamp),
			Bytes:   rec.mapping[key],
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Root < infos[j].Root })
	return infos
}

func (s *Store) expiredLocked(rec *record) bool {
	return s.now().Sub(rec.timestamp) >= s.ttl
}
