package progress

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/disk-lens/disk-lens/internal/scan"
)

// 注册表保留期。已完成条目在 GUI 轮询到 100% 后很快失去价值；
// 从未收到回调的条目（缓存命中请求不触发扫描）按最近更新时间过期，
// 否则注册表会随请求数无界增长。宽限期取得比扫描硬超时更长，
// 避免误删仍在等待首个进度事件的在途扫描。
const (
	completedRetention = 5 * time.Minute
	staleRetention     = 15 * time.Minute
)

// Snapshot 是对外暴露的进度视图，按请求 ID 轮询获取。
type Snapshot struct {
	RequestID      string  `json:"request_id"`
	Path           string  `json:"path"`
	ProcessedFiles int     `json:"processed_files"`
	ProcessedHuman string  `json:"processed_human"`
	CurrentPath    string  `json:"current_path"`
	Percent        float64 `json:"percent"`
	Complete       bool    `json:"complete"`
}

type trackedState struct {
	snapshot  Snapshot
	estimator *Estimator
	updatedAt time.Time
}

// Hub 按请求 ID 保存每个在途扫描的最新进度快照。
// 扫描回调只做一次加锁内存更新，满足“回调必须廉价”的约束。
type Hub struct {
	mu    sync.Mutex
	now   func() time.Time
	state map[string]*trackedState
}

// NewHub 构造空的进度注册表。
func NewHub() *Hub {
	return &Hub{
		now:   time.Now,
		state: make(map[string]*trackedState),
	}
}

// WithClock 注入时钟，便于测试控制保留期清理。
func (h *Hub) WithClock(now func() time.Time) *Hub {
	h.now = now
	return h
}

// Track 注册一次请求并返回可直接交给扫描器的进度回调。
// 注册同时顺手清理超过保留期的陈旧条目。
func (h *Hub) Track(requestID, path string) func(scan.Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.pruneLocked()
	h.state[requestID] = &trackedState{
		snapshot:  Snapshot{RequestID: requestID, Path: path, ProcessedHuman: "0"},
		estimator: NewEstimator(),
		updatedAt: h.now(),
	}

	return func(p scan.Progress) {
		h.mu.Lock()
		defer h.mu.Unlock()

		st, ok := h.state[requestID]
		if !ok {
			return
		}
		st.snapshot.ProcessedFiles = p.ProcessedFiles
		st.snapshot.ProcessedHuman = humanize.Comma(int64(p.ProcessedFiles))
		st.snapshot.CurrentPath = p.CurrentPath
		st.snapshot.Complete = p.Complete
		st.snapshot.Percent = st.estimator.Estimate(p.ProcessedFiles, p.Complete)
		st.updatedAt = h.now()
	}
}

// Lookup 返回请求的最新快照。
func (h *Hub) Lookup(requestID string) (Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.state[requestID]
	if !ok {
		return Snapshot{}, false
	}
	return st.snapshot, true
}

// Forget 移除请求的进度条目；不存在时为空操作。
func (h *Hub) Forget(requestID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.state, requestID)
}

func (h *Hub) pruneLocked() {
	now := h.now()
	for id, st := range h.state {
		retention := staleRetention
		if st.snapshot.Complete {
			retention = completedRetention
		}
		if st.updatedAt.Before(now.Add(-retention)) {
			delete(h.state, id)
		}
	}
}
