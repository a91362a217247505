package progress

import (
	"math"
	"time"
)

const (
	// 未完成时的估算上限，留出尾段避免在 95% 以上来回试探。
	maxPercent = 95

	// 文件数分量在约 50 万条记录处饱和（对数刻度）。
	fileSaturation = 500_000

	// 时间分量的衰减常数。
	timeTau = 60 * time.Second
)

// Estimator 把原始进度事件换算为平滑、单调不减的完成度百分比。
// 仅供 UI 展示，正确性逻辑不得依赖它；实现可整体替换。
type Estimator struct {
	started time.Time
	now     func() time.Time
	last    float64
}

// NewEstimator 以当前时刻为起点构造估算器。
func NewEstimator() *Estimator {
	e := &Estimator{now: time.Now}
	e.started = e.now()
	return e
}

// WithClock 注入时钟并重置起点，便于测试推进时间。
func (e *Estimator) WithClock(now func() time.Time) *Estimator {
	e.now = now
	e.started = now()
	return e
}

// Estimate 返回最新完成度：对数刻度的文件数分量（至多 70 分）加上
// 随耗时饱和的时间分量（至多 25 分），整体截断在 95；
// complete 为真时直接报 100。结果保证不低于上一次返回值。
func (e *Estimator) Estimate(processedFiles int, complete bool) float64 {
	if complete {
		e.last = 100
		return 100
	}

	fileComponent := 70 * math.Log1p(float64(processedFiles)) / math.Log1p(fileSaturation)
	if fileComponent > 70 {
		fileComponent = 70
	}

	elapsed := e.now().Sub(e.started)
	timeComponent := 25 * (1 - math.Exp(-elapsed.Seconds()/timeTau.Seconds()))

	pct := fileComponent + timeComponent
	if pct > maxPercent {
		pct = maxPercent
	}
	if pct < e.last {
		pct = e.last
	}
	e.last = pct
	return pct
}
