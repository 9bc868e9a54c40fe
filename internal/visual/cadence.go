// internal/visual/cadence.go
package visual

import (
	"math/rand"
	"sync"
	"time"
)

// 默认阈值范围（闭区间）
const (
	DefaultMinThreshold = 3
	DefaultMaxThreshold = 5
)

// Cadence decides when a scene image is due. It counts finalized
// character lines and fires once the count reaches a threshold drawn
// uniformly from [min, max]; every fire redraws the threshold.
type Cadence struct {
	mu        sync.Mutex
	since     int
	threshold int
	min, max  int
	rng       *rand.Rand
}

// NewCadence 创建节拍器；rng 为 nil 时使用时间种子
func NewCadence(min, max int, rng *rand.Rand) *Cadence {
	if min < 1 {
		min = DefaultMinThreshold
	}
	if max < min {
		max = min
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	c := &Cadence{min: min, max: max, rng: rng}
	c.threshold = c.draw()
	return c
}

// NewDefaultCadence uses the [3,5] range.
func NewDefaultCadence(rng *rand.Rand) *Cadence {
	return NewCadence(DefaultMinThreshold, DefaultMaxThreshold, rng)
}

func (c *Cadence) draw() int {
	return c.min + c.rng.Intn(c.max-c.min+1)
}

// Observe records one character line and reports whether an image is
// due. A fire resets the counter and redraws the threshold.
func (c *Cadence) Observe() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.since++
	if c.since < c.threshold {
		return false
	}
	c.since = 0
	c.threshold = c.draw()
	return true
}

// Reset 手动触发后重新计数
func (c *Cadence) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.since = 0
	c.threshold = c.draw()
}

// Since returns the number of lines observed since the last fire.
func (c *Cadence) Since() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.since
}

// Threshold returns the currently drawn threshold.
func (c *Cadence) Threshold() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threshold
}
