package telemetry

import (
	"math/rand"
	"sync"
	"time"
)

// RandomSource 随机数源
// 所有随机决策都经过它，测试可注入确定序列
type RandomSource interface {
	// Float64 返回 [0, 1) 的均匀分布
	Float64() float64
	// Intn 返回 [0, n) 的均匀分布整数，n <= 0 时返回 0
	Intn(n int) int
}

// lockedSource 并发安全的 math/rand 封装
type lockedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeededSource 创建固定种子的随机源（同一种子输出序列相同）
func NewSeededSource(seed int64) RandomSource {
	return &lockedSource{rng: rand.New(rand.NewSource(seed))}
}

// NewRandomSource 创建以当前时间为种子的随机源
func NewRandomSource() RandomSource {
	return NewSeededSource(time.Now().UnixNano())
}

func (s *lockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *lockedSource) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

// SequenceSource 按预置序列循环返回的随机源（测试用）
type SequenceSource struct {
	mu     sync.Mutex
	floats []float64
	ints   []int
	fi, ii int
}

// NewSequenceSource 创建序列随机源
// floats 为空时 Float64 恒返回 0；ints 为空时 Intn 恒返回 0
func NewSequenceSource(floats []float64, ints []int) *SequenceSource {
	return &SequenceSource{floats: floats, ints: ints}
}

func (s *SequenceSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.floats) == 0 {
		return 0
	}
	v := s.floats[s.fi%len(s.floats)]
	s.fi++
	return v
}

func (s *SequenceSource) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || len(s.ints) == 0 {
		return 0
	}
	v := s.ints[s.ii%len(s.ints)]
	s.ii++
	if v < 0 {
		v = -v
	}
	return v % n
}

// Clock 时间源
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock 返回系统时钟
func SystemClock() Clock { return systemClock{} }

// ManualClock 手动推进的时钟（测试用）
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock 创建手动时钟
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance 推进时钟
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
