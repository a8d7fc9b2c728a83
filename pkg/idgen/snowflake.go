package idgen

import (
	"fmt"
	"sync"
	"time"
)

// SnowflakeIDGenerator 单调递增 ID 生成器
// ID 格式: 毫秒时间偏移 * 10000 + 节点ID(2位) * 100 + 序列号(2位)
// 同一毫秒内序列号用尽时借用下一毫秒，保证严格递增
type SnowflakeIDGenerator struct {
	mu       sync.Mutex
	epoch    int64 // 起始时间 (2025-01-01 00:00:00 UTC, 毫秒)
	nodeID   int64 // 节点ID (0-99)
	lastID   int64 // 上次生成的 ID
	nowMilli func() int64
}

const (
	maxNodeID   = 99
	maxSequence = 99
)

// NewSnowflakeIDGenerator 创建ID生成器
// nodeID: 节点ID，范围 0-99，越界时取 0
func NewSnowflakeIDGenerator(nodeID int64) *SnowflakeIDGenerator {
	if nodeID < 0 || nodeID > maxNodeID {
		nodeID = 0
	}

	return &SnowflakeIDGenerator{
		epoch:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
		nodeID:   nodeID,
		nowMilli: func() int64 { return time.Now().UnixMilli() },
	}
}

// NextID 生成下一个ID
func (g *SnowflakeIDGenerator) NextID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	offset := g.nowMilli() - g.epoch
	if offset < 0 {
		offset = 0
	}

	id := offset*10000 + g.nodeID*100
	if id <= g.lastID {
		// 同一毫秒（或时钟回拨）：在上一个 ID 基础上递增
		if g.lastID%100 < maxSequence {
			id = g.lastID + 1
		} else {
			id = (g.lastID/10000+1)*10000 + g.nodeID*100
		}
	}

	g.lastID = id
	return id
}

// Next 生成带前缀的字符串 ID，例如 alert-123400
func (g *SnowflakeIDGenerator) Next(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, g.NextID())
}
