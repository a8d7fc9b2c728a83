package telemetry

import "time"

// EventType 推送事件类型
type EventType string

const (
	EventMetric     EventType = "metric"
	EventAlert      EventType = "alert"
	EventConnection EventType = "connection"
	// EventSnapshot websocket 建连后的首条全量状态
	EventSnapshot EventType = "snapshot"
	// EventEmergency 紧急模式开启/结束
	EventEmergency EventType = "emergency"
)

// Event 推送给下游（websocket / redis）的统一信封
type Event struct {
	Type      EventType   `json:"type"`
	Dashboard string      `json:"dashboard"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// MetricUpdate 指标更新负载
type MetricUpdate struct {
	ID    string `json:"id"`
	Value Value  `json:"value"`
}

// EmergencyState 紧急模式负载
type EmergencyState struct {
	Active bool      `json:"active"`
	Reason string    `json:"reason,omitempty"`
	Until  time.Time `json:"until"`
}
