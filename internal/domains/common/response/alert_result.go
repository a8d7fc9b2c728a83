package response

import (
	"wsa/simfeed/internal/domains/common/job"
	"wsa/simfeed/internal/telemetry"
)

const (
	AlertStatusSuccess = "SUCCESS"
	AlertStatusFailed  = "FAILED"
)

// AlertResult 告警处理结果（实现 ResultI 接口）
type AlertResult struct {
	ID        string                `json:"id"`
	Dashboard string                `json:"dashboard"`
	Status    string                `json:"status"`
	Alert     *telemetry.AlertEvent `json:"alert,omitempty"`
}

// NewAlertResult 创建告警处理结果
func NewAlertResult(dashboard string) *AlertResult {
	return &AlertResult{Dashboard: dashboard}
}

// Set 实现 ResultI 接口
func (r *AlertResult) Set(meta *job.Meta, err error) {
	if r.ID == "" {
		r.ID = meta.ID
	}
	if err != nil {
		r.Status = AlertStatusFailed
		return
	}
	r.Status = AlertStatusSuccess
}

// GetStatus 实现 ResultI 接口
func (r *AlertResult) GetStatus() string {
	return r.Status
}
