package common

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"wsa/simfeed/internal/domains/common/job"
	"wsa/simfeed/internal/domains/common/response"
	"wsa/simfeed/internal/telemetry"
	"wsa/simfeed/pkg/errorutil"
)

// HandlerServProc Handler 构造函数类型
type HandlerServProc func(ctx context.Context, meta *job.Meta, payload interface{}, resolver DashboardResolver) (HandlerServ, error)

// HandlerServ Handler 接口
type HandlerServ interface {
	GetProcess() *response.Response
}

// AlertTarget 告警日志的可写入口（AlertInjector 实现）
type AlertTarget interface {
	Inject(ev telemetry.AlertEvent) telemetry.AlertEvent
	ApplyAction(alertID string, action telemetry.AlertAction) (telemetry.AlertEvent, error)
}

// DashboardResolver 按名称查找看板的告警入口
type DashboardResolver interface {
	Alerts(dashboard string) (AlertTarget, error)
}

var validate = validator.New()

// DecodePayload 将 Job 业务数据解码到目标结构并校验
func DecodePayload(payload interface{}, out interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}
	if err := json.Unmarshal(payloadBytes, out); err != nil {
		return errorutil.InvalidAction("payload", "unmarshal business data failed: %v", err)
	}
	if err := validate.Struct(out); err != nil {
		return errorutil.InvalidAction("payload", "%v", err)
	}
	return nil
}
