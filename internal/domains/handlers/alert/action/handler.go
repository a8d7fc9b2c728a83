package action

import (
	"context"

	"wsa/simfeed/internal/domains/common"
	"wsa/simfeed/internal/domains/common/job"
	"wsa/simfeed/internal/domains/common/response"
	"wsa/simfeed/internal/framework"
	"wsa/simfeed/internal/telemetry"
	"wsa/simfeed/pkg/errorutil"
)

// Handler 告警动作 Handler（resolve / investigate / escalate / view_details）
type Handler struct {
	ctx      context.Context
	meta     *job.Meta
	data     job.AlertActionData
	resolver common.DashboardResolver
}

// NewHandler 创建告警动作 Handler
func NewHandler(ctx context.Context, meta *job.Meta, payload interface{}, resolver common.DashboardResolver) (common.HandlerServ, error) {
	var data job.AlertActionData
	if err := common.DecodePayload(payload, &data); err != nil {
		return nil, err
	}

	// 未显式给出 alert_id 时使用 Job 业务 ID
	if data.AlertID == "" {
		data.AlertID = meta.ID
	}
	if data.AlertID == "" {
		return nil, errorutil.InvalidAction("alert_id", "alert_id is required")
	}

	return &Handler{
		ctx:      ctx,
		meta:     meta,
		data:     data,
		resolver: resolver,
	}, nil
}

// GetProcess 处理告警动作
func (h *Handler) GetProcess() *response.Response {
	result := response.NewAlertResult(h.data.Dashboard)
	result.ID = h.data.AlertID

	err := h.process(result)

	resp := &response.Response{}
	resp.WrapResponse(result, h.meta, err)
	return resp
}

func (h *Handler) process(result *response.AlertResult) error {
	var target common.AlertTarget

	chain := framework.NewPreProcessor().
		Then("resolve_dashboard", func(ctx context.Context) error {
			t, err := h.resolver.Alerts(h.data.Dashboard)
			if err != nil {
				return err
			}
			target = t
			return nil
		}).
		Then("apply_action", func(ctx context.Context) error {
			ev, err := target.ApplyAction(h.data.AlertID, telemetry.AlertAction(h.data.Action))
			if err != nil {
				return err
			}
			result.Alert = &ev
			return nil
		})

	return chain.Run(h.ctx)
}
