package inject

import (
	"context"

	"wsa/simfeed/internal/domains/common"
	"wsa/simfeed/internal/domains/common/job"
	"wsa/simfeed/internal/domains/common/response"
	"wsa/simfeed/internal/framework"
	"wsa/simfeed/internal/telemetry"
)

// Handler 显式创建告警 Handler
type Handler struct {
	ctx      context.Context
	meta     *job.Meta
	data     job.AlertInjectData
	resolver common.DashboardResolver
}

// NewHandler 创建告警注入 Handler
func NewHandler(ctx context.Context, meta *job.Meta, payload interface{}, resolver common.DashboardResolver) (common.HandlerServ, error) {
	var data job.AlertInjectData
	if err := common.DecodePayload(payload, &data); err != nil {
		return nil, err
	}

	return &Handler{
		ctx:      ctx,
		meta:     meta,
		data:     data,
		resolver: resolver,
	}, nil
}

// GetProcess 写入告警
func (h *Handler) GetProcess() *response.Response {
	result := response.NewAlertResult(h.data.Dashboard)

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
		Then("inject", func(ctx context.Context) error {
			ev := target.Inject(telemetry.AlertEvent{
				Severity:    telemetry.Severity(h.data.Severity),
				Type:        h.data.Type,
				Title:       h.data.Title,
				Description: h.data.Description,
				Location:    h.data.Location,
				CameraID:    h.data.CameraID,
				AssignedTo:  h.data.AssignedTo,
			})
			result.ID = ev.ID
			result.Alert = &ev
			return nil
		})

	return chain.Run(h.ctx)
}
