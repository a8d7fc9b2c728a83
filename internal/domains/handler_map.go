package domains

import (
	"wsa/simfeed/internal/domains/common"
	"wsa/simfeed/internal/domains/common/job"
	"wsa/simfeed/internal/domains/handlers/alert/action"
	"wsa/simfeed/internal/domains/handlers/alert/inject"
)

// HandlerMap 路由表（ActionType → Handler 映射）
var HandlerMap = map[string]common.HandlerServProc{
	job.ActionTypeAlertAction: action.NewHandler,
	job.ActionTypeAlertInject: inject.NewHandler,
}
