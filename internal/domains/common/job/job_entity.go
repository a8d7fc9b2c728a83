package job

// 动作类型（路由键）
const (
	ActionTypeAlertAction = "alert_action"
	ActionTypeAlertInject = "alert_inject"
)

// Job 标准 Job 结构
type Job struct {
	Payload *JobPayload `json:"payload"`
}

// JobPayload Job 负载
type JobPayload struct {
	Data *JobPayloadData `json:"data"`
}

// JobPayloadData Job 数据
type JobPayloadData struct {
	// 元信息
	RequestID  string `json:"request_id"`  // 请求 ID（TraceID）
	OrgID      string `json:"org_id"`      // 组织 ID
	ActionType string `json:"action_type"` // 动作类型（路由键）
	ID         string `json:"id"`          // 业务 ID（告警 ID）

	// 业务数据
	Data interface{} `json:"data"`

	// 扩展
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Meta 元数据
type Meta struct {
	RequestID  string `json:"request_id"`
	OrgID      string `json:"org_id,omitempty"`
	ActionType string `json:"action_type"`
	ID         string `json:"id,omitempty"`
}

// AlertActionData alert_action 业务数据
type AlertActionData struct {
	Dashboard string `json:"dashboard" validate:"required"`
	AlertID   string `json:"alert_id"`
	Action    string `json:"action" validate:"required,oneof=resolve investigate escalate view_details"`
}

// AlertInjectData alert_inject 业务数据
type AlertInjectData struct {
	Dashboard   string `json:"dashboard" validate:"required"`
	Severity    string `json:"severity" validate:"required,oneof=low medium warning critical"`
	Type        string `json:"type" validate:"required"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location" validate:"required"`
	CameraID    string `json:"camera_id"`
	AssignedTo  string `json:"assigned_to"`
}

// New 构造标准 Job（投递方使用）
func New(requestID, actionType, id string, data interface{}) *Job {
	return &Job{
		Payload: &JobPayload{
			Data: &JobPayloadData{
				RequestID:  requestID,
				ActionType: actionType,
				ID:         id,
				Data:       data,
			},
		},
	}
}
