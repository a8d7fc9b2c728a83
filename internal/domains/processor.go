package domains

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bitleak/lmstfy/client"
	"github.com/google/uuid"

	"wsa/simfeed/internal/domains/common"
	"wsa/simfeed/internal/domains/common/job"
	"wsa/simfeed/internal/domains/common/response"
	"wsa/simfeed/pkg/errorutil"
	"wsa/simfeed/pkg/lmstfyx"
	"wsa/simfeed/pkg/logger"
)

// GetProcess 返回核心处理函数（注入到 Processor）
func GetProcess(log logger.Logger, resolver common.DashboardResolver) lmstfyx.Proc {
	return func(ctx context.Context, lmstfyJob *client.Job) *lmstfyx.JobResp {
		startTime := time.Now()

		// 1. 解析 Job
		meta, bizPayload, err := parseJob(ctx, lmstfyJob, log)
		if err != nil {
			log.Errorf(ctx, "[GetProcess] parseJob failed: %v", err)
			return &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusBury}
		}

		// 2. 注入 TraceID 到 Context
		ctx = logger.With(ctx, logger.KeyTraceID, meta.RequestID)
		ctx = logger.With(ctx, logger.KeyActionType, meta.ActionType)

		log.Infof(ctx, "[GetProcess] Processing job: action_type=%s, request_id=%s, id=%s",
			meta.ActionType, meta.RequestID, meta.ID)

		// 3. 从 HandlerMap 获取 Handler
		handlerFunc, ok := HandlerMap[meta.ActionType]
		if !ok {
			log.Errorf(ctx, "[GetProcess] handler not found for action_type: %s", meta.ActionType)
			return &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusBury}
		}

		// 4. 调用 Handler（捕获 panic）
		var resp *lmstfyx.JobResp
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf(ctx, "[GetProcess] handler panic: %v", r)
					resp = &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusBury}
				}
			}()

			handler, err := handlerFunc(ctx, meta, bizPayload, resolver)
			if err != nil {
				log.Errorf(ctx, "[GetProcess] handler creation failed: %v", err)
				resp = &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusBury}
				return
			}

			resp = doJobReport(ctx, handler.GetProcess(), log)
		}()

		log.Infof(ctx, "[GetProcess] Processing complete: action=%s, duration=%v", resp.Action, time.Since(startTime))
		return resp
	}
}

// parseJob 解析 Job
func parseJob(ctx context.Context, lmstfyJob *client.Job, log logger.Logger) (*job.Meta, interface{}, error) {
	var standardJob job.Job
	if err := json.Unmarshal(lmstfyJob.Data, &standardJob); err != nil {
		return nil, nil, fmt.Errorf("json unmarshal failed: %w", err)
	}

	if standardJob.Payload == nil || standardJob.Payload.Data == nil {
		return nil, nil, fmt.Errorf("invalid job structure: payload.data is nil")
	}

	data := standardJob.Payload.Data
	meta := &job.Meta{
		RequestID:  data.RequestID,
		OrgID:      data.OrgID,
		ActionType: data.ActionType,
		ID:         data.ID,
	}

	// RequestID 为空则生成一个
	if meta.RequestID == "" {
		meta.RequestID = uuid.New().String()
	}

	log.Debugf(ctx, "[parseJob] Parsed: action_type=%s, request_id=%s, id=%s",
		meta.ActionType, meta.RequestID, meta.ID)

	return meta, data.Data, nil
}

// doJobReport 根据 Response 判断 ACK/Bury/Release
func doJobReport(ctx context.Context, resp *response.Response, log logger.Logger) *lmstfyx.JobResp {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Errorf(ctx, "[doJobReport] marshal response failed: %v", err)
		return &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusBury}
	}

	if resp.Processed {
		return &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusSuccess, Data: data}
	}

	log.Warnf(ctx, "[doJobReport] job failed: %v", resp.Error)
	if resp.Retryable() {
		return &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusRelease, Data: data}
	}
	return &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusBury, Data: data}
}

// EncodeJob 序列化标准 Job（投递方使用）
func EncodeJob(actionType, id string, data interface{}) ([]byte, error) {
	if _, ok := HandlerMap[actionType]; !ok {
		return nil, errorutil.InvalidAction(actionType, "unknown action_type")
	}
	return json.Marshal(job.New(uuid.New().String(), actionType, id, data))
}
