package response

import (
	"wsa/simfeed/internal/domains/common/job"
	"wsa/simfeed/pkg/errorutil"
)

// ResultI 业务结果接口
type ResultI interface {
	// Set 设置元数据和错误
	Set(meta *job.Meta, err error)

	// GetStatus 获取状态
	GetStatus() string
}

// Response 统一响应结构
type Response struct {
	Error     *errorutil.Error `json:"error"`
	Result    ResultI          `json:"result"`
	Processed bool             `json:"processed"`
	Meta      *job.Meta        `json:"meta"`
}

// WrapResponse 包装响应
func (r *Response) WrapResponse(result ResultI, meta *job.Meta, err error) {
	result.Set(meta, err)

	r.Processed = err == nil
	r.Meta = meta
	r.Error = errorutil.Wrap(err)
	r.Result = result
}

// Retryable 失败是否值得重试
// 配置错误、对象不存在、非法动作重试也不会成功
func (r *Response) Retryable() bool {
	if r.Error == nil {
		return false
	}
	switch r.Error.Kind {
	case errorutil.KindConfiguration, errorutil.KindNotFound, errorutil.KindInvalidAction:
		return false
	}
	return true
}
