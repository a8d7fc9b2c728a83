package errorutil

import (
	"errors"
	"fmt"
)

// Kind 错误分类
type Kind string

const (
	// KindConfiguration 配置错误（注册时立即拒绝，不可恢复）
	KindConfiguration Kind = "configuration"
	// KindGeneration 单个指标生成失败（按指标隔离，下个周期继续）
	KindGeneration Kind = "generation"
	// KindSubscriber 订阅回调失败（不影响调度器和其他订阅者）
	KindSubscriber Kind = "subscriber"
	// KindNotFound 指标/告警/看板不存在
	KindNotFound Kind = "not_found"
	// KindInvalidAction 非法告警动作或状态
	KindInvalidAction Kind = "invalid_action"
	// KindStopped 调度器已停止
	KindStopped Kind = "stopped"
	// KindInternal 未分类的外部错误（超时、取消、序列化等）
	KindInternal Kind = "internal"
)

// Error 错误结构（包含分类和出错对象）
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Subject string `json:"subject,omitempty"`
	Cause   error  `json:"-"`
}

// Error 实现 error 接口
func (e *Error) Error() string {
	msg := e.Message
	if e.Subject != "" {
		msg = fmt.Sprintf("%s [%s]: %s", e.Kind, e.Subject, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap 支持 errors.Is / errors.As
func (e *Error) Unwrap() error {
	return e.Cause
}

// Configuration 创建配置错误
func Configuration(subject string, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    KindConfiguration,
		Code:    400,
		Message: fmt.Sprintf(format, args...),
		Subject: subject,
	}
}

// Generation 创建指标生成错误
func Generation(subject string, cause error) *Error {
	return &Error{
		Kind:    KindGeneration,
		Code:    500,
		Message: "metric generation failed",
		Subject: subject,
		Cause:   cause,
	}
}

// Subscriber 创建订阅回调错误
func Subscriber(subject string, cause error) *Error {
	return &Error{
		Kind:    KindSubscriber,
		Code:    500,
		Message: "subscriber callback failed",
		Subject: subject,
		Cause:   cause,
	}
}

// NotFound 创建不存在错误
func NotFound(subject string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    404,
		Message: "not found",
		Subject: subject,
	}
}

// InvalidAction 创建非法动作错误
func InvalidAction(subject string, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    KindInvalidAction,
		Code:    400,
		Message: fmt.Sprintf(format, args...),
		Subject: subject,
	}
}

// Stopped 创建已停止错误
func Stopped(subject string) *Error {
	return &Error{
		Kind:    KindStopped,
		Code:    409,
		Message: "already stopped",
		Subject: subject,
	}
}

// IsKind 判断错误链中是否存在指定分类
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Wrap 包装错误（已经是 Error 类型则直接返回）
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	return &Error{
		Kind:    KindInternal,
		Code:    500,
		Message: err.Error(),
		Cause:   err,
	}
}

// FromPanic 将 recover() 的结果转换为 error
func FromPanic(r interface{}) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
