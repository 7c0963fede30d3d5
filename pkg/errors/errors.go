// Package errors 提供统一的错误定义
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误 (1xxx)
	CodeSuccess            ErrorCode = "0"
	CodeUnknown            ErrorCode = "1000"
	CodeInvalidParam       ErrorCode = "1001"
	CodeNotFound           ErrorCode = "1004"
	CodeConflict           ErrorCode = "1005"
	CodeTooManyRequests    ErrorCode = "1006"
	CodeInternalError      ErrorCode = "1007"
	CodeServiceUnavailable ErrorCode = "1008"

	// 时间轴错误 (2xxx)
	CodeDuplicateTimeline ErrorCode = "2001"
	CodeOutOfOrderEvent   ErrorCode = "2002"
	CodeTimelineNotFound  ErrorCode = "2003"
	CodeGenealogyCycle    ErrorCode = "2004"

	// 世界状态错误 (3xxx)
	CodeWorldNotFound        ErrorCode = "3001"
	CodeEntityNotFound       ErrorCode = "3002"
	CodeWorldArchived        ErrorCode = "3003"
	CodeWorldPaused          ErrorCode = "3004"
	CodeInvalidTransition    ErrorCode = "3005"
	CodeConsistencyViolation ErrorCode = "3006"

	// 选择处理错误 (4xxx)
	CodePropagationFailure ErrorCode = "4001"
	CodeChoiceRejected     ErrorCode = "4002"
	CodeGenerationFailed   ErrorCode = "4003"
	CodeSafetyGateError    ErrorCode = "4004"

	// 外部服务错误 (5xxx)
	CodePersistenceFailure ErrorCode = "5001"
	CodeCacheError         ErrorCode = "5002"
	CodeCacheDesync        ErrorCode = "5003"
	CodeStreamError        ErrorCode = "5004"
)

// AppError 应用错误
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Err        error     `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail 添加详细信息
func (e *AppError) WithDetail(detail string) *AppError {
	clone := *e
	clone.Detail = detail
	return &clone
}

// WithError 添加底层错误
func (e *AppError) WithError(err error) *AppError {
	clone := *e
	clone.Err = err
	return &clone
}

// New 创建新的应用错误
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Err:        err,
	}
}

// Is 判断错误是否携带指定错误码
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// AsAppError 提取 AppError，失败时包装为内部错误
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeInternalError, "internal server error")
}

// codeToHTTPStatus 错误码转 HTTP 状态码
func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case CodeSuccess:
		return http.StatusOK
	case CodeInvalidParam, CodeOutOfOrderEvent, CodeGenealogyCycle, CodeInvalidTransition:
		return http.StatusBadRequest
	case CodeNotFound, CodeWorldNotFound, CodeEntityNotFound, CodeTimelineNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeDuplicateTimeline, CodeWorldArchived, CodeWorldPaused:
		return http.StatusConflict
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeChoiceRejected:
		return http.StatusUnprocessableEntity
	case CodeServiceUnavailable, CodePersistenceFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// 预定义错误
var (
	ErrInvalidParam       = New(CodeInvalidParam, "invalid parameter")
	ErrNotFound           = New(CodeNotFound, "resource not found")
	ErrConflict           = New(CodeConflict, "resource conflict")
	ErrTooManyRequests    = New(CodeTooManyRequests, "too many requests")
	ErrInternalError      = New(CodeInternalError, "internal server error")
	ErrServiceUnavailable = New(CodeServiceUnavailable, "service unavailable")

	ErrDuplicateTimeline = New(CodeDuplicateTimeline, "timeline already exists for entity")
	ErrOutOfOrderEvent   = New(CodeOutOfOrderEvent, "event violates timeline ordering")
	ErrTimelineNotFound  = New(CodeTimelineNotFound, "timeline not found")
	ErrGenealogyCycle    = New(CodeGenealogyCycle, "character cannot be its own ancestor")

	ErrWorldNotFound        = New(CodeWorldNotFound, "world not found")
	ErrEntityNotFound       = New(CodeEntityNotFound, "entity not found")
	ErrWorldArchived        = New(CodeWorldArchived, "world is archived and immutable")
	ErrWorldPaused          = New(CodeWorldPaused, "world evolution is paused")
	ErrInvalidTransition    = New(CodeInvalidTransition, "invalid world status transition")
	ErrConsistencyViolation = New(CodeConsistencyViolation, "world consistency violation")

	ErrPropagationFailure = New(CodePropagationFailure, "consequence propagation failed")
	ErrChoiceRejected     = New(CodeChoiceRejected, "choice rejected by safety gate")
	ErrGenerationFailed   = New(CodeGenerationFailed, "narrative generation failed")

	ErrPersistenceFailure = New(CodePersistenceFailure, "persistence store unavailable")
	ErrCacheDesync        = New(CodeCacheDesync, "cache version behind store version")
)
