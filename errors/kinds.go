package errors

import (
	"fmt"
	"strings"
)

// UntrackedWriteError 表示调用方试图写回一条经无跟踪读取得到的记录。
// 属于编程错误，不应重试。
type UntrackedWriteError struct {
	*AppError
	Record any
}

// NewUntrackedWriteError 创建未跟踪写回错误
func NewUntrackedWriteError(record any) *UntrackedWriteError {
	return &UntrackedWriteError{
		AppError: Newf(ErrCodeUntrackedWrite,
			"attempted to write a %T which was retrieved through a no-tracking read", record),
		Record: record,
	}
}

func (e *UntrackedWriteError) Unwrap() error { return e.AppError }

// ValidationError 批量写入中第一条校验失败记录的聚合错误
type ValidationError struct {
	*AppError
	Record    any
	Operation string
	Messages  []string
}

// NewValidationError 创建校验错误，message 为已格式化的聚合消息
func NewValidationError(record any, operation, message string, messages []string) *ValidationError {
	return &ValidationError{
		AppError:  NewError(ErrCodeValidation, message),
		Record:    record,
		Operation: operation,
		Messages:  append([]string(nil), messages...),
	}
}

func (e *ValidationError) Unwrap() error { return e.AppError }

// FieldMessage 单个字段的存储层校验信息
type FieldMessage struct {
	Field   string
	Message string
}

// StoreCommitError 存储拒绝提交；Fields 非空时消息为逐字段汇总
type StoreCommitError struct {
	*AppError
	Fields []FieldMessage
}

// NewStoreCommitError 将存储层的字段校验失败翻译为一条可读消息
func NewStoreCommitError(cause error, fields []FieldMessage) *StoreCommitError {
	var sb strings.Builder
	sb.WriteString("the following fields did not validate:")
	for _, f := range fields {
		sb.WriteString("\n")
		sb.WriteString(f.Field)
		sb.WriteString(": ")
		sb.WriteString(f.Message)
	}
	return &StoreCommitError{
		AppError: &AppError{
			code:    ErrCodeStoreCommit,
			message: sb.String(),
			cause:   cause,
			details: make(map[string]any),
			stack:   captureStack(),
		},
		Fields: append([]FieldMessage(nil), fields...),
	}
}

func (e *StoreCommitError) Unwrap() error { return e.AppError }

// Error 只输出翻译后的字段消息；原始存储错误经 Unwrap 获取
func (e *StoreCommitError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code(), e.Message())
}

// ConfigurationError 未识别的枚举/模式值进入了没有匹配分支的 switch。
// 视为缺陷，以 panic 形式抛出，不做恢复。
type ConfigurationError struct {
	*AppError
	Value any
}

// NewConfigurationError 创建配置错误
func NewConfigurationError(kind string, value any) *ConfigurationError {
	return &ConfigurationError{
		AppError: Newf(ErrCodeConfiguration, "unsupported %s: %v", kind, value),
		Value:    value,
	}
}

func (e *ConfigurationError) Unwrap() error { return e.AppError }

// NewNotFoundError 创建未找到错误
func NewNotFoundError(format string, args ...any) *AppError {
	return Newf(ErrCodeNotFound, format, args...)
}

// MultiError 聚合多个独立失败，保持原始顺序
type MultiError struct {
	Errors []error
}

func (m *MultiError) Error() string {
	switch len(m.Errors) {
	case 0:
		return "no errors"
	case 1:
		return m.Errors[0].Error()
	}
	parts := make([]string, len(m.Errors))
	for i, err := range m.Errors {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("%d errors occurred:\n%s", len(m.Errors), strings.Join(parts, "\n"))
}

// Unwrap 支持 errors.Is / errors.As 遍历全部子错误
func (m *MultiError) Unwrap() []error { return m.Errors }

// CombineAll 合并全部结果：全部成功返回 nil，否则返回携带全部错误的 MultiError
func CombineAll(errs ...error) error {
	var collected []error
	for _, err := range errs {
		if err != nil {
			collected = append(collected, err)
		}
	}
	if len(collected) == 0 {
		return nil
	}
	return &MultiError{Errors: collected}
}
