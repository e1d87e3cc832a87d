// Package validation 提供写入前的记录校验与清洗
package validation

import (
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"gokeep/entity"
	"gokeep/errors"
)

// IValidator 记录校验器
type IValidator[T any] interface {
	// GetErrors 返回 record 在 op 下的校验结果；无错误时返回 nil
	GetErrors(record T, op entity.Operation) *Outcome[T]
}

// Check 针对单条记录的检查函数，返回错误消息列表
type Check[T any] func(record T) []string

// Validator 按操作分派的默认校验器
//
// InsertChecks 未设置时沿用 UpdateChecks；其余未设置的检查视为无错误。
type Validator[T any] struct {
	InsertChecks Check[T]
	UpdateChecks Check[T]
	DeleteChecks Check[T]
}

// GetErrors 实现 IValidator 接口；未识别的操作会 panic
func (v Validator[T]) GetErrors(record T, op entity.Operation) *Outcome[T] {
	var check Check[T]
	switch op {
	case entity.Insert:
		check = v.InsertChecks
		if check == nil {
			check = v.UpdateChecks
		}
	case entity.Update:
		check = v.UpdateChecks
	case entity.Delete:
		check = v.DeleteChecks
	default:
		panic(errors.NewConfigurationError("operation", op))
	}
	if check == nil {
		return nil
	}

	msgs := check(record)
	if len(msgs) == 0 {
		return nil
	}
	return &Outcome[T]{Record: record, Operation: op, Errors: append([]string(nil), msgs...)}
}

// Func 函数适配器
type Func[T any] func(record T, op entity.Operation) *Outcome[T]

func (f Func[T]) GetErrors(record T, op entity.Operation) *Outcome[T] { return f(record, op) }

// Outcome 一条记录的校验结果
type Outcome[T any] struct {
	Record    T
	Operation entity.Operation
	Errors    []string
}

// HasErrors 是否存在错误
func (o *Outcome[T]) HasErrors() bool {
	return o != nil && len(o.Errors) > 0
}

// Message 汇总错误消息，首行说明操作与记录类型
func (o *Outcome[T]) Message() string {
	if !o.HasErrors() {
		return "No errors."
	}
	return fmt.Sprintf("The following errors occurred when trying to %s '%s':\n%s",
		o.Operation, TypeName[T](), strings.Join(o.Errors, "\n"))
}

// Err 转换为 *errors.ValidationError；无错误时返回 nil
func (o *Outcome[T]) Err() error {
	if !o.HasErrors() {
		return nil
	}
	return errors.NewValidationError(o.Record, o.Operation.String(), o.Message(), o.Errors)
}

// TypeName 记录类型名（去掉指针）
func TypeName[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// ICleaner 写入前对记录做规范化
type ICleaner[T any] interface {
	Clean(record T, op entity.Operation)
}

// CleanerFunc 函数适配器
type CleanerFunc[T any] func(record T, op entity.Operation)

func (f CleanerFunc[T]) Clean(record T, op entity.Operation) { f(record, op) }

// CleanString 去除首尾空白；s 为 nil 时，nilToEmpty 为 true 则返回空串指针
func CleanString(s *string, nilToEmpty bool) *string {
	if s == nil {
		if nilToEmpty {
			empty := ""
			return &empty
		}
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	return &trimmed
}

// LengthExceeded 字符串是否超过最大长度（按字符计）；nil 视为未超过
func LengthExceeded(s *string, maxLength int) bool {
	if s == nil {
		return false
	}
	return utf8.RuneCountInString(*s) > maxLength
}

// LengthMessage 字符串过长的标准提示
func LengthMessage(name string, maxLength int) string {
	return fmt.Sprintf("%s must be %d characters or less.", name, maxLength)
}

// RequiredMessage 必填字段缺失的标准提示
func RequiredMessage(name string) string {
	return fmt.Sprintf("%s is required.", name)
}
