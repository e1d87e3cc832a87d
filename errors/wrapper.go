package errors

import (
	"context"
	"fmt"
	"runtime"

	"gokeep/logging"
)

// Wrap 包装错误，添加错误码和上下文信息
// 建议：在 Service / Writer 层边界使用
func Wrap(ctx context.Context, err error, code ErrorCode, msg string) error {
	if err == nil {
		return nil
	}

	_, file, line, _ := runtime.Caller(1)

	wrapped := WrapError(err, code, msg)

	// 避免重复记录，使用 Debug 级别
	logging.GetLogger().Debug(ctx, fmt.Sprintf("error wrapped: %s (at %s:%d)", msg, file, line))

	return wrapped
}

// WrapWithLog 包装错误并记录警告日志
func WrapWithLog(ctx context.Context, err error, code ErrorCode, msg string, fields ...logging.Field) error {
	if err == nil {
		return nil
	}

	_, file, line, _ := runtime.Caller(1)

	wrapped := WrapError(err, code, msg)

	allFields := append([]logging.Field{
		logging.Error(err),
		logging.String("error_code", string(code)),
		logging.String("location", fmt.Sprintf("%s:%d", file, line)),
	}, fields...)

	logging.GetLogger().Warn(ctx, msg, allFields...)

	return wrapped
}

// WrapDatabaseError 包装数据库错误
// 已带错误码的错误原样返回，其余归类为 DATABASE_ERROR
func WrapDatabaseError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	if _, ok := err.(IError); ok {
		return err
	}
	var appErr *AppError
	if As(err, &appErr) {
		return err
	}

	return WrapWithLog(ctx, err, ErrCodeDatabase,
		fmt.Sprintf("database operation failed: %s", operation),
		logging.String("operation", operation),
	)
}
