package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// TestFieldConstructors 测试字段构造函数
func TestFieldConstructors(t *testing.T) {
	tests := []struct {
		name    string
		field   Field
		wantKey string
	}{
		{name: "String字段", field: String("name", "widget"), wantKey: "name"},
		{name: "Int字段", field: Int("count", 3), wantKey: "count"},
		{name: "Int64字段", field: Int64("id", 42), wantKey: "id"},
		{name: "Bool字段", field: Bool("ok", true), wantKey: "ok"},
		{name: "Any字段", field: Any("data", []int{1}), wantKey: "data"},
		{name: "Error字段", field: Error(errors.New("boom")), wantKey: "error"},
		{name: "Duration字段", field: Duration("elapsed", time.Second), wantKey: "elapsed"},
		{name: "Component字段", field: Component("writer"), wantKey: "component"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.field.Key != tt.wantKey {
				t.Errorf("Key = %s, 期望 %s", tt.field.Key, tt.wantKey)
			}
			if tt.field.Value == nil {
				t.Error("Value为nil")
			}
		})
	}
}

// TestFormatValue 测试值格式化
func TestFormatValue(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{name: "字符串", value: "test", want: "test"},
		{name: "带空格字符串", value: "a b", want: `"a b"`},
		{name: "错误", value: errors.New("error message"), want: `"error message"`},
		{name: "整数", value: 123, want: "123"},
		{name: "布尔值", value: true, want: "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatValue(tt.value); got != tt.want {
				t.Errorf("formatValue() = %s, 期望 %s", got, tt.want)
			}
		})
	}
}

// TestStdLogger_Levels 测试各级别输出
func TestStdLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLoggerTo(&buf, "test", DebugLevel)
	ctx := context.Background()

	logger.Debug(ctx, "debug message", String("key", "value"))
	logger.Info(ctx, "info message", Int("count", 123))
	logger.Warn(ctx, "warn message", Bool("critical", true))
	logger.Error(ctx, "error message", Error(errors.New("boom")))

	output := buf.String()
	for _, expected := range []string{
		"[DEBUG]", "debug message", "key=value",
		"[INFO]", "count=123",
		"[WARN]", "critical=true",
		"[ERROR]", `error="boom"`,
	} {
		if !strings.Contains(output, expected) {
			t.Errorf("输出不包含 %s: %s", expected, output)
		}
	}
}

// TestStdLogger_MinLevel 低于最小级别的日志应被丢弃
func TestStdLogger_MinLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLoggerTo(&buf, "", WarnLevel)
	ctx := context.Background()

	logger.Debug(ctx, "hidden-debug")
	logger.Info(ctx, "hidden-info")
	logger.Warn(ctx, "shown-warn")

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Errorf("低级别日志不应输出: %s", output)
	}
	if !strings.Contains(output, "shown-warn") {
		t.Error("WARN 日志应输出")
	}
}

// TestStdLogger_WithFields 测试WithFields
func TestStdLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLoggerTo(&buf, "test", DebugLevel)
	child := logger.WithFields(String("module", "writer"))

	child.Info(context.Background(), "saved", String("table", "widgets"))

	output := buf.String()
	if !strings.Contains(output, "module=writer") || !strings.Contains(output, "table=widgets") {
		t.Errorf("输出缺少字段: %s", output)
	}
	if len(logger.fields) != 0 {
		t.Error("WithFields改变了原Logger的fields")
	}
}

// TestParseLevel 测试级别解析
func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		" warn ":  WarnLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"bogus":   InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, 期望 %s", in, got, want)
		}
	}
}

// TestNoopLogger 测试NoopLogger
func TestNoopLogger(t *testing.T) {
	logger := NewNoopLogger()
	ctx := context.Background()

	logger.Debug(ctx, "test")
	logger.Info(ctx, "test")
	logger.Warn(ctx, "test")
	logger.Error(ctx, "test")

	if logger.WithFields(String("key", "value")) != logger {
		t.Error("NoopLogger.WithFields应该返回自身")
	}
}

// TestGlobalLogger 测试全局Logger
func TestGlobalLogger(t *testing.T) {
	original := GetLogger()
	defer SetLogger(original)

	testLogger := NewNoopLogger()
	SetLogger(testLogger)
	if GetLogger() != testLogger {
		t.Error("全局Logger未正确设置")
	}

	SetLogger(nil)
	if _, ok := GetLogger().(*NoopLogger); !ok {
		t.Error("设置nil时应回退到NoopLogger")
	}
}

// TestComponentLogger 测试组件Logger
func TestComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	base := NewStdLoggerTo(&buf, "", DebugLevel)

	ComponentLogger(base, "session").Info(context.Background(), "attached")

	if !strings.Contains(buf.String(), "component=session") {
		t.Errorf("输出缺少component字段: %s", buf.String())
	}
}
