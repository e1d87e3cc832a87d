package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gokeep/entity"
	"gokeep/errors"
)

type Widget struct {
	entity.Entity[int64]
	Name string
}

func nameRequired(w *Widget) []string {
	if w.Name == "" {
		return []string{RequiredMessage("Name")}
	}
	return nil
}

// TestValidator_InsertFallsBackToUpdate 未设置插入检查时沿用更新检查
func TestValidator_InsertFallsBackToUpdate(t *testing.T) {
	v := Validator[*Widget]{UpdateChecks: nameRequired}

	out := v.GetErrors(&Widget{}, entity.Insert)
	require.NotNil(t, out)
	assert.Equal(t, entity.Insert, out.Operation)
	assert.Equal(t, []string{"Name is required."}, out.Errors)

	assert.Nil(t, v.GetErrors(&Widget{Name: "ok"}, entity.Insert))
	assert.Nil(t, v.GetErrors(&Widget{}, entity.Delete), "删除检查默认无错误")
}

// TestValidator_SeparateChecks 各操作使用各自的检查
func TestValidator_SeparateChecks(t *testing.T) {
	v := Validator[*Widget]{
		InsertChecks: func(*Widget) []string { return nil },
		UpdateChecks: nameRequired,
		DeleteChecks: func(w *Widget) []string {
			if w.Name == "locked" {
				return []string{"locked widgets cannot be deleted"}
			}
			return nil
		},
	}

	assert.Nil(t, v.GetErrors(&Widget{}, entity.Insert))
	assert.NotNil(t, v.GetErrors(&Widget{}, entity.Update))
	assert.NotNil(t, v.GetErrors(&Widget{Name: "locked"}, entity.Delete))
}

// TestValidator_UnknownOperation 未识别的操作 panic
func TestValidator_UnknownOperation(t *testing.T) {
	v := Validator[*Widget]{}
	defer func() {
		r := recover()
		require.NotNil(t, r)
		assert.True(t, errors.IsErrorCode(r.(error), errors.ErrCodeConfiguration))
	}()
	v.GetErrors(&Widget{}, entity.Operation(0))
}

// TestOutcome_Message 消息格式
func TestOutcome_Message(t *testing.T) {
	out := &Outcome[*Widget]{Operation: entity.Update, Errors: []string{"a", "b"}}

	lines := strings.Split(out.Message(), "\n")
	assert.Equal(t, []string{"The following errors occurred when trying to Update 'Widget':", "a", "b"}, lines)

	var empty *Outcome[*Widget]
	assert.Equal(t, "No errors.", empty.Message())
	assert.NoError(t, empty.Err())

	err := out.Err()
	var vErr *errors.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "Update", vErr.Operation)
	assert.Equal(t, []string{"a", "b"}, vErr.Messages)
	assert.True(t, errors.IsValidation(err))
}

func TestStringHelpers(t *testing.T) {
	assert.Nil(t, CleanString(nil, false))
	assert.Equal(t, "", *CleanString(nil, true))
	s := "  hi  "
	assert.Equal(t, "hi", *CleanString(&s, false))

	long := "héllo"
	assert.False(t, LengthExceeded(&long, 5))
	assert.True(t, LengthExceeded(&long, 4))
	assert.False(t, LengthExceeded(nil, 0))

	assert.Equal(t, "Name must be 10 characters or less.", LengthMessage("Name", 10))
}

func TestCleanerFunc(t *testing.T) {
	var c ICleaner[*Widget] = CleanerFunc[*Widget](func(w *Widget, _ entity.Operation) {
		w.Name = *CleanString(&w.Name, true)
	})
	w := &Widget{Name: " x "}
	c.Clean(w, entity.Insert)
	assert.Equal(t, "x", w.Name)
}
