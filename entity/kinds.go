package entity

import (
	"fmt"

	"gokeep/errors"
)

// Operation 写入操作类型
type Operation int

const (
	Insert Operation = iota + 1
	Update
	Delete
)

func (o Operation) String() string {
	switch o {
	case Insert:
		return "Insert"
	case Update:
		return "Update"
	case Delete:
		return "Delete"
	default:
		return fmt.Sprintf("Operation(%d)", int(o))
	}
}

// MustBeKnown 未识别的操作值视为缺陷，直接 panic
func (o Operation) MustBeKnown() Operation {
	switch o {
	case Insert, Update, Delete:
		return o
	default:
		panic(errors.NewConfigurationError("operation", o))
	}
}

// State 身份映射中的跟踪状态
type State int

const (
	Detached State = iota
	Unchanged
	Inserted
	Modified
	Deleted
)

func (s State) String() string {
	switch s {
	case Detached:
		return "Detached"
	case Unchanged:
		return "Unchanged"
	case Inserted:
		return "Inserted"
	case Modified:
		return "Modified"
	case Deleted:
		return "Deleted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
