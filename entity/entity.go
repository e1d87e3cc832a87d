// Package entity 定义可持久化记录的核心接口体系
//
// 记录统一以指针形式流转（例如 *Widget），通过内嵌 Entity[K] 获得主键与跟踪标记。
// 主键为 K 的零值时视为“未分配”（transient），由存储在插入时分配。
package entity

import (
	"fmt"
	"reflect"
)

// IRecord 带类型化主键的记录
type IRecord[K comparable] interface {
	GetID() K
	SetID(id K)
}

// IKeyed 主键的非泛型视图，供身份映射和存储等反射层代码使用
type IKeyed interface {
	// KeyValue 返回主键值（K 的零值表示未分配）
	KeyValue() any
	// IsTransient 主键是否尚未分配
	IsTransient() bool
}

// IKeyAssignable 允许存储在插入时回写生成的主键
type IKeyAssignable interface {
	AssignKey(v any) error
}

// INoTracking 无跟踪读取标记
//
// 通过无跟踪读取得到的记录带有此标记，任何写回都会被拒绝。
type INoTracking interface {
	MarkNoTracking()
	IsNoTracking() bool
}

// Entity 通用主键字段（用于嵌入）
type Entity[K comparable] struct {
	ID K `db:"id" json:"id"`

	noTracking bool
}

// GetID 实现 IRecord 接口
func (e *Entity[K]) GetID() K {
	return e.ID
}

// SetID 实现 IRecord 接口
func (e *Entity[K]) SetID(id K) {
	e.ID = id
}

// KeyValue 实现 IKeyed 接口
func (e *Entity[K]) KeyValue() any {
	return e.ID
}

// IsTransient 实现 IKeyed 接口
func (e *Entity[K]) IsTransient() bool {
	var zero K
	return e.ID == zero
}

// AssignKey 实现 IKeyAssignable 接口
func (e *Entity[K]) AssignKey(v any) error {
	id, ok := v.(K)
	if !ok {
		var zero K
		return fmt.Errorf("entity: cannot assign key of type %T to %T", v, zero)
	}
	e.ID = id
	return nil
}

func (e *Entity[K]) MarkNoTracking()    { e.noTracking = true }
func (e *Entity[K]) IsNoTracking() bool { return e.noTracking }

// IsNoTracking 判断任意记录是否带有无跟踪标记
func IsNoTracking(record any) bool {
	nt, ok := record.(INoTracking)
	return ok && nt.IsNoTracking()
}

// Equal 记录相等性：同一引用，或同一具体类型且双方主键均已分配并相等。
// 未分配主键的记录只与自身相等。
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if sameReference(a, b) {
		return true
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	ka, okA := a.(IKeyed)
	kb, okB := b.(IKeyed)
	if !okA || !okB || ka.IsTransient() || kb.IsTransient() {
		return false
	}
	return ka.KeyValue() == kb.KeyValue()
}

func sameReference(a, b any) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Kind() != reflect.Pointer || vb.Kind() != reflect.Pointer {
		return false
	}
	return va.Type() == vb.Type() && va.Pointer() == vb.Pointer()
}

// KeyOf 读取记录主键；记录未实现 IKeyed 时返回 false
func KeyOf(record any) (key any, transient bool, ok bool) {
	k, ok := record.(IKeyed)
	if !ok {
		return nil, false, false
	}
	return k.KeyValue(), k.IsTransient(), true
}
