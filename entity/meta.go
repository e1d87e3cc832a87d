package entity

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"gokeep/cache"
)

// Field 一个可持久化的标量字段
type Field struct {
	Name   string
	Column string
	Index  []int
}

// Association 关联集合字段：元素为记录指针的切片
type Association struct {
	Name  string
	Index []int
	// Elem 元素类型（记录指针类型）
	Elem reflect.Type
}

// Meta 记录类型的反射元数据
type Meta struct {
	// Type 记录的指针类型，例如 *Widget
	Type reflect.Type
	Name string

	Fields       []Field
	Key          *Field
	Associations []Association

	// values 需要在合并时复制的全部导出叶子字段（不含关联）
	values [][]int
}

// Column 按列名查找字段
func (m *Meta) Column(name string) (Field, bool) {
	for _, f := range m.Fields {
		if f.Column == name {
			return f, true
		}
	}
	return Field{}, false
}

// Columns 返回全部列名，顺序与 Fields 一致
func (m *Meta) Columns() []string {
	cols := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		cols[i] = f.Column
	}
	return cols
}

// Association 按字段名查找关联
func (m *Meta) Association(name string) (Association, bool) {
	for _, a := range m.Associations {
		if a.Name == name {
			return a, true
		}
	}
	return Association{}, false
}

var (
	keyedType = reflect.TypeOf((*IKeyed)(nil)).Elem()

	metaCache = cache.New[reflect.Type, *Meta](cache.Config{Name: "entity_meta", MaxSize: 1024})
)

// Describe 返回记录类型的元数据，t 可以是结构体类型或其指针类型
func Describe(t reflect.Type) (*Meta, error) {
	if t == nil {
		return nil, fmt.Errorf("entity: nil type")
	}
	if t.Kind() == reflect.Struct {
		t = reflect.PointerTo(t)
	}
	return metaCache.GetOrLoad(t, buildMeta)
}

// MustDescribe 同 Describe，失败时 panic
func MustDescribe(t reflect.Type) *Meta {
	m, err := Describe(t)
	if err != nil {
		panic(err)
	}
	return m
}

// DescribeOf 返回记录值的元数据
func DescribeOf(record any) (*Meta, error) {
	return Describe(reflect.TypeOf(record))
}

func buildMeta(t reflect.Type) (*Meta, error) {
	if t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("entity: %s is not a pointer to struct", t)
	}
	m := &Meta{Type: t, Name: t.Elem().Name()}

	var walk func(reflect.Type, []int)
	walk = func(cur reflect.Type, prefix []int) {
		for i := 0; i < cur.NumField(); i++ {
			f := cur.Field(i)
			if !f.IsExported() {
				continue
			}
			index := append(append([]int(nil), prefix...), i)

			if f.Anonymous && f.Type.Kind() == reflect.Struct && !isTimeType(f.Type) {
				walk(f.Type, index)
				continue
			}

			if f.Type.Kind() == reflect.Slice && f.Type.Elem().Implements(keyedType) &&
				f.Type.Elem().Kind() == reflect.Pointer {
				m.Associations = append(m.Associations, Association{Name: f.Name, Index: index, Elem: f.Type.Elem()})
				continue
			}

			m.values = append(m.values, index)

			column := columnName(f)
			if column == "-" || !isScalarField(f.Type) {
				continue
			}
			m.Fields = append(m.Fields, Field{Name: f.Name, Column: column, Index: index})
			if f.Name == "ID" && m.Key == nil {
				key := m.Fields[len(m.Fields)-1]
				m.Key = &key
			}
		}
	}
	walk(t.Elem(), nil)

	if m.Key == nil && t.Implements(keyedType) {
		return nil, fmt.Errorf("entity: %s implements IKeyed but has no ID field", t)
	}
	return m, nil
}

func columnName(f reflect.StructField) string {
	if tag := f.Tag.Get("db"); tag != "" {
		return strings.Split(tag, ",")[0]
	}
	if tag := f.Tag.Get("json"); tag != "" {
		if name := strings.Split(tag, ",")[0]; name != "" {
			return name
		}
	}
	return toSnakeCase(f.Name)
}

func isScalarField(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if isTimeType(t) {
		return true
	}
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}

func isTimeType(t reflect.Type) bool {
	return t == reflect.TypeOf(time.Time{})
}

func toSnakeCase(s string) string {
	var sb strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || nextLower {
				sb.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// FieldByIndex 按索引路径取字段，路径上遇到 nil 指针时返回无效值
func FieldByIndex(v reflect.Value, index []int) reflect.Value {
	for _, i := range index {
		if v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return reflect.Value{}
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct || i < 0 || i >= v.NumField() {
			return reflect.Value{}
		}
		v = v.Field(i)
	}
	return v
}

// CopyFields 将 src 的全部导出字段值复制到 dst（二者须为同一记录指针类型）。
// 关联切片复制为新切片，元素引用保持不变；未导出字段（如跟踪标记）不复制。
func CopyFields(dst, src any) error {
	if reflect.TypeOf(dst) != reflect.TypeOf(src) {
		return fmt.Errorf("entity: cannot copy %T into %T", src, dst)
	}
	m, err := DescribeOf(dst)
	if err != nil {
		return err
	}
	dv, sv := reflect.ValueOf(dst), reflect.ValueOf(src)
	if dv.IsNil() || sv.IsNil() {
		return fmt.Errorf("entity: cannot copy nil %T", dst)
	}
	if dv.Pointer() == sv.Pointer() {
		return nil
	}
	for _, index := range m.values {
		FieldByIndex(dv, index).Set(FieldByIndex(sv, index))
	}
	for _, a := range m.Associations {
		from := FieldByIndex(sv, a.Index)
		to := FieldByIndex(dv, a.Index)
		if from.IsNil() {
			to.Set(reflect.Zero(from.Type()))
			continue
		}
		cp := reflect.MakeSlice(from.Type(), from.Len(), from.Len())
		reflect.Copy(cp, from)
		to.Set(cp)
	}
	return nil
}

// Clone 创建记录的浅拷贝（不带跟踪标记）
func Clone(record any) (any, error) {
	t := reflect.TypeOf(record)
	if t == nil || t.Kind() != reflect.Pointer {
		return nil, fmt.Errorf("entity: cannot clone %T", record)
	}
	out := reflect.New(t.Elem()).Interface()
	if err := CopyFields(out, record); err != nil {
		return nil, err
	}
	return out, nil
}

// New 创建记录指针类型 t 的零值实例
func New(t reflect.Type) any {
	return reflect.New(t.Elem()).Interface()
}

// ResetKey 把主键恢复为零值，记录重新变为未分配主键的状态
func ResetKey(record any) error {
	m, err := DescribeOf(record)
	if err != nil {
		return err
	}
	assignable, ok := record.(IKeyAssignable)
	if !ok || m.Key == nil {
		return fmt.Errorf("entity: %T has no assignable key", record)
	}
	zero := reflect.Zero(FieldByIndex(reflect.ValueOf(record), m.Key.Index).Type())
	return assignable.AssignKey(zero.Interface())
}

// Children 返回关联字段中的全部子记录
func Children(record any, a Association) []any {
	v := FieldByIndex(reflect.ValueOf(record), a.Index)
	if !v.IsValid() {
		return nil
	}
	out := make([]any, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		if el := v.Index(i); !el.IsNil() {
			out = append(out, el.Interface())
		}
	}
	return out
}

// SetChildren 用 children 替换关联字段的内容
func SetChildren(record any, a Association, children []any) {
	v := FieldByIndex(reflect.ValueOf(record), a.Index)
	if !v.IsValid() {
		return
	}
	s := reflect.MakeSlice(v.Type(), 0, len(children))
	for _, c := range children {
		s = reflect.Append(s, reflect.ValueOf(c))
	}
	v.Set(s)
}
