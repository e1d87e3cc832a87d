package sqlstore

import (
	"fmt"
	"reflect"

	"gokeep/entity"
)

// Mapping 记录类型到表的映射
type Mapping struct {
	// Type 记录指针类型
	Type reflect.Type
	// Table 表名，为空时使用类型名的 snake_case 复数形式
	Table string
	// SoftDeleteColumn 非空时删除改为 UPDATE，并把该列置为 true；加载时过滤该列为 true 的行
	SoftDeleteColumn string
	// Associations 关联集合字段的连接表映射
	Associations []AssociationMapping
}

// AssociationMapping 关联字段对应的连接表
type AssociationMapping struct {
	// Field 记录上的关联字段名
	Field string
	// JoinTable 连接表名
	JoinTable string
	// OwnerColumn 连接表中指向拥有方主键的列
	OwnerColumn string
	// TargetColumn 连接表中指向子记录主键的列
	TargetColumn string
}

type resolved struct {
	Mapping
	meta   *entity.Meta
	assocs []resolvedAssociation
	// softField 软删除列对应的字段（列未映射到字段时为 nil）
	softField *entity.Field
}

type resolvedAssociation struct {
	AssociationMapping
	assoc entity.Association
}

func resolve(m Mapping) (*resolved, error) {
	meta, err := entity.Describe(m.Type)
	if err != nil {
		return nil, err
	}
	if meta.Key == nil {
		return nil, fmt.Errorf("sqlstore: %s has no key field", meta.Type)
	}
	m.Type = meta.Type
	if m.Table == "" {
		m.Table = defaultTable(meta.Name)
	}
	r := &resolved{Mapping: m, meta: meta}
	if m.SoftDeleteColumn != "" {
		if f, ok := meta.Column(m.SoftDeleteColumn); ok {
			r.softField = &f
		}
	}
	for _, am := range m.Associations {
		a, ok := meta.Association(am.Field)
		if !ok {
			return nil, fmt.Errorf("sqlstore: %s has no association field %s", meta.Type, am.Field)
		}
		if am.JoinTable == "" || am.OwnerColumn == "" || am.TargetColumn == "" {
			return nil, fmt.Errorf("sqlstore: association %s.%s needs join table and columns", meta.Name, am.Field)
		}
		r.assocs = append(r.assocs, resolvedAssociation{AssociationMapping: am, assoc: a})
	}
	return r, nil
}

func defaultTable(typeName string) string {
	var out []byte
	for i := 0; i < len(typeName); i++ {
		ch := typeName[i]
		if ch >= 'A' && ch <= 'Z' {
			if i > 0 {
				out = append(out, '_')
			}
			ch += 'a' - 'A'
		}
		out = append(out, ch)
	}
	return string(out) + "s"
}

// fieldName 把列名映射回字段名，找不到时返回列名
func (r *resolved) fieldName(column string) string {
	if f, ok := r.meta.Column(column); ok {
		return f.Name
	}
	return column
}
