package entity

import "time"

// 审计能力接口，均为可选；钩子通过类型断言探测，未实现时跳过。
// U 为操作者标识类型。

type ICreatedBy[U any] interface {
	SetCreatedBy(by U)
}

type ICreatedAt interface {
	SetCreatedAt(at time.Time)
}

type IModifiedBy[U any] interface {
	SetModifiedBy(by U)
}

type IModifiedAt interface {
	SetModifiedAt(at time.Time)
}

type IDeletedBy[U any] interface {
	SetDeletedBy(by U)
}

type IDeletedAt interface {
	SetDeletedAt(at time.Time)
}

// ISoftDeletable 软删除接口
type ISoftDeletable interface {
	MarkDeleted()
	IsDeleted() bool
}

// Audited 带完整审计与软删除字段的实体（用于嵌入）
type Audited[K comparable, U any] struct {
	Entity[K]

	CreatedBy  U          `db:"created_by" json:"created_by"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	ModifiedBy U          `db:"modified_by" json:"modified_by"`
	ModifiedAt time.Time  `db:"modified_at" json:"modified_at"`
	DeletedBy  U          `db:"deleted_by" json:"deleted_by"`
	DeletedAt  *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	Deleted    bool       `db:"deleted" json:"deleted"`
}

func (a *Audited[K, U]) SetCreatedBy(by U)          { a.CreatedBy = by }
func (a *Audited[K, U]) SetCreatedAt(at time.Time)  { a.CreatedAt = at }
func (a *Audited[K, U]) SetModifiedBy(by U)         { a.ModifiedBy = by }
func (a *Audited[K, U]) SetModifiedAt(at time.Time) { a.ModifiedAt = at }
func (a *Audited[K, U]) SetDeletedBy(by U)          { a.DeletedBy = by }

func (a *Audited[K, U]) SetDeletedAt(at time.Time) {
	a.DeletedAt = &at
}

func (a *Audited[K, U]) MarkDeleted()    { a.Deleted = true }
func (a *Audited[K, U]) IsDeleted() bool { return a.Deleted }
