package hooks

import (
	"context"
	"time"

	"gokeep/entity"
)

// CreatedBy 插入时记录创建人
func CreatedBy[U any]() Hook[U] {
	return func(_ context.Context, record any, op entity.Operation, _ entity.State, by U, _ time.Time) error {
		if r, ok := record.(entity.ICreatedBy[U]); ok && op == entity.Insert {
			r.SetCreatedBy(by)
		}
		return nil
	}
}

// CreatedAt 插入时记录创建时间
func CreatedAt[U any]() Hook[U] {
	return func(_ context.Context, record any, op entity.Operation, _ entity.State, _ U, at time.Time) error {
		if r, ok := record.(entity.ICreatedAt); ok && op == entity.Insert {
			r.SetCreatedAt(at)
		}
		return nil
	}
}

// ModifiedBy 更新时记录修改人
func ModifiedBy[U any]() Hook[U] {
	return func(_ context.Context, record any, op entity.Operation, _ entity.State, by U, _ time.Time) error {
		if r, ok := record.(entity.IModifiedBy[U]); ok && op == entity.Update {
			r.SetModifiedBy(by)
		}
		return nil
	}
}

// ModifiedAt 更新时记录修改时间
func ModifiedAt[U any]() Hook[U] {
	return func(_ context.Context, record any, op entity.Operation, _ entity.State, _ U, at time.Time) error {
		if r, ok := record.(entity.IModifiedAt); ok && op == entity.Update {
			r.SetModifiedAt(at)
		}
		return nil
	}
}

// DeletedBy 删除时记录删除人
func DeletedBy[U any]() Hook[U] {
	return func(_ context.Context, record any, op entity.Operation, _ entity.State, by U, _ time.Time) error {
		if r, ok := record.(entity.IDeletedBy[U]); ok && op == entity.Delete {
			r.SetDeletedBy(by)
		}
		return nil
	}
}

// DeletedAt 删除时记录删除时间
func DeletedAt[U any]() Hook[U] {
	return func(_ context.Context, record any, op entity.Operation, _ entity.State, _ U, at time.Time) error {
		if r, ok := record.(entity.IDeletedAt); ok && op == entity.Delete {
			r.SetDeletedAt(at)
		}
		return nil
	}
}

// SoftDelete 删除时打上软删除标记；是否物理删除由存储注册决定
func SoftDelete[U any]() Hook[U] {
	return func(_ context.Context, record any, op entity.Operation, _ entity.State, _ U, _ time.Time) error {
		if r, ok := record.(entity.ISoftDeletable); ok && op == entity.Delete {
			r.MarkDeleted()
		}
		return nil
	}
}
