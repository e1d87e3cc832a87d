// Package keygen 为插入时尚未分配主键的记录生成主键
//
// int64 主键使用雪花算法，string 主键使用 UUIDv7。
package keygen

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"

	"gokeep/errors"
)

// IGenerator 主键生成器
type IGenerator interface {
	// NextKey 为主键类型 keyType 生成一个新值
	NextKey(keyType reflect.Type) (any, error)
}

// UUID 字符串主键生成器
type UUID struct{}

func (UUID) NextKey(keyType reflect.Type) (any, error) {
	if keyType.Kind() != reflect.String {
		return nil, errors.Newf(errors.ErrCodeInvalidInput, "uuid generator cannot produce %s keys", keyType)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate uuid: %w", err)
	}
	return reflect.ValueOf(id.String()).Convert(keyType).Interface(), nil
}

// ByKind 按主键种类分派：整数交给 Snowflake，字符串交给 UUID
type ByKind struct {
	Ints    *Snowflake
	Strings UUID
}

// NewDefault 使用指定节点号创建默认生成器
func NewDefault(datacenterID, workerID int64) (*ByKind, error) {
	sf, err := NewSnowflake(datacenterID, workerID)
	if err != nil {
		return nil, err
	}
	return &ByKind{Ints: sf}, nil
}

func (g *ByKind) NextKey(keyType reflect.Type) (any, error) {
	switch keyType.Kind() {
	case reflect.Int64, reflect.Int, reflect.Uint64:
		return g.Ints.NextKey(keyType)
	case reflect.String:
		return g.Strings.NextKey(keyType)
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidInput, "no key generator for %s keys", keyType)
	}
}

// Sequence 从 1 开始递增的整数生成器，便于测试断言
type Sequence struct {
	next int64
}

func (s *Sequence) NextKey(keyType reflect.Type) (any, error) {
	switch keyType.Kind() {
	case reflect.Int, reflect.Int32, reflect.Int64, reflect.Uint64:
		s.next++
		return reflect.ValueOf(s.next).Convert(keyType).Interface(), nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidInput, "sequence generator cannot produce %s keys", keyType)
	}
}
