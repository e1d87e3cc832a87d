// Package dialect 描述 sqlite 与 postgres 之间的语法与错误差异
package dialect

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	core "gokeep/data/db"
)

// Name 标准化的数据库方言名称
type Name string

const (
	NameSQLite   Name = "sqlite"
	NamePostgres Name = "postgres"
	NameUnknown  Name = ""
)

// Dialect 表示当前数据库的方言能力
type Dialect struct {
	name Name
}

// New 根据 driver 名称构造方言（大小写不敏感）
func New(name string) Dialect {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sqlite", "sqlite3":
		return Dialect{name: NameSQLite}
	case "postgres", "postgresql", "pgx":
		return Dialect{name: NamePostgres}
	default:
		return Dialect{name: NameUnknown}
	}
}

// FromDatabase 从 IDatabase 实例推断方言，未实现 IDialectNameProvider 时返回 Unknown
func FromDatabase(db core.IDatabase) Dialect {
	if p, ok := db.(core.IDialectNameProvider); ok {
		return New(p.GetDialectName())
	}
	return Dialect{name: NameUnknown}
}

// Name 返回标准化方言名
func (d Dialect) Name() Name {
	return d.name
}

// QuoteIdentifier 对标识符加双引号；schema.table 形式逐段处理，未知方言原样返回
func (d Dialect) QuoteIdentifier(name string) string {
	if name == "" || d.name == NameUnknown {
		return name
	}
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if p != "" {
			parts[i] = `"` + p + `"`
		}
	}
	return strings.Join(parts, ".")
}

// Rebind 将通用占位符 ? 转换为方言特定形式。
//
// 仅对 Postgres 替换为 $1、$2...；扫描不识别字符串字面量，
// 因此 SQL 字面量中不应出现 ?。
func (d Dialect) Rebind(query string) string {
	if d.name != NamePostgres || !strings.Contains(query, "?") {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

// ViolationKind 约束违例类别
type ViolationKind string

const (
	ViolationNotNull    ViolationKind = "not_null"
	ViolationUnique     ViolationKind = "unique"
	ViolationCheck      ViolationKind = "check"
	ViolationForeignKey ViolationKind = "foreign_key"
)

// Violation 从驱动错误中提取的约束违例信息
type Violation struct {
	Kind ViolationKind
	// Target 列名（NOT NULL / UNIQUE 单列）或约束名（CHECK / 外键）
	Target  string
	Message string
}

// ClassifyViolation 识别约束违例；非约束类错误返回 false
//
// Postgres 使用 pgconn.PgError 的 SQLSTATE，sqlite 按错误消息格式
// "<KIND> constraint failed: table.column" 解析。
func (d Dialect) ClassifyViolation(err error) (Violation, bool) {
	if err == nil {
		return Violation{}, false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		target := pgErr.ColumnName
		if target == "" {
			target = pgErr.ConstraintName
		}
		v := Violation{Target: target, Message: pgErr.Message}
		switch pgErr.Code {
		case "23502":
			v.Kind = ViolationNotNull
		case "23505":
			v.Kind = ViolationUnique
		case "23514":
			v.Kind = ViolationCheck
		case "23503":
			v.Kind = ViolationForeignKey
		default:
			return Violation{}, false
		}
		return v, true
	}

	msg := err.Error()
	kinds := []struct {
		marker string
		kind   ViolationKind
	}{
		{"NOT NULL constraint failed", ViolationNotNull},
		{"UNIQUE constraint failed", ViolationUnique},
		{"CHECK constraint failed", ViolationCheck},
		{"FOREIGN KEY constraint failed", ViolationForeignKey},
	}
	for _, k := range kinds {
		idx := strings.Index(msg, k.marker)
		if idx < 0 {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(msg[idx+len(k.marker):], ":"))
		if cut := strings.IndexAny(rest, " ,)("); cut >= 0 {
			rest = rest[:cut]
		}
		if dot := strings.LastIndex(rest, "."); dot >= 0 {
			rest = rest[dot+1:]
		}
		return Violation{Kind: k.kind, Target: rest, Message: k.marker}, true
	}
	return Violation{}, false
}

// IsUniqueViolation 判断错误是否为唯一键/主键冲突
func (d Dialect) IsUniqueViolation(err error) bool {
	v, ok := d.ClassifyViolation(err)
	return ok && v.Kind == ViolationUnique
}
