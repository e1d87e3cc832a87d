// Package sql 提供 store/sqlstore 使用的简单 CRUD 语句构建器
//
// 表名与列名都经过 isSafeIdentifier 校验并按方言加引号，值一律走占位符。
package sql

import (
	"context"
	"database/sql"
	"strings"

	core "gokeep/data/db"
	"gokeep/data/db/dialect"
)

// ISql 提供统一的 SQL 构建与执行接口
type ISql interface {
	Select(columns ...string) ISelectBuilder
	InsertInto(table string) IInsertBuilder
	Update(table string) IUpdateBuilder
	DeleteFrom(table string) IDeleteBuilder
}

// ISelectBuilder 构建 SELECT 语句
type ISelectBuilder interface {
	From(table string) ISelectBuilder
	Where(cond string, args ...any) ISelectBuilder
	WhereIn(column string, values []any) ISelectBuilder
	OrderBy(column string) ISelectBuilder
	Build() (query string, args []any)
	Query(ctx context.Context) (core.IRows, error)
}

// IInsertBuilder 构建 INSERT 语句
type IInsertBuilder interface {
	Columns(cols ...string) IInsertBuilder
	Values(vals ...any) IInsertBuilder
	Build() (query string, args []any)
	Exec(ctx context.Context) (sql.Result, error)
}

// IUpdateBuilder 构建 UPDATE 语句
type IUpdateBuilder interface {
	Set(column string, val any) IUpdateBuilder
	Where(cond string, args ...any) IUpdateBuilder
	Build() (query string, args []any)
	Exec(ctx context.Context) (sql.Result, error)
}

// IDeleteBuilder 构建 DELETE 语句
type IDeleteBuilder interface {
	Where(cond string, args ...any) IDeleteBuilder
	Build() (query string, args []any)
	Exec(ctx context.Context) (sql.Result, error)
}

type sqlImpl struct {
	db      core.IDatabase
	dialect dialect.Dialect
}

// New 基于 IDatabase（连接或事务）创建构建器入口
func New(db core.IDatabase) ISql {
	return &sqlImpl{db: db, dialect: dialect.FromDatabase(db)}
}

func (s *sqlImpl) Select(columns ...string) ISelectBuilder {
	return &selectBuilder{db: s.db, dialect: s.dialect, cols: columns}
}

func (s *sqlImpl) InsertInto(table string) IInsertBuilder {
	return &insertBuilder{db: s.db, dialect: s.dialect, table: table}
}

func (s *sqlImpl) Update(table string) IUpdateBuilder {
	return &updateBuilder{db: s.db, dialect: s.dialect, table: table}
}

func (s *sqlImpl) DeleteFrom(table string) IDeleteBuilder {
	return &deleteBuilder{db: s.db, dialect: s.dialect, table: table}
}

// Eq 生成 `"col" = ?` 条件片段
func Eq(d dialect.Dialect, column string) string {
	return quote(d, column, "condition") + " = ?"
}

func quote(d dialect.Dialect, name, what string) string {
	if !isSafeIdentifier(name) {
		panic("sql: unsafe " + what + " identifier " + name)
	}
	return d.QuoteIdentifier(name)
}

func quoteAll(d dialect.Dialect, names []string, what string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quote(d, n, what)
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
