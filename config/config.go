// Package config 从环境变量加载配置并组装后端
package config

import (
	"database/sql"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"

	core "gokeep/data/db"
	"gokeep/errors"
	"gokeep/logging"
)

// 后端类型
const (
	BackendMemory = "memory"
	BackendSQL    = "sql"
)

// Config 运行配置，全部来自 GOKEEP_* 环境变量
type Config struct {
	Backend string `env:"GOKEEP_BACKEND" envDefault:"memory"`

	DBDriver          string `env:"GOKEEP_DB_DRIVER"             envDefault:"sqlite"`
	DBDSN             string `env:"GOKEEP_DB_DSN"                envDefault:"file::memory:?_pragma=foreign_keys(1)"`
	DBMaxOpenConns    int    `env:"GOKEEP_DB_MAX_OPEN_CONNS"     envDefault:"1"`
	DBMaxIdleConns    int    `env:"GOKEEP_DB_MAX_IDLE_CONNS"     envDefault:"1"`
	DBConnMaxLifetime int    `env:"GOKEEP_DB_CONN_MAX_LIFETIME"  envDefault:"1800"`
	DBConnMaxIdleTime int    `env:"GOKEEP_DB_CONN_MAX_IDLE_TIME" envDefault:"300"`

	// Isolation 显式事务的隔离级别：default, read_uncommitted, read_committed,
	// repeatable_read, serializable
	Isolation string `env:"GOKEEP_ISOLATION" envDefault:"default"`

	LogLevel string `env:"GOKEEP_LOG_LEVEL" envDefault:"info"`

	SnowflakeDatacenter int64 `env:"GOKEEP_SNOWFLAKE_DATACENTER" envDefault:"1"`
	SnowflakeWorker     int64 `env:"GOKEEP_SNOWFLAKE_WORKER"     envDefault:"1"`

	RedisAddr         string `env:"GOKEEP_REDIS_ADDR"`
	RedisPassword     string `env:"GOKEEP_REDIS_PASSWORD"`
	RedisDB           int    `env:"GOKEEP_REDIS_DB"            envDefault:"0"`
	RedisStreamPrefix string `env:"GOKEEP_REDIS_STREAM_PREFIX" envDefault:"gokeep:"`
	RedisMaxLen       int64  `env:"GOKEEP_REDIS_MAXLEN"        envDefault:"0"`

	NatsURL           string `env:"GOKEEP_NATS_URL"`
	NatsStream        string `env:"GOKEEP_NATS_STREAM"         envDefault:"GOKEEP"`
	NatsSubjectPrefix string `env:"GOKEEP_NATS_SUBJECT_PREFIX" envDefault:"gokeep."`
}

var isolationLevels = map[string]sql.IsolationLevel{
	"default":          sql.LevelDefault,
	"read_uncommitted": sql.LevelReadUncommitted,
	"read_committed":   sql.LevelReadCommitted,
	"repeatable_read":  sql.LevelRepeatableRead,
	"snapshot":         sql.LevelSnapshot,
	"serializable":     sql.LevelSerializable,
}

// Load 从进程环境变量加载
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom 从给定的变量表加载，不读取进程环境
func LoadFrom(environment map[string]string) (Config, error) {
	return parse(env.Options{Environment: environment})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, errors.WrapError(err, errors.ErrCodeInvalidInput, "parse env")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate 检查取值范围
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendSQL:
	default:
		return errors.Newf(errors.ErrCodeInvalidInput, "unknown backend %q", c.Backend)
	}
	if _, ok := isolationLevels[normalize(c.Isolation)]; !ok {
		return errors.Newf(errors.ErrCodeInvalidInput, "unknown isolation level %q", c.Isolation)
	}
	if c.Backend == BackendSQL && c.DBDSN == "" {
		return errors.NewError(errors.ErrCodeInvalidInput, "GOKEEP_DB_DSN is required for the sql backend")
	}
	return nil
}

// TxOptions 显式事务选项；默认隔离级别时返回 nil
func (c Config) TxOptions() *sql.TxOptions {
	level := isolationLevels[normalize(c.Isolation)]
	if level == sql.LevelDefault {
		return nil
	}
	return &sql.TxOptions{Isolation: level}
}

// DBConfig 转换为数据库连接配置
func (c Config) DBConfig() core.DBConfig {
	return core.DBConfig{
		Driver:          c.DBDriver,
		DSN:             c.DBDSN,
		MaxOpenConns:    c.DBMaxOpenConns,
		MaxIdleConns:    c.DBMaxIdleConns,
		ConnMaxLifetime: c.DBConnMaxLifetime,
		ConnMaxIdleTime: c.DBConnMaxIdleTime,
	}
}

// Logger 按 LogLevel 创建输出到 stderr 的 Logger
func (c Config) Logger() logging.Logger {
	return logging.NewStdLoggerTo(os.Stderr, "gokeep", logging.ParseLevel(c.LogLevel))
}

func normalize(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
}
