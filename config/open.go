package config

import (
	"context"

	// 注册 database/sql 驱动：sqlite 与 pgx
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"gokeep/data/db/basic"
	"gokeep/errors"
	"gokeep/keygen"
	"gokeep/logging"
	"gokeep/notify"
	"gokeep/notify/natspub"
	"gokeep/notify/redisstream"
	"gokeep/store"
	"gokeep/store/memory"
	"gokeep/store/sqlstore"
)

// Runtime 按配置组装的后端与通知发布者
type Runtime struct {
	Config  Config
	Backend store.IBackend
	// Memory 与 SQL 中恰有一个非 nil，对应 Config.Backend
	Memory *memory.Store
	SQL    *sqlstore.Store
	DB     *basic.DB
	// Publisher 未配置 redis 与 nats 时为 nil
	Publisher notify.IPublisher
	Logger    logging.Logger
}

// Open 按配置建立连接并创建后端
func Open(ctx context.Context, cfg Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rt := &Runtime{Config: cfg, Logger: cfg.Logger()}

	keys, err := keygen.NewDefault(cfg.SnowflakeDatacenter, cfg.SnowflakeWorker)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "configure key generator")
	}

	switch cfg.Backend {
	case BackendMemory:
		rt.Memory = memory.New(
			memory.WithKeyGenerator(keys),
			memory.WithLogger(logging.ComponentLogger(rt.Logger, "store.memory")))
		rt.Backend = rt.Memory
	case BackendSQL:
		db, err := basic.Open(ctx, cfg.DBConfig())
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeDatabase, "open database")
		}
		s, err := sqlstore.New(db,
			sqlstore.WithKeyGenerator(keys),
			sqlstore.WithLogger(logging.ComponentLogger(rt.Logger, "store.sql")))
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		rt.DB, rt.SQL, rt.Backend = db, s, s
	}

	if err := rt.openPublishers(); err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Logger.Info(ctx, "runtime opened",
		logging.String("backend", rt.Backend.Name()),
		logging.Bool("notify", rt.Publisher != nil))
	return rt, nil
}

func (rt *Runtime) openPublishers() error {
	var publishers notify.Fanout
	if rt.Config.RedisAddr != "" {
		p, err := redisstream.New(redisstream.Config{
			Addr:         rt.Config.RedisAddr,
			Password:     rt.Config.RedisPassword,
			DB:           rt.Config.RedisDB,
			StreamPrefix: rt.Config.RedisStreamPrefix,
			MaxLen:       rt.Config.RedisMaxLen,
			Logger:       logging.ComponentLogger(rt.Logger, "notify.redisstream"),
		})
		if err != nil {
			return err
		}
		publishers = append(publishers, p)
	}
	if rt.Config.NatsURL != "" {
		p, err := natspub.New(natspub.Config{
			URL:           rt.Config.NatsURL,
			Stream:        rt.Config.NatsStream,
			SubjectPrefix: rt.Config.NatsSubjectPrefix,
			Logger:        logging.ComponentLogger(rt.Logger, "notify.natspub"),
		})
		if err != nil {
			_ = publishers.Close()
			return err
		}
		publishers = append(publishers, p)
	}
	switch len(publishers) {
	case 0:
	case 1:
		rt.Publisher = publishers[0]
	default:
		rt.Publisher = publishers
	}
	return nil
}

// Close 释放发布者与数据库连接
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Publisher != nil {
		errs = append(errs, rt.Publisher.Close())
	}
	if rt.DB != nil {
		errs = append(errs, rt.DB.Close())
	}
	return errors.CombineAll(errs...)
}
