// Package redisstream 通过 Redis Streams (XADD) 发布变更通知
package redisstream

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/redis/go-redis/v9"

	"gokeep/errors"
	"gokeep/logging"
	"gokeep/notify"
)

// client go-redis 命令子集，便于测试替换
type client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// Config Redis Streams 发布配置
type Config struct {
	Client       redis.UniversalClient
	Addr         string
	Username     string
	Password     string
	DB           int
	StreamPrefix string
	// MaxLen 流的近似最大长度，0 表示不裁剪
	MaxLen int64
	Logger logging.Logger
}

// Publisher 把每条通知写入 <prefix><record> 流
type Publisher struct {
	cfg       Config
	client    client
	ownClient bool
	logger    logging.Logger
}

var _ notify.IPublisher = (*Publisher)(nil)

// New 创建发布者；未提供 Client 时按 Addr 建立连接
func New(cfg Config) (*Publisher, error) {
	var cl client
	own := false
	if cfg.Client != nil {
		cl = cfg.Client
	} else {
		if cfg.Addr == "" {
			return nil, errors.NewError(errors.ErrCodeInvalidInput, "redis address not configured")
		}
		cl = redis.NewClient(&redis.Options{Addr: cfg.Addr, Username: cfg.Username, Password: cfg.Password, DB: cfg.DB})
		own = true
	}
	return newPublisher(cfg, cl, own), nil
}

func newPublisher(cfg Config, cl client, own bool) *Publisher {
	if cfg.StreamPrefix == "" {
		cfg.StreamPrefix = "gokeep:"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger(nil, "notify.redisstream")
	}
	return &Publisher{cfg: cfg, client: cl, ownClient: own, logger: cfg.Logger}
}

// Publish 实现 notify.IPublisher
func (p *Publisher) Publish(ctx context.Context, notice notify.ChangeNotice) error {
	values, err := encode(notice)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{Stream: p.streamName(notice.Record), Values: values}
	if p.cfg.MaxLen > 0 {
		args.MaxLen = p.cfg.MaxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeNetwork, "xadd change notice")
	}
	p.logger.Debug(ctx, "change notice published",
		logging.String("stream", args.Stream),
		logging.String("entry", id))
	return nil
}

// Close 关闭自行建立的连接
func (p *Publisher) Close() error {
	if p.ownClient {
		return p.client.Close()
	}
	return nil
}

func (p *Publisher) streamName(record string) string {
	return p.cfg.StreamPrefix + record
}

func encode(n notify.ChangeNotice) (map[string]any, error) {
	keys, err := json.Marshal(n.Keys)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInternal, "encode notice keys")
	}
	return map[string]any{
		"id":        n.ID,
		"record":    n.Record,
		"operation": n.Operation,
		"keys":      string(keys),
		"by":        n.By,
		"timestamp": strconv.FormatInt(n.At.UnixNano(), 10),
	}, nil
}
