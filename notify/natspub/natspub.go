// Package natspub 通过 NATS JetStream 发布变更通知
package natspub

import (
	"context"
	stdErrors "errors"
	"strings"

	"github.com/nats-io/nats.go"

	"gokeep/errors"
	"gokeep/logging"
	"gokeep/notify"
)

// jetStream JetStreamContext 子集
type jetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// Config JetStream 发布配置
type Config struct {
	URL           string
	Conn          *nats.Conn
	Stream        string
	SubjectPrefix string
	// MaxMsgsPerSubject 每主题保留的最大消息数，0 表示不限
	MaxMsgsPerSubject int64
	Replicas          int
	Logger            logging.Logger
}

// Publisher 把通知发布到 <prefix><record>.<operation>
type Publisher struct {
	cfg      Config
	conn     *nats.Conn
	ownsConn bool
	js       jetStream
	logger   logging.Logger
}

var _ notify.IPublisher = (*Publisher)(nil)

// New 建立连接并确保流存在
func New(cfg Config) (*Publisher, error) {
	conn := cfg.Conn
	owns := false
	if conn == nil {
		if cfg.URL == "" {
			cfg.URL = nats.DefaultURL
		}
		c, err := nats.Connect(cfg.URL)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeNetwork, "connect nats")
		}
		conn, owns = c, true
	}
	js, err := conn.JetStream()
	if err != nil {
		if owns {
			conn.Close()
		}
		return nil, errors.WrapError(err, errors.ErrCodeNetwork, "open jetstream context")
	}
	p := newPublisher(cfg, js)
	p.conn, p.ownsConn = conn, owns
	if err := p.ensureStream(); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func newPublisher(cfg Config, js jetStream) *Publisher {
	if cfg.Stream == "" {
		cfg.Stream = "GOKEEP"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "gokeep."
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger(nil, "notify.natspub")
	}
	return &Publisher{cfg: cfg, js: js, logger: cfg.Logger}
}

func (p *Publisher) ensureStream() error {
	_, err := p.js.StreamInfo(p.cfg.Stream)
	if err == nil {
		return nil
	}
	if !stdErrors.Is(err, nats.ErrStreamNotFound) && !strings.Contains(err.Error(), "stream not found") {
		return errors.WrapError(err, errors.ErrCodeNetwork, "lookup stream")
	}
	sc := &nats.StreamConfig{
		Name:              p.cfg.Stream,
		Subjects:          []string{p.cfg.SubjectPrefix + ">"},
		Retention:         nats.LimitsPolicy,
		MaxMsgsPerSubject: -1,
	}
	if p.cfg.MaxMsgsPerSubject > 0 {
		sc.MaxMsgsPerSubject = p.cfg.MaxMsgsPerSubject
	}
	if p.cfg.Replicas > 0 {
		sc.Replicas = p.cfg.Replicas
	}
	if _, err := p.js.AddStream(sc); err != nil {
		return errors.WrapError(err, errors.ErrCodeNetwork, "create stream")
	}
	p.logger.Info(context.Background(), "stream created", logging.String("stream", p.cfg.Stream))
	return nil
}

// Publish 实现 notify.IPublisher；通知 ID 作为 JetStream 去重 ID
func (p *Publisher) Publish(ctx context.Context, notice notify.ChangeNotice) error {
	data, err := notice.Encode()
	if err != nil {
		return err
	}
	subject := p.subjectName(notice)
	ack, err := p.js.Publish(subject, data, nats.MsgId(notice.ID), nats.Context(ctx))
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeNetwork, "publish change notice")
	}
	p.logger.Debug(ctx, "change notice published",
		logging.String("subject", subject),
		logging.Any("seq", ack.Sequence))
	return nil
}

// Close 关闭自行建立的连接
func (p *Publisher) Close() error {
	if p.ownsConn && p.conn != nil {
		p.conn.Close()
	}
	p.conn = nil
	return nil
}

func (p *Publisher) subjectName(n notify.ChangeNotice) string {
	return p.cfg.SubjectPrefix + strings.ToLower(n.Record) + "." + n.Operation
}
