package keygen

import (
	"reflect"
	"sync"
	"time"

	"gokeep/clock"
	"gokeep/errors"
)

const (
	// 起始时间戳 (2023-01-01 00:00:00 UTC)
	epoch int64 = 1672531200000

	workerIDBits     = 5
	datacenterIDBits = 5
	sequenceBits     = 12

	maxWorkerID     = -1 ^ (-1 << workerIDBits)     // 31
	maxDatacenterID = -1 ^ (-1 << datacenterIDBits) // 31
	maxSequence     = -1 ^ (-1 << sequenceBits)     // 4095

	workerIDShift      = sequenceBits
	datacenterIDShift  = sequenceBits + workerIDBits
	timestampLeftShift = sequenceBits + workerIDBits + datacenterIDBits
)

// Snowflake 雪花算法 ID 生成器，并发安全
type Snowflake struct {
	mu            sync.Mutex
	clock         clock.Clock
	datacenterID  int64
	workerID      int64
	sequence      int64
	lastTimestamp int64
}

// NewSnowflake 创建生成器，节点号范围为 [0, 31]
func NewSnowflake(datacenterID, workerID int64) (*Snowflake, error) {
	return NewSnowflakeWithClock(datacenterID, workerID, clock.System{})
}

// NewSnowflakeWithClock 使用指定时钟创建生成器
func NewSnowflakeWithClock(datacenterID, workerID int64, c clock.Clock) (*Snowflake, error) {
	if datacenterID < 0 || datacenterID > maxDatacenterID {
		return nil, errors.Newf(errors.ErrCodeInvalidInput, "datacenter id %d out of range", datacenterID)
	}
	if workerID < 0 || workerID > maxWorkerID {
		return nil, errors.Newf(errors.ErrCodeInvalidInput, "worker id %d out of range", workerID)
	}
	return &Snowflake{
		clock:         c,
		datacenterID:  datacenterID,
		workerID:      workerID,
		lastTimestamp: -1,
	}, nil
}

// NextID 生成下一个 ID；时钟回拨时返回错误
func (g *Snowflake) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now().UnixMilli()
	if now < g.lastTimestamp {
		return 0, errors.NewError(errors.ErrCodeInternal, "clock moved backwards, refusing to generate id")
	}

	if now == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// 序列号用完，等待下一毫秒
			for now <= g.lastTimestamp {
				time.Sleep(100 * time.Microsecond)
				now = g.clock.Now().UnixMilli()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastTimestamp = now

	return ((now - epoch) << timestampLeftShift) |
		(g.datacenterID << datacenterIDShift) |
		(g.workerID << workerIDShift) |
		g.sequence, nil
}

// NextKey 实现 IGenerator 接口
func (g *Snowflake) NextKey(keyType reflect.Type) (any, error) {
	switch keyType.Kind() {
	case reflect.Int64, reflect.Int, reflect.Uint64:
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidInput, "snowflake generator cannot produce %s keys", keyType)
	}
	id, err := g.NextID()
	if err != nil {
		return nil, err
	}
	return reflect.ValueOf(id).Convert(keyType).Interface(), nil
}

// ParsedID 解析后的 ID 组成部分
type ParsedID struct {
	Timestamp    time.Time
	DatacenterID int64
	WorkerID     int64
	Sequence     int64
}

// Parse 解析 ID
func Parse(id int64) ParsedID {
	return ParsedID{
		Timestamp:    time.UnixMilli((id >> timestampLeftShift) + epoch).UTC(),
		DatacenterID: (id >> datacenterIDShift) & maxDatacenterID,
		WorkerID:     (id >> workerIDShift) & maxWorkerID,
		Sequence:     id & maxSequence,
	}
}
