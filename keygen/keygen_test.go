package keygen

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gokeep/clock"
	"gokeep/errors"
)

// TestNewSnowflake 测试节点号范围校验
func TestNewSnowflake(t *testing.T) {
	_, err := NewSnowflake(0, 31)
	assert.NoError(t, err)

	_, err = NewSnowflake(32, 1)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeInvalidInput))

	_, err = NewSnowflake(1, -1)
	assert.Error(t, err)
}

// TestSnowflake_Concurrent 并发生成的 ID 不重复
func TestSnowflake_Concurrent(t *testing.T) {
	g, err := NewSnowflake(1, 1)
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		ids = make(map[int64]struct{})
		wg  sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id, err := g.NextID()
				assert.NoError(t, err)
				mu.Lock()
				ids[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 4000)
}

// TestSnowflake_ParseAndClock 使用手动时钟验证 ID 组成
func TestSnowflake_ParseAndClock(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := clock.NewManual(at)
	g, err := NewSnowflakeWithClock(3, 7, c)
	require.NoError(t, err)

	first, err := g.NextID()
	require.NoError(t, err)
	second, err := g.NextID()
	require.NoError(t, err)

	p := Parse(second)
	assert.Equal(t, at, p.Timestamp)
	assert.Equal(t, int64(3), p.DatacenterID)
	assert.Equal(t, int64(7), p.WorkerID)
	assert.Equal(t, int64(1), p.Sequence)
	assert.Less(t, first, second)

	c.Set(at.Add(-time.Second))
	_, err = g.NextID()
	assert.Error(t, err, "时钟回拨应拒绝生成")
}

type widgetID int64

// TestByKind 按主键种类分派
func TestByKind(t *testing.T) {
	g, err := NewDefault(1, 1)
	require.NoError(t, err)

	k, err := g.NextKey(reflect.TypeOf(int64(0)))
	require.NoError(t, err)
	assert.IsType(t, int64(0), k)

	k, err = g.NextKey(reflect.TypeOf(widgetID(0)))
	require.NoError(t, err)
	assert.IsType(t, widgetID(0), k)

	k, err = g.NextKey(reflect.TypeOf(""))
	require.NoError(t, err)
	_, err = uuid.Parse(k.(string))
	assert.NoError(t, err)

	_, err = g.NextKey(reflect.TypeOf(1.5))
	assert.Error(t, err)
}

func TestSequence(t *testing.T) {
	var s Sequence
	a, err := s.NextKey(reflect.TypeOf(int64(0)))
	require.NoError(t, err)
	b, _ := s.NextKey(reflect.TypeOf(int64(0)))
	assert.Equal(t, int64(1), a)
	assert.Equal(t, int64(2), b)

	_, err = s.NextKey(reflect.TypeOf(""))
	assert.Error(t, err)
}
