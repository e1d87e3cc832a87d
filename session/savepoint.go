package session

import (
	"reflect"

	"gokeep/entity"
)

// Savepoint 身份映射的还原点
//
// 建立后，Reconcile、Remove、Detach 对已跟踪记录的修改会先保存修改前的状态与字段值；
// Rollback 撤销还原点之后的全部身份映射变更，Release 结束记录。
// 同一时刻只有一个活动还原点，新建的会替换旧的。
type Savepoint struct {
	s       *Session
	order   []*entry
	known   map[*entry]bool
	touched map[*entry]saved
}

type saved struct {
	id     identity
	state  entity.State
	fields any
}

// Savepoint 建立还原点
func (s *Session) Savepoint() *Savepoint {
	s.compact()
	sp := &Savepoint{
		s:       s,
		order:   append([]*entry(nil), s.order...),
		known:   make(map[*entry]bool, len(s.order)),
		touched: make(map[*entry]saved),
	}
	for _, e := range s.order {
		sp.known[e] = true
	}
	s.savepoint = sp
	return sp
}

// remember 在修改已跟踪记录前保存其状态；还原点之后才开始跟踪的记录无需保存
func (s *Session) remember(e *entry) {
	sp := s.savepoint
	if sp == nil || !sp.known[e] {
		return
	}
	if _, ok := sp.touched[e]; ok {
		return
	}
	snapshot := entity.New(reflect.TypeOf(e.record))
	if err := entity.CopyFields(snapshot, e.record); err != nil {
		snapshot = nil
	}
	sp.touched[e] = saved{id: e.id, state: e.state, fields: snapshot}
}

// Rollback 撤销还原点之后的变更：新跟踪的记录停止跟踪，被合并、删除或分离的记录恢复原状
func (sp *Savepoint) Rollback() {
	s := sp.s
	if s.savepoint != sp {
		return
	}
	for _, e := range s.order {
		if !sp.known[e] && e.state != entity.Detached {
			s.untrack(e)
		}
	}
	for e, before := range sp.touched {
		if before.fields != nil {
			_ = entity.CopyFields(e.record, before.fields)
		}
		if e.id != before.id {
			delete(s.entries, e.id)
		}
		e.id = before.id
		e.state = before.state
		s.entries[e.id] = e
	}
	s.order = sp.order
	s.savepoint = nil
}

// Release 结束还原点，保留已发生的变更
func (sp *Savepoint) Release() {
	if sp.s.savepoint == sp {
		sp.s.savepoint = nil
	}
}
