package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pdvrieze/ProcessManager-sub007/model"
	"github.com/pdvrieze/ProcessManager-sub007/server/errors"
)

// Memory is a Backend that keeps records in process memory.
type Memory struct {
	mx      sync.RWMutex
	tables  map[string]map[model.Handle]Record
	seq     map[string]model.Handle
	commits uint64
	closed  bool
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		tables: make(map[string]map[model.Handle]Record),
		seq:    make(map[string]model.Handle),
	}
}

func (m *Memory) NextHandle(table string) (model.Handle, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.closed {
		return model.NoHandle, errors.ErrClosed
	}
	m.seq[table]++
	return m.seq[table], nil
}

func (m *Memory) Version() (uint64, error) {
	m.mx.RLock()
	defer m.mx.RUnlock()
	if m.closed {
		return 0, errors.ErrClosed
	}
	return m.commits, nil
}

func (m *Memory) Load(table string, h model.Handle) (Record, error) {
	m.mx.RLock()
	defer m.mx.RUnlock()
	if m.closed {
		return Record{}, errors.ErrClosed
	}
	return m.tables[table][h], nil
}

func (m *Memory) Scan(table string, fn func(h model.Handle, rec Record) error) error {
	m.mx.RLock()
	if m.closed {
		m.mx.RUnlock()
		return errors.ErrClosed
	}
	t := m.tables[table]
	handles := make([]model.Handle, 0, len(t))
	snapshot := make(map[model.Handle]Record, len(t))
	for h, r := range t {
		handles = append(handles, h)
		snapshot[h] = r
	}
	m.mx.RUnlock()

	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	for _, h := range handles {
		if err := fn(h, snapshot[h]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Commit(writes []Write) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.closed {
		return errors.ErrClosed
	}
	for _, w := range writes {
		if cur := m.tables[w.Table][w.Handle].Version; cur != w.Expect {
			return fmt.Errorf("%s/%d at version %d, expected %d: %w", w.Table, w.Handle, cur, w.Expect, errors.ErrConflict)
		}
	}
	m.commits++
	for _, w := range writes {
		if w.Check {
			continue
		}
		t, ok := m.tables[w.Table]
		if !ok {
			t = make(map[model.Handle]Record)
			m.tables[w.Table] = t
		}
		t[w.Handle] = Record{Data: w.Data, Version: m.commits, Deleted: w.Delete}
	}
	return nil
}

func (m *Memory) Close() error {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.closed = true
	return nil
}
