package storage

import (
	"context"
	errors2 "errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pdvrieze/ProcessManager-sub007/model"
	"github.com/pdvrieze/ProcessManager-sub007/server/errors"
	"go.uber.org/zap"
)

// Store is a transactional, handle addressed entity store. Transactions are
// optimistic and see the state of the latest commit at Begin: reading a record
// changed by a later commit fails with errors.ErrConflict instead of mixing
// states. Writes stay private until Commit, and Commit fails with
// errors.ErrConflict when a record the transaction read or wrote changed in
// the meantime.
type Store struct {
	log     *zap.Logger
	backend Backend
	cache   *Cache
	// commits excludes Begin while a commit is applied and its keys are
	// invalidated in the cache.
	commits sync.RWMutex
}

// Option configures a Store.
type Option func(*Store)

// WithCache puts c in front of the backend.
func WithCache(c *Cache) Option {
	return func(s *Store) { s.cache = c }
}

// New creates a store over backend.
func New(log *zap.Logger, backend Backend, opts ...Option) *Store {
	s := &Store{log: log, backend: backend}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Begin opens a transaction. It is not safe for concurrent use.
func (s *Store) Begin(ctx context.Context) *Tx {
	s.commits.RLock()
	snapshot, err := s.backend.Version()
	s.commits.RUnlock()
	return &Tx{
		s:        s,
		ctx:      ctx,
		snapshot: snapshot,
		err:      err,
		reads:    make(map[cacheKey]cacheEntry),
		writes:   make(map[cacheKey]*Write),
	}
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) load(k cacheKey) (cacheEntry, error) {
	if s.cache == nil {
		rec, err := s.backend.Load(k.table, k.handle)
		return entry(rec), err
	}
	e, epoch, ok := s.cache.get(k)
	if ok {
		return e, nil
	}
	rec, err := s.backend.Load(k.table, k.handle)
	if err != nil {
		return cacheEntry{}, err
	}
	s.cache.add(k, entry(rec), epoch)
	return entry(rec), nil
}

func (s *Store) commit(ws []Write, written []cacheKey) error {
	s.commits.Lock()
	defer s.commits.Unlock()
	err := s.backend.Commit(ws)
	if s.cache != nil {
		s.cache.invalidate(written)
	}
	return err
}

// Tx is a unit of work against a Store.
type Tx struct {
	s        *Store
	ctx      context.Context
	snapshot uint64
	err      error
	stale    error
	reads    map[cacheKey]cacheEntry
	writes   map[cacheKey]*Write
	order    []cacheKey
	onCommit []func()
	done     bool
}

// Context returns the context the transaction was started with.
func (tx *Tx) Context() context.Context {
	return tx.ctx
}

// OnCommit registers fn to run after a successful commit, in registration
// order. Nothing registered runs if the transaction rolls back.
func (tx *Tx) OnCommit(fn func()) {
	tx.onCommit = append(tx.onCommit, fn)
}

// Commit makes the writes of the transaction visible atomically. Records that
// were only read are checked as well, so nothing derived from a view that
// has since changed is committed.
func (tx *Tx) Commit() error {
	if tx.done {
		return errors.ErrTxDone
	}
	tx.done = true
	if tx.err != nil {
		return tx.err
	}
	if tx.stale != nil {
		return tx.stale
	}
	if len(tx.order) > 0 {
		ws := make([]Write, 0, len(tx.order)+len(tx.reads))
		for _, k := range tx.order {
			ws = append(ws, *tx.writes[k])
		}
		for k, r := range tx.reads {
			if _, ok := tx.writes[k]; !ok {
				ws = append(ws, Write{Table: k.table, Handle: k.handle, Expect: r.version, Check: true})
			}
		}
		if err := tx.s.commit(ws, tx.order); err != nil {
			if errors2.Is(err, errors.ErrConflict) {
				tx.s.log.Debug("commit conflict", zap.Error(err), zap.Int("writes", len(tx.order)))
			}
			return err
		}
	}
	for _, fn := range tx.onCommit {
		fn()
	}
	return nil
}

// Rollback discards the transaction. It is safe to call after Commit.
func (tx *Tx) Rollback() {
	tx.done = true
	tx.writes = nil
	tx.order = nil
	tx.onCommit = nil
}

// Stale returns the conflict a read ran into, if any. A stale transaction
// never commits.
func (tx *Tx) Stale() error {
	return tx.stale
}

func (tx *Tx) check() error {
	if tx.done {
		return errors.ErrTxDone
	}
	if tx.err != nil {
		return tx.err
	}
	return tx.ctx.Err()
}

// observe records a committed record in the read set. A record changed after
// the snapshot marks the transaction stale.
func (tx *Tx) observe(k cacheKey, e cacheEntry) error {
	if e.version > tx.snapshot {
		tx.stale = fmt.Errorf("%s/%d changed at version %d after snapshot %d: %w", k.table, k.handle, e.version, tx.snapshot, errors.ErrConflict)
		return tx.stale
	}
	tx.reads[k] = e
	return nil
}

func (tx *Tx) read(k cacheKey) ([]byte, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	if w, ok := tx.writes[k]; ok {
		if w.Delete {
			return nil, notFound(k)
		}
		return w.Data, nil
	}
	if r, ok := tx.reads[k]; ok {
		if !r.exists() {
			return nil, notFound(k)
		}
		return r.data, nil
	}
	e, err := tx.s.load(k)
	if err != nil {
		return nil, fmt.Errorf("load %s/%d: %w", k.table, k.handle, err)
	}
	if err := tx.observe(k, e); err != nil {
		return nil, err
	}
	if !e.exists() {
		return nil, notFound(k)
	}
	return e.data, nil
}

func (tx *Tx) write(k cacheKey, data []byte, del bool) error {
	if tx.done {
		return errors.ErrTxDone
	}
	if w, ok := tx.writes[k]; ok {
		w.Data, w.Delete = data, del
		return nil
	}
	if _, ok := tx.reads[k]; !ok {
		if _, err := tx.read(k); err != nil && !errors2.Is(err, errors.ErrHandleNotFound) {
			return err
		}
	}
	tx.writes[k] = &Write{Table: k.table, Handle: k.handle, Expect: tx.reads[k].version, Data: data, Delete: del}
	tx.order = append(tx.order, k)
	return nil
}

func (tx *Tx) reserve(table string) (model.Handle, error) {
	if err := tx.check(); err != nil {
		return model.NoHandle, err
	}
	h, err := tx.s.backend.NextHandle(table)
	if err != nil {
		return model.NoHandle, fmt.Errorf("reserve handle in %s: %w", table, err)
	}
	tx.reads[cacheKey{table: table, handle: h}] = cacheEntry{}
	return h, nil
}

type scanned struct {
	handle model.Handle
	data   []byte
}

// scan merges the committed records of table with this transaction's view.
// A record added, changed or removed after the snapshot makes it stale.
func (tx *Tx) scan(table string) ([]scanned, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	var ret []scanned
	err := tx.s.backend.Scan(table, func(h model.Handle, rec Record) error {
		k := cacheKey{table: table, handle: h}
		if _, ok := tx.writes[k]; ok {
			return nil
		}
		e, ok := tx.reads[k]
		if !ok {
			e = entry(rec)
			if err := tx.observe(k, e); err != nil {
				return err
			}
		}
		if e.exists() {
			ret = append(ret, scanned{handle: h, data: e.data})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", table, err)
	}
	for _, k := range tx.order {
		if k.table != table {
			continue
		}
		if w := tx.writes[k]; !w.Delete {
			ret = append(ret, scanned{handle: k.handle, data: w.Data})
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].handle < ret[j].handle })
	return ret, nil
}

func notFound(k cacheKey) error {
	return &errors.HandleNotFoundError{Table: k.table, Handle: uint64(k.handle)}
}
