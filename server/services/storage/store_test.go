package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pdvrieze/ProcessManager-sub007/model"
	errors2 "github.com/pdvrieze/ProcessManager-sub007/server/errors"
	"github.com/pdvrieze/ProcessManager-sub007/server/services/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type widget struct {
	Handle model.Handle
	Name   string
	Count  int
}

func (w *widget) SetHandle(h model.Handle) { w.Handle = h }

type gadget struct {
	Label string
}

func backends(t *testing.T) map[string]func() Backend {
	return map[string]func() Backend{
		"memory": func() Backend { return NewMemory() },
		"bolt": func() Backend {
			b, err := OpenBolt(context.Background(), filepath.Join(t.TempDir(), "store.db"), 0)
			require.NoError(t, err)
			return b
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s *Store)) {
	for name, mk := range backends(t) {
		for _, cached := range []bool{false, true} {
			label := name
			var opts []Option
			if cached {
				label += "+cache"
				opts = append(opts, WithCache(NewCache(16)))
			}
			t.Run(label, func(t *testing.T) {
				s := New(zaptest.NewLogger(t), mk(), opts...)
				defer s.Close()
				fn(t, s)
			})
		}
	}
}

var widgets = NewTable[widget]("widgets")

func TestPutGetSetRemove(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		tx := s.Begin(ctx)
		h, err := widgets.Put(tx, &widget{Name: "a"})
		require.NoError(t, err)
		assert.True(t, h.Valid())
		require.NoError(t, tx.Commit())

		tx = s.Begin(ctx)
		w, err := widgets.Get(tx, h)
		require.NoError(t, err)
		assert.Equal(t, &widget{Handle: h, Name: "a"}, w)

		w.Count = 3
		prev, err := widgets.Set(tx, h, w)
		require.NoError(t, err)
		assert.Equal(t, 0, prev.Count)
		require.NoError(t, tx.Commit())

		tx = s.Begin(ctx)
		w, err = widgets.Get(tx, h)
		require.NoError(t, err)
		assert.Equal(t, 3, w.Count)
		ok, err := widgets.Remove(tx, h)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = widgets.Remove(tx, h)
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, tx.Commit())

		tx = s.Begin(ctx)
		defer tx.Rollback()
		_, err = widgets.Get(tx, h)
		var nf *errors2.HandleNotFoundError
		require.True(t, errors.As(err, &nf))
		assert.Equal(t, "widgets", nf.Table)
		assert.Equal(t, uint64(h), nf.Handle)
	})
}

func TestHandlesAreMonotonic(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		tx := s.Begin(context.Background())
		var last model.Handle
		for i := 0; i < 5; i++ {
			h, err := widgets.Put(tx, &widget{})
			require.NoError(t, err)
			assert.True(t, h > last)
			last = h
		}
		require.NoError(t, tx.Commit())
	})
}

func TestUncommittedWritesAreInvisible(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		writer := s.Begin(ctx)
		h, err := widgets.Put(writer, &widget{Name: "hidden"})
		require.NoError(t, err)

		reader := s.Begin(ctx)
		_, err = widgets.Get(reader, h)
		assert.ErrorIs(t, err, errors2.ErrHandleNotFound)
		all, err := widgets.All(reader)
		require.NoError(t, err)
		assert.Empty(t, all)

		// but visible to the writer itself
		all, err = widgets.All(writer)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "hidden", all[0].Name)
		writer.Rollback()
	})
}

func TestRepeatableRead(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		h := seed(t, s, "v1")

		reader := s.Begin(ctx)
		defer reader.Rollback()
		w, err := widgets.Get(reader, h)
		require.NoError(t, err)
		assert.Equal(t, "v1", w.Name)

		require.NoError(t, Update(ctx, s, 1, func(tx *Tx) error {
			_, err := widgets.Set(tx, h, &widget{Handle: h, Name: "v2"})
			return err
		}))

		w, err = widgets.Get(reader, h)
		require.NoError(t, err)
		assert.Equal(t, "v1", w.Name)

		fresh := s.Begin(ctx)
		defer fresh.Rollback()
		w, err = widgets.Get(fresh, h)
		require.NoError(t, err)
		assert.Equal(t, "v2", w.Name)
	})
}

func TestConcurrentWriteConflicts(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		h := seed(t, s, "base")

		tx1 := s.Begin(ctx)
		tx2 := s.Begin(ctx)
		for _, tx := range []*Tx{tx1, tx2} {
			w, err := widgets.Get(tx, h)
			require.NoError(t, err)
			w.Count++
			_, err = widgets.Set(tx, h, w)
			require.NoError(t, err)
		}
		require.NoError(t, tx1.Commit())
		err := tx2.Commit()
		assert.ErrorIs(t, err, errors2.ErrConflict)

		check := s.Begin(ctx)
		defer check.Rollback()
		w, err := widgets.Get(check, h)
		require.NoError(t, err)
		assert.Equal(t, 1, w.Count)
	})
}

func setNames(t *testing.T, s *Store, name string, hs ...model.Handle) {
	t.Helper()
	require.NoError(t, Update(context.Background(), s, 1, func(tx *Tx) error {
		for _, h := range hs {
			if _, err := widgets.Set(tx, h, &widget{Handle: h, Name: name}); err != nil {
				return err
			}
		}
		return nil
	}))
}

func TestNoReadSkewInsideTransaction(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		a := seed(t, s, "1")
		b := seed(t, s, "1")

		reader := s.Begin(ctx)
		w, err := widgets.Get(reader, a)
		require.NoError(t, err)
		assert.Equal(t, "1", w.Name)

		setNames(t, s, "2", a, b)

		_, err = widgets.Get(reader, b)
		assert.ErrorIs(t, err, errors2.ErrConflict)
		_, err = widgets.Put(reader, &widget{Name: "derived"})
		require.NoError(t, err)
		assert.ErrorIs(t, reader.Commit(), errors2.ErrConflict)
	})
}

func TestCommitChecksRecordsOnlyRead(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		a := seed(t, s, "1")

		tx := s.Begin(ctx)
		_, err := widgets.Get(tx, a)
		require.NoError(t, err)
		setNames(t, s, "2", a)
		_, err = widgets.Put(tx, &widget{Name: "from 1"})
		require.NoError(t, err)
		assert.ErrorIs(t, tx.Commit(), errors2.ErrConflict)
	})
}

func TestUpdateRerunsOnOvertakenView(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		a := seed(t, s, "1")
		b := seed(t, s, "1")

		calls := 0
		var derived model.Handle
		err := UpdateWithPolicy(ctx, s, 3, retry.Immediately, func(tx *Tx) error {
			calls++
			wa, err := widgets.Get(tx, a)
			if err != nil {
				return err
			}
			if calls == 1 {
				setNames(t, s, "2", a, b)
			}
			wb, err := widgets.Get(tx, b)
			if err != nil {
				return err
			}
			derived, err = widgets.Put(tx, &widget{Name: wa.Name + wb.Name})
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)

		require.NoError(t, View(ctx, s, func(tx *Tx) error {
			w, err := widgets.Get(tx, derived)
			require.NoError(t, err)
			assert.Equal(t, "22", w.Name)
			return nil
		}))
	})
}

func TestViewSeesOneState(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		a := seed(t, s, "1")
		b := seed(t, s, "1")

		calls := 0
		var seen []string
		require.NoError(t, View(ctx, s, func(tx *Tx) error {
			calls++
			seen = seen[:0]
			wa, err := widgets.Get(tx, a)
			if err != nil {
				return err
			}
			if calls == 1 {
				setNames(t, s, "2", a, b)
			}
			wb, err := widgets.Get(tx, b)
			if err != nil {
				return err
			}
			seen = append(seen, wa.Name, wb.Name)
			return nil
		}))
		assert.Equal(t, 2, calls)
		assert.Equal(t, []string{"2", "2"}, seen)
	})
}

func TestIterateSeesNoLaterInserts(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		seed(t, s, "a")
		tx := s.Begin(ctx)
		defer tx.Rollback()
		seed(t, s, "b")

		_, err := widgets.All(tx)
		assert.ErrorIs(t, err, errors2.ErrConflict)
	})
}

func TestWrongTypeIsContractViolation(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		h := seed(t, s, "w")
		gadgets := NewTable[gadget]("widgets")
		tx := s.Begin(context.Background())
		defer tx.Rollback()
		_, err := gadgets.Get(tx, h)
		var cerr *errors2.ContractError
		require.True(t, errors.As(err, &cerr))
		assert.True(t, errors2.IsWorkflowFatal(err))
		assert.False(t, errors.Is(err, errors2.ErrHandleNotFound))
	})
}

func TestIterateInHandleOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		a := seed(t, s, "a")
		b := seed(t, s, "b")
		tx := s.Begin(ctx)
		defer tx.Rollback()
		c, err := widgets.Put(tx, &widget{Name: "c"})
		require.NoError(t, err)
		_, err = widgets.Remove(tx, a)
		require.NoError(t, err)

		var got []model.Handle
		require.NoError(t, widgets.Iterate(tx, func(h model.Handle, w *widget) error {
			got = append(got, h)
			return nil
		}))
		assert.Equal(t, []model.Handle{b, c}, got)

		stop := errors.New("stop")
		err = widgets.Iterate(tx, func(model.Handle, *widget) error { return stop })
		assert.ErrorIs(t, err, stop)
	})
}

func TestOnCommitRunsOnlyAfterCommit(t *testing.T) {
	s := New(zaptest.NewLogger(t), NewMemory())
	var ran int32
	tx := s.Begin(context.Background())
	tx.OnCommit(func() { atomic.AddInt32(&ran, 1) })
	tx.Rollback()
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran))

	tx = s.Begin(context.Background())
	_, err := widgets.Put(tx, &widget{})
	require.NoError(t, err)
	tx.OnCommit(func() { atomic.AddInt32(&ran, 1) })
	require.NoError(t, tx.Commit())
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
	assert.ErrorIs(t, tx.Commit(), errors2.ErrTxDone)
}

func TestCacheNeverServesStaleValue(t *testing.T) {
	cache := NewCache(8)
	s := New(zaptest.NewLogger(t), NewMemory(), WithCache(cache))
	ctx := context.Background()
	h := seed(t, s, "v1")

	for i := 0; i < 2; i++ {
		tx := s.Begin(ctx)
		_, err := widgets.Get(tx, h)
		require.NoError(t, err)
		tx.Rollback()
	}
	hits, _ := cache.Stats()
	assert.Equal(t, uint64(1), hits)

	require.NoError(t, Update(ctx, s, 1, func(tx *Tx) error {
		_, err := widgets.Set(tx, h, &widget{Handle: h, Name: "v2"})
		return err
	}))

	tx := s.Begin(ctx)
	defer tx.Rollback()
	w, err := widgets.Get(tx, h)
	require.NoError(t, err)
	assert.Equal(t, "v2", w.Name)
}

func TestCacheDropsRacingLoad(t *testing.T) {
	cache := NewCache(8)
	k := cacheKey{table: "t", handle: 1}
	_, epoch, ok := cache.get(k)
	require.False(t, ok)
	cache.invalidate([]cacheKey{k})
	cache.add(k, cacheEntry{data: []byte("old"), version: 1}, epoch)
	assert.Equal(t, 0, cache.Len())

	_, epoch, _ = cache.get(k)
	cache.add(k, cacheEntry{data: []byte("new"), version: 2}, epoch)
	assert.Equal(t, 1, cache.Len())
}

// flaky fails the first n commits with a conflict.
type flaky struct {
	Backend
	n int32
}

func (f *flaky) Commit(ws []Write) error {
	if atomic.AddInt32(&f.n, -1) >= 0 {
		return errors2.ErrConflict
	}
	return f.Backend.Commit(ws)
}

func TestUpdateRetriesConflicts(t *testing.T) {
	s := New(zaptest.NewLogger(t), &flaky{Backend: NewMemory(), n: 2})
	calls := 0
	err := UpdateWithPolicy(context.Background(), s, 3, retry.Immediately, func(tx *Tx) error {
		calls++
		_, err := widgets.Put(tx, &widget{Name: "x"})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestUpdateGivesUp(t *testing.T) {
	s := New(zaptest.NewLogger(t), &flaky{Backend: NewMemory(), n: 10})
	err := UpdateWithPolicy(context.Background(), s, 3, retry.Immediately, func(tx *Tx) error {
		_, err := widgets.Put(tx, &widget{Name: "x"})
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors2.ErrTransient)
	assert.ErrorIs(t, err, errors2.ErrConflict)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	s := New(zaptest.NewLogger(t), NewMemory())
	ctx := context.Background()
	boom := errors.New("boom")
	var h model.Handle
	err := Update(ctx, s, 3, func(tx *Tx) error {
		var err error
		h, err = widgets.Put(tx, &widget{})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, View(ctx, s, func(tx *Tx) error {
		_, err := widgets.Get(tx, h)
		assert.ErrorIs(t, err, errors2.ErrHandleNotFound)
		return nil
	}))
}

func TestUpdateKeepsChangesWhenAsked(t *testing.T) {
	s := New(zaptest.NewLogger(t), NewMemory())
	ctx := context.Background()
	var h model.Handle
	err := Update(ctx, s, 3, func(tx *Tx) error {
		var err error
		h, err = widgets.Put(tx, &widget{Name: "kept"})
		require.NoError(t, err)
		return &errors2.TemplateError{NodeID: "ac1", Name: "missing"}
	})
	assert.ErrorIs(t, err, errors2.ErrTemplateResolution)
	require.NoError(t, View(ctx, s, func(tx *Tx) error {
		w, err := widgets.Get(tx, h)
		require.NoError(t, err)
		assert.Equal(t, "kept", w.Name)
		return nil
	}))
}

func seed(t *testing.T, s *Store, name string) model.Handle {
	t.Helper()
	var h model.Handle
	require.NoError(t, Update(context.Background(), s, 1, func(tx *Tx) error {
		var err error
		h, err = widgets.Put(tx, &widget{Name: name})
		return err
	}))
	return h
}

func TestOpenBoltTimesOutOnLockedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	held, err := OpenBolt(context.Background(), path, 0)
	require.NoError(t, err)
	defer held.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = OpenBolt(ctx, path, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
