package storage

import (
	"context"
	"encoding/binary"
	errors2 "errors"
	"fmt"
	"os"

	"github.com/dogmatiq/linger"
	"github.com/pdvrieze/ProcessManager-sub007/model"
	"github.com/pdvrieze/ProcessManager-sub007/server/errors"
	"go.etcd.io/bbolt"
)

// Bolt is a Backend persisting every table as a BoltDB bucket. Keys are
// big-endian handles, values are an eight byte version and a tombstone flag
// byte followed by the data. The commit sequence lives in the _meta bucket.
type Bolt struct {
	db *bbolt.DB
}

// OpenBolt opens or creates the database at path. If the deadline from ctx is
// sooner than the default open timeout, the context deadline is used instead.
func OpenBolt(ctx context.Context, path string, mode os.FileMode) (*Bolt, error) {
	if mode == 0 {
		mode = 0600
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	opts := *bbolt.DefaultOptions
	if timeout, ok := linger.FromContextDeadline(ctx); ok {
		if opts.Timeout == 0 || opts.Timeout > timeout {
			opts.Timeout = timeout
		}
	}
	db, err := bbolt.Open(path, mode, &opts)
	if err != nil {
		if errors2.Is(err, bbolt.ErrTimeout) {
			err = context.DeadlineExceeded
		}
		return nil, fmt.Errorf("open bolt store %s: %w", path, err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) NextHandle(table string) (model.Handle, error) {
	var h model.Handle
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(table))
		if err != nil {
			return err
		}
		seq, err := bkt.NextSequence()
		h = model.Handle(seq)
		return err
	})
	if err != nil {
		return model.NoHandle, b.wrap(err)
	}
	return h, nil
}

func (b *Bolt) Version() (uint64, error) {
	var v uint64
	err := b.db.View(func(tx *bbolt.Tx) error {
		v = commits(tx)
		return nil
	})
	return v, b.wrap(err)
}

func (b *Bolt) Load(table string, h model.Handle) (Record, error) {
	var rec Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		if bkt := tx.Bucket([]byte(table)); bkt != nil {
			if v := bkt.Get(key(h)); v != nil {
				rec = unpack(v)
			}
		}
		return nil
	})
	if err != nil {
		return Record{}, b.wrap(err)
	}
	return rec, nil
}

func (b *Bolt) Scan(table string, fn func(h model.Handle, rec Record) error) error {
	return b.wrap(b.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(table))
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(k, v []byte) error {
			return fn(model.Handle(binary.BigEndian.Uint64(k)), unpack(v))
		})
	}))
}

func (b *Bolt) Commit(writes []Write) error {
	return b.wrap(b.db.Update(func(tx *bbolt.Tx) error {
		for _, w := range writes {
			var cur uint64
			if bkt := tx.Bucket([]byte(w.Table)); bkt != nil {
				if v := bkt.Get(key(w.Handle)); v != nil {
					cur = unpack(v).Version
				}
			}
			if cur != w.Expect {
				return fmt.Errorf("%s/%d at version %d, expected %d: %w", w.Table, w.Handle, cur, w.Expect, errors.ErrConflict)
			}
		}
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		version := commits(tx) + 1
		for _, w := range writes {
			if w.Check {
				continue
			}
			bkt, err := tx.CreateBucketIfNotExists([]byte(w.Table))
			if err != nil {
				return err
			}
			if err := bkt.Put(key(w.Handle), pack(Record{Data: w.Data, Version: version, Deleted: w.Delete})); err != nil {
				return err
			}
		}
		return meta.Put(commitsKey, key(model.Handle(version)))
	}))
}

func (b *Bolt) Close() error {
	return b.db.Close()
}

func (b *Bolt) wrap(err error) error {
	if err == bbolt.ErrDatabaseNotOpen {
		return errors.ErrClosed
	}
	return err
}

func key(h model.Handle) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(h))
	return k
}

var (
	metaBucket = []byte("_meta")
	commitsKey = []byte("commits")
)

func commits(tx *bbolt.Tx) uint64 {
	if meta := tx.Bucket(metaBucket); meta != nil {
		if v := meta.Get(commitsKey); v != nil {
			return binary.BigEndian.Uint64(v)
		}
	}
	return 0
}

const tombstone = 1

func pack(rec Record) []byte {
	v := make([]byte, 9+len(rec.Data))
	binary.BigEndian.PutUint64(v, rec.Version)
	if rec.Deleted {
		v[8] = tombstone
	}
	copy(v[9:], rec.Data)
	return v
}

// unpack copies data; bolt values are only valid for the life of a transaction.
func unpack(v []byte) Record {
	rec := Record{Version: binary.BigEndian.Uint64(v), Deleted: v[8] == tombstone}
	if !rec.Deleted {
		rec.Data = make([]byte, len(v)-9)
		copy(rec.Data, v[9:])
	}
	return rec
}
