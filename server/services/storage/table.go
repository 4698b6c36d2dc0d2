package storage

import (
	"bytes"
	"encoding/gob"
	errors2 "errors"
	"fmt"
	"reflect"

	"github.com/pdvrieze/ProcessManager-sub007/model"
	"github.com/pdvrieze/ProcessManager-sub007/server/errors"
)

// Table is a typed view of one table of a Store. Records are gob encoded
// behind a type tag; reading a record written with a different type is a
// contract violation and is never retried.
type Table[T any] struct {
	name    string
	typeTag string
}

// NewTable creates a typed accessor for the named table.
func NewTable[T any](name string) *Table[T] {
	return &Table[T]{name: name, typeTag: reflect.TypeOf((*T)(nil)).Elem().String()}
}

// Name returns the table name.
func (t *Table[T]) Name() string {
	return t.name
}

// Put stores v under a fresh handle. If v has a SetHandle method it is called
// with the handle before encoding.
func (t *Table[T]) Put(tx *Tx, v *T) (model.Handle, error) {
	h, err := tx.reserve(t.name)
	if err != nil {
		return model.NoHandle, err
	}
	if hs, ok := any(v).(interface{ SetHandle(model.Handle) }); ok {
		hs.SetHandle(h)
	}
	data, err := t.encode(v)
	if err != nil {
		return model.NoHandle, err
	}
	if err := tx.write(t.key(h), data, false); err != nil {
		return model.NoHandle, err
	}
	return h, nil
}

// Get returns a private copy of the value at h, or an error wrapping
// errors.ErrHandleNotFound.
func (t *Table[T]) Get(tx *Tx, h model.Handle) (*T, error) {
	data, err := tx.read(t.key(h))
	if err != nil {
		return nil, err
	}
	return t.decode(h, data)
}

// Set replaces the value at h and returns the previous one.
func (t *Table[T]) Set(tx *Tx, h model.Handle, v *T) (*T, error) {
	prev, err := t.Get(tx, h)
	if err != nil {
		return nil, err
	}
	data, err := t.encode(v)
	if err != nil {
		return nil, err
	}
	if err := tx.write(t.key(h), data, false); err != nil {
		return nil, err
	}
	return prev, nil
}

// Remove deletes the value at h and reports whether it existed.
func (t *Table[T]) Remove(tx *Tx, h model.Handle) (bool, error) {
	if _, err := tx.read(t.key(h)); err != nil {
		if errors2.Is(err, errors.ErrHandleNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := tx.write(t.key(h), nil, true); err != nil {
		return false, err
	}
	return true, nil
}

// Iterate calls fn for each value in handle order until fn returns an error.
func (t *Table[T]) Iterate(tx *Tx, fn func(h model.Handle, v *T) error) error {
	recs, err := tx.scan(t.name)
	if err != nil {
		return err
	}
	for _, r := range recs {
		v, err := t.decode(r.handle, r.data)
		if err != nil {
			return err
		}
		if err := fn(r.handle, v); err != nil {
			return err
		}
	}
	return nil
}

// All returns every value in handle order.
func (t *Table[T]) All(tx *Tx) ([]*T, error) {
	var ret []*T
	err := t.Iterate(tx, func(_ model.Handle, v *T) error {
		ret = append(ret, v)
		return nil
	})
	return ret, err
}

func (t *Table[T]) key(h model.Handle) cacheKey {
	return cacheKey{table: t.name, handle: h}
}

func (t *Table[T]) encode(v *T) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(t.typeTag); err != nil {
		return nil, fmt.Errorf("encode %s: %w", t.typeTag, err)
	}
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode %s: %w", t.typeTag, err)
	}
	return buf.Bytes(), nil
}

func (t *Table[T]) decode(h model.Handle, data []byte) (*T, error) {
	dec := gob.NewDecoder(bytes.NewReader(data))
	var tag string
	if err := dec.Decode(&tag); err != nil {
		return nil, &errors.ContractError{Table: t.name, Handle: uint64(h), Expected: t.typeTag, Actual: "undecodable record"}
	}
	if tag != t.typeTag {
		return nil, &errors.ContractError{Table: t.name, Handle: uint64(h), Expected: t.typeTag, Actual: tag}
	}
	v := new(T)
	if err := dec.Decode(v); err != nil {
		return nil, fmt.Errorf("decode %s/%d: %s: %w", t.name, h, err, errors.ErrContractViolation)
	}
	return v, nil
}
