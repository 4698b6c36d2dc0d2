package model

import (
	"fmt"
	"strconv"
)

// Handle is a store-assigned identifier for an entity. Holders must re-resolve
// it through a transaction before reading or mutating the entity.
type Handle uint64

// NoHandle is the zero handle. Stores never assign it.
const NoHandle Handle = 0

func (h Handle) String() string {
	return strconv.FormatUint(uint64(h), 10)
}

// Valid reports whether h could have been assigned by a store.
func (h Handle) Valid() bool {
	return h != NoHandle
}

// ParseHandle parses the decimal form produced by String.
func ParseHandle(s string) (Handle, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return NoHandle, fmt.Errorf("parse handle %q: %w", s, err)
	}
	return Handle(v), nil
}
