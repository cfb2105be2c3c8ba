package lsm

import "github.com/pkg/errors"

var (
	// ErrEmptyKey rejects operations on a zero-length key.
	ErrEmptyKey = errors.New("heliosdb: empty key")

	// ErrKeyTooLarge rejects keys whose length cannot be encoded in 32 bits.
	ErrKeyTooLarge = errors.New("heliosdb: key too large")

	// ErrValueTooLarge rejects values of length >= 2^32-1; the top length is
	// reserved to mark tombstones on disk.
	ErrValueTooLarge = errors.New("heliosdb: value too large")

	// ErrClosed rejects operations on a closed engine.
	ErrClosed = errors.New("heliosdb: database closed")
)
