// Package bloom implements the per-table probabilistic filter and its
// on-disk sidecar format.
package bloom

import (
	"encoding/binary"
	"hash/fnv"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/tejchid/heliosdb/pkg/atomicfile"
)

// Sidecar header: magic(4) | m_bits(4) | k_hashes(4) | nbytes(4), little-endian,
// followed by nbytes of packed filter bits.
const (
	SidecarMagic = 0xB100B100

	// BitsPerKey and NumHashes size the filter built for a new table.
	BitsPerKey = 10
	NumHashes  = 7

	minBits = 8

	seedA = 0xA5A5A5A5A5A5A5A5
	seedB = 0x5A5A5A5A5A5A5A5A

	mixC1 = 0xff51afd7ed558ccd
	mixC2 = 0xc4ceb9fe1a85ec53
)

var (
	// ErrBadSidecar reports a sidecar whose header or length does not match.
	ErrBadSidecar = errors.New("bloom: malformed sidecar")
)

// Filter is a fixed-size bit array probed with k double-hashed positions.
type Filter struct {
	mBits   uint32
	kHashes uint32
	bits    []byte // packed, ceil(mBits/8) bytes
}

// New creates a filter with m bits and k hash probes. A zero m or k yields a
// degenerate filter that reports every key as possibly present.
func New(mBits, kHashes uint32) *Filter {
	if mBits == 0 || kHashes == 0 {
		return &Filter{}
	}
	return &Filter{
		mBits:   mBits,
		kHashes: kHashes,
		bits:    make([]byte, (mBits+7)/8),
	}
}

// NewForCapacity sizes a filter for n keys at BitsPerKey bits per key.
func NewForCapacity(n int) *Filter {
	m := uint32(minBits)
	if bits := uint64(n) * BitsPerKey; bits > minBits {
		m = uint32(bits)
	}
	return New(m, NumHashes)
}

// MBits returns the filter size in bits.
func (f *Filter) MBits() uint32 { return f.mBits }

// KHashes returns the number of hash probes.
func (f *Filter) KHashes() uint32 { return f.kHashes }

// Add sets the k probe bits for key.
func (f *Filter) Add(key []byte) {
	if f.mBits == 0 || f.kHashes == 0 {
		return
	}
	h1 := hash64(key, seedA)
	h2 := hash64(key, seedB) | 1 // odd step guarantees a full cycle
	for i := uint32(0); i < f.kHashes; i++ {
		f.setBit(uint32((h1 + uint64(i)*h2) % uint64(f.mBits)))
	}
}

// PossiblyContains reports whether key may be in the set. A degenerate filter
// answers true for every key.
func (f *Filter) PossiblyContains(key []byte) bool {
	if f.mBits == 0 || f.kHashes == 0 {
		return true
	}
	h1 := hash64(key, seedA)
	h2 := hash64(key, seedB) | 1
	for i := uint32(0); i < f.kHashes; i++ {
		if !f.getBit(uint32((h1 + uint64(i)*h2) % uint64(f.mBits))) {
			return false
		}
	}
	return true
}

// Save writes the sidecar to path with the same tmp+fsync+rename discipline
// used for tables.
func (f *Filter) Save(path string) error {
	return atomicfile.WriteFile(path, func(w io.Writer) error {
		var hdr [16]byte
		binary.LittleEndian.PutUint32(hdr[0:4], SidecarMagic)
		binary.LittleEndian.PutUint32(hdr[4:8], f.mBits)
		binary.LittleEndian.PutUint32(hdr[8:12], f.kHashes)
		binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(f.bits)))
		if _, err := w.Write(hdr[:]); err != nil {
			return errors.Wrap(err, "bloom: write header")
		}
		if _, err := w.Write(f.bits); err != nil {
			return errors.Wrap(err, "bloom: write bits")
		}
		return nil
	})
}

// Load reads a sidecar written by Save. A missing file, short file, wrong
// magic, or nbytes mismatch returns an error; the caller treats any error as
// "filtering disabled" for that table.
func Load(path string) (*Filter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "bloom: read sidecar")
	}
	if len(data) < 16 {
		return nil, ErrBadSidecar
	}
	if binary.LittleEndian.Uint32(data[0:4]) != SidecarMagic {
		return nil, ErrBadSidecar
	}
	mBits := binary.LittleEndian.Uint32(data[4:8])
	kHashes := binary.LittleEndian.Uint32(data[8:12])
	nbytes := binary.LittleEndian.Uint32(data[12:16])

	f := New(mBits, kHashes)
	if uint32(len(f.bits)) != nbytes || uint32(len(data)-16) != nbytes {
		return nil, ErrBadSidecar
	}
	copy(f.bits, data[16:])
	return f, nil
}

func (f *Filter) setBit(idx uint32) {
	idx %= f.mBits
	f.bits[idx/8] |= 1 << (idx % 8)
}

func (f *Filter) getBit(idx uint32) bool {
	idx %= f.mBits
	return f.bits[idx/8]&(1<<(idx%8)) != 0
}

// hash64 is FNV-1a-64 of key folded into seed, finished with three mix rounds.
func hash64(key []byte, seed uint64) uint64 {
	d := fnv.New64a()
	_, _ = d.Write(key)

	h := seed ^ d.Sum64()
	h ^= h >> 33
	h *= mixC1
	h ^= h >> 33
	h *= mixC2
	h ^= h >> 33
	return h
}
