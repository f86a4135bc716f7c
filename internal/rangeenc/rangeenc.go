// Package rangeenc builds the binary range-list payload fetchd expects when
// starting a partial transfer. The layout is the one place in downlink with
// explicit memory-layout rules, so it stays behind this package's narrow
// surface and the rest of the controller never sees raw offsets.
//
// Wire layout:
//
//	[count : one pointer-width slot, little-endian]
//	[count records of (offset u64 LE, length u64 LE), no padding]
//
// The count occupies a full pointer-width slot regardless of its logical
// size, so the record array always begins exactly wordSize bytes into the
// buffer on both 32-bit and 64-bit targets.
package rangeenc

import (
	"encoding/binary"
	"sync"
	"unsafe"
)

// Range is one (offset, length) byte range of the source file.
type Range struct {
	Offset uint64
	Length uint64
}

const recordSize = 16

var wordSize = int(unsafe.Sizeof(uintptr(0)))

// Buffer holds one encoded range list. It is pooled; callers must Release it
// exactly once after the remote call has consumed it, on every exit path.
type Buffer struct {
	b []byte
}

var bufPool = sync.Pool{
	New: func() any { return &Buffer{} },
}

// Bytes returns the encoded payload. The slice is only valid until Release.
func (b *Buffer) Bytes() []byte { return b.b }

// Release returns the buffer to the pool. The Buffer must not be used after.
func (b *Buffer) Release() {
	if b == nil {
		return
	}
	b.b = b.b[:0]
	bufPool.Put(b)
}

// Encode converts ranges into the fetchd wire layout for the current
// platform's pointer width. An empty or nil list returns nil: on the wire
// "no ranges" is an absent payload, not a zero-count one, and means an
// unrestricted full-file transfer.
func Encode(ranges []Range) *Buffer {
	return encode(ranges, wordSize)
}

func encode(ranges []Range, word int) *Buffer {
	if len(ranges) == 0 {
		return nil
	}
	buf := bufPool.Get().(*Buffer)
	n := word + len(ranges)*recordSize
	if cap(buf.b) < n {
		buf.b = make([]byte, n)
	} else {
		buf.b = buf.b[:n]
		clear(buf.b)
	}
	// The count itself is a u32; the slot it sits in is padded out to the
	// pointer width so the record array starts aligned.
	switch word {
	case 4:
		binary.LittleEndian.PutUint32(buf.b, uint32(len(ranges)))
	default:
		binary.LittleEndian.PutUint64(buf.b, uint64(len(ranges)))
	}
	off := word
	for _, r := range ranges {
		binary.LittleEndian.PutUint64(buf.b[off:], r.Offset)
		binary.LittleEndian.PutUint64(buf.b[off+8:], r.Length)
		off += recordSize
	}
	return buf
}
