package region

import (
	"unsafe"

	"github.com/grailbio/base/bitset"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/simd"
)

// bitsPerWord mirrors circular.Bitmap's use of simd.BitsPerWord, re-exported
// by the bitset package, to size mark-bitmap words.
const bitsPerWord = bitset.BitsPerWord
const bytesPerWord = bitsPerWord / 8

// markBitmap is a per-region bitmap with one bit per cell slot, used to
// accelerate the bulk "is this slot alive" scan sweep performs (C12) instead
// of visiting every cell header individually, the way circular.Bitmap's
// wordPops accelerates find-next-nonempty.
//
// Its words are backed by a real decommit-able Arena mapping (§4.2 "decommit
// support"), the same raw-byte-reinterpreted-as-words trick the teacher's own
// encoding/pam/pamreader.go and encoding/bam/unsafe.go use (a `(*[N]T)(unsafe.
// Pointer(&buf[0]))[:n:n]` cast), rather than a plain Go slice, so that a
// region's Decommit actually returns pages to the OS instead of merely
// dropping a Go reference for the GC to collect later.
type markBitmap struct {
	arena *Arena    // nil if the mapping failed; falls back to heap memory
	raw   []byte    // arena.Bytes() truncated to the words' extent, or nil
	words []uintptr // raw reinterpreted as machine words, or plain heap memory
	pop   int
}

func newMarkBitmap(nSlots int) markBitmap {
	nWords := (nSlots + bitsPerWord - 1) / bitsPerWord
	if nWords == 0 {
		nWords = 1
	}
	nBytes := nWords * bytesPerWord

	a, err := NewArena(nBytes)
	if err != nil {
		log.Debug.Printf("region: failed to map mark bitmap (%d words), falling back to heap memory: %v", nWords, err)
		return markBitmap{words: make([]uintptr, nWords)}
	}
	raw := a.Bytes()[:nBytes]
	words := (*[1 << 30]uintptr)(unsafe.Pointer(&raw[0]))[:nWords:nWords]
	return markBitmap{arena: a, raw: raw, words: words}
}

func (m *markBitmap) set(i int) {
	w := i / bitsPerWord
	bit := uintptr(1) << uint(i%bitsPerWord)
	if m.words[w]&bit == 0 {
		m.words[w] |= bit
		m.pop++
	}
}

func (m *markBitmap) clear(i int) {
	w := i / bitsPerWord
	bit := uintptr(1) << uint(i%bitsPerWord)
	if m.words[w]&bit != 0 {
		m.words[w] &^= bit
		m.pop--
	}
}

func (m *markBitmap) test(i int) bool {
	return bitset.Test(m.words, i)
}

// clearAll zeroes every word. When the bitmap is arena-backed, it does so
// with a single simd.Memset8Unsafe call over the raw byte view instead of a
// per-word Go loop, the same word-at-a-time approach circular.Bitmap's own
// simd-backed scans use.
func (m *markBitmap) clearAll() {
	if m.raw != nil {
		simd.Memset8Unsafe(m.raw, 0)
	} else {
		for i := range m.words {
			m.words[i] = 0
		}
	}
	m.pop = 0
}

// popcount returns the number of set bits, maintained incrementally so sweep
// can decide whether a region is empty without a full scan.
func (m *markBitmap) popcount() int { return m.pop }

// decommit releases the bitmap's backing pages, if it has its own arena
// mapping. Safe to call on a heap-memory-fallback bitmap (no-op).
func (m *markBitmap) decommit() {
	if m.arena != nil {
		m.arena.Decommit()
		m.arena = nil
		m.raw = nil
		m.words = nil
	}
}
