package region

import (
	"github.com/grailbio/base/log"
	"golang.org/x/sys/unix"
)

// Arena is a page-aligned anonymous mapping used to back a Region's mark
// bitmap and, for oversized nursery chunks, the chunk itself. It exists so
// that decommit (§4.2, "decommit support") is a real munmap/madvise call
// rather than a no-op, mirroring how the teacher's cmd/ tools reach for
// golang.org/x/sys for OS-level operations instead of hand-rolling them.
type Arena struct {
	bytes     []byte
	committed bool
}

// PageSize is the page multiple regions are sized in (§4.2).
var PageSize = unix.Getpagesize()

// NewArena maps n bytes (rounded up to a page multiple) of zeroed, private,
// anonymous memory.
func NewArena(n int) (*Arena, error) {
	if n <= 0 {
		n = PageSize
	}
	n = roundUpPage(n)
	b, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	return &Arena{bytes: b, committed: true}, nil
}

func roundUpPage(n int) int {
	p := PageSize
	return (n + p - 1) &^ (p - 1)
}

// Bytes returns the arena's backing slice. Valid only while Committed.
func (a *Arena) Bytes() []byte { return a.bytes }

// Committed reports whether the arena's pages are still mapped.
func (a *Arena) Committed() bool { return a.committed }

// Decommit advises the kernel the arena's pages are no longer needed and
// unmaps them. Safe to call more than once.
func (a *Arena) Decommit() {
	if !a.committed {
		return
	}
	if err := unix.Madvise(a.bytes, unix.MADV_DONTNEED); err != nil {
		log.Debug.Printf("region: madvise(DONTNEED) failed: %v", err)
	}
	if err := unix.Munmap(a.bytes); err != nil {
		log.Panicf("region: munmap failed: %v", err)
	}
	a.bytes = nil
	a.committed = false
}
