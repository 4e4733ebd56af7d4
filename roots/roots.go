// Package roots implements the root set (C4): per-thread stack roots,
// long-lived persistent roots, and embedding-registered black/gray tracer
// callbacks, all visited by TraceRoots in registration order.
package roots

import (
	"sync"

	"github.com/grailbio/gc/cell"
	"github.com/grailbio/gc/trace"
)

// Handle is a single rooted slot. Stack roots and persistent roots are both
// represented as Handles; Ref is addressable so marking and tenuring can
// rewrite it in place (e.g. forward a tenured copy into a stack variable).
type Handle struct {
	Kind cell.Kind
	Ref  *cell.Cell
}

// BlackTracer is an embedder-supplied callback invoked during root tracing
// that must mark everything it reaches black (§4.4, §6 add_black_tracer).
type BlackTracer func(t trace.Tracer)

// GrayTracer is an embedder-supplied callback that marks gray (§6
// set_gray_tracer); only one may be registered at a time, matching the
// singular "set" verb in the external interface table.
type GrayTracer func(t trace.Tracer)

// Set is the root registry for one zone group. All three registries
// (stack, persistent, embedding) are protected by the same mutex: root
// registration is rare compared to root tracing, so a single lock keeps the
// registration-order guarantee simple to state and check.
type Set struct {
	mu sync.Mutex

	stack      []*Handle // doubly-linked in spec; a slice preserves registration order just as well here
	persistent map[cell.Kind][]*Handle

	blackTracers []blackEntry
	grayTracer   GrayTracer
}

type blackEntry struct {
	fn   BlackTracer
	data interface{}
}

// NewSet creates an empty root set.
func NewSet() *Set {
	return &Set{persistent: make(map[cell.Kind][]*Handle)}
}

// PushStack registers a stack-scoped handle; pass the same handle to
// PopStack when the enclosing scope exits. Stack roots model the
// "doubly-linked scope-bound handles" of §4.4 as a simple slice with
// order-preserving removal, since Go has no manual stack-frame unwinding to
// hook.
func (s *Set) PushStack(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stack = append(s.stack, h)
}

// PopStack removes h from the stack root list. It must be called in
// reverse registration order by a well-behaved caller, mirroring scope
// exit, though the implementation tolerates any order via linear search.
func (s *Set) PopStack(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.stack {
		if r == h {
			s.stack = append(s.stack[:i], s.stack[i+1:]...)
			return
		}
	}
}

// AddPersistent registers a long-lived root keyed by kind (§6
// add_persistent). The handle is visited on every root trace until removed.
func (s *Set) AddPersistent(kind cell.Kind, h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h.Kind = kind
	s.persistent[kind] = append(s.persistent[kind], h)
}

// RemovePersistent un-registers h (§6 remove_persistent).
func (s *Set) RemovePersistent(kind cell.Kind, h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.persistent[kind]
	for i, r := range list {
		if r == h {
			s.persistent[kind] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// AddBlackTracer registers an embedding black tracer (§6 add_black_tracer).
func (s *Set) AddBlackTracer(fn BlackTracer, data interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blackTracers = append(s.blackTracers, blackEntry{fn, data})
}

// SetGrayTracer installs the (single) embedding gray tracer (§6
// set_gray_tracer).
func (s *Set) SetGrayTracer(fn GrayTracer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grayTracer = fn
}

// TraceRoots visits every registered root exactly once, in registration
// order: stack roots first (in push order), then persistent roots grouped
// by kind in AddPersistent call order, then embedding black tracers in
// registration order, then the gray tracer if any. The caller is
// responsible for holding the heap-busy token for the duration of the call
// (§4.4 contract: stack roots are only observable while the heap is busy).
func (s *Set) TraceRoots(t trace.Tracer) {
	s.mu.Lock()
	stack := append([]*Handle(nil), s.stack...)
	persistent := make(map[cell.Kind][]*Handle, len(s.persistent))
	for k, v := range s.persistent {
		persistent[k] = append([]*Handle(nil), v...)
	}
	blackTracers := append([]blackEntry(nil), s.blackTracers...)
	grayTracer := s.grayTracer
	s.mu.Unlock()

	visit := func(h *Handle) {
		if h.Ref == nil {
			return
		}
		slot := &cell.Slot{Ref: h.Ref, Name: "root"}
		t.OnEdge(nil, slot, "root")
		h.Ref = slot.Ref
	}
	for _, h := range stack {
		visit(h)
	}
	for kind := cell.Kind(0); int(kind) < cell.NumKinds; kind++ {
		for _, h := range persistent[kind] {
			visit(h)
		}
	}
	for _, bt := range blackTracers {
		bt.fn(t)
	}
	if grayTracer != nil {
		grayTracer(t)
	}
}
