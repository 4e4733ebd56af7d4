// Package cell defines the uniform cell header shared by every kind of
// GC-managed object, the static per-kind metadata table, and the forwarding
// overlay used during compaction.
//
// A Cell never exposes raw memory: compaction is simulated by redirecting a
// Cell's forwardTo pointer rather than rewriting bytes in place, since Go
// gives a reimplementation no manual control over object layout. Every
// accessor that could observe a stale value during compaction goes through
// Resolve, which is the Go-native equivalent of the C1 "forwarded-target
// accessor" contract.
package cell

import "fmt"

// Kind is the closed set of 27 cell kinds the collector knows how to size,
// trace, and finalize.
type Kind uint8

const (
	ObjectSlots0 Kind = iota
	ObjectSlots0BG
	ObjectSlots2
	ObjectSlots2BG
	ObjectSlots4
	ObjectSlots4BG
	ObjectSlots8
	ObjectSlots8BG
	ObjectSlots12
	ObjectSlots12BG
	ObjectSlots16
	ObjectSlots16BG
	Script
	LazyScript
	Shape
	AccessorShape
	BaseShape
	ObjectGroup
	InlineString
	String
	ExternalString
	InlineAtom
	Atom
	Symbol
	JitCode
	Scope
	RegExpShared

	numKinds
)

// NumKinds is the size of the closed kind set (27).
const NumKinds = int(numKinds)

func (k Kind) String() string {
	if int(k) >= NumKinds {
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
	return kindNames[k]
}

var kindNames = [NumKinds]string{
	ObjectSlots0: "ObjectSlots0", ObjectSlots0BG: "ObjectSlots0BG",
	ObjectSlots2: "ObjectSlots2", ObjectSlots2BG: "ObjectSlots2BG",
	ObjectSlots4: "ObjectSlots4", ObjectSlots4BG: "ObjectSlots4BG",
	ObjectSlots8: "ObjectSlots8", ObjectSlots8BG: "ObjectSlots8BG",
	ObjectSlots12: "ObjectSlots12", ObjectSlots12BG: "ObjectSlots12BG",
	ObjectSlots16: "ObjectSlots16", ObjectSlots16BG: "ObjectSlots16BG",
	Script: "Script", LazyScript: "LazyScript",
	Shape: "Shape", AccessorShape: "AccessorShape", BaseShape: "BaseShape",
	ObjectGroup:    "ObjectGroup",
	InlineString:   "InlineString",
	String:         "String",
	ExternalString: "ExternalString",
	InlineAtom:     "InlineAtom",
	Atom:           "Atom",
	Symbol:         "Symbol",
	JitCode:        "JitCode",
	Scope:          "Scope",
	RegExpShared:   "RegExpShared",
}

// TraceKind groups kinds that share the same trace_children dispatcher (C5).
// There are 14, fewer than the 27 Kinds, because several kinds (notably the
// object-slot family and the plain/background-finalizable twins) trace
// identically.
type TraceKind uint8

const (
	TKObject TraceKind = iota
	TKObjectGroup
	TKScript
	TKLazyScript
	TKShape
	TKAccessorShape
	TKBaseShape
	TKString
	TKExternalString
	TKAtom
	TKSymbol
	TKJitCode
	TKScope
	TKRegExpShared

	numTraceKinds
)

// NumTraceKinds is the size of the closed trace-kind set (14).
const NumTraceKinds = int(numTraceKinds)

func (t TraceKind) String() string { return traceKindNames[t] }

var traceKindNames = [NumTraceKinds]string{
	TKObject: "Object", TKObjectGroup: "ObjectGroup", TKScript: "Script",
	TKLazyScript: "LazyScript", TKShape: "Shape", TKAccessorShape: "AccessorShape",
	TKBaseShape: "BaseShape", TKString: "String", TKExternalString: "ExternalString",
	TKAtom: "Atom", TKSymbol: "Symbol", TKJitCode: "JitCode", TKScope: "Scope",
	TKRegExpShared: "RegExpShared",
}

// Info is one row of the static kind metadata table.
type Info struct {
	// Size is the fixed byte size of the kind's header-plus-payload, used by
	// the region allocator to pick a size class. It does not include
	// variable-length Edges allocated via extra_slots at allocation time.
	Size uintptr
	// NurseryAllocable reports whether cells of this kind may live in the
	// nursery (I4's precondition: a kind forbidding nursery residency can
	// never produce a tenured-to-nursery edge for itself as a source).
	NurseryAllocable bool
	// BackgroundFinalizable reports whether the kind's finalizer is
	// thread-safe and may run on the background helper thread (§5, C12).
	BackgroundFinalizable bool
	// CycleCollected reports whether the kind participates in the external
	// cycle collector's gray set (§1, C9 gray marking).
	CycleCollected bool
	// Compactable reports whether the compacting phase (C12) may relocate
	// cells of this kind. JIT code and scripts carry raw code pointers
	// external code may have cached outside the forwarding overlay's reach,
	// so they are swept and finalized but never moved (§4.12 picks its
	// relocation sources only from this set).
	Compactable bool
	// Trace is the trace-kind dispatch key used by C5/C9.
	Trace TraceKind
}

var kindTable = [NumKinds]Info{
	ObjectSlots0:     {Size: 16, NurseryAllocable: true, CycleCollected: true, Compactable: true, Trace: TKObject},
	ObjectSlots0BG:   {Size: 16, NurseryAllocable: true, BackgroundFinalizable: true, CycleCollected: true, Compactable: true, Trace: TKObject},
	ObjectSlots2:     {Size: 32, NurseryAllocable: true, CycleCollected: true, Compactable: true, Trace: TKObject},
	ObjectSlots2BG:   {Size: 32, NurseryAllocable: true, BackgroundFinalizable: true, CycleCollected: true, Compactable: true, Trace: TKObject},
	ObjectSlots4:     {Size: 48, NurseryAllocable: true, CycleCollected: true, Compactable: true, Trace: TKObject},
	ObjectSlots4BG:   {Size: 48, NurseryAllocable: true, BackgroundFinalizable: true, CycleCollected: true, Compactable: true, Trace: TKObject},
	ObjectSlots8:     {Size: 80, NurseryAllocable: true, CycleCollected: true, Compactable: true, Trace: TKObject},
	ObjectSlots8BG:   {Size: 80, NurseryAllocable: true, BackgroundFinalizable: true, CycleCollected: true, Compactable: true, Trace: TKObject},
	ObjectSlots12:    {Size: 112, NurseryAllocable: true, CycleCollected: true, Compactable: true, Trace: TKObject},
	ObjectSlots12BG:  {Size: 112, NurseryAllocable: true, BackgroundFinalizable: true, CycleCollected: true, Compactable: true, Trace: TKObject},
	ObjectSlots16:    {Size: 144, NurseryAllocable: true, CycleCollected: true, Compactable: true, Trace: TKObject},
	ObjectSlots16BG:  {Size: 144, NurseryAllocable: true, BackgroundFinalizable: true, CycleCollected: true, Compactable: true, Trace: TKObject},
	Script:           {Size: 96, NurseryAllocable: false, BackgroundFinalizable: true, Trace: TKScript},
	LazyScript:       {Size: 64, NurseryAllocable: true, BackgroundFinalizable: true, Compactable: true, Trace: TKLazyScript},
	Shape:            {Size: 40, NurseryAllocable: false, BackgroundFinalizable: true, Compactable: true, Trace: TKShape},
	AccessorShape:    {Size: 56, NurseryAllocable: false, BackgroundFinalizable: true, Compactable: true, Trace: TKAccessorShape},
	BaseShape:        {Size: 32, NurseryAllocable: false, BackgroundFinalizable: true, Compactable: true, Trace: TKBaseShape},
	ObjectGroup:      {Size: 48, NurseryAllocable: false, CycleCollected: true, Compactable: true, Trace: TKObjectGroup},
	InlineString:     {Size: 24, NurseryAllocable: true, BackgroundFinalizable: true, Compactable: true, Trace: TKString},
	String:           {Size: 16, NurseryAllocable: true, BackgroundFinalizable: true, Compactable: true, Trace: TKString},
	ExternalString:   {Size: 24, NurseryAllocable: false, BackgroundFinalizable: true, Trace: TKExternalString},
	InlineAtom:       {Size: 24, NurseryAllocable: false, BackgroundFinalizable: true, Trace: TKAtom},
	Atom:             {Size: 16, NurseryAllocable: false, BackgroundFinalizable: true, Trace: TKAtom},
	Symbol:           {Size: 16, NurseryAllocable: false, Trace: TKSymbol},
	JitCode:          {Size: 64, NurseryAllocable: false, Trace: TKJitCode},
	Scope:            {Size: 40, NurseryAllocable: true, BackgroundFinalizable: true, Compactable: true, Trace: TKScope},
	RegExpShared:     {Size: 48, NurseryAllocable: false, BackgroundFinalizable: true, Trace: TKRegExpShared},
}

// KindInfo returns the static metadata row for k.
func KindInfo(k Kind) Info { return kindTable[k] }

// SizeOf returns the fixed byte size of kind k (`size_of` in §4.1).
func SizeOf(k Kind) uintptr { return kindTable[k].Size }

// IsNurseryAllocable reports whether k may be allocated in the nursery.
func IsNurseryAllocable(k Kind) bool { return kindTable[k].NurseryAllocable }

// IsBackgroundFinalizable reports whether k's finalizer may run off the
// mutator thread.
func IsBackgroundFinalizable(k Kind) bool { return kindTable[k].BackgroundFinalizable }

// TraceKindOf returns the trace-kind dispatch key for k.
func TraceKindOf(k Kind) TraceKind { return kindTable[k].Trace }

// IsCycleCollected reports whether k participates in the external cycle
// collector's gray set.
func IsCycleCollected(k Kind) bool { return kindTable[k].CycleCollected }

// IsCompactable reports whether the compacting phase may relocate cells of
// kind k.
func IsCompactable(k Kind) bool { return kindTable[k].Compactable }

// IsAtomKind reports whether k is one of the two atom kinds (Atom,
// InlineAtom), whose survival is governed by the zones' atom bitmaps rather
// than ordinary graph-reachability coloring alone (I7, P5).
func IsAtomKind(k Kind) bool { return k == Atom || k == InlineAtom }
