package driver

import "fmt"

// Zeal is a debug-only perturbation mode that forces extra collection
// activity to shake out barrier bugs that would otherwise only surface
// under rare scheduling (§4.11). It has no effect on correctness, only on
// how eagerly the Heap chooses to run slices.
type Zeal int

const (
	// ZealNone runs collections only when triggered normally (OOM retry,
	// store-buffer overflow, or an explicit Start/Finish call).
	ZealNone Zeal = iota
	// ZealAlloc runs a one-unit Slice after every successful allocation.
	ZealAlloc
	// ZealGC starts (or advances, if already active) a full collection
	// after every successful allocation, finishing it before returning.
	ZealGC
)

func (z Zeal) String() string {
	switch z {
	case ZealNone:
		return "none"
	case ZealAlloc:
		return "alloc"
	case ZealGC:
		return "gc"
	default:
		return "invalid-zeal"
	}
}

// ParseZeal maps a zeal mode's name (as read from an environment variable or
// flag, §6 parse_and_set_zeal) to its Zeal value.
func ParseZeal(name string) (Zeal, error) {
	switch name {
	case "none", "":
		return ZealNone, nil
	case "alloc":
		return ZealAlloc, nil
	case "gc":
		return ZealGC, nil
	default:
		return ZealNone, fmt.Errorf("driver: unknown zeal mode %q", name)
	}
}
