package async

import "fmt"

// AwaitableKind is the closed set of wait handle kinds the runtime can return
// from a native call. A recorded call stores kind+1; 0 marks a synchronous call.
type AwaitableKind uint8

const (
	Static AwaitableKind = iota
	AsyncFunction
	AsyncGenerator
	AwaitAll
	Condition
	Reschedule
	Sleep
	ExternalThreadEvent
)

func (k AwaitableKind) String() string {
	switch k {
	case Static:
		return "Static"
	case AsyncFunction:
		return "AsyncFunction"
	case AsyncGenerator:
		return "AsyncGenerator"
	case AwaitAll:
		return "AwaitAll"
	case Condition:
		return "Condition"
	case Reschedule:
		return "Reschedule"
	case Sleep:
		return "Sleep"
	case ExternalThreadEvent:
		return "ExternalThreadEvent"
	default:
		return fmt.Sprintf("AwaitableKind(%d)", uint8(k))
	}
}

// Tag is the value recorded for a call returning a handle of kind k.
func (k AwaitableKind) Tag() uint64 { return uint64(k) + 1 }

// KindOfTag maps a recorded tag back to its kind. ok is false for synchronous
// calls (tag 0) and for tags outside the known kinds.
func KindOfTag(tag uint64) (k AwaitableKind, ok bool) {
	if tag == 0 || tag-1 > uint64(ExternalThreadEvent) {
		return 0, false
	}
	return AwaitableKind(tag - 1), true
}
