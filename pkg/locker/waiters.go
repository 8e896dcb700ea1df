package locker

import "sync"

// WaitChannel names one of the Locker's wait-lists. A closure parked on a
// channel for a given object is fired when the event that channel names
// occurs, per spec.md's "a single multi-map {object, tag} -> queue
// suffices" guidance.
type WaitChannel int

const (
	WaitAuthPinnable WaitChannel = iota
	WaitHardR
	WaitHardW
	WaitHardRWB
	WaitHardStable
	WaitHardNoRd
	WaitFileR
	WaitFileW
	WaitFileRWB
	WaitFileStable
	WaitFileNoRd
	WaitFileNoWr
	WaitCaps
	WaitDNPinnable
	WaitDNUnpinned
	WaitDNLock
	WaitDNRead
	WaitDNReqXlock
)

func (c WaitChannel) String() string {
	switch c {
	case WaitAuthPinnable:
		return "WAIT_AUTHPINNABLE"
	case WaitHardR:
		return "WAIT_HARDR"
	case WaitHardW:
		return "WAIT_HARDW"
	case WaitHardRWB:
		return "WAIT_HARDRWB"
	case WaitHardStable:
		return "WAIT_HARDSTABLE"
	case WaitHardNoRd:
		return "WAIT_HARDNORD"
	case WaitFileR:
		return "WAIT_FILER"
	case WaitFileW:
		return "WAIT_FILEW"
	case WaitFileRWB:
		return "WAIT_FILERWB"
	case WaitFileStable:
		return "WAIT_FILESTABLE"
	case WaitFileNoRd:
		return "WAIT_FILENORD"
	case WaitFileNoWr:
		return "WAIT_FILENOWR"
	case WaitCaps:
		return "WAIT_CAPS"
	case WaitDNPinnable:
		return "WAIT_DNPINNABLE"
	case WaitDNUnpinned:
		return "WAIT_DNUNPINNED"
	case WaitDNLock:
		return "WAIT_DNLOCK"
	case WaitDNRead:
		return "WAIT_DNREAD"
	case WaitDNReqXlock:
		return "WAIT_DNREQXLOCK"
	default:
		return "WAIT_UNKNOWN"
	}
}

type waitKey struct {
	object  ObjectKey
	channel WaitChannel
}

// waiterSet is the object-owned {object, channel} -> queue multimap from
// spec.md's re-architecture notes. It is the only place closures are held;
// cache objects carry no backpointers to it. onChange, if set, is notified
// with a channel's new queue depth after every register/fire so a caller
// can mirror it into a gauge without the queue itself knowing about
// Metrics.
type waiterSet struct {
	mu       sync.Mutex
	queue    map[waitKey][]func()
	onChange func(WaitChannel, int)
}

func newWaiterSet() *waiterSet {
	return &waiterSet{queue: make(map[waitKey][]func())}
}

// register parks fn on (object, channel) until a matching fire call.
func (w *waiterSet) register(object ObjectKey, channel WaitChannel, fn func()) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	k := waitKey{object, channel}
	w.queue[k] = append(w.queue[k], fn)
	n := len(w.queue[k])
	onChange := w.onChange
	w.mu.Unlock()

	if onChange != nil {
		onChange(channel, n)
	}
}

// fire drains and invokes every closure parked on (object, channel).
func (w *waiterSet) fire(object ObjectKey, channel WaitChannel) {
	w.mu.Lock()
	k := waitKey{object, channel}
	fns := w.queue[k]
	delete(w.queue, k)
	onChange := w.onChange
	w.mu.Unlock()

	if onChange != nil && len(fns) > 0 {
		onChange(channel, 0)
	}

	for _, fn := range fns {
		fn()
	}
}

// fireAny drains and invokes every closure parked on object across all of
// the given channels, e.g. WAIT_HARDRWB | WAIT_HARDSTABLE.
func (w *waiterSet) fireAny(object ObjectKey, channels ...WaitChannel) {
	for _, c := range channels {
		w.fire(object, c)
	}
}

// pending reports how many closures are currently parked on (object,
// channel); used by tests asserting suspension actually registered a
// waiter.
func (w *waiterSet) pending(object ObjectKey, channel WaitChannel) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue[waitKey{object, channel}])
}
