package locker

import (
	"cmp"
	"fmt"
	"slices"
	"time"
)

// NodeID identifies a peer MDS node.
type NodeID string

// ClientID identifies a client session holding capabilities.
type ClientID string

// InodeID identifies an inode.
type InodeID uint64

func (id InodeID) String() string { return fmt.Sprintf("%d", uint64(id)) }

// DirfragID identifies a directory fragment: the addressable unit below an
// inode for dentry operations.
type DirfragID struct {
	Ino  InodeID
	Frag uint32
}

func (d DirfragID) String() string { return fmt.Sprintf("%d.%08x", d.Ino, d.Frag) }

// DentryID identifies a dentry by its containing fragment and name.
type DentryID struct {
	Dir  DirfragID
	Name string
}

func (d DentryID) String() string { return fmt.Sprintf("%s/%s", d.Dir, d.Name) }

// compareDentryID implements the canonical total order over dentries used by
// the acquisition engine: (dir_fragment_id, name) lexicographically.
func compareDentryID(a, b DentryID) int {
	if c := cmp.Compare(a.Dir.Ino, b.Dir.Ino); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Dir.Frag, b.Dir.Frag); c != 0 {
		return c
	}
	return cmp.Compare(a.Name, b.Name)
}

// ObjectKey is an opaque, comparable identifier used only to key the waiter
// multimap; it carries no behavior of its own.
type ObjectKey string

func inodeKey(id InodeID) ObjectKey    { return ObjectKey(fmt.Sprintf("inode:%d", id)) }
func dirfragKey(d DirfragID) ObjectKey { return ObjectKey(fmt.Sprintf("dirfrag:%s", d)) }
func dentryKey(d DentryID) ObjectKey   { return ObjectKey(fmt.Sprintf("dentry:%s", d)) }

// Dirfrag is the auth-pinnable unit containing a set of dentries. Lock cells
// live on the dentries themselves; the fragment only tracks auth pins and
// replication, mirroring CDir's role in the acquisition engine's auth-pin
// phase.
type Dirfrag struct {
	ID        DirfragID
	Authority NodeID
	Replicas  map[NodeID]struct{}

	// authPins counts, per request id, how many times that request has
	// pinned this fragment. A request appears in can_auth_pin's check via
	// its presence here, not via the count.
	authPins map[string]int
	// frozen mirrors CDir::can_auth_pin() returning false during an
	// in-progress migration or export; this repository has no migrator, so
	// tests toggle it directly to exercise the WAIT_AUTHPINNABLE path.
	frozen bool
}

// NewDirfrag constructs a fragment authoritative on the given node.
func NewDirfrag(id DirfragID, authority NodeID) *Dirfrag {
	return &Dirfrag{
		ID:        id,
		Authority: authority,
		Replicas:  make(map[NodeID]struct{}),
		authPins:  make(map[string]int),
	}
}

// IsAuth reports whether node owns this fragment.
func (d *Dirfrag) IsAuth(node NodeID) bool { return d.Authority == node }

// CanAuthPin reports whether a new auth pin would currently be admitted.
func (d *Dirfrag) CanAuthPin() bool { return !d.frozen }

// IsAuthPinnedBy reports whether requestID already holds an auth pin here.
func (d *Dirfrag) IsAuthPinnedBy(requestID string) bool {
	return d.authPins[requestID] > 0
}

// AuthPin records an auth pin held by requestID.
func (d *Dirfrag) AuthPin(requestID string) { d.authPins[requestID]++ }

// AuthUnpin releases the auth pin held by requestID, if any.
func (d *Dirfrag) AuthUnpin(requestID string) {
	if d.authPins[requestID] > 0 {
		d.authPins[requestID]--
		if d.authPins[requestID] == 0 {
			delete(d.authPins, requestID)
		}
	}
}

// SetFrozen simulates a migration freeze that refuses new auth pins.
func (d *Dirfrag) SetFrozen(frozen bool) { d.frozen = frozen }

// Dentry is a single directory entry: a (fragment, name) pair with its own
// DN lock cell.
type Dentry struct {
	ID        DentryID
	Authority NodeID
	Replicas  map[NodeID]struct{}

	Lock DentryLock

	// Null indicates the dentry currently points at nothing (the name was
	// unlinked). Replicas delete a null dentry upon absorbing AC_SYNC.
	Null bool

	// pins counts, per request id, outstanding rdlock pins.
	pins map[string]int
	// authPins mirrors Dirfrag's bookkeeping but at the dentry level for
	// axes that auth-pin the dentry's own xlock target.
	authPins map[string]int
}

// NewDentry constructs a dentry in SYNC with no pins, xlock holder, or
// gather set.
func NewDentry(id DentryID, authority NodeID) *Dentry {
	return &Dentry{
		ID:        id,
		Authority: authority,
		Replicas:  make(map[NodeID]struct{}),
		Lock:      DentryLock{State: DNSync},
		pins:      make(map[string]int),
		authPins:  make(map[string]int),
	}
}

// IsAuth reports whether node owns this dentry.
func (d *Dentry) IsAuth(node NodeID) bool { return d.Authority == node }

// PinCount returns the total outstanding rdlock pin count.
func (d *Dentry) PinCount() int {
	total := 0
	for _, n := range d.pins {
		total += n
	}
	return total
}

func (d *Dentry) pin(requestID string)   { d.pins[requestID]++ }
func (d *Dentry) unpin(requestID string) {
	if d.pins[requestID] > 0 {
		d.pins[requestID]--
		if d.pins[requestID] == 0 {
			delete(d.pins, requestID)
		}
	}
}

// IsPinnable reports whether a new rdlock pin is currently admissible: the
// dentry must not be mid-unpinning for someone else's xlock, nor already
// held exclusively.
func (d *Dentry) IsPinnable() bool {
	return d.Lock.State != DNUnpinning && d.Lock.State != DNXlock
}

// Inode is the Locker's view of a cached inode: its hard/file lock cells,
// the capability table, and the bookkeeping needed for the hysteresis and
// file_data_version rules.
type Inode struct {
	ID        InodeID
	Authority NodeID
	Replicas  map[NodeID]struct{}

	Hard HardLock
	File FileLock

	// Caps is the per-client capability table.
	Caps map[ClientID]*Capability

	// MDSCapsWanted is the authority's record of each replica's aggregate
	// desired cap bits (mds_caps_wanted in the original).
	MDSCapsWanted map[NodeID]CapBits

	// ReplicaCapsWanted / ReplicaCapsWantedKeepUntil implement the 2-second
	// hysteresis against flapping release/re-acquire chatter, held on the
	// replica side.
	ReplicaCapsWanted          CapBits
	ReplicaCapsWantedKeepUntil time.Time

	FileDataVersion uint64

	// Shadowed file attributes participating in the monotonic merge rules
	// of handle_client_file_caps.
	Mtime time.Time
	Atime time.Time
	Size  uint64

	authPins map[string]int
	frozen   bool
}

// NewInode constructs an inode authoritative on the given node, both lock
// cells in their stable SYNC state.
func NewInode(id InodeID, authority NodeID) *Inode {
	return &Inode{
		ID:            id,
		Authority:     authority,
		Replicas:      make(map[NodeID]struct{}),
		Hard:          HardLock{State: HardSync},
		File:          FileLock{State: FileSync},
		Caps:          make(map[ClientID]*Capability),
		MDSCapsWanted: make(map[NodeID]CapBits),
		authPins:      make(map[string]int),
	}
}

// IsAuth reports whether node owns this inode.
func (in *Inode) IsAuth(node NodeID) bool { return in.Authority == node }

// CanAuthPin reports whether a new auth pin would currently be admitted.
func (in *Inode) CanAuthPin() bool { return !in.frozen }

// IsAuthPinnedBy reports whether requestID already holds an auth pin here.
func (in *Inode) IsAuthPinnedBy(requestID string) bool { return in.authPins[requestID] > 0 }

// AuthPin records an auth pin held by requestID.
func (in *Inode) AuthPin(requestID string) { in.authPins[requestID]++ }

// AuthUnpin releases the auth pin held by requestID, if any.
func (in *Inode) AuthUnpin(requestID string) {
	if in.authPins[requestID] > 0 {
		in.authPins[requestID]--
		if in.authPins[requestID] == 0 {
			delete(in.authPins, requestID)
		}
	}
}

// SetFrozen simulates a migration freeze that refuses new auth pins.
func (in *Inode) SetFrozen(frozen bool) { in.frozen = frozen }

// GetClientCap returns the client's capability record, or nil.
func (in *Inode) GetClientCap(client ClientID) *Capability { return in.Caps[client] }

// AddClientCap registers a freshly created capability for client.
func (in *Inode) AddClientCap(client ClientID, cap *Capability) { in.Caps[client] = cap }

// RemoveClientCap deletes client's capability record entirely.
func (in *Inode) RemoveClientCap(client ClientID) { delete(in.Caps, client) }

// CapsWanted aggregates the wanted bits across every local client cap, the
// quantity a replica reports upstream via request_inode_file_caps.
func (in *Inode) CapsWanted() CapBits {
	var w CapBits
	for _, c := range in.Caps {
		w = w.Union(c.Wanted)
	}
	return w
}

// AcquireRequest describes the lock-set a single metadata request needs
// held simultaneously: the union of dentries to read/exclusive-lock and
// inodes to hard read/exclusive-lock. Acquisition always walks dentries
// before inodes, and within each axis in canonical order.
type AcquireRequest struct {
	DentryRD    []DentryID
	DentryX     []DentryID
	InodeHardRD []InodeID
	InodeHardX  []InodeID
}

// Disposition is the outcome of an acquisition attempt.
type Disposition int

const (
	// Ready means every requested lock is now held by the request.
	Ready Disposition = iota
	// Suspended means the request registered a waiter and must be
	// re-driven from the top once that waiter fires; it holds no new
	// locks or auth pins from this attempt.
	Suspended
)

func (d Disposition) String() string {
	if d == Ready {
		return "ready"
	}
	return "suspended"
}

// MDRequest is the dispatcher-owned record of one in-flight metadata
// request's held locks and auth pins. The Locker never constructs one
// itself; the dispatcher (out of scope) owns the sole mutable reference and
// drops everything on completion or abort.
type MDRequest struct {
	ID string

	// Held locks, one sorted slice per axis/mode, mirroring the original's
	// per-mdr sets walked by acquire_locks.
	DentryRdlocks    []DentryID
	DentryXlocks     []DentryID
	InodeHardRdlocks []InodeID
	InodeHardXlocks  []InodeID

	// authPinnedDirfrags / authPinnedInodes record which fragments/inodes
	// this request holds an auth pin on, so acquireLocks can tell apart
	// "already pinned" from "needs a new pin".
	authPinnedDirfrags map[DirfragID]struct{}
	authPinnedInodes   map[InodeID]struct{}
}

// NewMDRequest creates an empty request record with the given id.
func NewMDRequest(id string) *MDRequest {
	return &MDRequest{
		ID:                 id,
		authPinnedDirfrags: make(map[DirfragID]struct{}),
		authPinnedInodes:   make(map[InodeID]struct{}),
	}
}

// DentryLocks returns the union of held dentry locks in canonical order.
func (r *MDRequest) DentryLocks() []DentryID {
	out := append(append([]DentryID{}, r.DentryXlocks...), r.DentryRdlocks...)
	slices.SortFunc(out, compareDentryID)
	return out
}

// InodeHardLocks returns the union of held inode hard locks in canonical
// order.
func (r *MDRequest) InodeHardLocks() []InodeID {
	out := append(append([]InodeID{}, r.InodeHardXlocks...), r.InodeHardRdlocks...)
	slices.SortFunc(out, func(a, b InodeID) int { return cmp.Compare(a, b) })
	return out
}

// IsXlockedByMe reports whether r holds d's xlock specifically (not just a
// rdlock on it).
func (r *MDRequest) IsXlockedByMe(d DentryID) bool {
	return slices.Contains(r.DentryXlocks, d)
}

// HardXlockedByMe reports whether r holds in's hard xlock specifically.
func (r *MDRequest) HardXlockedByMe(in InodeID) bool {
	return slices.Contains(r.InodeHardXlocks, in)
}

func (r *MDRequest) isAuthPinnedDirfrag(d DirfragID) bool {
	_, ok := r.authPinnedDirfrags[d]
	return ok
}

func (r *MDRequest) isAuthPinnedInode(in InodeID) bool {
	_, ok := r.authPinnedInodes[in]
	return ok
}

// DropAuthPins releases every auth pin r holds, across both fragments and
// inodes. Callers (typically acquireLocks on a suspend, or the dispatcher on
// abort) must have access to the owning Cache to unwind the pins there too;
// this only clears r's own bookkeeping.
func (r *MDRequest) DropAuthPins() {
	r.authPinnedDirfrags = make(map[DirfragID]struct{})
	r.authPinnedInodes = make(map[InodeID]struct{})
}
