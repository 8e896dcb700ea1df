package locker

import (
	"github.com/mdslocker/lockerd/internal/logger"
	lockerrors "github.com/mdslocker/lockerd/pkg/locker/errors"
)

// OType identifies which lock axis an MLock concerns.
type OType int

const (
	OHard OType = iota
	OFile
	ODir // directory-hash lock; stubbed, non-goal per spec
	ODN
)

func (o OType) String() string {
	switch o {
	case OHard:
		return "IHARD"
	case OFile:
		return "IFILE"
	case ODir:
		return "DIR"
	case ODN:
		return "DN"
	default:
		return "UNKNOWN"
	}
}

// LockAction is the action carried by an MLock message.
type LockAction int

const (
	AcSync LockAction = iota
	AcMixed
	AcLock
	AcLockAck
	AcLockNak
	AcMixedAck
	AcSyncAck
	AcReqXlock
	AcReqXlockC
	AcReqXlockAck
	AcReqXlockNak
	AcUnxlock
)

func (a LockAction) String() string {
	switch a {
	case AcSync:
		return "SYNC"
	case AcMixed:
		return "MIXED"
	case AcLock:
		return "LOCK"
	case AcLockAck:
		return "LOCKACK"
	case AcLockNak:
		return "LOCKNAK"
	case AcMixedAck:
		return "MIXEDACK"
	case AcSyncAck:
		return "SYNCACK"
	case AcReqXlock:
		return "REQXLOCK"
	case AcReqXlockC:
		return "REQXLOCKC"
	case AcReqXlockAck:
		return "REQXLOCKACK"
	case AcReqXlockNak:
		return "REQXLOCKNAK"
	case AcUnxlock:
		return "UNXLOCK"
	default:
		return "UNKNOWN"
	}
}

// ForAuth classifies actions that travel replica->auth: the ACKs, NAKs, and
// the REQ* family.
func (a LockAction) ForAuth() bool {
	switch a {
	case AcLockAck, AcLockNak, AcMixedAck, AcSyncAck,
		AcReqXlock, AcReqXlockC, AcReqXlockAck, AcReqXlockNak:
		return true
	default:
		return false
	}
}

// MLock is the inter-MDS lock-transition message.
type MLock struct {
	Asker  NodeID
	Otype  OType
	Action LockAction

	// Object addressing: exactly one of Ino or (Dir, Name) is meaningful,
	// selected by Otype (IHARD/IFILE address by Ino; DN addresses by
	// Dir+Name; DIR is unused, stubbed).
	Ino InodeID
	Dir DirfragID
	// Name is the dentry name, set only for DN messages.
	Name string

	// Data carries the encoded hard/file payload for AC_SYNC/AC_MIXED, or
	// the dentry's full path for DN's AC_LOCK (see encodePath).
	Data []byte
}

// MInodeFileCaps is the replica->auth aggregate-desired-caps message.
type MInodeFileCaps struct {
	Ino  InodeID
	From NodeID
	Caps CapBits
}

// CapOp distinguishes an auth->client grant from a terminal release.
type CapOp int

const (
	CapGrant CapOp = iota
	CapRelease
)

// MClientFileCaps is the capability grant/recall/confirm message. The
// authority sends it to grant or recall bits (Op=CapGrant); the client
// sends the same shape back to confirm receipt and report its own observed
// mtime/atime/size (Op=CapRelease when it is giving every bit back).
type MClientFileCaps struct {
	Ino    InodeID
	Client ClientID

	// InodeMtime/InodeAtime/InodeSize are the shadow inode fields riding
	// along with the message, consulted by HandleClientFileCaps for the
	// monotonic merge rules.
	InodeMtime int64
	InodeAtime int64
	InodeSize  uint64

	Seq    uint64
	Caps   CapBits
	Wanted CapBits
	Op     CapOp
}

// replicaSet snapshots a replica membership map into a fresh gather set.
func replicaSet(replicas map[NodeID]struct{}) map[NodeID]struct{} {
	out := make(map[NodeID]struct{}, len(replicas))
	for id := range replicas {
		out[id] = struct{}{}
	}
	return out
}

// sendLock sends a single MLock from a replica back to in's authority, used
// for ACK/NAK replies.
func (l *Locker) sendLock(in *Inode, action LockAction, otype OType, data []byte) {
	l.metrics.ObserveMessageSent(action.String())
	l.messenger.SendMDS(in.Authority, &MLock{Asker: l.nodeID, Otype: otype, Action: action, Ino: in.ID, Data: data})
}

// broadcastLock implements send_lock_message: fan the same action out to
// every replica of in.
func (l *Locker) broadcastLock(in *Inode, action LockAction, otype OType, data []byte) {
	for peer := range in.Replicas {
		l.metrics.ObserveMessageSent(action.String())
		l.messenger.SendMDS(peer, &MLock{Asker: l.nodeID, Otype: otype, Action: action, Ino: in.ID, Data: data})
	}
}

// sendDentryLock sends a single dentry MLock to one peer.
func (l *Locker) sendDentryLock(d *Dentry, dest NodeID, action LockAction, data []byte) {
	l.metrics.ObserveMessageSent(action.String())
	l.messenger.SendMDS(dest, &MLock{Asker: l.nodeID, Otype: ODN, Action: action, Dir: d.ID.Dir, Name: d.ID.Name, Data: data})
}

// broadcastDentryLock fans a dentry action out to every replica.
func (l *Locker) broadcastDentryLock(d *Dentry, action LockAction, data []byte) {
	for peer := range d.Replicas {
		l.sendDentryLock(d, peer, action, data)
	}
}

// Dispatch classifies an inbound message by concrete type, and for MLock
// additionally by Otype, mirroring Locker::dispatch / Locker::handle_lock
// (Locker.cc:63, Locker.cc:707). Structural violations panic and nothing in
// this repository recovers them, so in cmd/lockersimd one ends the process,
// matching spec.md §7's "fatal; abort the process" instruction.
func (l *Locker) Dispatch(msg any) {
	switch m := msg.(type) {
	case *MLock:
		l.metrics.ObserveMessageReceived(m.Action.String())
		l.dispatchLock(m)
	case *MInodeFileCaps:
		l.HandleInodeFileCaps(m)
	case *MClientFileCaps:
		l.HandleClientFileCaps(m)
	default:
		l.metrics.ObserveStructuralViolation()
		panic(lockerrors.NewStructuralViolation("", "dispatch: unknown message type"))
	}
}

func (l *Locker) dispatchLock(m *MLock) {
	switch m.Otype {
	case OHard:
		in := l.cache.GetInode(m.Ino)
		if in == nil {
			logger.DebugCtx(l.ctx, "hard lock message for vanished inode, dropping", logger.InodeID(uint64(m.Ino)))
			return
		}
		l.HandleLockInodeHard(in, m)
	case OFile:
		in := l.cache.GetInode(m.Ino)
		if in == nil {
			logger.DebugCtx(l.ctx, "file lock message for vanished inode, dropping", logger.InodeID(uint64(m.Ino)))
			return
		}
		l.HandleLockInodeFile(in, m)
	case ODN:
		d := l.cache.GetDentry(DentryID{Dir: m.Dir, Name: m.Name})
		if d == nil {
			logger.DebugCtx(l.ctx, "dn lock message for vanished dentry, dropping", logger.Name(m.Name))
			return
		}
		l.HandleLockDentry(d, m)
	case ODir:
		// DIR (directory-hash lock) is a stub; treated as non-goal.
		logger.DebugCtx(l.ctx, "dropping DIR lock message: not implemented")
	default:
		panic(lockerrors.NewStructuralViolation("", "handle_lock: unknown otype"))
	}
}
