package locker

import (
	"time"

	"github.com/mdslocker/lockerd/internal/logger"
	lockerrors "github.com/mdslocker/lockerd/pkg/locker/errors"
)

// HardLockState is the state of one inode's HARD lock cell: hard metadata
// (uid, gid, mode) that changes far less often than file data.
type HardLockState int

const (
	// HardSync lets every replica read hard metadata locally.
	HardSync HardLockState = iota
	// HardLocked restricts read/write to the authority alone.
	HardLocked
	// HardGatherLockR is the transient SYNC->LOCK state, draining replica
	// acks (the original's GLOCKR).
	HardGatherLockR
)

func (s HardLockState) String() string {
	switch s {
	case HardSync:
		return "SYNC"
	case HardLocked:
		return "LOCK"
	case HardGatherLockR:
		return "GLOCKR"
	default:
		return "UNKNOWN"
	}
}

// Stable reports whether s is not a gathering state.
func (s HardLockState) Stable() bool { return s != HardGatherLockR }

// HardLock is the per-inode HARD lock cell.
type HardLock struct {
	State         HardLockState
	GatherSet     map[NodeID]struct{}
	GatherStarted time.Time
	NRead         int
	Writer        string // request id of the exclusive holder, "" if none
	WriteWanted   bool   // set while a request is queued for the xlock
}

// canRead implements cell.can_read(is_auth): the authority may always read
// its own hard metadata; a replica only while the cell is SYNC.
func (h *HardLock) canRead(isAuth bool) bool {
	if isAuth {
		return true
	}
	return h.State == HardSync
}

// canWrite implements can_write: only the authority, only from LOCK, only
// with no active readers.
func (h *HardLock) canWrite(isAuth bool) bool {
	return isAuth && h.State == HardLocked && h.NRead == 0 && h.Writer == ""
}

// HardRdlockStart implements hard_rdlock_start. retry is parked on
// WAIT_HARDR if the replica must wait; an auth call never suspends (I4: the
// authority may read hard metadata unconditionally).
func (l *Locker) HardRdlockStart(in *Inode, mdr *MDRequest, retry func()) Disposition {
	isAuth := in.IsAuth(l.nodeID)
	h := &in.Hard
	if h.canRead(isAuth) {
		h.NRead++
		return Ready
	}
	if isAuth {
		panic(lockerrors.NewStructuralViolation(in.ID.String(), "hard_rdlock_start: auth cannot block on its own read"))
	}
	l.waiters.register(inodeKey(in.ID), WaitHardR, retry)
	return Suspended
}

// HardRdlockFinish implements hard_rdlock_finish. Draining the last reader
// while a replica's AC_LOCK is parked on WAIT_HARDNORD completes that
// drain-then-ack handoff.
func (l *Locker) HardRdlockFinish(in *Inode) {
	if in.Hard.NRead > 0 {
		in.Hard.NRead--
	}
	if in.Hard.NRead == 0 {
		l.waiters.fire(inodeKey(in.ID), WaitHardNoRd)
	}
}

// HardXlockStart implements hard_xlock_start.
func (l *Locker) HardXlockStart(in *Inode, mdr *MDRequest, retry func()) Disposition {
	isAuth := in.IsAuth(l.nodeID)
	h := &in.Hard

	if !isAuth {
		// Replicas never originate a hard transition (I4); hand the request
		// to the authority instead.
		logger.DebugCtx(l.ctx, "hard_xlock_start forwarding to authority",
			logger.InodeID(uint64(in.ID)), logger.NodeID(string(in.Authority)))
		l.dispatcher.ForwardToAuthority(mdr, in.Authority)
		return Suspended
	}

	// Un-replicated auth in SYNC: slam straight to LOCK, no gather needed.
	if h.State == HardSync && len(in.Replicas) == 0 {
		h.State = HardLocked
	}

	if h.canWrite(isAuth) {
		h.Writer = mdr.ID
		h.WriteWanted = false
		return Ready
	}

	h.WriteWanted = true
	if h.State == HardSync {
		l.hardLock(in)
	}
	l.waiters.register(inodeKey(in.ID), WaitHardW, retry)
	return Suspended
}

// HardXlockFinish implements hard_xlock_finish.
func (l *Locker) HardXlockFinish(in *Inode) {
	h := &in.Hard
	h.Writer = ""

	if l.waiters.pending(inodeKey(in.ID), WaitHardW) > 0 {
		l.waiters.fire(inodeKey(in.ID), WaitHardW)
		return
	}
	h.WriteWanted = false
	if len(in.Replicas) == 0 {
		l.hardSync(in)
	}
}

// hardSync implements Locker::hard_sync: legal only from LOCK.
func (l *Locker) hardSync(in *Inode) {
	h := &in.Hard
	if h.State != HardLocked {
		panic(lockerrors.NewStructuralViolation(in.ID.String(), "hard_sync: not in LOCK"))
	}
	l.broadcastLock(in, AcSync, OHard, l.encodeHard(in))
	h.State = HardSync
	l.waiters.fire(inodeKey(in.ID), WaitHardStable)
}

// hardLock implements Locker::hard_lock: legal only from SYNC.
func (l *Locker) hardLock(in *Inode) {
	h := &in.Hard
	if h.State != HardSync {
		panic(lockerrors.NewStructuralViolation(in.ID.String(), "hard_lock: not in SYNC"))
	}
	if len(in.Replicas) == 0 {
		h.State = HardLocked
		return
	}
	h.State = HardGatherLockR
	h.GatherSet = replicaSet(in.Replicas)
	h.GatherStarted = time.Now()
	l.broadcastLock(in, AcLock, OHard, nil)
}

// HandleLockInodeHard dispatches an inbound MLock with otype IHARD.
func (l *Locker) HandleLockInodeHard(in *Inode, m *MLock) {
	isAuth := in.IsAuth(l.nodeID)
	h := &in.Hard

	switch m.Action {
	case AcLockAck:
		if !isAuth {
			panic(lockerrors.NewStructuralViolation(in.ID.String(), "AC_LOCKACK received on replica"))
		}
		delete(h.GatherSet, m.Asker)
		if len(h.GatherSet) == 0 {
			if !h.GatherStarted.IsZero() {
				l.metrics.ObserveGatherDuration(AxisHard, time.Since(h.GatherStarted))
				h.GatherStarted = time.Time{}
			}
			h.GatherSet = nil
			h.State = HardLocked
			l.waiters.fireAny(inodeKey(in.ID), WaitHardW, WaitHardRWB, WaitHardStable)
		}

	case AcLock:
		if isAuth {
			panic(lockerrors.NewStructuralViolation(in.ID.String(), "AC_LOCK received on authority"))
		}
		if h.NRead > 0 {
			// The original asserts this path unreached; per spec.md §9 this
			// is a documented latent bug. We honor the drain-then-ack
			// contract: park and re-deliver the message once readers
			// drain, rather than crash.
			h.State = HardGatherLockR
			l.waiters.register(inodeKey(in.ID), WaitHardNoRd, func() {
				l.HandleLockInodeHard(in, m)
			})
			return
		}
		h.State = HardLocked
		l.sendLock(in, AcLockAck, OHard, nil)

	case AcSync:
		if isAuth {
			panic(lockerrors.NewStructuralViolation(in.ID.String(), "AC_SYNC received on authority"))
		}
		l.decodeHard(in, m.Data)
		h.State = HardSync
		l.waiters.fireAny(inodeKey(in.ID), WaitHardR, WaitHardStable)

	default:
		panic(lockerrors.NewStructuralViolation(in.ID.String(), "unexpected hard action "+m.Action.String()))
	}
}
