package locker

import (
	"github.com/mdslocker/lockerd/internal/logger"
	lockerrors "github.com/mdslocker/lockerd/pkg/locker/errors"
)

// DentryLockState is the state of one dentry's DN lock cell.
type DentryLockState int

const (
	// DNSync lets every replica read the dentry locally.
	DNSync DentryLockState = iota
	// DNPrexlock is the transient gathering state an authority enters while
	// broadcasting AC_LOCK and waiting for every replica's AC_LOCKACK.
	DNPrexlock
	// DNXlock grants one request exclusive rename/link/unlink access.
	DNXlock
	// DNUnpinning drains outstanding read pins before a pending xlock, or
	// before a replica's own AC_LOCK, may proceed.
	DNUnpinning
)

func (s DentryLockState) String() string {
	switch s {
	case DNSync:
		return "SYNC"
	case DNPrexlock:
		return "PREXLOCK"
	case DNXlock:
		return "XLOCK"
	case DNUnpinning:
		return "UNPINNING"
	default:
		return "UNKNOWN"
	}
}

// Stable reports whether s is not one of the transient drain/gather states.
func (s DentryLockState) Stable() bool { return s == DNSync || s == DNXlock }

// DentryLock is the per-dentry DN lock cell.
type DentryLock struct {
	State     DentryLockState
	GatherSet map[NodeID]struct{}
	Xlocker   string // request id currently holding the xlock, "" if none
}

// DentryRdlockStart implements dentry_rdlock_start.
func (l *Locker) DentryRdlockStart(d *Dentry, mdr *MDRequest, retry func()) Disposition {
	if d.IsPinnable() {
		d.pin(mdr.ID)
		return Ready
	}
	l.waiters.register(dentryKey(d.ID), WaitDNPinnable, retry)
	return Suspended
}

// DentryRdlockFinish implements dentry_rdlock_finish.
func (l *Locker) DentryRdlockFinish(d *Dentry, mdr *MDRequest) {
	d.unpin(mdr.ID)
	if d.Lock.State == DNUnpinning && d.PinCount() == 0 {
		d.Lock.State = DNSync
		l.waiters.fire(dentryKey(d.ID), WaitDNUnpinned)
	}
}

// DentryXlockStart implements dentry_xlock_start.
func (l *Locker) DentryXlockStart(d *Dentry, mdr *MDRequest, retry func()) Disposition {
	if d.Lock.State == DNXlock && d.Lock.Xlocker == mdr.ID {
		return Ready
	}
	if d.Lock.Xlocker != "" {
		l.waiters.register(dentryKey(d.ID), WaitDNRead, retry)
		return Suspended
	}

	if (d.Lock.State == DNSync || d.Lock.State == DNUnpinning) && d.PinCount() > 0 {
		d.Lock.State = DNUnpinning
		l.waiters.register(dentryKey(d.ID), WaitDNUnpinned, retry)
		return Suspended
	}

	d.Lock.Xlocker = mdr.ID
	d.pin(mdr.ID)

	if len(d.Replicas) > 0 {
		d.Lock.State = DNPrexlock
		d.Lock.GatherSet = replicaSet(d.Replicas)
		l.broadcastDentryLock(d, AcLock, encodePath(d.ID))
		l.waiters.register(dentryKey(d.ID), WaitDNLock, retry)
		return Suspended
	}

	d.Lock.State = DNXlock
	return Ready
}

// DentryXlockFinish implements dentry_xlock_finish.
func (l *Locker) DentryXlockFinish(d *Dentry, mdr *MDRequest) {
	d.Lock.Xlocker = ""
	d.Lock.State = DNSync
	d.unpin(mdr.ID)
	if len(d.Replicas) > 0 {
		l.broadcastDentryLock(d, AcSync, nil)
	}
	l.waiters.fire(dentryKey(d.ID), WaitDNRead)
}

// DentryXlockDowngradeToRdlock implements dentry_xlock_downgrade_to_rdlock.
func (l *Locker) DentryXlockDowngradeToRdlock(d *Dentry, mdr *MDRequest) {
	d.Lock.Xlocker = ""
	d.Lock.State = DNSync
	if len(d.Replicas) > 0 {
		l.broadcastDentryLock(d, AcSync, nil)
	}
	l.waiters.fire(dentryKey(d.ID), WaitDNRead)
}

// encodePath stands in for the dentry's full resolved path, the AC_LOCK
// payload a replica uses to discover an absent dentry (spec.md §7's "Object
// vanished" carve-out means this repository's replicas always already have
// the dentry cached, so the payload is carried but never decoded).
func encodePath(id DentryID) []byte { return []byte(id.String()) }

// HandleLockDentry implements handle_lock_dn, the replica and authority-ack
// side of AC_LOCK/AC_LOCKACK/AC_LOCKNAK/AC_SYNC, plus the disabled
// REQXLOCK/REQXLOCKC path.
func (l *Locker) HandleLockDentry(d *Dentry, m *MLock) {
	isAuth := d.IsAuth(l.nodeID)

	switch m.Action {
	case AcLock:
		if isAuth {
			panic(lockerrors.NewStructuralViolation(d.ID.String(), "AC_LOCK received on authority"))
		}
		if d.Lock.State != DNSync && d.Lock.State != DNUnpinning && d.Lock.State != DNXlock {
			panic(lockerrors.NewStructuralViolation(d.ID.String(), "AC_LOCK: illegal source state "+d.Lock.State.String()))
		}
		if d.PinCount() > 0 {
			d.Lock.State = DNUnpinning
			l.waiters.register(dentryKey(d.ID), WaitDNUnpinned, func() {
				l.HandleLockDentry(d, m)
			})
			return
		}
		d.Lock.State = DNXlock
		l.sendDentryLock(d, d.Authority, AcLockAck, nil)

	case AcLockAck:
		if !isAuth {
			panic(lockerrors.NewStructuralViolation(d.ID.String(), "AC_LOCKACK received on replica"))
		}
		delete(d.Lock.GatherSet, m.Asker)
		if len(d.Lock.GatherSet) == 0 {
			d.Lock.GatherSet = nil
			d.Lock.State = DNXlock
			l.waiters.fire(dentryKey(d.ID), WaitDNLock)
		}

	case AcLockNak:
		if !isAuth {
			panic(lockerrors.NewStructuralViolation(d.ID.String(), "AC_LOCKNAK received on replica"))
		}
		logger.DebugCtx(l.ctx, "replica could not resolve dentry for AC_LOCK", logger.Name(d.ID.Name), logger.PeerID(string(m.Asker)))
		delete(d.Lock.GatherSet, m.Asker)
		if len(d.Lock.GatherSet) == 0 {
			d.Lock.GatherSet = nil
			d.Lock.State = DNXlock
			l.waiters.fire(dentryKey(d.ID), WaitDNLock)
		}

	case AcSync:
		if isAuth {
			panic(lockerrors.NewStructuralViolation(d.ID.String(), "AC_SYNC received on authority"))
		}
		d.Lock.State = DNSync
		// Deleting a null dentry from the cache is the Cache's job, not the
		// Locker's; d.Null only records that it should happen.
		l.waiters.fire(dentryKey(d.ID), WaitDNRead)

	case AcReqXlock, AcReqXlockC:
		// Disabled in this subset: cross-node xlock requests always NAK
		// rather than forward or create, per the open decision to keep
		// dentry xlock acquisition strictly authority-local.
		l.sendDentryLock(d, m.Asker, AcReqXlockNak, nil)

	default:
		panic(lockerrors.NewStructuralViolation(d.ID.String(), "unexpected dn action "+m.Action.String()))
	}
}
