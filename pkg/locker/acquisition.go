package locker

import (
	"cmp"
	"slices"
)

// AcquireLocks is the entry point a request dispatcher calls to attempt or
// re-attempt a request's lock set; it just forwards to acquireLocks.
func (l *Locker) AcquireLocks(req AcquireRequest, mdr *MDRequest) Disposition {
	d := l.acquireLocks(req, mdr)
	l.metrics.ObserveAcquire(d)
	return d
}

// acquireLocks implements Locker::acquire_locks (Locker.cc:135): given the
// four requested sets in req, either grab every lock mdr does not already
// hold and return Ready, or register exactly one waiter and return
// Suspended, rolling back every auth pin and lock mdr picked up during this
// attempt.
//
// The walk runs auth-pin phase first, then dentries, then inode-hard locks,
// each axis processed in the canonical total order so two requests racing
// on the same descriptor contend for objects in the same order (P5),
// guaranteeing no circular wait.
func (l *Locker) acquireLocks(req AcquireRequest, mdr *MDRequest) Disposition {
	if d := l.authPinPhase(req, mdr); d == Suspended {
		return Suspended
	}

	dentryTargets := mergeDentrySets(req.DentryX, req.DentryRD)
	if d := l.dentryPhase(dentryTargets, req.DentryX, mdr); d == Suspended {
		l.dropAllLocks(mdr)
		l.dropAllAuthPins(mdr)
		return Suspended
	}

	inodeTargets := mergeInodeSets(req.InodeHardX, req.InodeHardRD)
	if d := l.inodeHardPhase(inodeTargets, req.InodeHardX, mdr); d == Suspended {
		l.dropAllLocks(mdr)
		l.dropAllAuthPins(mdr)
		return Suspended
	}

	return Ready
}

func mergeDentrySets(x, rd []DentryID) []DentryID {
	seen := make(map[DentryID]struct{}, len(x)+len(rd))
	out := make([]DentryID, 0, len(x)+len(rd))
	for _, d := range x {
		if _, ok := seen[d]; !ok {
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	for _, d := range rd {
		if _, ok := seen[d]; !ok {
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	slices.SortFunc(out, compareDentryID)
	return out
}

func mergeInodeSets(x, rd []InodeID) []InodeID {
	seen := make(map[InodeID]struct{}, len(x)+len(rd))
	out := make([]InodeID, 0, len(x)+len(rd))
	for _, id := range x {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range rd {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	slices.SortFunc(out, func(a, b InodeID) int { return cmp.Compare(a, b) })
	return out
}

// authPinPhase auth-pins every target this node is authority for, in
// req.DentryX ∪ req.InodeHardX, that mdr does not already hold. On refusal
// it drops not just this attempt's auth pins but every lock and auth pin
// mdr holds from any earlier phase or retry (spec.md §4.1: "drop all auth
// pins and locks already taken by r"), then registers WAIT_AUTHPINNABLE on
// the refuser — a partially-acquired request must never block behind a
// lock it should have released.
func (l *Locker) authPinPhase(req AcquireRequest, mdr *MDRequest) Disposition {
	rollback := func() {
		l.dropAllLocks(mdr)
		l.dropAllAuthPins(mdr)
	}

	for _, dn := range req.DentryX {
		frag := l.cache.GetDirfrag(dn.Dir)
		if frag == nil || !frag.IsAuth(l.nodeID) {
			continue
		}
		if frag.IsAuthPinnedBy(mdr.ID) || mdr.isAuthPinnedDirfrag(dn.Dir) {
			continue
		}
		if !frag.CanAuthPin() {
			rollback()
			l.waiters.register(dirfragKey(dn.Dir), WaitAuthPinnable, func() { l.retryAcquire(req, mdr) })
			return Suspended
		}
		frag.AuthPin(mdr.ID)
		mdr.authPinnedDirfrags[dn.Dir] = struct{}{}
	}

	for _, id := range req.InodeHardX {
		in := l.cache.GetInode(id)
		if in == nil || !in.IsAuth(l.nodeID) {
			continue
		}
		if in.IsAuthPinnedBy(mdr.ID) || mdr.isAuthPinnedInode(id) {
			continue
		}
		if !in.CanAuthPin() {
			rollback()
			l.waiters.register(inodeKey(id), WaitAuthPinnable, func() { l.retryAcquire(req, mdr) })
			return Suspended
		}
		in.AuthPin(mdr.ID)
		mdr.authPinnedInodes[id] = struct{}{}
	}

	return Ready
}

// dropAllLocks releases every dentry and inode-hard lock mdr currently
// holds, across every axis, restoring it to holding nothing.
func (l *Locker) dropAllLocks(mdr *MDRequest) {
	for _, id := range mdr.DentryLocks() {
		l.dropDentryLock(mdr, id)
	}
	for _, id := range mdr.InodeHardLocks() {
		l.dropInodeHardLock(mdr, id)
	}
}

// dropAllAuthPins releases every auth pin mdr currently holds against the
// cache's live fragments and inodes, then clears its own bookkeeping.
func (l *Locker) dropAllAuthPins(mdr *MDRequest) {
	for id := range mdr.authPinnedDirfrags {
		if frag := l.cache.GetDirfrag(id); frag != nil {
			frag.AuthUnpin(mdr.ID)
		}
	}
	for id := range mdr.authPinnedInodes {
		if in := l.cache.GetInode(id); in != nil {
			in.AuthUnpin(mdr.ID)
		}
	}
	mdr.DropAuthPins()
}

// dentryPhase walks targets (the canonically sorted union of rd+x requests)
// against mdr's currently held dentry locks, both sorted, diffing: matching
// entries in the same mode are kept, divergences drop the stale hold and
// start the new one in order.
func (l *Locker) dentryPhase(targets, xTargets []DentryID, mdr *MDRequest) Disposition {
	isX := make(map[DentryID]bool, len(xTargets))
	for _, d := range xTargets {
		isX[d] = true
	}

	held := mdr.DentryLocks()
	hi := 0
	for _, want := range targets {
		wantX := isX[want]
		for hi < len(held) && compareDentryID(held[hi], want) < 0 {
			l.dropDentryLock(mdr, held[hi])
			hi++
		}
		if hi < len(held) && held[hi] == want {
			alreadyX := mdr.IsXlockedByMe(want)
			if alreadyX == wantX {
				hi++
				continue
			}
			l.dropDentryLock(mdr, want)
			hi++
		}

		d := l.cache.GetDentry(want)
		if d == nil {
			continue
		}
		var disp Disposition
		if wantX {
			disp = l.DentryXlockStart(d, mdr, func() { l.retryAcquireDentry(mdr) })
			if disp == Ready {
				mdr.DentryXlocks = append(mdr.DentryXlocks, want)
			}
		} else {
			disp = l.DentryRdlockStart(d, mdr, func() { l.retryAcquireDentry(mdr) })
			if disp == Ready {
				mdr.DentryRdlocks = append(mdr.DentryRdlocks, want)
			}
		}
		if disp == Suspended {
			return Suspended
		}
	}
	for ; hi < len(held); hi++ {
		l.dropDentryLock(mdr, held[hi])
	}
	return Ready
}

func (l *Locker) dropDentryLock(mdr *MDRequest, id DentryID) {
	d := l.cache.GetDentry(id)
	if mdr.IsXlockedByMe(id) {
		mdr.DentryXlocks = removeDentryID(mdr.DentryXlocks, id)
		if d != nil {
			l.DentryXlockFinish(d, mdr)
		}
		return
	}
	mdr.DentryRdlocks = removeDentryID(mdr.DentryRdlocks, id)
	if d != nil {
		l.DentryRdlockFinish(d, mdr)
	}
}

func removeDentryID(s []DentryID, id DentryID) []DentryID {
	for i, v := range s {
		if v == id {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

// inodeHardPhase mirrors dentryPhase for the inode-hard axis.
func (l *Locker) inodeHardPhase(targets, xTargets []InodeID, mdr *MDRequest) Disposition {
	isX := make(map[InodeID]bool, len(xTargets))
	for _, id := range xTargets {
		isX[id] = true
	}

	held := mdr.InodeHardLocks()
	hi := 0
	for _, want := range targets {
		wantX := isX[want]
		for hi < len(held) && held[hi] < want {
			l.dropInodeHardLock(mdr, held[hi])
			hi++
		}
		if hi < len(held) && held[hi] == want {
			alreadyX := mdr.HardXlockedByMe(want)
			if alreadyX == wantX {
				hi++
				continue
			}
			l.dropInodeHardLock(mdr, want)
			hi++
		}

		in := l.cache.GetInode(want)
		if in == nil {
			continue
		}
		var disp Disposition
		if wantX {
			disp = l.HardXlockStart(in, mdr, func() { l.retryAcquireInode(mdr) })
			if disp == Ready {
				mdr.InodeHardXlocks = append(mdr.InodeHardXlocks, want)
			}
		} else {
			disp = l.HardRdlockStart(in, mdr, func() { l.retryAcquireInode(mdr) })
			if disp == Ready {
				mdr.InodeHardRdlocks = append(mdr.InodeHardRdlocks, want)
			}
		}
		if disp == Suspended {
			return Suspended
		}
	}
	for ; hi < len(held); hi++ {
		l.dropInodeHardLock(mdr, held[hi])
	}
	return Ready
}

func (l *Locker) dropInodeHardLock(mdr *MDRequest, id InodeID) {
	in := l.cache.GetInode(id)
	if mdr.HardXlockedByMe(id) {
		mdr.InodeHardXlocks = removeInodeID(mdr.InodeHardXlocks, id)
		if in != nil {
			l.HardXlockFinish(in)
		}
		return
	}
	mdr.InodeHardRdlocks = removeInodeID(mdr.InodeHardRdlocks, id)
	if in != nil {
		l.HardRdlockFinish(in)
	}
}

func removeInodeID(s []InodeID, id InodeID) []InodeID {
	for i, v := range s {
		if v == id {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

// retryAcquire, retryAcquireDentry, and retryAcquireInode are the waiter
// closures registered by acquireLocks: once fired, they hand mdr back to
// the dispatcher to re-drive acquisition from the top (spec.md §5's
// "wake-ups enqueue those closures on a ready queue the dispatcher
// drains").
func (l *Locker) retryAcquire(req AcquireRequest, mdr *MDRequest) {
	l.dispatcher.Retry(mdr)
}

func (l *Locker) retryAcquireDentry(mdr *MDRequest) {
	l.dispatcher.Retry(mdr)
}

func (l *Locker) retryAcquireInode(mdr *MDRequest) {
	l.dispatcher.Retry(mdr)
}
