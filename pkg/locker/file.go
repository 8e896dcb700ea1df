package locker

import (
	"time"

	"github.com/mdslocker/lockerd/internal/logger"
	lockerrors "github.com/mdslocker/lockerd/pkg/locker/errors"
)

// FileLockState is the state of one inode's FILE lock cell: file data
// metadata (mtime, size) and the cap-issuance policy it governs. LONER is
// known only to the authority; replicas see LOCK whenever the authority is
// actually in LONER.
type FileLockState int

const (
	FileSync FileLockState = iota
	FileMixed
	FileLocked
	FileLoner

	FileGatherLockR  // GLOCKR: ->LOCK, draining reader caps
	FileGatherLockM  // GLOCKM: ->LOCK, draining from MIXED
	FileGatherLockL  // GLOCKL: ->LOCK, draining from LONER
	FileGatherMixedR // GMIXEDR: ->MIXED, draining from SYNC
	FileGatherMixedL // GMIXEDL: ->MIXED, draining from LONER
	FileGatherLonerR // GLONERR: ->LONER, draining reader caps
	FileGatherLonerM // GLONERM: ->LONER, draining writer caps
	FileGatherSyncL  // GSYNCL: ->SYNC, draining from LONER
	FileGatherSyncM  // GSYNCM: ->SYNC, draining from MIXED
)

func (s FileLockState) String() string {
	switch s {
	case FileSync:
		return "SYNC"
	case FileMixed:
		return "MIXED"
	case FileLocked:
		return "LOCK"
	case FileLoner:
		return "LONER"
	case FileGatherLockR:
		return "GLOCKR"
	case FileGatherLockM:
		return "GLOCKM"
	case FileGatherLockL:
		return "GLOCKL"
	case FileGatherMixedR:
		return "GMIXEDR"
	case FileGatherMixedL:
		return "GMIXEDL"
	case FileGatherLonerR:
		return "GLONERR"
	case FileGatherLonerM:
		return "GLONERM"
	case FileGatherSyncL:
		return "GSYNCL"
	case FileGatherSyncM:
		return "GSYNCM"
	default:
		return "UNKNOWN"
	}
}

// Stable reports whether s is not one of the transient gathering states.
func (s FileLockState) Stable() bool {
	switch s {
	case FileSync, FileMixed, FileLocked, FileLoner:
		return true
	default:
		return false
	}
}

// FileLock is the per-inode FILE lock cell.
type FileLock struct {
	State         FileLockState
	GatherSet     map[NodeID]struct{}
	GatherStarted time.Time
	NRead         int
	Writer        string
	WriteWanted   bool
}

// capsAllowed implements filelock.caps_allowed(state, is_auth), invariant
// I2.
func (f *FileLock) capsAllowed(isAuth bool) CapBits {
	switch f.State {
	case FileSync:
		return FileRD | FileRDCache
	case FileMixed:
		return FileRD | FileWR
	case FileLocked:
		return 0
	case FileLoner:
		if isAuth {
			return FileRD | FileRDCache | FileWR | FileWRBuffer
		}
		return 0
	default:
		// Gathering states allow nothing: issueCaps in cap_layer.go consults
		// this for every state, so entering a gather recalls every pending
		// bit.
		return 0
	}
}

func (f *FileLock) canRead(isAuth bool) bool {
	return f.Stable() && f.capsAllowed(isAuth).Has(FileRD)
}

// HardRdlockStart-equivalent for FILE: rdlock_start.
func (l *Locker) FileRdlockStart(in *Inode, mdr *MDRequest, retry func()) Disposition {
	isAuth := in.IsAuth(l.nodeID)
	f := &in.File

	if f.State == FileMixed && !isAuth {
		// Replicas may not mint RD out of MIXED on their own; forward.
		logger.DebugCtx(l.ctx, "file_rdlock_start forwarding MIXED read to authority", logger.InodeID(uint64(in.ID)))
		l.dispatcher.ForwardToAuthority(mdr, in.Authority)
		return Suspended
	}
	if f.canRead(isAuth) {
		f.NRead++
		return Ready
	}
	l.waiters.register(inodeKey(in.ID), WaitFileR, retry)
	return Suspended
}

// FileRdlockFinish releases one read hold.
func (l *Locker) FileRdlockFinish(in *Inode) {
	if in.File.NRead > 0 {
		in.File.NRead--
	}
}

// FileXlockStart implements file_xlock_start.
func (l *Locker) FileXlockStart(in *Inode, mdr *MDRequest, retry func()) Disposition {
	isAuth := in.IsAuth(l.nodeID)
	f := &in.File

	if !isAuth {
		logger.DebugCtx(l.ctx, "file_xlock_start forwarding to authority", logger.InodeID(uint64(in.ID)))
		l.dispatcher.ForwardToAuthority(mdr, in.Authority)
		return Suspended
	}
	if f.State == FileLocked && f.NRead == 0 && f.Writer == "" {
		f.Writer = mdr.ID
		f.WriteWanted = false
		return Ready
	}
	f.WriteWanted = true
	l.fileEval(in)
	l.waiters.register(inodeKey(in.ID), WaitFileW, retry)
	return Suspended
}

// FileXlockFinish implements file_xlock_finish.
func (l *Locker) FileXlockFinish(in *Inode) {
	in.File.Writer = ""
	l.fileEval(in)
}

// fileEval implements Locker::inode_file_eval (file_eval): re-evaluate the
// cell after every relevant event. If gathering, it checks the commit
// condition in spec.md §4.3's table; if stable, it picks the next target
// state from aggregated demand and invokes the matching transition.
func (l *Locker) fileEval(in *Inode) {
	f := &in.File
	isAuth := in.IsAuth(l.nodeID)
	if !isAuth {
		panic(lockerrors.NewStructuralViolation(in.ID.String(), "file_eval: only authority evaluates"))
	}

	if !f.Stable() {
		l.fileEvalGathering(in)
		return
	}

	wanted := in.CapsWanted()
	for _, w := range in.MDSCapsWanted {
		wanted = wanted.Union(w)
	}
	loner := len(in.Caps) == 1 && len(in.MDSCapsWanted) == 0

	switch {
	case f.NRead == 0 && f.Writer == "" && wanted.Has(FileWR) && loner && f.State != FileLoner:
		l.fileLoner(in)
	case wanted.Has(FileRD) && wanted.Has(FileWR) && !(loner && f.State == FileLoner):
		l.fileMixed(in)
	case !wanted.Has(FileWR) && (wanted.Has(FileRD) || len(in.Replicas) > 0 || f.State == FileLoner):
		l.fileSync(in)
	case len(in.Replicas) == 0 && wanted.IsZero():
		l.fileLock(in)
	}
}

// fileEvalGathering implements the commit-condition table in spec.md §4.3:
// once every gather ack is in, check whether the issued footprint now
// permits the destination state.
func (l *Locker) fileEvalGathering(in *Inode) {
	f := &in.File
	if len(f.GatherSet) > 0 {
		return // still draining
	}

	issued := l.issuedFootprint(in)

	switch f.State {
	case FileGatherLockR, FileGatherLockM, FileGatherLockL:
		if issued.IsZero() {
			l.commitFile(in, FileLocked)
		}
	case FileGatherMixedR:
		if issued.Without(FileRD | FileRDCache).IsZero() {
			l.commitFile(in, FileMixed)
		}
	case FileGatherMixedL:
		if issued.Without(FileWR | FileWRBuffer).IsZero() {
			l.commitFile(in, FileMixed)
			if len(in.Replicas) > 0 {
				l.broadcastLock(in, AcMixed, OFile, l.encodeFile(in))
			}
		}
	case FileGatherLonerR:
		if issued.IsZero() {
			l.commitFile(in, FileLoner)
		}
	case FileGatherLonerM:
		if issued.Without(FileWR | FileWRBuffer).IsZero() {
			l.commitFile(in, FileLoner)
		}
	case FileGatherSyncL, FileGatherSyncM:
		if issued.Without(FileRD | FileRDCache).IsZero() {
			l.commitFile(in, FileSync)
			l.broadcastLock(in, AcSync, OFile, l.encodeFile(in))
		}
	}
}

// issuedFootprint is the union of pending bits across every client cap on
// in, used by the gather commit-condition checks above.
func (l *Locker) issuedFootprint(in *Inode) CapBits {
	var u CapBits
	for _, c := range in.Caps {
		u = u.Union(c.Pending())
	}
	return u
}

func (l *Locker) commitFile(in *Inode, dest FileLockState) {
	f := &in.File
	if !f.GatherStarted.IsZero() {
		l.metrics.ObserveGatherDuration(AxisFile, time.Since(f.GatherStarted))
		f.GatherStarted = time.Time{}
	}
	f.State = dest
	f.GatherSet = nil
	l.metrics.ObserveEval(dest.String())
	l.waiters.fireAny(inodeKey(in.ID), WaitFileRWB, WaitFileStable)
}

// fileSync, fileLock, fileMixed, fileLoner each: assert source stability,
// decide whether a recall/gather is required, and if so enter the matching
// gathering state and shrink pending bits via issueCaps, then immediately
// check whether that gather is already trivially satisfied (no replicas and
// no outstanding client pending bits) rather than waiting for an event that
// will never arrive; otherwise commit directly.
func (l *Locker) fileSync(in *Inode) {
	f := &in.File
	if !f.Stable() {
		panic(lockerrors.NewStructuralViolation(in.ID.String(), "file_sync: not stable"))
	}
	switch f.State {
	case FileSync:
		return // no-op, P6
	case FileLocked:
		l.commitFile(in, FileSync)
		if len(in.Replicas) > 0 {
			l.broadcastLock(in, AcSync, OFile, l.encodeFile(in))
		}
		return
	case FileMixed:
		f.State = FileGatherSyncM
	case FileLoner:
		f.State = FileGatherSyncL
	}
	f.GatherStarted = time.Now()
	f.GatherSet = replicaSet(in.Replicas)
	l.issueCaps(in)
	l.fileEvalGathering(in)
}

func (l *Locker) fileLock(in *Inode) {
	f := &in.File
	if !f.Stable() {
		panic(lockerrors.NewStructuralViolation(in.ID.String(), "file_lock: not stable"))
	}
	switch f.State {
	case FileLocked:
		return
	case FileSync:
		f.State = FileGatherLockR
	case FileMixed:
		f.State = FileGatherLockM
	case FileLoner:
		f.State = FileGatherLockL
	}
	f.GatherStarted = time.Now()
	f.GatherSet = replicaSet(in.Replicas)
	l.issueCaps(in)
	l.fileEvalGathering(in)
}

func (l *Locker) fileMixed(in *Inode) {
	f := &in.File
	if !f.Stable() {
		panic(lockerrors.NewStructuralViolation(in.ID.String(), "file_mixed: not stable"))
	}
	switch f.State {
	case FileMixed:
		return
	case FileLocked:
		l.commitFile(in, FileMixed)
		if len(in.Replicas) > 0 {
			l.broadcastLock(in, AcMixed, OFile, l.encodeFile(in))
		}
		return
	case FileSync:
		f.State = FileGatherMixedR
	case FileLoner:
		f.State = FileGatherMixedL
	}
	f.GatherStarted = time.Now()
	f.GatherSet = replicaSet(in.Replicas)
	l.issueCaps(in)
	l.fileEvalGathering(in)
}

func (l *Locker) fileLoner(in *Inode) {
	f := &in.File
	if !f.Stable() {
		panic(lockerrors.NewStructuralViolation(in.ID.String(), "file_loner: not stable"))
	}
	switch f.State {
	case FileLoner:
		return
	case FileLocked:
		l.commitFile(in, FileLoner)
		return
	case FileSync:
		f.State = FileGatherLonerR
	case FileMixed:
		f.State = FileGatherLonerM
	}
	f.GatherStarted = time.Now()
	f.GatherSet = replicaSet(in.Replicas)
	l.issueCaps(in)
	l.fileEvalGathering(in)
}

// HandleLockInodeFile implements handle_lock_inode_file, the replica-side
// and ack-side protocol for AC_SYNC/AC_LOCK/AC_MIXED/*ACK.
func (l *Locker) HandleLockInodeFile(in *Inode, m *MLock) {
	isAuth := in.IsAuth(l.nodeID)
	f := &in.File

	switch m.Action {
	case AcSync:
		if isAuth {
			panic(lockerrors.NewStructuralViolation(in.ID.String(), "AC_SYNC received on authority"))
		}
		if f.State != FileLocked && f.State != FileMixed {
			panic(lockerrors.NewStructuralViolation(in.ID.String(), "AC_SYNC: illegal source state "+f.State.String()))
		}
		l.decodeFile(in, m.Data)
		f.State = FileSync
		l.waiters.fireAny(inodeKey(in.ID), WaitFileR, WaitFileStable)

	case AcMixed:
		if isAuth {
			panic(lockerrors.NewStructuralViolation(in.ID.String(), "AC_MIXED received on authority"))
		}
		switch f.State {
		case FileSync:
			if l.localIssuedRD(in) {
				f.State = FileGatherMixedR
				l.issueCaps(in)
			} else {
				f.State = FileMixed
			}
		case FileLocked:
			f.State = FileMixed
		default:
			panic(lockerrors.NewStructuralViolation(in.ID.String(), "AC_MIXED: illegal source state "+f.State.String()))
		}

	case AcLock:
		if isAuth {
			panic(lockerrors.NewStructuralViolation(in.ID.String(), "AC_LOCK received on authority"))
		}
		if f.State != FileSync && f.State != FileMixed {
			panic(lockerrors.NewStructuralViolation(in.ID.String(), "AC_LOCK: illegal source state "+f.State.String()))
		}
		if l.localIssuedRD(in) {
			f.State = FileGatherLockR
			l.issueCaps(in)
		} else {
			f.State = FileLocked
			l.sendLock(in, AcLockAck, OFile, nil)
		}

	case AcLockAck:
		l.ackGather(in, m.Asker)
		if f.State == FileGatherLockR && l.localIssuedRD(in) == false && !f.Stable() && len(f.GatherSet) == 0 {
			f.State = FileLocked
			l.sendLock(in, AcLockAck, OFile, nil)
		}

	case AcMixedAck:
		l.ackGather(in, m.Asker)
		if f.State == FileGatherMixedR && len(f.GatherSet) == 0 {
			f.State = FileMixed
			l.sendLock(in, AcMixedAck, OFile, nil)
		}

	case AcSyncAck:
		l.ackGather(in, m.Asker)

	default:
		panic(lockerrors.NewStructuralViolation(in.ID.String(), "unexpected file action "+m.Action.String()))
	}
}

// ackGather handles a FILE-axis ack on the authority: remove the sender
// from the gather set and, once empty, re-enter the evaluator.
func (l *Locker) ackGather(in *Inode, sender NodeID) {
	f := &in.File
	if f.GatherSet == nil {
		return
	}
	delete(f.GatherSet, sender)
	if len(f.GatherSet) == 0 {
		l.fileEval(in)
	}
}

// localIssuedRD reports whether any local client cap currently has RD
// issued, the condition gating a replica's AC_LOCK/AC_MIXED recall.
func (l *Locker) localIssuedRD(in *Inode) bool {
	for _, c := range in.Caps {
		if c.Issued().Has(FileRD) {
			return true
		}
	}
	return false
}
