package locker

import (
	"time"

	"github.com/mdslocker/lockerd/internal/logger"
)

// capHysteresisWindow is the 2-second grace period a replica holds its
// aggregate desired caps at their last non-zero value before reporting a
// drop to zero upstream, absorbing open/close flaps without generating
// MInodeFileCaps traffic (spec.md §5, scenario 5).
const capHysteresisWindow = 2 * time.Second

// IssueNewCaps implements issue_new_caps: create a fresh capability record
// for (in, client) wanting wanted bits and fold it into the FILE cell's
// evaluation. Per spec.md §4.4 step 4, only the authority runs fileEval; a
// replica instead reports its new aggregate demand upstream and issues
// whatever its current (possibly unchanged) FILE state already allows.
func (l *Locker) IssueNewCaps(in *Inode, client ClientID, wanted CapBits) *Capability {
	c := NewCapability(wanted)
	in.AddClientCap(client, c)
	l.clientMap.AddOpen(client)

	if !in.IsAuth(l.nodeID) {
		l.RequestInodeFileCaps(in, time.Now())
		l.issueCaps(in)
		return c
	}

	l.fileEval(in)
	l.issueCaps(in)
	return c
}

// issueCaps implements issue_caps: for every client cap on in, compute the
// bits the current FILE state permits intersected with what the client
// still wants, and transmit only if Capability.issue reports a real change
// (P8 — no re-issue when allowed is unchanged).
func (l *Locker) issueCaps(in *Inode) {
	allowed := in.File.capsAllowed(in.IsAuth(l.nodeID))

	for client, c := range in.Caps {
		grant := allowed.Intersect(c.Wanted)
		before := c.Pending()
		seq := c.issue(grant)
		if seq == 0 {
			continue
		}
		if !before.Has(FileWRBuffer) && grant.Has(FileWRBuffer) {
			in.FileDataVersion++
			l.metrics.SetFileDataVersion(in.FileDataVersion)
		}
		if !before.Without(grant).IsZero() {
			l.metrics.ObserveCapRevoke(AxisFile)
		}
		if !grant.Without(before).IsZero() {
			l.metrics.ObserveCapGrant(AxisFile)
		}
		if c.IsSuppressed() {
			continue
		}
		l.messenger.SendClientFileCaps(client, &MClientFileCaps{
			Ino:        in.ID,
			Client:     client,
			InodeMtime: in.Mtime.UnixNano(),
			InodeAtime: in.Atime.UnixNano(),
			InodeSize:  in.Size,
			Seq:        seq,
			Caps:       grant,
			Wanted:     c.Wanted,
			Op:         CapGrant,
		})
	}
}

// RequestInodeFileCaps implements request_inode_file_caps: a replica
// aggregates its local clients' desired bits and, subject to the 2-second
// hysteresis against reporting a drop to zero, tells the authority when its
// aggregate demand changes.
func (l *Locker) RequestInodeFileCaps(in *Inode, now time.Time) {
	if in.IsAuth(l.nodeID) {
		return
	}

	want := in.CapsWanted()

	if want.IsZero() && !in.ReplicaCapsWanted.IsZero() {
		if in.ReplicaCapsWantedKeepUntil.IsZero() {
			in.ReplicaCapsWantedKeepUntil = now.Add(l.cfg.CapHysteresisWindow)
			return
		}
		if now.Before(in.ReplicaCapsWantedKeepUntil) {
			return
		}
	}

	if !want.IsZero() {
		in.ReplicaCapsWantedKeepUntil = time.Time{}
	}

	if want == in.ReplicaCapsWanted {
		return
	}
	in.ReplicaCapsWanted = want
	l.messenger.SendInodeFileCaps(in.Authority, &MInodeFileCaps{Ino: in.ID, From: l.nodeID, Caps: want})
}

// HandleInodeFileCaps implements handle_inode_file_caps: the authority
// records a replica's aggregate desired bits and re-evaluates the cell.
func (l *Locker) HandleInodeFileCaps(m *MInodeFileCaps) {
	in := l.cache.GetInode(m.Ino)
	if in == nil {
		logger.DebugCtx(l.ctx, "inode file caps message for vanished inode, dropping", logger.InodeID(uint64(m.Ino)))
		return
	}
	if !in.IsAuth(l.nodeID) {
		logger.DebugCtx(l.ctx, "inode file caps message received on non-authority, dropping", logger.InodeID(uint64(m.Ino)))
		return
	}
	if m.Caps.IsZero() {
		delete(in.MDSCapsWanted, m.From)
	} else {
		in.MDSCapsWanted[m.From] = m.Caps
	}
	l.fileEval(in)
}

// HandleClientFileCaps implements handle_client_file_caps: the authority
// absorbs a client's confirmation of a prior grant/recall. mtime, atime,
// and size only ever move forward (a client's view is never allowed to
// regress the authority's shadow attributes), and an mtime or size advance
// submits a dirty-inode journal entry (an atime-only advance does not). A release to nothing replies
// FILECAP_RELEASE and retires the capability record.
func (l *Locker) HandleClientFileCaps(m *MClientFileCaps) {
	in := l.cache.GetInode(m.Ino)
	if in == nil {
		logger.DebugCtx(l.ctx, "client file caps message for unknown inode, dropping", logger.InodeID(uint64(m.Ino)))
		return
	}
	c := in.GetClientCap(m.Client)
	if c == nil {
		logger.DebugCtx(l.ctx, "client file caps message for unknown cap, dropping",
			logger.InodeID(uint64(m.Ino)), logger.ClientID(string(m.Client)))
		return
	}

	c.confirmReceipt(m.Seq, m.Caps)
	c.Wanted = m.Wanted.Intersect(capsAllowedEver(in.IsAuth(l.nodeID)))

	dirty := false
	if mtime := time.Unix(0, m.InodeMtime); mtime.After(in.Mtime) {
		in.Mtime = mtime
		dirty = true
	}
	if atime := time.Unix(0, m.InodeAtime); atime.After(in.Atime) {
		in.Atime = atime
	}
	if m.InodeSize > in.Size {
		in.Size = m.InodeSize
		dirty = true
	}
	if dirty {
		l.journal.SubmitDirtyInode(in.ID, "client_file_caps")
	}

	l.fileEval(in)
	l.issueCaps(in)

	if c.IsNull() {
		in.RemoveClientCap(m.Client)
		l.clientMap.DecOpen(m.Client)
		l.messenger.SendClientFileCaps(m.Client, &MClientFileCaps{
			Ino: in.ID, Client: m.Client, Op: CapRelease,
		})
	}

	l.waiters.fire(inodeKey(in.ID), WaitCaps)
}
