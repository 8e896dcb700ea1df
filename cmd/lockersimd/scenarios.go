package main

import (
	"context"
	"time"

	"github.com/mdslocker/lockerd/internal/logger"
	"github.com/mdslocker/lockerd/pkg/locker"
)

// scenario is one named, self-contained demonstration; each builds its own
// cluster so scenarios never interfere with one another. run returns the
// cluster it built, still open, so a caller wanting to inspect final state
// (e.g. the debug listener) can do so before closing it.
type scenario struct {
	name string
	run  func(ctx context.Context, cfg locker.Config) *cluster
}

var scenarios = []scenario{
	{"sync-then-lock", scenarioSyncThenLock},
	{"read-cache-revocation", scenarioReadCacheRevocation},
	{"auto-sync-unreplicated", scenarioAutoSyncUnreplicated},
	{"dentry-xlock-replicas", scenarioDentryXlockReplicas},
	{"cap-hysteresis", scenarioCapHysteresis},
	{"deadlock-avoidance", scenarioDeadlockAvoidance},
}

const (
	nodeA locker.NodeID = "mds.a"
	nodeB locker.NodeID = "mds.b"
	nodeC locker.NodeID = "mds.c"
)

// scenarioSyncThenLock grounds spec.md §8 scenario 1: a single replica
// acks a hard xlock request with no gather contention.
func scenarioSyncThenLock(ctx context.Context, cfg locker.Config) *cluster {
	c := newCluster(ctx, cfg, nodeA, nodeB)

	in := locker.NewInode(1, nodeA)
	in.Replicas[nodeB] = struct{}{}
	c.cache.PutInode(in)

	mdr := c.acquire(c.node(nodeA), locker.AcquireRequest{InodeHardX: []locker.InodeID{in.ID}}, "req-1")
	logState("sync-then-lock: xlock granted", logger.RequestID(mdr.ID), logger.LockState(in.Hard.State.String()))
	return c
}

// scenarioReadCacheRevocation grounds spec.md §8 scenario 2: a pending
// read cap is revoked and reissued as LONER once the client confirms.
func scenarioReadCacheRevocation(ctx context.Context, cfg locker.Config) *cluster {
	c := newCluster(ctx, cfg, nodeA)

	in := locker.NewInode(2, nodeA)
	c.cache.PutInode(in)

	client1 := locker.ClientID("c1")
	sc := &scriptedClient{id: client1, ino: in.ID, authority: c.node(nodeA)}
	c.msgr.RegisterClient(client1, sc)

	sc.nextWanted = locker.FileRD | locker.FileRDCache
	c.node(nodeA).IssueNewCaps(in, client1, sc.nextWanted)
	c.msgr.Drain()
	logState("read-cache-revocation: initial grant", logger.CapBits(in.GetClientCap(client1).Pending().String()))

	// A write-mode open arrives: the client's demand changes from RD|RDCACHE
	// to RD|WR|RDCACHE|WRBUFFER. A live client reports this by re-sending its
	// caps message with the new Wanted bits, not by re-issuing a fresh
	// capability (that would discard the record's confirmed history) — so
	// dispatch the same MClientFileCaps the client would send, confirming
	// the bits it already holds while raising what it wants.
	cap := in.GetClientCap(client1)
	sc.nextWanted = locker.FileRD | locker.FileWR | locker.FileRDCache | locker.FileWRBuffer
	c.node(nodeA).Dispatch(&locker.MClientFileCaps{
		Ino:    in.ID,
		Client: client1,
		Seq:    0,
		Caps:   cap.Pending(),
		Wanted: sc.nextWanted,
	})
	c.msgr.Drain()

	logState("read-cache-revocation: after write open",
		logger.LockState(in.File.State.String()),
		logger.CapBits(cap.Pending().String()),
		logger.FileDataVersion(in.FileDataVersion))
	return c
}

// scenarioAutoSyncUnreplicated grounds spec.md §8 scenario 3: an
// un-replicated hard xlock slams SYNC->LOCK and auto-reverts on finish.
func scenarioAutoSyncUnreplicated(ctx context.Context, cfg locker.Config) *cluster {
	c := newCluster(ctx, cfg, nodeA)

	in := locker.NewInode(3, nodeA)
	c.cache.PutInode(in)

	mdr := c.acquire(c.node(nodeA), locker.AcquireRequest{InodeHardX: []locker.InodeID{in.ID}}, "req-3")
	logState("auto-sync-unreplicated: locked", logger.LockState(in.Hard.State.String()))

	c.node(nodeA).HardXlockFinish(in)
	logState("auto-sync-unreplicated: reverted", logger.RequestID(mdr.ID), logger.LockState(in.Hard.State.String()))
	return c
}

// scenarioDentryXlockReplicas grounds spec.md §8 scenario 4: xlocking a
// replicated dentry gathers both replicas' acks before committing.
func scenarioDentryXlockReplicas(ctx context.Context, cfg locker.Config) *cluster {
	c := newCluster(ctx, cfg, nodeA, nodeB, nodeC)

	dir := locker.DirfragID{Ino: 10, Frag: 0}
	id := locker.DentryID{Dir: dir, Name: "target"}
	d := locker.NewDentry(id, nodeA)
	d.Replicas[nodeB] = struct{}{}
	d.Replicas[nodeC] = struct{}{}
	c.cache.PutDentry(d)
	c.cache.PutDirfrag(locker.NewDirfrag(dir, nodeA))

	mdr := c.acquire(c.node(nodeA), locker.AcquireRequest{DentryX: []locker.DentryID{id}}, "req-4")
	logState("dentry-xlock-replicas: xlock granted", logger.RequestID(mdr.ID), logger.LockState(d.Lock.State.String()))

	c.node(nodeA).DentryXlockFinish(d, mdr)
	logState("dentry-xlock-replicas: released", logger.LockState(d.Lock.State.String()))
	return c
}

// scenarioCapHysteresis grounds spec.md §8 scenario 5: a replica's
// aggregate demand flapping to zero and back within the hysteresis window
// produces no MInodeFileCaps traffic.
func scenarioCapHysteresis(ctx context.Context, cfg locker.Config) *cluster {
	c := newCluster(ctx, cfg, nodeA, nodeB)

	in := locker.NewInode(5, nodeA)
	in.Replicas[nodeB] = struct{}{}
	replica := locker.NewInode(5, nodeB)
	replica.Authority = nodeA
	// The replica-side record lives independently in a real cluster; this
	// reference cluster shares one Cache, so both nodes consult the same
	// *Inode and ReplicaCapsWanted is exercised directly.
	_ = replica

	client1 := locker.ClientID("c1")
	c.cache.PutInode(in)
	in.AddClientCap(client1, locker.NewCapability(locker.FileRD))

	before := c.msgr.SentCount()
	t0 := time.Unix(0, 0)
	in.ReplicaCapsWanted = locker.FileRD
	in.Caps[client1].Wanted = 0 // client closed
	c.node(nodeB).RequestInodeFileCaps(in, t0)
	logState("cap-hysteresis: flap to zero recorded", logger.CapBits(in.ReplicaCapsWanted.String()))

	t1 := t0.Add(1 * time.Second)
	in.Caps[client1].Wanted = locker.FileRD // client reopened within the window
	c.node(nodeB).RequestInodeFileCaps(in, t1)
	after := c.msgr.SentCount()

	logState("cap-hysteresis: flap absorbed", logger.CapBits(in.ReplicaCapsWanted.String()))
	if after != before {
		logState("cap-hysteresis: UNEXPECTED traffic during hysteresis window")
	}
	return c
}

// scenarioDeadlockAvoidance grounds spec.md §8 scenario 6: two requests
// racing for the same two dentries in canonical order never deadlock —
// the loser suspends holding nothing.
func scenarioDeadlockAvoidance(ctx context.Context, cfg locker.Config) *cluster {
	c := newCluster(ctx, cfg, nodeA)

	dir := locker.DirfragID{Ino: 20, Frag: 0}
	d1 := locker.NewDentry(locker.DentryID{Dir: dir, Name: "d1"}, nodeA)
	d2 := locker.NewDentry(locker.DentryID{Dir: dir, Name: "d2"}, nodeA)
	c.cache.PutDentry(d1)
	c.cache.PutDentry(d2)
	c.cache.PutDirfrag(locker.NewDirfrag(dir, nodeA))

	req := locker.AcquireRequest{DentryX: []locker.DentryID{d1.ID, d2.ID}}

	mdrWinner := locker.NewMDRequest("req-6-winner")
	winnerDone := make(chan struct{})
	var winnerAttempt func()
	winnerAttempt = func() {
		if c.node(nodeA).AcquireLocks(req, mdrWinner) == locker.Ready {
			c.disp.forget(mdrWinner.ID)
			close(winnerDone)
		}
	}
	c.disp.register(mdrWinner.ID, winnerAttempt)
	winnerAttempt()
	<-winnerDone
	logState("deadlock-avoidance: winner holds both", logger.RequestID(mdrWinner.ID))

	mdrLoser := locker.NewMDRequest("req-6-loser")
	disposition := c.node(nodeA).AcquireLocks(req, mdrLoser)
	logState("deadlock-avoidance: loser suspended holding nothing",
		logger.RequestID(mdrLoser.ID), "disposition", disposition.String())
	if len(mdrLoser.DentryLocks()) != 0 {
		logState("deadlock-avoidance: UNEXPECTED — loser retained a lock across suspension")
	}
	return c
}

// scriptedClient plays the client side of the capability protocol for
// demonstration purposes: it immediately confirms whatever the authority
// grants or recalls, reporting nextWanted as its current demand.
type scriptedClient struct {
	id         locker.ClientID
	ino        locker.InodeID
	authority  *locker.Locker
	nextWanted locker.CapBits
}

// HandleClientFileCaps implements memcache.ClientInbox.
func (s *scriptedClient) HandleClientFileCaps(m *locker.MClientFileCaps) {
	if m.Op == locker.CapRelease {
		return
	}
	s.authority.Dispatch(&locker.MClientFileCaps{
		Ino:    s.ino,
		Client: s.id,
		Seq:    m.Seq,
		Caps:   m.Caps,
		Wanted: s.nextWanted,
	})
}
