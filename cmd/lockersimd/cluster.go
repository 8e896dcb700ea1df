package main

import (
	"context"

	"github.com/mdslocker/lockerd/internal/logger"
	"github.com/mdslocker/lockerd/pkg/locker"
	"github.com/mdslocker/lockerd/pkg/locker/memcache"
)

// cluster wires a small set of Locker instances together over a shared
// in-memory cache and messenger, standing in for a multi-node MDS cluster
// inside a single process.
type cluster struct {
	cache   *memcache.Cache
	msgr    *memcache.Messenger
	clients *memcache.ClientMap
	journal *memcache.Journal
	disp    *dispatcher
	metrics *locker.Metrics

	lockers map[locker.NodeID]*locker.Locker
}

// newCluster builds a cluster with one Locker per node in nodeIDs, all
// sharing the same cache, messenger, client map, and journal.
func newCluster(ctx context.Context, cfg locker.Config, nodeIDs ...locker.NodeID) *cluster {
	c := &cluster{
		cache:   memcache.NewCache(),
		msgr:    memcache.NewMessenger(),
		clients: memcache.NewClientMap(),
		journal: memcache.NewJournal(),
		disp:    newDispatcher(),
		metrics: locker.NewMetrics(cfg.MetricsNamespace, nil),
		lockers: make(map[locker.NodeID]*locker.Locker),
	}
	for _, id := range nodeIDs {
		l := locker.New(ctx, id, cfg, c.cache, c.disp, c.journal, c.clients, c.msgr, c.metrics)
		c.lockers[id] = l
		c.msgr.RegisterNode(id, l)
	}
	return c
}

// node returns the Locker running on id, panicking if it was never built by
// newCluster — a programmer error in a scenario, not a runtime condition.
func (c *cluster) node(id locker.NodeID) *locker.Locker {
	l, ok := c.lockers[id]
	if !ok {
		panic("lockersimd: unknown node " + string(id))
	}
	return l
}

// acquire drives l.AcquireLocks to completion, re-attempting through the
// cluster's dispatcher every time a waiter fires, and blocks until the
// request is Ready. Scenarios that intentionally leave a request suspended
// (to demonstrate contention) use l.AcquireLocks directly instead.
func (c *cluster) acquire(l *locker.Locker, req locker.AcquireRequest, requestID string) *locker.MDRequest {
	mdr := locker.NewMDRequest(requestID)
	done := make(chan struct{})
	var attempt func()
	attempt = func() {
		if l.AcquireLocks(req, mdr) == locker.Ready {
			c.disp.forget(mdr.ID)
			close(done)
		}
	}
	c.disp.register(mdr.ID, attempt)
	attempt()
	<-done
	return mdr
}

func (c *cluster) close() {
	c.msgr.Close()
}

func logState(msg string, attrs ...any) {
	logger.Info(msg, attrs...)
}
