package main

import (
	"sync"

	"github.com/mdslocker/lockerd/internal/logger"
	"github.com/mdslocker/lockerd/pkg/locker"
)

// dispatcher is the simulation's stand-in for the real request dispatcher
// (Server/MDCache in the original): it remembers, per in-flight MDRequest,
// the closure that re-attempts its acquisition, and invokes it when the
// Locker calls Retry or ForwardToAuthority.
//
// A real dispatcher re-drives a request through its full pipeline (path
// traversal, permission checks, journal replay) before reaching acquisition
// again; this simulation has no such pipeline, so re-attempting acquisition
// directly is the entire re-drive.
type dispatcher struct {
	mu       sync.Mutex
	attempts map[string]func()
}

func newDispatcher() *dispatcher {
	return &dispatcher{attempts: make(map[string]func())}
}

// register records the closure acquireLocks should re-run for mdr.ID.
func (d *dispatcher) register(id string, attempt func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts[id] = attempt
}

// forget drops a completed or abandoned request's retry closure.
func (d *dispatcher) forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.attempts, id)
}

// Retry implements locker.Dispatcher.
func (d *dispatcher) Retry(mdr *locker.MDRequest) {
	d.mu.Lock()
	attempt := d.attempts[mdr.ID]
	d.mu.Unlock()
	if attempt == nil {
		logger.Debug("retry fired for unknown request, dropping", logger.RequestID(mdr.ID))
		return
	}
	attempt()
}

// ForwardToAuthority implements locker.Dispatcher. This simulation has no
// cross-node request-forwarding transport, so it re-drives the same
// closure locally; the closure's locker is itself the authority-holding
// node only when the scenario registered it that way. Scenarios that
// exercise a genuine replica-must-forward path dispatch the retry to the
// authority node's own Locker directly instead of relying on this path.
func (d *dispatcher) ForwardToAuthority(mdr *locker.MDRequest, authority locker.NodeID) {
	logger.Debug("forwarding request to authority", logger.RequestID(mdr.ID), logger.NodeID(string(authority)))
	d.Retry(mdr)
}
