// Package memcache provides in-memory reference implementations of the
// locker package's narrow collaborator contracts (Cache, Messenger,
// ClientMap, Journal), suitable for cmd/lockersimd and for the locker test
// suite. A real deployment backs these with the actual MDCache, cluster
// messenger, client session table, and MDLog; nothing here is meant to run
// against a live cluster.
package memcache

import (
	"sync"
	"sync/atomic"

	"github.com/mdslocker/lockerd/internal/logger"
	"github.com/mdslocker/lockerd/pkg/locker"
)

// ============================================================================
// Cache
// ============================================================================

// Cache is an in-memory implementation of locker.Cache: three maps guarded by
// one lock. Safe for concurrent use; lookups and mutations from multiple
// Locker instances in the same simulation serialize on mu.
type Cache struct {
	mu       sync.RWMutex
	inodes   map[locker.InodeID]*locker.Inode
	dirfrags map[locker.DirfragID]*locker.Dirfrag
	dentries map[locker.DentryID]*locker.Dentry
}

// NewCache constructs an empty Cache.
func NewCache() *Cache {
	return &Cache{
		inodes:   make(map[locker.InodeID]*locker.Inode),
		dirfrags: make(map[locker.DirfragID]*locker.Dirfrag),
		dentries: make(map[locker.DentryID]*locker.Dentry),
	}
}

// GetInode implements locker.Cache.
func (c *Cache) GetInode(id locker.InodeID) *locker.Inode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inodes[id]
}

// GetDirfrag implements locker.Cache.
func (c *Cache) GetDirfrag(id locker.DirfragID) *locker.Dirfrag {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dirfrags[id]
}

// GetDentry implements locker.Cache.
func (c *Cache) GetDentry(id locker.DentryID) *locker.Dentry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dentries[id]
}

// PutInode registers in under its own ID, overwriting any prior entry.
func (c *Cache) PutInode(in *locker.Inode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inodes[in.ID] = in
}

// PutDirfrag registers frag under its own ID, overwriting any prior entry.
func (c *Cache) PutDirfrag(frag *locker.Dirfrag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirfrags[frag.ID] = frag
}

// PutDentry registers d under its own ID, overwriting any prior entry.
func (c *Cache) PutDentry(d *locker.Dentry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dentries[d.ID] = d
}

// RemoveDentry deletes a dentry entirely, mirroring what a replica does to a
// null dentry after absorbing AC_SYNC.
func (c *Cache) RemoveDentry(id locker.DentryID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.dentries, id)
}

// Inodes returns every cached inode, for diagnostic snapshots (cmd/lockerctl).
func (c *Cache) Inodes() []*locker.Inode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*locker.Inode, 0, len(c.inodes))
	for _, in := range c.inodes {
		out = append(out, in)
	}
	return out
}

// Dentries returns every cached dentry, for diagnostic snapshots (cmd/lockerctl).
func (c *Cache) Dentries() []*locker.Dentry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*locker.Dentry, 0, len(c.dentries))
	for _, d := range c.dentries {
		out = append(out, d)
	}
	return out
}

// ============================================================================
// ClientMap
// ============================================================================

// ClientMap is an in-memory open-count registry keyed by client. Counts are
// diagnostic only; DecOpen on a client already at zero is a no-op, so a
// replayed close never drops a count below zero.
type ClientMap struct {
	mu    sync.Mutex
	opens map[locker.ClientID]int
}

// NewClientMap constructs an empty ClientMap.
func NewClientMap() *ClientMap {
	return &ClientMap{opens: make(map[locker.ClientID]int)}
}

// AddOpen implements locker.ClientMap.
func (m *ClientMap) AddOpen(client locker.ClientID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens[client]++
}

// DecOpen implements locker.ClientMap.
func (m *ClientMap) DecOpen(client locker.ClientID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.opens[client] > 0 {
		m.opens[client]--
	}
}

// OpenCount returns the current recorded open count for client.
func (m *ClientMap) OpenCount(client locker.ClientID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens[client]
}

// ============================================================================
// Journal
// ============================================================================

// DirtyEntry is one journal submission recorded by Journal.
type DirtyEntry struct {
	Ino    locker.InodeID
	Reason string
}

// Journal is an in-memory stand-in for MDLog: it appends every submission to
// a slice instead of writing to a real log stream, so tests can assert on
// exactly what was submitted and why.
type Journal struct {
	mu      sync.Mutex
	entries []DirtyEntry
}

// NewJournal constructs an empty Journal.
func NewJournal() *Journal { return &Journal{} }

// SubmitDirtyInode implements locker.Journal.
func (j *Journal) SubmitDirtyInode(ino locker.InodeID, reason string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, DirtyEntry{Ino: ino, Reason: reason})
}

// Entries returns a copy of every submission recorded so far, oldest first.
func (j *Journal) Entries() []DirtyEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]DirtyEntry, len(j.entries))
	copy(out, j.entries)
	return out
}

// ============================================================================
// Messenger
// ============================================================================

// ClientInbox receives the client-directed half of the capability protocol
// (SendClientFileCaps); a real client stub or test implements this to
// observe and react to grants/recalls.
type ClientInbox interface {
	HandleClientFileCaps(m *locker.MClientFileCaps)
}

// Messenger is an in-memory cluster transport: a registry of node ID to the
// Locker running on that node, plus a registry of client ID to inbox. Every
// send is handed to a single background delivery goroutine rather than
// invoked inline, mirroring the real messenger's asynchronous delivery
// guarantee (spec.md §5) — a sender never runs the receiver's handler on its
// own call stack. One global queue (rather than one per destination) keeps
// every delivery strictly ordered cluster-wide, which also means no two
// Locker calls ever execute concurrently against the same underlying Cache,
// avoiding the need for per-object locking in this reference implementation.
type Messenger struct {
	mu      sync.RWMutex
	nodes   map[locker.NodeID]*locker.Locker
	clients map[locker.ClientID]ClientInbox
	queue   chan func()
	sent    atomic.Int64
	pending sync.WaitGroup
}

// NewMessenger constructs an empty Messenger and starts its delivery
// goroutine. Register nodes and clients with RegisterNode and RegisterClient
// before routing traffic to them.
func NewMessenger() *Messenger {
	m := &Messenger{
		nodes:   make(map[locker.NodeID]*locker.Locker),
		clients: make(map[locker.ClientID]ClientInbox),
		queue:   make(chan func(), 1024),
	}
	go m.drain()
	return m
}

// RegisterNode makes id a valid delivery target for SendMDS/SendInodeFileCaps.
func (m *Messenger) RegisterNode(id locker.NodeID, l *locker.Locker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[id] = l
}

// RegisterClient makes id a valid delivery target for SendClientFileCaps.
func (m *Messenger) RegisterClient(id locker.ClientID, inbox ClientInbox) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[id] = inbox
}

func (m *Messenger) drain() {
	for fn := range m.queue {
		fn()
	}
}

// SendMDS implements locker.Messenger.
func (m *Messenger) SendMDS(dest locker.NodeID, msg *locker.MLock) {
	m.mu.RLock()
	l, ok := m.nodes[dest]
	m.mu.RUnlock()
	if !ok {
		logger.Debug("SendMDS to unregistered node, dropping", logger.NodeID(string(dest)))
		return
	}
	m.sent.Add(1)
	m.pending.Add(1)
	m.queue <- func() { defer m.pending.Done(); l.Dispatch(msg) }
}

// SendInodeFileCaps implements locker.Messenger.
func (m *Messenger) SendInodeFileCaps(dest locker.NodeID, msg *locker.MInodeFileCaps) {
	m.mu.RLock()
	l, ok := m.nodes[dest]
	m.mu.RUnlock()
	if !ok {
		logger.Debug("SendInodeFileCaps to unregistered node, dropping", logger.NodeID(string(dest)))
		return
	}
	m.sent.Add(1)
	m.pending.Add(1)
	m.queue <- func() { defer m.pending.Done(); l.Dispatch(msg) }
}

// SendClientFileCaps implements locker.Messenger.
func (m *Messenger) SendClientFileCaps(client locker.ClientID, msg *locker.MClientFileCaps) {
	m.mu.RLock()
	inbox, ok := m.clients[client]
	m.mu.RUnlock()
	if !ok {
		logger.Debug("SendClientFileCaps to unregistered client, dropping", logger.ClientID(string(client)))
		return
	}
	m.sent.Add(1)
	m.pending.Add(1)
	m.queue <- func() { defer m.pending.Done(); inbox.HandleClientFileCaps(msg) }
}

// Drain blocks until every message sent so far has been fully delivered.
// Scenario code calls this between steps to observe a quiescent,
// deterministic cluster state.
func (m *Messenger) Drain() { m.pending.Wait() }

// SentCount returns the total number of messages routed to a registered
// destination across all three Send methods, for test assertions.
func (m *Messenger) SentCount() int64 { return m.sent.Load() }

// Close stops the delivery goroutine. Call once after a simulation or test
// finishes sending; closing the queue unblocks the drain loop.
func (m *Messenger) Close() {
	close(m.queue)
}
