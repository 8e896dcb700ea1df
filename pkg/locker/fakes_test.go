package locker

import (
	"context"
	"sync"
)

// fakeCache is a bare, non-concurrency-safe Cache good enough for a single
// Locker under test: tests in this package drive one Locker synchronously
// and never share a fakeCache across goroutines except where a test itself
// says so.
type fakeCache struct {
	inodes   map[InodeID]*Inode
	dirfrags map[DirfragID]*Dirfrag
	dentries map[DentryID]*Dentry
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		inodes:   make(map[InodeID]*Inode),
		dirfrags: make(map[DirfragID]*Dirfrag),
		dentries: make(map[DentryID]*Dentry),
	}
}

func (c *fakeCache) GetInode(id InodeID) *Inode       { return c.inodes[id] }
func (c *fakeCache) GetDirfrag(id DirfragID) *Dirfrag { return c.dirfrags[id] }
func (c *fakeCache) GetDentry(id DentryID) *Dentry    { return c.dentries[id] }
func (c *fakeCache) putInode(in *Inode)               { c.inodes[in.ID] = in }
func (c *fakeCache) putDirfrag(d *Dirfrag)            { c.dirfrags[d.ID] = d }
func (c *fakeCache) putDentry(d *Dentry)              { c.dentries[d.ID] = d }

// fakeDispatcher records every forward/retry instead of re-driving anything,
// so tests can assert a replica correctly declined to originate a transition.
type fakeDispatcher struct {
	mu        sync.Mutex
	forwarded []NodeID
	retried   []string
}

func (d *fakeDispatcher) ForwardToAuthority(mdr *MDRequest, authority NodeID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forwarded = append(d.forwarded, authority)
}

func (d *fakeDispatcher) Retry(mdr *MDRequest) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.retried = append(d.retried, mdr.ID)
}

func (d *fakeDispatcher) retryCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.retried)
}

// fakeJournal records every dirty-inode submission.
type fakeJournal struct {
	mu      sync.Mutex
	entries []string
}

func (j *fakeJournal) SubmitDirtyInode(ino InodeID, reason string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, reason)
}

func (j *fakeJournal) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// fakeClientMap is a bare open-count registry.
type fakeClientMap struct {
	mu    sync.Mutex
	opens map[ClientID]int
}

func newFakeClientMap() *fakeClientMap { return &fakeClientMap{opens: make(map[ClientID]int)} }

func (m *fakeClientMap) AddOpen(c ClientID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens[c]++
}

func (m *fakeClientMap) DecOpen(c ClientID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.opens[c] > 0 {
		m.opens[c]--
	}
}

func (m *fakeClientMap) count(c ClientID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens[c]
}

type sentMDS struct {
	dest NodeID
	msg  *MLock
}

// fakeMessenger records every send. When a destination has a registered peer
// Locker, SendMDS/SendInodeFileCaps additionally dispatch to it synchronously
// (tests don't need the real package's async delivery guarantee; they need
// determinism), so two-node tests can drive a full message round trip
// without a background goroutine.
type fakeMessenger struct {
	mu         sync.Mutex
	mdsSent    []sentMDS
	inodeCaps  []*MInodeFileCaps
	clientCaps map[ClientID][]*MClientFileCaps
	peers      map[NodeID]*Locker
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		clientCaps: make(map[ClientID][]*MClientFileCaps),
		peers:      make(map[NodeID]*Locker),
	}
}

func (m *fakeMessenger) registerPeer(id NodeID, l *Locker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers[id] = l
}

func (m *fakeMessenger) SendMDS(dest NodeID, msg *MLock) {
	m.mu.Lock()
	m.mdsSent = append(m.mdsSent, sentMDS{dest, msg})
	peer := m.peers[dest]
	m.mu.Unlock()
	if peer != nil {
		peer.Dispatch(msg)
	}
}

func (m *fakeMessenger) SendInodeFileCaps(dest NodeID, msg *MInodeFileCaps) {
	m.mu.Lock()
	m.inodeCaps = append(m.inodeCaps, msg)
	peer := m.peers[dest]
	m.mu.Unlock()
	if peer != nil {
		peer.Dispatch(msg)
	}
}

func (m *fakeMessenger) SendClientFileCaps(client ClientID, msg *MClientFileCaps) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clientCaps[client] = append(m.clientCaps[client], msg)
}

func (m *fakeMessenger) lastClientCap(client ClientID) *MClientFileCaps {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.clientCaps[client]
	if len(l) == 0 {
		return nil
	}
	return l[len(l)-1]
}

func (m *fakeMessenger) clientCapCount(client ClientID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clientCaps[client])
}

func (m *fakeMessenger) lastMDS() *sentMDS {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.mdsSent) == 0 {
		return nil
	}
	return &m.mdsSent[len(m.mdsSent)-1]
}

func (m *fakeMessenger) mdsSentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mdsSent)
}

// testRig bundles a Locker under test with its fake collaborators.
type testRig struct {
	locker     *Locker
	cache      *fakeCache
	dispatcher *fakeDispatcher
	journal    *fakeJournal
	clientMap  *fakeClientMap
	messenger  *fakeMessenger
}

// newTestRig constructs a Locker for nodeID with fresh fakes and no metrics.
func newTestRig(nodeID NodeID) *testRig {
	cache := newFakeCache()
	dispatcher := &fakeDispatcher{}
	journal := &fakeJournal{}
	clientMap := newFakeClientMap()
	messenger := newFakeMessenger()
	cfg := DefaultConfig()
	l := New(context.Background(), nodeID, cfg, cache, dispatcher, journal, clientMap, messenger, nil)
	return &testRig{
		locker:     l,
		cache:      cache,
		dispatcher: dispatcher,
		journal:    journal,
		clientMap:  clientMap,
		messenger:  messenger,
	}
}
