package locker

// Cache is the narrow contract the Locker needs from the metadata cache
// (MDCache): lookup of the inodes, fragments, and dentries it already
// holds. Path traversal, replica discovery, and persistence all live on the
// real MDCache and are out of scope here (spec.md §1); this repository's
// memcache package supplies a reference in-memory implementation.
type Cache interface {
	GetInode(InodeID) *Inode
	GetDirfrag(DirfragID) *Dirfrag
	GetDentry(DentryID) *Dentry
}

// Dispatcher is the narrow contract the Locker needs from the request
// dispatcher (Server): forwarding a request to another node's authority
// when a replica cannot originate a transition itself.
type Dispatcher interface {
	// ForwardToAuthority hands mdr off to be retried against object's
	// authority. The Locker never blocks on the result; the dispatcher
	// re-drives the request asynchronously.
	ForwardToAuthority(mdr *MDRequest, authority NodeID)
	// Retry re-enqueues mdr to be re-driven from the top of acquisition on
	// this node, the re-drive a fired waiter closure schedules.
	Retry(mdr *MDRequest)
}

// Journal is the narrow contract the Locker needs from MDLog: submitting a
// dirty-metadata entry when handle_client_file_caps observes a monotonic
// mtime/size advance. The Locker never awaits the journal (spec.md §5).
type Journal interface {
	SubmitDirtyInode(ino InodeID, reason string)
}

// ClientMap is the narrow contract the Locker needs from the client session
// registry: counting opens per client so a capability's lifecycle can be
// tied to session bookkeeping.
type ClientMap interface {
	AddOpen(client ClientID)
	DecOpen(client ClientID)
}

// Messenger is the narrow contract the Locker needs from the cluster
// transport: addressed, reliable, asynchronous, in-order-per-object
// delivery (spec.md §5). Messages legitimately cross goroutines in a
// multi-node simulation, so implementations must be concurrency-safe.
type Messenger interface {
	// SendMDS delivers msg to the Locker running on the given peer node.
	SendMDS(dest NodeID, msg *MLock)
	// SendInodeFileCaps delivers a replica's aggregate cap request to an
	// inode's authority.
	SendInodeFileCaps(dest NodeID, msg *MInodeFileCaps)
	// SendClientFileCaps delivers a capability grant/recall to a client.
	SendClientFileCaps(client ClientID, msg *MClientFileCaps)
}
