package locker

// Capability is one client's authorization record on one inode: the bits
// it wants, the bits issued to it, the bits it has confirmed, and the
// union it must honor until a lower confirmation arrives.
type Capability struct {
	Wanted    CapBits
	issued    CapBits
	confirmed CapBits
	pending   CapBits
	lastSeq   uint64
	suppress  bool
}

// NewCapability creates a capability requesting wanted bits, matching
// Capability(my_want) in issue_new_caps.
func NewCapability(wanted CapBits) *Capability {
	return &Capability{Wanted: wanted}
}

// Pending returns the bits the client must currently honor.
func (c *Capability) Pending() CapBits { return c.pending }

// Issued returns the bits last transmitted to the client.
func (c *Capability) Issued() CapBits { return c.issued }

// Confirmed returns the bits the client has last acknowledged.
func (c *Capability) Confirmed() CapBits { return c.confirmed }

// IsSuppressed reports whether cap message transmission is currently
// suppressed (batched with an open reply).
func (c *Capability) IsSuppressed() bool { return c.suppress }

// SetSuppress toggles message suppression.
func (c *Capability) SetSuppress(v bool) { c.suppress = v }

// IsNull reports whether the client holds nothing and wants nothing: the
// cap record is ready to be deleted.
func (c *Capability) IsNull() bool {
	return c.pending.IsZero() && c.confirmed.IsZero() && c.Wanted.IsZero()
}

// issue sets pending to allowed, bumps the sequence if it actually changed,
// and records the new issued value. Returns the new sequence, or 0 if
// nothing changed (mirrors Capability::issue's return-0-on-no-op contract
// consumed by issue_caps to decide whether to transmit).
func (c *Capability) issue(allowed CapBits) uint64 {
	changed := allowed != c.pending
	c.pending = allowed
	c.issued = allowed
	if !changed {
		return 0
	}
	c.lastSeq++
	return c.lastSeq
}

// confirmReceipt records a client's acknowledgment of seq for caps bits,
// and returns the bits that were pending before this confirmation (the
// "had" set used by handle_client_file_caps's monotonic merge decision).
func (c *Capability) confirmReceipt(seq uint64, caps CapBits) CapBits {
	had := c.pending
	if seq == 0 || seq == c.lastSeq {
		c.confirmed = caps
		c.pending = caps
	}
	return had
}
