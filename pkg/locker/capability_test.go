package locker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// ===========================================================================
// Construction
// ===========================================================================

func TestNewCapability(t *testing.T) {
	t.Parallel()

	c := NewCapability(FileRD | FileWR)
	assert.Equal(t, FileRD|FileWR, c.Wanted)
	assert.True(t, c.Pending().IsZero())
	assert.True(t, c.Issued().IsZero())
	assert.True(t, c.Confirmed().IsZero())
	assert.False(t, c.IsSuppressed())
}

func TestCapability_IsNull(t *testing.T) {
	t.Parallel()

	c := NewCapability(0)
	assert.True(t, c.IsNull())

	c.Wanted = FileRD
	assert.False(t, c.IsNull())

	c.Wanted = 0
	c.issue(FileRD)
	assert.False(t, c.IsNull(), "pending bits outstanding means not null")

	c.confirmReceipt(c.lastSeq, 0)
	assert.True(t, c.IsNull())
}

func TestCapability_SetSuppress(t *testing.T) {
	t.Parallel()

	c := NewCapability(0)
	c.SetSuppress(true)
	assert.True(t, c.IsSuppressed())
	c.SetSuppress(false)
	assert.False(t, c.IsSuppressed())
}

// ===========================================================================
// issue
// ===========================================================================

func TestCapability_Issue_NoOpReturnsZero(t *testing.T) {
	t.Parallel()

	c := NewCapability(FileRD)
	seq := c.issue(0)
	assert.Zero(t, seq, "issuing the bits already pending (none) is a no-op")
	assert.True(t, c.Pending().IsZero())
}

func TestCapability_Issue_ChangeBumpsSeq(t *testing.T) {
	t.Parallel()

	c := NewCapability(FileRD)

	seq1 := c.issue(FileRD)
	assert.Equal(t, uint64(1), seq1)
	assert.Equal(t, FileRD, c.Pending())
	assert.Equal(t, FileRD, c.Issued())

	// Re-issuing the same bits is a no-op: no sequence bump.
	seq2 := c.issue(FileRD)
	assert.Zero(t, seq2)

	seq3 := c.issue(FileRD | FileWR)
	assert.Equal(t, uint64(2), seq3)
	assert.Equal(t, FileRD|FileWR, c.Pending())
}

// ===========================================================================
// confirmReceipt
// ===========================================================================

func TestCapability_ConfirmReceipt_MatchingSeq(t *testing.T) {
	t.Parallel()

	c := NewCapability(FileRD | FileWR)
	seq := c.issue(FileRD | FileWR)
	require := c.Pending()
	assert.Equal(t, FileRD|FileWR, require)

	had := c.confirmReceipt(seq, FileRD)
	assert.Equal(t, FileRD|FileWR, had, "confirmReceipt returns what was pending before")
	assert.Equal(t, FileRD, c.Confirmed())
	assert.Equal(t, FileRD, c.Pending())
}

func TestCapability_ConfirmReceipt_SeqZeroAlwaysApplies(t *testing.T) {
	t.Parallel()

	c := NewCapability(FileRD)
	c.issue(FileRD)

	had := c.confirmReceipt(0, FileRD)
	assert.Equal(t, FileRD, had)
	assert.Equal(t, FileRD, c.Confirmed())
}

func TestCapability_ConfirmReceipt_StaleSeqIgnored(t *testing.T) {
	t.Parallel()

	c := NewCapability(FileRD)
	c.issue(FileRD)
	c.issue(FileRD | FileWR) // lastSeq is now 2

	had := c.confirmReceipt(1, FileRD) // stale: acking seq 1 while lastSeq is 2
	assert.Equal(t, FileRD|FileWR, had)
	// A stale ack must not clobber what's currently pending/confirmed.
	assert.True(t, c.Confirmed().IsZero())
	assert.Equal(t, FileRD|FileWR, c.Pending())
}
