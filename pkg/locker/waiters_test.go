package locker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWaitChannel_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "WAIT_AUTHPINNABLE", WaitAuthPinnable.String())
	assert.Equal(t, "WAIT_HARDNORD", WaitHardNoRd.String())
	assert.Equal(t, "WAIT_DNREQXLOCK", WaitDNReqXlock.String())
	assert.Equal(t, "WAIT_UNKNOWN", WaitChannel(999).String())
}

func TestWaiterSet_RegisterAndFire(t *testing.T) {
	t.Parallel()

	w := newWaiterSet()
	key := inodeKey(1)
	fired := 0
	w.register(key, WaitHardR, func() { fired++ })
	w.register(key, WaitHardR, func() { fired++ })

	assert.Equal(t, 2, w.pending(key, WaitHardR))
	w.fire(key, WaitHardR)
	assert.Equal(t, 2, fired)
	assert.Zero(t, w.pending(key, WaitHardR), "fire drains the queue")
}

func TestWaiterSet_FireWithNoWaitersIsANoOp(t *testing.T) {
	t.Parallel()

	w := newWaiterSet()
	assert.NotPanics(t, func() { w.fire(inodeKey(1), WaitHardR) })
}

func TestWaiterSet_RegisterNilFuncIsANoOp(t *testing.T) {
	t.Parallel()

	w := newWaiterSet()
	w.register(inodeKey(1), WaitHardR, nil)
	assert.Zero(t, w.pending(inodeKey(1), WaitHardR))
}

func TestWaiterSet_ChannelsAreIndependent(t *testing.T) {
	t.Parallel()

	w := newWaiterSet()
	key := inodeKey(1)
	rFired, wFired := false, false
	w.register(key, WaitHardR, func() { rFired = true })
	w.register(key, WaitHardW, func() { wFired = true })

	w.fire(key, WaitHardR)
	assert.True(t, rFired)
	assert.False(t, wFired, "firing one channel must not touch another")
}

func TestWaiterSet_ObjectsAreIndependent(t *testing.T) {
	t.Parallel()

	w := newWaiterSet()
	fired1, fired2 := false, false
	w.register(inodeKey(1), WaitHardR, func() { fired1 = true })
	w.register(inodeKey(2), WaitHardR, func() { fired2 = true })

	w.fire(inodeKey(1), WaitHardR)
	assert.True(t, fired1)
	assert.False(t, fired2, "firing one object's channel must not touch another object's")
}

func TestWaiterSet_FireAny(t *testing.T) {
	t.Parallel()

	w := newWaiterSet()
	key := inodeKey(1)
	aFired, bFired, cFired := false, false, false
	w.register(key, WaitHardW, func() { aFired = true })
	w.register(key, WaitHardStable, func() { bFired = true })
	w.register(key, WaitHardR, func() { cFired = true })

	w.fireAny(key, WaitHardW, WaitHardStable)
	assert.True(t, aFired)
	assert.True(t, bFired)
	assert.False(t, cFired, "fireAny only touches the channels it's given")
}

func TestWaiterSet_FireIsReentrantSafe(t *testing.T) {
	t.Parallel()

	w := newWaiterSet()
	key := inodeKey(1)
	secondFired := false
	w.register(key, WaitHardR, func() {
		w.register(key, WaitHardR, func() { secondFired = true })
	})

	w.fire(key, WaitHardR)
	assert.False(t, secondFired, "a closure registered mid-fire waits for the next fire call")
	w.fire(key, WaitHardR)
	assert.True(t, secondFired)
}
