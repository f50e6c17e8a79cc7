package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateUniqueIDs(t *testing.T) {
	r := newRegistry(4)
	a, err := r.allocate(0x02, time.Now().Add(time.Second), nil, nil)
	require.NoError(t, err)
	b, err := r.allocate(0x02, time.Now().Add(time.Second), nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.commandID, b.commandID)
}

func TestAllocateRejectsOverCapacity(t *testing.T) {
	r := newRegistry(1)
	_, err := r.allocate(0x02, time.Now().Add(time.Second), nil, nil)
	require.NoError(t, err)
	_, err = r.allocate(0x02, time.Now().Add(time.Second), nil, nil)
	assert.ErrorIs(t, err, errRegistryFull)
}

func TestReleaseReusesID(t *testing.T) {
	r := newRegistry(1)
	s, err := r.allocate(0x02, time.Now().Add(time.Second), nil, nil)
	require.NoError(t, err)
	r.release(s.commandID)

	again, err := r.allocate(0x02, time.Now().Add(time.Second), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, s.commandID, again.commandID)
}

func TestSweepExpiredRemovesOnlyPastDeadline(t *testing.T) {
	r := newRegistry(4)
	expired, _ := r.allocate(0x02, time.Now().Add(-time.Second), nil, nil)
	live, _ := r.allocate(0x02, time.Now().Add(time.Hour), nil, nil)

	swept := r.sweepExpired(time.Now())
	require.Len(t, swept, 1)
	assert.Equal(t, expired.commandID, swept[0].commandID)
	assert.Equal(t, 1, r.len())

	_, ok := r.lookup(live.commandID)
	assert.True(t, ok)
}

func TestDrainAllEmptiesRegistry(t *testing.T) {
	r := newRegistry(4)
	_, _ = r.allocate(0x02, time.Now().Add(time.Second), nil, nil)
	_, _ = r.allocate(0x02, time.Now().Add(time.Second), nil, nil)

	drained := r.drainAll()
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, r.len())
}

func TestMarkCancelledDoesNotRemove(t *testing.T) {
	r := newRegistry(4)
	s, _ := r.allocate(0x02, time.Now().Add(time.Second), nil, nil)
	r.markCancelled(s.commandID)

	got, ok := r.lookup(s.commandID)
	require.True(t, ok)
	assert.True(t, got.cancelled)
}
