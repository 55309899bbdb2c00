package recovery

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/trestle/internal/storage"
	"github.com/mesh-intelligence/trestle/pkg/types"
)

const deckPath = "/docs/deck.toml"

func setupManager(t *testing.T) (*Manager, *storage.MemFS, *[]types.PermissionState) {
	t.Helper()
	mfs := storage.NewMemFS()
	mfs.Seed(deckPath, []byte("content"))

	var observed []types.PermissionState
	m := NewManager(mfs, func(_ string, state types.PermissionState) {
		observed = append(observed, state)
	})
	return m, mfs, &observed
}

func update(row int, column, value string) types.PendingUpdate {
	return types.PendingUpdate{RowIndex: row, Column: column, Value: value, EnqueuedAt: time.Now()}
}

func TestFilesStartReadWrite(t *testing.T) {
	m, _, _ := setupManager(t)

	assert.Equal(t, types.PermReadWrite, m.State(deckPath))
	assert.Zero(t, m.PendingCount(deckPath))
}

func TestWriteFailureClassification(t *testing.T) {
	t.Run("still readable means read-only", func(t *testing.T) {
		m, mfs, observed := setupManager(t)
		mfs.SetReadOnly(deckPath, true)

		state := m.HandleWriteFailure(deckPath)
		assert.Equal(t, types.PermReadOnly, state)
		assert.Equal(t, types.PermReadOnly, m.State(deckPath))
		assert.Equal(t, []types.PermissionState{types.PermReadOnly}, *observed)
	})

	t.Run("unreadable file", func(t *testing.T) {
		m, mfs, _ := setupManager(t)
		mfs.SetUnreadable(deckPath, true)

		assert.Equal(t, types.PermUnreadable, m.HandleWriteFailure(deckPath))
	})

	t.Run("missing file", func(t *testing.T) {
		m, mfs, _ := setupManager(t)
		require.NoError(t, mfs.Remove(deckPath))

		assert.Equal(t, types.PermUnreadable, m.HandleWriteFailure(deckPath))
	})
}

func TestProbeRestoresReadWrite(t *testing.T) {
	m, mfs, observed := setupManager(t)
	mfs.SetReadOnly(deckPath, true)
	m.HandleWriteFailure(deckPath)

	// Still read-only: probe does not change anything, observer silent.
	assert.Equal(t, types.PermReadOnly, m.Probe(deckPath))
	assert.Equal(t, []types.PermissionState{types.PermReadOnly}, *observed)

	mfs.SetReadOnly(deckPath, false)
	assert.Equal(t, types.PermReadWrite, m.Probe(deckPath))
	assert.Equal(t, types.PermReadWrite, m.State(deckPath))
	assert.Equal(t, []types.PermissionState{types.PermReadOnly, types.PermReadWrite}, *observed)
	assert.Empty(t, m.DegradedPaths())
}

func TestEnqueueKeepsOrderAndCollapsesCells(t *testing.T) {
	m, _, _ := setupManager(t)

	m.Enqueue(deckPath, update(0, "title", "first"))
	m.Enqueue(deckPath, update(2, "title", "second"))
	m.Enqueue(deckPath, update(0, "title", "third"))

	// The row-0 edit was overwritten in place: two entries, original
	// positions, latest value.
	require.Equal(t, 2, m.PendingCount(deckPath))

	var drained []types.PendingUpdate
	applied, err := m.Drain(deckPath, func(u types.PendingUpdate) error {
		drained = append(drained, u)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	require.Len(t, drained, 2)
	assert.Equal(t, 0, drained[0].RowIndex)
	assert.Equal(t, "third", drained[0].Value)
	assert.Equal(t, 2, drained[1].RowIndex)
}

func TestPermissionRoundTrip(t *testing.T) {
	// Queue three updates while read-only, restore access, drain: all
	// three applied in enqueue order and the queue reaches empty.
	m, mfs, _ := setupManager(t)
	mfs.SetReadOnly(deckPath, true)
	m.HandleWriteFailure(deckPath)

	m.Enqueue(deckPath, update(0, "title", "one"))
	m.Enqueue(deckPath, update(1, "title", "two"))
	m.Enqueue(deckPath, update(2, "title", "three"))
	require.Equal(t, 3, m.PendingCount(deckPath))
	assert.Equal(t, []string{deckPath}, m.DegradedPaths())

	mfs.SetReadOnly(deckPath, false)
	require.Equal(t, types.PermReadWrite, m.Probe(deckPath))

	var values []string
	applied, err := m.Drain(deckPath, func(u types.PendingUpdate) error {
		values = append(values, u.Value.(string))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, applied)
	assert.Equal(t, []string{"one", "two", "three"}, values)
	assert.Zero(t, m.PendingCount(deckPath), "queue must be empty after one successful drain")
}

func TestDrainRetainsFailedUpdates(t *testing.T) {
	m, _, _ := setupManager(t)

	m.Enqueue(deckPath, update(0, "title", "ok"))
	m.Enqueue(deckPath, update(1, "title", "bad"))
	m.Enqueue(deckPath, update(2, "title", "ok too"))

	applied, err := m.Drain(deckPath, func(u types.PendingUpdate) error {
		if u.RowIndex == 1 {
			return errors.New("row vanished")
		}
		return nil
	})

	require.ErrorIs(t, err, types.ErrQueueReplayFailed)
	assert.Equal(t, 2, applied)
	require.Equal(t, 1, m.PendingCount(deckPath))

	// The retained update drains next time.
	applied, err = m.Drain(deckPath, func(u types.PendingUpdate) error {
		assert.Equal(t, 1, u.RowIndex)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Zero(t, m.PendingCount(deckPath))
}

func TestDrainEmptyQueue(t *testing.T) {
	m, _, _ := setupManager(t)

	applied, err := m.Drain(deckPath, func(types.PendingUpdate) error {
		t.Fatal("apply called with empty queue")
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, applied)
}
