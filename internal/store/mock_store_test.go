// ABOUTME: Tests for MockStore behavior the hub tests depend on
// ABOUTME: Verifies partial updates, not-found errors, and injected failures

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_UpdateStatusIsPartial(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()
	seedServer(t, m, "srv-1", "key-1")

	players := 5
	require.NoError(t, m.UpdateStatus(ctx, "srv-1", StatusUpdate{Status: "online", PlayersOnline: &players}, time.Now()))

	got, err := m.GetServer(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, "online", got.Status)
	assert.Equal(t, 5, got.PlayersOnline)
	assert.Equal(t, 25565, got.Port)
}

func TestMockStore_NotFound(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	_, err := m.GetServerByAgentKey(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.SetConnected(ctx, "nope", true, time.Now()), ErrNotFound)
}

func TestMockStore_InjectedError(t *testing.T) {
	m := NewMockStore()
	boom := errors.New("disk on fire")
	m.Err = boom

	_, err := m.GetServerByAgentKey(context.Background(), "k")
	assert.ErrorIs(t, err, boom)
}
