package repositories_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/D0NMEGA/MoltGrid/internal/db"
	"github.com/D0NMEGA/MoltGrid/internal/repositories"
)

func setMemory(t *testing.T, repo repositories.MemoryRepository, agentID, key, value string, expiresAt *time.Time) *db.MemoryEntry {
	t.Helper()

	entry, err := repo.Set(context.Background(), &db.MemoryEntry{
		AgentID:   agentID,
		Namespace: db.DefaultNamespace,
		Key:       key,
		Value:     value,
		ExpiresAt: expiresAt,
	})
	require.NoError(t, err)
	return entry
}

func TestMemorySetAndGet(t *testing.T) {
	repo := repositories.NewMemoryRepository(newTestDB(t))
	ctx := context.Background()

	setMemory(t, repo, "agent_a", "color", "blue", nil)

	got, err := repo.Get(ctx, "agent_a", db.DefaultNamespace, "color")
	require.NoError(t, err)
	assert.Equal(t, "blue", got.Value)
	assert.Nil(t, got.ExpiresAt)

	_, err = repo.Get(ctx, "agent_a", db.DefaultNamespace, "missing")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestMemorySetOverwriteKeepsCreatedAt(t *testing.T) {
	repo := repositories.NewMemoryRepository(newTestDB(t))
	ctx := context.Background()

	first := setMemory(t, repo, "agent_a", "color", "blue", nil)
	second := setMemory(t, repo, "agent_a", "color", "green", nil)

	assert.Equal(t, "green", second.Value)
	assert.Equal(t, first.CreatedAt.Unix(), second.CreatedAt.Unix())

	got, err := repo.Get(ctx, "agent_a", db.DefaultNamespace, "color")
	require.NoError(t, err)
	assert.Equal(t, "green", got.Value)
}

func TestMemoryExpiredEntryIsInvisible(t *testing.T) {
	repo := repositories.NewMemoryRepository(newTestDB(t))
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	setMemory(t, repo, "agent_a", "stale", "old", &past)

	_, err := repo.Get(ctx, "agent_a", db.DefaultNamespace, "stale")
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	entries, err := repo.List(ctx, "agent_a", db.DefaultNamespace, "")
	require.NoError(t, err)
	assert.Empty(t, entries)

	err = repo.Delete(ctx, "agent_a", db.DefaultNamespace, "stale")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestMemorySetReplacesExpiredRow(t *testing.T) {
	repo := repositories.NewMemoryRepository(newTestDB(t))
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	setMemory(t, repo, "agent_a", "token", "old", &past)

	// Writing over a dead row behaves like a brand-new entry.
	fresh := setMemory(t, repo, "agent_a", "token", "new", nil)
	assert.Equal(t, "new", fresh.Value)
	assert.Nil(t, fresh.ExpiresAt)

	got, err := repo.Get(ctx, "agent_a", db.DefaultNamespace, "token")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Value)
}

func TestMemoryListPrefixEscapesWildcards(t *testing.T) {
	repo := repositories.NewMemoryRepository(newTestDB(t))
	ctx := context.Background()

	setMemory(t, repo, "agent_a", "a_b", "underscore", nil)
	setMemory(t, repo, "agent_a", "axb", "other", nil)
	setMemory(t, repo, "agent_a", "a_c", "underscore2", nil)

	// A literal underscore in the prefix must not act as a single-char
	// wildcard, so "a_" matches a_b and a_c but never axb.
	entries, err := repo.List(ctx, "agent_a", db.DefaultNamespace, "a_")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	keys := []string{entries[0].Key, entries[1].Key}
	assert.ElementsMatch(t, []string{"a_b", "a_c"}, keys)
}

func TestMemoryTenantIsolation(t *testing.T) {
	repo := repositories.NewMemoryRepository(newTestDB(t))
	ctx := context.Background()

	setMemory(t, repo, "agent_a", "shared-key", "a-value", nil)
	setMemory(t, repo, "agent_b", "shared-key", "b-value", nil)

	got, err := repo.Get(ctx, "agent_a", db.DefaultNamespace, "shared-key")
	require.NoError(t, err)
	assert.Equal(t, "a-value", got.Value)

	got, err = repo.Get(ctx, "agent_b", db.DefaultNamespace, "shared-key")
	require.NoError(t, err)
	assert.Equal(t, "b-value", got.Value)

	require.NoError(t, repo.Delete(ctx, "agent_a", db.DefaultNamespace, "shared-key"))

	_, err = repo.Get(ctx, "agent_a", db.DefaultNamespace, "shared-key")
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	// agent_b's row is untouched by agent_a's delete.
	got, err = repo.Get(ctx, "agent_b", db.DefaultNamespace, "shared-key")
	require.NoError(t, err)
	assert.Equal(t, "b-value", got.Value)
}

func TestMemoryNamespaceIsolation(t *testing.T) {
	repo := repositories.NewMemoryRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.Set(ctx, &db.MemoryEntry{
		AgentID: "agent_a", Namespace: "prod", Key: "cfg", Value: "v1",
	})
	require.NoError(t, err)
	_, err = repo.Set(ctx, &db.MemoryEntry{
		AgentID: "agent_a", Namespace: "staging", Key: "cfg", Value: "v2",
	})
	require.NoError(t, err)

	got, err := repo.Get(ctx, "agent_a", "prod", "cfg")
	require.NoError(t, err)
	assert.Equal(t, "v1", got.Value)

	entries, err := repo.List(ctx, "agent_a", "staging", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "v2", entries[0].Value)
}

func TestMemoryCountForAgent(t *testing.T) {
	repo := repositories.NewMemoryRepository(newTestDB(t))
	ctx := context.Background()

	setMemory(t, repo, "agent_a", "k1", "v", nil)
	setMemory(t, repo, "agent_a", "k2", "v", nil)
	past := time.Now().UTC().Add(-time.Minute)
	setMemory(t, repo, "agent_a", "dead", "v", &past)

	count, err := repo.CountForAgent(ctx, "agent_a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

// -----------------------------------------------------------------------------
// Shared memory
// -----------------------------------------------------------------------------

func TestSharedMemoryUpsertKeepsOwner(t *testing.T) {
	repo := repositories.NewSharedMemoryRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.Set(ctx, &db.SharedMemoryEntry{
		Namespace: "global", Key: "motd", Value: "hello", OwnerAgentID: "agent_a",
	})
	require.NoError(t, err)

	// A second writer updates the value but never steals ownership.
	updated, err := repo.Set(ctx, &db.SharedMemoryEntry{
		Namespace: "global", Key: "motd", Value: "updated", OwnerAgentID: "agent_b",
	})
	require.NoError(t, err)
	assert.Equal(t, "updated", updated.Value)
	assert.Equal(t, "agent_a", updated.OwnerAgentID)
}

func TestSharedMemoryDeleteRequiresOwner(t *testing.T) {
	repo := repositories.NewSharedMemoryRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.Set(ctx, &db.SharedMemoryEntry{
		Namespace: "global", Key: "motd", Value: "hello", OwnerAgentID: "agent_a",
	})
	require.NoError(t, err)

	err = repo.Delete(ctx, "global", "motd", "agent_b")
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	// The failed delete left the row alone.
	got, err := repo.Get(ctx, "global", "motd")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Value)

	require.NoError(t, repo.Delete(ctx, "global", "motd", "agent_a"))

	_, err = repo.Get(ctx, "global", "motd")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestSharedMemoryListNamespaces(t *testing.T) {
	repo := repositories.NewSharedMemoryRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.Set(ctx, &db.SharedMemoryEntry{
		Namespace: "alpha", Key: "k", Value: "v", OwnerAgentID: "agent_a",
	})
	require.NoError(t, err)
	_, err = repo.Set(ctx, &db.SharedMemoryEntry{
		Namespace: "beta", Key: "k", Value: "v", OwnerAgentID: "agent_a",
	})
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Minute)
	_, err = repo.Set(ctx, &db.SharedMemoryEntry{
		Namespace: "expired", Key: "k", Value: "v", OwnerAgentID: "agent_a", ExpiresAt: &past,
	})
	require.NoError(t, err)

	namespaces, err := repo.ListNamespaces(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, namespaces)
}
