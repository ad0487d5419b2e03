package repositories_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/D0NMEGA/MoltGrid/internal/db"
	"github.com/D0NMEGA/MoltGrid/internal/repositories"
)

func createWebhook(t *testing.T, repo repositories.WebhookRepository, agentID string, events []string, active bool) *db.Webhook {
	t.Helper()

	wh := &db.Webhook{
		AgentID:    agentID,
		URL:        "https://example.com/hook",
		EventTypes: db.StringList(events),
		Active:     active,
	}
	require.NoError(t, repo.Create(context.Background(), wh))
	return wh
}

func TestWebhookListActiveForEvent(t *testing.T) {
	repo := repositories.NewWebhookRepository(newTestDB(t))
	ctx := context.Background()

	matching := createWebhook(t, repo, "agent_a", []string{"job.completed", "job.failed"}, true)
	createWebhook(t, repo, "agent_a", []string{"message.received"}, true)
	createWebhook(t, repo, "agent_a", []string{"job.completed"}, false)
	createWebhook(t, repo, "agent_b", []string{"job.completed"}, true)

	hooks, err := repo.ListActiveForEvent(ctx, "agent_a", "job.completed")
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	assert.Equal(t, matching.WebhookID, hooks[0].WebhookID)

	hooks, err = repo.ListActiveForEvent(ctx, "agent_a", "job.unknown")
	require.NoError(t, err)
	assert.Empty(t, hooks)
}

func TestWebhookDeleteScopedToOwner(t *testing.T) {
	repo := repositories.NewWebhookRepository(newTestDB(t))
	ctx := context.Background()

	wh := createWebhook(t, repo, "agent_a", []string{"job.completed"}, true)

	err := repo.Delete(ctx, wh.WebhookID, "agent_b")
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	require.NoError(t, repo.Delete(ctx, wh.WebhookID, "agent_a"))

	hooks, err := repo.ListForAgent(ctx, "agent_a")
	require.NoError(t, err)
	assert.Empty(t, hooks)
}

func TestWebhookCountActive(t *testing.T) {
	repo := repositories.NewWebhookRepository(newTestDB(t))
	ctx := context.Background()

	createWebhook(t, repo, "agent_a", []string{"job.completed"}, true)
	createWebhook(t, repo, "agent_a", []string{"job.failed"}, false)
	createWebhook(t, repo, "agent_b", []string{"job.completed"}, true)

	total, err := repo.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	mine, err := repo.CountActiveForAgent(ctx, "agent_a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), mine)
}
