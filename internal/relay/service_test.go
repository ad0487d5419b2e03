package relay_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/D0NMEGA/MoltGrid/internal/db"
	"github.com/D0NMEGA/MoltGrid/internal/fanout"
	"github.com/D0NMEGA/MoltGrid/internal/relay"
	"github.com/D0NMEGA/MoltGrid/internal/repositories"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := db.New(db.Config{
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "test.db"),
		Logger:   zap.NewNop(),
		LogLevel: gormlogger.Silent,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		sqlDB, err := gdb.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

func newService(t *testing.T) (*relay.Service, repositories.AgentRepository) {
	t.Helper()

	gdb := newTestDB(t)
	agents := repositories.NewAgentRepository(gdb)
	events := fanout.NewService(fanout.Config{
		Webhooks: repositories.NewWebhookRepository(gdb),
		Logger:   zap.NewNop(),
	})
	t.Cleanup(events.Shutdown)

	svc := relay.NewService(agents, repositories.NewMessageRepository(gdb), events, zap.NewNop())
	return svc, agents
}

func registerAgent(t *testing.T, agents repositories.AgentRepository, name string) string {
	t.Helper()

	agent := &db.Agent{
		Name:         name,
		APIKeyHash:   "hash-" + name,
		Capabilities: db.StringList{},
		Status:       "online",
		Metadata:     db.Document{},
	}
	require.NoError(t, agents.Create(context.Background(), agent))
	return agent.AgentID
}

func TestServiceSendAndInbox(t *testing.T) {
	svc, agents := newService(t)
	ctx := context.Background()

	sender := registerAgent(t, agents, "sender")
	recipient := registerAgent(t, agents, "recipient")

	msg, err := svc.Send(ctx, sender, recipient, "", "hello")
	require.NoError(t, err)
	assert.Equal(t, relay.DefaultChannel, msg.Channel)
	assert.NotEmpty(t, msg.MessageID)

	inbox, err := svc.Inbox(ctx, recipient, "", true)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "hello", inbox[0].Payload)
	assert.Equal(t, sender, inbox[0].FromAgent)
	assert.Nil(t, inbox[0].ReadAt)

	// The sender's own inbox stays empty.
	inbox, err = svc.Inbox(ctx, sender, "", false)
	require.NoError(t, err)
	assert.Empty(t, inbox)
}

func TestServiceSendUnknownRecipient(t *testing.T) {
	svc, agents := newService(t)
	ctx := context.Background()

	sender := registerAgent(t, agents, "sender")

	_, err := svc.Send(ctx, sender, "agent_missing", "", "hello")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestServiceMarkRead(t *testing.T) {
	svc, agents := newService(t)
	ctx := context.Background()

	sender := registerAgent(t, agents, "sender")
	recipient := registerAgent(t, agents, "recipient")

	msg, err := svc.Send(ctx, sender, recipient, "alerts", "ping")
	require.NoError(t, err)

	// Only the recipient may acknowledge.
	err = svc.MarkRead(ctx, msg.MessageID, sender)
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	require.NoError(t, svc.MarkRead(ctx, msg.MessageID, recipient))

	unread, err := svc.Inbox(ctx, recipient, "", true)
	require.NoError(t, err)
	assert.Empty(t, unread)

	all, err := svc.Inbox(ctx, recipient, "", false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.NotNil(t, all[0].ReadAt)
}
