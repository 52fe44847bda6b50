package repositories

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/db"
	"chat-realtime/internal/models"
)

// openTestDB connects to TEST_DB_DSN; the tests are skipped without it.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	conn, err := db.Connect(context.Background(), dsn, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func uid(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func TestDirectChatIsCreatedOnce(t *testing.T) {
	conn := openTestDB(t)
	repo := NewChatRepo(conn)
	ctx := context.Background()
	a, b := uid("a"), uid("b")

	first, created, err := repo.AccessDirectChat(ctx, a, b)
	require.NoError(t, err)
	assert.True(t, created)
	assert.ElementsMatch(t, []string{a, b}, first.Users)

	second, created, err := repo.AccessDirectChat(ctx, b, a)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	_, _, err = repo.AccessDirectChat(ctx, a, a)
	assert.ErrorIs(t, err, ErrSelfChat)
}

func TestGroupChatMembership(t *testing.T) {
	conn := openTestDB(t)
	repo := NewChatRepo(conn)
	ctx := context.Background()
	admin, u1, u2, u3 := uid("admin"), uid("u1"), uid("u2"), uid("u3")

	_, err := repo.CreateGroupChat(ctx, "tiny", admin, []string{u1})
	assert.ErrorIs(t, err, ErrGroupTooSmall)

	group, err := repo.CreateGroupChat(ctx, "team", admin, []string{u1, u2})
	require.NoError(t, err)
	assert.True(t, group.IsGroupChat)
	assert.Equal(t, admin, group.GroupAdmin)
	assert.Len(t, group.Users, 3)

	group, err = repo.AddToGroup(ctx, group.ID, u3)
	require.NoError(t, err)
	assert.True(t, group.HasUser(u3))

	group, err = repo.RemoveFromGroup(ctx, group.ID, u1)
	require.NoError(t, err)
	assert.False(t, group.HasUser(u1))

	group, err = repo.RenameGroup(ctx, group.ID, "renamed")
	require.NoError(t, err)
	assert.Equal(t, "renamed", group.ChatName)

	ok, err := repo.IsParticipant(ctx, group.ID, u2)
	require.NoError(t, err)
	assert.True(t, ok)

	chats, err := repo.ListChats(ctx, u3)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, group.ID, chats[0].ID)

	_, err = repo.Participants(ctx, uid("missing"))
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestMessagesKeepStoreOrderAndReadState(t *testing.T) {
	conn := openTestDB(t)
	chats := NewChatRepo(conn)
	msgs := NewMessageRepo(conn)
	ctx := context.Background()
	a, b := uid("a"), uid("b")

	chat, _, err := chats.AccessDirectChat(ctx, a, b)
	require.NoError(t, err)

	m1, err := msgs.CreateMessage(ctx, models.NewMessage{ChatID: chat.ID, SenderID: a, Content: "one"})
	require.NoError(t, err)
	m2, err := msgs.CreateMessage(ctx, models.NewMessage{ChatID: chat.ID, SenderID: a, Content: "two"})
	require.NoError(t, err)
	require.NoError(t, chats.SetLatestMessage(ctx, chat.ID, m2.ID))

	list, err := msgs.ListChatMessages(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, m1.ID, list[0].ID)
	assert.Equal(t, m2.ID, list[1].ID)

	n, err := msgs.MarkChatRead(ctx, chat.ID, b)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	n, err = msgs.MarkChatRead(ctx, chat.ID, b)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	got, err := msgs.GetMessage(ctx, m1.ID)
	require.NoError(t, err)
	assert.Contains(t, []string(got.ReadBy), b)

	assert.ErrorIs(t, msgs.DeleteMessage(ctx, m2.ID, b), ErrNotSender)
	require.NoError(t, msgs.DeleteMessage(ctx, m2.ID, a))
	_, err = msgs.GetMessage(ctx, m2.ID)
	assert.ErrorIs(t, err, ErrMessageNotFound)

	reloaded, err := chats.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded.LatestMessageID)
}
