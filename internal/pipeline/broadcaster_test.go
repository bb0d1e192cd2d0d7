package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amaclean2/Couloirs/internal/platform/presence"
	"github.com/amaclean2/Couloirs/pkg/relay"
)

// fakeConn records everything sent to it.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, payload)
	return nil
}

func (c *fakeConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

// fakeRegistry is a minimal relay.Registry for broadcaster tests.
type fakeRegistry struct {
	conns map[string]relay.Conn
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{conns: map[string]relay.Conn{}}
}

func (r *fakeRegistry) Register(userID string, conn relay.Conn, deviceToken string) {
	r.conns[userID] = conn
}

func (r *fakeRegistry) Unregister(userID string) {
	delete(r.conns, userID)
}

func (r *fakeRegistry) Lookup(userID string) (relay.Conn, bool) {
	conn, ok := r.conns[userID]
	return conn, ok
}

// fakeNotifier records notification batches.
type fakeNotifier struct {
	mu      sync.Mutex
	batches [][]string
	sender  string
	body    string
}

func (n *fakeNotifier) Notify(ctx context.Context, senderName, messageBody string, deviceTokens []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, append([]string(nil), deviceTokens...))
	n.sender = senderName
	n.body = messageBody
	return nil
}

type broadcasterFixture struct {
	broadcaster *Broadcaster
	registry    *fakeRegistry
	index       *memIndex
	tokens      relay.DeviceTokenCache
	notifier    *fakeNotifier
}

func newBroadcasterFixture(t *testing.T) *broadcasterFixture {
	t.Helper()
	registry := newFakeRegistry()
	index := newMemIndex()
	tokens := presence.NewMemoryTokenCache()
	notifier := &fakeNotifier{}
	return &broadcasterFixture{
		broadcaster: NewBroadcaster(registry, index, tokens, notifier, zerolog.Nop()),
		registry:    registry,
		index:       index,
		tokens:      tokens,
		notifier:    notifier,
	}
}

func TestBroadcast_FansOutToMembersOnly(t *testing.T) {
	fx := newBroadcasterFixture(t)
	member1, member2, outsider := &fakeConn{}, &fakeConn{}, &fakeConn{}
	fx.registry.Register("u1", member1, "")
	fx.registry.Register("u2", member2, "")
	fx.registry.Register("u3", outsider, "")
	fx.index.Replace("c1", []string{"u1", "u2"})

	envelope := relay.NewEnvelope(relay.KindSendMessage, map[string]any{"message": "hi"})
	fx.broadcaster.Broadcast(context.Background(), envelope, &Delivery{ConversationID: "c1"}, "u1")

	assert.Len(t, member1.received(), 1, "the sender receives their own message")
	assert.Len(t, member2.received(), 1)
	assert.Empty(t, outsider.received(), "non-members never see the frame")
}

func TestBroadcast_EmptyMemberSetBootstrapsTriggerUser(t *testing.T) {
	fx := newBroadcasterFixture(t)
	conn := &fakeConn{}
	fx.registry.Register("u1", conn, "")

	envelope := relay.NewEnvelope(relay.KindSendMessage, map[string]any{"message": "hi"})
	fx.broadcaster.Broadcast(context.Background(), envelope, &Delivery{ConversationID: "c-new"}, "u1")

	assert.Len(t, conn.received(), 1)
	assert.ElementsMatch(t, []string{"u1"}, fx.index.MembersOf("c-new"))
}

func TestBroadcast_InitialMembersReplaceExisting(t *testing.T) {
	fx := newBroadcasterFixture(t)
	fx.index.Replace("c1", []string{"stale"})
	conn := &fakeConn{}
	fx.registry.Register("u2", conn, "")

	envelope := relay.NewEnvelope(relay.KindCreateNewConversation, map[string]any{"conversation_exists": false})
	fx.broadcaster.Broadcast(context.Background(), envelope, &Delivery{
		ConversationID: "c1",
		InitialMembers: []string{"u1", "u2"},
	}, "u1")

	assert.ElementsMatch(t, []string{"u1", "u2"}, fx.index.MembersOf("c1"))
	assert.Len(t, conn.received(), 1)
}

func TestBroadcast_AddedUserJoinsFanOut(t *testing.T) {
	fx := newBroadcasterFixture(t)
	fx.index.Replace("c1", []string{"u1"})
	added := &fakeConn{}
	fx.registry.Register("u2", added, "")

	envelope := relay.NewEnvelope(relay.KindAddUserToConversation, map[string]any{"user_added": true})
	fx.broadcaster.Broadcast(context.Background(), envelope, &Delivery{
		ConversationID: "c1",
		AddedUserID:    "u2",
	}, "u1")

	assert.ElementsMatch(t, []string{"u1", "u2"}, fx.index.MembersOf("c1"))
	assert.Len(t, added.received(), 1, "the newly added user receives the announcement")
}

func TestBroadcast_OfflineMembersGetOnePushBatch(t *testing.T) {
	fx := newBroadcasterFixture(t)
	online := &fakeConn{}
	fx.registry.Register("u1", online, "")
	fx.index.Replace("c1", []string{"u1", "u2", "u3", "u4"})

	// u2 and u3 are offline with cached tokens, u4 is offline with none.
	require.NoError(t, fx.tokens.Set(context.Background(), "u2", "token-2"))
	require.NoError(t, fx.tokens.Set(context.Background(), "u3", "token-3"))

	envelope := relay.NewEnvelope(relay.KindSendMessage, map[string]any{"message": "hi"})
	fx.broadcaster.Broadcast(context.Background(), envelope, &Delivery{
		ConversationID: "c1",
		SenderName:     "Andrew",
		MessageBody:    "hi",
	}, "u1")

	require.Len(t, fx.notifier.batches, 1, "offline tokens go out in a single batch")
	assert.ElementsMatch(t, []string{"token-2", "token-3"}, fx.notifier.batches[0])
	assert.Equal(t, "Andrew", fx.notifier.sender)
	assert.Equal(t, "hi", fx.notifier.body)
}

func TestBroadcast_NoPushWithoutMessageContent(t *testing.T) {
	fx := newBroadcasterFixture(t)
	fx.index.Replace("c1", []string{"u1", "u2"})
	require.NoError(t, fx.tokens.Set(context.Background(), "u2", "token-2"))

	// Membership announcements have nothing to push.
	envelope := relay.NewEnvelope(relay.KindCreateNewConversation, map[string]any{"conversation_exists": false})
	fx.broadcaster.Broadcast(context.Background(), envelope, &Delivery{ConversationID: "c1"}, "u1")

	assert.Empty(t, fx.notifier.batches)
}

func TestBroadcast_DeadConnectionDoesNotStopFanOut(t *testing.T) {
	fx := newBroadcasterFixture(t)
	dead := &fakeConn{err: errors.New("connection closed")}
	alive := &fakeConn{}
	fx.registry.Register("u1", dead, "")
	fx.registry.Register("u2", alive, "")
	fx.index.Replace("c1", []string{"u1", "u2"})

	envelope := relay.NewEnvelope(relay.KindSendMessage, map[string]any{"message": "hi"})
	fx.broadcaster.Broadcast(context.Background(), envelope, &Delivery{ConversationID: "c1"}, "u1")

	assert.Len(t, alive.received(), 1)
}

func TestBroadcast_SerializesFlattenedEnvelope(t *testing.T) {
	fx := newBroadcasterFixture(t)
	conn := &fakeConn{}
	fx.registry.Register("u1", conn, "")
	fx.index.Replace("c1", []string{"u1"})

	envelope := relay.NewEnvelope(relay.KindSendMessage, map[string]any{
		"message": map[string]any{"message_body": "hi"},
	})
	fx.broadcaster.Broadcast(context.Background(), envelope, &Delivery{ConversationID: "c1"}, "u1")

	frames := conn.received()
	require.Len(t, frames, 1)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(frames[0], &decoded))
	assert.Equal(t, "sendMessage", decoded["request"])
	assert.Contains(t, decoded, "message")
}
