package realtime

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amaclean2/Couloirs/internal/pipeline"
	"github.com/amaclean2/Couloirs/internal/platform/presence"
	"github.com/amaclean2/Couloirs/internal/test/fakes"
	"github.com/amaclean2/Couloirs/pkg/relay"
)

// harness spins up a real websocket server wired to in-memory fakes.
type harness struct {
	server    *httptest.Server
	verifier  *fakes.Verifier
	messaging *fakes.MessagingService
	notifier  *fakes.PushNotifier
	tokens    relay.DeviceTokenCache
	registry  *Registry
	index     *MembershipIndex
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, nil)
}

// newHarnessWith allows tests to interpose on the messaging service.
func newHarnessWith(t *testing.T, wrap func(relay.MessagingService) relay.MessagingService) *harness {
	t.Helper()
	logger := zerolog.Nop()

	h := &harness{
		verifier:  fakes.NewVerifier(),
		messaging: fakes.NewMessagingService(logger),
		notifier:  fakes.NewPushNotifier(logger),
		tokens:    presence.NewMemoryTokenCache(),
		registry:  NewRegistry(),
		index:     NewMembershipIndex(),
	}

	var messaging relay.MessagingService = h.messaging
	if wrap != nil {
		messaging = wrap(h.messaging)
	}
	dispatcher := pipeline.NewDispatcher(messaging, h.index, h.tokens, logger)
	broadcaster := pipeline.NewBroadcaster(h.registry, h.index, h.tokens, h.notifier, logger)
	manager := NewConnectionManager(h.verifier, dispatcher, broadcaster, h.registry, logger)

	h.server = httptest.NewServer(manager)
	t.Cleanup(h.server.Close)
	return h
}

// client is one websocket connection to the harness server.
type client struct {
	t  *testing.T
	ws *websocket.Conn
}

func (h *harness) dial(t *testing.T) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return &client{t: t, ws: ws}
}

func (c *client) send(frame map[string]any) {
	c.t.Helper()
	require.NoError(c.t, c.ws.WriteJSON(frame))
}

func (c *client) sendRaw(data string) {
	c.t.Helper()
	require.NoError(c.t, c.ws.WriteMessage(websocket.TextMessage, []byte(data)))
}

func (c *client) read() map[string]any {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]any
	require.NoError(c.t, c.ws.ReadJSON(&frame))
	return frame
}

func (c *client) close() {
	c.t.Helper()
	require.NoError(c.t, c.ws.Close())
}

// verify authenticates a client and waits for the acknowledgement.
func (c *client) verify(token, deviceToken string) {
	c.t.Helper()
	frame := map[string]any{"type": "verifyUser", "token": token}
	if deviceToken != "" {
		frame["deviceToken"] = deviceToken
	}
	c.send(frame)
	resp := c.read()
	require.Equal(c.t, true, resp["userJoined"])
}

func TestServeWS_MalformedFrameKeepsConnectionOpen(t *testing.T) {
	h := newHarness(t)
	h.verifier.Allow("tok-1", "u1")
	c := h.dial(t)

	c.sendRaw("this is not json")
	resp := c.read()
	assert.Equal(t, "malformed request", resp["error"])

	// The same connection can still authenticate afterwards.
	c.verify("tok-1", "")
}

func TestServeWS_MissingToken(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	c.send(map[string]any{"type": "sendMessage", "conversationId": "c1", "messageBody": "hi", "senderName": "A"})
	resp := c.read()

	assert.Equal(t, "missing token", resp["error"])
	assert.Equal(t, "sendMessage", resp["request"])
	_, registered := h.registry.Lookup("u1")
	assert.False(t, registered)
}

func TestServeWS_InvalidToken(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	c.send(map[string]any{"type": "verifyUser", "token": "bogus"})
	resp := c.read()

	assert.Equal(t, "invalid or expired token", resp["error"])
	assert.Empty(t, h.index.MembersOf("c1"))
}

func TestServeWS_VerifyUserRegistersAndStoresDeviceToken(t *testing.T) {
	h := newHarness(t)
	h.verifier.Allow("tok-1", "u1")
	c := h.dial(t)

	c.verify("tok-1", "device-1")

	_, registered := h.registry.Lookup("u1")
	assert.True(t, registered)

	saved, ok := h.messaging.SavedDeviceToken("u1")
	require.True(t, ok)
	assert.Equal(t, "device-1", saved)

	cached, err := h.tokens.Fetch(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "device-1", cached)
}

func TestServeWS_UnknownTypeEchoesRequest(t *testing.T) {
	h := newHarness(t)
	h.verifier.Allow("tok-1", "u1")
	c := h.dial(t)
	c.verify("tok-1", "")

	c.send(map[string]any{"type": "somethingElse", "token": "tok-1"})
	resp := c.read()

	assert.Equal(t, "somethingElse", resp["request"])
	assert.Equal(t, "no message type provided", resp["error"])
}

func TestServeWS_CreateConversationReachesAllMembers(t *testing.T) {
	h := newHarness(t)
	h.verifier.Allow("tok-1", "u1")
	h.verifier.Allow("tok-2", "u2")

	caller := h.dial(t)
	caller.verify("tok-1", "")
	other := h.dial(t)
	other.verify("tok-2", "")

	caller.send(map[string]any{
		"type":    "createNewConversation",
		"token":   "tok-1",
		"userIds": []string{"u2"},
	})

	callerResp := caller.read()
	otherResp := other.read()
	for _, resp := range []map[string]any{callerResp, otherResp} {
		assert.Equal(t, "createNewConversation", resp["request"])
		assert.Equal(t, false, resp["conversation_exists"])
		assert.NotEmpty(t, resp["conversations"])
	}
}

func TestServeWS_RecreatingConversationOnlyAnswersCaller(t *testing.T) {
	h := newHarness(t)
	h.verifier.Allow("tok-1", "u1")
	h.verifier.Allow("tok-2", "u2")

	caller := h.dial(t)
	caller.verify("tok-1", "")
	other := h.dial(t)
	other.verify("tok-2", "")

	create := map[string]any{"type": "createNewConversation", "token": "tok-1", "userIds": []string{"u2"}}
	caller.send(create)
	caller.read()
	other.read()

	caller.send(create)
	resp := caller.read()
	assert.Equal(t, true, resp["conversation_exists"])

	// The other member gets nothing the second time around.
	require.NoError(t, other.ws.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var frame map[string]any
	assert.Error(t, other.ws.ReadJSON(&frame))
}

func TestServeWS_SendMessagePushesToOfflineMembers(t *testing.T) {
	h := newHarness(t)
	h.verifier.Allow("tok-1", "u1")
	h.verifier.Allow("tok-2", "u2")

	caller := h.dial(t)
	caller.verify("tok-1", "")
	other := h.dial(t)
	other.verify("tok-2", "device-2")

	caller.send(map[string]any{"type": "createNewConversation", "token": "tok-1", "userIds": []string{"u2"}})
	created := caller.read()
	other.read()

	conversations, ok := created["conversations"].([]any)
	require.True(t, ok)
	require.Len(t, conversations, 1)
	conversationID := conversations[0].(map[string]any)["conversation_id"].(string)

	// u2 drops; their registry entry goes but the membership entry stays.
	other.close()
	require.Eventually(t, func() bool {
		_, registered := h.registry.Lookup("u2")
		return !registered
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, h.index.MembersOf(conversationID), "u2")

	caller.send(map[string]any{
		"type":           "sendMessage",
		"token":          "tok-1",
		"conversationId": conversationID,
		"messageBody":    "are you around?",
		"senderName":     "Andrew",
	})
	resp := caller.read()
	require.Equal(t, "sendMessage", resp["request"])
	require.NotNil(t, resp["message"])

	notices := h.notifier.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, "Andrew", notices[0].SenderName)
	assert.Equal(t, "are you around?", notices[0].MessageBody)
	assert.ElementsMatch(t, []string{"device-2"}, notices[0].DeviceTokens)
}

func TestServeWS_ReconnectReplacesRegistryEntry(t *testing.T) {
	h := newHarness(t)
	h.verifier.Allow("tok-1", "u1")
	h.verifier.Allow("tok-2", "u2")

	stale := h.dial(t)
	stale.verify("tok-2", "")
	fresh := h.dial(t)
	fresh.verify("tok-2", "")

	caller := h.dial(t)
	caller.verify("tok-1", "")
	caller.send(map[string]any{"type": "createNewConversation", "token": "tok-1", "userIds": []string{"u2"}})
	caller.read()

	// Only the most recent connection for u2 receives the broadcast.
	resp := fresh.read()
	assert.Equal(t, "createNewConversation", resp["request"])
	require.NoError(t, stale.ws.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var frame map[string]any
	assert.Error(t, stale.ws.ReadJSON(&frame))
}

// slowConversations delays conversation listing so that a later, faster
// request could overtake it if frames were handled concurrently.
type slowConversations struct {
	relay.MessagingService
	delay time.Duration
}

func (s *slowConversations) GetConversationsPerUser(ctx context.Context, userID string) (map[string]relay.Conversation, error) {
	time.Sleep(s.delay)
	return s.MessagingService.GetConversationsPerUser(ctx, userID)
}

func TestServeWS_ResponsesPreserveRequestOrder(t *testing.T) {
	h := newHarnessWith(t, func(m relay.MessagingService) relay.MessagingService {
		return &slowConversations{MessagingService: m, delay: 150 * time.Millisecond}
	})
	h.verifier.Allow("tok-1", "u1")
	c := h.dial(t)
	c.verify("tok-1", "")

	c.send(map[string]any{"type": "getAllConversations", "token": "tok-1"})
	c.send(map[string]any{"type": "createNewConversation", "token": "tok-1", "userIds": []string{"u2"}})

	first := c.read()
	second := c.read()
	assert.Equal(t, "getAllConversations", first["request"])
	assert.Equal(t, "createNewConversation", second["request"])
}

func TestServeWS_DisconnectBeforeAuthIsClean(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)
	c.close()

	// Nothing to unregister and nothing registered.
	assert.Eventually(t, func() bool {
		_, registered := h.registry.Lookup("u1")
		return !registered
	}, time.Second, 10*time.Millisecond)
}
