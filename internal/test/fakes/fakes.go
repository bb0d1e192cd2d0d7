// Package fakes provides in-memory test doubles for the relay's external
// collaborators. These are used in the cmd local entrypoint and in
// integration tests.
package fakes

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amaclean2/Couloirs/pkg/relay"
)

// --- Identity ---

// Verifier resolves tokens from a fixed table. Implements
// relay.IdentityVerifier.
type Verifier struct {
	mu    sync.RWMutex
	users map[string]string // token -> userID
}

func NewVerifier() *Verifier {
	return &Verifier{users: make(map[string]string)}
}

// Allow registers a token as resolving to userID.
func (v *Verifier) Allow(token, userID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.users[token] = userID
}

func (v *Verifier) Verify(_ context.Context, token string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	userID, ok := v.users[token]
	if !ok {
		return "", fmt.Errorf("token is invalid or expired")
	}
	return userID, nil
}

// --- Messaging Service ---

// MessagingService is an in-memory stand-in for the real messaging
// service: conversations, messages and device tokens all live in maps.
// Implements relay.MessagingService.
type MessagingService struct {
	mu            sync.Mutex
	logger        zerolog.Logger
	conversations map[string]*relay.Conversation
	messages      map[string][]relay.Message
	deviceTokens  map[string]string
	byUserSet     map[string]string // sorted member list -> conversationID
}

func NewMessagingService(logger zerolog.Logger) *MessagingService {
	return &MessagingService{
		logger:        logger.With().Str("component", "FakeMessagingService").Logger(),
		conversations: make(map[string]*relay.Conversation),
		messages:      make(map[string][]relay.Message),
		deviceTokens:  make(map[string]string),
		byUserSet:     make(map[string]string),
	}
}

func (m *MessagingService) GetConversation(_ context.Context, conversationID, _ string) ([]relay.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[conversationID]; !ok {
		return nil, fmt.Errorf("conversation %s does not exist", conversationID)
	}
	return append([]relay.Message(nil), m.messages[conversationID]...), nil
}

func (m *MessagingService) GetConversationsPerUser(_ context.Context, userID string) (map[string]relay.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]relay.Conversation)
	for id, conv := range m.conversations {
		for _, u := range conv.Users {
			if u.UserID == userID {
				out[id] = *conv
				break
			}
		}
	}
	return out, nil
}

func (m *MessagingService) SendMessage(_ context.Context, conversationID, senderID, messageBody string) (*relay.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[conversationID]; !ok {
		return nil, fmt.Errorf("conversation %s does not exist", conversationID)
	}
	message := relay.Message{
		MessageID:      uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		MessageBody:    messageBody,
	}
	m.messages[conversationID] = append(m.messages[conversationID], message)
	m.conversations[conversationID].LastMessage = messageBody
	return &message, nil
}

func (m *MessagingService) CreateConversation(_ context.Context, userIDs []string) (*relay.CreateConversationResult, error) {
	if len(userIDs) == 0 {
		return nil, fmt.Errorf("no users provided")
	}
	key := memberKey(userIDs)

	m.mu.Lock()
	defer m.mu.Unlock()
	if existingID, ok := m.byUserSet[key]; ok {
		return &relay.CreateConversationResult{
			ConversationID: existingID,
			Exists:         true,
			Conversation:   m.conversations[existingID],
		}, nil
	}

	conv := &relay.Conversation{ConversationID: uuid.NewString()}
	for _, id := range userIDs {
		conv.Users = append(conv.Users, relay.ConversationUser{UserID: id})
	}
	m.conversations[conv.ConversationID] = conv
	m.byUserSet[key] = conv.ConversationID
	m.logger.Info().Str("conversation", conv.ConversationID).Msg("[FAKE] Conversation created")
	return &relay.CreateConversationResult{ConversationID: conv.ConversationID}, nil
}

func (m *MessagingService) ExpandConversation(_ context.Context, userID, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s does not exist", conversationID)
	}
	for _, u := range conv.Users {
		if u.UserID == userID {
			return nil
		}
	}
	conv.Users = append(conv.Users, relay.ConversationUser{UserID: userID})
	return nil
}

func (m *MessagingService) SaveDeviceToken(_ context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Duplicate saves are a no-op, mirroring the real service.
	m.deviceTokens[userID] = token
	return nil
}

// SavedDeviceToken reports the token stored for a user, for assertions.
func (m *MessagingService) SavedDeviceToken(userID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.deviceTokens[userID]
	return token, ok
}

func memberKey(userIDs []string) string {
	sorted := append([]string(nil), userIDs...)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}

// --- Push Notifier ---

// Notice is one recorded push notification.
type Notice struct {
	SenderName   string
	MessageBody  string
	DeviceTokens []string
}

// PushNotifier records notifications instead of sending them. Implements
// relay.PushNotifier.
type PushNotifier struct {
	mu      sync.Mutex
	logger  zerolog.Logger
	notices []Notice
}

func NewPushNotifier(logger zerolog.Logger) *PushNotifier {
	return &PushNotifier{logger: logger}
}

func (p *PushNotifier) Notify(_ context.Context, senderName, messageBody string, deviceTokens []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger.Info().Int("tokens", len(deviceTokens)).Msg("[FAKE] Notify called.")
	p.notices = append(p.notices, Notice{
		SenderName:   senderName,
		MessageBody:  messageBody,
		DeviceTokens: deviceTokens,
	})
	return nil
}

// Notices returns a copy of everything recorded so far.
func (p *PushNotifier) Notices() []Notice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Notice(nil), p.notices...)
}
