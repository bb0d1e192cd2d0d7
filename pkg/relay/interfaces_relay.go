package relay

import "context"

// Conn is a live client connection capable of delivering one serialized
// payload. Implementations must be safe for concurrent Send calls.
type Conn interface {
	Send(payload []byte) error
}

// Registry is the single source of truth for which users are currently
// reachable. All operations are safe under concurrent access.
type Registry interface {
	// Register inserts or overwrites the entry for userID. A stale entry
	// from a previous connection is replaced, not merged.
	Register(userID string, conn Conn, deviceToken string)
	// Unregister removes the entry for userID; no-op if absent.
	Unregister(userID string)
	// Lookup returns the live connection for userID, if any.
	Lookup(userID string) (Conn, bool)
}

// MembershipIndex caches which users want live updates for a conversation.
// It is a local cache of subscription interest, not authoritative
// membership; the messaging service owns that.
type MembershipIndex interface {
	// Subscribe adds userID to the conversation's member set. Idempotent.
	Subscribe(conversationID, userID string)
	// Replace swaps the conversation's member set wholesale, used when a
	// newly created conversation reports its full user list.
	Replace(conversationID string, userIDs []string)
	// MembersOf returns the member set, empty if the conversation is
	// unknown. The returned slice is a copy.
	MembersOf(conversationID string) []string
}

// IdentityVerifier is the external identity collaborator: it resolves an
// opaque token to a stable user identifier or rejects it.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// MessagingService is the external collaborator that owns conversations and
// message persistence. Every call either returns a result or an error the
// relay treats as a recoverable failure.
type MessagingService interface {
	GetConversation(ctx context.Context, conversationID, userID string) ([]Message, error)
	GetConversationsPerUser(ctx context.Context, userID string) (map[string]Conversation, error)
	SendMessage(ctx context.Context, conversationID, senderID, messageBody string) (*Message, error)
	CreateConversation(ctx context.Context, userIDs []string) (*CreateConversationResult, error)
	ExpandConversation(ctx context.Context, userID, conversationID string) error
	SaveDeviceToken(ctx context.Context, userID, token string) error
}

// PushNotifier alerts devices of members with no live connection.
// Best-effort: callers log failures and never surface them.
type PushNotifier interface {
	Notify(ctx context.Context, senderName, messageBody string, deviceTokens []string) error
}

// DeviceTokenCache stores the push token a user presented at verification
// time so broadcast can reach them after their connection is gone.
type DeviceTokenCache interface {
	Set(ctx context.Context, userID, token string) error
	// Fetch returns ErrTokenNotFound when no token is cached.
	Fetch(ctx context.Context, userID string) (string, error)
	Delete(ctx context.Context, userID string) error
	Close() error
}
