// Package relay contains the public domain models, interfaces, and error
// taxonomy for the relay service. It defines the contract for interacting
// with the service and its external collaborators.
package relay

import "encoding/json"

// Kind identifies an inbound request type on the wire.
type Kind string

const (
	KindVerifyUser            Kind = "verifyUser"
	KindGetAllConversations   Kind = "getAllConversations"
	KindGetConversation       Kind = "getConversation"
	KindSendMessage           Kind = "sendMessage"
	KindCreateNewConversation Kind = "createNewConversation"
	KindAddUserToConversation Kind = "addUserToConversation"
)

// Request is the parsed inbound frame. Every frame carries a token; the
// remaining fields are type-specific and validated by the dispatcher.
type Request struct {
	Type  Kind   `json:"type"`
	Token string `json:"token"`

	DeviceToken    string `json:"deviceToken,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	MessageBody    string `json:"messageBody,omitempty"`
	SenderName     string `json:"senderName,omitempty"`
	UserID         string `json:"userId,omitempty"`

	// UserIDs uses pointer elements so JSON nulls inside the array survive
	// parsing and can be rejected during validation.
	UserIDs []*string `json:"userIds,omitempty"`
}

// ConnectionInfo holds details about a user's live connection. The device
// token stays in-process; it never serializes into status payloads.
type ConnectionInfo struct {
	ConnectedAt int64  `json:"connectedAt"`
	DeviceToken string `json:"-"`
}

// ConversationUser is a single participant entry in a conversation payload.
type ConversationUser struct {
	UserID string `json:"user_id"`
}

// Conversation is the messaging service's conversation record as it appears
// in relay responses.
type Conversation struct {
	ConversationID string             `json:"conversation_id"`
	Users          []ConversationUser `json:"users,omitempty"`
	LastMessage    string             `json:"last_message"`
	Unread         bool               `json:"unread"`
}

// Message is a stored chat message as returned by the messaging service.
// AppliedTokens carries the device tokens the service resolved for the
// conversation's members; the relay treats it as informational.
type Message struct {
	MessageID      string   `json:"message_id,omitempty"`
	ConversationID string   `json:"conversation_id"`
	SenderID       string   `json:"sender_id,omitempty"`
	MessageBody    string   `json:"message_body"`
	SenderName     string   `json:"sender_name,omitempty"`
	AppliedTokens  []string `json:"applied_tokens,omitempty"`
}

// CreateConversationResult is the messaging service's reply to a
// createConversation call.
type CreateConversationResult struct {
	ConversationID string        `json:"conversation_id"`
	Exists         bool          `json:"conversation_exists"`
	Conversation   *Conversation `json:"conversation,omitempty"`
}

// Envelope is the uniform outbound response shape: the originating request
// type plus either a success payload or an error message, never both.
type Envelope struct {
	Request Kind
	Payload map[string]any
}

// NewEnvelope wraps a success payload for the given request type.
func NewEnvelope(kind Kind, payload map[string]any) Envelope {
	return Envelope{Request: kind, Payload: payload}
}

// NewErrorEnvelope wraps an error message for the given request type.
func NewErrorEnvelope(kind Kind, message string) Envelope {
	return Envelope{Request: kind, Payload: map[string]any{"error": message}}
}

// IsError reports whether the envelope carries an error payload.
func (e Envelope) IsError() bool {
	_, ok := e.Payload["error"]
	return ok
}

// MarshalJSON flattens the payload beside the "request" key, producing the
// `{request: <type>, ...payload}` wire shape.
func (e Envelope) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Payload)+1)
	for k, v := range e.Payload {
		out[k] = v
	}
	if e.Request != "" {
		out["request"] = e.Request
	}
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON; it exists mainly for tests and fakes
// that need to inspect delivered frames.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if req, ok := raw["request"].(string); ok {
		e.Request = Kind(req)
		delete(raw, "request")
	}
	e.Payload = raw
	return nil
}
