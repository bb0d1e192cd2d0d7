package pipeline

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/amaclean2/Couloirs/pkg/relay"
)

// Collaborator failure messages, matched to what clients already expect.
const (
	msgNoMessageType      = "no message type provided"
	msgCouldNotSend       = "Could not send message"
	msgCouldNotCreate     = "could not create a new conversation"
	msgNeedTwoUsers       = "at least two users need to be added to a conversation"
	msgCallerAlreadyAdded = "the calling user is already part of the conversation"
	msgNeedUserAndConv    = "a userId and a conversationId need to be specified to add the user to the conversation"
	msgNeedConversationID = "a conversationId needs to be specified to get a conversation"
	msgNeedMessageFields  = "a conversationId, a messageBody and a senderName are needed to send a message"
	msgCouldNotSaveToken  = "could not save the device token"
)

// Delivery describes the fan-out a successful response requires. A nil
// Delivery means the response goes only to the requesting connection.
type Delivery struct {
	ConversationID string
	// InitialMembers, when non-nil, replaces the conversation's membership
	// before fan-out (newly created conversation).
	InitialMembers []string
	// AddedUserID, when set, is appended to the membership before fan-out.
	AddedUserID string
	// SenderName and MessageBody feed the push notifier for members with a
	// device token but no live connection. Empty for non-message fan-outs.
	SenderName  string
	MessageBody string
}

// handlerFunc is one entry in the dispatch table.
type handlerFunc func(ctx context.Context, userID string, req *relay.Request) (relay.Envelope, *Delivery)

// failure converts a classified relay error into the caller-only error
// envelope for the given request type.
func failure(kind relay.Kind, rerr *relay.Error) (relay.Envelope, *Delivery) {
	return relay.NewErrorEnvelope(kind, rerr.Message), nil
}

// Dispatcher maps a validated request's type to a handler, invokes the
// messaging-service call for that type, and normalizes success and failure
// into the uniform envelope shape. Field validation happens before any
// collaborator call; collaborator failures are caught here and converted to
// error envelopes, never propagated.
type Dispatcher struct {
	messaging relay.MessagingService
	index     relay.MembershipIndex
	tokens    relay.DeviceTokenCache
	logger    zerolog.Logger
	handlers  map[relay.Kind]handlerFunc
}

// NewDispatcher wires the dispatch table.
func NewDispatcher(
	messaging relay.MessagingService,
	index relay.MembershipIndex,
	tokens relay.DeviceTokenCache,
	logger zerolog.Logger,
) *Dispatcher {
	d := &Dispatcher{
		messaging: messaging,
		index:     index,
		tokens:    tokens,
		logger:    logger.With().Str("component", "Dispatcher").Logger(),
	}
	d.handlers = map[relay.Kind]handlerFunc{
		relay.KindVerifyUser:            d.handleVerifyUser,
		relay.KindGetAllConversations:   d.handleGetAllConversations,
		relay.KindGetConversation:       d.handleGetConversation,
		relay.KindSendMessage:           d.handleSendMessage,
		relay.KindCreateNewConversation: d.handleCreateNewConversation,
		relay.KindAddUserToConversation: d.handleAddUserToConversation,
	}
	return d
}

// Dispatch routes one authenticated request. Unrecognized types produce an
// error envelope without touching any collaborator or local state.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, req *relay.Request) (relay.Envelope, *Delivery) {
	handler, ok := d.handlers[req.Type]
	if !ok {
		return failure(req.Type, relay.NewError(relay.ErrorValidation, msgNoMessageType))
	}
	return handler(ctx, userID, req)
}

func (d *Dispatcher) handleVerifyUser(ctx context.Context, userID string, req *relay.Request) (relay.Envelope, *Delivery) {
	if req.DeviceToken != "" {
		// Duplicate registration is a no-op on the service side, not an
		// error, so this is safe to repeat on every reconnect.
		d.logger.Info().Str("user", userID).Msg("Saving device token")
		if err := d.messaging.SaveDeviceToken(ctx, userID, req.DeviceToken); err != nil {
			d.logger.Error().Err(err).Str("user", userID).Msg("Failed to save device token")
			return failure(req.Type, relay.NewError(relay.ErrorCollaborator, msgCouldNotSaveToken))
		}
		if err := d.tokens.Set(ctx, userID, req.DeviceToken); err != nil {
			d.logger.Warn().Err(err).Str("user", userID).Msg("Failed to cache device token")
		}
	}
	return relay.NewEnvelope(req.Type, map[string]any{"userJoined": true}), nil
}

func (d *Dispatcher) handleGetAllConversations(ctx context.Context, userID string, req *relay.Request) (relay.Envelope, *Delivery) {
	d.logger.Info().Str("user", userID).Msg("Getting conversations")
	conversations, err := d.messaging.GetConversationsPerUser(ctx, userID)
	if err != nil {
		d.logger.Error().Err(err).Str("user", userID).Msg("Failed to get conversations")
		return failure(req.Type, relay.NewError(relay.ErrorCollaborator, "Conversations not found for user %s", userID))
	}
	// The result names every conversation this user belongs to; subscribe
	// them for live updates on each.
	for conversationID := range conversations {
		d.index.Subscribe(conversationID, userID)
	}
	return relay.NewEnvelope(req.Type, map[string]any{"conversations": conversations}), nil
}

func (d *Dispatcher) handleGetConversation(ctx context.Context, userID string, req *relay.Request) (relay.Envelope, *Delivery) {
	if req.ConversationID == "" {
		return failure(req.Type, relay.NewError(relay.ErrorValidation, msgNeedConversationID))
	}
	d.logger.Info().Str("conversation", req.ConversationID).Msg("Getting conversation")
	messages, err := d.messaging.GetConversation(ctx, req.ConversationID, userID)
	if err != nil {
		d.logger.Error().Err(err).Str("conversation", req.ConversationID).Msg("Failed to get conversation")
		return failure(req.Type, relay.NewError(relay.ErrorCollaborator, "No conversation found for id %s", req.ConversationID))
	}
	d.index.Subscribe(req.ConversationID, userID)
	return relay.NewEnvelope(req.Type, map[string]any{"messages": messages}), nil
}

func (d *Dispatcher) handleSendMessage(ctx context.Context, userID string, req *relay.Request) (relay.Envelope, *Delivery) {
	if req.ConversationID == "" || req.MessageBody == "" || req.SenderName == "" {
		return failure(req.Type, relay.NewError(relay.ErrorValidation, msgNeedMessageFields))
	}
	d.logger.Info().Str("conversation", req.ConversationID).Str("sender", userID).Msg("Sending message")
	message, err := d.messaging.SendMessage(ctx, req.ConversationID, userID, req.MessageBody)
	if err != nil {
		d.logger.Error().Err(err).Str("conversation", req.ConversationID).Msg("Failed to send message")
		return failure(req.Type, relay.NewError(relay.ErrorCollaborator, msgCouldNotSend))
	}
	// The stored message echoes back with the sender's display name.
	message.SenderName = req.SenderName
	envelope := relay.NewEnvelope(req.Type, map[string]any{"message": message})
	return envelope, &Delivery{
		ConversationID: req.ConversationID,
		SenderName:     req.SenderName,
		MessageBody:    req.MessageBody,
	}
}

func (d *Dispatcher) handleCreateNewConversation(ctx context.Context, userID string, req *relay.Request) (relay.Envelope, *Delivery) {
	if len(req.UserIDs) == 0 {
		return failure(req.Type, relay.NewError(relay.ErrorValidation, msgNeedTwoUsers))
	}
	userIDs := make([]string, 0, len(req.UserIDs)+1)
	for _, id := range req.UserIDs {
		if id == nil || *id == "" {
			return failure(req.Type, relay.NewError(relay.ErrorValidation, msgNeedTwoUsers))
		}
		if *id == userID {
			return failure(req.Type, relay.NewError(relay.ErrorValidation, msgCallerAlreadyAdded))
		}
		userIDs = append(userIDs, *id)
	}
	// The caller joins their own conversation, appended exactly once.
	userIDs = append(userIDs, userID)

	d.logger.Info().Strs("userIds", userIDs).Msg("Creating conversation")
	result, err := d.messaging.CreateConversation(ctx, userIDs)
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to create conversation")
		return failure(req.Type, relay.NewError(relay.ErrorCollaborator, msgCouldNotCreate))
	}

	conversation := result.Conversation
	if conversation == nil {
		users := make([]relay.ConversationUser, 0, len(userIDs))
		for _, id := range userIDs {
			users = append(users, relay.ConversationUser{UserID: id})
		}
		conversation = &relay.Conversation{
			ConversationID: result.ConversationID,
			Users:          users,
		}
	}
	envelope := relay.NewEnvelope(req.Type, map[string]any{
		"conversations":       []*relay.Conversation{conversation},
		"conversation_exists": result.Exists,
	})

	if result.Exists {
		// The conversation already existed; its members were already told
		// about it, so only the caller gets the acknowledgement.
		return envelope, nil
	}
	return envelope, &Delivery{
		ConversationID: conversation.ConversationID,
		InitialMembers: userIDs,
	}
}

func (d *Dispatcher) handleAddUserToConversation(ctx context.Context, userID string, req *relay.Request) (relay.Envelope, *Delivery) {
	if req.UserID == "" || req.ConversationID == "" {
		return failure(req.Type, relay.NewError(relay.ErrorValidation, msgNeedUserAndConv))
	}
	d.logger.Info().Str("user", req.UserID).Str("conversation", req.ConversationID).Msg("Adding user to conversation")
	if err := d.messaging.ExpandConversation(ctx, req.UserID, req.ConversationID); err != nil {
		d.logger.Error().Err(err).Str("conversation", req.ConversationID).Msg("Failed to expand conversation")
		return failure(req.Type, relay.NewError(relay.ErrorCollaborator, "%s", err.Error()))
	}
	envelope := relay.NewEnvelope(req.Type, map[string]any{
		"user_added":     true,
		"userId":         req.UserID,
		"conversationId": req.ConversationID,
	})
	return envelope, &Delivery{
		ConversationID: req.ConversationID,
		AddedUserID:    req.UserID,
	}
}
