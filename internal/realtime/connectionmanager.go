package realtime

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/amaclean2/Couloirs/internal/pipeline"
	"github.com/amaclean2/Couloirs/pkg/relay"
)

const (
	msgMissingToken = "missing token"
	msgInvalidToken = "invalid or expired token"
)

// connState tracks the per-connection lifecycle.
type connState int

const (
	stateUnauthenticated connState = iota
	stateActive
)

// session is the mutable per-connection state. It is only ever touched by
// the connection's own read loop, so no locking is needed.
type session struct {
	id     string
	state  connState
	userID string
}

// ConnectionManager orchestrates per-connection state. Each websocket's
// frames are processed sequentially by its read loop: a request's full
// round trip, broadcast included, completes before the next frame is read,
// which preserves per-connection response ordering even though collaborator
// calls overlap across connections.
type ConnectionManager struct {
	upgrader    websocket.Upgrader
	verifier    relay.IdentityVerifier
	dispatcher  *pipeline.Dispatcher
	broadcaster *pipeline.Broadcaster
	registry    relay.Registry
	logger      zerolog.Logger
}

// NewConnectionManager wires the websocket entrypoint.
func NewConnectionManager(
	verifier relay.IdentityVerifier,
	dispatcher *pipeline.Dispatcher,
	broadcaster *pipeline.Broadcaster,
	registry relay.Registry,
	logger zerolog.Logger,
) *ConnectionManager {
	return &ConnectionManager{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// TODO: Restrict origins once the client origin list is pinned down.
				return true
			},
		},
		verifier:    verifier,
		dispatcher:  dispatcher,
		broadcaster: broadcaster,
		registry:    registry,
		logger:      logger.With().Str("component", "ConnectionManager").Logger(),
	}
}

// ServeHTTP upgrades the request to a websocket and runs its lifecycle.
func (cm *ConnectionManager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cm.logger.Error().Err(err).Msg("Failed to upgrade connection.")
		return
	}
	defer func() {
		if err := ws.Close(); err != nil {
			cm.logger.Warn().Err(err).Msg("error closing connection")
		}
	}()

	sess := &session{id: uuid.NewString()}
	conn := newWSConn(ws)
	log := cm.logger.With().Str("connection", sess.id).Logger()
	log.Info().Msg("Connection opened.")

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		cm.handleFrame(r.Context(), sess, conn, data)
	}

	// Closed is terminal: the registry entry goes away, membership entries
	// stay (stale members simply miss the registry lookup at broadcast).
	if sess.state == stateActive {
		cm.registry.Unregister(sess.userID)
		log.Info().Str("user", sess.userID).Msg("User disconnected.")
	} else {
		log.Info().Msg("Connection closed before authentication.")
	}
}

// handleFrame takes one inbound frame through validation, the auth gate,
// dispatch, and routing of the response.
func (cm *ConnectionManager) handleFrame(ctx context.Context, sess *session, conn relay.Conn, data []byte) {
	req, perr := pipeline.ParseRequest(data)
	if perr != nil {
		// Bad frame: error response, connection stays open.
		cm.respondError(conn, "", perr)
		return
	}

	// Every frame re-verifies its token; there is no session trust beyond
	// the registry. Auth failures mutate nothing and never close the
	// transport.
	if req.Token == "" {
		cm.respondError(conn, req.Type, relay.NewError(relay.ErrorMissingToken, msgMissingToken))
		return
	}
	userID, err := cm.verifier.Verify(ctx, req.Token)
	if err != nil {
		cm.logger.Warn().Err(err).Str("connection", sess.id).Msg("Token verification failed")
		cm.respondError(conn, req.Type, relay.NewError(relay.ErrorInvalidToken, msgInvalidToken))
		return
	}

	envelope, delivery := cm.dispatcher.Dispatch(ctx, userID, req)

	// A successful verifyUser cycle activates the connection: the user
	// becomes reachable for broadcasts. A reconnect overwrites any stale
	// registry entry for the same user.
	if req.Type == relay.KindVerifyUser && !envelope.IsError() {
		cm.registry.Register(userID, conn, req.DeviceToken)
		if sess.state != stateActive {
			sess.state = stateActive
			cm.logger.Info().Str("connection", sess.id).Str("user", userID).Msg("User connected.")
		}
		sess.userID = userID
	}

	if envelope.IsError() || delivery == nil {
		cm.sendEnvelope(conn, envelope)
		return
	}
	cm.broadcaster.Broadcast(ctx, envelope, delivery, userID)
}

// respondError turns a classified relay error into the uniform error
// envelope and delivers it to the requesting connection only.
func (cm *ConnectionManager) respondError(conn relay.Conn, kind relay.Kind, rerr *relay.Error) {
	cm.sendEnvelope(conn, relay.NewErrorEnvelope(kind, rerr.Message))
}

func (cm *ConnectionManager) sendEnvelope(conn relay.Conn, envelope relay.Envelope) {
	payload, err := envelope.MarshalJSON()
	if err != nil {
		cm.logger.Error().Err(err).Msg("Failed to serialize envelope")
		return
	}
	if err := conn.Send(payload); err != nil {
		cm.logger.Warn().Err(err).Msg("Failed to write envelope to connection")
	}
}
