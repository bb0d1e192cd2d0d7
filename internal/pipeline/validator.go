// Package pipeline implements the relay's request processing: frame
// validation, dispatch to the messaging service, and fan-out of results to
// live connections.
package pipeline

import (
	"encoding/json"

	"github.com/amaclean2/Couloirs/pkg/relay"
)

// ParseRequest parses a raw inbound frame into a typed request envelope.
// A frame that is not well-formed JSON fails with a malformed-request error;
// the caller returns an error response but keeps the connection open.
// Parsing has no side effects.
func ParseRequest(data []byte) (*relay.Request, *relay.Error) {
	var req relay.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, relay.NewError(relay.ErrorMalformed, "malformed request")
	}
	return &req, nil
}
