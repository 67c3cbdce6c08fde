package protocol

import (
	"bytes"
	"encoding/json"

	"git.home.luguber.info/inful/livedocs/internal/foundation/errors"
)

// Action is the envelope tag selecting the payload type.
type Action string

// The fixed action vocabulary.
const (
	ActionInit   Action = "init"   // client -> server: block announces itself with its current code
	ActionState  Action = "state"  // server -> client: state sync for a block
	ActionRun    Action = "run"    // client -> server: run request
	ActionResult Action = "result" // server -> client: run result
	ActionOutput Action = "output" // server -> client: streamed output chunk
	ActionEvent  Action = "event"  // client -> server: interactive user event
	ActionError  Action = "error"  // server -> client: block-level error
)

// Known reports whether a is part of the vocabulary.
func (a Action) Known() bool {
	switch a {
	case ActionInit, ActionState, ActionRun, ActionResult, ActionOutput, ActionEvent, ActionError:
		return true
	default:
		return false
	}
}

// Envelope is the unit of protocol exchange, addressed to one block.
type Envelope struct {
	BlockID string          `json:"blockID"`
	Action  Action          `json:"action"`
	Data    json.RawMessage `json:"data,omitempty"`
}

var (
	// ErrMalformed indicates the raw message is not a JSON envelope.
	ErrMalformed = errors.ProtocolError("malformed envelope").Build()

	// ErrMissingBlockID indicates an envelope without a target block.
	ErrMissingBlockID = errors.ProtocolError("envelope missing blockID").Build()

	// ErrUnknownAction indicates an action outside the vocabulary.
	ErrUnknownAction = errors.ProtocolError("unknown action").Build()

	// ErrInvalidPayload indicates data that does not match its action's payload type.
	ErrInvalidPayload = errors.ProtocolError("invalid payload").Build()
)

// Decode parses a raw message into an Envelope. It does not validate the envelope.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, errors.WrapError(err, errors.CategoryProtocol, ErrMalformed.Message()).
			Warning().
			WithContext("bytes", len(raw)).
			Build()
	}
	return env, nil
}

// Validate checks the envelope invariants. An empty blockID is always invalid.
func (e Envelope) Validate() error {
	if e.BlockID == "" {
		return ErrMissingBlockID.WithContext("action", string(e.Action))
	}
	return nil
}

// Encode serializes an envelope for sending. A nil payload is sent as {}.
func Encode(e Envelope) ([]byte, error) {
	if len(e.Data) == 0 {
		e.Data = json.RawMessage("{}")
	}
	return json.Marshal(e)
}

// NewEnvelope formats an outbound envelope. It has no side effects.
func NewEnvelope(blockID string, action Action, payload Payload) (Envelope, error) {
	env := Envelope{BlockID: blockID, Action: action, Data: json.RawMessage("{}")}
	if payload == nil {
		return env, nil
	}
	if payload.Action() != action {
		return Envelope{}, ErrInvalidPayload.
			WithContext("action", string(action)).
			WithContext("payload_action", string(payload.Action()))
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, errors.WrapError(err, errors.CategoryProtocol, "encode payload").Build()
	}
	env.Data = data
	return env, nil
}

// isEmptyData reports whether data carries no payload (absent, null or {}).
func isEmptyData(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}"))
}
