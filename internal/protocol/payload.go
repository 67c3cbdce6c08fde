package protocol

import (
	"encoding/json"

	"git.home.luguber.info/inful/livedocs/internal/foundation/errors"
)

// Payload is the tagged union of envelope data types.
type Payload interface {
	Action() Action
}

// InitPayload announces a block to the backend after (re)connecting.
type InitPayload struct {
	Kind     string `json:"kind"`
	Language string `json:"language,omitempty"`
	Code     string `json:"code,omitempty"`
}

// StatePayload carries a server-provided state sync. State is opaque to the runtime.
type StatePayload struct {
	Code  *string         `json:"code,omitempty"`
	State json.RawMessage `json:"state,omitempty"`
}

// RunPayload requests a run of the given code. Generation correlates the result.
type RunPayload struct {
	Code       string `json:"code,omitempty"`
	Language   string `json:"language,omitempty"`
	Generation uint64 `json:"generation,omitempty"`
}

// ResultPayload reports the outcome of a run.
type ResultPayload struct {
	Generation uint64   `json:"generation,omitempty"`
	Success    bool     `json:"success"`
	Output     []string `json:"output,omitempty"`
	Error      string   `json:"error,omitempty"`
	// Kind distinguishes "compile" from "runtime" failures; empty means runtime.
	Kind string `json:"kind,omitempty"`
}

// OutputPayload is one streamed chunk of output for the current run.
type OutputPayload struct {
	Generation uint64 `json:"generation,omitempty"`
	Chunk      string `json:"chunk"`
}

// EventPayload carries an interactive user event (button press, form input).
type EventPayload struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value,omitempty"`
}

// ErrorPayload is a block-level error raised by the backend.
type ErrorPayload struct {
	Message string `json:"message"`
	Fatal   bool   `json:"fatal,omitempty"`
}

func (InitPayload) Action() Action   { return ActionInit }
func (StatePayload) Action() Action  { return ActionState }
func (RunPayload) Action() Action    { return ActionRun }
func (ResultPayload) Action() Action { return ActionResult }
func (OutputPayload) Action() Action { return ActionOutput }
func (EventPayload) Action() Action  { return ActionEvent }
func (ErrorPayload) Action() Action  { return ActionError }

// DecodePayload validates the envelope data against its action's payload type.
// Unknown fields are ignored; unknown actions are not.
func DecodePayload(e Envelope) (Payload, error) {
	switch e.Action {
	case ActionInit:
		return decodeInto[InitPayload](e)
	case ActionState:
		return decodeInto[StatePayload](e)
	case ActionRun:
		return decodeInto[RunPayload](e)
	case ActionResult:
		return decodeInto[ResultPayload](e)
	case ActionOutput:
		return decodeInto[OutputPayload](e)
	case ActionEvent:
		p, err := decodeInto[EventPayload](e)
		if err == nil && p.(EventPayload).Name == "" {
			return nil, ErrInvalidPayload.WithContext("action", string(e.Action)).WithContext("reason", "event name required")
		}
		return p, err
	case ActionError:
		return decodeInto[ErrorPayload](e)
	default:
		return nil, ErrUnknownAction.WithContext("action", string(e.Action))
	}
}

func decodeInto[T Payload](e Envelope) (Payload, error) {
	var p T
	if isEmptyData(e.Data) {
		return p, nil
	}
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return nil, errors.WrapError(err, errors.CategoryProtocol, ErrInvalidPayload.Message()).
			Warning().
			WithContext("action", string(e.Action)).
			Build()
	}
	return p, nil
}
