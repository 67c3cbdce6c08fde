// Package protocol defines the wire envelope shared by every block on a page.
//
// One physical connection carries many logical streams, one per block. Each
// message is a JSON envelope:
//
//	{"blockID": "hello", "action": "run", "data": {"code": "...", "generation": 3}}
//
// The data field is a tagged union keyed by action. DecodePayload validates it
// at the router boundary so block logic only ever sees typed payloads. Unknown
// actions are reported with ErrUnknownAction; callers drop them rather than fail,
// which keeps older clients working against newer backends.
package protocol
