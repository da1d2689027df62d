package replication

import "fmt"

// State is the phase of one replication leg.
//
//	Idle → Negotiating → Transferring ⇄ Checkpointing → Idle
//
// Failed is entered from any phase when a leg errors; the leg reports Idle
// again once the error has been returned.
type State int

const (
	StateIdle State = iota
	StateNegotiating
	StateTransferring
	StateCheckpointing
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateTransferring:
		return "transferring"
	case StateCheckpointing:
		return "checkpointing"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
