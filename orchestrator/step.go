// Package orchestrator drives one user turn through the agent loop:
// decide -> spawn child run -> wait -> observe -> decide again, up to a
// clamped number of steps. The loop talks to the Store directly — child
// runs are created and watched in-process, never through a self-HTTP call.
package orchestrator

import (
	"encoding/json"

	oasis "github.com/nevindra/runcore"
)

// SystemCap is the hard ceiling on max_steps regardless of what a decision
// requests.
const SystemCap = 10

// DefaultMaxSteps is used when a decision doesn't specify max_steps.
const DefaultMaxSteps = 3

// ClampMaxSteps applies `clamp(requested ∨ DefaultMaxSteps, 1, SystemCap)`.
func ClampMaxSteps(requested int) int {
	if requested <= 0 {
		requested = DefaultMaxSteps
	}
	if requested < 1 {
		requested = 1
	}
	if requested > SystemCap {
		requested = SystemCap
	}
	return requested
}

// OutcomeKind discriminates what Step decided should happen next.
type OutcomeKind string

const (
	OutcomeReply OutcomeKind = "reply"
	OutcomeSpawn OutcomeKind = "spawn"
)

// Outcome is Step's pure translation of a Decision into what RunLoop
// should do next: reply immediately, or spawn a child run and wait on it.
type Outcome struct {
	Kind OutcomeKind

	// OutcomeReply
	Reply string

	// OutcomeSpawn
	ChildType  string
	ChildTitle string
	ChildInput json.RawMessage
}

// Step is a pure function (no I/O) translating one Decision into an
// Outcome. lastChildReply is the most recent child run's reply/final_response
// text, used as the Reply fallback when a Reply decision carries no content
// of its own.
func Step(decision oasis.Decision, lastChildReply string) Outcome {
	switch decision.Kind {
	case oasis.DecisionReply:
		reply := decision.Content
		if reply == "" {
			reply = lastChildReply
		}
		return Outcome{Kind: OutcomeReply, Reply: reply}
	case oasis.DecisionRun:
		return Outcome{
			Kind:       OutcomeSpawn,
			ChildType:  decision.RunType,
			ChildTitle: decision.Title,
			ChildInput: decision.Input,
		}
	case oasis.DecisionReplyAndRun:
		return Outcome{
			Kind:       OutcomeSpawn,
			Reply:      decision.Content,
			ChildType:  decision.RunType,
			ChildTitle: decision.Title,
			ChildInput: decision.Input,
		}
	default:
		return Outcome{Kind: OutcomeReply, Reply: lastChildReply}
	}
}
