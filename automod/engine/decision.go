package engine

import (
	"github.com/ro-community/robot/automod/event"
)

// Outcome of evaluating one message against the window.
type Decision struct {
	// The message which was just ingested
	Record event.MessageRecord
	// Distinct-channel duplicate count, including the message itself
	Count int
	// Every equivalent record in the window. These are the targets of message deletion.
	Matches []event.MessageRecord
	Actions ActionSet
	// Set when a repeat decision was held back by the action cooldown
	Suppressed bool
}

func (d *Decision) Triggered() bool {
	return len(d.Actions) > 0
}

// Pure decision function: counts duplicates of "n" in the window snapshot and evaluates the policy. The window is expected to already contain "n".
func Decide(n event.MessageRecord, window []event.MessageRecord, p *Policy) Decision {
	matches := FindDuplicates(&n, window)
	count := DistinctChannels(matches)
	return Decision{
		Record:  n,
		Count:   count,
		Matches: matches,
		Actions: Evaluate(count, p),
	}
}
