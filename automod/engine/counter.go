package engine

import (
	"github.com/ro-community/robot/automod/event"
)

// Returns every record in the window equivalent to "n", in window order. If "n" is already in the window (the usual case) it is included.
func FindDuplicates(n *event.MessageRecord, window []event.MessageRecord) []event.MessageRecord {
	out := []event.MessageRecord{}
	for i := range window {
		if Equivalent(&window[i], n) {
			out = append(out, window[i])
		}
	}
	return out
}

// Number of distinct channels among the records. The same message posted repeatedly in a single channel is a different problem from cross-channel spam, and counts once.
func DistinctChannels(recs []event.MessageRecord) int {
	seen := make(map[string]bool, len(recs))
	for _, r := range recs {
		seen[r.ChannelID] = true
	}
	return len(seen)
}
