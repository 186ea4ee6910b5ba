package engine

import (
	"github.com/ro-community/robot/automod/event"
)

// Returns true if the two messages are considered identical for purposes of spam detection.
//
// Author, text content (exact, case-sensitive) and the set of embeds must all match. Channel is deliberately not compared; attachments are not compared.
func Equivalent(a, b *event.MessageRecord) bool {
	if a.AuthorID != b.AuthorID {
		return false
	}
	if a.Content != b.Content {
		return false
	}
	return embedsEquivalent(a.Embeds, b.Embeds)
}

// order-independent multiset comparison: each embed in "b" can be matched by at most one embed in "a"
func embedsEquivalent(a, b []event.Embed) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}

	used := make([]bool, len(b))
outer:
	for _, ea := range a {
		for i, eb := range b {
			if used[i] {
				continue
			}
			if ea == eb {
				used[i] = true
				continue outer
			}
		}
		// found no match for this embed
		return false
	}
	return true
}
