package engine

import (
	"testing"

	"github.com/ro-community/robot/automod/event"

	"github.com/stretchr/testify/assert"
)

func TestEquivalent(t *testing.T) {
	assert := assert.New(t)

	base := event.MessageRecord{
		MessageID: "m1",
		GuildID:   "g1",
		ChannelID: "A",
		AuthorID:  "U",
		Content:   "spam",
		Embeds: []event.Embed{
			{Title: "t1", Description: "d1", Kind: "link", URL: "https://example.com/1"},
			{Title: "t2", Description: "d2", Kind: "rich", URL: "https://example.com/2"},
		},
	}

	other := base
	other.MessageID = "m2"
	other.ChannelID = "B"
	assert.True(Equivalent(&base, &other), "differing only in channel")

	reordered := base
	reordered.Embeds = []event.Embed{base.Embeds[1], base.Embeds[0]}
	assert.True(Equivalent(&base, &reordered), "embed order does not matter")

	author := base
	author.AuthorID = "V"
	assert.False(Equivalent(&base, &author))

	content := base
	content.Content = "Spam"
	assert.False(Equivalent(&base, &content), "content match is case-sensitive")

	trimmed := base
	trimmed.Content = "spam "
	assert.False(Equivalent(&base, &trimmed), "content is not trimmed")

	fewer := base
	fewer.Embeds = base.Embeds[:1]
	assert.False(Equivalent(&base, &fewer))

	for _, mutate := range []func(e *event.Embed){
		func(e *event.Embed) { e.Title = "x" },
		func(e *event.Embed) { e.Description = "x" },
		func(e *event.Embed) { e.Kind = "x" },
		func(e *event.Embed) { e.URL = "x" },
	} {
		changed := base
		changed.Embeds = []event.Embed{base.Embeds[0], base.Embeds[1]}
		mutate(&changed.Embeds[1])
		assert.False(Equivalent(&base, &changed))
	}

	none1 := event.MessageRecord{AuthorID: "U", Content: "hi"}
	none2 := event.MessageRecord{AuthorID: "U", Content: "hi", Embeds: []event.Embed{}}
	assert.True(Equivalent(&none1, &none2))
}

func TestEmbedsMultisetMatching(t *testing.T) {
	assert := assert.New(t)

	x := event.Embed{Title: "x"}
	y := event.Embed{Title: "y"}

	// a single embed can not be reused to match two embeds on the other side
	assert.False(embedsEquivalent([]event.Embed{x, x}, []event.Embed{x, y}))
	assert.False(embedsEquivalent([]event.Embed{x, y}, []event.Embed{x, x}))
	assert.True(embedsEquivalent([]event.Embed{x, x, y}, []event.Embed{y, x, x}))
}

func TestFindDuplicates(t *testing.T) {
	assert := assert.New(t)

	mk := func(id, author, channel, content string) event.MessageRecord {
		return event.MessageRecord{MessageID: id, GuildID: "g1", AuthorID: author, ChannelID: channel, Content: content}
	}
	window := []event.MessageRecord{
		mk("1", "U", "A", "spam"),
		mk("2", "U", "A", "spam"),
		mk("3", "V", "B", "spam"),
		mk("4", "U", "B", "spam"),
		mk("5", "U", "C", "eggs"),
		mk("6", "U", "C", "spam"),
	}
	n := window[5]

	matches := FindDuplicates(&n, window)
	assert.Equal(4, len(matches))
	assert.Equal(3, DistinctChannels(matches))

	assert.Equal(0, DistinctChannels(nil))
}
