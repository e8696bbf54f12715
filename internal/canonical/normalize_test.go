package canonical

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDiscordAnimatedAvatar(t *testing.T) {
	n := NewDiscordNormalizer()
	raw := RawMessage{
		Type:             MsgCreate,
		MessageID:        "m1",
		ChannelID:        "c1",
		AuthorID:         "u1",
		AuthorName:       "alice",
		AuthorAvatarHash: "a_deadbeef",
		Content:          "hello",
		Timestamp:        time.UnixMilli(1000),
	}
	ev, err := n.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.discordapp.com/avatars/u1/a_deadbeef.gif", ev.Author.Avatar)
	assert.Equal(t, "hello", ev.Content)
	assert.Equal(t, int64(1000), ev.TimestampMS)
}

func TestNormalizeDiscordStaticAvatar(t *testing.T) {
	n := NewDiscordNormalizer()
	ev, err := n.Normalize(RawMessage{
		Type: MsgCreate, MessageID: "m1", ChannelID: "c1",
		AuthorID: "u1", AuthorAvatarHash: "deadbeef",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.discordapp.com/avatars/u1/deadbeef.png", ev.Author.Avatar)
}

func TestNormalizePassthroughAvatarURL(t *testing.T) {
	n := NewDiscordNormalizer()
	ev, err := n.Normalize(RawMessage{
		Type: MsgCreate, MessageID: "m1", ChannelID: "c1",
		AuthorAvatarHash: "deadbeef",
		AuthorAvatarURL:  "https://example.com/avatar.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/avatar.png", ev.Author.Avatar)
}

func TestNormalizeNoAvatar(t *testing.T) {
	n := NewDiscordNormalizer()
	ev, err := n.Normalize(RawMessage{Type: MsgCreate, MessageID: "m1", ChannelID: "c1"})
	require.NoError(t, err)
	assert.Empty(t, ev.Author.Avatar)
}

func TestNormalizeDeleteHasNoContent(t *testing.T) {
	n := NewMattermostNormalizer("https://chat.example.com")
	ev, err := n.Normalize(RawMessage{
		Type: MsgDelete, MessageID: "m1", ChannelID: "c1",
		Content: "should be ignored", AuthorName: "bob",
	})
	require.NoError(t, err)
	assert.Empty(t, ev.Content)
	assert.Empty(t, ev.Author.Name)
	assert.Nil(t, ev.Attachments)
	assert.Equal(t, "m1", ev.Source.MessageID)
}

func TestNormalizeMalformedMissingIdentity(t *testing.T) {
	n := NewDiscordNormalizer()
	_, err := n.Normalize(RawMessage{Type: MsgCreate})
	require.Error(t, err)
}

func TestNormalizeIsIdempotentProjection(t *testing.T) {
	n := NewDiscordNormalizer()
	raw := RawMessage{
		Type: MsgCreate, MessageID: "m1", ChannelID: "c1", GuildID: "g1",
		AuthorID: "u1", AuthorName: "alice", AuthorAvatarHash: "deadbeef",
		Content: "hi", Attachments: []RawAttachment{{URL: "https://x/f.png", Filename: "f.png", Size: 10}},
		Timestamp: time.UnixMilli(5000),
	}
	first, err := n.Normalize(raw)
	require.NoError(t, err)

	// Re-normalizing an equivalent raw event built from the canonical
	// event's own fields must reproduce it exactly (normalize is a pure
	// projection, not a stateful transform).
	second, err := n.Normalize(RawMessage{
		Type: first.Type, MessageID: first.Source.MessageID, ChannelID: first.Source.ChannelID,
		GuildID: first.Source.GuildID, AuthorID: raw.AuthorID, AuthorName: first.Author.Name,
		AuthorAvatarURL: first.Author.Avatar, Content: first.Content,
		Attachments: []RawAttachment{{URL: first.Attachments[0].URL, Filename: first.Attachments[0].Filename, Size: first.Attachments[0].Size}},
		TimestampUnixMS: first.TimestampMS,
	})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
