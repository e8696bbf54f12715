package canonical

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedRaw is returned when a raw platform event cannot be normalized;
// callers treat this as a drop (logged, not retried).
var ErrMalformedRaw = errors.New("canonical: malformed raw event")

// RawAttachment is the platform-agnostic shape an adapter extracts an
// attachment into before normalization; it is already a 1:1 copy target for
// Attachment, so normalization here is a pure projection.
type RawAttachment struct {
	URL         string
	Filename    string
	ContentType string
	Size        int64
}

// RawMessage is what a PlatformAdapter hands the Normalizer for every
// inbound gateway event. Fields not relevant to a given EventType are left
// zero (e.g. Content/Attachments for MSG_DELETE).
type RawMessage struct {
	Type      EventType
	MessageID string
	ChannelID string
	GuildID   string

	AuthorID         string // used to build CDN avatar URLs
	AuthorName       string
	AuthorAvatarHash string // opaque per-platform hash; empty if unavailable
	AuthorAvatarURL  string // already-resolved URL; takes precedence over hash

	Content     string
	Attachments []RawAttachment

	// Timestamp is either set directly, or Timestamp is zero and
	// TimestampUnixMS carries the pre-parsed epoch milliseconds.
	Timestamp       time.Time
	TimestampUnixMS int64
}

// Normalizer turns a platform's raw event shape into a CanonicalEvent.
type Normalizer interface {
	Normalize(raw RawMessage) (Event, error)
}

// AvatarURLFunc builds a CDN URL from a user id and avatar hash, applying
// the platform's animated-hash convention. Implementations are pure.
type AvatarURLFunc func(userID, hash string) string

// GenericNormalizer implements Normalizer for any platform whose avatar
// resolution follows the "hash needs a CDN URL built, or a full URL passes
// through unchanged" rule, parameterized with its own AvatarURLFunc.
type GenericNormalizer struct {
	Platform  Platform
	AvatarURL AvatarURLFunc
}

func (n GenericNormalizer) Normalize(raw RawMessage) (Event, error) {
	if raw.ChannelID == "" || raw.MessageID == "" {
		return Event{}, fmt.Errorf("%w: missing channel or message id", ErrMalformedRaw)
	}

	ev := Event{
		Type: raw.Type,
		Source: Source{
			Platform:  n.Platform,
			MessageID: raw.MessageID,
			ChannelID: raw.ChannelID,
			GuildID:   raw.GuildID,
		},
		TimestampMS: resolveTimestamp(raw),
	}

	if raw.Type == MsgDelete {
		// Deletes carry identity fields only; content/author/attachments
		// default to empty.
		return ev, nil
	}

	ev.Content = raw.Content
	ev.Author = Author{
		Name:   raw.AuthorName,
		Avatar: n.resolveAvatar(raw),
	}
	if len(raw.Attachments) > 0 {
		ev.Attachments = make([]Attachment, len(raw.Attachments))
		for i, a := range raw.Attachments {
			ev.Attachments[i] = Attachment{
				URL:         a.URL,
				Filename:    a.Filename,
				ContentType: a.ContentType,
				Size:        a.Size,
			}
		}
	}
	return ev, nil
}

func (n GenericNormalizer) resolveAvatar(raw RawMessage) string {
	if raw.AuthorAvatarURL != "" {
		return raw.AuthorAvatarURL
	}
	if raw.AuthorAvatarHash == "" || n.AvatarURL == nil {
		return ""
	}
	return n.AvatarURL(raw.AuthorID, raw.AuthorAvatarHash)
}

func resolveTimestamp(raw RawMessage) int64 {
	if !raw.Timestamp.IsZero() {
		return raw.Timestamp.UnixMilli()
	}
	return raw.TimestampUnixMS
}

// DiscordAvatarURL builds a Discord CDN avatar URL. Hashes prefixed "a_"
// are animated and use the .gif extension; all others use .png.
func DiscordAvatarURL(userID, hash string) string {
	ext := "png"
	if strings.HasPrefix(hash, "a_") {
		ext = "gif"
	}
	return fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.%s", userID, hash, ext)
}

// MattermostAvatarURL builds a Mattermost profile image URL. Mattermost has
// no animated-avatar convention distinct from static ones (server always
// serves whatever format was uploaded at this endpoint), so the same
// extension-less URL form is used regardless of hash shape.
func MattermostAvatarURL(serverURL string) AvatarURLFunc {
	base := strings.TrimRight(serverURL, "/")
	return func(userID, hash string) string {
		return fmt.Sprintf("%s/api/v4/users/%s/image?_=%s", base, userID, hash)
	}
}

// NewDiscordNormalizer returns the Normalizer for Platform A.
func NewDiscordNormalizer() Normalizer {
	return GenericNormalizer{Platform: PlatformA, AvatarURL: DiscordAvatarURL}
}

// NewMattermostNormalizer returns the Normalizer for Platform B.
func NewMattermostNormalizer(serverURL string) Normalizer {
	return GenericNormalizer{Platform: PlatformB, AvatarURL: MattermostAvatarURL(serverURL)}
}
