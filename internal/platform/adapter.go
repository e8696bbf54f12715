// Package platform defines the PlatformAdapter capability contract that
// every chat platform client must satisfy, plus the registry that replaces
// global client setters with explicit constructor injection.
package platform

import (
	"context"

	"github.com/janus-bridge/janus/internal/canonical"
)

// Webhook is the credential pair returned by webhook creation/lookup.
type Webhook struct {
	ID    string
	Token string
}

// Impersonate carries a display identity for platform-native sends on
// platforms without impersonating webhooks.
type Impersonate struct {
	Name      string
	AvatarURL string
}

// SendMessageInput is the payload for a native (non-webhook) send.
type SendMessageInput struct {
	Content     string
	Attachments []canonical.Attachment
	Impersonate *Impersonate // nil when no impersonation is requested/possible
}

// EventHandler receives raw, not yet normalized events pushed by an
// adapter's gateway connection. RouterWorker never sees this directly — the
// Normalizer sits between an adapter and the ingest queue.
type EventHandler interface {
	HandleRaw(ctx context.Context, platform canonical.Platform, raw canonical.RawMessage)
}

// Adapter is the capability contract each platform client implements.
type Adapter interface {
	// Platform identifies which side of the bridge this adapter serves.
	Platform() canonical.Platform

	// Connect establishes the gateway/API session. Raised events are
	// delivered to the handler registered via SetEventHandler.
	Connect(ctx context.Context, token string) error
	Disconnect(ctx context.Context) error
	SetEventHandler(h EventHandler)

	// CreateWebhook creates a new impersonating webhook in channelId. Returns
	// nil, nil if the platform has no webhook concept or creation failed
	// non-fatally (e.g. missing permission) — the caller treats a nil
	// result as one side of a bridge being allowed to fail independently.
	CreateWebhook(ctx context.Context, channelID, name string) (*Webhook, error)
	// FetchWebhook returns an existing webhook for channelId, if any.
	FetchWebhook(ctx context.Context, channelID string) (*Webhook, error)

	// SendWebhook posts content as username/avatarUrl via the given
	// webhook. Returns the destination message id, or "" if the platform's
	// webhook-send does not return one synchronously and none could be
	// captured through other means.
	SendWebhook(ctx context.Context, wh Webhook, content, username, avatarURL, channelID string) (destMsgID string, err error)
	// EditWebhookMessage edits a previously sent webhook message. The bool
	// return reports whether the platform supports webhook editing at all;
	// false (with nil error) means "unsupported", not "failed".
	EditWebhookMessage(ctx context.Context, wh Webhook, destMsgID, content string) (bool, error)
	// DeleteWebhookMessage deletes a previously sent webhook message.
	DeleteWebhookMessage(ctx context.Context, wh Webhook, destMsgID string) (bool, error)

	// SendMessage is the fallback path for platforms/situations without
	// webhook credentials.
	SendMessage(ctx context.Context, channelID string, in SendMessageInput) (destMsgID string, err error)
	EditMessage(ctx context.Context, channelID, destMsgID, content string) error
	DeleteMessage(ctx context.Context, channelID, destMsgID string) error

	// SupportsWebhookEdit reports whether EditWebhookMessage can ever
	// succeed on this platform (Platform A: yes: Platform B: no — the
	// DeliveryWorker uses this to choose the edit-workaround path without
	// making a doomed call first).
	SupportsWebhookEdit() bool
}

// Registry holds both platform adapters, threaded through constructors
// instead of module-level setters or singletons.
type Registry struct {
	A Adapter
	B Adapter
}

// For returns the adapter for the given platform.
func (r Registry) For(p canonical.Platform) Adapter {
	if p == canonical.PlatformA {
		return r.A
	}
	return r.B
}
