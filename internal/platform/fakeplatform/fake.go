// Package fakeplatform provides an in-memory Adapter double for tests of
// the delivery, bridge-store, supervisor, and httpapi packages, so they never need a
// live Discord/Mattermost connection.
package fakeplatform

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/janus-bridge/janus/internal/canonical"
	"github.com/janus-bridge/janus/internal/platform"
)

// Adapter is a scriptable in-memory platform.Adapter.
type Adapter struct {
	PlatformID canonical.Platform

	// SupportsEdit controls SupportsWebhookEdit / EditWebhookMessage.
	SupportsEdit bool
	// FailWebhookCreate, when true, makes CreateWebhook return an error.
	FailWebhookCreate bool
	// CaptureDisabled, when true, makes SendWebhook return "" (simulating a
	// platform whose webhook-send does not return an id synchronously and
	// whose correlated-capture missed).
	CaptureDisabled bool
	// FailWith, when non-nil, makes every delivery-path call (SendWebhook,
	// EditWebhookMessage, DeleteWebhookMessage, SendMessage, EditMessage,
	// DeleteMessage) return this error instead of succeeding, so tests can
	// script a classified adapter error (e.g. bridgeerr.KindPermanent).
	FailWith error

	mu sync.Mutex

	handler EventHandlerFunc

	SentWebhook  []SentWebhookCall
	EditedWebhook []EditWebhookCall
	DeletedWebhook []string
	SentNative   []SentNativeCall
	EditedNative []EditNativeCall
	DeletedNative []string
	WebhooksCreated map[string]platform.Webhook

	idCounter atomic.Int64
}

// EventHandlerFunc adapts platform.EventHandler for direct injection in tests.
type EventHandlerFunc func(ctx context.Context, p canonical.Platform, raw canonical.RawMessage)

type SentWebhookCall struct {
	Webhook   platform.Webhook
	Content   string
	Username  string
	AvatarURL string
	ChannelID string
}

type EditWebhookCall struct {
	Webhook   platform.Webhook
	DestMsgID string
	Content   string
}

type SentNativeCall struct {
	ChannelID string
	Input     platform.SendMessageInput
}

type EditNativeCall struct {
	ChannelID, DestMsgID, Content string
}

func New(p canonical.Platform, supportsEdit bool) *Adapter {
	return &Adapter{PlatformID: p, SupportsEdit: supportsEdit, WebhooksCreated: map[string]platform.Webhook{}}
}

func (a *Adapter) Platform() canonical.Platform { return a.PlatformID }

func (a *Adapter) Connect(ctx context.Context, token string) error    { return nil }
func (a *Adapter) Disconnect(ctx context.Context) error               { return nil }
func (a *Adapter) SetEventHandler(h platform.EventHandler) {}

// Emit simulates an inbound gateway event, invoking whatever handler was
// wired via SetHandlerFunc.
func (a *Adapter) Emit(ctx context.Context, raw canonical.RawMessage) {
	a.mu.Lock()
	h := a.handler
	a.mu.Unlock()
	if h != nil {
		h(ctx, a.PlatformID, raw)
	}
}

// SetHandlerFunc wires a plain function as this adapter's event sink,
// avoiding the need for a platform.EventHandler implementation in tests.
func (a *Adapter) SetHandlerFunc(h EventHandlerFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = h
}

func (a *Adapter) CreateWebhook(ctx context.Context, channelID, name string) (*platform.Webhook, error) {
	if a.FailWebhookCreate {
		return nil, fmt.Errorf("fakeplatform: webhook create failed")
	}
	wh := platform.Webhook{ID: fmt.Sprintf("wh-%s-%d", channelID, a.idCounter.Add(1)), Token: "tok-" + channelID}
	a.mu.Lock()
	a.WebhooksCreated[channelID] = wh
	a.mu.Unlock()
	return &wh, nil
}

func (a *Adapter) FetchWebhook(ctx context.Context, channelID string) (*platform.Webhook, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if wh, ok := a.WebhooksCreated[channelID]; ok {
		return &wh, nil
	}
	return nil, nil
}

func (a *Adapter) SendWebhook(ctx context.Context, wh platform.Webhook, content, username, avatarURL, channelID string) (string, error) {
	a.mu.Lock()
	a.SentWebhook = append(a.SentWebhook, SentWebhookCall{wh, content, username, avatarURL, channelID})
	a.mu.Unlock()
	if a.FailWith != nil {
		return "", a.FailWith
	}
	if a.CaptureDisabled {
		return "", nil
	}
	return fmt.Sprintf("msg-%d", a.idCounter.Add(1)), nil
}

func (a *Adapter) EditWebhookMessage(ctx context.Context, wh platform.Webhook, destMsgID, content string) (bool, error) {
	if !a.SupportsEdit {
		return false, nil
	}
	if a.FailWith != nil {
		return true, a.FailWith
	}
	a.mu.Lock()
	a.EditedWebhook = append(a.EditedWebhook, EditWebhookCall{wh, destMsgID, content})
	a.mu.Unlock()
	return true, nil
}

func (a *Adapter) DeleteWebhookMessage(ctx context.Context, wh platform.Webhook, destMsgID string) (bool, error) {
	if a.FailWith != nil {
		return true, a.FailWith
	}
	a.mu.Lock()
	a.DeletedWebhook = append(a.DeletedWebhook, destMsgID)
	a.mu.Unlock()
	return true, nil
}

func (a *Adapter) SendMessage(ctx context.Context, channelID string, in platform.SendMessageInput) (string, error) {
	if a.FailWith != nil {
		return "", a.FailWith
	}
	a.mu.Lock()
	a.SentNative = append(a.SentNative, SentNativeCall{channelID, in})
	a.mu.Unlock()
	return fmt.Sprintf("native-%d", a.idCounter.Add(1)), nil
}

func (a *Adapter) EditMessage(ctx context.Context, channelID, destMsgID, content string) error {
	if a.FailWith != nil {
		return a.FailWith
	}
	a.mu.Lock()
	a.EditedNative = append(a.EditedNative, EditNativeCall{channelID, destMsgID, content})
	a.mu.Unlock()
	return nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, channelID, destMsgID string) error {
	if a.FailWith != nil {
		return a.FailWith
	}
	a.mu.Lock()
	a.DeletedNative = append(a.DeletedNative, destMsgID)
	a.mu.Unlock()
	return nil
}

func (a *Adapter) SupportsWebhookEdit() bool { return a.SupportsEdit }

var _ platform.Adapter = (*Adapter)(nil)
