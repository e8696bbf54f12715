// Package mattermostapp implements platform.Adapter for Platform B, modeled
// on Mattermost: incoming webhooks accept a per-post username/icon_url
// override but cannot be edited or deleted afterwards, which is exactly the
// case that needs the edit-workaround path. Native (non-webhook) calls use
// model.Client4 for authenticated REST calls.
package mattermostapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/janus-bridge/janus/internal/bridgeerr"
	"github.com/janus-bridge/janus/internal/canonical"
	"github.com/janus-bridge/janus/internal/platform"
)

// Adapter is the Mattermost-backed platform.Adapter for Platform B.
type Adapter struct {
	serverURL string
	client    *model.Client4
	ws        *model.WebSocketClient
	httpc     *http.Client
	log       zerolog.Logger
	handler   platform.EventHandler
	botUserID string
}

// New builds a disconnected Adapter for the given Mattermost server URL
// (e.g. "https://chat.example.com").
func New(serverURL string, log zerolog.Logger) *Adapter {
	return &Adapter{
		serverURL: strings.TrimRight(serverURL, "/"),
		httpc:     &http.Client{},
		log:       log.With().Str("component", "mattermost").Logger(),
	}
}

func (a *Adapter) Platform() canonical.Platform { return canonical.PlatformB }

func (a *Adapter) SetEventHandler(h platform.EventHandler) { a.handler = h }

func (a *Adapter) Connect(ctx context.Context, token string) error {
	client := model.NewAPIv4Client(a.serverURL)
	client.SetToken(token)
	me, _, err := client.GetMe(ctx, "")
	if err != nil {
		return fmt.Errorf("mattermostapp: get me: %w", err)
	}
	a.botUserID = me.Id
	a.client = client

	wsURL := "wss://" + strings.TrimPrefix(strings.TrimPrefix(a.serverURL, "https://"), "http://")
	ws, err := model.NewWebSocketClient4(wsURL, token)
	if err != nil {
		return fmt.Errorf("mattermostapp: websocket dial: %w", err)
	}
	a.ws = ws
	ws.Listen()
	go a.consume(ctx)
	return nil
}

func (a *Adapter) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-a.ws.EventChannel:
			if !ok {
				return
			}
			a.handleEvent(ctx, ev)
		}
	}
}

func (a *Adapter) handleEvent(ctx context.Context, ev *model.WebSocketEvent) {
	if a.handler == nil {
		return
	}
	switch ev.EventType() {
	case model.WebsocketEventPosted:
		post := postFromEventData(ev)
		if post == nil || post.UserId == a.botUserID {
			return
		}
		a.handler.HandleRaw(ctx, canonical.PlatformB, postToRaw(canonical.MsgCreate, post))
	case model.WebsocketEventPostEdited:
		post := postFromEventData(ev)
		if post == nil || post.UserId == a.botUserID {
			return
		}
		a.handler.HandleRaw(ctx, canonical.PlatformB, postToRaw(canonical.MsgUpdate, post))
	case model.WebsocketEventPostDeleted:
		post := postFromEventData(ev)
		if post == nil {
			return
		}
		a.handler.HandleRaw(ctx, canonical.PlatformB, postToRaw(canonical.MsgDelete, post))
	}
}

func postFromEventData(ev *model.WebSocketEvent) *model.Post {
	raw, ok := ev.GetData()["post"].(string)
	if !ok {
		return nil
	}
	var post model.Post
	if err := json.Unmarshal([]byte(raw), &post); err != nil {
		return nil
	}
	return &post
}

func postToRaw(t canonical.EventType, post *model.Post) canonical.RawMessage {
	return canonical.RawMessage{
		Type:            t,
		MessageID:       post.Id,
		ChannelID:       post.ChannelId,
		AuthorID:        post.UserId,
		Content:         post.Message,
		TimestampUnixMS: post.CreateAt,
	}
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	if a.ws != nil {
		a.ws.Close()
	}
	return nil
}

// CreateWebhook creates a Mattermost incoming webhook for channelId. The
// webhook secret lives entirely in the ID (Mattermost incoming webhook URLs
// are "<server>/hooks/<id>"); Token is left empty.
func (a *Adapter) CreateWebhook(ctx context.Context, channelID, name string) (*platform.Webhook, error) {
	hook := &model.IncomingWebhook{ChannelId: channelID, DisplayName: name}
	created, _, err := a.client.CreateIncomingWebhook(ctx, hook)
	if err != nil {
		return nil, fmt.Errorf("mattermostapp: create incoming webhook: %w", err)
	}
	return &platform.Webhook{ID: created.Id}, nil
}

func (a *Adapter) FetchWebhook(ctx context.Context, channelID string) (*platform.Webhook, error) {
	hooks, _, err := a.client.GetIncomingWebhooksForTeam(ctx, "", 0, 200, "")
	if err != nil {
		return nil, fmt.Errorf("mattermostapp: list incoming webhooks: %w", err)
	}
	for _, h := range hooks {
		if h.ChannelId == channelID {
			return &platform.Webhook{ID: h.Id}, nil
		}
	}
	return nil, nil
}

// classifyErr tags a Mattermost error as bridgeerr.KindPermanent when its
// status indicates a genuine refusal (unknown post/channel, missing
// permission) rather than a transient outage. Errors that are not a
// *model.AppError, or whose status is something else (5xx), pass through
// unclassified so the caller falls back to its default retry kind.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var appErr *model.AppError
	if errors.As(err, &appErr) {
		switch appErr.StatusCode {
		case http.StatusForbidden, http.StatusNotFound:
			return bridgeerr.New(bridgeerr.KindPermanent, err)
		}
	}
	return err
}

func classifyStatus(statusCode int, err error) error {
	if statusCode == http.StatusForbidden || statusCode == http.StatusNotFound {
		return bridgeerr.New(bridgeerr.KindPermanent, err)
	}
	return err
}

type incomingWebhookPayload struct {
	Text     string `json:"text"`
	Username string `json:"username,omitempty"`
	IconURL  string `json:"icon_url,omitempty"`
}

// SendWebhook posts content to the Mattermost incoming webhook URL.
// Mattermost's incoming webhook API never returns the created post's id, so
// this always returns "" — MSG_CREATE still succeeds but no
// MessageMap row is stored for messages sent this way.
func (a *Adapter) SendWebhook(ctx context.Context, wh platform.Webhook, content, username, avatarURL, channelID string) (string, error) {
	body, err := json.Marshal(incomingWebhookPayload{Text: content, Username: username, IconURL: avatarURL})
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/hooks/%s", a.serverURL, wh.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("mattermostapp: post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", classifyStatus(resp.StatusCode, fmt.Errorf("mattermostapp: webhook post status %d", resp.StatusCode))
	}
	return "", nil
}

// EditWebhookMessage always reports unsupported: Mattermost incoming
// webhooks cannot edit a previously posted message.
func (a *Adapter) EditWebhookMessage(ctx context.Context, wh platform.Webhook, destMsgID, content string) (bool, error) {
	return false, nil
}

// DeleteWebhookMessage always reports unsupported, for the same reason.
func (a *Adapter) DeleteWebhookMessage(ctx context.Context, wh platform.Webhook, destMsgID string) (bool, error) {
	return false, nil
}

func (a *Adapter) SendMessage(ctx context.Context, channelID string, in platform.SendMessageInput) (string, error) {
	content := in.Content
	if in.Impersonate != nil && in.Impersonate.Name != "" {
		content = fmt.Sprintf("**%s**: %s", in.Impersonate.Name, content)
	}
	post, _, err := a.client.CreatePost(ctx, &model.Post{ChannelId: channelID, Message: content})
	if err != nil {
		return "", classifyErr(fmt.Errorf("mattermostapp: create post: %w", err))
	}
	return post.Id, nil
}

func (a *Adapter) EditMessage(ctx context.Context, channelID, destMsgID, content string) error {
	_, _, err := a.client.UpdatePost(ctx, destMsgID, &model.Post{ChannelId: channelID, Message: content})
	if err != nil {
		return classifyErr(fmt.Errorf("mattermostapp: update post: %w", err))
	}
	return nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, channelID, destMsgID string) error {
	_, err := a.client.DeletePost(ctx, destMsgID)
	if err != nil {
		return classifyErr(fmt.Errorf("mattermostapp: delete post: %w", err))
	}
	return nil
}

func (a *Adapter) SupportsWebhookEdit() bool { return false }

var _ platform.Adapter = (*Adapter)(nil)
