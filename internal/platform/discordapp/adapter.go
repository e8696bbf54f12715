// Package discordapp implements platform.Adapter for Platform A, modeled on
// Discord: impersonating webhooks with webhook-edit support. Grounded on
// fpt-klein-cli's internal/gateway/discord.go session/handler wiring,
// generalized from an LLM-agent gateway into a bridge adapter.
package discordapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/janus-bridge/janus/internal/bridgeerr"
	"github.com/janus-bridge/janus/internal/canonical"
	"github.com/janus-bridge/janus/internal/platform"
)

// Adapter is the Discord-backed platform.Adapter for Platform A.
type Adapter struct {
	session   *discordgo.Session
	log       zerolog.Logger
	handler   platform.EventHandler
	botUserID string
}

// New builds a disconnected Adapter; call Connect to open the gateway session.
func New(log zerolog.Logger) *Adapter {
	return &Adapter{log: log.With().Str("component", "discord").Logger()}
}

func (a *Adapter) Platform() canonical.Platform { return canonical.PlatformA }

func (a *Adapter) SetEventHandler(h platform.EventHandler) { a.handler = h }

func (a *Adapter) Connect(ctx context.Context, token string) error {
	sess, err := discordgo.New("Bot " + token)
	if err != nil {
		return fmt.Errorf("discordapp: new session: %w", err)
	}
	sess.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	sess.AddHandler(a.handleReady)
	sess.AddHandler(a.handleCreate)
	sess.AddHandler(a.handleUpdate)
	sess.AddHandler(a.handleDelete)

	if err := sess.Open(); err != nil {
		return fmt.Errorf("discordapp: open gateway: %w", err)
	}
	a.session = sess
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	if a.session == nil {
		return nil
	}
	return a.session.Close()
}

func (a *Adapter) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	a.botUserID = r.User.ID
	a.log.Info().Str("user", r.User.Username).Msg("discord gateway connected")
}

func (a *Adapter) handleCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if a.botUserID != "" && m.Author.ID == a.botUserID {
		return
	}
	a.dispatch(canonical.MsgCreate, discordMessageToRaw(m.Message))
}

func (a *Adapter) handleUpdate(s *discordgo.Session, m *discordgo.MessageUpdate) {
	if a.botUserID != "" && m.Author != nil && m.Author.ID == a.botUserID {
		return
	}
	a.dispatch(canonical.MsgUpdate, discordMessageToRaw(m.Message))
}

func (a *Adapter) handleDelete(s *discordgo.Session, m *discordgo.MessageDelete) {
	a.dispatch(canonical.MsgDelete, canonical.RawMessage{
		MessageID: m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
	})
}

func (a *Adapter) dispatch(t canonical.EventType, raw canonical.RawMessage) {
	raw.Type = t
	if a.handler != nil {
		a.handler.HandleRaw(context.Background(), canonical.PlatformA, raw)
	}
}

func discordMessageToRaw(m *discordgo.Message) canonical.RawMessage {
	raw := canonical.RawMessage{
		MessageID: m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		raw.AuthorID = m.Author.ID
		raw.AuthorName = m.Author.Username
		raw.AuthorAvatarHash = m.Author.Avatar
	}
	for _, att := range m.Attachments {
		raw.Attachments = append(raw.Attachments, canonical.RawAttachment{
			URL:         att.URL,
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Size:        int64(att.Size),
		})
	}
	return raw
}

// classifyErr tags a Discord REST error as bridgeerr.KindPermanent when its
// status indicates a genuine refusal (unknown message/channel, missing
// permission) rather than a transient outage. Errors that are not a
// *discordgo.RESTError, or whose status is something else (5xx, 429), pass
// through unclassified so the caller falls back to its default retry kind.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusForbidden, http.StatusNotFound:
			return bridgeerr.New(bridgeerr.KindPermanent, err)
		}
	}
	return err
}

func (a *Adapter) CreateWebhook(ctx context.Context, channelID, name string) (*platform.Webhook, error) {
	wh, err := a.session.WebhookCreate(channelID, name, "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discordapp: create webhook: %w", err)
	}
	return &platform.Webhook{ID: wh.ID, Token: wh.Token}, nil
}

func (a *Adapter) FetchWebhook(ctx context.Context, channelID string) (*platform.Webhook, error) {
	hooks, err := a.session.ChannelWebhooks(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discordapp: fetch webhooks: %w", err)
	}
	for _, wh := range hooks {
		if wh.Token != "" {
			return &platform.Webhook{ID: wh.ID, Token: wh.Token}, nil
		}
	}
	return nil, nil
}

func (a *Adapter) SendWebhook(ctx context.Context, wh platform.Webhook, content, username, avatarURL, channelID string) (string, error) {
	params := &discordgo.WebhookParams{Content: content, Username: username, AvatarURL: avatarURL}
	msg, err := a.session.WebhookExecute(wh.ID, wh.Token, true, params, discordgo.WithContext(ctx))
	if err != nil {
		return "", classifyErr(fmt.Errorf("discordapp: webhook execute: %w", err))
	}
	if msg == nil {
		return "", nil
	}
	return msg.ID, nil
}

func (a *Adapter) EditWebhookMessage(ctx context.Context, wh platform.Webhook, destMsgID, content string) (bool, error) {
	edit := &discordgo.WebhookEdit{Content: &content}
	_, err := a.session.WebhookMessageEdit(wh.ID, wh.Token, destMsgID, edit, discordgo.WithContext(ctx))
	if err != nil {
		return true, classifyErr(fmt.Errorf("discordapp: webhook message edit: %w", err))
	}
	return true, nil
}

func (a *Adapter) DeleteWebhookMessage(ctx context.Context, wh platform.Webhook, destMsgID string) (bool, error) {
	err := a.session.WebhookMessageDelete(wh.ID, wh.Token, destMsgID, discordgo.WithContext(ctx))
	if err != nil {
		return true, classifyErr(fmt.Errorf("discordapp: webhook message delete: %w", err))
	}
	return true, nil
}

func (a *Adapter) SendMessage(ctx context.Context, channelID string, in platform.SendMessageInput) (string, error) {
	content := in.Content
	if in.Impersonate != nil && in.Impersonate.Name != "" {
		content = fmt.Sprintf("**%s**: %s", in.Impersonate.Name, content)
	}
	msg, err := a.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", classifyErr(fmt.Errorf("discordapp: send message: %w", err))
	}
	return msg.ID, nil
}

func (a *Adapter) EditMessage(ctx context.Context, channelID, destMsgID, content string) error {
	_, err := a.session.ChannelMessageEdit(channelID, destMsgID, content, discordgo.WithContext(ctx))
	if err != nil {
		return classifyErr(fmt.Errorf("discordapp: edit message: %w", err))
	}
	return nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, channelID, destMsgID string) error {
	if err := a.session.ChannelMessageDelete(channelID, destMsgID, discordgo.WithContext(ctx)); err != nil {
		return classifyErr(fmt.Errorf("discordapp: delete message: %w", err))
	}
	return nil
}

func (a *Adapter) SupportsWebhookEdit() bool { return true }

var _ platform.Adapter = (*Adapter)(nil)
