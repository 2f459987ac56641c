package matrix

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"geminichat/core"
	"geminichat/core/history"
)

const maxEventAge = 2 * time.Minute

type Dispatcher interface {
	Handle(ctx context.Context, req core.Request) (core.Response, error)
}

type History interface {
	Save(ctx context.Context, c *history.Conversation) error
}

// Adapter connects a logged-in Matrix client to the dispatcher.
type Adapter struct {
	client     *mautrix.Client
	dispatcher Dispatcher
	history    History
	log        zerolog.Logger
	prefix     string
	autoJoin   bool

	pending sync.WaitGroup
}

type Option func(*Adapter)

func WithHistory(h History) Option {
	return func(a *Adapter) { a.history = h }
}

func WithLogger(l zerolog.Logger) Option {
	return func(a *Adapter) { a.log = l }
}

func NewAdapter(client *mautrix.Client, d Dispatcher, cfg Config, opts ...Option) *Adapter {
	a := &Adapter{
		client:     client,
		dispatcher: d,
		log:        zerolog.Nop(),
		prefix:     cfg.CommandPrefix,
		autoJoin:   cfg.AutoJoinInvites,
	}
	if a.prefix == "" {
		a.prefix = DefaultCommandPrefix
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run syncs until ctx is cancelled and waits for in-flight replies.
func (a *Adapter) Run(ctx context.Context) error {
	syncer, ok := a.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: client syncer is not a DefaultSyncer")
	}
	syncer.OnEventType(event.EventMessage, a.handleMessage)
	syncer.OnEventType(event.StateMember, a.handleInvite)

	a.log.Info().Str("user_id", a.client.UserID.String()).Msg("matrix sync started")
	err := a.client.SyncWithContext(ctx)
	a.pending.Wait()
	if ctx.Err() != nil {
		a.log.Info().Msg("matrix sync stopped")
		return nil
	}
	return err
}

func (a *Adapter) handleInvite(ctx context.Context, evt *event.Event) {
	if !a.autoJoin {
		return
	}
	member := evt.Content.AsMember()
	if member.Membership != event.MembershipInvite || evt.GetStateKey() != a.client.UserID.String() {
		return
	}

	l := a.log.With().Str("room_id", evt.RoomID.String()).Str("inviter", evt.Sender.String()).Logger()
	if _, err := a.client.JoinRoom(ctx, evt.RoomID.String(), nil); err != nil {
		l.Error().Err(err).Msg("failed to join room")
		return
	}
	l.Info().Msg("joined room")
	if err := a.sendText(ctx, evt.RoomID, "", "Hello! Send "+a.prefix+"help to see what I can do."); err != nil {
		l.Warn().Err(err).Msg("failed to send greeting")
	}
}

type inbound struct {
	sender string
	body   string
	image  *core.Image
}

func (a *Adapter) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == a.client.UserID || time.Since(time.UnixMilli(evt.Timestamp)) > maxEventAge {
		return
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}

	l := a.log.With().Str("room_id", evt.RoomID.String()).Str("event_id", evt.ID.String()).Logger()
	in := inbound{sender: evt.Sender.String()}

	switch content.MsgType {
	case event.MsgImage:
		in.body = imageCaption(content)
		img, err := a.downloadImage(ctx, content)
		if err != nil {
			l.Warn().Err(err).Msg("failed to download image")
			a.replyAsync(ctx, evt, "⚠️ Failed to download the image.")
			return
		}
		in.image = img
	case event.MsgText:
		cmd, isCmd := ParseCommand(a.prefix, content.Body)
		if !isCmd {
			return
		}
		in.body = content.Body
		if mode, _ := cmd.Mode(); mode == core.ModeVision {
			img, err := a.repliedImage(ctx, evt, content)
			if err != nil {
				l.Warn().Err(err).Msg("failed to load replied image")
			}
			in.image = img
		}
	default:
		return
	}

	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		// Once issued, the provider call runs to completion even during shutdown.
		callCtx := context.WithoutCancel(ctx)
		reply, ok := a.answer(callCtx, in)
		if !ok {
			return
		}
		if err := a.sendText(callCtx, evt.RoomID, evt.ID, reply); err != nil {
			l.Error().Err(err).Msg("failed to send reply")
		}
	}()
}

func (a *Adapter) replyAsync(ctx context.Context, evt *event.Event, text string) {
	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		if err := a.sendText(context.WithoutCancel(ctx), evt.RoomID, evt.ID, text); err != nil {
			a.log.Error().Err(err).Str("room_id", evt.RoomID.String()).Msg("failed to send reply")
		}
	}()
}

// answer resolves a message to reply text. ok is false when the message is
// not addressed to the bot.
func (a *Adapter) answer(ctx context.Context, in inbound) (string, bool) {
	cmd, isCmd := ParseCommand(a.prefix, in.body)
	if in.image != nil && !isCmd {
		prompt := in.body
		if prompt == "" {
			prompt = defaultVisionPrompt
		}
		cmd, isCmd = Command{Name: core.ModeVision.String(), Args: prompt}, true
	}
	if !isCmd {
		return "", false
	}
	if cmd.Name == commandHelp {
		return helpText(a.prefix), true
	}
	mode, ok := cmd.Mode()
	if !ok {
		return fmt.Sprintf("Unknown command %q. Send %shelp for the list.", cmd.Name, a.prefix), true
	}

	req := core.Request{Mode: mode, Prompt: cmd.Args, Image: in.image}
	resp, err := a.dispatcher.Handle(ctx, req)
	if err != nil {
		var cerr *core.Error
		if errors.As(err, &cerr) {
			return "⚠️ " + cerr.Message, true
		}
		return "⚠️ " + err.Error(), true
	}

	if a.history != nil {
		conv := &history.Conversation{UserID: in.sender, Prompt: req.Prompt, Response: resp.Text, Type: mode.String()}
		if err := a.history.Save(ctx, conv); err != nil {
			a.log.Warn().Err(err).Str("user_id", in.sender).Msg("failed to persist conversation")
		}
	}
	return resp.Text, true
}

func (a *Adapter) sendText(ctx context.Context, roomID id.RoomID, replyTo id.EventID, text string) error {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}
	if replyTo != "" {
		content.RelatesTo = &event.RelatesTo{
			InReplyTo: &event.InReplyTo{EventID: replyTo},
		}
	}
	_, err := a.client.SendMessageEvent(ctx, roomID, event.EventMessage, content)
	return err
}

// imageCaption returns the caption of an image message. Clients put the file
// name in body when there is no caption.
func imageCaption(content *event.MessageEventContent) string {
	if content.FileName != "" && content.FileName != content.Body {
		return content.Body
	}
	return ""
}

func (a *Adapter) downloadImage(ctx context.Context, content *event.MessageEventContent) (*core.Image, error) {
	var data []byte
	switch {
	case content.File != nil:
		uri, err := content.File.URL.Parse()
		if err != nil {
			return nil, fmt.Errorf("parse encrypted file url: %w", err)
		}
		data, err = a.client.DownloadBytes(ctx, uri)
		if err != nil {
			return nil, fmt.Errorf("download encrypted file: %w", err)
		}
		if err := content.File.DecryptInPlace(data); err != nil {
			return nil, fmt.Errorf("decrypt file: %w", err)
		}
	case content.URL != "":
		uri, err := content.URL.Parse()
		if err != nil {
			return nil, fmt.Errorf("parse file url: %w", err)
		}
		data, err = a.client.DownloadBytes(ctx, uri)
		if err != nil {
			return nil, fmt.Errorf("download file: %w", err)
		}
	default:
		return nil, errors.New("image event has no url")
	}

	mimeType := ""
	if info := content.GetInfo(); info != nil {
		mimeType = info.MimeType
	}
	if mimeType == "" {
		mimeType = mimetype.Detect(data).String()
	}
	return &core.Image{Data: data, MIMEType: mimeType}, nil
}

// repliedImage loads the image a text message replies to. It returns nil
// without error when the message is not a reply to an image.
func (a *Adapter) repliedImage(ctx context.Context, evt *event.Event, content *event.MessageEventContent) (*core.Image, error) {
	if content.RelatesTo == nil || content.RelatesTo.InReplyTo == nil {
		return nil, nil
	}
	target, err := a.client.GetEvent(ctx, evt.RoomID, content.RelatesTo.InReplyTo.EventID)
	if err != nil {
		return nil, fmt.Errorf("fetch replied event: %w", err)
	}
	target.RoomID = evt.RoomID
	_ = target.Content.ParseRaw(target.Type)

	if target.Type == event.EventEncrypted && a.client.Crypto != nil {
		decrypted, err := a.client.Crypto.Decrypt(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("decrypt replied event: %w", err)
		}
		target = decrypted
		_ = target.Content.ParseRaw(target.Type)
	}

	replied, ok := target.Content.Parsed.(*event.MessageEventContent)
	if !ok || replied.MsgType != event.MsgImage {
		return nil, nil
	}
	return a.downloadImage(ctx, replied)
}
